package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	domain "github.com/Zhima-Mochi/minibilling/internal/domain/customer"
	"github.com/Zhima-Mochi/minibilling/internal/domain/money"
)

type CustomerRepository struct {
	mu        sync.RWMutex
	customers map[string]domain.Customer
	order     []string
}

func NewCustomerRepository() *CustomerRepository {
	return &CustomerRepository{customers: make(map[string]domain.Customer)}
}

func (r *CustomerRepository) Insert(ctx context.Context, currency money.Currency) (domain.Customer, error) {
	_ = ctx
	if _, err := money.ParseCurrency(string(currency)); err != nil {
		return domain.Customer{}, err
	}
	c := domain.Customer{ID: uuid.NewString(), Currency: currency}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(c)
	return c, nil
}

// Put stores c verbatim, replacing any customer with the same ID.
func (r *CustomerRepository) Put(c domain.Customer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(c)
}

func (r *CustomerRepository) put(c domain.Customer) {
	if _, exists := r.customers[c.ID]; !exists {
		r.order = append(r.order, c.ID)
	}
	r.customers[c.ID] = c
}

func (r *CustomerRepository) Get(ctx context.Context, id string) (domain.Customer, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.customers[id]
	if !ok {
		return domain.Customer{}, fmt.Errorf("customer %s: %w", id, domain.ErrNotFound)
	}
	return c, nil
}

func (r *CustomerRepository) List(ctx context.Context) ([]domain.Customer, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Customer, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.customers[id])
	}
	return out, nil
}

package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	domain "github.com/Zhima-Mochi/minibilling/internal/domain/invoice"
)

// InvoiceRepository keeps invoices in process memory. Reads and writes exchange clones so
// callers never alias stored state.
type InvoiceRepository struct {
	mu       sync.RWMutex
	invoices map[string]domain.Invoice
	order    []string
}

func NewInvoiceRepository() *InvoiceRepository {
	return &InvoiceRepository{invoices: make(map[string]domain.Invoice)}
}

func (r *InvoiceRepository) Insert(ctx context.Context, draft domain.Draft) (domain.Invoice, error) {
	_ = ctx
	if draft.CustomerID == "" {
		return domain.Invoice{}, fmt.Errorf("invoice repository: customer id is required")
	}
	inv := domain.Invoice{
		ID:           uuid.NewString(),
		CustomerID:   draft.CustomerID,
		Amount:       draft.Amount,
		Status:       draft.Status,
		CreationTime: draft.CreationTime,
	}
	if inv.Status == "" {
		inv.Status = domain.StatusPending
	}
	if err := inv.Validate(); err != nil {
		return domain.Invoice{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(inv)
	return inv.Clone(), nil
}

// Put stores inv verbatim, replacing any invoice with the same ID.
func (r *InvoiceRepository) Put(inv domain.Invoice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(inv.Clone())
}

func (r *InvoiceRepository) put(inv domain.Invoice) {
	if _, exists := r.invoices[inv.ID]; !exists {
		r.order = append(r.order, inv.ID)
	}
	r.invoices[inv.ID] = inv
}

func (r *InvoiceRepository) Get(ctx context.Context, id string) (domain.Invoice, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	inv, ok := r.invoices[id]
	if !ok {
		return domain.Invoice{}, fmt.Errorf("invoice %s: %w", id, domain.ErrNotFound)
	}
	return inv.Clone(), nil
}

// List returns matching invoices ordered by creation time, then insertion order.
func (r *InvoiceRepository) List(ctx context.Context, filter domain.Filter) ([]domain.Invoice, error) {
	_ = ctx

	r.mu.RLock()
	out := make([]domain.Invoice, 0, len(r.order))
	for _, id := range r.order {
		inv := r.invoices[id]
		if filter.Matches(inv) {
			out = append(out, inv.Clone())
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreationTime.Before(out[j].CreationTime)
	})
	return out, nil
}

// Update persists the status and retry time of inv. Identity, amount and creation time are
// owned by the store and never overwritten.
func (r *InvoiceRepository) Update(ctx context.Context, inv domain.Invoice) (domain.Invoice, error) {
	_ = ctx
	if inv.ID == "" {
		return domain.Invoice{}, fmt.Errorf("invoice repository: id is required")
	}
	if err := inv.Validate(); err != nil {
		return domain.Invoice{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.invoices[inv.ID]
	if !ok {
		return domain.Invoice{}, fmt.Errorf("invoice %s: %w", inv.ID, domain.ErrNotFound)
	}
	next := inv.Clone()
	stored.Status = next.Status
	stored.RetryPaymentTime = next.RetryPaymentTime
	r.invoices[inv.ID] = stored
	return stored.Clone(), nil
}

package customer

import (
	"context"
	"errors"

	"github.com/Zhima-Mochi/minibilling/internal/domain/money"
)

var ErrNotFound = errors.New("customer: not found")

// Customer settles every invoice in a single currency fixed at creation.
type Customer struct {
	ID       string
	Currency money.Currency
}

type Repository interface {
	Get(ctx context.Context, id string) (Customer, error)
	List(ctx context.Context) ([]Customer, error)
	Insert(ctx context.Context, currency money.Currency) (Customer, error)
}

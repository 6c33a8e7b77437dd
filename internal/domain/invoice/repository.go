package invoice

import (
	"context"
	"time"

	"github.com/Zhima-Mochi/minibilling/internal/domain/money"
)

// Filter narrows List results. Zero fields do not filter.
type Filter struct {
	Statuses []Status
	// CreatedBefore keeps invoices whose creation time is strictly earlier.
	CreatedBefore *time.Time
	// RetryDueBy keeps invoices with a non-nil retry time at or before this instant.
	RetryDueBy *time.Time
}

// Matches applies the filter to a single snapshot.
func (f Filter) Matches(inv Invoice) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if inv.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.CreatedBefore != nil && !inv.CreationTime.Before(*f.CreatedBefore) {
		return false
	}
	if f.RetryDueBy != nil {
		if inv.RetryPaymentTime == nil || inv.RetryPaymentTime.After(*f.RetryDueBy) {
			return false
		}
	}
	return true
}

// Draft describes an invoice to be created by the store.
type Draft struct {
	CustomerID   string
	Amount       money.Money
	Status       Status
	CreationTime time.Time
}

type Repository interface {
	Get(ctx context.Context, id string) (Invoice, error)
	List(ctx context.Context, filter Filter) ([]Invoice, error)
	// Update persists status and retry time and returns the stored snapshot.
	Update(ctx context.Context, inv Invoice) (Invoice, error)
	Insert(ctx context.Context, draft Draft) (Invoice, error)
}

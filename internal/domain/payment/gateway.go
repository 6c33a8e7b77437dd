package payment

import (
	"context"

	"github.com/Zhima-Mochi/minibilling/internal/domain/invoice"
)

// Gateway charges a customer's account through the external payment provider.
//
// Charge returns true when the charge succeeded and false when the account balance did not
// cover the invoice. Any other failure is returned as an error, ideally a *Error so the
// caller can pick a retry policy from its Kind.
type Gateway interface {
	Charge(ctx context.Context, inv invoice.Invoice) (bool, error)
}

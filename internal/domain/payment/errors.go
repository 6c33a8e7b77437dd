package payment

import (
	"errors"
	"fmt"
)

// Kind classifies gateway failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindCurrencyMismatch
	KindCustomerNotFound
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindCurrencyMismatch:
		return "currency_mismatch"
	case KindCustomerNotFound:
		return "customer_not_found"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Error is a classified gateway failure.
type Error struct {
	Kind      Kind
	InvoiceID string
	Err       error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("payment: %s (invoice %s)", e.Kind, e.InvoiceID)
	}
	return fmt.Sprintf("payment: %s (invoice %s): %v", e.Kind, e.InvoiceID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func NewCurrencyMismatch(invoiceID string, err error) error {
	return &Error{Kind: KindCurrencyMismatch, InvoiceID: invoiceID, Err: err}
}

func NewCustomerNotFound(invoiceID string, err error) error {
	return &Error{Kind: KindCustomerNotFound, InvoiceID: invoiceID, Err: err}
}

func NewNetworkError(invoiceID string, err error) error {
	return &Error{Kind: KindNetwork, InvoiceID: invoiceID, Err: err}
}

// KindOf extracts the classification of err, KindUnknown when err is not a *Error.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindUnknown
}

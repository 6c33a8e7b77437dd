package invoice

import (
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minibilling/internal/domain/money"
)

// Invoice is an immutable snapshot. Transition methods return a new snapshot and never
// modify the receiver; only the store holds the durable state.
type Invoice struct {
	ID               string
	CustomerID       string
	Amount           money.Money
	Status           Status
	CreationTime     time.Time
	RetryPaymentTime *time.Time
}

// Ready marks the invoice as validated and payable.
func (inv Invoice) Ready() (Invoice, error) {
	return inv.next(StatusReady, nil)
}

// Claim marks the invoice as in flight until the given deadline.
func (inv Invoice) Claim(until time.Time) (Invoice, error) {
	return inv.next(StatusProcessing, &until)
}

// Fail marks the invoice as failed. A nil retryAt means no automatic retry.
func (inv Invoice) Fail(retryAt *time.Time) (Invoice, error) {
	return inv.next(StatusFailed, retryAt)
}

// Paid settles the invoice.
func (inv Invoice) Paid() (Invoice, error) {
	return inv.next(StatusPaid, nil)
}

func (inv Invoice) next(to Status, retryAt *time.Time) (Invoice, error) {
	if !CanTransition(inv.Status, to) {
		return Invoice{}, fmt.Errorf("%w: %s %s -> %s", ErrInvalidStateTransition, inv.ID, inv.Status, to)
	}
	out := inv
	out.Status = to
	out.RetryPaymentTime = nil
	if retryAt != nil && holdsRetryTime(to) {
		t := *retryAt
		out.RetryPaymentTime = &t
	}
	return out, nil
}

// Validate checks the snapshot-level invariants every persisted invoice must satisfy.
func (inv Invoice) Validate() error {
	if _, err := ParseStatus(string(inv.Status)); err != nil {
		return err
	}
	if inv.Amount.Value.IsNegative() {
		return ErrInvalidAmount
	}
	if inv.RetryPaymentTime != nil && !holdsRetryTime(inv.Status) {
		return fmt.Errorf("%w: %s is %s", ErrRetryTimeInvariant, inv.ID, inv.Status)
	}
	return nil
}

// Clone returns a copy that shares no pointers with inv.
func (inv Invoice) Clone() Invoice {
	out := inv
	if inv.RetryPaymentTime != nil {
		t := *inv.RetryPaymentTime
		out.RetryPaymentTime = &t
	}
	return out
}

package invoice

import (
	"fmt"
	"time"
)

// StartOfMonth returns the first instant of now's calendar month in now's location.
func StartOfMonth(now time.Time) time.Time {
	y, m, _ := now.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
}

// IsDue reports whether the invoice was created before the current billing month began.
func (inv Invoice) IsDue(now time.Time) bool {
	return inv.CreationTime.Before(StartOfMonth(now))
}

// CheckPayable is the billing guard: paid, in-flight and not-yet-due invoices are rejected.
func (inv Invoice) CheckPayable(now time.Time) error {
	switch {
	case inv.Status == StatusPaid:
		return fmt.Errorf("invoice %s: %w", inv.ID, ErrAlreadyPaid)
	case inv.Status == StatusProcessing:
		return fmt.Errorf("invoice %s: %w", inv.ID, ErrAlreadyInProcess)
	case !inv.IsDue(now):
		return fmt.Errorf("invoice %s: %w", inv.ID, ErrNotDue)
	}
	return nil
}

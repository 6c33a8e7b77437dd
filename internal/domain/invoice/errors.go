package invoice

import "errors"

var (
	ErrNotFound               = errors.New("invoice: not found")
	ErrAlreadyPaid            = errors.New("invoice: already paid")
	ErrAlreadyInProcess       = errors.New("invoice: already in process")
	ErrNotDue                 = errors.New("invoice: not yet due for payment")
	ErrNotRetryable           = errors.New("invoice: only FAILED invoices can be retried")
	ErrInvalidStateTransition = errors.New("invoice: invalid state transition")
	ErrInvalidStatus          = errors.New("invoice: invalid status")
	ErrInvalidAmount          = errors.New("invoice: amount must be zero or greater")
	ErrRetryTimeInvariant     = errors.New("invoice: retry payment time set outside FAILED/PROCESSING")
)

package billing

import (
	"github.com/Zhima-Mochi/minibilling/internal/domain/payment"
)

// Outcome is the classified result of one charge attempt.
type Outcome int

const (
	OutcomePaid Outcome = iota
	OutcomeInsufficientFunds
	OutcomeCurrencyMismatch
	OutcomeCustomerNotFound
	OutcomeNetworkError
	OutcomeUnknownError
)

func (o Outcome) String() string {
	switch o {
	case OutcomePaid:
		return "paid"
	case OutcomeInsufficientFunds:
		return "insufficient_funds"
	case OutcomeCurrencyMismatch:
		return "currency_mismatch"
	case OutcomeCustomerNotFound:
		return "customer_not_found"
	case OutcomeNetworkError:
		return "network_error"
	default:
		return "unknown_error"
	}
}

// Classify maps a gateway result onto an Outcome.
func Classify(charged bool, err error) Outcome {
	if err == nil {
		if charged {
			return OutcomePaid
		}
		return OutcomeInsufficientFunds
	}
	switch payment.KindOf(err) {
	case payment.KindCurrencyMismatch:
		return OutcomeCurrencyMismatch
	case payment.KindCustomerNotFound:
		return OutcomeCustomerNotFound
	case payment.KindNetwork:
		return OutcomeNetworkError
	default:
		return OutcomeUnknownError
	}
}

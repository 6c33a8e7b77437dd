package invoice_test

import (
	"testing"
	"time"

	"github.com/Zhima-Mochi/minibilling/internal/domain/invoice"
	"github.com/Zhima-Mochi/minibilling/internal/domain/money"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, time.March, 15, 10, 30, 0, 0, time.UTC)

func sample(status invoice.Status) invoice.Invoice {
	return invoice.Invoice{
		ID:           "inv-1",
		CustomerID:   "cus-1",
		Amount:       money.New(decimal.RequireFromString("500"), money.EUR),
		Status:       status,
		CreationTime: time.Date(2024, time.February, 10, 0, 0, 0, 0, time.UTC),
	}
}

func TestTransitions_ReturnNewSnapshot(t *testing.T) {
	orig := sample(invoice.StatusReady)

	claimed, err := orig.Claim(now.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, invoice.StatusReady, orig.Status)
	assert.Nil(t, orig.RetryPaymentTime)
	assert.Equal(t, invoice.StatusProcessing, claimed.Status)
	require.NotNil(t, claimed.RetryPaymentTime)
	assert.Equal(t, now.Add(time.Hour), *claimed.RetryPaymentTime)
}

func TestPaid_ClearsRetryTime(t *testing.T) {
	claimed, err := sample(invoice.StatusReady).Claim(now)
	require.NoError(t, err)

	paid, err := claimed.Paid()
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, paid.Status)
	assert.Nil(t, paid.RetryPaymentTime)
	assert.NoError(t, paid.Validate())
}

func TestReady_ClearsRetryTime(t *testing.T) {
	retry := now.Add(24 * time.Hour)
	failed := sample(invoice.StatusFailed)
	failed.RetryPaymentTime = &retry

	ready, err := failed.Ready()
	require.NoError(t, err)
	assert.Nil(t, ready.RetryPaymentTime)
}

func TestTransitions_RejectsInvalidMoves(t *testing.T) {
	_, err := sample(invoice.StatusPaid).Fail(nil)
	assert.ErrorIs(t, err, invoice.ErrInvalidStateTransition)

	_, err = sample(invoice.StatusReady).Paid()
	assert.ErrorIs(t, err, invoice.ErrInvalidStateTransition)

	_, err = sample(invoice.StatusProcessing).Ready()
	assert.ErrorIs(t, err, invoice.ErrInvalidStateTransition)
}

func TestRetryTimeInvariant_HoldsAcrossGraph(t *testing.T) {
	retry := now
	for _, from := range invoice.Statuses {
		for _, to := range invoice.Statuses {
			if !invoice.CanTransition(from, to) {
				continue
			}
			src := sample(from)
			var (
				out invoice.Invoice
				err error
			)
			switch to {
			case invoice.StatusReady:
				out, err = src.Ready()
			case invoice.StatusProcessing:
				out, err = src.Claim(retry)
			case invoice.StatusFailed:
				out, err = src.Fail(&retry)
			case invoice.StatusPaid:
				out, err = src.Paid()
			}
			require.NoError(t, err, "%s -> %s", from, to)
			assert.NoError(t, out.Validate(), "%s -> %s", from, to)
			if out.RetryPaymentTime != nil {
				assert.Contains(t, []invoice.Status{invoice.StatusFailed, invoice.StatusProcessing}, out.Status)
			}
		}
	}
}

func TestValidate_RejectsRetryTimeOnReady(t *testing.T) {
	inv := sample(invoice.StatusReady)
	inv.RetryPaymentTime = &now
	assert.ErrorIs(t, inv.Validate(), invoice.ErrRetryTimeInvariant)
}

func TestParseStatus(t *testing.T) {
	s, err := invoice.ParseStatus("failed")
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusFailed, s)

	_, err = invoice.ParseStatus("lost")
	assert.ErrorIs(t, err, invoice.ErrInvalidStatus)
}

func TestClone_DoesNotShareRetryPointer(t *testing.T) {
	retry := now
	inv := sample(invoice.StatusFailed)
	inv.RetryPaymentTime = &retry

	c := inv.Clone()
	*c.RetryPaymentTime = now.Add(time.Hour)
	assert.Equal(t, now, *inv.RetryPaymentTime)
}

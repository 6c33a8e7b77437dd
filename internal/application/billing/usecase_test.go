package billing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/minibilling/internal/application"
	"github.com/Zhima-Mochi/minibilling/internal/application/apptest"
	"github.com/Zhima-Mochi/minibilling/internal/application/billing"
	"github.com/Zhima-Mochi/minibilling/internal/domain/invoice"
	"github.com/Zhima-Mochi/minibilling/internal/domain/money"
	"github.com/Zhima-Mochi/minibilling/internal/domain/payment"
	"github.com/Zhima-Mochi/minibilling/internal/infrastructure/memory"
)

var now = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

// countingRepo counts writes on top of the in-memory store.
type countingRepo struct {
	*memory.InvoiceRepository
	updates []invoice.Invoice
	// failOn makes the n-th Update (1-based) fail without writing.
	failOn int
}

var errStoreDown = errors.New("store unavailable")

func (r *countingRepo) Update(ctx context.Context, inv invoice.Invoice) (invoice.Invoice, error) {
	r.updates = append(r.updates, inv.Clone())
	if r.failOn == len(r.updates) {
		return invoice.Invoice{}, errStoreDown
	}
	return r.InvoiceRepository.Update(ctx, inv)
}

type fixture struct {
	repo     *countingRepo
	gateway  *apptest.Gateway
	notifier *apptest.Notifier
	uc       *billing.UseCase
}

func newFixture() *fixture {
	f := &fixture{
		repo:     &countingRepo{InvoiceRepository: memory.NewInvoiceRepository()},
		gateway:  &apptest.Gateway{},
		notifier: (&apptest.Notifier{}).AllowAll(),
	}
	f.uc = billing.New(f.repo, f.gateway, f.notifier, application.FixedClock(now), billing.DefaultPolicy(), nil)
	return f
}

func (f *fixture) put(id string, status invoice.Status, created time.Time) invoice.Invoice {
	inv := invoice.Invoice{
		ID:           id,
		CustomerID:   "c-1",
		Amount:       money.New(decimal.RequireFromString("99.90"), money.EUR),
		Status:       status,
		CreationTime: created,
	}
	f.repo.Put(inv)
	return inv
}

var lastMonth = time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC)

func TestProcessAndSave_Paid(t *testing.T) {
	f := newFixture()
	inv := f.put("i-1", invoice.StatusReady, lastMonth)
	f.gateway.On("Charge", "i-1").Return(true, nil).Once()

	got, err := f.uc.ProcessAndSave(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, got.Status)
	assert.Nil(t, got.RetryPaymentTime)

	require.Len(t, f.repo.updates, 2)
	assert.Equal(t, invoice.StatusProcessing, f.repo.updates[0].Status)
	assert.True(t, f.repo.updates[0].RetryPaymentTime.Equal(now.Add(time.Hour)))

	f.gateway.AssertNumberOfCalls(t, "Charge", 1)
	f.notifier.AssertCalled(t, "NotifyAccountOwner", "c-1", "i-1", "Invoice of 99.90 EUR paid successfully")
	assert.Zero(t, f.notifier.Count("NotifyAdministrator"))
}

func TestProcessAndSave_ClaimPersistedBeforeCharge(t *testing.T) {
	f := newFixture()
	inv := f.put("i-claim", invoice.StatusReady, lastMonth)

	var seen invoice.Invoice
	f.gateway.On("Charge", "i-claim").Run(func(mock.Arguments) {
		stored, err := f.repo.Get(context.Background(), "i-claim")
		require.NoError(t, err)
		seen = stored
	}).Return(true, nil).Once()

	_, err := f.uc.ProcessAndSave(context.Background(), inv)
	require.NoError(t, err)

	assert.Equal(t, invoice.StatusProcessing, seen.Status)
	require.NotNil(t, seen.RetryPaymentTime)
	assert.True(t, seen.RetryPaymentTime.Equal(now.Add(time.Hour)))
}

func TestProcessAndSave_FinalSaveFailureLeavesClaim(t *testing.T) {
	f := newFixture()
	f.repo.failOn = 2
	inv := f.put("i-crash", invoice.StatusReady, lastMonth)
	f.gateway.On("Charge", "i-crash").Return(true, nil).Once()

	_, err := f.uc.ProcessAndSave(context.Background(), inv)
	require.ErrorIs(t, err, errStoreDown)

	stored, err := f.repo.Get(context.Background(), "i-crash")
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusProcessing, stored.Status)
	require.NotNil(t, stored.RetryPaymentTime)
	assert.True(t, stored.RetryPaymentTime.Equal(now.Add(time.Hour)))

	// the guard keeps a second run away until the retry sweep releases it
	_, err = f.uc.ProcessAndSave(context.Background(), stored)
	require.ErrorIs(t, err, invoice.ErrAlreadyInProcess)
	f.gateway.AssertNumberOfCalls(t, "Charge", 1)
}

func TestProcessAndSave_PaidAfterFailureNotifiesAdmin(t *testing.T) {
	f := newFixture()
	inv := f.put("i-2", invoice.StatusFailed, lastMonth)
	f.gateway.On("Charge", "i-2").Return(true, nil).Once()

	got, err := f.uc.ProcessAndSave(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, got.Status)
	f.notifier.AssertCalled(t, "NotifyAdministrator", "i-2", "Errors resolved and invoice paid")
	assert.Equal(t, 1, f.notifier.Count("NotifyAccountOwner"))
}

func TestProcessAndSave_InsufficientFunds(t *testing.T) {
	f := newFixture()
	inv := f.put("i-3", invoice.StatusPending, lastMonth)
	f.gateway.On("Charge", "i-3").Return(false, nil).Once()

	got, err := f.uc.ProcessAndSave(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusFailed, got.Status)
	require.NotNil(t, got.RetryPaymentTime)
	assert.True(t, got.RetryPaymentTime.Equal(now.Add(24*time.Hour)))
	f.notifier.AssertCalled(t, "NotifyAccountOwner", "c-1", "i-3",
		"Insufficient funds to pay invoice. Amount due: 99.90 EUR")
	f.notifier.AssertCalled(t, "NotifyAdministrator", "i-3", "Invoice not paid due to insufficient funds")
}

func TestProcessAndSave_ClassifiedErrors(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		wantRetry *time.Duration
	}{
		{name: "network", err: payment.NewNetworkError("i", errors.New("timeout")), wantRetry: ptr(time.Hour)},
		{name: "currency mismatch", err: payment.NewCurrencyMismatch("i", nil)},
		{name: "customer not found", err: payment.NewCustomerNotFound("i", nil)},
		{name: "unknown", err: errors.New("boom")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			inv := f.put("i", invoice.StatusReady, lastMonth)
			f.gateway.On("Charge", "i").Return(false, tc.err).Once()

			got, err := f.uc.ProcessAndSave(context.Background(), inv)
			require.NoError(t, err)
			assert.Equal(t, invoice.StatusFailed, got.Status)
			if tc.wantRetry == nil {
				assert.Nil(t, got.RetryPaymentTime)
			} else {
				require.NotNil(t, got.RetryPaymentTime)
				assert.True(t, got.RetryPaymentTime.Equal(now.Add(*tc.wantRetry)))
			}
			assert.Equal(t, 1, f.notifier.Count("NotifyAdministrator"))
			assert.Zero(t, f.notifier.Count("NotifyAccountOwner"))
			assert.Len(t, f.repo.updates, 2)
		})
	}
}

func TestProcessAndSave_GuardRejectsWithoutWrites(t *testing.T) {
	cases := []struct {
		name    string
		status  invoice.Status
		created time.Time
		want    error
	}{
		{name: "paid", status: invoice.StatusPaid, created: lastMonth, want: invoice.ErrAlreadyPaid},
		{name: "processing", status: invoice.StatusProcessing, created: lastMonth, want: invoice.ErrAlreadyInProcess},
		{name: "not due", status: invoice.StatusReady, created: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), want: invoice.ErrNotDue},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			inv := f.put("i", tc.status, tc.created)

			_, err := f.uc.ProcessAndSave(context.Background(), inv)
			assert.ErrorIs(t, err, tc.want)
			assert.Empty(t, f.repo.updates)
			f.gateway.AssertNotCalled(t, "Charge", mock.Anything)
			assert.Empty(t, f.notifier.Calls)
		})
	}
}

func TestProcessAndSave_StaleSnapshotUsesStoredStatus(t *testing.T) {
	f := newFixture()
	inv := f.put("i-4", invoice.StatusReady, lastMonth)
	paid := inv
	paid.Status = invoice.StatusPaid
	f.repo.Put(paid)

	_, err := f.uc.ProcessAndSave(context.Background(), inv)
	assert.ErrorIs(t, err, invoice.ErrAlreadyPaid)
	f.gateway.AssertNotCalled(t, "Charge", mock.Anything)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, billing.OutcomePaid, billing.Classify(true, nil))
	assert.Equal(t, billing.OutcomeInsufficientFunds, billing.Classify(false, nil))
	assert.Equal(t, billing.OutcomeNetworkError, billing.Classify(false, payment.NewNetworkError("i", nil)))
	assert.Equal(t, billing.OutcomeUnknownError, billing.Classify(true, errors.New("x")))
}

func ptr(d time.Duration) *time.Duration { return &d }

package validation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/minibilling/internal/application/apptest"
	"github.com/Zhima-Mochi/minibilling/internal/application/validation"
	"github.com/Zhima-Mochi/minibilling/internal/domain/customer"
	"github.com/Zhima-Mochi/minibilling/internal/domain/invoice"
	"github.com/Zhima-Mochi/minibilling/internal/domain/money"
	"github.com/Zhima-Mochi/minibilling/internal/infrastructure/memory"
)

type fixture struct {
	invoices  *memory.InvoiceRepository
	customers *memory.CustomerRepository
	notifier  *apptest.Notifier
	uc        *validation.UseCase
}

func newFixture() *fixture {
	f := &fixture{
		invoices:  memory.NewInvoiceRepository(),
		customers: memory.NewCustomerRepository(),
		notifier:  (&apptest.Notifier{}).AllowAll(),
	}
	f.customers.Put(customer.Customer{ID: "c-eur", Currency: money.EUR})
	f.uc = validation.New(f.invoices, f.customers, f.notifier, nil)
	return f
}

func (f *fixture) invoice(id, customerID string, currency money.Currency, status invoice.Status) invoice.Invoice {
	inv := invoice.Invoice{
		ID:           id,
		CustomerID:   customerID,
		Amount:       money.New(decimal.NewFromInt(120), currency),
		Status:       status,
		CreationTime: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	f.invoices.Put(inv)
	return inv
}

func TestValidateAndSave_Ready(t *testing.T) {
	f := newFixture()
	inv := f.invoice("i-1", "c-eur", money.EUR, invoice.StatusPending)

	got, err := f.uc.ValidateAndSave(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusReady, got.Status)
	assert.Nil(t, got.RetryPaymentTime)
	assert.Zero(t, f.notifier.Count("NotifyAdministrator"))

	stored, err := f.invoices.Get(context.Background(), "i-1")
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusReady, stored.Status)
}

func TestValidateAndSave_CurrencyMismatch(t *testing.T) {
	f := newFixture()
	inv := f.invoice("i-2", "c-eur", money.USD, invoice.StatusPending)

	got, err := f.uc.ValidateAndSave(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusFailed, got.Status)
	assert.Nil(t, got.RetryPaymentTime)
	assert.Equal(t, 1, f.notifier.Count("NotifyAdministrator"))
	assert.Zero(t, f.notifier.Count("NotifyAccountOwner"))
	f.notifier.AssertCalled(t, "NotifyAdministrator", "i-2",
		"Invoice currency (USD) does not match account currency (EUR)")
}

func TestValidateAndSave_CustomerNotFound(t *testing.T) {
	f := newFixture()
	inv := f.invoice("i-3", "ghost", money.EUR, invoice.StatusPending)

	got, err := f.uc.ValidateAndSave(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusFailed, got.Status)
	assert.Nil(t, got.RetryPaymentTime)
	f.notifier.AssertCalled(t, "NotifyAdministrator", "i-3",
		"Invoice associated with account that was not found: ghost")
}

type brokenCustomers struct{ customer.Repository }

func (brokenCustomers) Get(context.Context, string) (customer.Customer, error) {
	return customer.Customer{}, errors.New("connection refused")
}

func TestValidate_LookupErrorFailsInvoice(t *testing.T) {
	f := newFixture()
	uc := validation.New(f.invoices, brokenCustomers{}, f.notifier, nil)
	inv := f.invoice("i-4", "c-eur", money.EUR, invoice.StatusPending)

	got, err := uc.Validate(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusFailed, got.Status)
	f.notifier.AssertCalled(t, "NotifyAdministrator", "i-4",
		"Invoice pre-validation failed for unknown reason: connection refused")
}

func TestValidate_RejectsPaidAndProcessing(t *testing.T) {
	f := newFixture()

	_, err := f.uc.ValidateAndSave(context.Background(), f.invoice("i-5", "c-eur", money.EUR, invoice.StatusPaid))
	assert.ErrorIs(t, err, invoice.ErrAlreadyPaid)

	_, err = f.uc.ValidateAndSave(context.Background(), f.invoice("i-6", "c-eur", money.EUR, invoice.StatusProcessing))
	assert.ErrorIs(t, err, invoice.ErrAlreadyInProcess)

	f.notifier.AssertNotCalled(t, "NotifyAdministrator", mock.Anything, mock.Anything)
}

func TestValidate_FailedSelfHeals(t *testing.T) {
	f := newFixture()
	retry := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	inv := f.invoice("i-7", "c-eur", money.EUR, invoice.StatusFailed)
	inv.RetryPaymentTime = &retry

	got, err := f.uc.Validate(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusReady, got.Status)
	assert.Nil(t, got.RetryPaymentTime)
}

func TestValidate_Idempotent(t *testing.T) {
	f := newFixture()
	inv := f.invoice("i-8", "c-eur", money.EUR, invoice.StatusPending)

	first, err := f.uc.ValidateAndSave(context.Background(), inv)
	require.NoError(t, err)
	second, err := f.uc.ValidateAndSave(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	mismatch := f.invoice("i-9", "c-eur", money.GBP, invoice.StatusPending)
	first, err = f.uc.ValidateAndSave(context.Background(), mismatch)
	require.NoError(t, err)
	second, err = f.uc.ValidateAndSave(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
}

func TestValidateAndSave_StaleSnapshotKeepsClaim(t *testing.T) {
	f := newFixture()
	stale := f.invoice("i-10", "c-eur", money.EUR, invoice.StatusPending)

	deadline := time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC)
	claimed := stale
	claimed.Status = invoice.StatusProcessing
	claimed.RetryPaymentTime = &deadline
	f.invoices.Put(claimed)

	_, err := f.uc.ValidateAndSave(context.Background(), stale)
	require.ErrorIs(t, err, invoice.ErrAlreadyInProcess)

	stored, err := f.invoices.Get(context.Background(), "i-10")
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusProcessing, stored.Status)
	require.NotNil(t, stored.RetryPaymentTime)
	assert.True(t, deadline.Equal(*stored.RetryPaymentTime))
	f.notifier.AssertNotCalled(t, "NotifyAdministrator", mock.Anything, mock.Anything)
}

func TestValidateAndSave_UnknownInvoice(t *testing.T) {
	f := newFixture()
	ghost := invoice.Invoice{ID: "missing", CustomerID: "c-eur", Status: invoice.StatusPending,
		Amount: money.New(decimal.NewFromInt(1), money.EUR)}

	_, err := f.uc.ValidateAndSave(context.Background(), ghost)
	require.ErrorIs(t, err, invoice.ErrNotFound)
}

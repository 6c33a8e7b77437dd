package httppresentation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/minibilling/internal/application/sweep"
	domcustomer "github.com/Zhima-Mochi/minibilling/internal/domain/customer"
	dominvoice "github.com/Zhima-Mochi/minibilling/internal/domain/invoice"
	"github.com/Zhima-Mochi/minibilling/internal/domain/money"
	workerpresentation "github.com/Zhima-Mochi/minibilling/internal/presentation/worker"
)

type stubInvoices struct {
	byID     map[string]dominvoice.Invoice
	retryErr error
	listed   []dominvoice.Status
}

func (s *stubInvoices) Fetch(_ context.Context, id string) (dominvoice.Invoice, error) {
	inv, ok := s.byID[id]
	if !ok {
		return dominvoice.Invoice{}, fmt.Errorf("get %s: %w", id, dominvoice.ErrNotFound)
	}
	return inv, nil
}

func (s *stubInvoices) List(_ context.Context, statuses ...dominvoice.Status) ([]dominvoice.Invoice, error) {
	s.listed = statuses
	out := make([]dominvoice.Invoice, 0, len(s.byID))
	for _, inv := range s.byID {
		out = append(out, inv)
	}
	return out, nil
}

func (s *stubInvoices) Retry(ctx context.Context, id string) (dominvoice.Invoice, error) {
	if s.retryErr != nil {
		return dominvoice.Invoice{}, s.retryErr
	}
	inv, err := s.Fetch(ctx, id)
	if err != nil {
		return inv, err
	}
	inv.Status = dominvoice.StatusPaid
	return inv, nil
}

func (s *stubInvoices) Validate(ctx context.Context, id string) (dominvoice.Invoice, error) {
	inv, err := s.Fetch(ctx, id)
	if err != nil {
		return inv, err
	}
	inv.Status = dominvoice.StatusReady
	return inv, nil
}

func (s *stubInvoices) IsDue(inv dominvoice.Invoice) bool {
	return inv.IsDue(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))
}

type stubCustomers struct{}

func (stubCustomers) Fetch(_ context.Context, id string) (domcustomer.Customer, error) {
	if id != "c-1" {
		return domcustomer.Customer{}, domcustomer.ErrNotFound
	}
	return domcustomer.Customer{ID: "c-1", Currency: money.DKK}, nil
}

func (stubCustomers) List(context.Context) ([]domcustomer.Customer, error) {
	return []domcustomer.Customer{{ID: "c-1", Currency: money.DKK}}, nil
}

type stubJobs struct {
	err error
}

func (s stubJobs) Jobs() []workerpresentation.JobInfo {
	return []workerpresentation.JobInfo{{Name: sweep.NamePayment, Schedule: "0 0 0 1 * *", State: workerpresentation.StateIdle}}
}

func (s stubJobs) RunNow(_ context.Context, name string) (sweep.Report, error) {
	if s.err != nil {
		return sweep.Report{}, s.err
	}
	return sweep.Report{Sweep: name, Fetched: 2, Succeeded: 2}, nil
}

func newTestRouter(inv *stubInvoices, jobs JobRunner) http.Handler {
	return NewHandler(inv, stubCustomers{}, jobs, nil).Router()
}

func sampleInvoices() *stubInvoices {
	return &stubInvoices{byID: map[string]dominvoice.Invoice{
		"inv-1": {
			ID:           "inv-1",
			CustomerID:   "c-1",
			Amount:       money.New(decimal.RequireFromString("99.9"), money.DKK),
			Status:       dominvoice.StatusFailed,
			CreationTime: time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC),
		},
	}}
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestRouter(sampleInvoices(), nil), http.MethodGet, "/rest/health")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "\"ok\"\n", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))
}

func TestRequestIDEchoed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/rest/health", nil)
	req.Header.Set(headerRequestID, "rid-42")
	rec := httptest.NewRecorder()

	newTestRouter(sampleInvoices(), nil).ServeHTTP(rec, req)

	assert.Equal(t, "rid-42", rec.Header().Get(headerRequestID))
}

func TestGetInvoice(t *testing.T) {
	rec := do(t, newTestRouter(sampleInvoices(), nil), http.MethodGet, "/rest/v1/invoices/inv-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var body invoiceResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "inv-1", body.ID)
	assert.Equal(t, "99.90", body.Amount.Value)
	assert.Equal(t, "DKK", body.Amount.Currency)
	assert.Equal(t, "FAILED", body.Status)
	assert.Nil(t, body.RetryPaymentTime)
	assert.True(t, body.Due)
}

func TestGetInvoiceNotFound(t *testing.T) {
	rec := do(t, newTestRouter(sampleInvoices(), nil), http.MethodGet, "/rest/v1/invoices/missing")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not found")
}

func TestListInvoicesStatusFilter(t *testing.T) {
	inv := sampleInvoices()
	h := newTestRouter(inv, nil)

	rec := do(t, h, http.MethodGet, "/rest/v1/invoices?status=failed")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []dominvoice.Status{dominvoice.StatusFailed}, inv.listed)

	var body []invoiceResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Len(t, body, 1)

	rec = do(t, h, http.MethodGet, "/rest/v1/invoices?status=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetryInvoice(t *testing.T) {
	t.Run("paid", func(t *testing.T) {
		rec := do(t, newTestRouter(sampleInvoices(), nil), http.MethodPost, "/rest/v1/invoices/inv-1/retry")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"PAID"`)
	})

	t.Run("guard rejection is a client error", func(t *testing.T) {
		inv := sampleInvoices()
		inv.retryErr = fmt.Errorf("invoice inv-1: %w", dominvoice.ErrNotRetryable)
		rec := do(t, newTestRouter(inv, nil), http.MethodPost, "/rest/v1/invoices/inv-1/retry")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "only FAILED invoices can be retried")
	})

	t.Run("unexpected errors are hidden", func(t *testing.T) {
		inv := sampleInvoices()
		inv.retryErr = fmt.Errorf("connection reset")
		rec := do(t, newTestRouter(inv, nil), http.MethodPost, "/rest/v1/invoices/inv-1/retry")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "connection reset")
	})

	t.Run("wrong method", func(t *testing.T) {
		rec := do(t, newTestRouter(sampleInvoices(), nil), http.MethodGet, "/rest/v1/invoices/inv-1/retry")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestValidateInvoice(t *testing.T) {
	rec := do(t, newTestRouter(sampleInvoices(), nil), http.MethodPost, "/rest/v1/invoices/inv-1/validate")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"READY"`)
}

func TestCustomers(t *testing.T) {
	h := newTestRouter(sampleInvoices(), nil)

	rec := do(t, h, http.MethodGet, "/rest/v1/customers")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":"c-1","currency":"DKK"}]`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/rest/v1/customers/c-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"c-1","currency":"DKK"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/rest/v1/customers/c-2")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobs(t *testing.T) {
	h := newTestRouter(sampleInvoices(), stubJobs{})

	rec := do(t, h, http.MethodGet, "/rest/v1/jobs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), sweep.NamePayment))

	rec = do(t, h, http.MethodPost, "/rest/v1/jobs/retry/run")
	require.Equal(t, http.StatusOK, rec.Code)
	var report sweep.Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, "retry", report.Sweep)
	assert.Equal(t, 2, report.Succeeded)

	rec = do(t, newTestRouter(sampleInvoices(), stubJobs{err: workerpresentation.ErrUnknownJob}), http.MethodPost, "/rest/v1/jobs/nope/run")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobRoutesAbsentWithoutRunner(t *testing.T) {
	rec := do(t, newTestRouter(sampleInvoices(), nil), http.MethodGet, "/rest/v1/jobs")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

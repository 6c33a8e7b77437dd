package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	domcustomer "github.com/Zhima-Mochi/minibilling/internal/domain/customer"
	dominvoice "github.com/Zhima-Mochi/minibilling/internal/domain/invoice"
	"github.com/Zhima-Mochi/minibilling/internal/application/sweep"
	"github.com/Zhima-Mochi/minibilling/internal/observability"
	workerpresentation "github.com/Zhima-Mochi/minibilling/internal/presentation/worker"
)

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
)

type InvoiceService interface {
	Fetch(ctx context.Context, id string) (dominvoice.Invoice, error)
	List(ctx context.Context, statuses ...dominvoice.Status) ([]dominvoice.Invoice, error)
	Retry(ctx context.Context, id string) (dominvoice.Invoice, error)
	Validate(ctx context.Context, id string) (dominvoice.Invoice, error)
	IsDue(inv dominvoice.Invoice) bool
}

type CustomerService interface {
	Fetch(ctx context.Context, id string) (domcustomer.Customer, error)
	List(ctx context.Context) ([]domcustomer.Customer, error)
}

type JobRunner interface {
	Jobs() []workerpresentation.JobInfo
	RunNow(ctx context.Context, name string) (sweep.Report, error)
}

type Handler struct {
	invoices  InvoiceService
	customers CustomerService
	jobs      JobRunner
	log       observability.Logger

	requests observability.Counter
	duration observability.Histogram
}

func NewHandler(invoices InvoiceService, customers CustomerService, jobs JobRunner, tel observability.Observability) *Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Handler{
		invoices:  invoices,
		customers: customers,
		jobs:      jobs,
		log:       tel.Logger().With(observability.F("component", componentHTTPHandler)),
		requests:  tel.Metrics().Counter(observability.MHTTPRequests),
		duration:  tel.Metrics().Histogram(observability.MHTTPRequestDuration),
	}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	h.muxHandle(mux, http.MethodGet, "/rest/health", h.handleHealth)
	h.muxHandle(mux, http.MethodGet, "/rest/v1/invoices", h.handleListInvoices)
	h.muxHandle(mux, http.MethodGet, "/rest/v1/invoices/{id}", h.handleGetInvoice)
	h.muxHandle(mux, http.MethodPost, "/rest/v1/invoices/{id}/retry", h.handleRetryInvoice)
	h.muxHandle(mux, http.MethodPost, "/rest/v1/invoices/{id}/validate", h.handleValidateInvoice)
	h.muxHandle(mux, http.MethodGet, "/rest/v1/customers", h.handleListCustomers)
	h.muxHandle(mux, http.MethodGet, "/rest/v1/customers/{id}", h.handleGetCustomer)
	if h.jobs != nil {
		h.muxHandle(mux, http.MethodGet, "/rest/v1/jobs", h.handleListJobs)
		h.muxHandle(mux, http.MethodPost, "/rest/v1/jobs/{name}/run", h.handleRunJob)
	}

	return mux
}

func (h *Handler) muxHandle(mux *http.ServeMux, method, route string, handler http.HandlerFunc) {
	// Trace → Request Logger → Metrics → Access Log → Handler
	chain := withTrace(
		ObservabilityMiddleware(h.log, func(r *http.Request) string {
			return r.Header.Get(headerRequestID)
		})(
			withHTTPMetrics(h.requests, h.duration,
				withAccessLog(h.log, handler),
			),
		),
	)
	label := method + " " + route
	mux.Handle(label, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chain.ServeHTTP(w, r.WithContext(contextWithRoute(r.Context(), label)))
	}))
}

type moneyResponse struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type invoiceResponse struct {
	ID               string        `json:"id"`
	CustomerID       string        `json:"customer_id"`
	Amount           moneyResponse `json:"amount"`
	Status           string        `json:"status"`
	CreationTime     time.Time     `json:"creation_time"`
	RetryPaymentTime *time.Time    `json:"retry_payment_time,omitempty"`
	Due              bool          `json:"due"`
}

func toInvoiceResponse(inv dominvoice.Invoice, due bool) invoiceResponse {
	return invoiceResponse{
		ID:         inv.ID,
		CustomerID: inv.CustomerID,
		Amount: moneyResponse{
			Value:    inv.Amount.Value.StringFixed(2),
			Currency: string(inv.Amount.Currency),
		},
		Status:           string(inv.Status),
		CreationTime:     inv.CreationTime,
		RetryPaymentTime: inv.RetryPaymentTime,
		Due:              due,
	}
}

type customerResponse struct {
	ID       string `json:"id"`
	Currency string `json:"currency"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, "ok")
}

func (h *Handler) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	var statuses []dominvoice.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, err := dominvoice.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		statuses = append(statuses, st)
	}

	invoices, err := h.invoices.List(r.Context(), statuses...)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]invoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, toInvoiceResponse(inv, h.invoices.IsDue(inv)))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	h.respondInvoice(w, r, h.invoices.Fetch)
}

func (h *Handler) handleRetryInvoice(w http.ResponseWriter, r *http.Request) {
	h.respondInvoice(w, r, h.invoices.Retry)
}

func (h *Handler) handleValidateInvoice(w http.ResponseWriter, r *http.Request) {
	h.respondInvoice(w, r, h.invoices.Validate)
}

func (h *Handler) respondInvoice(w http.ResponseWriter, r *http.Request, op func(context.Context, string) (dominvoice.Invoice, error)) {
	inv, err := op(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceResponse(inv, h.invoices.IsDue(inv)))
}

func (h *Handler) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.customers.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]customerResponse, 0, len(customers))
	for _, c := range customers {
		out = append(out, customerResponse{ID: c.ID, Currency: string(c.Currency)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := h.customers.Fetch(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, customerResponse{ID: c.ID, Currency: string(c.Currency)})
}

func (h *Handler) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.jobs.Jobs())
}

func (h *Handler) handleRunJob(w http.ResponseWriter, r *http.Request) {
	report, err := h.jobs.RunNow(r.Context(), r.PathValue("name"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dominvoice.ErrNotFound),
		errors.Is(err, domcustomer.ErrNotFound),
		errors.Is(err, workerpresentation.ErrUnknownJob):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, dominvoice.ErrAlreadyPaid),
		errors.Is(err, dominvoice.ErrAlreadyInProcess),
		errors.Is(err, dominvoice.ErrNotDue),
		errors.Is(err, dominvoice.ErrNotRetryable),
		errors.Is(err, dominvoice.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, errors.New("internal server error"))
	}
}

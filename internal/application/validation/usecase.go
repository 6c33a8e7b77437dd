package validation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minibilling/internal/application"
	domcustomer "github.com/Zhima-Mochi/minibilling/internal/domain/customer"
	dominvoice "github.com/Zhima-Mochi/minibilling/internal/domain/invoice"
	"github.com/Zhima-Mochi/minibilling/internal/domain/notification"
	"github.com/Zhima-Mochi/minibilling/internal/observability"
	"github.com/Zhima-Mochi/minibilling/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	validationService = "validation-service"
	useCaseValidate   = "invoice.validate"
	validateSpanName  = "UC.ValidateInvoice"
)

var _ application.UseCase[dominvoice.Invoice, dominvoice.Invoice] = (*UseCase)(nil)

// UseCase pre-validates invoices before billing: the customer must exist and settle in the
// invoice currency. Failures are reported to the administrator and park the invoice in FAILED.
type UseCase struct {
	invoices  dominvoice.Repository
	customers domcustomer.Repository
	notifier  notification.Notifier
	tel       observability.Observability

	log         observability.Logger
	reqCounter  observability.Counter
	durHist     observability.Histogram
	transitions observability.Counter
}

func New(
	invoices dominvoice.Repository,
	customers domcustomer.Repository,
	notifier notification.Notifier,
	tel observability.Observability,
) *UseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	m := tel.Metrics()
	return &UseCase{
		invoices:    invoices,
		customers:   customers,
		notifier:    notifier,
		tel:         tel,
		log:         tel.Logger().With(observability.F("service", validationService)),
		reqCounter:  m.Counter(observability.MUsecaseRequests),
		durHist:     m.Histogram(observability.MUsecaseDuration),
		transitions: m.Counter(observability.MInvoiceTransitions),
	}
}

// Validate returns the next snapshot for inv without touching the store.
// At most one administrator notification is sent per call.
func (uc *UseCase) Validate(ctx context.Context, inv dominvoice.Invoice) (dominvoice.Invoice, error) {
	switch inv.Status {
	case dominvoice.StatusPaid:
		return dominvoice.Invoice{}, fmt.Errorf("invoice %s: %w", inv.ID, dominvoice.ErrAlreadyPaid)
	case dominvoice.StatusProcessing:
		return dominvoice.Invoice{}, fmt.Errorf("invoice %s: %w", inv.ID, dominvoice.ErrAlreadyInProcess)
	}

	cust, err := uc.customers.Get(ctx, inv.CustomerID)
	switch {
	case errors.Is(err, domcustomer.ErrNotFound):
		uc.notifier.NotifyAdministrator(ctx, inv.ID,
			fmt.Sprintf("Invoice associated with account that was not found: %s", inv.CustomerID))
		return inv.Fail(nil)
	case err != nil:
		uc.notifier.NotifyAdministrator(ctx, inv.ID,
			fmt.Sprintf("Invoice pre-validation failed for unknown reason: %v", err))
		return inv.Fail(nil)
	}

	if !inv.Amount.SameCurrency(cust.Currency) {
		uc.notifier.NotifyAdministrator(ctx, inv.ID,
			fmt.Sprintf("Invoice currency (%s) does not match account currency (%s)", inv.Amount.Currency, cust.Currency))
		return inv.Fail(nil)
	}
	return inv.Ready()
}

// ValidateAndSave validates inv and persists the result.
func (uc *UseCase) ValidateAndSave(ctx context.Context, inv dominvoice.Invoice) (dominvoice.Invoice, error) {
	return uc.Execute(ctx, inv)
}

func (uc *UseCase) Execute(ctx context.Context, inv dominvoice.Invoice) (_ dominvoice.Invoice, err error) {
	ctx, logger := logctx.Enrich(ctx, uc.log,
		observability.F("use_case", useCaseValidate),
		observability.F("invoice_id", inv.ID),
	)
	ctx, span := uc.tel.Tracer().Start(ctx, validateSpanName,
		attribute.String("use_case", useCaseValidate),
		attribute.String("invoice.id", inv.ID),
		attribute.String("invoice.status_before", string(inv.Status)),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	var result dominvoice.Invoice

	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetAttributes(attribute.String("invoice.status_after", string(result.Status)))
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()

		latency := time.Since(start).Seconds()
		uc.reqCounter.Add(1,
			observability.L("use_case", useCaseValidate),
			observability.L("outcome", outcome),
		)
		uc.durHist.Observe(latency, observability.L("use_case", useCaseValidate))

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", latency),
			observability.F("invoice_status", string(result.Status)),
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}()

	// The caller's snapshot may be stale; validate what the store holds so a claim made in
	// the meantime is never overwritten.
	current, err := uc.invoices.Get(ctx, inv.ID)
	if err != nil {
		outcome, statusText = "error", "INVOICE_LOOKUP_FAILED"
		return dominvoice.Invoice{}, err
	}
	next, err := uc.Validate(ctx, current)
	if err != nil {
		outcome, statusText = "error", guardStatus(err)
		return dominvoice.Invoice{}, err
	}
	if next.Status == dominvoice.StatusFailed {
		statusText = "VALIDATION_FAILED"
	}

	result, err = uc.invoices.Update(ctx, next)
	if err != nil {
		outcome, statusText = "error", "INVOICE_UPDATE_FAILED"
		return dominvoice.Invoice{}, fmt.Errorf("validation: save invoice %s: %w", inv.ID, err)
	}
	uc.transitions.Add(1,
		observability.L("from", string(current.Status)),
		observability.L("to", string(result.Status)),
	)
	return result, nil
}

func guardStatus(err error) string {
	switch {
	case errors.Is(err, dominvoice.ErrAlreadyPaid):
		return "INVOICE_ALREADY_PAID"
	case errors.Is(err, dominvoice.ErrAlreadyInProcess):
		return "INVOICE_IN_PROCESS"
	default:
		return "VALIDATION_ERROR"
	}
}

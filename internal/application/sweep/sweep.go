// Package sweep runs the batch passes over the invoice set. A sweep fetches its candidates
// once, then handles them one at a time; a failing invoice is logged and counted but never
// aborts the rest of the batch.
package sweep

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/Zhima-Mochi/minibilling/internal/application"
	dominvoice "github.com/Zhima-Mochi/minibilling/internal/domain/invoice"
	"github.com/Zhima-Mochi/minibilling/internal/domain/notification"
	"github.com/Zhima-Mochi/minibilling/internal/observability"
	"github.com/Zhima-Mochi/minibilling/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	NamePayment    = "payment"
	NameRetry      = "retry"
	NameValidation = "validation"

	componentSweep = "sweep"
)

// Biller is the billing engine as seen by the payment and retry sweeps.
type Biller interface {
	ProcessAndSave(ctx context.Context, inv dominvoice.Invoice) (dominvoice.Invoice, error)
}

// Validator is the validation engine as seen by the validation sweep.
type Validator interface {
	ValidateAndSave(ctx context.Context, inv dominvoice.Invoice) (dominvoice.Invoice, error)
}

// Report summarises one sweep run.
type Report struct {
	Sweep     string `json:"sweep"`
	Fetched   int    `json:"fetched"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	// Recovered counts stuck PROCESSING invoices released by the retry sweep.
	Recovered int `json:"recovered"`
}

type Sweeps struct {
	invoices  dominvoice.Repository
	biller    Biller
	validator Validator
	notifier  notification.Notifier
	clock     application.Clock
	tel       observability.Observability

	log      observability.Logger
	handled  observability.Counter
	duration observability.Histogram
}

func New(
	invoices dominvoice.Repository,
	biller Biller,
	validator Validator,
	notifier notification.Notifier,
	clock application.Clock,
	tel observability.Observability,
) *Sweeps {
	if tel == nil {
		tel = observability.Nop()
	}
	if clock == nil {
		clock = application.SystemClock(time.UTC)
	}
	return &Sweeps{
		invoices:  invoices,
		biller:    biller,
		validator: validator,
		notifier:  notifier,
		clock:     clock,
		tel:       tel,
		log:       tel.Logger().With(observability.F("component", componentSweep)),
		handled:   tel.Metrics().Counter(observability.MSweepInvoices),
		duration:  tel.Metrics().Histogram(observability.MSweepDuration),
	}
}

// Run dispatches to the sweep registered under name.
func (s *Sweeps) Run(ctx context.Context, name string) (Report, error) {
	switch name {
	case NamePayment:
		return s.Payment(ctx)
	case NameRetry:
		return s.Retry(ctx)
	case NameValidation:
		return s.Validation(ctx)
	}
	return Report{}, fmt.Errorf("sweep: unknown sweep %q", name)
}

// Payment charges every PENDING or READY invoice created before the current month.
func (s *Sweeps) Payment(ctx context.Context) (Report, error) {
	now := s.clock()
	cutoff := dominvoice.StartOfMonth(now)
	filter := dominvoice.Filter{
		Statuses:      []dominvoice.Status{dominvoice.StatusPending, dominvoice.StatusReady},
		CreatedBefore: &cutoff,
	}
	return s.run(ctx, NamePayment, filter, func(ctx context.Context, inv dominvoice.Invoice) (bool, error) {
		_, err := s.biller.ProcessAndSave(ctx, inv)
		return false, err
	})
}

// Retry re-charges FAILED invoices whose retry time has passed and releases PROCESSING
// invoices whose in-flight deadline expired.
func (s *Sweeps) Retry(ctx context.Context) (Report, error) {
	now := s.clock()
	filter := dominvoice.Filter{
		Statuses:   []dominvoice.Status{dominvoice.StatusFailed, dominvoice.StatusProcessing},
		RetryDueBy: &now,
	}
	return s.run(ctx, NameRetry, filter, func(ctx context.Context, inv dominvoice.Invoice) (bool, error) {
		if inv.Status == dominvoice.StatusProcessing {
			return true, s.release(ctx, inv)
		}
		_, err := s.biller.ProcessAndSave(ctx, inv)
		return false, err
	})
}

// Validation pre-validates every PENDING invoice.
func (s *Sweeps) Validation(ctx context.Context) (Report, error) {
	filter := dominvoice.Filter{Statuses: []dominvoice.Status{dominvoice.StatusPending}}
	return s.run(ctx, NameValidation, filter, func(ctx context.Context, inv dominvoice.Invoice) (bool, error) {
		_, err := s.validator.ValidateAndSave(ctx, inv)
		return false, err
	})
}

// release parks a stuck PROCESSING invoice in FAILED without a retry time. The charge may
// or may not have gone through, so a person has to reconcile it before any new attempt.
func (s *Sweeps) release(ctx context.Context, inv dominvoice.Invoice) error {
	failed, err := inv.Fail(nil)
	if err != nil {
		return err
	}
	if _, err := s.invoices.Update(ctx, failed); err != nil {
		return fmt.Errorf("sweep: release invoice %s: %w", inv.ID, err)
	}
	s.notifier.NotifyAdministrator(ctx, inv.ID,
		"Invoice payment did not complete in time and needs manual review before it can be retried")
	return nil
}

type handleFunc func(ctx context.Context, inv dominvoice.Invoice) (recovered bool, err error)

func (s *Sweeps) run(ctx context.Context, name string, filter dominvoice.Filter, handle handleFunc) (report Report, err error) {
	ctx, logger := logctx.Enrich(ctx, s.log, observability.F("sweep", name))
	ctx, span := s.tel.Tracer().Start(ctx, "Sweep."+name, attribute.String("sweep", name))
	start := time.Now()
	report.Sweep = name

	defer func() {
		span.SetAttributes(
			attribute.Int("sweep.fetched", report.Fetched),
			attribute.Int("sweep.failed", report.Failed),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "SWEEP_FETCH_FAILED")
		} else {
			span.SetStatus(codes.Ok, "OK")
		}
		span.End()
		s.duration.Observe(time.Since(start).Seconds(), observability.L("sweep", name))
	}()

	invoices, err := s.invoices.List(ctx, filter)
	if err != nil {
		logger.Error("sweep_fetch_failed", observability.F("error", err.Error()))
		return report, fmt.Errorf("sweep %s: fetch invoices: %w", name, err)
	}
	report.Fetched = len(invoices)
	logger.Info("sweep_started", observability.F("invoices", len(invoices)))

	succeeded := s.handled.Bind(observability.L("sweep", name), observability.L("outcome", "succeeded"))
	failed := s.handled.Bind(observability.L("sweep", name), observability.L("outcome", "failed"))
	recovered := s.handled.Bind(observability.L("sweep", name), observability.L("outcome", "recovered"))

	for _, inv := range invoices {
		rec, herr := s.safeHandle(ctx, handle, inv)
		switch {
		case herr != nil:
			report.Failed++
			failed.Add(1)
			logger.Warn("sweep_invoice_failed",
				observability.F("invoice_id", inv.ID),
				observability.F("error", herr.Error()),
			)
		case rec:
			report.Recovered++
			recovered.Add(1)
			logger.Warn("sweep_invoice_recovered", observability.F("invoice_id", inv.ID))
		default:
			report.Succeeded++
			succeeded.Add(1)
		}
	}

	logger.Info("sweep_done",
		observability.F("fetched", report.Fetched),
		observability.F("succeeded", report.Succeeded),
		observability.F("failed", report.Failed),
		observability.F("recovered", report.Recovered),
		observability.F("latency_seconds", time.Since(start).Seconds()),
	)
	return report, nil
}

func (s *Sweeps) safeHandle(ctx context.Context, handle handleFunc, inv dominvoice.Invoice) (rec bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			logctx.FromOr(ctx, s.log).Error("sweep_invoice_panic",
				observability.F("invoice_id", inv.ID),
				observability.F("panic", r),
				observability.F("stack", string(debug.Stack())),
			)
			rec, err = false, fmt.Errorf("sweep: invoice %s panicked: %v", inv.ID, r)
		}
	}()
	return handle(ctx, inv)
}

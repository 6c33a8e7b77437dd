package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minibilling/internal/application"
	dominvoice "github.com/Zhima-Mochi/minibilling/internal/domain/invoice"
	"github.com/Zhima-Mochi/minibilling/internal/domain/notification"
	"github.com/Zhima-Mochi/minibilling/internal/domain/payment"
	"github.com/Zhima-Mochi/minibilling/internal/observability"
	"github.com/Zhima-Mochi/minibilling/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	billingService    = "billing-service"
	useCaseProcess    = "invoice.process"
	processSpanName   = "UC.ProcessInvoice"
	gatewayPeer       = "payment_provider"
	gatewayEndpoint   = "charge"
	chargeSpanName    = "PaymentProvider.Charge"
	statusChargeFault = "CHARGE_FAILED"
)

// Policy holds the timing rules of the billing engine.
type Policy struct {
	// InFlightTimeout bounds how long a claimed invoice may stay PROCESSING before the retry
	// sweep treats it as stuck.
	InFlightTimeout time.Duration
	// InsufficientFundsBackoff delays the retry after the account could not cover the invoice.
	InsufficientFundsBackoff time.Duration
	// NetworkBackoff delays the retry after a transient provider failure.
	NetworkBackoff time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		InFlightTimeout:          time.Hour,
		InsufficientFundsBackoff: 24 * time.Hour,
		NetworkBackoff:           time.Hour,
	}
}

var _ application.UseCase[dominvoice.Invoice, dominvoice.Invoice] = (*UseCase)(nil)

// UseCase charges due invoices. Each call claims the invoice, charges it once and saves the
// classified result, so at most two writes and one gateway call happen per invocation.
type UseCase struct {
	invoices dominvoice.Repository
	gateway  payment.Gateway
	notifier notification.Notifier
	clock    application.Clock
	policy   Policy
	tel      observability.Observability

	log         observability.Logger
	reqCounter  observability.Counter
	durHist     observability.Histogram
	extCounter  observability.Counter
	extDurHist  observability.Histogram
	transitions observability.Counter
}

func New(
	invoices dominvoice.Repository,
	gateway payment.Gateway,
	notifier notification.Notifier,
	clock application.Clock,
	policy Policy,
	tel observability.Observability,
) *UseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	if clock == nil {
		clock = application.SystemClock(time.UTC)
	}
	m := tel.Metrics()
	return &UseCase{
		invoices:    invoices,
		gateway:     gateway,
		notifier:    notifier,
		clock:       clock,
		policy:      policy,
		tel:         tel,
		log:         tel.Logger().With(observability.F("service", billingService)),
		reqCounter:  m.Counter(observability.MUsecaseRequests),
		durHist:     m.Histogram(observability.MUsecaseDuration),
		extCounter:  m.Counter(observability.MExternalRequests),
		extDurHist:  m.Histogram(observability.MExternalRequestDuration),
		transitions: m.Counter(observability.MInvoiceTransitions),
	}
}

// ProcessAndSave runs the full billing flow for one invoice.
func (uc *UseCase) ProcessAndSave(ctx context.Context, inv dominvoice.Invoice) (dominvoice.Invoice, error) {
	return uc.Execute(ctx, inv)
}

func (uc *UseCase) Execute(ctx context.Context, inv dominvoice.Invoice) (_ dominvoice.Invoice, err error) {
	ctx, logger := logctx.Enrich(ctx, uc.log,
		observability.F("use_case", useCaseProcess),
		observability.F("invoice_id", inv.ID),
		observability.F("customer_id", inv.CustomerID),
	)
	ctx, span := uc.tel.Tracer().Start(ctx, processSpanName,
		attribute.String("use_case", useCaseProcess),
		attribute.String("invoice.id", inv.ID),
		attribute.String("invoice.amount", inv.Amount.String()),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	var (
		result   dominvoice.Invoice
		classify Outcome
		charged  bool
	)

	defer func() {
		span.SetAttributes(attribute.String("invoice.status", string(result.Status)))
		if charged {
			span.SetAttributes(attribute.String("payment.outcome", classify.String()))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()

		latency := time.Since(start).Seconds()
		uc.reqCounter.Add(1,
			observability.L("use_case", useCaseProcess),
			observability.L("outcome", outcome),
		)
		uc.durHist.Observe(latency, observability.L("use_case", useCaseProcess))

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", latency),
			observability.F("invoice_status", string(result.Status)),
		}
		if charged {
			fields = append(fields, observability.F("payment_outcome", classify.String()))
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

	now := uc.clock()

	if err = inv.CheckPayable(now); err != nil {
		outcome, statusText = "rejected", guardStatus(err)
		return dominvoice.Invoice{}, err
	}
	// The caller's snapshot may be stale; the stored status decides.
	current, err := uc.invoices.Get(ctx, inv.ID)
	if err != nil {
		outcome, statusText = "error", "INVOICE_LOOKUP_FAILED"
		return dominvoice.Invoice{}, err
	}
	if err = current.CheckPayable(now); err != nil {
		outcome, statusText = "rejected", guardStatus(err)
		return dominvoice.Invoice{}, err
	}

	claim, err := current.Claim(now.Add(uc.policy.InFlightTimeout))
	if err != nil {
		outcome, statusText = "error", "STATE_TRANSITION_FAILED"
		return dominvoice.Invoice{}, err
	}
	claimed, err := uc.invoices.Update(ctx, claim)
	if err != nil {
		outcome, statusText = "error", "INVOICE_CLAIM_FAILED"
		return dominvoice.Invoice{}, fmt.Errorf("billing: claim invoice %s: %w", inv.ID, err)
	}
	uc.recordTransition(current.Status, claimed.Status)

	ok, chargeErr := uc.charge(ctx, claimed)
	classify, charged = Classify(ok, chargeErr), true
	if chargeErr != nil {
		logger.Warn("payment_charge_failed",
			observability.F("payment_outcome", classify.String()),
			observability.F("error", chargeErr.Error()),
		)
	}

	next, err := uc.settle(ctx, current.Status, claimed, classify, chargeErr, now)
	if err != nil {
		outcome, statusText = "error", "STATE_TRANSITION_FAILED"
		return dominvoice.Invoice{}, err
	}

	result, err = uc.invoices.Update(ctx, next)
	if err != nil {
		outcome, statusText = "error", "INVOICE_UPDATE_FAILED"
		return dominvoice.Invoice{}, fmt.Errorf("billing: save invoice %s: %w", inv.ID, err)
	}
	uc.recordTransition(claimed.Status, result.Status)
	if classify != OutcomePaid {
		statusText = statusChargeFault
	}
	return result, nil
}

// charge performs the single gateway call of a billing run.
func (uc *UseCase) charge(ctx context.Context, inv dominvoice.Invoice) (_ bool, err error) {
	ctx, span := uc.tel.Tracer().Start(ctx, chargeSpanName,
		attribute.String("peer.service", gatewayPeer),
		attribute.String("invoice.id", inv.ID),
	)
	start := time.Now()
	defer func() {
		result := "success"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, payment.KindOf(err).String())
		}
		span.End()
		uc.extCounter.Add(1,
			observability.L("peer", gatewayPeer),
			observability.L("endpoint", gatewayEndpoint),
			observability.L("outcome", result),
		)
		uc.extDurHist.Observe(time.Since(start).Seconds(),
			observability.L("peer", gatewayPeer),
			observability.L("endpoint", gatewayEndpoint),
		)
	}()
	return uc.gateway.Charge(ctx, inv)
}

// settle sends the outcome's notifications and builds the final snapshot.
func (uc *UseCase) settle(
	ctx context.Context,
	before dominvoice.Status,
	inv dominvoice.Invoice,
	outcome Outcome,
	chargeErr error,
	now time.Time,
) (dominvoice.Invoice, error) {
	switch outcome {
	case OutcomePaid:
		uc.notifier.NotifyAccountOwner(ctx, inv.CustomerID, inv.ID,
			fmt.Sprintf("Invoice of %s paid successfully", inv.Amount))
		if before == dominvoice.StatusFailed {
			uc.notifier.NotifyAdministrator(ctx, inv.ID, "Errors resolved and invoice paid")
		}
		return inv.Paid()
	case OutcomeInsufficientFunds:
		uc.notifier.NotifyAccountOwner(ctx, inv.CustomerID, inv.ID,
			fmt.Sprintf("Insufficient funds to pay invoice. Amount due: %s", inv.Amount))
		uc.notifier.NotifyAdministrator(ctx, inv.ID, "Invoice not paid due to insufficient funds")
		retry := now.Add(uc.policy.InsufficientFundsBackoff)
		return inv.Fail(&retry)
	case OutcomeCurrencyMismatch:
		uc.notifier.NotifyAdministrator(ctx, inv.ID,
			fmt.Sprintf("Invoice not paid due to a currency mismatch: %v", chargeErr))
		return inv.Fail(nil)
	case OutcomeCustomerNotFound:
		uc.notifier.NotifyAdministrator(ctx, inv.ID,
			fmt.Sprintf("Invoice not paid due to a missing account: %v", chargeErr))
		return inv.Fail(nil)
	case OutcomeNetworkError:
		uc.notifier.NotifyAdministrator(ctx, inv.ID,
			fmt.Sprintf("Network error while trying to pay invoice: %v", chargeErr))
		retry := now.Add(uc.policy.NetworkBackoff)
		return inv.Fail(&retry)
	default:
		uc.notifier.NotifyAdministrator(ctx, inv.ID,
			fmt.Sprintf("Unknown error while processing invoice: %v", chargeErr))
		return inv.Fail(nil)
	}
}

func (uc *UseCase) recordTransition(from, to dominvoice.Status) {
	uc.transitions.Add(1,
		observability.L("from", string(from)),
		observability.L("to", string(to)),
	)
}

func guardStatus(err error) string {
	switch {
	case errors.Is(err, dominvoice.ErrAlreadyPaid):
		return "INVOICE_ALREADY_PAID"
	case errors.Is(err, dominvoice.ErrAlreadyInProcess):
		return "INVOICE_IN_PROCESS"
	case errors.Is(err, dominvoice.ErrNotDue):
		return "INVOICE_NOT_DUE"
	default:
		return "GUARD_FAILED"
	}
}

package notification

import (
	"context"
	"fmt"
	"time"

	domnotification "github.com/Zhima-Mochi/minibilling/internal/domain/notification"
	domoutbox "github.com/Zhima-Mochi/minibilling/internal/domain/outbox"
	"github.com/Zhima-Mochi/minibilling/internal/observability"
	"github.com/Zhima-Mochi/minibilling/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	notificationWorker = "notification_worker"
	useCaseDeliver     = "notification.deliver"
)

// Worker drains notification requests from the bus and hands them to the configured sink.
type Worker struct {
	subscriber domoutbox.Subscriber
	sink       domnotification.Sink
	tel        observability.Observability

	log          observability.Logger
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
}

func NewWorker(
	subscriber domoutbox.Subscriber,
	sink domnotification.Sink,
	tel observability.Observability,
) *Worker {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Worker{
		subscriber:   subscriber,
		sink:         sink,
		tel:          tel,
		log:          tel.Logger().With(observability.F("component", notificationWorker)),
		reqCounter:   tel.Metrics().Counter(observability.MUsecaseRequests),
		durHistogram: tel.Metrics().Histogram(observability.MUsecaseDuration),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.sink == nil {
		return
	}
	w.subscriber.Subscribe(domnotification.RequestedEvent{}.EventName(), w.handleRequested)
}

func (w *Worker) handleRequested(ctx context.Context, e domoutbox.Event) (err error) {
	evt, ok := e.(domnotification.RequestedEvent)
	if !ok {
		return nil
	}
	msg := evt.Message
	logger := logctx.FromOr(ctx, w.log).With(
		observability.F("event", e.EventName()),
		observability.F("audience", string(msg.Audience)),
		observability.F("invoice_id", msg.InvoiceID),
	)

	ctx, span := w.tel.Tracer().Start(ctx, "Worker.DeliverNotification",
		attribute.String("use_case", useCaseDeliver),
		attribute.String("notification.audience", string(msg.Audience)),
	)
	start := time.Now()
	outcome := "success"
	defer func() {
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, "DELIVERY_FAILED")
		}
		span.End()
		w.reqCounter.Add(1,
			observability.L("use_case", useCaseDeliver),
			observability.L("outcome", outcome),
		)
		w.durHistogram.Observe(time.Since(start).Seconds(), observability.L("use_case", useCaseDeliver))
	}()

	if err = w.sink.Deliver(ctx, msg); err != nil {
		logger.Warn("notification_delivery_failed", observability.F("error", err.Error()))
		return fmt.Errorf("notification: deliver: %w", err)
	}
	logger.Debug("notification_delivered",
		observability.F("queued_for_seconds", time.Since(evt.OccurredAt).Seconds()),
	)
	return nil
}

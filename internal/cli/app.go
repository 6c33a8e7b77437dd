package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/Zhima-Mochi/minibilling/internal/application"
	"github.com/Zhima-Mochi/minibilling/internal/application/billing"
	appcustomers "github.com/Zhima-Mochi/minibilling/internal/application/customers"
	appinvoices "github.com/Zhima-Mochi/minibilling/internal/application/invoices"
	appnotification "github.com/Zhima-Mochi/minibilling/internal/application/notification"
	"github.com/Zhima-Mochi/minibilling/internal/application/sweep"
	"github.com/Zhima-Mochi/minibilling/internal/application/validation"
	"github.com/Zhima-Mochi/minibilling/internal/config"
	domcustomer "github.com/Zhima-Mochi/minibilling/internal/domain/customer"
	dominvoice "github.com/Zhima-Mochi/minibilling/internal/domain/invoice"
	domjob "github.com/Zhima-Mochi/minibilling/internal/domain/job"
	domnotification "github.com/Zhima-Mochi/minibilling/internal/domain/notification"
	dompayment "github.com/Zhima-Mochi/minibilling/internal/domain/payment"
	"github.com/Zhima-Mochi/minibilling/internal/infrastructure/memory"
	infranotification "github.com/Zhima-Mochi/minibilling/internal/infrastructure/notification"
	infraobs "github.com/Zhima-Mochi/minibilling/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/minibilling/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/minibilling/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/minibilling/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/minibilling/internal/infrastructure/outbox"
	infrapayment "github.com/Zhima-Mochi/minibilling/internal/infrastructure/payment"
	"github.com/Zhima-Mochi/minibilling/internal/infrastructure/postgres"
	"github.com/Zhima-Mochi/minibilling/internal/infrastructure/seed"
	"github.com/Zhima-Mochi/minibilling/internal/observability"
	"github.com/Zhima-Mochi/minibilling/internal/pkg/logging"
	httppresentation "github.com/Zhima-Mochi/minibilling/internal/presentation/http"
	workerpresentation "github.com/Zhima-Mochi/minibilling/internal/presentation/worker"
)

// app holds every wired component of one process.
type app struct {
	cfg      config.Config
	zap      *zap.Logger
	tel      observability.Observability
	registry *prometheus.Registry

	invoices  dominvoice.Repository
	customers domcustomer.Repository
	runLog    domjob.RunLog

	bus       *outbox.Bus
	notifier  *appnotification.Worker
	sweeps    *sweep.Sweeps
	scheduler *workerpresentation.Scheduler
	handler   *httppresentation.Handler

	closers []func() error
}

// newApp wires the process from cfg. A nil base logger builds the production zap logger.
func newApp(ctx context.Context, cfg config.Config, base *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.close()
		}
	}()

	if base == nil {
		base, err = logging.NewLogger(logging.Options{
			Service: cfg.Service,
			Env:     cfg.Env,
			Level:   cfg.Log.Level,
			File:    cfg.Log.File,
		})
		if err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
		zap.ReplaceGlobals(base)
		a.closers = append(a.closers, func() error { _ = base.Sync(); return nil })
	}
	a.zap = base

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	counters, histograms := prometrics.Instruments(prometrics.New("billing", "", a.registry))
	a.tel = infraobs.New(infraobs.Options{
		Tracer:     oteltrace.New("minibilling"),
		Logger:     zaplogger.New(logging.WithTrace(base, logging.SystemTraceID, logging.SystemSpanID)),
		Counters:   counters,
		Histograms: histograms,
	})
	log := a.tel.Logger()

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if cfg.Seed.Enabled {
		if err := a.seed(ctx); err != nil {
			return nil, err
		}
	}

	gateway, err := a.gateway()
	if err != nil {
		return nil, err
	}
	sink, err := a.sink()
	if err != nil {
		return nil, err
	}

	a.bus = outbox.NewBus(log, outbox.Options{
		QueueSize:      cfg.Outbox.QueueSize,
		Concurrency:    cfg.Outbox.Concurrency,
		HandlerTimeout: cfg.Outbox.HandlerTimeout,
	})
	notifier := infranotification.NewBusNotifier(a.bus, log)
	a.notifier = appnotification.NewWorker(a.bus, sink, a.tel)

	loc := cfg.Location()
	clock := application.SystemClock(loc)
	validator := validation.New(a.invoices, a.customers, notifier, a.tel)
	biller := billing.New(a.invoices, gateway, notifier, clock, billing.Policy{
		InFlightTimeout:          cfg.Billing.InFlightTimeout,
		InsufficientFundsBackoff: cfg.Billing.InsufficientFundsBackoff,
		NetworkBackoff:           cfg.Billing.NetworkBackoff,
	}, a.tel)
	a.sweeps = sweep.New(a.invoices, biller, validator, notifier, clock, a.tel)

	a.scheduler = workerpresentation.NewScheduler(workerpresentation.Options{
		Location: loc,
		RunLog:   a.runLog,
	}, a.tel)

	a.handler = httppresentation.NewHandler(
		appinvoices.NewService(a.invoices, biller, validator, clock),
		appcustomers.NewService(a.customers),
		a.scheduler,
		a.tel,
	)
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Store.Driver {
	case config.StorePostgres:
		db, err := postgres.Open(ctx, a.cfg.Store.DSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		a.invoices = postgres.NewInvoiceStore(db)
		a.customers = postgres.NewCustomerStore(db)
		a.runLog = postgres.NewRunLog(db)
	default:
		a.invoices = memory.NewInvoiceRepository()
		a.customers = memory.NewCustomerRepository()
		a.runLog = memory.NewRunLog()
	}
	return nil
}

// seed only fills an empty store so restarts against postgres do not duplicate data.
func (a *app) seed(ctx context.Context) error {
	existing, err := a.customers.List(ctx)
	if err != nil {
		return fmt.Errorf("seed: list customers: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	err = seed.Run(ctx, a.customers, a.invoices, seed.Options{
		Customers:           a.cfg.Seed.Customers,
		InvoicesPerCustomer: a.cfg.Seed.InvoicesPerCustomer,
		Seed:                a.cfg.Seed.Seed,
		Now:                 time.Now().In(a.cfg.Location()),
	})
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	a.tel.Logger().Info("store_seeded",
		observability.F("customers", a.cfg.Seed.Customers),
		observability.F("invoices_per_customer", a.cfg.Seed.InvoicesPerCustomer),
	)
	return nil
}

func (a *app) gateway() (dompayment.Gateway, error) {
	switch a.cfg.Gateway.Driver {
	case config.GatewayStripe:
		return infrapayment.NewStripeGateway(a.cfg.Gateway.StripeAPIKey), nil
	case config.GatewaySimulated:
		return infrapayment.NewSimulatedGateway(
			a.customers,
			a.cfg.Gateway.SuccessRate,
			a.cfg.Gateway.NetworkErrorRate,
			a.cfg.Gateway.Seed,
		), nil
	}
	return nil, fmt.Errorf("unknown gateway driver %q", a.cfg.Gateway.Driver)
}

func (a *app) sink() (domnotification.Sink, error) {
	switch a.cfg.Notifier.Driver {
	case config.NotifierNATS:
		conn, err := nats.Connect(a.cfg.Notifier.NATSURL,
			nats.Name(a.cfg.Service),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		a.closers = append(a.closers, conn.Drain)
		return infranotification.NewNatsSink(conn, a.cfg.Notifier.SubjectPrefix), nil
	case config.NotifierLog:
		return infranotification.NewLogSink(a.tel.Logger()), nil
	}
	return nil, fmt.Errorf("unknown notifier driver %q", a.cfg.Notifier.Driver)
}

// registerJobs adds the configured sweeps to the scheduler. Disabled jobs are registered
// only when includeDisabled is set, so they stay runnable on demand.
func (a *app) registerJobs(includeDisabled bool) error {
	bodies := map[string]workerpresentation.JobFunc{
		sweep.NamePayment:    a.sweeps.Payment,
		sweep.NameRetry:      a.sweeps.Retry,
		sweep.NameValidation: a.sweeps.Validation,
	}
	defaults := config.Default().Scheduler.Jobs

	for _, name := range []string{sweep.NamePayment, sweep.NameRetry, sweep.NameValidation} {
		jc, ok := a.cfg.Scheduler.Jobs[name]
		if !ok {
			jc = defaults[name]
		}
		if jc.Disabled && !includeDisabled {
			continue
		}
		if jc.Schedule == "" {
			jc.Schedule = defaults[name].Schedule
		}
		err := a.scheduler.Register(workerpresentation.JobSpec{
			Name:     name,
			Schedule: jc.Schedule,
			Misfire:  workerpresentation.MisfirePolicy(jc.Misfire),
		}, bodies[name])
		if err != nil {
			return err
		}
	}
	for name := range a.cfg.Scheduler.Jobs {
		if _, ok := bodies[name]; !ok {
			return fmt.Errorf("scheduler: no sweep named %q", name)
		}
	}
	return nil
}

// startBackground starts notification delivery. It must run before any sweep.
func (a *app) startBackground(ctx context.Context) {
	a.notifier.Start()
	a.bus.Start(ctx)
}

// stopBackground drains queued notifications.
func (a *app) stopBackground(ctx context.Context) {
	a.bus.Stop(ctx)
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

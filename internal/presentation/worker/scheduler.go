package workerpresentation

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Zhima-Mochi/minibilling/internal/application/sweep"
	domjob "github.com/Zhima-Mochi/minibilling/internal/domain/job"
	"github.com/Zhima-Mochi/minibilling/internal/observability"
	"github.com/Zhima-Mochi/minibilling/internal/observability/logctx"
)

var (
	ErrUnknownJob   = errors.New("scheduler: unknown job")
	ErrDuplicateJob = errors.New("scheduler: job already registered")
)

type JobState string

const (
	StateRegistered JobState = "registered"
	StateTriggered  JobState = "triggered"
	StateRunning    JobState = "running"
	StateIdle       JobState = "idle"
)

// MisfirePolicy decides what happens to a trigger missed while the process was down.
type MisfirePolicy string

const (
	// MisfireFireNow runs the job once at scheduler start, then resumes the schedule.
	MisfireFireNow MisfirePolicy = "fire_now"
	// MisfireSkip drops missed triggers and waits for the next slot.
	MisfireSkip MisfirePolicy = "skip"
)

const (
	TriggerSchedule = "schedule"
	TriggerMisfire  = "misfire"
	TriggerManual   = "manual"
)

// JobFunc is the body of a job. It captures everything it needs at registration.
type JobFunc func(ctx context.Context) (sweep.Report, error)

type JobSpec struct {
	Name     string
	Schedule string
	Misfire  MisfirePolicy
}

// JobInfo is a point-in-time view of one job.
type JobInfo struct {
	Name       string        `json:"name"`
	Schedule   string        `json:"schedule"`
	Misfire    MisfirePolicy `json:"misfire"`
	State      JobState      `json:"state"`
	LastRun    *time.Time    `json:"last_run,omitempty"`
	NextRun    *time.Time    `json:"next_run,omitempty"`
	LastError  string        `json:"last_error,omitempty"`
	LastReport *sweep.Report `json:"last_report,omitempty"`
}

type job struct {
	spec     JobSpec
	fn       JobFunc
	schedule cron.Schedule
	entryID  cron.EntryID

	state      JobState
	lastRun    *time.Time
	lastErr    string
	lastReport *sweep.Report
}

type Options struct {
	Location *time.Location
	RunLog   domjob.RunLog
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Scheduler fires jobs on calendar triggers. Every job body, scheduled or manual, runs under
// one execution lock, so at most one sweep touches the invoice set at any time.
type Scheduler struct {
	exec sync.Mutex

	mu      sync.RWMutex
	jobs    map[string]*job
	started bool

	cron   *cron.Cron
	parser cron.Parser
	loc    *time.Location
	now    func() time.Time
	runLog domjob.RunLog
	tel    observability.Observability
	log    observability.Logger
}

func NewScheduler(opts Options, tel observability.Observability) *Scheduler {
	if tel == nil {
		tel = observability.Nop()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := tel.Logger().With(observability.F("component", "scheduler"))
	cl := cronLogger{log: log}
	return &Scheduler{
		jobs: make(map[string]*job),
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		parser: cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		loc:    loc,
		now:    func() time.Time { return now().In(loc) },
		runLog: opts.RunLog,
		tel:    tel,
		log:    log,
	}
}

// Register adds a job. It must be called before Start.
func (s *Scheduler) Register(spec JobSpec, fn JobFunc) error {
	if spec.Misfire == "" {
		spec.Misfire = MisfireSkip
	}
	if spec.Misfire != MisfireFireNow && spec.Misfire != MisfireSkip {
		return fmt.Errorf("scheduler: job %s: unknown misfire policy %q", spec.Name, spec.Misfire)
	}
	schedule, err := s.parser.Parse(spec.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: job %s: parse %q: %w", spec.Name, spec.Schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[spec.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, spec.Name)
	}
	j := &job{spec: spec, fn: fn, schedule: schedule, state: StateRegistered}
	name := spec.Name
	j.entryID = s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.fire(name, TriggerSchedule)
	}))
	s.jobs[name] = j

	s.log.Info("job_registered",
		observability.F("job", name),
		observability.F("schedule", spec.Schedule),
		observability.F("misfire", string(spec.Misfire)),
		observability.F("next_run", schedule.Next(s.now())),
	)
	return nil
}

// Start fires missed triggers according to each job's policy and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	jobs := s.sortedJobs()
	s.mu.Unlock()

	now := s.now()
	for _, j := range jobs {
		missed, err := s.missed(ctx, j, now)
		if err != nil {
			return err
		}
		if !missed {
			continue
		}
		logger := s.log.With(observability.F("job", j.spec.Name))
		if j.spec.Misfire == MisfireSkip {
			logger.Warn("job_misfire_skipped")
			continue
		}
		logger.Warn("job_misfire_firing")
		name := j.spec.Name
		go s.fire(name, TriggerMisfire)
	}

	s.cron.Start()
	s.log.Info("scheduler_started", observability.F("jobs", len(jobs)))
	return nil
}

// missed reports whether a trigger of j fell between its last recorded run and now.
// A job that never ran has nothing to catch up.
func (s *Scheduler) missed(ctx context.Context, j *job, now time.Time) (bool, error) {
	if s.runLog == nil {
		return false, nil
	}
	last, ok, err := s.runLog.LastRun(ctx, j.spec.Name)
	if err != nil {
		return false, fmt.Errorf("scheduler: job %s: last run: %w", j.spec.Name, err)
	}
	if !ok {
		return false, nil
	}
	next := j.schedule.Next(last.In(s.loc))
	return !next.After(now), nil
}

// Stop prevents further triggers and waits for a running job to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	// wait for misfire or manual runs still holding the lock
	acquired := make(chan struct{})
	go func() {
		s.exec.Lock()
		s.exec.Unlock()
		close(acquired)
	}()
	select {
	case <-acquired:
		s.log.Info("scheduler_stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow executes a job synchronously under the execution lock and returns its report.
func (s *Scheduler) RunNow(ctx context.Context, name string) (sweep.Report, error) {
	j, err := s.job(name)
	if err != nil {
		return sweep.Report{}, err
	}
	s.setState(j, StateTriggered)
	return s.execute(ctx, j, TriggerManual)
}

// Jobs returns a snapshot of every registered job ordered by name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.sortedJobs() {
		info := JobInfo{
			Name:      j.spec.Name,
			Schedule:  j.spec.Schedule,
			Misfire:   j.spec.Misfire,
			State:     j.state,
			LastError: j.lastErr,
		}
		if j.lastRun != nil {
			t := *j.lastRun
			info.LastRun = &t
		}
		if j.lastReport != nil {
			r := *j.lastReport
			info.LastReport = &r
		}
		next := j.schedule.Next(now)
		if s.started {
			if e := s.cron.Entry(j.entryID); !e.Next.IsZero() {
				next = e.Next
			}
		}
		info.NextRun = &next
		out = append(out, info)
	}
	return out
}

func (s *Scheduler) fire(name string, trigger string) {
	j, err := s.job(name)
	if err != nil {
		return
	}
	s.setState(j, StateTriggered)
	_, _ = s.execute(context.Background(), j, trigger)
}

// execute runs the body under the execution lock. The lock and the job state are released on
// every exit path, including a panicking body.
func (s *Scheduler) execute(ctx context.Context, j *job, trigger string) (report sweep.Report, err error) {
	s.exec.Lock()
	defer s.exec.Unlock()

	// Sweeps run to completion even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	ctx, span := s.tel.Tracer().Start(ctx, "Job."+j.spec.Name,
		attribute.String("job", j.spec.Name),
		attribute.String("trigger", trigger),
	)
	ctx = WithJobContext(ctx, s.log, trace.SpanContextFromContext(ctx), map[string]string{
		"job":     j.spec.Name,
		"trigger": trigger,
	})
	logger := logctx.FromOr(ctx, s.log)
	startedAt := s.now()
	s.setState(j, StateRunning)
	logger.Info("job_started")

	defer func() {
		if r := recover(); r != nil {
			logger.Error("job_panic",
				observability.F("panic", r),
				observability.F("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("scheduler: job %s panicked: %v", j.spec.Name, r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "JOB_FAILED")
		} else {
			span.SetStatus(codes.Ok, "OK")
		}
		span.End()

		if s.runLog != nil {
			if rerr := s.runLog.RecordRun(ctx, j.spec.Name, startedAt); rerr != nil {
				logger.Warn("job_run_record_failed", observability.F("error", rerr.Error()))
			}
		}
		s.finish(j, startedAt, report, err)

		fields := []observability.Field{
			observability.F("latency_seconds", time.Since(startedAt).Seconds()),
			observability.F("fetched", report.Fetched),
			observability.F("failed", report.Failed),
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
			logger.Error("job_done", fields...)
			return
		}
		logger.Info("job_done", fields...)
	}()

	return j.fn(ctx)
}

func (s *Scheduler) job(name string) (*job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return j, nil
}

func (s *Scheduler) setState(j *job, st JobState) {
	s.mu.Lock()
	j.state = st
	s.mu.Unlock()
}

func (s *Scheduler) finish(j *job, at time.Time, report sweep.Report, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j.state = StateIdle
	j.lastRun = &at
	j.lastErr = ""
	if err != nil {
		j.lastErr = err.Error()
	}
	j.lastReport = &report
}

// sortedJobs must be called with mu held.
func (s *Scheduler) sortedJobs() []*job {
	out := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].spec.Name < out[b].spec.Name })
	return out
}

// cronLogger routes robfig/cron diagnostics into the service logger.
type cronLogger struct {
	log observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron_"+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	fields := append(kvFields(keysAndValues), observability.F("error", err))
	l.log.Error("cron_"+msg, fields...)
}

func kvFields(kv []any) []observability.Field {
	fields := make([]observability.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, observability.F(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}

// Package scheduler drives the recurring jobs from an explicit job table:
// one cron-backed driver, per-name mutual exclusion, and exactly one
// JobRun audit row per execution attempt, written even when a handler
// panics.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/AetherSilva/G3r4kiHub/internal/domain"
	"github.com/AetherSilva/G3r4kiHub/internal/ports"
	"github.com/AetherSilva/G3r4kiHub/pkg/logx"
)

// Handler executes one job run and classifies its outcome. The summary is
// the human-readable JobRun line; err carries run-fatal detail.
type Handler func(ctx context.Context) (domain.Outcome, string, error)

// Job is one row of the job table.
type Job struct {
	Name    string
	Spec    string // 5-field cron spec or @descriptor
	Timeout time.Duration
	Run     Handler
}

// JobStatus is the outward status snapshot per job name.
type JobStatus struct {
	Name         string         `json:"name"`
	Spec         string         `json:"spec"`
	Running      bool           `json:"running"`
	LastRunID    string         `json:"last_run_id,omitempty"`
	LastStarted  time.Time      `json:"last_started,omitempty"`
	LastFinished time.Time      `json:"last_finished,omitempty"`
	LastOutcome  domain.Outcome `json:"last_outcome,omitempty"`
	LastSummary  string         `json:"last_summary,omitempty"`
	LastError    string         `json:"last_error,omitempty"`
	Next         time.Time      `json:"next,omitempty"`
}

type jobEntry struct {
	def     Job
	entryID cron.EntryID

	mu      sync.Mutex
	running bool
	last    JobStatus
}

type Orchestrator struct {
	log    logx.Logger
	store  ports.Store
	clock  ports.Clock
	parser cron.Parser
	loc    *time.Location

	mu      sync.Mutex
	c       *cron.Cron
	jobs    map[string]*jobEntry
	order   []string
	runCtx  context.Context
	cancel  context.CancelFunc
	started bool

	wg sync.WaitGroup
}

func New(store ports.Store, clock ports.Clock, loc *time.Location, log logx.Logger) *Orchestrator {
	if loc == nil {
		loc = time.UTC
	}
	return &Orchestrator{
		log:    log,
		store:  store,
		clock:  clock,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		loc:    loc,
		jobs:   map[string]*jobEntry{},
	}
}

// Register adds a job to the table. Must be called before Start; names are
// unique.
func (o *Orchestrator) Register(j Job) error {
	if j.Name == "" || j.Run == nil {
		return errors.New("job needs a name and a handler")
	}
	if _, err := o.parser.Parse(j.Spec); err != nil {
		return fmt.Errorf("job %s: invalid spec %q: %w", j.Name, j.Spec, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return errors.New("register after start")
	}
	if _, dup := o.jobs[j.Name]; dup {
		return fmt.Errorf("duplicate job name %q", j.Name)
	}
	o.jobs[j.Name] = &jobEntry{def: j, last: JobStatus{Name: j.Name, Spec: j.Spec}}
	o.order = append(o.order, j.Name)
	return nil
}

// Start begins dispatching scheduled ticks. Each tick runs as its own
// goroutine so one job's network call never blocks the scheduling of
// unrelated jobs.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return nil
	}

	o.runCtx, o.cancel = context.WithCancel(ctx)
	o.c = cron.New(cron.WithParser(o.parser), cron.WithLocation(o.loc))

	for _, name := range o.order {
		e := o.jobs[name]
		entry := e
		id, err := o.c.AddFunc(e.def.Spec, func() {
			o.dispatch(entry, "schedule")
		})
		if err != nil {
			return fmt.Errorf("schedule job %s: %w", name, err)
		}
		e.entryID = id
	}

	o.c.Start()
	o.started = true
	o.log.Info("orchestrator started", logx.Int("jobs", len(o.jobs)), logx.String("tz", o.loc.String()))
	return nil
}

// Stop halts scheduling and waits for in-flight runs up to ctx's deadline.
// Runs are asked to stop cooperatively via the run context.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return nil
	}
	c := o.c
	cancel := o.cancel
	o.c = nil
	o.cancel = nil
	o.started = false
	o.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.log.Info("orchestrator stopped")
		return nil
	case <-ctx.Done():
		o.log.Warn("orchestrator stop timed out; runs finishing in background")
		return ctx.Err()
	}
}

// TriggerNow runs the named job immediately with the same eligibility and
// mutual-exclusion guarantees as a scheduled tick. Returns ErrUnknownJob
// for names not in the table; an already-running job makes the trigger a
// logged no-op, mirroring an overlapping tick.
var ErrUnknownJob = errors.New("unknown job")

func (o *Orchestrator) TriggerNow(name string) error {
	o.mu.Lock()
	e, ok := o.jobs[name]
	started := o.started
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if !started {
		return errors.New("orchestrator not started")
	}
	o.dispatch(e, "manual")
	return nil
}

// Status returns the snapshot for one job name.
func (o *Orchestrator) Status(name string) (JobStatus, bool) {
	o.mu.Lock()
	e, ok := o.jobs[name]
	c := o.c
	o.mu.Unlock()
	if !ok {
		return JobStatus{}, false
	}
	return o.snapshot(e, c), true
}

// Statuses returns snapshots for every job in registration order.
func (o *Orchestrator) Statuses() []JobStatus {
	o.mu.Lock()
	c := o.c
	names := append([]string(nil), o.order...)
	o.mu.Unlock()

	out := make([]JobStatus, 0, len(names))
	for _, name := range names {
		o.mu.Lock()
		e := o.jobs[name]
		o.mu.Unlock()
		out = append(out, o.snapshot(e, c))
	}
	return out
}

func (o *Orchestrator) snapshot(e *jobEntry, c *cron.Cron) JobStatus {
	e.mu.Lock()
	st := e.last
	st.Running = e.running
	e.mu.Unlock()
	if c != nil {
		st.Next = c.Entry(e.entryID).Next
	}
	return st
}

func (o *Orchestrator) dispatch(e *jobEntry, trigger string) {
	o.mu.Lock()
	ctx := o.runCtx
	o.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.exec(ctx, e, trigger)
	}()
}

// exec is the single execution path for scheduled and manual runs.
func (o *Orchestrator) exec(ctx context.Context, e *jobEntry, trigger string) {
	// Per-name mutual exclusion: overlapping ticks are skipped and logged,
	// never queued.
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		o.log.Warn("job tick skipped: already running",
			logx.String("job", e.def.Name), logx.String("trigger", trigger))
		return
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	runID := uuid.NewString()
	started := o.clock.Now()
	log := o.log.With(logx.String("job", e.def.Name), logx.String("run_id", runID))
	log.Debug("job started", logx.String("trigger", trigger))

	run := domain.JobRun{
		Job:         e.def.Name,
		RunID:       runID,
		ScheduledAt: started,
		StartedAt:   started,
	}

	outcome := domain.OutcomeFailed
	summary := ""
	var runErr error

	// Guarded completion: the audit row is appended even on panic, and the
	// append itself is shielded from run-context cancellation.
	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("panic: %v", r)
			outcome = domain.OutcomeFailed
			log.Error("job panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}

		run.FinishedAt = o.clock.Now()
		run.Outcome = outcome
		run.Summary = summary
		if runErr != nil {
			run.Error = runErr.Error()
		}

		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := o.store.AppendJobRun(actx, run); err != nil {
			log.Error("job run audit append failed", logx.Err(err))
		}

		e.mu.Lock()
		e.last = JobStatus{
			Name:         e.def.Name,
			Spec:         e.def.Spec,
			LastRunID:    runID,
			LastStarted:  run.StartedAt,
			LastFinished: run.FinishedAt,
			LastOutcome:  outcome,
			LastSummary:  summary,
			LastError:    run.Error,
		}
		e.mu.Unlock()

		dur := run.FinishedAt.Sub(run.StartedAt)
		switch outcome {
		case domain.OutcomeSucceeded:
			log.Info("job finished", logx.String("outcome", string(outcome)), logx.Duration("dur", dur), logx.String("summary", summary))
		case domain.OutcomePartial:
			log.Warn("job finished degraded", logx.String("outcome", string(outcome)), logx.Duration("dur", dur), logx.String("summary", summary))
		default:
			log.Error("job failed", logx.Duration("dur", dur), logx.Err(runErr), logx.String("summary", summary))
		}
	}()

	rctx := ctx
	if e.def.Timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, e.def.Timeout)
		defer cancel()
	}

	outcome, summary, runErr = e.def.Run(rctx)
}

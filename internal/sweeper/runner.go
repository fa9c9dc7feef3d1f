// Package sweeper runs the periodic maintenance jobs: order expiration and
// group overcapacity eviction.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dandantas/boarding/internal/clock"
	"github.com/dandantas/boarding/internal/model"
	"github.com/dandantas/boarding/internal/report"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Job is one sweeper. Run must not return until the sweep is complete.
type Job interface {
	Name() string
	Run(ctx context.Context, run *model.JobRun)
}

type registered struct {
	job     Job
	running atomic.Bool
}

type delayedRun struct {
	name    string
	delay   time.Duration
	trigger string
}

// Runner schedules jobs on robfig/cron and drops overlapping runs
type Runner struct {
	cron      *cron.Cron
	publisher *report.Publisher
	clock     clock.Clock

	mu      sync.Mutex
	jobs    map[string]*registered
	delayed []delayedRun
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner creates a runner; publisher receives every run summary
func NewRunner(publisher *report.Publisher, c clock.Clock) *Runner {
	if c == nil {
		c = clock.Real{}
	}
	logger := newCronLogger()
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger)),
		),
		publisher: publisher,
		clock:     c,
		jobs:      make(map[string]*registered),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Register makes a job available to Trigger without scheduling it
func (r *Runner) Register(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.Name()]; !ok {
		r.jobs[job.Name()] = &registered{job: job}
	}
}

// Schedule registers job and runs it on spec (five-field cron or @every)
func (r *Runner) Schedule(spec string, job Job) error {
	name := job.Name()

	wrapped := cron.NewChain(cron.SkipIfStillRunning(newCronLogger())).Then(cron.FuncJob(func() {
		r.execute(r.ctx, name, model.TriggerSchedule)
	}))
	if _, err := r.cron.AddJob(spec, wrapped); err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
	}
	r.Register(job)

	slog.Info("Sweeper scheduled", "job", name, "schedule", spec)
	return nil
}

// RunAfter runs a registered job once, delay after Start
func (r *Runner) RunAfter(name string, delay time.Duration, trigger string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delayed = append(r.delayed, delayedRun{name: name, delay: delay, trigger: trigger})
}

// Start begins scheduling
func (r *Runner) Start() {
	r.mu.Lock()
	delayed := r.delayed
	r.delayed = nil
	r.mu.Unlock()

	for _, d := range delayed {
		r.wg.Add(1)
		go func(d delayedRun) {
			defer r.wg.Done()
			select {
			case <-r.clock.After(d.delay):
				r.execute(r.ctx, d.name, d.trigger)
			case <-r.ctx.Done():
			}
		}(d)
	}

	r.cron.Start()
	slog.Info("Sweeper runner started", "jobs", r.Names())
}

// Stop cancels in-flight sweeps and waits for them, bounded by ctx
func (r *Runner) Stop(ctx context.Context) {
	r.cancel()
	cronDone := r.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Sweeper runner stopped")
	case <-ctx.Done():
		slog.Warn("Timeout waiting for sweepers to complete")
	}
}

// Trigger runs a job now, synchronously. An overlapping run is dropped and
// reported as skipped.
func (r *Runner) Trigger(ctx context.Context, name string) (*model.JobRun, error) {
	r.mu.Lock()
	_, ok := r.jobs[name]
	r.mu.Unlock()
	if !ok {
		return nil, model.NotFoundError("unknown job %q", name)
	}
	return r.execute(ctx, name, model.TriggerManual), nil
}

// Names lists registered jobs
func (r *Runner) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Runner) execute(ctx context.Context, name, trigger string) *model.JobRun {
	r.mu.Lock()
	reg := r.jobs[name]
	r.mu.Unlock()

	run := &model.JobRun{
		RunID:     uuid.New().String(),
		Job:       name,
		Trigger:   trigger,
		StartedAt: r.clock.Now(),
	}
	if reg == nil {
		run.Fail(fmt.Errorf("job %q is not registered", name), r.clock.Now())
		return run
	}

	if !reg.running.CompareAndSwap(false, true) {
		run.Skip(model.ReasonInProgress, r.clock.Now())
		slog.Info("Sweeper run dropped, previous run still in progress", "job", name, "trigger", trigger)
		r.publisher.Publish(ctx, run)
		return run
	}
	defer reg.running.Store(false)

	reg.job.Run(ctx, run)
	if run.Outcome == "" {
		run.Finish(model.OutcomeCompleted, r.clock.Now())
	}

	slog.Info("Sweeper run finished",
		"job", name,
		"run_id", run.RunID,
		"trigger", trigger,
		"outcome", run.Outcome,
		"counters", run.Counters,
		"duration_ms", run.DurationMs,
	)
	r.publisher.Publish(ctx, run)
	return run
}

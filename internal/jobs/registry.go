// Package jobs exposes the scheduler and sweepers as named jobs that admins
// can trigger synchronously or in the background.
package jobs

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dandantas/boarding/internal/model"
	"github.com/dandantas/boarding/internal/worker"
	"github.com/google/uuid"
)

// Job status values
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// statusRetention bounds how many background submissions stay queryable
const statusRetention = 512

// TriggerFunc runs a job once and returns its summary
type TriggerFunc func(ctx context.Context) (*model.JobRun, error)

type submission struct {
	jobID string
	name  string
	fn    TriggerFunc
}

// Registry maps job names to triggers and tracks background submissions
type Registry struct {
	mu       sync.RWMutex
	triggers map[string]TriggerFunc
	statuses *model.JobStatusLog
	pool     *worker.Pool[submission, struct{}]
}

// NewRegistry creates a registry whose background runs use workers goroutines
func NewRegistry(workers, queueSize int) *Registry {
	r := &Registry{
		triggers: make(map[string]TriggerFunc),
		statuses: model.NewJobStatusLog(statusRetention),
	}
	r.pool = worker.NewPool("jobs", workers, queueSize, r.execute)
	return r
}

// Add registers a trigger under name
func (r *Registry) Add(name string, fn TriggerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers[name] = fn
}

// Names lists registered jobs
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.triggers))
	for name := range r.triggers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start launches the background workers and drains their results
func (r *Registry) Start() {
	r.pool.Start()
	go func() {
		for range r.pool.Results() {
		}
	}()
}

// Stop waits for queued background runs to finish
func (r *Registry) Stop() {
	r.pool.Stop()
}

// Run triggers a job synchronously
func (r *Registry) Run(ctx context.Context, name string) (*model.JobRun, error) {
	fn, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return fn(ctx)
}

// Submit queues a job for background execution and returns its job id
func (r *Registry) Submit(ctx context.Context, name string) (string, error) {
	fn, err := r.lookup(name)
	if err != nil {
		return "", err
	}

	jobID := uuid.New().String()
	r.statuses.Put(model.JobStatus{JobID: jobID, Job: name, Status: StatusQueued, SubmittedAt: time.Now()})

	err = r.pool.Submit(worker.Task[submission]{
		Context: context.WithoutCancel(ctx),
		Item:    submission{jobID: jobID, name: name, fn: fn},
	})
	if err != nil {
		r.statuses.Forget(jobID)
		return "", err
	}
	return jobID, nil
}

// Status returns a background submission's status
func (r *Registry) Status(jobID string) (model.JobStatus, bool) {
	return r.statuses.Get(jobID)
}

func (r *Registry) lookup(name string) (TriggerFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.triggers[name]
	if !ok {
		return nil, model.NotFoundError("unknown job %q", name)
	}
	return fn, nil
}

func (r *Registry) execute(ctx context.Context, s submission) struct{} {
	status, _ := r.statuses.Get(s.jobID)
	status.Status = StatusProcessing
	r.statuses.Put(status)

	slog.Info("Starting background job", "job_id", s.jobID, "job", s.name)

	run, err := s.fn(ctx)

	finished := time.Now()
	status.Status = StatusCompleted
	status.Result = run
	status.FinishedAt = &finished
	if err != nil {
		status.Status = StatusFailed
		status.Error = err.Error()
	} else if run != nil && run.Outcome == model.OutcomeFailed {
		status.Status = StatusFailed
		status.Error = run.Error
	}
	r.statuses.Put(status)

	slog.Info("Background job finished", "job_id", s.jobID, "job", s.name, "status", status.Status)
	return struct{}{}
}

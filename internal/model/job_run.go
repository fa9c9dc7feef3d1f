package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Job names
const (
	JobFulfillment  = "fulfillment"
	JobOrderExpiry  = "order_expiry"
	JobOvercapacity = "overcapacity"
)

// Run triggers
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerStartup  = "startup"
)

// RunOutcome is the final state of a job run
type RunOutcome string

const (
	OutcomeCompleted RunOutcome = "completed"
	OutcomeSkipped   RunOutcome = "skipped"
	OutcomeFailed    RunOutcome = "failed"
)

// Skip and failure reasons
const (
	ReasonInProgress      = "in_progress"
	ReasonOutsideWindow   = "outside_window"
	ReasonQueueEmpty      = "queue_empty"
	ReasonIncompleteEntry = "incomplete_entry"
	ReasonEntryChanged    = "entry_changed"
	ReasonNoResource      = "no_resource"
	ReasonNoGroup         = "no_group"
)

// GroupSweepResult is the per-group outcome of an overcapacity sweep
type GroupSweepResult struct {
	GroupID       string `json:"group_id" bson:"group_id"`
	Identity      string `json:"identity" bson:"identity"`
	MembersBefore int    `json:"members_before" bson:"members_before"`
	Removed       int    `json:"removed" bson:"removed"`
	MembersAfter  int    `json:"members_after" bson:"members_after"`
	Error         string `json:"error,omitempty" bson:"error,omitempty"`
}

// JobRun is the persisted summary of one scheduler or sweeper run
type JobRun struct {
	ID         primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	RunID      string             `json:"run_id" bson:"run_id"`
	Job        string             `json:"job" bson:"job"`
	Trigger    string             `json:"trigger" bson:"trigger"`
	Outcome    RunOutcome         `json:"outcome" bson:"outcome"`
	Reason     string             `json:"reason,omitempty" bson:"reason,omitempty"`
	Error      string             `json:"error,omitempty" bson:"error,omitempty"`
	StartedAt  time.Time          `json:"started_at" bson:"started_at"`
	FinishedAt time.Time          `json:"finished_at" bson:"finished_at"`
	DurationMs int64              `json:"duration_ms" bson:"duration_ms"`

	EntryID      string `json:"entry_id,omitempty" bson:"entry_id,omitempty"`
	ResourceID   string `json:"resource_id,omitempty" bson:"resource_id,omitempty"`
	GroupID      string `json:"group_id,omitempty" bson:"group_id,omitempty"`
	Email        string `json:"email,omitempty" bson:"email,omitempty"`
	InviteStatus string `json:"invite_status,omitempty" bson:"invite_status,omitempty"`

	Counters map[string]int     `json:"counters,omitempty" bson:"counters,omitempty"`
	Groups   []GroupSweepResult `json:"groups,omitempty" bson:"groups,omitempty"`
}

// Finish stamps the end of the run
func (r *JobRun) Finish(outcome RunOutcome, at time.Time) {
	r.Outcome = outcome
	r.FinishedAt = at
	r.DurationMs = at.Sub(r.StartedAt).Milliseconds()
}

// Skip finishes the run as skipped with a reason
func (r *JobRun) Skip(reason string, at time.Time) {
	r.Reason = reason
	r.Finish(OutcomeSkipped, at)
}

// Fail finishes the run as failed
func (r *JobRun) Fail(err error, at time.Time) {
	if err != nil {
		r.Error = err.Error()
	}
	r.Finish(OutcomeFailed, at)
}

// Count increments a named counter
func (r *JobRun) Count(name string, n int) {
	if r.Counters == nil {
		r.Counters = make(map[string]int)
	}
	r.Counters[name] += n
}

// JobRunSummary represents a summary for list responses
type JobRunSummary struct {
	RunID      string     `json:"run_id"`
	Job        string     `json:"job"`
	Trigger    string     `json:"trigger"`
	Outcome    RunOutcome `json:"outcome"`
	Reason     string     `json:"reason,omitempty"`
	StartedAt  string     `json:"started_at"`
	DurationMs int64      `json:"duration_ms"`
}

// ToSummary converts JobRun to JobRunSummary
func (r *JobRun) ToSummary() JobRunSummary {
	var startedAt string
	if !r.StartedAt.IsZero() {
		startedAt = r.StartedAt.Format(time.RFC3339)
	}
	return JobRunSummary{
		RunID:      r.RunID,
		Job:        r.Job,
		Trigger:    r.Trigger,
		Outcome:    r.Outcome,
		Reason:     r.Reason,
		StartedAt:  startedAt,
		DurationMs: r.DurationMs,
	}
}

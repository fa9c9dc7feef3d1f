package model

import (
	"sync"
	"time"
)

// JobStatus tracks one background job submission
type JobStatus struct {
	JobID       string     `json:"job_id"`
	Job         string     `json:"job"`
	Status      string     `json:"status"` // queued, processing, completed, failed
	Error       string     `json:"error,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Result      *JobRun    `json:"result,omitempty"`
}

// Finished reports whether the submission reached a final status
func (s JobStatus) Finished() bool {
	return s.FinishedAt != nil
}

// JobStatusLog keeps the most recent submissions in memory. Once it holds
// more than limit entries the oldest finished ones are forgotten.
type JobStatusLog struct {
	mu    sync.Mutex
	limit int
	order []string
	byID  map[string]JobStatus
}

// NewJobStatusLog creates a log retaining about limit submissions
func NewJobStatusLog(limit int) *JobStatusLog {
	if limit <= 0 {
		limit = 256
	}
	return &JobStatusLog{limit: limit, byID: make(map[string]JobStatus)}
}

// Put records or replaces a submission's status
func (l *JobStatusLog) Put(s JobStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, seen := l.byID[s.JobID]; !seen {
		l.order = append(l.order, s.JobID)
	}
	l.byID[s.JobID] = s
	l.trim()
}

// Get returns a submission's status
func (l *JobStatusLog) Get(jobID string) (JobStatus, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.byID[jobID]
	return s, ok
}

// Forget drops a submission
func (l *JobStatusLog) Forget(jobID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.byID, jobID)
	for i, id := range l.order {
		if id == jobID {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

// trim evicts finished submissions oldest first; unfinished ones are kept
func (l *JobStatusLog) trim() {
	excess := len(l.order) - l.limit
	if excess <= 0 {
		return
	}
	kept := l.order[:0]
	for _, id := range l.order {
		if excess > 0 && l.byID[id].Finished() {
			delete(l.byID, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	l.order = kept
}

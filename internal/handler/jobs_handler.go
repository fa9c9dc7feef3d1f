package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dandantas/boarding/internal/config"
	"github.com/dandantas/boarding/internal/jobs"
	"github.com/dandantas/boarding/internal/model"
	"github.com/dandantas/boarding/internal/scheduler"
	"github.com/dandantas/boarding/internal/store"
	"github.com/dandantas/boarding/pkg/middleware"
)

// RunSummaries reads cached run aggregates
type RunSummaries interface {
	Totals(ctx context.Context, job string) (map[string]int64, error)
	Last(ctx context.Context, job string) (*model.JobRun, error)
}

// JobsHandler triggers jobs and reports their history
type JobsHandler struct {
	registry  *jobs.Registry
	state     *scheduler.State
	runs      store.RunStore
	summaries RunSummaries
}

// NewJobsHandler creates a new jobs handler. summaries may be nil.
func NewJobsHandler(registry *jobs.Registry, state *scheduler.State, runs store.RunStore, summaries RunSummaries) *JobsHandler {
	return &JobsHandler{registry: registry, state: state, runs: runs, summaries: summaries}
}

// JobsResponse lists the registered jobs
type JobsResponse struct {
	Jobs      []string         `json:"jobs"`
	Scheduler scheduler.Status `json:"scheduler"`
}

// SubmitResponse is returned for background runs
type SubmitResponse struct {
	JobID   string `json:"job_id"`
	Job     string `json:"job"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HoursRequest replaces the boarding window
type HoursRequest struct {
	Hours string `json:"hours"`
}

// SummaryResponse carries cached aggregates for one job
type SummaryResponse struct {
	Job    string           `json:"job"`
	Totals map[string]int64 `json:"totals"`
	Last   *model.JobRun    `json:"last,omitempty"`
}

// List handles GET /api/v1/admin/jobs
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, JobsResponse{
		Jobs:      h.registry.Names(),
		Scheduler: h.state.Status(),
	})
}

// Run handles POST /api/v1/admin/jobs/{name}/run. With ?async=true the run is
// queued and 202 is returned with a job id to poll.
func (h *JobsHandler) Run(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if parseQueryBool(r, "async") {
		jobID, err := h.registry.Submit(r.Context(), name)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		slog.Info("Job queued",
			"job_id", jobID,
			"job", name,
			"correlation_id", middleware.GetCorrelationID(r.Context()),
		)
		writeJSON(w, http.StatusAccepted, SubmitResponse{
			JobID:   jobID,
			Job:     name,
			Status:  jobs.StatusQueued,
			Message: "Job queued. Poll /api/v1/admin/job-status/" + jobID + " for the result.",
		})
		return
	}

	run, err := h.registry.Run(r.Context(), name)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// Status handles GET /api/v1/admin/job-status/{jobID}
func (h *JobsHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, ok := h.registry.Status(r.PathValue("jobID"))
	if !ok {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// History handles GET /api/v1/admin/jobs/{name}/runs
func (h *JobsHandler) History(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	page := parseQueryInt(r, "page", 1)
	limit := parseQueryInt(r, "limit", 20)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	runs, total, err := h.runs.ListRuns(r.Context(), name, page, limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.Page[model.JobRun]{
		Total:   total,
		Page:    page,
		Limit:   limit,
		Results: runs,
	})
}

// Summary handles GET /api/v1/admin/jobs/{name}/summary
func (h *JobsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	if h.summaries == nil {
		writeError(w, http.StatusNotImplemented, "run summaries are not configured")
		return
	}
	name := r.PathValue("name")

	totals, err := h.summaries.Totals(r.Context(), name)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	last, err := h.summaries.Last(r.Context(), name)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SummaryResponse{Job: name, Totals: totals, Last: last})
}

// SetHours handles PUT /api/v1/admin/scheduler/hours
func (h *JobsHandler) SetHours(w http.ResponseWriter, r *http.Request) {
	var req HoursRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}

	hours, err := config.ParseActiveHours(req.Hours)
	if err != nil {
		writeDomainError(w, r, model.ValidationError("invalid hours %q: %v", req.Hours, err))
		return
	}
	if hours.Empty() {
		writeDomainError(w, r, model.ValidationError("hours must select at least one hour"))
		return
	}

	h.state.SetHours(hours)
	slog.Info("Boarding hours updated",
		"hours", hours.String(),
		"correlation_id", middleware.GetCorrelationID(r.Context()),
	)
	writeJSON(w, http.StatusOK, h.state.Status())
}

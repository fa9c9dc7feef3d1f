package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dandantas/boarding/internal/model"
)

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.RecordRun(context.Background(), &model.JobRun{Job: model.JobFulfillment})
	r.LockWait("identity:a", time.Millisecond)
	r.ObserveQueueDepth(func(context.Context) (int64, error) { return 0, nil })
}

func TestPrometheusHandlerExposesRecordedRuns(t *testing.T) {
	p, err := Setup()
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer p.Shutdown(context.Background())

	r := New()
	r.ObserveQueueDepth(func(context.Context) (int64, error) { return 7, nil })
	r.RecordRun(context.Background(), &model.JobRun{
		Job:          model.JobFulfillment,
		Trigger:      model.TriggerSchedule,
		Outcome:      model.OutcomeCompleted,
		InviteStatus: model.InvitationDelivered,
		DurationMs:   12,
	})
	r.LockWait("queue:admission", 2*time.Millisecond)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{"boarding_job_runs", "boarding_queue_waiting", "boarding_lock_wait"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected %s in metrics output, got:\n%s", want, body)
		}
	}
}

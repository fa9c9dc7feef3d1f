package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dandantas/boarding/internal/model"
	"github.com/dandantas/boarding/internal/retry"
)

func TestRunEventFormatsCountersAndGroups(t *testing.T) {
	run := &model.JobRun{
		RunID:   "r1",
		Job:     model.JobOvercapacity,
		Outcome: model.OutcomeCompleted,
		Groups: []model.GroupSweepResult{
			{Identity: "a@example.com", MembersBefore: 8, Removed: 2, MembersAfter: 6},
			{Identity: "b@example.com", MembersBefore: 6, MembersAfter: 6},
			{Identity: "c@example.com", MembersBefore: 9, Removed: 1, MembersAfter: 8, Error: "HTTP 500"},
		},
	}
	run.Count("scanned", 3)
	run.Count("evicted", 3)

	ev := RunEvent(run)
	if !strings.Contains(ev.Text, "[evicted=3 scanned=3]") {
		t.Fatalf("expected sorted counters, got %q", ev.Text)
	}
	if strings.Contains(ev.Text, "b@example.com") {
		t.Fatalf("unchanged groups should be omitted: %q", ev.Text)
	}
	if ev.Severity != "warning" {
		t.Fatalf("expected warning severity, got %s", ev.Severity)
	}
}

func TestWebhookRetriesThenDelivers(t *testing.T) {
	var calls int32
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	policy := retry.NewPolicy(model.RetryConfig{MaxAttempts: 3},
		retry.WithSleep(func(context.Context, time.Duration) error { return nil }))
	hook := NewWebhook(srv.URL, time.Second, policy)

	ctx, cancel := context.WithCancel(context.Background())
	hook.Notify(ctx, Event{Kind: "test", Text: "hello", Severity: "info"})
	cancel()
	hook.Close()

	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if got["text"] != "hello" {
		t.Fatalf("unexpected payload %+v", got)
	}
	meta, _ := got["metadata"].(map[string]interface{})
	if meta["kind"] != "test" || meta["service"] != "boarding" {
		t.Fatalf("unexpected metadata %+v", meta)
	}
}

package report

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dandantas/boarding/internal/model"
	"github.com/dandantas/boarding/internal/notify"
	"github.com/dandantas/boarding/internal/store/memory"
)

type failingRecorder struct{ err error }

func (f failingRecorder) Record(context.Context, *model.JobRun) error { return f.err }

type captureNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (c *captureNotifier) Notify(_ context.Context, e notify.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func TestMultiRecordsEverywhereAndJoinsErrors(t *testing.T) {
	st := memory.New()
	boom := errors.New("boom")
	m := Multi{NewStoreRecorder(st), failingRecorder{err: boom}, nil}

	run := &model.JobRun{RunID: "r1", Job: model.JobOrderExpiry, StartedAt: time.Now()}
	err := m.Record(context.Background(), run)
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error to contain boom, got %v", err)
	}

	runs, total, err := st.ListRuns(context.Background(), model.JobOrderExpiry, 1, 10)
	if err != nil || total != 1 || runs[0].RunID != "r1" {
		t.Fatalf("expected run persisted despite failing sibling, got %v %d %v", runs, total, err)
	}
}

func TestPublishNotifiesNotableRuns(t *testing.T) {
	n := &captureNotifier{}
	p := NewPublisher(NewStoreRecorder(memory.New()), nil, n)

	p.Publish(context.Background(), &model.JobRun{Job: model.JobFulfillment, Outcome: model.OutcomeSkipped, Reason: model.ReasonQueueEmpty})
	p.Publish(context.Background(), &model.JobRun{Job: model.JobFulfillment, Outcome: model.OutcomeCompleted})
	p.Publish(context.Background(), &model.JobRun{Job: model.JobOvercapacity, Outcome: model.OutcomeCompleted, Counters: map[string]int{"scanned": 3}})
	p.Publish(context.Background(), &model.JobRun{Job: model.JobOvercapacity, Outcome: model.OutcomeCompleted, Counters: map[string]int{"evicted": 1}})

	if len(n.events) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(n.events))
	}
}

func TestNilRedisRecorderIsNoop(t *testing.T) {
	var r *RedisRecorder
	if err := r.Record(context.Background(), &model.JobRun{Job: "x"}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestRedisKeys(t *testing.T) {
	r := NewRedisRecorder(nil, WithPrefix("app:runs:"))
	at := time.Date(2025, 5, 1, 23, 0, 0, 0, time.UTC)
	if got := r.totalKey("fulfillment"); got != "app:runs:fulfillment:total" {
		t.Fatalf("unexpected total key %s", got)
	}
	if got := r.dayKey("fulfillment", at); got != "app:runs:fulfillment:day:20250501" {
		t.Fatalf("unexpected day key %s", got)
	}
}

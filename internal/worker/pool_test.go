package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestMapPreservesOrder(t *testing.T) {
	items := []int{5, 1, 4, 2, 3}
	got := Map(context.Background(), "test", 3, items, func(_ context.Context, n int) int {
		time.Sleep(time.Duration(n) * time.Millisecond)
		return n * 10
	})

	for i, n := range items {
		if got[i] != n*10 {
			t.Fatalf("expected %d at %d, got %d", n*10, i, got[i])
		}
	}
}

func TestMapBoundsConcurrency(t *testing.T) {
	var inFlight, peak int32
	items := make([]int, 20)

	Map(context.Background(), "test", 4, items, func(_ context.Context, _ int) struct{} {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return struct{}{}
	})

	if peak > 4 {
		t.Fatalf("expected at most 4 concurrent workers, got %d", peak)
	}
}

func TestMapEmpty(t *testing.T) {
	got := Map(context.Background(), "test", 3, []string(nil), func(_ context.Context, s string) string { return s })
	if len(got) != 0 {
		t.Fatalf("expected empty result, got %v", got)
	}
}

func TestPoolSubmitAndStop(t *testing.T) {
	p := NewPool("test", 1, 1, func(_ context.Context, n int) int { return n })
	p.Start()
	if err := p.Submit(Task[int]{Item: 1}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	res := <-p.Results()
	if res.Value != 1 {
		t.Fatalf("expected 1, got %d", res.Value)
	}
	p.Stop()
}

package model

import (
	"fmt"
	"testing"
	"time"
)

func TestJobStatusLogKeepsUnfinished(t *testing.T) {
	log := NewJobStatusLog(2)
	done := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	log.Put(JobStatus{JobID: "a", Status: "queued"})
	for i := 0; i < 3; i++ {
		log.Put(JobStatus{JobID: fmt.Sprintf("f%d", i), Status: "completed", FinishedAt: &done})
	}

	if _, ok := log.Get("a"); !ok {
		t.Fatal("unfinished submission was evicted")
	}
	if _, ok := log.Get("f0"); ok {
		t.Fatal("expected oldest finished submission to be evicted")
	}
	if _, ok := log.Get("f2"); !ok {
		t.Fatal("expected newest submission to be kept")
	}
}

func TestJobStatusLogReplaceAndForget(t *testing.T) {
	log := NewJobStatusLog(0)
	log.Put(JobStatus{JobID: "a", Status: "queued"})
	log.Put(JobStatus{JobID: "a", Status: "processing"})

	got, ok := log.Get("a")
	if !ok || got.Status != "processing" {
		t.Fatalf("got %+v, %v", got, ok)
	}

	log.Forget("a")
	if _, ok := log.Get("a"); ok {
		t.Fatal("expected submission to be forgotten")
	}
	if len(log.order) != 0 {
		t.Fatalf("order not trimmed: %v", log.order)
	}
}

package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dandantas/boarding/internal/model"
	"github.com/dandantas/boarding/internal/store"
)

var t0 = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

func TestInsertEntryAssignsMonotonicSeq(t *testing.T) {
	s := New()
	ctx := context.Background()

	a := &model.QueueEntry{Identity: "a", Status: model.EntryWaiting}
	b := &model.QueueEntry{Identity: "b", Status: model.EntryWaiting}
	if err := s.InsertEntry(ctx, a); err != nil {
		t.Fatalf("insert a: %v", err)
	}
	if err := s.InsertEntry(ctx, b); err != nil {
		t.Fatalf("insert b: %v", err)
	}
	if a.Seq >= b.Seq {
		t.Fatalf("expected increasing seq, got %d then %d", a.Seq, b.Seq)
	}

	dup := &model.QueueEntry{Identity: "a", Status: model.EntryWaiting}
	if err := s.InsertEntry(ctx, dup); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for second waiting entry, got %v", err)
	}
}

func TestResourceConditionalUpdates(t *testing.T) {
	s := New()
	ctx := context.Background()

	r := &model.Resource{Value: "CODE-1", Channel: "linux-do", CreatedAt: t0}
	if err := s.InsertResource(ctx, r); err != nil {
		t.Fatalf("insert: %v", err)
	}
	holder := model.Holder{Kind: model.HolderEntry, Ref: "entry-1"}

	if err := s.MarkReserved(ctx, r.ID, holder, t0); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := s.MarkReserved(ctx, r.ID, model.Holder{Ref: "entry-2"}, t0); !errors.Is(err, store.ErrLostRace) {
		t.Fatalf("second reserve should lose, got %v", err)
	}
	if err := s.MarkReleased(ctx, r.ID, "entry-2", false, t0); !errors.Is(err, store.ErrLostRace) {
		t.Fatalf("release by non-holder should lose, got %v", err)
	}
	if err := s.MarkRedeemed(ctx, r.ID, "entry-1", "UID:1", t0); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if err := s.MarkReleased(ctx, r.ID, "", true, t0); !errors.Is(err, store.ErrLostRace) {
		t.Fatalf("forced release of redeemed resource must not apply, got %v", err)
	}

	got, err := s.GetResource(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != model.ResourceRedeemed || got.Holder == nil || got.Holder.Ref != "entry-1" {
		t.Fatalf("unexpected resource state %+v", got)
	}
}

func TestFindAvailablePrefersOldest(t *testing.T) {
	s := New()
	ctx := context.Background()

	newer := &model.Resource{Value: "B", Channel: "linux-do", CreatedAt: t0.Add(time.Hour)}
	older := &model.Resource{Value: "A", Channel: "linux-do", CreatedAt: t0}
	other := &model.Resource{Value: "C", Channel: "shop", CreatedAt: t0.Add(-time.Hour)}
	for _, r := range []*model.Resource{newer, older, other} {
		if err := s.InsertResource(ctx, r); err != nil {
			t.Fatalf("insert %s: %v", r.Value, err)
		}
	}

	got, err := s.FindAvailable(ctx, model.ResourceSelector{Channel: "linux-do"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got == nil || got.Value != "A" {
		t.Fatalf("expected oldest resource A, got %+v", got)
	}
}

func TestTransitionEntryTimestamps(t *testing.T) {
	s := New()
	ctx := context.Background()

	e := &model.QueueEntry{Identity: "x", Status: model.EntryWaiting}
	if err := s.InsertEntry(ctx, e); err != nil {
		t.Fatalf("insert: %v", err)
	}
	res := &model.Resource{Value: "V"}
	if err := s.InsertResource(ctx, res); err != nil {
		t.Fatalf("insert resource: %v", err)
	}
	if err := s.BindReservation(ctx, e.ID, res, "auto-scheduler", t0); err != nil {
		t.Fatalf("bind: %v", err)
	}

	err := s.TransitionEntry(ctx, e.ID, store.EntryTransition{
		From:               model.EntryWaiting,
		To:                 model.EntryBoarded,
		At:                 t0,
		RedeemedResourceID: &res.ID,
	})
	if err != nil {
		t.Fatalf("board: %v", err)
	}

	got, _ := s.GetEntry(ctx, e.ID)
	if got.HasReservation() {
		t.Fatalf("reservation must be cleared once boarded")
	}
	if got.BoardedAt == nil || !got.BoardedAt.Equal(t0) {
		t.Fatalf("expected boarded_at %v, got %v", t0, got.BoardedAt)
	}
	if got.RedeemedResourceID == nil || *got.RedeemedResourceID != res.ID {
		t.Fatalf("expected redeemed resource to be recorded")
	}

	err = s.TransitionEntry(ctx, e.ID, store.EntryTransition{From: model.EntryWaiting, To: model.EntryLeft, At: t0})
	if !errors.Is(err, store.ErrLostRace) {
		t.Fatalf("stale from-status must lose, got %v", err)
	}
}

func TestFindExpirableAndExpire(t *testing.T) {
	s := New()
	ctx := context.Background()

	stale := &model.Order{OrderNo: "o-1", Kind: model.OrderPurchase, Status: model.OrderCreated, CreatedAt: t0}
	fresh := &model.Order{OrderNo: "o-2", Kind: model.OrderPurchase, Status: model.OrderPendingPayment, CreatedAt: t0.Add(20 * time.Minute)}
	paid := &model.Order{OrderNo: "o-3", Kind: model.OrderPurchase, Status: model.OrderPaid, CreatedAt: t0, PaidAt: timePtr(t0)}
	for _, o := range []*model.Order{stale, fresh, paid} {
		if err := s.InsertOrder(ctx, o); err != nil {
			t.Fatalf("insert %s: %v", o.OrderNo, err)
		}
	}

	found, err := s.FindExpirable(ctx, model.OrderPurchase, t0.Add(15*time.Minute), 0)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(found) != 1 || found[0].OrderNo != "o-1" {
		t.Fatalf("expected only o-1, got %+v", found)
	}

	if err := s.ExpireOrder(ctx, "o-1", t0); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if err := s.MarkOrderPaid(ctx, "o-1", t0); !errors.Is(err, store.ErrLostRace) {
		t.Fatalf("paying an expired order must lose, got %v", err)
	}
}

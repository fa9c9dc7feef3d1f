package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dandantas/boarding/internal/clock"
	"github.com/dandantas/boarding/internal/config"
	"github.com/dandantas/boarding/internal/groups"
	"github.com/dandantas/boarding/internal/invite/invitetest"
	"github.com/dandantas/boarding/internal/keymutex"
	"github.com/dandantas/boarding/internal/model"
	"github.com/dandantas/boarding/internal/queue"
	"github.com/dandantas/boarding/internal/report"
	"github.com/dandantas/boarding/internal/reservation"
	"github.com/dandantas/boarding/internal/store/memory"
)

const channel = "linux-do"

// 09:00 UTC, inside the default 8-14 window
var t0 = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	fulfiller *Fulfiller
	queue     *queue.Service
	store     *memory.Store
	res       *reservation.Service
	dir       *groups.Directory
	invites   *invitetest.Fake
	clock     *clock.Manual
}

func newFixture(t *testing.T, capacity int) *fixture {
	t.Helper()
	st := memory.New()
	clk := clock.NewManual(t0)
	locks := keymutex.New()
	res := reservation.New(st, clk)
	fake := invitetest.New()
	dir := groups.NewDirectory(st, fake, locks, clk, 6)
	hours, err := config.ParseActiveHours(config.DefaultBoardingHours)
	if err != nil {
		t.Fatalf("hours: %v", err)
	}

	f := NewFulfiller(Deps{
		Entries:      st,
		Invitations:  st,
		Reservations: res,
		Groups:       dir,
		Invites:      fake,
		Locks:        locks,
		Clock:        clk,
		Publisher:    report.NewPublisher(report.NewStoreRecorder(st), nil, nil),
		State:        NewState(hours),
		Channel:      channel,
		Location:     time.UTC,
	})
	q := queue.NewService(st, res, locks, clk, queue.Options{
		Capacity:      capacity,
		MinTrustLevel: 1,
		RequeuePolicy: config.RequeueOverride,
	})

	return &fixture{fulfiller: f, queue: q, store: st, res: res, dir: dir, invites: fake, clock: clk}
}

func (f *fixture) join(t *testing.T, identity string) *model.QueueSnapshot {
	t.Helper()
	snap, err := f.queue.Join(context.Background(), identity, model.Profile{
		Username:   identity,
		TrustLevel: 2,
		Email:      identity + "@example.com",
	})
	if err != nil {
		t.Fatalf("join %s: %v", identity, err)
	}
	return snap
}

func (f *fixture) addGroup(t *testing.T, identity string) *model.Group {
	t.Helper()
	g, err := f.dir.Register(context.Background(), &model.Group{
		Identity:    identity,
		Open:        true,
		Credentials: model.Credentials{AccountID: "acct-" + identity, Token: "tok"},
	})
	if err != nil {
		t.Fatalf("register group: %v", err)
	}
	return g
}

func (f *fixture) addResources(t *testing.T, values ...string) {
	t.Helper()
	if _, err := f.res.Import(context.Background(), values, channel, ""); err != nil {
		t.Fatalf("import: %v", err)
	}
}

func TestCapacityTwoScenarioBoardsHead(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	a := f.join(t, "a")
	b := f.join(t, "b")
	if a.Position != 1 || b.Position != 2 {
		t.Fatalf("expected positions 1 and 2, got %d and %d", a.Position, b.Position)
	}
	if _, err := f.queue.Join(ctx, "c", model.Profile{TrustLevel: 2, Email: "c@example.com"}); !errors.Is(err, model.ErrCapacityExceeded) {
		t.Fatalf("expected capacity error for c, got %v", err)
	}
	f.addResources(t, "CODE-1")
	f.addGroup(t, "team-1")

	run := f.fulfiller.Run(ctx, model.TriggerSchedule)
	if run.Outcome != model.OutcomeCompleted {
		t.Fatalf("expected completed run, got %s/%s (%s)", run.Outcome, run.Reason, run.Error)
	}
	if run.EntryID != a.Entry.ID.Hex() || run.InviteStatus != model.InvitationDelivered {
		t.Fatalf("unexpected run %+v", run)
	}

	boarded, _ := f.store.GetEntry(ctx, a.Entry.ID)
	if boarded.Status != model.EntryBoarded || boarded.RedeemedResourceID == nil || boarded.HasReservation() {
		t.Fatalf("expected a boarded with redeemed resource, got %+v", boarded)
	}
	res, _ := f.store.GetResource(ctx, *boarded.RedeemedResourceID)
	if res.State != model.ResourceRedeemed || res.RedeemedBy != "a@example.com" {
		t.Fatalf("expected redeemed resource, got %+v", res)
	}

	pos, err := f.queue.Position(ctx, "b")
	if err != nil || pos != 1 {
		t.Fatalf("expected b at position 1, got %d (%v)", pos, err)
	}
	if got := f.invites.InvitedEmails(); len(got) != 1 || got[0] != "a@example.com" {
		t.Fatalf("expected a invited, got %v", got)
	}
	if logs := f.store.Invitations(); len(logs) != 1 || logs[0].CorrelationID != run.RunID {
		t.Fatalf("expected one invitation log for the run, got %+v", logs)
	}
}

func TestSkipReasons(t *testing.T) {
	t.Run("empty queue", func(t *testing.T) {
		f := newFixture(t, 10)
		run := f.fulfiller.Run(context.Background(), model.TriggerSchedule)
		if run.Outcome != model.OutcomeSkipped || run.Reason != model.ReasonQueueEmpty {
			t.Fatalf("expected queue_empty skip, got %s/%s", run.Outcome, run.Reason)
		}
	})

	t.Run("outside window", func(t *testing.T) {
		f := newFixture(t, 10)
		f.join(t, "a")
		f.clock.Set(t0.Add(11 * time.Hour))
		run := f.fulfiller.Run(context.Background(), model.TriggerManual)
		if run.Reason != model.ReasonOutsideWindow {
			t.Fatalf("expected outside_window skip, got %s/%s", run.Outcome, run.Reason)
		}
	})

	t.Run("overlapping run", func(t *testing.T) {
		f := newFixture(t, 10)
		if !f.fulfiller.State.TryStart() {
			t.Fatal("expected to claim the slot")
		}
		run := f.fulfiller.Run(context.Background(), model.TriggerSchedule)
		if run.Reason != model.ReasonInProgress {
			t.Fatalf("expected in_progress skip, got %s/%s", run.Outcome, run.Reason)
		}
		if !f.fulfiller.State.Status().Running {
			t.Fatal("dropped run must not release the slot it never held")
		}
	})
}

func TestEmptyPoolIsNoop(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	a := f.join(t, "a")
	f.addGroup(t, "team-1")

	run := f.fulfiller.Run(ctx, model.TriggerSchedule)
	if run.Outcome != model.OutcomeSkipped || run.Reason != model.ReasonNoResource {
		t.Fatalf("expected no_resource skip, got %s/%s", run.Outcome, run.Reason)
	}
	entry, _ := f.store.GetEntry(ctx, a.Entry.ID)
	if entry.Status != model.EntryWaiting || entry.HasReservation() {
		t.Fatalf("entry must be untouched, got %+v", entry)
	}
	if len(f.invites.InvitedEmails()) != 0 {
		t.Fatal("no invitation expected")
	}
}

func TestNoGroupRollsBackReservation(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	a := f.join(t, "a")
	f.addResources(t, "CODE-1")

	run := f.fulfiller.Run(ctx, model.TriggerSchedule)
	if run.Reason != model.ReasonNoGroup {
		t.Fatalf("expected no_group skip, got %s/%s (%s)", run.Outcome, run.Reason, run.Error)
	}

	counts, _ := f.res.Counts(ctx, model.ResourceSelector{Channel: channel})
	if counts[model.ResourceAvailable] != 1 {
		t.Fatalf("expected resource back in the pool, got %v", counts)
	}
	entry, _ := f.store.GetEntry(ctx, a.Entry.ID)
	if entry.Status != model.EntryWaiting || entry.HasReservation() {
		t.Fatalf("expected waiting entry without reservation, got %+v", entry)
	}
}

func TestInviteFailureKeepsRedemption(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	a := f.join(t, "a")
	f.addResources(t, "CODE-1")
	f.addGroup(t, "team-1")
	f.invites.InviteErr = errors.New("upstream 503")

	run := f.fulfiller.Run(ctx, model.TriggerSchedule)
	if run.Outcome != model.OutcomeCompleted || run.InviteStatus != model.InvitationFailed {
		t.Fatalf("expected completed run with failed invite, got %s/%s", run.Outcome, run.InviteStatus)
	}

	entry, _ := f.store.GetEntry(ctx, a.Entry.ID)
	if entry.Status != model.EntryBoarded {
		t.Fatalf("entry must stay boarded, got %s", entry.Status)
	}
	counts, _ := f.res.Counts(ctx, model.ResourceSelector{Channel: channel})
	if counts[model.ResourceRedeemed] != 1 {
		t.Fatalf("resource must stay redeemed, got %v", counts)
	}
	logs := f.store.Invitations()
	if len(logs) != 1 || logs[0].FinalStatus != model.InvitationFailed || logs[0].Error == "" {
		t.Fatalf("expected failed invitation log, got %+v", logs)
	}
}

func TestReusesAdminBoundReservation(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	a := f.join(t, "a")
	f.addResources(t, "OLDER", "BOUND")
	f.addGroup(t, "team-1")

	if _, err := f.queue.BindResource(ctx, a.Entry.ID, "BOUND"); err != nil {
		t.Fatalf("bind: %v", err)
	}

	run := f.fulfiller.Run(ctx, model.TriggerSchedule)
	if run.Outcome != model.OutcomeCompleted {
		t.Fatalf("expected completed run, got %s/%s (%s)", run.Outcome, run.Reason, run.Error)
	}
	bound, _ := f.store.FindResourceByValue(ctx, "BOUND")
	if bound.State != model.ResourceRedeemed || run.ResourceID != bound.ID.Hex() {
		t.Fatalf("expected bound resource redeemed, got %+v", bound)
	}
	older, _ := f.store.FindResourceByValue(ctx, "OLDER")
	if older.State != model.ResourceAvailable {
		t.Fatalf("older resource must stay available, got %s", older.State)
	}
}

func TestBoundGroupIsPreferred(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	f.join(t, "a")
	f.addGroup(t, "team-1")
	bound := f.addGroup(t, "team-2")
	if _, err := f.res.Import(ctx, []string{"CODE-1"}, channel, "TEAM-2"); err != nil {
		t.Fatalf("import: %v", err)
	}

	run := f.fulfiller.Run(ctx, model.TriggerSchedule)
	if run.GroupID != bound.ID.Hex() {
		t.Fatalf("expected bound group %s, got %s", bound.ID.Hex(), run.GroupID)
	}
}

func TestRedeemEntryIgnoresWindow(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	f.join(t, "a")
	b := f.join(t, "b")
	f.addResources(t, "CODE-1")
	f.addGroup(t, "team-1")
	f.clock.Set(t0.Add(12 * time.Hour))

	run, err := f.fulfiller.RedeemEntry(ctx, b.Entry.ID)
	if err != nil {
		t.Fatalf("redeem entry: %v", err)
	}
	if run.Outcome != model.OutcomeCompleted || run.EntryID != b.Entry.ID.Hex() {
		t.Fatalf("expected b boarded out of order, got %+v", run)
	}

	if _, err := f.fulfiller.RedeemEntry(ctx, b.Entry.ID); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected conflict for boarded entry, got %v", err)
	}
}

func TestRunsArePersisted(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	f.fulfiller.Run(ctx, model.TriggerSchedule)
	f.fulfiller.Run(ctx, model.TriggerManual)

	runs, total, err := f.store.ListRuns(ctx, model.JobFulfillment, 1, 10)
	if err != nil || total != 2 {
		t.Fatalf("expected 2 persisted runs, got %d (%v)", total, err)
	}
	if runs[0].Trigger != model.TriggerManual {
		t.Fatalf("expected newest run first, got %s", runs[0].Trigger)
	}
	if last := f.fulfiller.State.Status().LastRun; last == nil || last.Trigger != model.TriggerManual {
		t.Fatalf("expected state to track last run, got %+v", last)
	}
}

func TestLoopFiresAtNextActiveHour(t *testing.T) {
	f := newFixture(t, 10)
	f.clock.Set(t0.Add(30 * time.Minute))
	s := NewScheduler(f.fulfiller, true, 48*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	waitFor(t, func() bool { return f.clock.Pending() == 1 })
	next := s.State().Status().NextRun
	if next == nil || !next.Equal(t0.Add(time.Hour)) {
		t.Fatalf("expected next run at 10:00, got %v", next)
	}

	f.clock.Advance(30 * time.Minute)
	waitFor(t, func() bool {
		last := s.State().Status().LastRun
		return last != nil && last.Trigger == model.TriggerSchedule
	})
	waitFor(t, func() bool {
		next := s.State().Status().NextRun
		return next != nil && next.Equal(t0.Add(2*time.Hour))
	})
}

func TestSetHoursReschedules(t *testing.T) {
	f := newFixture(t, 10)
	s := NewScheduler(f.fulfiller, true, 48*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	waitFor(t, func() bool { return f.clock.Pending() == 1 })

	hours, _ := config.ParseActiveHours("20")
	s.State().SetHours(hours)
	waitFor(t, func() bool {
		next := s.State().Status().NextRun
		return next != nil && next.Equal(t0.Add(11*time.Hour))
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

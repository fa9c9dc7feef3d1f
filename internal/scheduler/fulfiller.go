package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dandantas/boarding/internal/clock"
	"github.com/dandantas/boarding/internal/groups"
	"github.com/dandantas/boarding/internal/invite"
	"github.com/dandantas/boarding/internal/keymutex"
	"github.com/dandantas/boarding/internal/model"
	"github.com/dandantas/boarding/internal/report"
	"github.com/dandantas/boarding/internal/reservation"
	"github.com/dandantas/boarding/internal/store"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ReservedByScheduler marks reservations bound by the fulfillment run
const ReservedByScheduler = "auto-scheduler"

// Deps are the collaborators of a Fulfiller
type Deps struct {
	Entries      store.EntryStore
	Invitations  store.InvitationStore
	Reservations *reservation.Service
	Groups       *groups.Directory
	Invites      invite.Service
	Locks        *keymutex.Manager
	Clock        clock.Clock
	Publisher    *report.Publisher
	State        *State
	Channel      string
	Location     *time.Location
}

// Fulfiller boards the head of the queue: it reserves an access code,
// redeems it for the entry and invites the applicant into a group.
type Fulfiller struct {
	Deps
}

// NewFulfiller creates a Fulfiller
func NewFulfiller(d Deps) *Fulfiller {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	return &Fulfiller{Deps: d}
}

// Run performs one fulfillment attempt for the oldest waiting entry. It
// never returns an error: the outcome is in the returned summary.
func (f *Fulfiller) Run(ctx context.Context, trigger string) *model.JobRun {
	run := f.newRun(trigger)

	if !f.State.TryStart() {
		run.Skip(model.ReasonInProgress, f.Clock.Now())
		slog.Info("Fulfillment run dropped, previous run still in progress", "run_id", run.RunID, "trigger", trigger)
		f.Publisher.Publish(ctx, run)
		return run
	}
	defer f.finish(ctx, run)

	now := f.Clock.Now()
	if hour := now.In(f.Location).Hour(); !f.State.Hours().Contains(hour) {
		run.Skip(model.ReasonOutsideWindow, now)
		return run
	}

	entry, err := f.Entries.OldestWaiting(ctx)
	if err != nil {
		run.Fail(fmt.Errorf("failed to read queue head: %w", err), f.Clock.Now())
		return run
	}
	if entry == nil {
		run.Skip(model.ReasonQueueEmpty, f.Clock.Now())
		return run
	}

	f.fulfill(ctx, run, entry)
	return run
}

// RedeemEntry boards one specific waiting entry immediately, outside the
// active hours. It shares the single-flight slot with scheduled runs.
func (f *Fulfiller) RedeemEntry(ctx context.Context, entryID primitive.ObjectID) (*model.JobRun, error) {
	entry, err := f.Entries.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Status != model.EntryWaiting {
		return nil, model.ConflictError("entry is %s, not waiting", entry.Status)
	}

	if !f.State.TryStart() {
		return nil, model.ConflictError("a fulfillment run is already in progress")
	}
	run := f.newRun(model.TriggerManual)
	defer f.finish(ctx, run)

	f.fulfill(ctx, run, entry)
	return run, nil
}

func (f *Fulfiller) newRun(trigger string) *model.JobRun {
	return &model.JobRun{
		RunID:     uuid.New().String(),
		Job:       model.JobFulfillment,
		Trigger:   trigger,
		StartedAt: f.Clock.Now(),
	}
}

func (f *Fulfiller) finish(ctx context.Context, run *model.JobRun) {
	f.State.Done(run)
	f.Publisher.Publish(ctx, run)

	slog.Info("Fulfillment run finished",
		"run_id", run.RunID,
		"trigger", run.Trigger,
		"outcome", run.Outcome,
		"reason", run.Reason,
		"entry_id", run.EntryID,
		"invite_status", run.InviteStatus,
		"duration_ms", run.DurationMs,
	)
}

func (f *Fulfiller) fulfill(ctx context.Context, run *model.JobRun, entry *model.QueueEntry) {
	run.EntryID = entry.ID.Hex()
	run.Email = entry.Email
	if entry.Email == "" || entry.Identity == "" {
		run.Skip(model.ReasonIncompleteEntry, f.Clock.Now())
		return
	}

	err := f.Locks.WithLock(ctx, keymutex.IdentityKey(entry.Identity), func() error {
		return f.board(ctx, run, entry.ID)
	})
	if err != nil && run.Outcome == "" {
		run.Fail(err, f.Clock.Now())
	}
}

// board runs under the identity key. It returns an error only for failures;
// skips finish the run themselves.
func (f *Fulfiller) board(ctx context.Context, run *model.JobRun, id primitive.ObjectID) error {
	entry, err := f.Entries.GetEntry(ctx, id)
	if err != nil {
		return err
	}
	if entry.Status != model.EntryWaiting {
		run.Skip(model.ReasonEntryChanged, f.Clock.Now())
		return nil
	}

	res, redeemed, err := f.heldReservation(ctx, entry)
	if err != nil {
		return err
	}
	created := false
	if res == nil {
		res, err = f.Reservations.ReserveFor(ctx, model.ResourceSelector{Channel: f.Channel}, entry.Holder())
		if errors.Is(err, model.ErrNotFound) {
			run.Skip(model.ReasonNoResource, f.Clock.Now())
			return nil
		}
		if err != nil {
			return err
		}
		created = true

		if err := f.Entries.BindReservation(ctx, entry.ID, res, ReservedByScheduler, f.Clock.Now()); err != nil {
			f.rollback(ctx, entry, res)
			return fmt.Errorf("failed to bind reservation: %w", err)
		}
	}
	run.ResourceID = res.ID.Hex()

	group, err := f.Groups.Pick(ctx, res.BoundGroup)
	if err != nil {
		if created {
			f.rollback(ctx, entry, res)
		}
		if errors.Is(err, model.ErrNotFound) {
			run.Skip(model.ReasonNoGroup, f.Clock.Now())
			return nil
		}
		return err
	}
	run.GroupID = group.ID.Hex()

	if !redeemed {
		if err := f.Reservations.Redeem(ctx, res.ID, entry.HolderRef(), entry.Email); err != nil {
			if created {
				f.rollback(ctx, entry, res)
			}
			return fmt.Errorf("failed to redeem resource: %w", err)
		}
	}

	// Redemption is committed; nothing below releases the resource.
	err = f.Entries.TransitionEntry(ctx, entry.ID, store.EntryTransition{
		From:               model.EntryWaiting,
		To:                 model.EntryBoarded,
		At:                 f.Clock.Now(),
		RedeemedResourceID: &res.ID,
	})
	if err != nil {
		return fmt.Errorf("resource redeemed but entry not boarded: %w", err)
	}

	run.InviteStatus = f.invite(ctx, run, entry, group)
	run.Finish(model.OutcomeCompleted, f.Clock.Now())
	return nil
}

// heldReservation decides what to do with a reservation the entry already
// holds. A reservation still held by the entry in the configured channel is
// reused; one this entry already redeemed resumes an interrupted run; any
// other is released.
func (f *Fulfiller) heldReservation(ctx context.Context, entry *model.QueueEntry) (*model.Resource, bool, error) {
	if !entry.HasReservation() {
		return nil, false, nil
	}
	resID := *entry.ReservedResourceID

	held, err := f.Reservations.Get(ctx, resID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, false, err
	}
	if held != nil && held.Holder != nil && held.Holder.Ref == entry.HolderRef() && held.Channel == f.Channel {
		switch held.State {
		case model.ResourceReserved:
			return held, false, nil
		case model.ResourceRedeemed:
			slog.Warn("Resuming boarding of entry whose resource is already redeemed",
				"entry_id", entry.ID.Hex(),
				"resource_id", resID.Hex(),
			)
			return held, true, nil
		}
	}

	slog.Info("Releasing stale reservation before fulfillment",
		"entry_id", entry.ID.Hex(),
		"resource_id", resID.Hex(),
	)
	if _, err := f.Reservations.Release(ctx, resID, entry.HolderRef(), false); err != nil {
		return nil, false, fmt.Errorf("failed to release stale reservation: %w", err)
	}
	if err := f.Entries.ClearReservation(ctx, entry.ID, resID, f.Clock.Now()); err != nil && !errors.Is(err, store.ErrLostRace) {
		return nil, false, err
	}
	return nil, false, nil
}

// rollback undoes a reservation made by this run
func (f *Fulfiller) rollback(ctx context.Context, entry *model.QueueEntry, res *model.Resource) {
	ctx = context.WithoutCancel(ctx)
	if _, err := f.Reservations.Release(ctx, res.ID, entry.HolderRef(), false); err != nil {
		slog.Error("Failed to roll back reservation",
			"entry_id", entry.ID.Hex(),
			"resource_id", res.ID.Hex(),
			"error", err,
		)
	}
	if err := f.Entries.ClearReservation(ctx, entry.ID, res.ID, f.Clock.Now()); err != nil && !errors.Is(err, store.ErrLostRace) {
		slog.Error("Failed to clear entry reservation during rollback",
			"entry_id", entry.ID.Hex(),
			"error", err,
		)
	}
}

// invite is best-effort: failures are recorded, never returned
func (f *Fulfiller) invite(ctx context.Context, run *model.JobRun, entry *model.QueueEntry, group *model.Group) string {
	log := &model.InvitationLog{
		CorrelationID: run.RunID,
		EntryID:       entry.ID.Hex(),
		GroupID:       group.ID.Hex(),
		Email:         entry.Email,
		CreatedAt:     f.Clock.Now(),
	}

	result, err := f.Invites.Invite(ctx, entry.Email, group.Credentials)
	if result != nil {
		log.Attempts = result.Attempts
		log.InviteID = result.InviteID
	}
	if err != nil {
		log.FinalStatus = model.InvitationFailed
		log.Error = err.Error()
		slog.Error("Invitation failed after boarding",
			"run_id", run.RunID,
			"entry_id", log.EntryID,
			"group_id", log.GroupID,
			"error", err,
		)
	} else {
		log.FinalStatus = model.InvitationDelivered
		if _, err := f.Groups.Resync(ctx, group); err != nil {
			slog.Warn("Group resync after invitation failed", "group_id", log.GroupID, "error", err)
		}
	}
	log.CompletedAt = f.Clock.Now()

	if err := f.Invitations.RecordInvitation(context.WithoutCancel(ctx), log); err != nil {
		slog.Error("Failed to record invitation", "run_id", run.RunID, "error", err)
	}
	return log.FinalStatus
}

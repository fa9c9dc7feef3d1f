package queue

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dandantas/boarding/internal/config"
	"github.com/dandantas/boarding/internal/keymutex"
	"github.com/dandantas/boarding/internal/model"
	"github.com/dandantas/boarding/internal/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ReservedByAdmin tags reservations made through BindResource
const ReservedByAdmin = "admin"

// withEntry runs fn under the identity key of entry id, passing a fresh read
func (s *Service) withEntry(ctx context.Context, id primitive.ObjectID, extraKeys []string, fn func(e *model.QueueEntry) error) error {
	entry, err := s.store.GetEntry(ctx, id)
	if err != nil {
		return err
	}

	keys := append([]string{keymutex.IdentityKey(entry.Identity)}, extraKeys...)
	return s.locks.WithLocks(ctx, keys, func() error {
		current, err := s.store.GetEntry(ctx, id)
		if err != nil {
			return err
		}
		return fn(current)
	})
}

// Get returns an entry by id
func (s *Service) Get(ctx context.Context, id primitive.ObjectID) (*model.QueueEntry, error) {
	return s.store.GetEntry(ctx, id)
}

// SetStatus applies an administrative status transition
func (s *Service) SetStatus(ctx context.Context, id primitive.ObjectID, status model.EntryStatus) (*model.QueueEntry, error) {
	if !status.Valid() {
		return nil, model.ValidationError("invalid status %q", status)
	}

	var updated *model.QueueEntry
	err := s.withEntry(ctx, id, nil, func(entry *model.QueueEntry) error {
		if entry.Status == status {
			updated = entry
			return nil
		}

		var err error
		switch status {
		case model.EntryBoarded:
			err = s.adminBoard(ctx, entry)
		case model.EntryLeft:
			var redeemed *primitive.ObjectID
			if redeemed, err = s.releaseHeld(ctx, entry, false); err == nil {
				err = s.transition(ctx, entry, model.EntryLeft, false, redeemed)
			}
		case model.EntryWaiting:
			err = s.requeue(ctx, entry)
		}
		if err != nil {
			return err
		}

		updated, err = s.store.GetEntry(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Queue entry status set by admin",
		"entry_id", id.Hex(),
		"identity", updated.Identity,
		"status", updated.Status,
	)
	return updated, nil
}

// adminBoard marks a waiting entry boarded without consuming a resource.
// A held unredeemed reservation goes back to the pool.
func (s *Service) adminBoard(ctx context.Context, entry *model.QueueEntry) error {
	if entry.Status != model.EntryWaiting {
		return model.ConflictError("only waiting entries can be boarded, entry is %s", entry.Status)
	}
	redeemed, err := s.releaseHeld(ctx, entry, false)
	if err != nil {
		return err
	}
	return s.transition(ctx, entry, model.EntryBoarded, false, redeemed)
}

// requeue moves a left entry back to waiting
func (s *Service) requeue(ctx context.Context, entry *model.QueueEntry) error {
	if entry.Status != model.EntryLeft {
		return model.ConflictError("only left entries can be requeued, entry is %s", entry.Status)
	}
	if entry.RedeemedResourceID != nil {
		return model.ConflictError("entry %s already redeemed a resource", entry.ID.Hex())
	}
	if entry.HasReservation() {
		redeemed, err := s.releaseHeld(ctx, entry, false)
		if err != nil {
			return err
		}
		if redeemed != nil {
			return model.ConflictError("entry %s already redeemed a resource", entry.ID.Hex())
		}
	}

	if s.opts.RequeuePolicy != config.RequeueRecheck {
		return s.transition(ctx, entry, model.EntryWaiting, true, nil)
	}

	info, err := s.cooldown(ctx, entry.Identity)
	if err != nil {
		return err
	}
	if info.Active {
		return model.CooldownActiveError(*info.Until)
	}

	return s.locks.WithLock(ctx, keymutex.AdmissionKey, func() error {
		waiting, err := s.store.CountEntries(ctx, model.EntryWaiting)
		if err != nil {
			return err
		}
		if !s.Enabled() || waiting >= int64(s.opts.Capacity) {
			return model.CapacityExceededError(s.opts.Capacity)
		}
		return s.transition(ctx, entry, model.EntryWaiting, true, nil)
	})
}

// BindResource reserves the resource identified by ref (id or value) for a
// waiting entry that holds none
func (s *Service) BindResource(ctx context.Context, id primitive.ObjectID, ref string) (*model.QueueEntry, error) {
	res, err := s.reservations.Lookup(ctx, ref)
	if err != nil {
		return nil, err
	}

	var updated *model.QueueEntry
	err = s.withEntry(ctx, id, []string{keymutex.ResourceKey(res.ID.Hex())}, func(entry *model.QueueEntry) error {
		if entry.Status != model.EntryWaiting {
			return model.ConflictError("only waiting entries can hold a resource, entry is %s", entry.Status)
		}
		if entry.HasReservation() {
			return model.ConflictError("entry already holds resource %s, release it first", entry.ReservedValue)
		}

		reserved, err := s.reservations.Reserve(ctx, res.ID, entry.Holder())
		if err != nil {
			return err
		}

		if err := s.store.BindReservation(ctx, entry.ID, reserved, ReservedByAdmin, s.clock.Now()); err != nil {
			if _, relErr := s.reservations.Release(ctx, reserved.ID, entry.HolderRef(), false); relErr != nil {
				slog.Error("Failed to roll back reservation", "resource_id", reserved.ID.Hex(), "error", relErr)
			}
			if errors.Is(err, store.ErrLostRace) {
				return model.ConflictError("entry %s changed concurrently", entry.ID.Hex())
			}
			return err
		}

		updated, err = s.store.GetEntry(ctx, entry.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Resource bound to entry by admin",
		"entry_id", id.Hex(),
		"resource_id", res.ID.Hex(),
	)
	return updated, nil
}

// ClearReservation releases the entry's held resource
func (s *Service) ClearReservation(ctx context.Context, id primitive.ObjectID) (*model.QueueEntry, error) {
	var updated *model.QueueEntry
	err := s.withEntry(ctx, id, nil, func(entry *model.QueueEntry) error {
		if !entry.HasReservation() {
			return model.ConflictError("entry holds no reservation")
		}
		redeemed, err := s.releaseHeld(ctx, entry, false)
		if err != nil {
			return err
		}
		if redeemed != nil {
			return model.ConflictError("resource %s is already redeemed", entry.ReservedValue)
		}

		updated, err = s.store.GetEntry(ctx, entry.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ResetCooldown records a cooldown override for a left entry's identity
func (s *Service) ResetCooldown(ctx context.Context, id primitive.ObjectID) (*model.QueueEntry, error) {
	var updated *model.QueueEntry
	err := s.withEntry(ctx, id, nil, func(entry *model.QueueEntry) error {
		if entry.Status != model.EntryLeft {
			return model.ConflictError("cooldown can only be reset for left entries, entry is %s", entry.Status)
		}
		if err := s.store.UpsertOverride(ctx, entry.Identity, s.clock.Now()); err != nil {
			return err
		}
		updated = entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Cooldown reset by admin", "entry_id", id.Hex(), "identity", updated.Identity)
	return updated, nil
}

// ClearQueue moves every waiting entry to left, releasing held reservations.
// It returns how many entries left.
func (s *Service) ClearQueue(ctx context.Context) (int64, error) {
	holding, err := s.store.ListWaitingWithReservation(ctx)
	if err != nil {
		return 0, err
	}

	var cleared int64
	for _, e := range holding {
		err := s.withEntry(ctx, e.ID, nil, func(entry *model.QueueEntry) error {
			if entry.Status != model.EntryWaiting {
				return nil
			}
			redeemed, err := s.releaseHeld(ctx, entry, false)
			if err != nil {
				return err
			}
			if err := s.transition(ctx, entry, model.EntryLeft, false, redeemed); err != nil {
				return err
			}
			cleared++
			return nil
		})
		if err != nil {
			slog.Error("Failed to clear queue entry", "entry_id", e.ID.Hex(), "error", err)
		}
	}

	rest, err := s.store.LeaveAllWaiting(ctx, s.clock.Now())
	if err != nil {
		return cleared, err
	}
	cleared += rest

	slog.Info("Queue cleared", "entries", cleared)
	return cleared, nil
}

// List returns entries for the admin view
func (s *Service) List(ctx context.Context, q model.EntryQuery) (*model.Page[model.QueueEntry], error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, model.ValidationError("invalid status %q", q.Status)
	}
	q.Normalize()

	entries, total, err := s.store.ListEntries(ctx, q)
	if err != nil {
		return nil, err
	}
	return &model.Page[model.QueueEntry]{
		Total:   total,
		Page:    q.Page,
		Limit:   q.Limit,
		Results: entries,
	}, nil
}

// Stats returns aggregate counts
func (s *Service) Stats(ctx context.Context) (*model.QueueStats, error) {
	var stats model.QueueStats
	var err error

	if stats.Waiting, err = s.store.CountEntries(ctx, model.EntryWaiting); err != nil {
		return nil, err
	}
	if stats.Boarded, err = s.store.CountEntries(ctx, model.EntryBoarded); err != nil {
		return nil, err
	}
	if stats.Left, err = s.store.CountEntries(ctx, model.EntryLeft); err != nil {
		return nil, err
	}
	if stats.LastBoardedAt, err = s.store.LastBoardedAt(ctx, ""); err != nil {
		return nil, err
	}
	return &stats, nil
}

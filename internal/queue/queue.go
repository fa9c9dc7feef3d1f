// Package queue implements the waiting-queue admission controller.
//
// Mutations of an entry run under its identity key. Inserts additionally
// take the queue-wide admission key so capacity cannot be overshot by
// concurrent joins of different identities. Reads are unlocked.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dandantas/boarding/internal/clock"
	"github.com/dandantas/boarding/internal/config"
	"github.com/dandantas/boarding/internal/keymutex"
	"github.com/dandantas/boarding/internal/model"
	"github.com/dandantas/boarding/internal/reservation"
	"github.com/dandantas/boarding/internal/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Options are the admission rules. A zero Capacity disables the queue and a
// zero Cooldown disables the rejoin cooldown.
type Options struct {
	Capacity      int
	MinTrustLevel int
	Cooldown      time.Duration
	RequeuePolicy string
}

// OptionsFromConfig extracts admission rules from the loaded configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Capacity:      cfg.QueueCapacity,
		MinTrustLevel: cfg.QueueMinTrustLevel,
		Cooldown:      cfg.QueueCooldown,
		RequeuePolicy: cfg.QueueRequeuePolicy,
	}
}

// Store is the subset of the row store the queue needs
type Store interface {
	store.EntryStore
	store.CooldownStore
}

// Service is the waiting queue
type Service struct {
	store        Store
	reservations *reservation.Service
	locks        *keymutex.Manager
	clock        clock.Clock
	opts         Options
}

// NewService creates a queue service
func NewService(s Store, reservations *reservation.Service, locks *keymutex.Manager, c clock.Clock, opts Options) *Service {
	if c == nil {
		c = clock.Real{}
	}
	return &Service{
		store:        s,
		reservations: reservations,
		locks:        locks,
		clock:        c,
		opts:         opts,
	}
}

// Enabled reports whether joins are accepted
func (s *Service) Enabled() bool {
	return s.opts.Capacity > 0
}

// Join admits identity or refreshes the profile of its waiting entry
func (s *Service) Join(ctx context.Context, identity string, profile model.Profile) (*model.QueueSnapshot, error) {
	if !s.Enabled() {
		return nil, model.QueueDisabledError()
	}

	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, model.ValidationError("identity is required")
	}
	profile, err := normalizeProfile(profile)
	if err != nil {
		return nil, err
	}

	err = s.locks.WithLock(ctx, keymutex.IdentityKey(identity), func() error {
		existing, err := s.store.FindWaiting(ctx, identity)
		if err != nil {
			return err
		}
		if existing != nil {
			return s.store.UpdateProfile(ctx, existing.ID, profile, s.clock.Now())
		}

		if profile.TrustLevel < s.opts.MinTrustLevel {
			return model.ForbiddenError("trust level %d is below the required %d", profile.TrustLevel, s.opts.MinTrustLevel)
		}
		info, err := s.cooldown(ctx, identity)
		if err != nil {
			return err
		}
		if info.Active {
			return model.CooldownActiveError(*info.Until)
		}

		return s.locks.WithLock(ctx, keymutex.AdmissionKey, func() error {
			return s.admit(ctx, identity, profile)
		})
	})
	if err != nil {
		if errors.Is(err, store.ErrLostRace) {
			return nil, model.ConflictError("queue entry changed concurrently, try again")
		}
		return nil, err
	}

	return s.Snapshot(ctx, identity)
}

// admit inserts a waiting entry. Caller holds the identity and admission keys.
func (s *Service) admit(ctx context.Context, identity string, profile model.Profile) error {
	waiting, err := s.store.CountEntries(ctx, model.EntryWaiting)
	if err != nil {
		return err
	}
	if waiting >= int64(s.opts.Capacity) {
		return model.CapacityExceededError(s.opts.Capacity)
	}

	now := s.clock.Now()
	snapshot := waiting + 1
	entry := &model.QueueEntry{
		Identity:         identity,
		Username:         profile.Username,
		DisplayName:      profile.DisplayName,
		TrustLevel:       profile.TrustLevel,
		Email:            profile.Email,
		Status:           model.EntryWaiting,
		PositionSnapshot: &snapshot,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.store.InsertEntry(ctx, entry); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return model.ConflictError("identity %s is already waiting", identity)
		}
		return err
	}

	slog.Info("Queue entry admitted",
		"entry_id", entry.ID.Hex(),
		"identity", identity,
		"seq", entry.Seq,
		"position_snapshot", snapshot,
	)
	return nil
}

// Leave releases any held reservation and marks the waiting entry left
func (s *Service) Leave(ctx context.Context, identity string) (*model.QueueEntry, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, model.ValidationError("identity is required")
	}

	var left *model.QueueEntry
	err := s.locks.WithLock(ctx, keymutex.IdentityKey(identity), func() error {
		entry, err := s.store.FindWaiting(ctx, identity)
		if err != nil {
			return err
		}
		if entry == nil {
			return model.NotFoundError("identity %s is not waiting", identity)
		}

		redeemed, err := s.releaseHeld(ctx, entry, false)
		if err != nil {
			return err
		}
		if err := s.transition(ctx, entry, model.EntryLeft, false, redeemed); err != nil {
			return err
		}

		left, err = s.store.GetEntry(ctx, entry.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Queue entry left", "entry_id", left.ID.Hex(), "identity", identity)
	return left, nil
}

// Position returns the live 1-based queue position of identity's waiting entry
func (s *Service) Position(ctx context.Context, identity string) (int64, error) {
	entry, err := s.store.FindWaiting(ctx, strings.TrimSpace(identity))
	if err != nil {
		return 0, err
	}
	if entry == nil {
		return 0, model.NotFoundError("identity %s is not waiting", identity)
	}
	return s.store.CountWaitingThrough(ctx, entry.Seq)
}

// Snapshot returns identity's queue view: its current or latest entry,
// live position, queue totals and cooldown state.
func (s *Service) Snapshot(ctx context.Context, identity string) (*model.QueueSnapshot, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, model.ValidationError("identity is required")
	}

	entry, err := s.store.FindWaiting(ctx, identity)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		if entry, err = s.store.FindLatest(ctx, identity); err != nil {
			return nil, err
		}
	}

	snap := &model.QueueSnapshot{Entry: entry, Config: s.configView()}
	if entry != nil {
		snap.PositionSnapshot = entry.PositionSnapshot
		if entry.Status == model.EntryWaiting {
			if snap.Position, err = s.store.CountWaitingThrough(ctx, entry.Seq); err != nil {
				return nil, err
			}
		}
	}

	if snap.TotalWaiting, err = s.store.CountEntries(ctx, model.EntryWaiting); err != nil {
		return nil, err
	}
	if snap.BoardedCount, err = s.store.CountEntries(ctx, model.EntryBoarded); err != nil {
		return nil, err
	}
	if snap.LastBoardedAt, err = s.store.LastBoardedAt(ctx, ""); err != nil {
		return nil, err
	}
	if snap.Cooldown, err = s.cooldown(ctx, identity); err != nil {
		return nil, err
	}

	return snap, nil
}

func (s *Service) configView() model.QueueConfigView {
	return model.QueueConfigView{
		Capacity:        s.opts.Capacity,
		Enabled:         s.Enabled(),
		MinTrustLevel:   s.opts.MinTrustLevel,
		CooldownDays:    int(s.opts.Cooldown / (24 * time.Hour)),
		CooldownSeconds: int64(s.opts.Cooldown / time.Second),
	}
}

// releaseHeld gives back the entry's unredeemed reservation and clears the
// entry's reservation fields. A resource already redeemed under this entry
// stays on the entry and its id is returned, so the caller either records it
// in the next transition or refuses the operation.
func (s *Service) releaseHeld(ctx context.Context, entry *model.QueueEntry, force bool) (*primitive.ObjectID, error) {
	if !entry.HasReservation() {
		return nil, nil
	}
	resourceID := *entry.ReservedResourceID

	released, err := s.reservations.Release(ctx, resourceID, entry.HolderRef(), force)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("failed to release resource %s: %w", resourceID.Hex(), err)
	}
	var redeemed *primitive.ObjectID
	if !released && err == nil {
		res, getErr := s.reservations.Get(ctx, resourceID)
		if getErr == nil && res.State == model.ResourceRedeemed && res.Holder != nil && res.Holder.Ref == entry.HolderRef() {
			redeemed = &resourceID
		}
	}
	if redeemed != nil {
		slog.Warn("Entry holds a resource already redeemed under it",
			"entry_id", entry.ID.Hex(),
			"resource_id", resourceID.Hex(),
		)
		return redeemed, nil
	}

	err = s.store.ClearReservation(ctx, entry.ID, resourceID, s.clock.Now())
	if err != nil && !errors.Is(err, store.ErrLostRace) {
		return nil, err
	}

	slog.Info("Entry reservation cleared",
		"entry_id", entry.ID.Hex(),
		"resource_id", resourceID.Hex(),
		"released", released,
	)
	return nil, nil
}

// transition moves entry to status to. redeemed, when set, is recorded as the
// resource consumed under the entry.
func (s *Service) transition(ctx context.Context, entry *model.QueueEntry, to model.EntryStatus, clearTimestamps bool, redeemed *primitive.ObjectID) error {
	err := s.store.TransitionEntry(ctx, entry.ID, store.EntryTransition{
		From:               entry.Status,
		To:                 to,
		At:                 s.clock.Now(),
		ClearTimestamps:    clearTimestamps,
		RedeemedResourceID: redeemed,
	})
	switch {
	case errors.Is(err, store.ErrLostRace):
		return model.ConflictError("entry %s changed concurrently", entry.ID.Hex())
	case errors.Is(err, store.ErrDuplicate):
		return model.ConflictError("identity %s already has a waiting entry", entry.Identity)
	}
	return err
}

func normalizeProfile(p model.Profile) (model.Profile, error) {
	p.Username = strings.TrimSpace(p.Username)
	p.DisplayName = strings.TrimSpace(p.DisplayName)
	if p.TrustLevel < 0 {
		p.TrustLevel = 0
	}

	email, err := model.NormalizeEmail(p.Email)
	if err != nil {
		return p, err
	}
	p.Email = email
	return p, nil
}

// Package reservation manages the exclusive lifecycle of access codes:
// available -> reserved -> redeemed, with reserved -> available as the only
// way back. Every write is a conditional update, so two callers can never
// hold the same code.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dandantas/boarding/internal/clock"
	"github.com/dandantas/boarding/internal/model"
	"github.com/dandantas/boarding/internal/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// raceAttempts is how many times a lost conditional update is tried in total
const raceAttempts = 2

// Service reserves, releases and redeems resources
type Service struct {
	store store.ResourceStore
	clock clock.Clock
}

// New creates a reservation service
func New(s store.ResourceStore, c clock.Clock) *Service {
	if c == nil {
		c = clock.Real{}
	}
	return &Service{store: s, clock: c}
}

// ReserveFor reserves the oldest available resource matching sel
func (s *Service) ReserveFor(ctx context.Context, sel model.ResourceSelector, holder model.Holder) (*model.Resource, error) {
	for attempt := 1; attempt <= raceAttempts; attempt++ {
		candidate, err := s.store.FindAvailable(ctx, sel)
		if err != nil {
			return nil, err
		}
		if candidate == nil {
			return nil, model.NotFoundError("no available resource for channel %q", sel.Channel)
		}

		res, err := s.claim(ctx, candidate.ID, holder)
		if errors.Is(err, store.ErrLostRace) {
			slog.Debug("Lost reservation race, retrying",
				"resource_id", candidate.ID.Hex(),
				"holder", holder.Ref,
				"attempt", attempt,
			)
			continue
		}
		if err != nil {
			return nil, err
		}
		return res, nil
	}

	return nil, model.ConflictError("resource reservation contended, try again")
}

// Reserve reserves one specific resource. Reserving a resource already held
// by the same holder is a no-op.
func (s *Service) Reserve(ctx context.Context, id primitive.ObjectID, holder model.Holder) (*model.Resource, error) {
	for attempt := 1; attempt <= raceAttempts; attempt++ {
		current, err := s.store.GetResource(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.HeldBy(holder.Ref) {
			return current, nil
		}
		if current.State != model.ResourceAvailable {
			return nil, model.ConflictError("resource %s is %s", current.Value, current.State)
		}

		res, err := s.claim(ctx, id, holder)
		if errors.Is(err, store.ErrLostRace) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return res, nil
	}

	return nil, model.ConflictError("resource %s was reserved concurrently", id.Hex())
}

// claim applies the conditional reserve and re-reads to confirm the holder
func (s *Service) claim(ctx context.Context, id primitive.ObjectID, holder model.Holder) (*model.Resource, error) {
	if err := s.store.MarkReserved(ctx, id, holder, s.clock.Now()); err != nil {
		return nil, err
	}

	res, err := s.store.GetResource(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to verify reservation: %w", err)
	}
	if !res.HeldBy(holder.Ref) {
		return nil, store.ErrLostRace
	}
	return res, nil
}

// Release returns a reserved resource to the pool. It reports false without
// error when there was nothing to release: the resource is redeemed, already
// available, or (without force) held by someone else.
func (s *Service) Release(ctx context.Context, id primitive.ObjectID, holderRef string, force bool) (bool, error) {
	current, err := s.store.GetResource(ctx, id)
	if err != nil {
		return false, err
	}

	switch {
	case current.State != model.ResourceReserved:
		return false, nil
	case !force && !current.HeldBy(holderRef):
		slog.Warn("Refusing to release resource held by another holder",
			"resource_id", id.Hex(),
			"holder", holderRef,
		)
		return false, nil
	}

	err = s.store.MarkReleased(ctx, id, holderRef, force, s.clock.Now())
	if errors.Is(err, store.ErrLostRace) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Redeem consumes a resource reserved by holderRef. Redemption is terminal.
func (s *Service) Redeem(ctx context.Context, id primitive.ObjectID, holderRef, redeemer string) error {
	for attempt := 1; attempt <= raceAttempts; attempt++ {
		err := s.store.MarkRedeemed(ctx, id, holderRef, redeemer, s.clock.Now())
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrLostRace) {
			return err
		}

		current, err := s.store.GetResource(ctx, id)
		if err != nil {
			return err
		}
		switch {
		case current.State == model.ResourceRedeemed:
			return model.ConflictError("resource %s is already redeemed", current.Value)
		case !current.HeldBy(holderRef):
			return model.ConflictError("resource %s is not reserved by %s", current.Value, holderRef)
		}
	}

	return model.ConflictError("resource %s redemption contended", id.Hex())
}

// Import adds new available resources, skipping blanks and values that
// already exist. It returns how many were added.
func (s *Service) Import(ctx context.Context, values []string, channel, boundGroup string) (int, error) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return 0, model.ValidationError("channel is required")
	}

	added := 0
	now := s.clock.Now()
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		res := &model.Resource{
			Value:      v,
			Channel:    channel,
			BoundGroup: strings.ToLower(strings.TrimSpace(boundGroup)),
			State:      model.ResourceAvailable,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		err := s.store.InsertResource(ctx, res)
		if errors.Is(err, store.ErrDuplicate) {
			continue
		}
		if err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// Get returns a resource by id
func (s *Service) Get(ctx context.Context, id primitive.ObjectID) (*model.Resource, error) {
	return s.store.GetResource(ctx, id)
}

// Lookup resolves a resource by id or by value
func (s *Service) Lookup(ctx context.Context, ref string) (*model.Resource, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, model.ValidationError("resource reference is required")
	}
	if id, err := primitive.ObjectIDFromHex(ref); err == nil {
		res, err := s.store.GetResource(ctx, id)
		if err == nil || !errors.Is(err, model.ErrNotFound) {
			return res, err
		}
	}
	return s.store.FindResourceByValue(ctx, ref)
}

// Counts returns the pool size per state for sel
func (s *Service) Counts(ctx context.Context, sel model.ResourceSelector) (map[model.ResourceState]int64, error) {
	out := make(map[model.ResourceState]int64, 3)
	for _, state := range []model.ResourceState{model.ResourceAvailable, model.ResourceReserved, model.ResourceRedeemed} {
		n, err := s.store.CountResources(ctx, sel, state)
		if err != nil {
			return nil, err
		}
		out[state] = n
	}
	return out, nil
}

// Package groups picks invitation targets and keeps their seat counts in
// sync with the external API.
package groups

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/dandantas/boarding/internal/clock"
	"github.com/dandantas/boarding/internal/invite"
	"github.com/dandantas/boarding/internal/keymutex"
	"github.com/dandantas/boarding/internal/model"
	"github.com/dandantas/boarding/internal/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Directory is the group registry
type Directory struct {
	store     store.GroupStore
	invites   invite.Service
	locks     *keymutex.Manager
	clock     clock.Clock
	seatLimit int
}

// NewDirectory creates a directory; seatLimit caps members plus pending invites
func NewDirectory(s store.GroupStore, invites invite.Service, locks *keymutex.Manager, c clock.Clock, seatLimit int) *Directory {
	if c == nil {
		c = clock.Real{}
	}
	return &Directory{store: s, invites: invites, locks: locks, clock: c, seatLimit: seatLimit}
}

// Register adds a group
func (d *Directory) Register(ctx context.Context, g *model.Group) (*model.Group, error) {
	g.Identity = strings.ToLower(strings.TrimSpace(g.Identity))
	if g.Identity == "" {
		return nil, model.ValidationError("group identity is required")
	}
	if !g.Credentials.Valid() {
		return nil, model.ValidationError("group credentials require account id and token")
	}

	now := d.clock.Now()
	g.ID = primitive.NilObjectID
	g.CreatedAt = now
	g.UpdatedAt = now

	if err := d.store.InsertGroup(ctx, g); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, model.ConflictError("group %s already exists", g.Identity)
		}
		return nil, err
	}
	return g, nil
}

// Get returns a group by id
func (d *Directory) Get(ctx context.Context, id primitive.ObjectID) (*model.Group, error) {
	return d.store.GetGroup(ctx, id)
}

// Pick returns the invitation target: the bound group when it has a free
// seat, otherwise the least-filled eligible group below the seat limit.
func (d *Directory) Pick(ctx context.Context, boundGroup string) (*model.Group, error) {
	if bound := strings.ToLower(strings.TrimSpace(boundGroup)); bound != "" {
		g, err := d.store.FindGroupByIdentity(ctx, bound)
		if err != nil && !isNotFound(err) {
			return nil, err
		}
		if g != nil && d.usable(g) {
			return g, nil
		}
		slog.Warn("Bound group unavailable, falling back to least filled", "group", bound)
	}

	groups, err := d.store.ListEligibleGroups(ctx, nil)
	if err != nil {
		return nil, err
	}

	candidates := make([]model.Group, 0, len(groups))
	for i := range groups {
		if d.usable(&groups[i]) {
			candidates = append(candidates, groups[i])
		}
	}
	if len(candidates) == 0 {
		return nil, model.NotFoundError("no group with a free seat")
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].SeatsUsed() != candidates[j].SeatsUsed() {
			return candidates[i].SeatsUsed() < candidates[j].SeatsUsed()
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	picked := candidates[0]
	return &picked, nil
}

func (d *Directory) usable(g *model.Group) bool {
	return g.Open && !g.Banned && g.Credentials.Valid() && g.SeatsUsed() < d.seatLimit
}

// Resync refreshes member and invite counts under the group key
func (d *Directory) Resync(ctx context.Context, g *model.Group) (*model.Group, error) {
	var synced *model.Group
	err := d.locks.WithLock(ctx, keymutex.GroupKey(g.ID.Hex()), func() error {
		var err error
		synced, err = d.SyncCounts(ctx, g)
		return err
	})
	return synced, err
}

// SyncCounts refreshes counts; the caller holds the group key
func (d *Directory) SyncCounts(ctx context.Context, g *model.Group) (*model.Group, error) {
	_, members, err := d.invites.ListMembers(ctx, g.Credentials)
	if err != nil {
		return nil, err
	}
	invites, err := d.invites.CountInvites(ctx, g.Credentials)
	if err != nil {
		return nil, err
	}

	if err := d.store.UpdateGroupCounts(ctx, g.ID, &members, &invites, d.clock.Now()); err != nil {
		return nil, err
	}

	slog.Debug("Group counts synced",
		"group_id", g.ID.Hex(),
		"identity", g.Identity,
		"members", members,
		"invites", invites,
	)
	return d.store.GetGroup(ctx, g.ID)
}

func isNotFound(err error) bool {
	return model.CodeOf(err) == model.CodeNotFound
}

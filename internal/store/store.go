// Package store defines the row-store contract shared by the MongoDB and
// in-memory backends.
//
// Every mutation is a conditional update: it applies only when the row is
// still in the expected state and returns ErrLostRace otherwise. Callers
// treat ErrLostRace as "somebody else got there first" and re-read.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/dandantas/boarding/internal/model"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrLostRace reports that a conditional update matched no row.
	ErrLostRace = errors.New("store: conditional update not applied")

	// ErrDuplicate reports a unique constraint violation on insert.
	ErrDuplicate = errors.New("store: duplicate key")
)

// EntryTransition describes an entry status change.
//
// The backend always stamps UpdatedAt and applies these rules:
// moving to boarded keeps an existing BoardedAt (otherwise At) and clears
// LeftAt; moving to left sets LeftAt; moving to any status other than
// waiting clears the reservation fields; ClearTimestamps unsets BoardedAt and
// LeftAt.
type EntryTransition struct {
	From               model.EntryStatus
	To                 model.EntryStatus
	At                 time.Time
	RedeemedResourceID *primitive.ObjectID
	ClearTimestamps    bool
}

// EntryStore persists queue entries
type EntryStore interface {
	// InsertEntry assigns ID and Seq. ErrDuplicate when the identity is already waiting.
	InsertEntry(ctx context.Context, e *model.QueueEntry) error
	GetEntry(ctx context.Context, id primitive.ObjectID) (*model.QueueEntry, error)
	// FindWaiting and FindLatest return nil, nil when nothing matches.
	FindWaiting(ctx context.Context, identity string) (*model.QueueEntry, error)
	FindLatest(ctx context.Context, identity string) (*model.QueueEntry, error)
	OldestWaiting(ctx context.Context) (*model.QueueEntry, error)
	// LastBoardedAt returns the most recent boarding time; identity "" means any entry.
	LastBoardedAt(ctx context.Context, identity string) (*time.Time, error)
	CountEntries(ctx context.Context, status model.EntryStatus) (int64, error)
	// CountWaitingThrough counts waiting entries with Seq <= seq.
	CountWaitingThrough(ctx context.Context, seq int64) (int64, error)
	ListEntries(ctx context.Context, q model.EntryQuery) ([]model.QueueEntry, int64, error)

	UpdateProfile(ctx context.Context, id primitive.ObjectID, p model.Profile, at time.Time) error
	// BindReservation requires the entry to be waiting without a reservation.
	BindReservation(ctx context.Context, id primitive.ObjectID, res *model.Resource, by string, at time.Time) error
	// ClearReservation requires the entry to hold resourceID.
	ClearReservation(ctx context.Context, id, resourceID primitive.ObjectID, at time.Time) error
	TransitionEntry(ctx context.Context, id primitive.ObjectID, t EntryTransition) error
	// LeaveAllWaiting moves every waiting entry without a reservation to left.
	LeaveAllWaiting(ctx context.Context, at time.Time) (int64, error)
	// ListWaitingWithReservation returns waiting entries that hold a resource.
	ListWaitingWithReservation(ctx context.Context) ([]model.QueueEntry, error)
}

// ResourceStore persists access codes
type ResourceStore interface {
	InsertResource(ctx context.Context, r *model.Resource) error
	GetResource(ctx context.Context, id primitive.ObjectID) (*model.Resource, error)
	FindResourceByValue(ctx context.Context, value string) (*model.Resource, error)
	// FindAvailable returns the oldest available resource matching sel, or nil, nil.
	FindAvailable(ctx context.Context, sel model.ResourceSelector) (*model.Resource, error)
	CountResources(ctx context.Context, sel model.ResourceSelector, state model.ResourceState) (int64, error)

	// MarkReserved requires state available.
	MarkReserved(ctx context.Context, id primitive.ObjectID, holder model.Holder, at time.Time) error
	// MarkReleased requires state reserved and, unless force, a matching holder ref.
	MarkReleased(ctx context.Context, id primitive.ObjectID, holderRef string, force bool, at time.Time) error
	// MarkRedeemed requires state reserved by holderRef.
	MarkRedeemed(ctx context.Context, id primitive.ObjectID, holderRef, redeemedBy string, at time.Time) error
}

// CooldownStore persists admin cooldown overrides
type CooldownStore interface {
	GetOverride(ctx context.Context, identity string) (*model.CooldownOverride, error)
	UpsertOverride(ctx context.Context, identity string, at time.Time) error
}

// OrderStore persists payment orders
type OrderStore interface {
	InsertOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, orderNo string) (*model.Order, error)
	// FindExpirable returns unpaid created/pending_payment orders created at or before cutoff.
	FindExpirable(ctx context.Context, kind model.OrderKind, cutoff time.Time, limit int) ([]model.Order, error)
	// ExpireOrder requires the order to still be unpaid.
	ExpireOrder(ctx context.Context, orderNo string, at time.Time) error
	// MarkOrderPaid requires the order to still be unpaid and unexpired.
	MarkOrderPaid(ctx context.Context, orderNo string, at time.Time) error
}

// GroupStore persists external groups
type GroupStore interface {
	InsertGroup(ctx context.Context, g *model.Group) error
	GetGroup(ctx context.Context, id primitive.ObjectID) (*model.Group, error)
	FindGroupByIdentity(ctx context.Context, identity string) (*model.Group, error)
	// ListEligibleGroups returns open, unbanned groups created after createdAfter (nil = all).
	ListEligibleGroups(ctx context.Context, createdAfter *time.Time) ([]model.Group, error)
	// UpdateGroupCounts sets the non-nil counts and stamps LastSyncedAt.
	UpdateGroupCounts(ctx context.Context, id primitive.ObjectID, members, invites *int, at time.Time) error
}

// RunStore persists job run summaries
type RunStore interface {
	RecordRun(ctx context.Context, run *model.JobRun) error
	ListRuns(ctx context.Context, job string, page, limit int) ([]model.JobRun, int64, error)
}

// InvitationStore persists invitation delivery logs
type InvitationStore interface {
	RecordInvitation(ctx context.Context, log *model.InvitationLog) error
}

// Store is the complete backend
type Store interface {
	EntryStore
	ResourceStore
	CooldownStore
	OrderStore
	GroupStore
	RunStore
	InvitationStore
	Ping(ctx context.Context) error
}

package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EntryStatus is the lifecycle state of a queue entry
type EntryStatus string

const (
	EntryWaiting EntryStatus = "waiting"
	EntryBoarded EntryStatus = "boarded"
	EntryLeft    EntryStatus = "left"
)

// Valid reports whether s is a known entry status
func (s EntryStatus) Valid() bool {
	switch s {
	case EntryWaiting, EntryBoarded, EntryLeft:
		return true
	}
	return false
}

// Profile is the applicant data recorded on join. Only Email is supplied by
// the applicant; the rest comes from the authenticated session.
type Profile struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	TrustLevel  int    `json:"-"`
	Email       string `json:"email"`
}

// QueueEntry is one admission record in the waiting queue
type QueueEntry struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Identity    string             `json:"identity" bson:"identity"`
	Username    string             `json:"username,omitempty" bson:"username,omitempty"`
	DisplayName string             `json:"display_name,omitempty" bson:"display_name,omitempty"`
	TrustLevel  int                `json:"trust_level" bson:"trust_level"`
	Email       string             `json:"email" bson:"email"`
	Status      EntryStatus        `json:"status" bson:"status"`

	// Seq orders the queue; it is assigned once at insertion and never reused.
	Seq              int64  `json:"seq" bson:"seq"`
	PositionSnapshot *int64 `json:"position_snapshot,omitempty" bson:"position_snapshot,omitempty"`

	ReservedResourceID *primitive.ObjectID `json:"reserved_resource_id,omitempty" bson:"reserved_resource_id,omitempty"`
	ReservedValue      string              `json:"reserved_value,omitempty" bson:"reserved_value,omitempty"`
	ReservedAt         *time.Time          `json:"reserved_at,omitempty" bson:"reserved_at,omitempty"`
	ReservedBy         string              `json:"reserved_by,omitempty" bson:"reserved_by,omitempty"`
	RedeemedResourceID *primitive.ObjectID `json:"redeemed_resource_id,omitempty" bson:"redeemed_resource_id,omitempty"`

	BoardedAt *time.Time `json:"boarded_at,omitempty" bson:"boarded_at,omitempty"`
	LeftAt    *time.Time `json:"left_at,omitempty" bson:"left_at,omitempty"`
	CreatedAt time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" bson:"updated_at"`
}

// HasReservation reports whether the entry currently holds a resource
func (e *QueueEntry) HasReservation() bool {
	return e.ReservedResourceID != nil && !e.ReservedResourceID.IsZero()
}

// HolderRef is the reference recorded on a resource reserved for this entry
func (e *QueueEntry) HolderRef() string {
	return e.ID.Hex()
}

// Holder builds the reservation holder for this entry
func (e *QueueEntry) Holder() Holder {
	display := e.DisplayName
	if display == "" {
		display = e.Username
	}
	return Holder{
		Kind:     HolderEntry,
		Ref:      e.HolderRef(),
		Identity: e.Identity,
		Display:  display,
	}
}

// CooldownOverride records an admin reset of the rejoin cooldown for an identity
type CooldownOverride struct {
	Identity  string    `json:"identity" bson:"identity"`
	ResetAt   time.Time `json:"reset_at" bson:"reset_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// CooldownInfo describes the rejoin cooldown state of an identity
type CooldownInfo struct {
	Active        bool       `json:"active"`
	Until         *time.Time `json:"until,omitempty"`
	LastBoardedAt *time.Time `json:"last_boarded_at,omitempty"`
	ResetAt       *time.Time `json:"reset_at,omitempty"`
}

// QueueConfigView is the admission configuration exposed with snapshots
type QueueConfigView struct {
	Capacity        int   `json:"capacity"`
	Enabled         bool  `json:"enabled"`
	MinTrustLevel   int   `json:"min_trust_level"`
	CooldownDays    int   `json:"cooldown_days"`
	CooldownSeconds int64 `json:"cooldown_seconds"`
}

// QueueSnapshot is the per-identity queue view returned by join and status calls
type QueueSnapshot struct {
	Entry            *QueueEntry     `json:"entry,omitempty"`
	Position         int64           `json:"position,omitempty"`
	PositionSnapshot *int64          `json:"position_snapshot,omitempty"`
	TotalWaiting     int64           `json:"total_waiting"`
	BoardedCount     int64           `json:"boarded_count"`
	LastBoardedAt    *time.Time      `json:"last_boarded_at,omitempty"`
	Cooldown         CooldownInfo    `json:"cooldown"`
	Config           QueueConfigView `json:"config"`
}

// QueueStats is the aggregate queue view for admins
type QueueStats struct {
	Waiting       int64      `json:"waiting"`
	Boarded       int64      `json:"boarded"`
	Left          int64      `json:"left"`
	LastBoardedAt *time.Time `json:"last_boarded_at,omitempty"`
}

// EntryQuery filters admin list calls
type EntryQuery struct {
	Status EntryStatus
	Search string
	Page   int
	Limit  int
}

// Normalize applies paging defaults and limits
func (q *EntryQuery) Normalize() {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 20
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
}

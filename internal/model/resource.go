package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ResourceState is the reservation lifecycle state of an access code
type ResourceState string

const (
	ResourceAvailable ResourceState = "available"
	ResourceReserved  ResourceState = "reserved"
	ResourceRedeemed  ResourceState = "redeemed"
)

// HolderKind names what a reservation is held for
type HolderKind string

const (
	HolderEntry HolderKind = "entry"
	HolderOrder HolderKind = "order"
)

// Holder identifies the owner of a reservation
type Holder struct {
	Kind     HolderKind `json:"kind" bson:"kind"`
	Ref      string     `json:"ref" bson:"ref"`
	Identity string     `json:"identity,omitempty" bson:"identity,omitempty"`
	Display  string     `json:"display,omitempty" bson:"display,omitempty"`
}

// Resource is a single-use access code
type Resource struct {
	ID         primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Value      string             `json:"value" bson:"value"`
	Channel    string             `json:"channel" bson:"channel"`
	BoundGroup string             `json:"bound_group,omitempty" bson:"bound_group,omitempty"`
	State      ResourceState      `json:"state" bson:"state"`
	Holder     *Holder            `json:"holder,omitempty" bson:"holder,omitempty"`
	ReservedAt *time.Time         `json:"reserved_at,omitempty" bson:"reserved_at,omitempty"`
	RedeemedAt *time.Time         `json:"redeemed_at,omitempty" bson:"redeemed_at,omitempty"`
	RedeemedBy string             `json:"redeemed_by,omitempty" bson:"redeemed_by,omitempty"`
	CreatedAt  time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at" bson:"updated_at"`
}

// HeldBy reports whether the resource is reserved by the given holder reference
func (r *Resource) HeldBy(ref string) bool {
	return r.State == ResourceReserved && r.Holder != nil && r.Holder.Ref == ref
}

// ResourceSelector narrows the pool considered by a reservation
type ResourceSelector struct {
	Channel    string
	BoundGroup string
}

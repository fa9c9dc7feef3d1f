package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Credentials authenticate calls to the external group API
type Credentials struct {
	AccountID string `json:"account_id" bson:"account_id"`
	Token     string `json:"-" bson:"token"`
	DeviceID  string `json:"-" bson:"device_id,omitempty"`
}

// Valid reports whether the credentials can be used for invitations
func (c Credentials) Valid() bool {
	return c.AccountID != "" && c.Token != ""
}

// Group is an external account that boarded applicants are invited into
type Group struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Identity     string             `json:"identity" bson:"identity"`
	Name         string             `json:"name,omitempty" bson:"name,omitempty"`
	Credentials  Credentials        `json:"credentials" bson:"credentials"`
	Open         bool               `json:"open" bson:"open"`
	Banned       bool               `json:"banned" bson:"banned"`
	MemberCount  int                `json:"member_count" bson:"member_count"`
	InviteCount  int                `json:"invite_count" bson:"invite_count"`
	LastSyncedAt *time.Time         `json:"last_synced_at,omitempty" bson:"last_synced_at,omitempty"`
	CreatedAt    time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at" bson:"updated_at"`
}

// SeatsUsed counts members plus pending invitations
func (g *Group) SeatsUsed() int {
	return g.MemberCount + g.InviteCount
}

// Member is one user of an external group
type Member struct {
	ID       string    `json:"id"`
	Email    string    `json:"email"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// MemberRoleStandard is the only role the overcapacity sweeper may remove
const MemberRoleStandard = "standard-user"

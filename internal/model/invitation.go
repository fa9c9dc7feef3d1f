package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// InvitationAttempt represents a single invite API call
type InvitationAttempt struct {
	AttemptNumber int       `json:"attempt_number" bson:"attempt_number"`
	Timestamp     time.Time `json:"timestamp" bson:"timestamp"`
	StatusCode    int       `json:"status_code,omitempty" bson:"status_code,omitempty"`
	ResponseBody  string    `json:"response_body,omitempty" bson:"response_body,omitempty"`
	Error         string    `json:"error,omitempty" bson:"error,omitempty"`
	DurationMs    int64     `json:"duration_ms" bson:"duration_ms"`
}

// Invitation final statuses
const (
	InvitationDelivered = "delivered"
	InvitationFailed    = "failed"
	InvitationSkipped   = "skipped"
)

// InvitationLog records the delivery of one group invitation
type InvitationLog struct {
	ID            primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	CorrelationID string              `json:"correlation_id" bson:"correlation_id"`
	EntryID       string              `json:"entry_id,omitempty" bson:"entry_id,omitempty"`
	GroupID       string              `json:"group_id" bson:"group_id"`
	Email         string              `json:"email" bson:"email"`
	Attempts      []InvitationAttempt `json:"attempts" bson:"attempts"`
	FinalStatus   string              `json:"final_status" bson:"final_status"`
	InviteID      string              `json:"invite_id,omitempty" bson:"invite_id,omitempty"`
	Error         string              `json:"error,omitempty" bson:"error,omitempty"`
	CreatedAt     time.Time           `json:"created_at" bson:"created_at"`
	CompletedAt   time.Time           `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
}

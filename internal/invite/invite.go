// Package invite talks to the external team-admin API that boarded
// applicants are invited into.
package invite

import (
	"context"

	"github.com/dandantas/boarding/internal/model"
)

// Service is the external group integration
type Service interface {
	// Invite sends an invitation email. The result carries per-attempt
	// records even when err is non-nil.
	Invite(ctx context.Context, email string, creds model.Credentials) (*Result, error)
	// ListMembers returns every member and the authoritative total.
	ListMembers(ctx context.Context, creds model.Credentials) ([]model.Member, int, error)
	RemoveMember(ctx context.Context, creds model.Credentials, memberID string) error
	// CountInvites returns the number of pending invitations.
	CountInvites(ctx context.Context, creds model.Credentials) (int, error)
}

// Result describes one invitation delivery
type Result struct {
	InviteID string
	Attempts []model.InvitationAttempt
}

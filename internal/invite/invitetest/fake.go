// Package invitetest provides an in-memory invite.Service for tests.
package invitetest

import (
	"context"
	"sort"
	"sync"

	"github.com/dandantas/boarding/internal/invite"
	"github.com/dandantas/boarding/internal/model"
)

// Fake records calls and serves members from memory
type Fake struct {
	mu sync.Mutex

	Members     map[string][]model.Member // by account id
	Invites     map[string]int            // pending invites by account id
	Invited     []string
	Removed     []string
	InviteErr   error
	ListErr     error
	RemoveErr   error
	FailRemoval int // remove calls after this many succeed fail with RemoveErr
}

var _ invite.Service = (*Fake)(nil)

// New creates an empty fake
func New() *Fake {
	return &Fake{
		Members: make(map[string][]model.Member),
		Invites: make(map[string]int),
	}
}

func (f *Fake) Invite(_ context.Context, email string, creds model.Credentials) (*invite.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	res := &invite.Result{Attempts: []model.InvitationAttempt{{AttemptNumber: 1, StatusCode: 200}}}
	if f.InviteErr != nil {
		res.Attempts[0].StatusCode = 500
		res.Attempts[0].Error = f.InviteErr.Error()
		return res, f.InviteErr
	}
	f.Invited = append(f.Invited, email)
	f.Invites[creds.AccountID]++
	res.InviteID = "invite-" + email
	return res, nil
}

func (f *Fake) ListMembers(_ context.Context, creds model.Credentials) ([]model.Member, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ListErr != nil {
		return nil, 0, f.ListErr
	}
	members := append([]model.Member(nil), f.Members[creds.AccountID]...)
	return members, len(members), nil
}

func (f *Fake) RemoveMember(_ context.Context, creds model.Credentials, memberID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.RemoveErr != nil && len(f.Removed) >= f.FailRemoval {
		return f.RemoveErr
	}
	members := f.Members[creds.AccountID]
	for i, m := range members {
		if m.ID == memberID {
			f.Members[creds.AccountID] = append(members[:i:i], members[i+1:]...)
			break
		}
	}
	f.Removed = append(f.Removed, memberID)
	return nil
}

func (f *Fake) CountInvites(_ context.Context, creds model.Credentials) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Invites[creds.AccountID], nil
}

// InvitedEmails returns a sorted copy of invited addresses
func (f *Fake) InvitedEmails() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.Invited...)
	sort.Strings(out)
	return out
}

// RemovedIDs returns a copy of removed member ids in call order
func (f *Fake) RemovedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Removed...)
}

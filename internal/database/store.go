package database

import (
	"github.com/dandantas/boarding/internal/store"
)

// Store bundles every repository into a store.Store
type Store struct {
	*MongoDB
	*EntryRepository
	*ResourceRepository
	*CooldownRepository
	*OrderRepository
	*GroupRepository
	*RunRepository
	*InvitationRepository
}

var _ store.Store = (*Store)(nil)

// NewStore creates the MongoDB-backed store
func NewStore(db *MongoDB) *Store {
	return &Store{
		MongoDB:              db,
		EntryRepository:      NewEntryRepository(db),
		ResourceRepository:   NewResourceRepository(db),
		CooldownRepository:   NewCooldownRepository(db),
		OrderRepository:      NewOrderRepository(db),
		GroupRepository:      NewGroupRepository(db),
		RunRepository:        NewRunRepository(db),
		InvitationRepository: NewInvitationRepository(db),
	}
}

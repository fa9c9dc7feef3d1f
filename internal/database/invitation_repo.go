package database

import (
	"context"

	"github.com/dandantas/boarding/internal/model"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// InvitationRepository handles invitation log operations
type InvitationRepository struct {
	collection *mongo.Collection
}

// NewInvitationRepository creates a new invitation repository
func NewInvitationRepository(db *MongoDB) *InvitationRepository {
	return &InvitationRepository{
		collection: db.GetCollection(CollectionInvitationLogs),
	}
}

// RecordInvitation inserts an invitation log
func (r *InvitationRepository) RecordInvitation(ctx context.Context, log *model.InvitationLog) error {
	if log.ID.IsZero() {
		log.ID = primitive.NewObjectID()
	}
	return insertOne(ctx, r.collection, log, "invitation log")
}

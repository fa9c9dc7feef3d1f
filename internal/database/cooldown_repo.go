package database

import (
	"context"
	"fmt"
	"time"

	"github.com/dandantas/boarding/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CooldownRepository handles rejoin cooldown overrides
type CooldownRepository struct {
	collection *mongo.Collection
}

// NewCooldownRepository creates a new cooldown repository
func NewCooldownRepository(db *MongoDB) *CooldownRepository {
	return &CooldownRepository{
		collection: db.GetCollection(CollectionCooldownOverrides),
	}
}

// GetOverride returns the identity's override, if any
func (r *CooldownRepository) GetOverride(ctx context.Context, identity string) (*model.CooldownOverride, error) {
	return findOne[model.CooldownOverride](ctx, r.collection, bson.M{"identity": identity}, "cooldown override")
}

// UpsertOverride records a cooldown reset at the given time
func (r *CooldownRepository) UpsertOverride(ctx context.Context, identity string, at time.Time) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	update := bson.M{"$set": bson.M{
		"identity":   identity,
		"reset_at":   at,
		"updated_at": at,
	}}
	opts := options.Update().SetUpsert(true)

	if _, err := r.collection.UpdateOne(ctxTimeout, bson.M{"identity": identity}, update, opts); err != nil {
		return fmt.Errorf("failed to upsert cooldown override: %w", err)
	}

	return nil
}

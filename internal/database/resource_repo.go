package database

import (
	"context"
	"time"

	"github.com/dandantas/boarding/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ResourceRepository handles access code operations
type ResourceRepository struct {
	collection *mongo.Collection
}

// NewResourceRepository creates a new resource repository
func NewResourceRepository(db *MongoDB) *ResourceRepository {
	return &ResourceRepository{
		collection: db.GetCollection(CollectionResources),
	}
}

// InsertResource inserts a new access code as available
func (r *ResourceRepository) InsertResource(ctx context.Context, res *model.Resource) error {
	if res.ID.IsZero() {
		res.ID = primitive.NewObjectID()
	}
	if res.State == "" {
		res.State = model.ResourceAvailable
	}
	return insertOne(ctx, r.collection, res, "resource")
}

// GetResource retrieves a resource by ID
func (r *ResourceRepository) GetResource(ctx context.Context, id primitive.ObjectID) (*model.Resource, error) {
	return getOne[model.Resource](ctx, r.collection, bson.M{"_id": id}, "resource", id.Hex())
}

// FindResourceByValue retrieves a resource by its code value
func (r *ResourceRepository) FindResourceByValue(ctx context.Context, value string) (*model.Resource, error) {
	return getOne[model.Resource](ctx, r.collection, bson.M{"value": value}, "resource", value)
}

// FindAvailable returns the oldest available resource matching sel
func (r *ResourceRepository) FindAvailable(ctx context.Context, sel model.ResourceSelector) (*model.Resource, error) {
	filter := selectorFilter(sel)
	filter["state"] = model.ResourceAvailable

	opts := options.FindOne().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "_id", Value: 1},
	})
	return findOne[model.Resource](ctx, r.collection, filter, "resource", opts)
}

// CountResources counts resources matching sel in the given state ("" counts all)
func (r *ResourceRepository) CountResources(ctx context.Context, sel model.ResourceSelector, state model.ResourceState) (int64, error) {
	filter := selectorFilter(sel)
	if state != "" {
		filter["state"] = state
	}
	return countDocuments(ctx, r.collection, filter, "resources")
}

// MarkReserved moves an available resource to reserved for holder
func (r *ResourceRepository) MarkReserved(ctx context.Context, id primitive.ObjectID, holder model.Holder, at time.Time) error {
	filter := bson.M{"_id": id, "state": model.ResourceAvailable}
	update := bson.M{"$set": bson.M{
		"state":       model.ResourceReserved,
		"holder":      holder,
		"reserved_at": at,
		"updated_at":  at,
	}}
	return casUpdate(ctx, r.collection, filter, update, "resource")
}

// MarkReleased returns a reserved resource to the pool
func (r *ResourceRepository) MarkReleased(ctx context.Context, id primitive.ObjectID, holderRef string, force bool, at time.Time) error {
	filter := bson.M{"_id": id, "state": model.ResourceReserved}
	if !force {
		filter["holder.ref"] = holderRef
	}
	update := bson.M{
		"$set":   bson.M{"state": model.ResourceAvailable, "updated_at": at},
		"$unset": unsetDoc("holder", "reserved_at"),
	}
	return casUpdate(ctx, r.collection, filter, update, "resource")
}

// MarkRedeemed consumes a resource reserved by holderRef
func (r *ResourceRepository) MarkRedeemed(ctx context.Context, id primitive.ObjectID, holderRef, redeemedBy string, at time.Time) error {
	filter := bson.M{
		"_id":        id,
		"state":      model.ResourceReserved,
		"holder.ref": holderRef,
	}
	update := bson.M{"$set": bson.M{
		"state":       model.ResourceRedeemed,
		"redeemed_at": at,
		"redeemed_by": redeemedBy,
		"updated_at":  at,
	}}
	return casUpdate(ctx, r.collection, filter, update, "resource")
}

func selectorFilter(sel model.ResourceSelector) bson.M {
	filter := bson.M{}
	if sel.Channel != "" {
		filter["channel"] = sel.Channel
	}
	if sel.BoundGroup != "" {
		filter["bound_group"] = sel.BoundGroup
	}
	return filter
}

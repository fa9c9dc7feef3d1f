package database

import (
	"context"
	"strings"
	"time"

	"github.com/dandantas/boarding/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// GroupRepository handles external group operations
type GroupRepository struct {
	collection *mongo.Collection
}

// NewGroupRepository creates a new group repository
func NewGroupRepository(db *MongoDB) *GroupRepository {
	return &GroupRepository{
		collection: db.GetCollection(CollectionGroups),
	}
}

// InsertGroup inserts a new group; identities are stored lower-cased
func (r *GroupRepository) InsertGroup(ctx context.Context, g *model.Group) error {
	if g.ID.IsZero() {
		g.ID = primitive.NewObjectID()
	}
	g.Identity = strings.ToLower(strings.TrimSpace(g.Identity))
	return insertOne(ctx, r.collection, g, "group")
}

// GetGroup retrieves a group by ID
func (r *GroupRepository) GetGroup(ctx context.Context, id primitive.ObjectID) (*model.Group, error) {
	return getOne[model.Group](ctx, r.collection, bson.M{"_id": id}, "group", id.Hex())
}

// FindGroupByIdentity returns the group with the given identity, if any
func (r *GroupRepository) FindGroupByIdentity(ctx context.Context, identity string) (*model.Group, error) {
	filter := bson.M{"identity": strings.ToLower(strings.TrimSpace(identity))}
	return findOne[model.Group](ctx, r.collection, filter, "group")
}

// ListEligibleGroups lists open, unbanned groups, oldest first
func (r *GroupRepository) ListEligibleGroups(ctx context.Context, createdAfter *time.Time) ([]model.Group, error) {
	filter := bson.M{"open": true, "banned": bson.M{"$ne": true}}
	if createdAfter != nil {
		filter["created_at"] = bson.M{"$gte": *createdAfter}
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	return findAll[model.Group](ctx, r.collection, filter, "groups", opts)
}

// UpdateGroupCounts stores freshly synced member and invite counts
func (r *GroupRepository) UpdateGroupCounts(ctx context.Context, id primitive.ObjectID, members, invites *int, at time.Time) error {
	set := bson.M{"last_synced_at": at, "updated_at": at}
	if members != nil {
		set["member_count"] = *members
	}
	if invites != nil {
		set["invite_count"] = *invites
	}
	return casUpdate(ctx, r.collection, bson.M{"_id": id}, bson.M{"$set": set}, "group")
}

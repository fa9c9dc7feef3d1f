package database

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dandantas/boarding/internal/model"
	"github.com/dandantas/boarding/internal/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var reservationFields = []string{"reserved_resource_id", "reserved_value", "reserved_at", "reserved_by"}

// EntryRepository handles queue entry operations
type EntryRepository struct {
	collection *mongo.Collection
	counters   *mongo.Collection
}

// NewEntryRepository creates a new entry repository
func NewEntryRepository(db *MongoDB) *EntryRepository {
	return &EntryRepository{
		collection: db.GetCollection(CollectionQueueEntries),
		counters:   db.GetCollection(CollectionCounters),
	}
}

// InsertEntry assigns the next sequence number and inserts the entry
func (r *EntryRepository) InsertEntry(ctx context.Context, e *model.QueueEntry) error {
	seq, err := nextSequence(ctx, r.counters, sequenceQueueEntries)
	if err != nil {
		return err
	}

	if e.ID.IsZero() {
		e.ID = primitive.NewObjectID()
	}
	e.Seq = seq

	return insertOne(ctx, r.collection, e, "queue entry")
}

// GetEntry retrieves an entry by ID
func (r *EntryRepository) GetEntry(ctx context.Context, id primitive.ObjectID) (*model.QueueEntry, error) {
	return getOne[model.QueueEntry](ctx, r.collection, bson.M{"_id": id}, "queue entry", id.Hex())
}

// FindWaiting returns the identity's waiting entry, if any
func (r *EntryRepository) FindWaiting(ctx context.Context, identity string) (*model.QueueEntry, error) {
	filter := bson.M{"identity": identity, "status": model.EntryWaiting}
	return findOne[model.QueueEntry](ctx, r.collection, filter, "queue entry")
}

// FindLatest returns the identity's most recent entry, if any
func (r *EntryRepository) FindLatest(ctx context.Context, identity string) (*model.QueueEntry, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}})
	return findOne[model.QueueEntry](ctx, r.collection, bson.M{"identity": identity}, "queue entry", opts)
}

// OldestWaiting returns the head of the queue
func (r *EntryRepository) OldestWaiting(ctx context.Context) (*model.QueueEntry, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "seq", Value: 1}})
	return findOne[model.QueueEntry](ctx, r.collection, bson.M{"status": model.EntryWaiting}, "queue entry", opts)
}

// LastBoardedAt returns the latest boarded_at, optionally scoped to one identity
func (r *EntryRepository) LastBoardedAt(ctx context.Context, identity string) (*time.Time, error) {
	filter := bson.M{"boarded_at": bson.M{"$ne": nil}}
	if identity != "" {
		filter["identity"] = identity
	}

	opts := options.FindOne().
		SetSort(bson.D{{Key: "boarded_at", Value: -1}}).
		SetProjection(bson.M{"boarded_at": 1})

	e, err := findOne[model.QueueEntry](ctx, r.collection, filter, "queue entry", opts)
	if err != nil || e == nil {
		return nil, err
	}
	return e.BoardedAt, nil
}

// CountEntries counts entries with the given status ("" counts all)
func (r *EntryRepository) CountEntries(ctx context.Context, status model.EntryStatus) (int64, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	return countDocuments(ctx, r.collection, filter, "queue entries")
}

// CountWaitingThrough counts waiting entries at or ahead of seq
func (r *EntryRepository) CountWaitingThrough(ctx context.Context, seq int64) (int64, error) {
	filter := bson.M{"status": model.EntryWaiting, "seq": bson.M{"$lte": seq}}
	return countDocuments(ctx, r.collection, filter, "queue entries")
}

// ListEntries retrieves entries with filtering and pagination
func (r *EntryRepository) ListEntries(ctx context.Context, q model.EntryQuery) ([]model.QueueEntry, int64, error) {
	q.Normalize()

	filter := bson.M{}
	if q.Status != "" {
		filter["status"] = q.Status
	}
	if search := strings.TrimSpace(q.Search); search != "" {
		pattern := primitive.Regex{Pattern: regexp.QuoteMeta(search), Options: "i"}
		filter["$or"] = bson.A{
			bson.M{"identity": pattern},
			bson.M{"username": pattern},
			bson.M{"display_name": pattern},
			bson.M{"email": pattern},
			bson.M{"reserved_value": pattern},
		}
	}

	total, err := countDocuments(ctx, r.collection, filter, "queue entries")
	if err != nil {
		return nil, 0, err
	}

	order := -1
	if q.Status == model.EntryWaiting {
		order = 1
	}
	skip, limit := pageOptions(q.Page, q.Limit)
	opts := options.Find().
		SetSkip(skip).
		SetLimit(limit).
		SetSort(bson.D{{Key: "seq", Value: order}})

	entries, err := findAll[model.QueueEntry](ctx, r.collection, filter, "queue entries", opts)
	if err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}

// UpdateProfile refreshes applicant data on a waiting entry
func (r *EntryRepository) UpdateProfile(ctx context.Context, id primitive.ObjectID, p model.Profile, at time.Time) error {
	filter := bson.M{"_id": id, "status": model.EntryWaiting}
	update := bson.M{"$set": bson.M{
		"email":        p.Email,
		"username":     p.Username,
		"display_name": p.DisplayName,
		"trust_level":  p.TrustLevel,
		"updated_at":   at,
	}}
	return casUpdate(ctx, r.collection, filter, update, "queue entry")
}

// BindReservation records a reserved resource on a waiting entry that holds none
func (r *EntryRepository) BindReservation(ctx context.Context, id primitive.ObjectID, res *model.Resource, by string, at time.Time) error {
	filter := bson.M{
		"_id":                  id,
		"status":               model.EntryWaiting,
		"reserved_resource_id": nil,
	}
	update := bson.M{"$set": bson.M{
		"reserved_resource_id": res.ID,
		"reserved_value":       res.Value,
		"reserved_at":          at,
		"reserved_by":          by,
		"updated_at":           at,
	}}
	return casUpdate(ctx, r.collection, filter, update, "queue entry")
}

// ClearReservation removes the reservation fields if the entry still holds resourceID
func (r *EntryRepository) ClearReservation(ctx context.Context, id, resourceID primitive.ObjectID, at time.Time) error {
	filter := bson.M{"_id": id, "reserved_resource_id": resourceID}
	update := bson.M{
		"$set":   bson.M{"updated_at": at},
		"$unset": unsetDoc(reservationFields...),
	}
	return casUpdate(ctx, r.collection, filter, update, "queue entry")
}

// TransitionEntry moves an entry between statuses using an update pipeline
// so boarded_at can be coalesced server-side.
func (r *EntryRepository) TransitionEntry(ctx context.Context, id primitive.ObjectID, t store.EntryTransition) error {
	set := bson.M{
		"status":     string(t.To),
		"updated_at": t.At,
	}
	var unset []string

	switch t.To {
	case model.EntryBoarded:
		set["boarded_at"] = bson.M{"$ifNull": bson.A{"$boarded_at", t.At}}
		unset = append(unset, "left_at")
	case model.EntryLeft:
		set["left_at"] = t.At
	}
	if t.To != model.EntryWaiting {
		unset = append(unset, reservationFields...)
	}
	if t.ClearTimestamps {
		delete(set, "boarded_at")
		delete(set, "left_at")
		unset = append(unset, "boarded_at", "left_at")
	}
	if t.RedeemedResourceID != nil {
		set["redeemed_resource_id"] = *t.RedeemedResourceID
	}

	pipeline := mongo.Pipeline{{{Key: "$set", Value: set}}}
	if len(unset) > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$unset", Value: dedupe(unset)}})
	}

	filter := bson.M{"_id": id, "status": t.From}
	return casUpdate(ctx, r.collection, filter, pipeline, "queue entry")
}

// LeaveAllWaiting marks every waiting entry without a reservation as left
func (r *EntryRepository) LeaveAllWaiting(ctx context.Context, at time.Time) (int64, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	filter := bson.M{"status": model.EntryWaiting, "reserved_resource_id": nil}
	update := bson.M{"$set": bson.M{
		"status":     model.EntryLeft,
		"left_at":    at,
		"updated_at": at,
	}}

	result, err := r.collection.UpdateMany(ctxTimeout, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to clear waiting entries: %w", err)
	}

	return result.ModifiedCount, nil
}

// ListWaitingWithReservation returns waiting entries holding a resource, in queue order
func (r *EntryRepository) ListWaitingWithReservation(ctx context.Context) ([]model.QueueEntry, error) {
	filter := bson.M{"status": model.EntryWaiting, "reserved_resource_id": bson.M{"$ne": nil}}
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	return findAll[model.QueueEntry](ctx, r.collection, filter, "queue entries", opts)
}

func unsetDoc(fields ...string) bson.M {
	doc := bson.M{}
	for _, f := range fields {
		doc[f] = ""
	}
	return doc
}

func dedupe(fields []string) []string {
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

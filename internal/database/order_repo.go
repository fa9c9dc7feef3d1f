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

var unpaidStatuses = bson.A{model.OrderCreated, model.OrderPendingPayment}

// OrderRepository handles payment order operations
type OrderRepository struct {
	collection *mongo.Collection
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *MongoDB) *OrderRepository {
	return &OrderRepository{
		collection: db.GetCollection(CollectionOrders),
	}
}

// InsertOrder inserts a new order
func (r *OrderRepository) InsertOrder(ctx context.Context, o *model.Order) error {
	if o.ID.IsZero() {
		o.ID = primitive.NewObjectID()
	}
	return insertOne(ctx, r.collection, o, "order")
}

// GetOrder retrieves an order by order number
func (r *OrderRepository) GetOrder(ctx context.Context, orderNo string) (*model.Order, error) {
	return getOne[model.Order](ctx, r.collection, bson.M{"order_no": orderNo}, "order", orderNo)
}

// FindExpirable lists unpaid orders of kind created at or before cutoff, oldest first
func (r *OrderRepository) FindExpirable(ctx context.Context, kind model.OrderKind, cutoff time.Time, limit int) ([]model.Order, error) {
	filter := bson.M{
		"kind":       kind,
		"status":     bson.M{"$in": unpaidStatuses},
		"paid_at":    nil,
		"created_at": bson.M{"$lte": cutoff},
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return findAll[model.Order](ctx, r.collection, filter, "orders", opts)
}

// ExpireOrder marks an unpaid order expired
func (r *OrderRepository) ExpireOrder(ctx context.Context, orderNo string, at time.Time) error {
	filter := bson.M{
		"order_no": orderNo,
		"status":   bson.M{"$in": unpaidStatuses},
		"paid_at":  nil,
	}
	update := bson.M{"$set": bson.M{
		"status":     model.OrderExpired,
		"expired_at": at,
		"updated_at": at,
	}}
	return casUpdate(ctx, r.collection, filter, update, "order")
}

// MarkOrderPaid marks an unpaid order paid
func (r *OrderRepository) MarkOrderPaid(ctx context.Context, orderNo string, at time.Time) error {
	filter := bson.M{
		"order_no": orderNo,
		"status":   bson.M{"$in": unpaidStatuses},
		"paid_at":  nil,
	}
	update := bson.M{"$set": bson.M{
		"status":     model.OrderPaid,
		"paid_at":    at,
		"updated_at": at,
	}}
	return casUpdate(ctx, r.collection, filter, update, "order")
}

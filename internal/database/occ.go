package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dandantas/boarding/internal/model"
	"github.com/dandantas/boarding/internal/store"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const opTimeout = 5 * time.Second

// casUpdate applies update to the one document matching filter. The filter
// carries the precondition, so a zero match means another writer won.
func casUpdate(ctx context.Context, coll *mongo.Collection, filter, update interface{}, what string) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	result, err := coll.UpdateOne(ctxTimeout, filter, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("failed to update %s: %w", what, err)
	}

	if result.MatchedCount == 0 {
		return store.ErrLostRace
	}

	return nil
}

// findOne decodes the first match into a T, returning nil, nil when none exists
func findOne[T any](ctx context.Context, coll *mongo.Collection, filter interface{}, what string, opts ...*options.FindOneOptions) (*T, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var doc T
	err := coll.FindOne(ctxTimeout, filter, opts...).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get %s: %w", what, err)
	}

	return &doc, nil
}

// getOne is findOne for lookups where absence is a NOT_FOUND error
func getOne[T any](ctx context.Context, coll *mongo.Collection, filter interface{}, what, key string) (*T, error) {
	doc, err := findOne[T](ctx, coll, filter, what)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, model.NotFoundError("%s %s not found", what, key)
	}
	return doc, nil
}

// insertOne maps unique index violations to store.ErrDuplicate
func insertOne(ctx context.Context, coll *mongo.Collection, doc interface{}, what string) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := coll.InsertOne(ctxTimeout, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("failed to create %s: %w", what, err)
	}

	return nil
}

func countDocuments(ctx context.Context, coll *mongo.Collection, filter interface{}, what string) (int64, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	n, err := coll.CountDocuments(ctxTimeout, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", what, err)
	}
	return n, nil
}

// findAll runs a find and decodes every document
func findAll[T any](ctx context.Context, coll *mongo.Collection, filter interface{}, what string, opts ...*options.FindOptions) ([]T, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cursor, err := coll.Find(ctxTimeout, filter, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", what, err)
	}
	defer cursor.Close(ctxTimeout)

	docs := make([]T, 0)
	if err := cursor.All(ctxTimeout, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", what, err)
	}

	return docs, nil
}

func pageOptions(page, limit int) (int64, int64) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	return int64((page - 1) * limit), int64(limit)
}

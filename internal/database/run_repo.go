package database

import (
	"context"

	"github.com/dandantas/boarding/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RunRepository handles job run history operations
type RunRepository struct {
	collection *mongo.Collection
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *MongoDB) *RunRepository {
	return &RunRepository{
		collection: db.GetCollection(CollectionJobRuns),
	}
}

// RecordRun inserts a job run summary
func (r *RunRepository) RecordRun(ctx context.Context, run *model.JobRun) error {
	if run.ID.IsZero() {
		run.ID = primitive.NewObjectID()
	}
	return insertOne(ctx, r.collection, run, "job run")
}

// ListRuns retrieves job runs, most recent first
func (r *RunRepository) ListRuns(ctx context.Context, job string, page, limit int) ([]model.JobRun, int64, error) {
	filter := bson.M{}
	if job != "" {
		filter["job"] = job
	}

	total, err := countDocuments(ctx, r.collection, filter, "job runs")
	if err != nil {
		return nil, 0, err
	}

	skip, lim := pageOptions(page, limit)
	opts := options.Find().
		SetSkip(skip).
		SetLimit(lim).
		SetSort(bson.D{{Key: "started_at", Value: -1}})

	runs, err := findAll[model.JobRun](ctx, r.collection, filter, "job runs", opts)
	if err != nil {
		return nil, 0, err
	}

	return runs, total, nil
}

package database

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CreateIndexes creates all necessary indexes for the collections
func CreateIndexes(ctx context.Context, db *MongoDB) error {
	slog.Info("Creating MongoDB indexes")

	specs := map[string][]mongo.IndexModel{
		CollectionQueueEntries:      queueEntryIndexes(),
		CollectionResources:         resourceIndexes(),
		CollectionCooldownOverrides: cooldownIndexes(),
		CollectionOrders:            orderIndexes(),
		CollectionGroups:            groupIndexes(),
		CollectionJobRuns:           jobRunIndexes(),
		CollectionInvitationLogs:    invitationIndexes(),
	}

	for name, indexes := range specs {
		if err := createIndexes(ctx, db, name, indexes); err != nil {
			return err
		}
	}

	slog.Info("Successfully created all MongoDB indexes")
	return nil
}

func createIndexes(ctx context.Context, db *MongoDB, name string, indexes []mongo.IndexModel) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := db.GetCollection(name).Indexes().CreateMany(ctxTimeout, indexes); err != nil {
		return err
	}

	slog.Info("Created indexes", "collection", name)
	return nil
}

func queueEntryIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			// At most one waiting entry per identity.
			Keys: bson.D{{Key: "identity", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": "waiting"}).
				SetName("idx_identity_waiting_unique"),
		},
		{
			Keys:    bson.D{{Key: "seq", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_seq_unique"),
		},
		{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "seq", Value: 1},
			},
			Options: options.Index().SetName("idx_status_seq"),
		},
		{
			Keys: bson.D{
				{Key: "identity", Value: 1},
				{Key: "boarded_at", Value: -1},
			},
			Options: options.Index().SetName("idx_identity_boarded_at"),
		},
	}
}

func resourceIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "value", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_value_unique"),
		},
		{
			Keys: bson.D{
				{Key: "state", Value: 1},
				{Key: "channel", Value: 1},
				{Key: "created_at", Value: 1},
			},
			Options: options.Index().SetName("idx_state_channel_created_at"),
		},
		{
			Keys:    bson.D{{Key: "holder.ref", Value: 1}},
			Options: options.Index().SetName("idx_holder_ref"),
		},
	}
}

func cooldownIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "identity", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_identity_unique"),
		},
	}
}

func orderIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "order_no", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_order_no_unique"),
		},
		{
			Keys: bson.D{
				{Key: "kind", Value: 1},
				{Key: "status", Value: 1},
				{Key: "created_at", Value: 1},
			},
			Options: options.Index().SetName("idx_kind_status_created_at"),
		},
	}
}

func groupIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "identity", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_identity_unique"),
		},
		{
			Keys: bson.D{
				{Key: "open", Value: 1},
				{Key: "banned", Value: 1},
				{Key: "created_at", Value: 1},
			},
			Options: options.Index().SetName("idx_open_banned_created_at"),
		},
	}
}

func jobRunIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "run_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_run_id_unique"),
		},
		{
			Keys: bson.D{
				{Key: "job", Value: 1},
				{Key: "started_at", Value: -1},
			},
			Options: options.Index().SetName("idx_job_started_at"),
		},
	}
}

func invitationIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "correlation_id", Value: 1}},
			Options: options.Index().SetName("idx_correlation_id"),
		},
		{
			Keys: bson.D{
				{Key: "final_status", Value: 1},
				{Key: "created_at", Value: -1},
			},
			Options: options.Index().SetName("idx_final_status_created_at"),
		},
	}
}

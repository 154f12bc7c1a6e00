package mongo

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// IndexDefinition defines a MongoDB index
type IndexDefinition struct {
	Collection string
	Keys       bson.D
	Options    *options.IndexOptions
}

// IndexInitializer creates indexes on startup
type IndexInitializer struct {
	client *Client
}

// NewIndexInitializer creates a new index initializer
func NewIndexInitializer(client *Client) *IndexInitializer {
	return &IndexInitializer{client: client}
}

// Initialize creates all required indexes
func (i *IndexInitializer) Initialize(ctx context.Context) error {
	indexes := i.getIndexDefinitions()

	for _, idx := range indexes {
		if err := i.createIndex(ctx, idx); err != nil {
			slog.Warn("Failed to create index (may already exist)",
				"error", err,
				"collection", idx.Collection)
		}
	}

	slog.Info("Index initialization complete", "count", len(indexes))
	return nil
}

func (i *IndexInitializer) createIndex(ctx context.Context, idx IndexDefinition) error {
	collection := i.client.Collection(idx.Collection)

	indexModel := mongo.IndexModel{
		Keys:    idx.Keys,
		Options: idx.Options,
	}

	_, err := collection.Indexes().CreateOne(ctx, indexModel)
	return err
}

func (i *IndexInitializer) getIndexDefinitions() []IndexDefinition {
	return []IndexDefinition{
		// upload_sessions
		{
			Collection: "upload_sessions",
			Keys:       bson.D{{Key: "tenantId", Value: 1}, {Key: "createdAt", Value: -1}},
		},
		{
			Collection: "upload_sessions",
			Keys:       bson.D{{Key: "status", Value: 1}, {Key: "expiresAt", Value: 1}},
		},

		// multipart_uploads
		{
			Collection: "multipart_uploads",
			Keys:       bson.D{{Key: "sessionId", Value: 1}},
			Options:    options.Index().SetUnique(true),
		},
		{
			Collection: "multipart_uploads",
			Keys:       bson.D{{Key: "status", Value: 1}},
		},

		// external_downloads
		{
			Collection: "external_downloads",
			Keys:       bson.D{{Key: "sessionId", Value: 1}},
		},
		{
			Collection: "external_downloads",
			Keys:       bson.D{{Key: "status", Value: 1}},
		},

		// outbox_records
		{
			Collection: "outbox_records",
			Keys:       bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}},
		},
		{
			Collection: "outbox_records",
			Keys:       bson.D{{Key: "idempotencyKey", Value: 1}},
			Options:    options.Index().SetUnique(true).SetSparse(true),
		},
		{
			Collection: "outbox_records",
			Keys:       bson.D{{Key: "createdAt", Value: 1}},
			Options:    options.Index().SetExpireAfterSeconds(int32(30 * 24 * time.Hour / time.Second)),
		},

		// crawl_schedules
		{
			Collection: "crawl_schedules",
			Keys:       bson.D{{Key: "enabled", Value: 1}, {Key: "nextRunAt", Value: 1}},
		},
	}
}

package download

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"go.fileflow.dev/internal/common/repository"
)

// CollectionName is the MongoDB collection backing external downloads.
const CollectionName = "external_downloads"

// MongoRepository implements Repository on MongoDB.
type MongoRepository struct {
	collection *mongo.Collection
}

// NewMongoRepository creates a MongoDB-backed download repository.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection(CollectionName),
	}
}

func (r *MongoRepository) Insert(ctx context.Context, d *ExternalDownload) error {
	_, err := r.collection.InsertOne(ctx, d)
	if err != nil {
		return fmt.Errorf("insert external download: %w", err)
	}
	return nil
}

// Update replaces the document guarded by the version it was loaded with;
// a concurrent writer's bump makes the stale replace miss and surface
// repository.ErrOptimisticLock instead of silently winning.
func (r *MongoRepository) Update(ctx context.Context, d *ExternalDownload) error {
	expected := d.Version
	d.Version = expected + 1
	result, err := r.collection.ReplaceOne(ctx, bson.M{"_id": d.ID, "version": expected}, d)
	if err != nil {
		d.Version = expected
		return fmt.Errorf("update external download: %w", err)
	}
	if result.MatchedCount == 0 {
		d.Version = expected
		return fmt.Errorf("update external download %s: %w", d.ID, repository.ErrOptimisticLock)
	}
	return nil
}

func (r *MongoRepository) FindByID(ctx context.Context, id string) (*ExternalDownload, error) {
	var d ExternalDownload
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find external download: %w", err)
	}
	return &d, nil
}

func (r *MongoRepository) FindBySessionID(ctx context.Context, sessionID string) ([]*ExternalDownload, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"sessionId": sessionID})
	if err != nil {
		return nil, fmt.Errorf("find downloads by session: %w", err)
	}
	defer cursor.Close(ctx)

	var downloads []*ExternalDownload
	if err := cursor.All(ctx, &downloads); err != nil {
		return nil, fmt.Errorf("decode downloads: %w", err)
	}
	return downloads, nil
}

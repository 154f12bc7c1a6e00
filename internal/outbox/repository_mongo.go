package outbox

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName is the MongoDB collection backing the outbox.
const CollectionName = "outbox_records"

// MongoRepository implements Repository on MongoDB.
type MongoRepository struct {
	collection *mongo.Collection
}

// NewMongoRepository creates a MongoDB-backed outbox repository.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection(CollectionName),
	}
}

// Insert stores a new PENDING record. The unique sparse index on
// idempotencyKey turns duplicate submissions into ErrDuplicateIdempotencyKey.
func (r *MongoRepository) Insert(ctx context.Context, record *Record) error {
	_, err := r.collection.InsertOne(ctx, record)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateIdempotencyKey
	}
	if err != nil {
		return fmt.Errorf("insert outbox record: %w", err)
	}
	return nil
}

// ClaimPending claims up to limit PENDING records one at a time. Each claim
// is a single-document conditional update, so concurrent dispatchers can
// never both own the same record.
func (r *MongoRepository) ClaimPending(ctx context.Context, limit int) ([]*Record, error) {
	claimed := make([]*Record, 0, limit)

	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "createdAt", Value: 1}}).
		SetReturnDocument(options.After)

	for len(claimed) < limit {
		var record Record
		err := r.collection.FindOneAndUpdate(ctx,
			bson.M{"status": StatusPending},
			bson.M{"$set": bson.M{
				"status":    StatusProcessing,
				"updatedAt": time.Now().UTC(),
			}},
			opts,
		).Decode(&record)
		if err == mongo.ErrNoDocuments {
			break
		}
		if err != nil {
			return claimed, fmt.Errorf("claim outbox record: %w", err)
		}
		claimed = append(claimed, &record)
	}

	return claimed, nil
}

// MarkCompleted finalizes a delivered record. The status filter keeps the
// PROCESSING -> COMPLETED transition conditional: a record recovered by
// another dispatcher in the meantime is left alone.
func (r *MongoRepository) MarkCompleted(ctx context.Context, id string) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "status": StatusProcessing},
		bson.M{"$set": bson.M{
			"status":    StatusCompleted,
			"updatedAt": time.Now().UTC(),
		}},
	)
	if err != nil {
		return fmt.Errorf("mark outbox record completed: %w", err)
	}
	return nil
}

// MarkFailed finalizes a failed delivery attempt and increments retryCount.
func (r *MongoRepository) MarkFailed(ctx context.Context, id string, errorMessage string) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "status": StatusProcessing},
		bson.M{
			"$set": bson.M{
				"status":    StatusFailed,
				"lastError": errorMessage,
				"updatedAt": time.Now().UTC(),
			},
			"$inc": bson.M{"retryCount": 1},
		},
	)
	if err != nil {
		return fmt.Errorf("mark outbox record failed: %w", err)
	}
	return nil
}

// ResetForRetry moves a FAILED record back to PENDING.
func (r *MongoRepository) ResetForRetry(ctx context.Context, id string) error {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "status": StatusFailed},
		bson.M{"$set": bson.M{
			"status":    StatusPending,
			"updatedAt": time.Now().UTC(),
		}},
	)
	if err != nil {
		return fmt.Errorf("reset outbox record: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("outbox record %s is not in FAILED status", id)
	}
	return nil
}

// RecoverStuck resets stale PROCESSING records back to PENDING.
func (r *MongoRepository) RecoverStuck(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.collection.UpdateMany(ctx,
		bson.M{
			"status":    StatusProcessing,
			"updatedAt": bson.M{"$lt": olderThan},
		},
		bson.M{"$set": bson.M{
			"status":    StatusPending,
			"updatedAt": time.Now().UTC(),
		}},
	)
	if err != nil {
		return 0, fmt.Errorf("recover stuck outbox records: %w", err)
	}
	return result.ModifiedCount, nil
}

// FindByID returns a record or nil when absent.
func (r *MongoRepository) FindByID(ctx context.Context, id string) (*Record, error) {
	var record Record
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&record)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find outbox record: %w", err)
	}
	return &record, nil
}

// FindByIdempotencyKey returns the record holding the key, or nil. The
// lookup rides the same unique sparse index that enforces the key.
func (r *MongoRepository) FindByIdempotencyKey(ctx context.Context, key string) (*Record, error) {
	var record Record
	err := r.collection.FindOne(ctx, bson.M{"idempotencyKey": key}).Decode(&record)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find outbox record by idempotency key: %w", err)
	}
	return &record, nil
}

// CountPending returns the pending backlog per event type.
func (r *MongoRepository) CountPending(ctx context.Context) (map[EventType]int64, error) {
	cursor, err := r.collection.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"status": StatusPending}}},
		{{Key: "$group", Value: bson.M{"_id": "$eventType", "count": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("count pending outbox records: %w", err)
	}
	defer cursor.Close(ctx)

	counts := make(map[EventType]int64)
	for cursor.Next(ctx) {
		var row struct {
			EventType EventType `bson:"_id"`
			Count     int64     `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
		counts[row.EventType] = row.Count
	}
	return counts, cursor.Err()
}

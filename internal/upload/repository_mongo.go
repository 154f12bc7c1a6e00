package upload

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.fileflow.dev/internal/common/repository"
)

// Collection names backing the upload aggregates.
const (
	SessionCollectionName   = "upload_sessions"
	MultipartCollectionName = "multipart_uploads"
)

// MongoSessionRepository implements SessionRepository on MongoDB.
type MongoSessionRepository struct {
	collection *mongo.Collection
}

// NewMongoSessionRepository creates a MongoDB-backed session repository.
func NewMongoSessionRepository(db *mongo.Database) *MongoSessionRepository {
	return &MongoSessionRepository{
		collection: db.Collection(SessionCollectionName),
	}
}

func (r *MongoSessionRepository) Insert(ctx context.Context, s *UploadSession) error {
	_, err := r.collection.InsertOne(ctx, s)
	if err != nil {
		return fmt.Errorf("insert upload session: %w", err)
	}
	return nil
}

// Update replaces the document guarded by the version loaded with it. A
// session changed by a concurrent writer no longer matches and the stale
// replace is rejected with repository.ErrOptimisticLock.
func (r *MongoSessionRepository) Update(ctx context.Context, s *UploadSession) error {
	expected := s.Version
	s.Version = expected + 1
	result, err := r.collection.ReplaceOne(ctx, bson.M{"_id": s.ID, "version": expected}, s)
	if err != nil {
		s.Version = expected
		return fmt.Errorf("update upload session: %w", err)
	}
	if result.MatchedCount == 0 {
		s.Version = expected
		return fmt.Errorf("update upload session %s: %w", s.ID, repository.ErrOptimisticLock)
	}
	return nil
}

func (r *MongoSessionRepository) FindByID(ctx context.Context, id string) (*UploadSession, error) {
	var s UploadSession
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&s)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find upload session: %w", err)
	}
	return &s, nil
}

func (r *MongoSessionRepository) FindByTenant(ctx context.Context, tenantID string, limit int) ([]*UploadSession, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{"tenantId": tenantID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find sessions by tenant: %w", err)
	}
	defer cursor.Close(ctx)

	var sessions []*UploadSession
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return sessions, nil
}

func (r *MongoSessionRepository) FindExpired(ctx context.Context, limit int) ([]*UploadSession, error) {
	filter := bson.M{
		"status":    bson.M{"$in": []SessionStatus{SessionStatusPending, SessionStatusInProgress}},
		"expiresAt": bson.M{"$lt": time.Now().UTC()},
	}

	cursor, err := r.collection.Find(ctx, filter, options.Find().SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("find expired sessions: %w", err)
	}
	defer cursor.Close(ctx)

	var sessions []*UploadSession
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("decode expired sessions: %w", err)
	}
	return sessions, nil
}

// MongoMultipartRepository implements MultipartRepository on MongoDB.
type MongoMultipartRepository struct {
	collection *mongo.Collection
}

// NewMongoMultipartRepository creates a MongoDB-backed multipart repository.
func NewMongoMultipartRepository(db *mongo.Database) *MongoMultipartRepository {
	return &MongoMultipartRepository{
		collection: db.Collection(MultipartCollectionName),
	}
}

func (r *MongoMultipartRepository) Insert(ctx context.Context, m *MultipartUpload) error {
	_, err := r.collection.InsertOne(ctx, m)
	if err != nil {
		return fmt.Errorf("insert multipart upload: %w", err)
	}
	return nil
}

// Update replaces the document guarded by the loaded version, mirroring the
// session repository. Part recording never goes through here; see RecordPart.
func (r *MongoMultipartRepository) Update(ctx context.Context, m *MultipartUpload) error {
	expected := m.Version
	m.Version = expected + 1
	result, err := r.collection.ReplaceOne(ctx, bson.M{"_id": m.ID, "version": expected}, m)
	if err != nil {
		m.Version = expected
		return fmt.Errorf("update multipart upload: %w", err)
	}
	if result.MatchedCount == 0 {
		m.Version = expected
		return fmt.Errorf("update multipart upload %s: %w", m.ID, repository.ErrOptimisticLock)
	}
	return nil
}

// RecordPart appends one part with a single guarded $push: the tracker must
// still be IN_PROGRESS and must not already hold the part number. Parts
// uploaded in parallel each land with their own push, so no writer can
// overwrite another's part. The version bump invalidates any full-document
// replace read before the push.
func (r *MongoMultipartRepository) RecordPart(ctx context.Context, trackerID string, part UploadPart) error {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{
			"_id":              trackerID,
			"status":           MultipartStatusInProgress,
			"parts.partNumber": bson.M{"$ne": part.PartNumber},
		},
		bson.M{
			"$push": bson.M{"parts": part},
			"$set":  bson.M{"updatedAt": time.Now().UTC()},
			"$inc":  bson.M{"version": 1},
		},
	)
	if err != nil {
		return fmt.Errorf("record part: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("record part %d on %s: %w", part.PartNumber, trackerID, repository.ErrOptimisticLock)
	}
	return nil
}

func (r *MongoMultipartRepository) FindBySessionID(ctx context.Context, sessionID string) (*MultipartUpload, error) {
	var m MultipartUpload
	err := r.collection.FindOne(ctx, bson.M{"sessionId": sessionID}).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find multipart upload: %w", err)
	}
	return &m, nil
}

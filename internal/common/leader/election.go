// Package leader provides distributed leader election. Two backends are
// available: a MongoDB lease document (no extra infrastructure beyond the
// primary store) and a Redis SET NX EX lease for deployments that already
// run Redis for locking.
package leader

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// leaseCollection holds one document per named lock.
const leaseCollection = "leader_locks"

// lease is the lock document. The _id is the lock name, so two instances
// competing for the same role race on a single document.
type lease struct {
	ID         string    `bson:"_id"`
	InstanceID string    `bson:"instanceId"`
	AcquiredAt time.Time `bson:"acquiredAt"`
	ExpiresAt  time.Time `bson:"expiresAt"`
}

// ElectorConfig configures a LeaderElector.
type ElectorConfig struct {
	// InstanceID uniquely identifies this instance. Defaults to hostname.
	InstanceID string

	// LockName names the role being contested, e.g. "crawl-scheduler-leader".
	LockName string

	// TTL is the lease duration. A crashed leader is replaced after at
	// most this long.
	TTL time.Duration

	// RefreshInterval is how often the holder extends the lease. Must be
	// comfortably below TTL.
	RefreshInterval time.Duration
}

// DefaultElectorConfig returns a config with a 30s lease refreshed every 10s.
func DefaultElectorConfig(lockName string) *ElectorConfig {
	instanceID, _ := os.Hostname()
	if instanceID == "" {
		instanceID = "instance-" + time.Now().Format("20060102150405")
	}
	return &ElectorConfig{
		InstanceID:      instanceID,
		LockName:        lockName,
		TTL:             30 * time.Second,
		RefreshInterval: 10 * time.Second,
	}
}

// LeaderElector contests a named lease document in MongoDB. All instances
// run the same loop; whoever holds an unexpired lease is primary, everyone
// else keeps retrying and takes over when the lease lapses.
type LeaderElector struct {
	locks   *mongo.Collection
	config  *ElectorConfig
	primary atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
	onGain  func()
	onLose  func()
}

// NewLeaderElector creates an elector over the given database.
func NewLeaderElector(db *mongo.Database, config *ElectorConfig) *LeaderElector {
	if config == nil {
		config = DefaultElectorConfig("default-leader")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LeaderElector{
		locks:   db.Collection(leaseCollection),
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
}

// OnBecomeLeader registers a callback fired when this instance gains the lease.
func (e *LeaderElector) OnBecomeLeader(fn func()) { e.onGain = fn }

// OnLoseLeadership registers a callback fired when the lease is lost.
func (e *LeaderElector) OnLoseLeadership(fn func()) { e.onLose = fn }

// Start ensures the TTL index and begins contesting the lease in the
// background. It never blocks on winning: callers gate work on IsPrimary.
func (e *LeaderElector) Start(ctx context.Context) error {
	// Mongo reaps expired lease documents on its own; the $lt filter in
	// acquire handles the window before the TTL monitor runs.
	_, err := e.locks.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().
			SetExpireAfterSeconds(0).
			SetName("ttl_expiresAt"),
	})
	if err != nil {
		slog.Debug("TTL index on leader_locks not created", "error", err)
	}

	go e.loop()

	slog.Info("Leader election started",
		"instanceId", e.config.InstanceID,
		"lockName", e.config.LockName,
		"ttl", e.config.TTL)
	return nil
}

// Stop halts the loop and releases the lease if held.
func (e *LeaderElector) Stop() {
	e.cancel()
	<-e.stopped

	if e.primary.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.Release(ctx)
	}
	slog.Info("Leader election stopped", "instanceId", e.config.InstanceID)
}

// IsPrimary reports whether this instance currently holds the lease.
func (e *LeaderElector) IsPrimary() bool { return e.primary.Load() }

// InstanceID returns this elector's identity.
func (e *LeaderElector) InstanceID() string { return e.config.InstanceID }

func (e *LeaderElector) loop() {
	defer close(e.stopped)

	ticker := time.NewTicker(e.config.RefreshInterval)
	defer ticker.Stop()

	e.contend()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.contend()
		}
	}
}

// contend refreshes the lease when held, otherwise tries to take it.
func (e *LeaderElector) contend() {
	ctx, cancel := context.WithTimeout(e.ctx, 5*time.Second)
	defer cancel()

	held := e.primary.Load()
	if held {
		if e.refresh(ctx) {
			return
		}
		e.primary.Store(false)
		slog.Warn("Lost leadership",
			"instanceId", e.config.InstanceID,
			"lockName", e.config.LockName)
		if e.onLose != nil {
			e.onLose()
		}
	}

	if e.acquire(ctx) {
		e.primary.Store(true)
		if !held {
			slog.Info("Acquired leadership",
				"instanceId", e.config.InstanceID,
				"lockName", e.config.LockName)
			if e.onGain != nil {
				e.onGain()
			}
		}
	}
}

// acquire takes the lease if it is free, expired, or already ours.
func (e *LeaderElector) acquire(ctx context.Context) bool {
	now := time.Now()

	filter := bson.M{
		"_id": e.config.LockName,
		"$or": []bson.M{
			{"expiresAt": bson.M{"$lt": now}},
			{"instanceId": e.config.InstanceID},
		},
	}
	update := bson.M{"$set": bson.M{
		"instanceId": e.config.InstanceID,
		"acquiredAt": now,
		"expiresAt":  now.Add(e.config.TTL),
	}}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc lease
	err := e.locks.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err != nil {
		// The upsert races with a live holder: the filter excludes their
		// document, so the insert collides on _id.
		if mongo.IsDuplicateKeyError(err) {
			return false
		}
		if err == mongo.ErrNoDocuments {
			_, insertErr := e.locks.InsertOne(ctx, lease{
				ID:         e.config.LockName,
				InstanceID: e.config.InstanceID,
				AcquiredAt: now,
				ExpiresAt:  now.Add(e.config.TTL),
			})
			if insertErr != nil {
				if !mongo.IsDuplicateKeyError(insertErr) {
					slog.Error("Failed to insert leader lease", "error", insertErr)
				}
				return false
			}
			return true
		}
		slog.Error("Failed to acquire leader lease",
			"error", err, "lockName", e.config.LockName)
		return false
	}

	return doc.InstanceID == e.config.InstanceID
}

// refresh extends a lease we believe we hold. A zero match means another
// instance took over.
func (e *LeaderElector) refresh(ctx context.Context) bool {
	res, err := e.locks.UpdateOne(ctx,
		bson.M{"_id": e.config.LockName, "instanceId": e.config.InstanceID},
		bson.M{"$set": bson.M{"expiresAt": time.Now().Add(e.config.TTL)}},
	)
	if err != nil {
		slog.Error("Failed to refresh leader lease",
			"error", err, "lockName", e.config.LockName)
		return false
	}
	return res.MatchedCount > 0
}

// Release drops the lease so a standby can take over immediately instead of
// waiting out the TTL.
func (e *LeaderElector) Release(ctx context.Context) {
	res, err := e.locks.DeleteOne(ctx,
		bson.M{"_id": e.config.LockName, "instanceId": e.config.InstanceID})
	if err != nil {
		slog.Error("Failed to release leader lease",
			"error", err, "lockName", e.config.LockName)
		return
	}
	if res.DeletedCount > 0 {
		slog.Info("Released leader lease",
			"instanceId", e.config.InstanceID,
			"lockName", e.config.LockName)
	}
	e.primary.Store(false)
}

// GetCurrentLeader returns the instance holding an unexpired lease, or ""
// when the role is vacant.
func (e *LeaderElector) GetCurrentLeader(ctx context.Context) (string, error) {
	var doc lease
	err := e.locks.FindOne(ctx, bson.M{
		"_id":       e.config.LockName,
		"expiresAt": bson.M{"$gt": time.Now()},
	}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return "", nil
		}
		return "", err
	}
	return doc.InstanceID, nil
}

// Package scheduler publishes recurring crawl tasks to the task queue.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.fileflow.dev/internal/common/leader"
	"go.fileflow.dev/internal/common/metrics"
	"go.fileflow.dev/internal/common/tsid"
	"go.fileflow.dev/internal/download"
	"go.fileflow.dev/internal/queue"
)

// SchedulerConfig holds configuration for the crawl scheduler
type SchedulerConfig struct {
	// PollInterval is how often to poll for due schedules
	PollInterval time.Duration

	// BatchSize is the maximum schedules to fetch per poll
	BatchSize int

	// LagCheckInterval is how often the due-backlog gauge is refreshed
	LagCheckInterval time.Duration

	// LeaderElection enables distributed leader election
	LeaderElection LeaderElectionConfig
}

// LeaderElectionConfig holds leader election settings
type LeaderElectionConfig struct {
	// Enabled controls whether leader election is active
	Enabled bool

	// InstanceID uniquely identifies this instance
	InstanceID string

	// TTL is how long the lock is valid before expiring
	TTL time.Duration

	// RefreshInterval is how often to refresh the lock while primary
	RefreshInterval time.Duration
}

// DefaultSchedulerConfig returns sensible defaults
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		PollInterval:     5 * time.Second,
		BatchSize:        100,
		LagCheckInterval: 60 * time.Second,
	}
}

// Scheduler polls crawl schedules and publishes one CrawlTaskPayload per due
// schedule. Only the leader publishes; deduplication on schedule id plus run
// slot keeps a leadership handover from double-publishing the same run.
type Scheduler struct {
	config    *SchedulerConfig
	publisher queue.Publisher

	collection     *mongo.Collection
	overlapChecker *OverlapChecker
	leaderElector  *leader.LeaderElector

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	runningMu sync.Mutex
}

// NewScheduler creates a new crawl scheduler
func NewScheduler(db *mongo.Database, downloads download.Repository, publisher queue.Publisher, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		config:         config,
		publisher:      publisher,
		collection:     db.Collection("crawl_schedules"),
		overlapChecker: NewOverlapChecker(downloads),
		ctx:            ctx,
		cancel:         cancel,
	}

	// Initialize leader elector if enabled
	if config.LeaderElection.Enabled {
		electorConfig := &leader.ElectorConfig{
			InstanceID:      config.LeaderElection.InstanceID,
			LockName:        "crawl-scheduler-leader",
			TTL:             config.LeaderElection.TTL,
			RefreshInterval: config.LeaderElection.RefreshInterval,
		}

		// Use defaults if not configured
		if electorConfig.TTL == 0 {
			electorConfig.TTL = 30 * time.Second
		}
		if electorConfig.RefreshInterval == 0 {
			electorConfig.RefreshInterval = 10 * time.Second
		}
		if electorConfig.InstanceID == "" {
			defaultCfg := leader.DefaultElectorConfig("crawl-scheduler-leader")
			electorConfig.InstanceID = defaultCfg.InstanceID
		}

		s.leaderElector = leader.NewLeaderElector(db, electorConfig)
	}

	return s
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.runningMu.Lock()
	if s.running {
		s.runningMu.Unlock()
		slog.Warn("Crawl scheduler already running")
		return
	}
	s.running = true
	s.runningMu.Unlock()

	// Start leader election if enabled
	if s.leaderElector != nil {
		if err := s.leaderElector.Start(s.ctx); err != nil {
			slog.Error("Failed to start leader election", "error", err)
		} else {
			slog.Info("Leader election enabled for crawl scheduler", "instanceId", s.leaderElector.InstanceID())
		}
	}

	s.wg.Add(1)
	go s.pollLoop()

	s.wg.Add(1)
	go s.lagLoop()

	slog.Info("Crawl scheduler started", "pollInterval", s.config.PollInterval, "batchSize", s.config.BatchSize, "leaderElection", s.leaderElector != nil)
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.runningMu.Lock()
	if !s.running {
		s.runningMu.Unlock()
		return
	}
	s.running = false
	s.runningMu.Unlock()

	slog.Info("Stopping crawl scheduler")

	s.cancel()
	s.wg.Wait()

	if s.leaderElector != nil {
		s.leaderElector.Stop()
	}

	slog.Info("Crawl scheduler stopped")
}

// IsRunning returns true if the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	return s.running
}

// IsPrimary returns true if this instance is the leader (or leader election
// is disabled)
func (s *Scheduler) IsPrimary() bool {
	if s.leaderElector == nil {
		return true
	}
	return s.leaderElector.IsPrimary()
}

// pollLoop is the main polling loop
func (s *Scheduler) pollLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	// Do an initial poll immediately
	s.pollAndPublish()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.pollAndPublish()
		}
	}
}

// pollAndPublish finds due schedules and publishes their crawl tasks
func (s *Scheduler) pollAndPublish() {
	// Skip if not the leader
	if !s.IsPrimary() {
		slog.Debug("Skipping poll - not the leader")
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	now := time.Now().UTC()
	filter := bson.M{
		"enabled":   true,
		"nextRunAt": bson.M{"$lte": now},
	}

	opts := options.Find().
		SetSort(bson.M{"nextRunAt": 1}).
		SetLimit(int64(s.config.BatchSize))

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		slog.Error("Failed to poll for due schedules", "error", err)
		return
	}
	defer cursor.Close(ctx)

	var due []*CrawlSchedule
	for cursor.Next(ctx) {
		var schedule CrawlSchedule
		if err := cursor.Decode(&schedule); err != nil {
			slog.Error("Failed to decode crawl schedule", "error", err)
			continue
		}
		due = append(due, &schedule)
	}
	if err := cursor.Err(); err != nil {
		slog.Error("Cursor error while polling schedules", "error", err)
		return
	}

	if len(due) == 0 {
		return
	}

	slog.Debug("Polled due crawl schedules", "count", len(due))

	// Previous-task overlap check, batched across the due schedules
	lastTaskIDs := make([]string, 0, len(due))
	for _, schedule := range due {
		if schedule.LastTaskID != "" {
			lastTaskIDs = append(lastTaskIDs, schedule.LastTaskID)
		}
	}
	activeTasks := s.overlapChecker.GetActiveTasks(ctx, lastTaskIDs)

	published := 0
	skipped := 0
	for _, schedule := range due {
		if schedule.LastTaskID != "" && activeTasks[schedule.LastTaskID] {
			// The previous run is still pulling files; let it finish
			slog.Debug("Schedule skipped, previous task still active",
				"scheduleId", schedule.ID, "lastTaskId", schedule.LastTaskID)
			metrics.CrawlSchedulesSkipped.Inc()
			skipped++
			continue
		}

		if err := s.publishTask(ctx, schedule, now); err != nil {
			slog.Error("Failed to publish crawl task", "error", err, "scheduleId", schedule.ID)
			continue
		}
		published++
	}

	if skipped > 0 {
		slog.Info("Published crawl tasks with overlap filtering", "published", published, "skipped", skipped)
	}
}

// publishTask publishes one crawl task and advances the schedule
func (s *Scheduler) publishTask(ctx context.Context, schedule *CrawlSchedule, now time.Time) error {
	taskID := tsid.Generate()

	payload := queue.CrawlTaskPayload{
		TaskID:      taskID,
		SchedulerID: schedule.ID,
		SellerID:    schedule.SellerID,
		TaskType:    schedule.TaskType,
		Endpoint:    schedule.Endpoint,
	}
	data, err := queue.EncodeMessage(payload)
	if err != nil {
		return err
	}

	// The run slot deduplicates: a redispatch after a leadership handover
	// reuses the same nextRunAt and is absorbed by the queue
	dedupID := fmt.Sprintf("crawl-run:%s:%d", schedule.ID, schedule.NextRunAt.Unix())
	if err := s.publisher.PublishWithDeduplication(ctx, queue.SubjectCrawlTask, data, dedupID); err != nil {
		return err
	}

	// Missed runs collapse: the next run is measured from now, not from the
	// overdue slot, so a backlog never causes a publish burst
	interval := schedule.Interval()
	update := bson.M{
		"$set": bson.M{
			"lastRunAt":  now,
			"lastTaskId": taskID,
			"nextRunAt":  now.Add(interval),
			"updatedAt":  now,
		},
	}
	if _, err := s.collection.UpdateByID(ctx, schedule.ID, update); err != nil {
		// The task is already in the queue; the next poll will retry the
		// advance and the dedup id absorbs the duplicate publish
		slog.Error("Failed to advance schedule", "error", err, "scheduleId", schedule.ID)
	}

	metrics.CrawlTasksScheduled.Inc()

	slog.Debug("Published crawl task", "scheduleId", schedule.ID, "taskId", taskID, "sellerId", schedule.SellerID)

	return nil
}

// lagLoop refreshes the due-backlog gauge
func (s *Scheduler) lagLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.LagCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.reportLag()
		}
	}
}

// reportLag counts schedules past their next run time
func (s *Scheduler) reportLag() {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	count, err := s.collection.CountDocuments(ctx, bson.M{
		"enabled":   true,
		"nextRunAt": bson.M{"$lte": time.Now().UTC()},
	})
	if err != nil {
		slog.Error("Failed to count due schedules", "error", err)
		return
	}
	metrics.CrawlSchedulesDue.Set(float64(count))
}

// CrawlSchedule is a recurring crawl definition.
// Collection: crawl_schedules
type CrawlSchedule struct {
	ID       string `bson:"_id"`
	SellerID string `bson:"sellerId"`

	// TaskType names the crawl flavor (full listing, delta)
	TaskType string `bson:"taskType"`

	// Endpoint is the seller listing URL the crawl task fetches
	Endpoint string `bson:"endpoint"`

	// IntervalSeconds is the spacing between runs
	IntervalSeconds int64 `bson:"intervalSeconds"`

	Enabled   bool       `bson:"enabled"`
	NextRunAt time.Time  `bson:"nextRunAt"`
	LastRunAt *time.Time `bson:"lastRunAt,omitempty"`

	// LastTaskID is the task published by the previous run, used for the
	// overlap check
	LastTaskID string `bson:"lastTaskId,omitempty"`

	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// Interval returns the run spacing, defaulting to an hour when unset.
func (c *CrawlSchedule) Interval() time.Duration {
	if c.IntervalSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(c.IntervalSeconds) * time.Second
}

// NewCrawlSchedule creates an enabled schedule whose first run is due
// immediately.
func NewCrawlSchedule(sellerID, taskType, endpoint string, interval time.Duration) *CrawlSchedule {
	now := time.Now().UTC()
	return &CrawlSchedule{
		ID:              tsid.Generate(),
		SellerID:        sellerID,
		TaskType:        taskType,
		Endpoint:        endpoint,
		IntervalSeconds: int64(interval / time.Second),
		Enabled:         true,
		NextRunAt:       now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

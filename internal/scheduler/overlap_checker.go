package scheduler

import (
	"context"

	"log/slog"

	"go.fileflow.dev/internal/download"
)

// OverlapChecker decides whether the previous run of a schedule is still in
// flight. A crawl task registers the downloads it spawns under its own task
// id, so a task is active while any of those downloads is non-terminal.
type OverlapChecker struct {
	downloads download.Repository
}

// NewOverlapChecker creates a new overlap checker
func NewOverlapChecker(downloads download.Repository) *OverlapChecker {
	return &OverlapChecker{
		downloads: downloads,
	}
}

// IsTaskActive returns true if the task still has non-terminal downloads
func (c *OverlapChecker) IsTaskActive(ctx context.Context, taskID string) bool {
	if taskID == "" {
		return false
	}

	items, err := c.downloads.FindBySessionID(ctx, taskID)
	if err != nil {
		slog.Error("Failed to check task activity", "error", err, "taskId", taskID)
		// On error, don't skip - fail open so one repository hiccup cannot
		// stall every schedule
		return false
	}

	for _, d := range items {
		if !d.Status.IsTerminal() {
			slog.Debug("Task still active", "taskId", taskID, "downloadId", d.ID, "status", d.Status)
			return true
		}
	}

	return false
}

// GetActiveTasks checks multiple task ids and returns a map of which ones
// still have non-terminal downloads
func (c *OverlapChecker) GetActiveTasks(ctx context.Context, taskIDs []string) map[string]bool {
	if len(taskIDs) == 0 {
		return map[string]bool{}
	}

	// De-duplicate ids
	unique := make(map[string]struct{})
	for _, id := range taskIDs {
		if id != "" {
			unique[id] = struct{}{}
		}
	}

	active := make(map[string]bool, len(unique))
	for id := range unique {
		if c.IsTaskActive(ctx, id) {
			active[id] = true
		}
	}

	if len(active) > 0 {
		slog.Debug("Found active crawl tasks", "activeCount", len(active), "totalTasks", len(unique))
	}

	return active
}

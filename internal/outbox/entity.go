// Package outbox implements the transactional outbox pattern.
//
// A record is written in the same MongoDB transaction as the domain state
// change it reports, so a crash can lose neither the state nor the event.
// The dispatcher later claims PENDING records with an atomic conditional
// update and delivers them to the queue or a webhook target.
//
// Status flow: PENDING -> PROCESSING -> COMPLETED | FAILED.
// FAILED records are never retried automatically; ResetForRetry moves them
// back to PENDING as an explicit, deliberate action. This prevents silent
// infinite retry storms on a poisoned record.
package outbox

import (
	"time"

	"go.fileflow.dev/internal/common/tsid"
)

// Status represents the dispatch status of an outbox record.
type Status string

const (
	// StatusPending - record is waiting for the dispatcher
	StatusPending Status = "PENDING"

	// StatusProcessing - record is claimed by a dispatcher
	StatusProcessing Status = "PROCESSING"

	// StatusCompleted - record was delivered
	StatusCompleted Status = "COMPLETED"

	// StatusFailed - delivery failed; requires an explicit retry action
	StatusFailed Status = "FAILED"
)

// IsTerminal returns true if this status represents a final state
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// EventType defines what a record reports and where it is delivered.
type EventType string

const (
	// EventTypeDownloadRequested - enqueue an external download task
	EventTypeDownloadRequested EventType = "DOWNLOAD_REQUESTED"

	// EventTypeFileProcessing - enqueue post-upload processing (image transforms)
	EventTypeFileProcessing EventType = "FILE_PROCESSING"

	// EventTypeCallback - deliver an HTTP callback to the tenant
	EventTypeCallback EventType = "CALLBACK"

	// EventTypeWebhook - deliver a webhook notification
	EventTypeWebhook EventType = "WEBHOOK"
)

// IsQueueBound returns true for event types delivered to the task queue
// rather than over HTTP.
func (t EventType) IsQueueBound() bool {
	return t == EventTypeDownloadRequested || t == EventTypeFileProcessing
}

// Record is one event that must be delivered.
// Collection: outbox_records
type Record struct {
	ID string `bson:"_id" json:"id"`

	// AggregateID references the session/download the event reports on
	AggregateID string `bson:"aggregateId" json:"aggregateId"`

	// EventType routes the record to the queue or a webhook sink
	EventType EventType `bson:"eventType" json:"eventType"`

	// Payload is the serialized event body
	Payload string `bson:"payload" json:"payload"`

	// Target is the delivery URL for CALLBACK/WEBHOOK records
	Target string `bson:"target,omitempty" json:"target,omitempty"`

	// IdempotencyKey deduplicates logical events at creation time via a
	// unique sparse index; empty means no deduplication
	IdempotencyKey string `bson:"idempotencyKey,omitempty" json:"idempotencyKey,omitempty"`

	Status     Status    `bson:"status" json:"status"`
	RetryCount int       `bson:"retryCount" json:"retryCount"`
	LastError  string    `bson:"lastError,omitempty" json:"lastError,omitempty"`
	CreatedAt  time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt  time.Time `bson:"updatedAt" json:"updatedAt"`
}

// NewRecord creates a PENDING outbox record.
func NewRecord(aggregateID string, eventType EventType, payload string) *Record {
	now := time.Now().UTC()
	return &Record{
		ID:          tsid.Generate(),
		AggregateID: aggregateID,
		EventType:   eventType,
		Payload:     payload,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// WithTarget sets the delivery URL for callback/webhook records.
func (r *Record) WithTarget(url string) *Record {
	r.Target = url
	return r
}

// WithIdempotencyKey sets the deduplication key.
func (r *Record) WithIdempotencyKey(key string) *Record {
	r.IdempotencyKey = key
	return r
}

// IsPending returns true if the record is waiting for dispatch
func (r *Record) IsPending() bool {
	return r.Status == StatusPending
}

// IsProcessing returns true if a dispatcher has claimed the record
func (r *Record) IsProcessing() bool {
	return r.Status == StatusProcessing
}

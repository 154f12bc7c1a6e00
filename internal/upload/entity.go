// Package upload contains the upload session aggregates: the single/multipart
// session lifecycle and the per-part bookkeeping for multipart uploads.
//
// The aggregates know nothing about the object store. A recorded part means
// the caller reported it uploaded; verifying the bytes actually landed is the
// storage adapter's job.
package upload

import (
	"fmt"
	"time"

	"go.fileflow.dev/internal/common/tsid"
	"go.fileflow.dev/internal/core/common"
)

// UploadType defines how the file reaches the object store
type UploadType string

const (
	UploadTypeSingle    UploadType = "SINGLE"
	UploadTypeMultipart UploadType = "MULTIPART"
)

// SessionStatus is the lifecycle status of an upload session
type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "PENDING"
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
	SessionStatusFailed     SessionStatus = "FAILED"
	SessionStatusExpired    SessionStatus = "EXPIRED"
)

// IsTerminal returns true for states that permit no further transition
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed || s == SessionStatusExpired
}

// UploadSession tracks one logical upload from initiation to completion,
// abort, or failure.
// Collection: upload_sessions
type UploadSession struct {
	ID          string        `bson:"_id" json:"id"`
	TenantID    string        `bson:"tenantId" json:"tenantId"`
	FileName    string        `bson:"fileName" json:"fileName"`
	FileSize    int64         `bson:"fileSize" json:"fileSize"`
	ContentType string        `bson:"contentType,omitempty" json:"contentType,omitempty"`
	Bucket      string        `bson:"bucket" json:"bucket"`
	StorageKey  string        `bson:"storageKey" json:"storageKey"`
	UploadType  UploadType    `bson:"uploadType" json:"uploadType"`
	Status      SessionStatus `bson:"status" json:"status"`
	Version     int64         `bson:"version" json:"-"`
	ExpiresAt   time.Time     `bson:"expiresAt" json:"expiresAt"`
	CreatedAt   time.Time     `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time     `bson:"updatedAt" json:"updatedAt"`
	CompletedAt time.Time     `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
}

// NewUploadSession creates a PENDING session with a fresh TSID.
func NewUploadSession(tenantID, fileName string, fileSize int64, contentType string, uploadType UploadType, bucket, storageKey string, ttl time.Duration) *UploadSession {
	now := time.Now().UTC()
	return &UploadSession{
		ID:          tsid.Generate(),
		TenantID:    tenantID,
		FileName:    fileName,
		FileSize:    fileSize,
		ContentType: contentType,
		Bucket:      bucket,
		StorageKey:  storageKey,
		UploadType:  uploadType,
		Status:      SessionStatusPending,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Start transitions PENDING -> IN_PROGRESS.
func (s *UploadSession) Start() *common.UseCaseError {
	if s.Status != SessionStatusPending {
		return s.invalidTransition("start")
	}
	s.Status = SessionStatusInProgress
	s.touch()
	return nil
}

// Complete transitions IN_PROGRESS -> COMPLETED and records completion time.
func (s *UploadSession) Complete() *common.UseCaseError {
	if s.Status != SessionStatusInProgress {
		return s.invalidTransition("complete")
	}
	s.Status = SessionStatusCompleted
	s.CompletedAt = time.Now().UTC()
	s.touch()
	return nil
}

// Fail moves any non-terminal session to FAILED. Failing an already FAILED
// session is a no-op so the DLQ path stays idempotent.
func (s *UploadSession) Fail() *common.UseCaseError {
	if s.Status == SessionStatusFailed {
		return nil
	}
	if s.Status.IsTerminal() {
		return s.invalidTransition("fail")
	}
	s.Status = SessionStatusFailed
	s.touch()
	return nil
}

// Expire moves a non-terminal session past its deadline to EXPIRED.
func (s *UploadSession) Expire() *common.UseCaseError {
	if s.Status.IsTerminal() {
		return s.invalidTransition("expire")
	}
	s.Status = SessionStatusExpired
	s.touch()
	return nil
}

// IsExpired returns true once the session deadline has passed.
func (s *UploadSession) IsExpired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}

func (s *UploadSession) touch() {
	s.UpdatedAt = time.Now().UTC()
}

func (s *UploadSession) invalidTransition(op string) *common.UseCaseError {
	return common.StateViolationError(common.ErrCodeInvalidState,
		fmt.Sprintf("cannot %s session in status %s", op, s.Status),
		map[string]any{"sessionId": s.ID, "status": string(s.Status)})
}

// MultipartStatus is the lifecycle status of a multipart upload
type MultipartStatus string

const (
	MultipartStatusInit       MultipartStatus = "INIT"
	MultipartStatusInProgress MultipartStatus = "IN_PROGRESS"
	MultipartStatusCompleted  MultipartStatus = "COMPLETED"
	MultipartStatusAborted    MultipartStatus = "ABORTED"
	MultipartStatusFailed     MultipartStatus = "FAILED"
)

// UploadPart records one client-reported uploaded part
type UploadPart struct {
	PartNumber int       `bson:"partNumber" json:"partNumber"`
	ETag       string    `bson:"etag" json:"etag"`
	Size       int64     `bson:"size" json:"size"`
	UploadedAt time.Time `bson:"uploadedAt" json:"uploadedAt"`
}

// MultipartUpload tracks per-part progress for a MULTIPART session.
// One per session, created alongside it.
// Collection: multipart_uploads
type MultipartUpload struct {
	ID               string          `bson:"_id" json:"id"`
	SessionID        string          `bson:"sessionId" json:"sessionId"`
	ProviderUploadID string          `bson:"providerUploadId,omitempty" json:"providerUploadId,omitempty"`
	TotalParts       int             `bson:"totalParts" json:"totalParts"`
	Parts            []UploadPart    `bson:"parts" json:"parts"`
	Status           MultipartStatus `bson:"status" json:"status"`
	Version          int64           `bson:"version" json:"-"`
	StartedAt        time.Time       `bson:"startedAt" json:"startedAt"`
	UpdatedAt        time.Time       `bson:"updatedAt" json:"updatedAt"`
	CompletedAt      time.Time       `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
	AbortedAt        time.Time       `bson:"abortedAt,omitempty" json:"abortedAt,omitempty"`
}

// NewMultipartUpload creates the INIT-state tracker for a session.
func NewMultipartUpload(sessionID string) *MultipartUpload {
	now := time.Now().UTC()
	return &MultipartUpload{
		ID:        tsid.Generate(),
		SessionID: sessionID,
		Status:    MultipartStatusInit,
		Parts:     []UploadPart{},
		StartedAt: now,
		UpdatedAt: now,
	}
}

// Initiate records the provider-assigned upload id and the declared part
// count. INIT -> IN_PROGRESS only.
func (m *MultipartUpload) Initiate(providerUploadID string, totalParts int) *common.UseCaseError {
	if m.Status != MultipartStatusInit {
		return common.StateViolationError(common.ErrCodeInvalidState,
			fmt.Sprintf("multipart upload already initiated: %s", m.Status),
			map[string]any{"sessionId": m.SessionID, "status": string(m.Status)})
	}
	if providerUploadID == "" {
		return common.ValidationError(common.ErrCodeRequired, "provider upload id is required", nil)
	}
	if totalParts < 1 {
		return common.ValidationError(common.ErrCodeInvalidValue,
			"total parts must be at least 1",
			map[string]any{"totalParts": totalParts})
	}
	m.ProviderUploadID = providerUploadID
	m.TotalParts = totalParts
	m.Status = MultipartStatusInProgress
	m.touch()
	return nil
}

// AddPart records a client-reported uploaded part. Requires IN_PROGRESS and
// a part number not yet recorded.
func (m *MultipartUpload) AddPart(partNumber int, etag string, size int64) *common.UseCaseError {
	if m.Status != MultipartStatusInProgress {
		return common.StateViolationError(common.ErrCodeInvalidState,
			fmt.Sprintf("cannot add part in status %s", m.Status),
			map[string]any{"sessionId": m.SessionID, "status": string(m.Status)})
	}
	if partNumber < 1 {
		return common.ValidationError(common.ErrCodeInvalidValue,
			"part number must be at least 1",
			map[string]any{"partNumber": partNumber})
	}
	if m.HasPart(partNumber) {
		return common.StateViolationError(common.ErrCodeDuplicatePart,
			fmt.Sprintf("duplicate part number: %d", partNumber),
			map[string]any{"sessionId": m.SessionID, "partNumber": partNumber})
	}
	m.Parts = append(m.Parts, UploadPart{
		PartNumber: partNumber,
		ETag:       etag,
		Size:       size,
		UploadedAt: time.Now().UTC(),
	})
	m.touch()
	return nil
}

// Complete transitions IN_PROGRESS -> COMPLETED, but only when the recorded
// part numbers are exactly the contiguous range 1..TotalParts.
func (m *MultipartUpload) Complete() *common.UseCaseError {
	if m.Status != MultipartStatusInProgress {
		return common.StateViolationError(common.ErrCodeInvalidState,
			fmt.Sprintf("cannot complete in status %s", m.Status),
			map[string]any{"sessionId": m.SessionID, "status": string(m.Status)})
	}
	if !m.hasAllParts() {
		return common.StateViolationError(common.ErrCodeIncompleteUpload,
			fmt.Sprintf("incomplete upload, %d/%d", len(m.Parts), m.TotalParts),
			map[string]any{
				"sessionId": m.SessionID,
				"uploaded":  len(m.Parts),
				"expected":  m.TotalParts,
			})
	}
	m.Status = MultipartStatusCompleted
	m.CompletedAt = time.Now().UTC()
	m.touch()
	return nil
}

// Abort moves any non-COMPLETED upload to ABORTED. Aborting a completed
// upload is rejected.
func (m *MultipartUpload) Abort() *common.UseCaseError {
	if m.Status == MultipartStatusCompleted {
		return common.StateViolationError(common.ErrCodeAlreadyCompleted,
			"cannot abort completed upload",
			map[string]any{"sessionId": m.SessionID})
	}
	m.Status = MultipartStatusAborted
	m.AbortedAt = time.Now().UTC()
	m.touch()
	return nil
}

// Fail unconditionally moves the upload to FAILED. Used by the consumer when
// the object store rejects the upload unrecoverably.
func (m *MultipartUpload) Fail() {
	m.Status = MultipartStatusFailed
	m.touch()
}

// CanComplete returns true when Complete would succeed.
func (m *MultipartUpload) CanComplete() bool {
	return m.Status == MultipartStatusInProgress && m.hasAllParts()
}

// HasPart returns true if partNumber is already recorded.
func (m *MultipartUpload) HasPart(partNumber int) bool {
	for _, p := range m.Parts {
		if p.PartNumber == partNumber {
			return true
		}
	}
	return false
}

// IsInProgress returns true while parts may still be added.
func (m *MultipartUpload) IsInProgress() bool {
	return m.Status == MultipartStatusInProgress
}

// hasAllParts verifies the recorded part numbers are exactly {1..TotalParts}.
func (m *MultipartUpload) hasAllParts() bool {
	if m.TotalParts < 1 || len(m.Parts) != m.TotalParts {
		return false
	}
	seen := make(map[int]bool, len(m.Parts))
	for _, p := range m.Parts {
		seen[p.PartNumber] = true
	}
	for n := 1; n <= m.TotalParts; n++ {
		if !seen[n] {
			return false
		}
	}
	return true
}

func (m *MultipartUpload) touch() {
	m.UpdatedAt = time.Now().UTC()
}

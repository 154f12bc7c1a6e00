package upload

import (
	"testing"
	"time"

	"go.fileflow.dev/internal/core/common"
)

func newInProgressMultipart(t *testing.T, totalParts int) *MultipartUpload {
	t.Helper()
	m := NewMultipartUpload("session-1")
	if err := m.Initiate("provider-upload-1", totalParts); err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	return m
}

func TestSessionLifecycle(t *testing.T) {
	s := NewUploadSession("tenant-1", "photo.jpg", 1024, "image/jpeg", UploadTypeSingle, "uploads", "tenant-1/photo.jpg", time.Hour)

	if s.Status != SessionStatusPending {
		t.Fatalf("new session status = %s, want PENDING", s.Status)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := s.Complete(); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if s.CompletedAt.IsZero() {
		t.Error("complete must record completion time")
	}

	// No transition leaves a terminal state
	if err := s.Start(); err == nil {
		t.Error("start on completed session must fail")
	}
	if err := s.Expire(); err == nil {
		t.Error("expire on completed session must fail")
	}
}

func TestSessionCompleteRequiresInProgress(t *testing.T) {
	s := NewUploadSession("tenant-1", "f", 1, "", UploadTypeSingle, "b", "k", time.Hour)
	err := s.Complete()
	if err == nil {
		t.Fatal("complete on PENDING session must fail")
	}
	if err.Kind != common.ErrorKindStateViolation {
		t.Errorf("error kind = %s, want STATE_VIOLATION", err.Kind)
	}
}

func TestSessionFailIsIdempotent(t *testing.T) {
	s := NewUploadSession("tenant-1", "f", 1, "", UploadTypeSingle, "b", "k", time.Hour)
	if err := s.Fail(); err != nil {
		t.Fatalf("first fail: %v", err)
	}
	if err := s.Fail(); err != nil {
		t.Fatalf("second fail must be a no-op, got: %v", err)
	}
	if s.Status != SessionStatusFailed {
		t.Errorf("status = %s, want FAILED", s.Status)
	}
}

func TestMultipartInitiate(t *testing.T) {
	m := NewMultipartUpload("session-1")
	if err := m.Initiate("upload-id", 3); err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if m.Status != MultipartStatusInProgress {
		t.Errorf("status = %s, want IN_PROGRESS", m.Status)
	}

	err := m.Initiate("upload-id-2", 5)
	if err == nil {
		t.Fatal("second initiate must fail")
	}
	if err.Code != common.ErrCodeInvalidState {
		t.Errorf("error code = %s, want INVALID_STATE", err.Code)
	}
}

func TestMultipartAddPartRules(t *testing.T) {
	m := NewMultipartUpload("session-1")

	// Not yet initiated
	if err := m.AddPart(1, "etag-1", 100); err == nil {
		t.Fatal("addPart before initiate must fail")
	}

	if err := m.Initiate("upload-id", 3); err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if err := m.AddPart(1, "etag-1", 100); err != nil {
		t.Fatalf("addPart failed: %v", err)
	}

	err := m.AddPart(1, "etag-1b", 100)
	if err == nil {
		t.Fatal("duplicate part number must be rejected")
	}
	if err.Code != common.ErrCodeDuplicatePart {
		t.Errorf("error code = %s, want DUPLICATE_PART", err.Code)
	}

	if err := m.AddPart(0, "etag-0", 100); err == nil {
		t.Error("part number 0 must be rejected")
	}
}

func TestMultipartCompleteRequiresContiguousParts(t *testing.T) {
	m := newInProgressMultipart(t, 3)

	// Parts 1 and 3: a gap at 2
	if err := m.AddPart(1, "etag-1", 100); err != nil {
		t.Fatal(err)
	}
	if err := m.AddPart(3, "etag-3", 100); err != nil {
		t.Fatal(err)
	}

	err := m.Complete()
	if err == nil {
		t.Fatal("complete with a missing part must fail")
	}
	if err.Code != common.ErrCodeIncompleteUpload {
		t.Errorf("error code = %s, want INCOMPLETE_UPLOAD", err.Code)
	}
	if err.Message != "incomplete upload, 2/3" {
		t.Errorf("message = %q, want %q", err.Message, "incomplete upload, 2/3")
	}

	// Filling the gap makes completion succeed
	if err := m.AddPart(2, "etag-2", 100); err != nil {
		t.Fatal(err)
	}
	if err := m.Complete(); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if m.Status != MultipartStatusCompleted {
		t.Errorf("status = %s, want COMPLETED", m.Status)
	}
	if m.CompletedAt.IsZero() {
		t.Error("complete must record completion time")
	}
}

func TestMultipartCompleteRejectsOutOfRangePart(t *testing.T) {
	m := newInProgressMultipart(t, 2)

	if err := m.AddPart(1, "etag-1", 100); err != nil {
		t.Fatal(err)
	}
	if err := m.AddPart(4, "etag-4", 100); err != nil {
		t.Fatal(err)
	}

	// Count matches but part 2 is missing and 4 is out of range
	if err := m.Complete(); err == nil {
		t.Fatal("complete with out-of-range part must fail")
	}
}

func TestMultipartAbortRules(t *testing.T) {
	m := newInProgressMultipart(t, 1)
	if err := m.Abort(); err != nil {
		t.Fatalf("abort failed: %v", err)
	}
	if m.Status != MultipartStatusAborted {
		t.Errorf("status = %s, want ABORTED", m.Status)
	}
	if m.AbortedAt.IsZero() {
		t.Error("abort must record abort time")
	}

	// No mutation after COMPLETED
	done := newInProgressMultipart(t, 1)
	if err := done.AddPart(1, "etag-1", 100); err != nil {
		t.Fatal(err)
	}
	if err := done.Complete(); err != nil {
		t.Fatal(err)
	}
	err := done.Abort()
	if err == nil {
		t.Fatal("abort on completed upload must fail")
	}
	if err.Code != common.ErrCodeAlreadyCompleted {
		t.Errorf("error code = %s, want ALREADY_COMPLETED", err.Code)
	}
	if err := done.AddPart(2, "etag-2", 100); err == nil {
		t.Error("addPart after complete must fail")
	}
}

func TestMultipartFailIsUnconditional(t *testing.T) {
	m := newInProgressMultipart(t, 2)
	m.Fail()
	if m.Status != MultipartStatusFailed {
		t.Errorf("status = %s, want FAILED", m.Status)
	}
}

func TestMultipartMutationsUpdateTimestamp(t *testing.T) {
	m := NewMultipartUpload("session-1")
	before := m.UpdatedAt

	time.Sleep(time.Millisecond)
	if err := m.Initiate("upload-id", 1); err != nil {
		t.Fatal(err)
	}
	if !m.UpdatedAt.After(before) {
		t.Error("initiate must advance updatedAt")
	}
}

package repository

import "errors"

// Sentinel errors shared by all repositories. Mongo implementations map
// driver errors onto these so callers never match on driver types.
var (
	// ErrNotFound indicates the requested entity does not exist
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicateKey indicates a unique index violation
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrOptimisticLock indicates a version conflict on save
	ErrOptimisticLock = errors.New("optimistic lock failed")
)

package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the configuration does not exist in the store.
	ErrNotFound = errors.New("configuration not found")

	// ErrAlreadyExists indicates the id is already taken in the store.
	ErrAlreadyExists = errors.New("configuration already exists")

	// ErrVersionNotFound indicates a ref or path that does not resolve.
	ErrVersionNotFound = errors.New("configuration version not found")
)

// TypeMismatchError indicates a document whose config_type differs from the
// store's type.
type TypeMismatchError struct {
	Want string
	Got  string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("config type mismatch: store holds %q, got %q", e.Want, e.Got)
}

// StorageError indicates a filesystem or git failure underneath the store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ValidationError indicates malformed content or metadata.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", e.Reason)
}

package recordfiles

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrRecordNotFound indicates a record was not found
	ErrRecordNotFound = errors.New("record not found")

	// ErrFileKeyNotFound indicates no file entry exists for a key
	ErrFileKeyNotFound = errors.New("file key not found")

	// ErrDuplicateKey indicates a file entry already exists for a key
	ErrDuplicateKey = errors.New("file key already exists")

	// ErrInvalidFileKey indicates a key that cannot address a file entry
	ErrInvalidFileKey = errors.New("invalid file key")

	// ErrInvalidFileStatus indicates the file is not in a state that allows the operation
	ErrInvalidFileStatus = errors.New("invalid file status")

	// ErrContentNotWritten indicates a commit was attempted before any content was set
	ErrContentNotWritten = errors.New("file content not written")

	// ErrPermissionDenied indicates the identity may not perform the action
	ErrPermissionDenied = errors.New("permission denied")

	// ErrStorageBackendNotFound indicates a storage backend was not found
	ErrStorageBackendNotFound = errors.New("storage backend not found")

	// ErrObjectNotFound indicates a blob was not found in a storage backend
	ErrObjectNotFound = errors.New("object not found")

	// ErrUnitOfWorkClosed indicates the unit of work was already committed or rolled back
	ErrUnitOfWorkClosed = errors.New("unit of work already finalized")
)

// RecordError represents an error related to record operations
type RecordError struct {
	RecordID uuid.UUID
	Op       string
	Err      error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record operation %s failed for record %s: %v", e.Op, e.RecordID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// FileError represents an error related to file entry operations
type FileError struct {
	RecordID uuid.UUID
	Key      string
	Op       string
	Err      error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("file operation %s failed for %s/%s: %v", e.Op, e.RecordID, e.Key, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to storage operations
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

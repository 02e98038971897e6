package recordfiles

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// BlobStore defines the interface for storage backends
type BlobStore interface {
	// Upload uploads content directly
	Upload(ctx context.Context, objectKey string, reader io.Reader) error

	// UploadWithParams uploads content with additional parameters
	UploadWithParams(ctx context.Context, reader io.Reader, params UploadParams) error

	// Download downloads content directly
	Download(ctx context.Context, objectKey string) (io.ReadCloser, error)

	// Delete deletes content
	Delete(ctx context.Context, objectKey string) error

	// GetObjectMeta retrieves metadata for an object
	GetObjectMeta(ctx context.Context, objectKey string) (*ObjectMeta, error)
}

// Queries is the set of persistence operations shared by a Repository and
// the transactions it opens.
type Queries interface {
	// Record operations
	CreateRecord(ctx context.Context, record *Record) error
	GetRecord(ctx context.Context, id uuid.UUID) (*Record, error)
	UpdateRecord(ctx context.Context, record *Record) error
	DeleteRecord(ctx context.Context, id uuid.UUID) error

	// File entry operations. CreateFile fails with ErrDuplicateKey when the
	// key is taken; GetFile, UpdateFile and DeleteFile fail with
	// ErrFileKeyNotFound when it is absent.
	CreateFile(ctx context.Context, file *File) error
	GetFile(ctx context.Context, recordID uuid.UUID, key string) (*File, error)
	UpdateFile(ctx context.Context, file *File) error
	DeleteFile(ctx context.Context, recordID uuid.UUID, key string) error
	ListFiles(ctx context.Context, recordID uuid.UUID) ([]*File, error)
}

// Repository defines the interface for record and file metadata persistence
type Repository interface {
	Queries

	// Begin opens a transaction. Every operation of a unit of work runs
	// against the returned Tx.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a repository transaction.
type Tx interface {
	Queries
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// EventSink defines the interface for event handling. Events fire after
// the unit of work that produced them commits.
type EventSink interface {
	// FileCommitted is fired when a file entry is committed
	FileCommitted(ctx context.Context, file *File) error

	// FileDeleted is fired when a file entry is deleted
	FileDeleted(ctx context.Context, file *File) error
}

// FileStore is the file-store capability lifecycle hooks drive. Every
// operation runs inside the supplied unit of work on behalf of identity.
type FileStore interface {
	InitFiles(ctx context.Context, identity Identity, recordID uuid.UUID, files []InitFileRequest, uow *UnitOfWork) ([]*File, error)
	SetContent(ctx context.Context, identity Identity, recordID uuid.UUID, key string, reader io.Reader, uow *UnitOfWork) (*File, error)
	CommitFile(ctx context.Context, identity Identity, recordID uuid.UUID, key string, uow *UnitOfWork) (*File, error)
	DeleteFile(ctx context.Context, identity Identity, recordID uuid.UUID, key string, uow *UnitOfWork) (*File, error)
	GetFile(ctx context.Context, identity Identity, recordID uuid.UUID, key string, uow *UnitOfWork) (*File, error)
	OpenContent(ctx context.Context, identity Identity, recordID uuid.UUID, key string, uow *UnitOfWork) (io.ReadCloser, error)
}

// HookEvent carries the explicit dependencies of a lifecycle hook call.
type HookEvent struct {
	Store    FileStore
	UoW      *UnitOfWork
	Identity Identity
	RecordID uuid.UUID
	Key      string
}

// LifecycleHook reacts to primary file commits and deletions. Hooks run
// synchronously, in registration order, after the triggering operation
// succeeded and before its unit of work is finalized. A hook appends work
// to ev.UoW but never commits or rolls it back.
type LifecycleHook interface {
	// OnCommit is called after file has been committed.
	OnCommit(ctx context.Context, ev HookEvent, file *File) error

	// OnDelete is called after the entry described by deleted was removed.
	OnDelete(ctx context.Context, ev HookEvent, deleted *File) error
}

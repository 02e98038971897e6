package recordfiles

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// Service defines the main interface for the record-files library.
//
// Every operation takes the identity it runs on behalf of and an optional
// unit of work. With a nil unit of work the operation opens, and finalizes,
// its own.
type Service interface {
	FileStore

	// Record operations
	CreateRecord(ctx context.Context, identity Identity, req CreateRecordRequest, uow *UnitOfWork) (*Record, error)
	GetRecord(ctx context.Context, identity Identity, id uuid.UUID, uow *UnitOfWork) (*Record, error)
	UpdateRecord(ctx context.Context, identity Identity, id uuid.UUID, metadata map[string]interface{}, uow *UnitOfWork) (*Record, error)
	DeleteRecord(ctx context.Context, identity Identity, id uuid.UUID, uow *UnitOfWork) error

	// File entry operations beyond the FileStore capability
	ListFiles(ctx context.Context, identity Identity, recordID uuid.UUID, uow *UnitOfWork) ([]*File, error)
	UpdateFileMetadata(ctx context.Context, identity Identity, recordID uuid.UUID, key string, metadata map[string]interface{}, uow *UnitOfWork) (*File, error)

	// Unit of work
	Begin(ctx context.Context) (*UnitOfWork, error)
	WithUnitOfWork(ctx context.Context, fn func(uow *UnitOfWork) error) error

	// Links renders the API links of a file entry.
	Links(recordID uuid.UUID, file *File) map[string]string
}

// Content helpers used by callers holding a plain reader.

// ReadAll reads the full content of a file entry.
func ReadAll(ctx context.Context, store FileStore, identity Identity, recordID uuid.UUID, key string, uow *UnitOfWork) ([]byte, error) {
	rc, err := store.OpenContent(ctx, identity, recordID, key, uow)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

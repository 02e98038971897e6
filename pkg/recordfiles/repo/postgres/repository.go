package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/record-files/pkg/recordfiles"
)

// Schema creates the tables used by the repository.
const Schema = `
CREATE TABLE IF NOT EXISTS records (
	id         UUID PRIMARY KEY,
	metadata   JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS record_files (
	id                   UUID NOT NULL,
	record_id            UUID NOT NULL REFERENCES records(id) ON DELETE CASCADE,
	key                  TEXT NOT NULL,
	mime_type            TEXT NOT NULL DEFAULT '',
	object_key           TEXT NOT NULL DEFAULT '',
	storage_backend_name TEXT NOT NULL DEFAULT '',
	file_size            BIGINT NOT NULL DEFAULT 0,
	checksum             TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL,
	metadata             JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at           TIMESTAMPTZ NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (record_id, key)
);
`

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// TxBeginner is a DBTX able to open transactions, such as *pgxpool.Pool.
type TxBeginner interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository implements recordfiles.Repository using PostgreSQL
type Repository struct {
	queries
	db TxBeginner
}

// New creates a new PostgreSQL repository
func New(db TxBeginner) *Repository {
	return &Repository{queries: queries{db: db}, db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return New(pool)
}

var _ recordfiles.Repository = (*Repository)(nil)

// EnsureSchema creates the tables when they do not exist yet.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return handlePostgresError("ensure schema", err)
	}
	return nil
}

// Begin opens a database transaction.
func (r *Repository) Begin(ctx context.Context) (recordfiles.Tx, error) {
	pgtx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, handlePostgresError("begin", err)
	}
	return &tx{queries: queries{db: pgtx}, tx: pgtx}, nil
}

type tx struct {
	queries
	tx pgx.Tx
}

func (t *tx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// Error handling helper
func handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return recordfiles.ErrDuplicateKey
		case "23503": // foreign_key_violation
			return recordfiles.ErrRecordNotFound
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

// queries runs every statement against db, a pool or a transaction.
type queries struct {
	db DBTX
}

// Record operations

func (q queries) CreateRecord(ctx context.Context, record *recordfiles.Record) error {
	query := `
		INSERT INTO records (id, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4)`

	_, err := q.db.Exec(ctx, query, record.ID, jsonMap(record.Metadata), record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return handlePostgresError("create record", err)
	}
	return nil
}

func (q queries) GetRecord(ctx context.Context, id uuid.UUID) (*recordfiles.Record, error) {
	query := `SELECT id, metadata, created_at, updated_at FROM records WHERE id = $1`

	var record recordfiles.Record
	err := q.db.QueryRow(ctx, query, id).Scan(&record.ID, &record.Metadata, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, recordfiles.ErrRecordNotFound
		}
		return nil, handlePostgresError("get record", err)
	}
	return &record, nil
}

func (q queries) UpdateRecord(ctx context.Context, record *recordfiles.Record) error {
	query := `UPDATE records SET metadata = $2, updated_at = $3 WHERE id = $1`

	tag, err := q.db.Exec(ctx, query, record.ID, jsonMap(record.Metadata), record.UpdatedAt)
	if err != nil {
		return handlePostgresError("update record", err)
	}
	if tag.RowsAffected() == 0 {
		return recordfiles.ErrRecordNotFound
	}
	return nil
}

func (q queries) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM records WHERE id = $1`, id)
	if err != nil {
		return handlePostgresError("delete record", err)
	}
	if tag.RowsAffected() == 0 {
		return recordfiles.ErrRecordNotFound
	}
	return nil
}

// File entry operations

const fileColumns = `id, record_id, key, mime_type, object_key, storage_backend_name,
	file_size, checksum, status, metadata, created_at, updated_at`

func scanFile(row pgx.Row) (*recordfiles.File, error) {
	var file recordfiles.File
	var status string
	err := row.Scan(&file.ID, &file.RecordID, &file.Key, &file.MimeType, &file.ObjectKey,
		&file.StorageBackendName, &file.Size, &file.Checksum, &status, &file.Metadata,
		&file.CreatedAt, &file.UpdatedAt)
	if err != nil {
		return nil, err
	}
	file.Status = recordfiles.FileStatus(status)
	if file.Metadata == nil {
		file.Metadata = map[string]interface{}{}
	}
	return &file, nil
}

func (q queries) CreateFile(ctx context.Context, file *recordfiles.File) error {
	query := `INSERT INTO record_files (` + fileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := q.db.Exec(ctx, query,
		file.ID, file.RecordID, file.Key, file.MimeType, file.ObjectKey,
		file.StorageBackendName, file.Size, file.Checksum, string(file.Status),
		jsonMap(file.Metadata), file.CreatedAt, file.UpdatedAt)
	if err != nil {
		return handlePostgresError("create file", err)
	}
	return nil
}

func (q queries) GetFile(ctx context.Context, recordID uuid.UUID, key string) (*recordfiles.File, error) {
	query := `SELECT ` + fileColumns + ` FROM record_files WHERE record_id = $1 AND key = $2`

	file, err := scanFile(q.db.QueryRow(ctx, query, recordID, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, recordfiles.ErrFileKeyNotFound
		}
		return nil, handlePostgresError("get file", err)
	}
	return file, nil
}

func (q queries) UpdateFile(ctx context.Context, file *recordfiles.File) error {
	query := `
		UPDATE record_files SET
			mime_type = $3, object_key = $4, storage_backend_name = $5, file_size = $6,
			checksum = $7, status = $8, metadata = $9, updated_at = $10
		WHERE record_id = $1 AND key = $2`

	tag, err := q.db.Exec(ctx, query,
		file.RecordID, file.Key, file.MimeType, file.ObjectKey, file.StorageBackendName,
		file.Size, file.Checksum, string(file.Status), jsonMap(file.Metadata), file.UpdatedAt)
	if err != nil {
		return handlePostgresError("update file", err)
	}
	if tag.RowsAffected() == 0 {
		return recordfiles.ErrFileKeyNotFound
	}
	return nil
}

func (q queries) DeleteFile(ctx context.Context, recordID uuid.UUID, key string) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM record_files WHERE record_id = $1 AND key = $2`, recordID, key)
	if err != nil {
		return handlePostgresError("delete file", err)
	}
	if tag.RowsAffected() == 0 {
		return recordfiles.ErrFileKeyNotFound
	}
	return nil
}

func (q queries) ListFiles(ctx context.Context, recordID uuid.UUID) ([]*recordfiles.File, error) {
	query := `SELECT ` + fileColumns + ` FROM record_files WHERE record_id = $1 ORDER BY key`

	rows, err := q.db.Query(ctx, query, recordID)
	if err != nil {
		return nil, handlePostgresError("list files", err)
	}
	defer rows.Close()

	files := []*recordfiles.File{}
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, handlePostgresError("list files", err)
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, handlePostgresError("list files", err)
	}
	return files, nil
}

// jsonMap keeps NOT NULL jsonb columns from receiving SQL NULL.
func jsonMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

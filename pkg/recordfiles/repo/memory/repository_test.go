package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/record-files/pkg/recordfiles"
	"github.com/tendant/record-files/pkg/recordfiles/repo/memory"
)

func newRecord(t *testing.T, repo *memory.Repository) *recordfiles.Record {
	t.Helper()
	record := &recordfiles.Record{
		ID:        uuid.New(),
		Metadata:  map[string]interface{}{"title": "Test"},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, repo.CreateRecord(context.Background(), record))
	return record
}

func newFile(recordID uuid.UUID, key string) *recordfiles.File {
	return &recordfiles.File{
		ID:       uuid.New(),
		RecordID: recordID,
		Key:      key,
		Status:   recordfiles.FileStatusPending,
		Metadata: map[string]interface{}{},
	}
}

func TestMemoryRepository_RecordOperations(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	t.Run("GetRecord", func(t *testing.T) {
		record := newRecord(t, repo)
		got, err := repo.GetRecord(ctx, record.ID)
		require.NoError(t, err)
		assert.Equal(t, "Test", got.Metadata["title"])
	})

	t.Run("GetRecord_NotFound", func(t *testing.T) {
		got, err := repo.GetRecord(ctx, uuid.New())
		assert.ErrorIs(t, err, recordfiles.ErrRecordNotFound)
		assert.Nil(t, got)
	})

	t.Run("ReturnedCopiesAreIsolated", func(t *testing.T) {
		record := newRecord(t, repo)
		got, err := repo.GetRecord(ctx, record.ID)
		require.NoError(t, err)
		got.Metadata["title"] = "Changed"

		again, err := repo.GetRecord(ctx, record.ID)
		require.NoError(t, err)
		assert.Equal(t, "Test", again.Metadata["title"])
	})

	t.Run("DeleteRecordRemovesFiles", func(t *testing.T) {
		record := newRecord(t, repo)
		require.NoError(t, repo.CreateFile(ctx, newFile(record.ID, "a.txt")))
		require.NoError(t, repo.DeleteRecord(ctx, record.ID))

		_, err := repo.GetFile(ctx, record.ID, "a.txt")
		assert.ErrorIs(t, err, recordfiles.ErrFileKeyNotFound)
		assert.ErrorIs(t, repo.DeleteRecord(ctx, record.ID), recordfiles.ErrRecordNotFound)
	})
}

func TestMemoryRepository_FileOperations(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	record := newRecord(t, repo)

	require.NoError(t, repo.CreateFile(ctx, newFile(record.ID, "b.pdf")))
	require.NoError(t, repo.CreateFile(ctx, newFile(record.ID, "a.png")))

	t.Run("DuplicateKey", func(t *testing.T) {
		err := repo.CreateFile(ctx, newFile(record.ID, "b.pdf"))
		assert.ErrorIs(t, err, recordfiles.ErrDuplicateKey)
	})

	t.Run("UnknownRecord", func(t *testing.T) {
		err := repo.CreateFile(ctx, newFile(uuid.New(), "x"))
		assert.ErrorIs(t, err, recordfiles.ErrRecordNotFound)
	})

	t.Run("ListSortedByKey", func(t *testing.T) {
		files, err := repo.ListFiles(ctx, record.ID)
		require.NoError(t, err)
		require.Len(t, files, 2)
		assert.Equal(t, "a.png", files[0].Key)
		assert.Equal(t, "b.pdf", files[1].Key)
	})

	t.Run("UpdateFile", func(t *testing.T) {
		file, err := repo.GetFile(ctx, record.ID, "b.pdf")
		require.NoError(t, err)
		file.Status = recordfiles.FileStatusCompleted
		require.NoError(t, repo.UpdateFile(ctx, file))

		got, err := repo.GetFile(ctx, record.ID, "b.pdf")
		require.NoError(t, err)
		assert.Equal(t, recordfiles.FileStatusCompleted, got.Status)
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		err := repo.DeleteFile(ctx, record.ID, "missing")
		assert.ErrorIs(t, err, recordfiles.ErrFileKeyNotFound)
	})
}

func TestMemoryRepository_Transactions(t *testing.T) {
	ctx := context.Background()

	t.Run("CommitPublishesWrites", func(t *testing.T) {
		repo := memory.New()
		record := newRecord(t, repo)

		tx, err := repo.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.CreateFile(ctx, newFile(record.ID, "doc.pdf")))

		_, err = repo.GetFile(ctx, record.ID, "doc.pdf")
		assert.ErrorIs(t, err, recordfiles.ErrFileKeyNotFound, "uncommitted writes are not visible")

		got, err := tx.GetFile(ctx, record.ID, "doc.pdf")
		require.NoError(t, err)
		assert.Equal(t, "doc.pdf", got.Key)

		require.NoError(t, tx.Commit(ctx))
		_, err = repo.GetFile(ctx, record.ID, "doc.pdf")
		assert.NoError(t, err)
	})

	t.Run("RollbackDiscardsWrites", func(t *testing.T) {
		repo := memory.New()
		record := newRecord(t, repo)

		tx, err := repo.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.CreateFile(ctx, newFile(record.ID, "doc.pdf")))
		require.NoError(t, tx.DeleteRecord(ctx, record.ID))
		require.NoError(t, tx.Rollback(ctx))

		_, err = repo.GetRecord(ctx, record.ID)
		assert.NoError(t, err)
		files, err := repo.ListFiles(ctx, record.ID)
		require.NoError(t, err)
		assert.Empty(t, files)
	})

	t.Run("ClosedTransaction", func(t *testing.T) {
		repo := memory.New()
		tx, err := repo.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Commit(ctx))

		assert.Error(t, tx.Commit(ctx))
		assert.NoError(t, tx.Rollback(ctx))
		_, err = tx.GetRecord(ctx, uuid.New())
		assert.Error(t, err)
	})

	t.Run("BeginWaitsForOpenTransaction", func(t *testing.T) {
		repo := memory.New()
		tx, err := repo.Begin(ctx)
		require.NoError(t, err)

		waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err = repo.Begin(waitCtx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		require.NoError(t, tx.Rollback(ctx))
		next, err := repo.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, next.Rollback(ctx))
	})
}

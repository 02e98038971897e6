package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/tendant/record-files/pkg/recordfiles"
)

var errTxClosed = errors.New("memory: transaction already closed")

// state holds records and their file entries keyed by record id and key.
type state struct {
	records map[uuid.UUID]*recordfiles.Record
	files   map[uuid.UUID]map[string]*recordfiles.File
}

func newState() *state {
	return &state{
		records: make(map[uuid.UUID]*recordfiles.Record),
		files:   make(map[uuid.UUID]map[string]*recordfiles.File),
	}
}

func (s *state) clone() *state {
	c := newState()
	for id, r := range s.records {
		c.records[id] = r.Clone()
	}
	for id, files := range s.files {
		m := make(map[string]*recordfiles.File, len(files))
		for key, f := range files {
			m[key] = f.Clone()
		}
		c.files[id] = m
	}
	return c
}

// Repository implements recordfiles.Repository using in-memory storage.
//
// Writers are serialized: a transaction holds the write slot from Begin
// until Commit or Rollback and works on a private copy of the state that
// replaces the shared one on commit. Reads outside a transaction see the
// last committed state. A goroutine holding an open transaction must not
// write through the Repository directly.
type Repository struct {
	writer chan struct{}

	mu sync.RWMutex
	st *state
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		writer: make(chan struct{}, 1),
		st:     newState(),
	}
}

var _ recordfiles.Repository = (*Repository)(nil)

func (r *Repository) acquire(ctx context.Context) error {
	select {
	case r.writer <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Repository) release() {
	<-r.writer
}

// write runs fn against the shared state with the write slot held.
func (r *Repository) write(ctx context.Context, fn func(s *state) error) error {
	if err := r.acquire(ctx); err != nil {
		return err
	}
	defer r.release()
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r.st)
}

func (r *Repository) read(fn func(s *state) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fn(r.st)
}

// Begin opens a transaction. It blocks while another transaction is open.
func (r *Repository) Begin(ctx context.Context) (recordfiles.Tx, error) {
	if err := r.acquire(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	st := r.st.clone()
	r.mu.RUnlock()
	return &tx{repo: r, st: st}, nil
}

// Record operations

func (r *Repository) CreateRecord(ctx context.Context, record *recordfiles.Record) error {
	return r.write(ctx, func(s *state) error { return s.createRecord(record) })
}

func (r *Repository) GetRecord(ctx context.Context, id uuid.UUID) (*recordfiles.Record, error) {
	var out *recordfiles.Record
	err := r.read(func(s *state) error {
		var err error
		out, err = s.getRecord(id)
		return err
	})
	return out, err
}

func (r *Repository) UpdateRecord(ctx context.Context, record *recordfiles.Record) error {
	return r.write(ctx, func(s *state) error { return s.updateRecord(record) })
}

func (r *Repository) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	return r.write(ctx, func(s *state) error { return s.deleteRecord(id) })
}

// File entry operations

func (r *Repository) CreateFile(ctx context.Context, file *recordfiles.File) error {
	return r.write(ctx, func(s *state) error { return s.createFile(file) })
}

func (r *Repository) GetFile(ctx context.Context, recordID uuid.UUID, key string) (*recordfiles.File, error) {
	var out *recordfiles.File
	err := r.read(func(s *state) error {
		var err error
		out, err = s.getFile(recordID, key)
		return err
	})
	return out, err
}

func (r *Repository) UpdateFile(ctx context.Context, file *recordfiles.File) error {
	return r.write(ctx, func(s *state) error { return s.updateFile(file) })
}

func (r *Repository) DeleteFile(ctx context.Context, recordID uuid.UUID, key string) error {
	return r.write(ctx, func(s *state) error { return s.deleteFile(recordID, key) })
}

func (r *Repository) ListFiles(ctx context.Context, recordID uuid.UUID) ([]*recordfiles.File, error) {
	var out []*recordfiles.File
	err := r.read(func(s *state) error {
		out = s.listFiles(recordID)
		return nil
	})
	return out, err
}

// tx is a transaction over a private copy of the repository state.
type tx struct {
	repo *Repository

	mu     sync.Mutex
	st     *state
	closed bool
}

func (t *tx) do(fn func(s *state) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errTxClosed
	}
	return fn(t.st)
}

func (t *tx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errTxClosed
	}
	t.closed = true
	t.repo.mu.Lock()
	t.repo.st = t.st
	t.repo.mu.Unlock()
	t.repo.release()
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.st = nil
	t.repo.release()
	return nil
}

func (t *tx) CreateRecord(ctx context.Context, record *recordfiles.Record) error {
	return t.do(func(s *state) error { return s.createRecord(record) })
}

func (t *tx) GetRecord(ctx context.Context, id uuid.UUID) (*recordfiles.Record, error) {
	var out *recordfiles.Record
	err := t.do(func(s *state) error {
		var err error
		out, err = s.getRecord(id)
		return err
	})
	return out, err
}

func (t *tx) UpdateRecord(ctx context.Context, record *recordfiles.Record) error {
	return t.do(func(s *state) error { return s.updateRecord(record) })
}

func (t *tx) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	return t.do(func(s *state) error { return s.deleteRecord(id) })
}

func (t *tx) CreateFile(ctx context.Context, file *recordfiles.File) error {
	return t.do(func(s *state) error { return s.createFile(file) })
}

func (t *tx) GetFile(ctx context.Context, recordID uuid.UUID, key string) (*recordfiles.File, error) {
	var out *recordfiles.File
	err := t.do(func(s *state) error {
		var err error
		out, err = s.getFile(recordID, key)
		return err
	})
	return out, err
}

func (t *tx) UpdateFile(ctx context.Context, file *recordfiles.File) error {
	return t.do(func(s *state) error { return s.updateFile(file) })
}

func (t *tx) DeleteFile(ctx context.Context, recordID uuid.UUID, key string) error {
	return t.do(func(s *state) error { return s.deleteFile(recordID, key) })
}

func (t *tx) ListFiles(ctx context.Context, recordID uuid.UUID) ([]*recordfiles.File, error) {
	var out []*recordfiles.File
	err := t.do(func(s *state) error {
		out = s.listFiles(recordID)
		return nil
	})
	return out, err
}

// State operations. Values are copied in and out so callers never share
// memory with the store.

func (s *state) createRecord(record *recordfiles.Record) error {
	if _, exists := s.records[record.ID]; exists {
		return errors.New("record already exists")
	}
	s.records[record.ID] = record.Clone()
	s.files[record.ID] = make(map[string]*recordfiles.File)
	return nil
}

func (s *state) getRecord(id uuid.UUID) (*recordfiles.Record, error) {
	record, exists := s.records[id]
	if !exists {
		return nil, recordfiles.ErrRecordNotFound
	}
	return record.Clone(), nil
}

func (s *state) updateRecord(record *recordfiles.Record) error {
	if _, exists := s.records[record.ID]; !exists {
		return recordfiles.ErrRecordNotFound
	}
	s.records[record.ID] = record.Clone()
	return nil
}

func (s *state) deleteRecord(id uuid.UUID) error {
	if _, exists := s.records[id]; !exists {
		return recordfiles.ErrRecordNotFound
	}
	delete(s.records, id)
	delete(s.files, id)
	return nil
}

func (s *state) createFile(file *recordfiles.File) error {
	files, exists := s.files[file.RecordID]
	if !exists {
		return recordfiles.ErrRecordNotFound
	}
	if _, taken := files[file.Key]; taken {
		return recordfiles.ErrDuplicateKey
	}
	files[file.Key] = file.Clone()
	return nil
}

func (s *state) getFile(recordID uuid.UUID, key string) (*recordfiles.File, error) {
	file, exists := s.files[recordID][key]
	if !exists {
		return nil, recordfiles.ErrFileKeyNotFound
	}
	return file.Clone(), nil
}

func (s *state) updateFile(file *recordfiles.File) error {
	files := s.files[file.RecordID]
	if _, exists := files[file.Key]; !exists {
		return recordfiles.ErrFileKeyNotFound
	}
	files[file.Key] = file.Clone()
	return nil
}

func (s *state) deleteFile(recordID uuid.UUID, key string) error {
	files := s.files[recordID]
	if _, exists := files[key]; !exists {
		return recordfiles.ErrFileKeyNotFound
	}
	delete(files, key)
	return nil
}

func (s *state) listFiles(recordID uuid.UUID) []*recordfiles.File {
	files := s.files[recordID]
	out := make([]*recordfiles.File, 0, len(files))
	for _, f := range files {
		out = append(out, f.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

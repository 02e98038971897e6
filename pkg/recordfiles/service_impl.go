package recordfiles

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/record-files/pkg/recordfiles/artifactkey"
)

// service implements the Service interface
type service struct {
	repository     Repository
	blobStores     map[string]BlobStore
	defaultBackend string
	hooks          []LifecycleHook
	eventSink      EventSink
	policy         PermissionPolicy
	linkPolicy     LinkPolicy
	links          LinkTemplates
	logger         *slog.Logger
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the repository for the service
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithBlobStore adds a blob storage backend
func WithBlobStore(name string, store BlobStore) Option {
	return func(s *service) {
		if s.blobStores == nil {
			s.blobStores = make(map[string]BlobStore)
		}
		s.blobStores[name] = store
	}
}

// WithDefaultBackend names the backend new content is written to. It may
// be omitted when a single blob store is registered.
func WithDefaultBackend(name string) Option {
	return func(s *service) {
		s.defaultBackend = name
	}
}

// WithHooks appends lifecycle hooks. Hooks run in registration order.
func WithHooks(hooks ...LifecycleHook) Option {
	return func(s *service) {
		s.hooks = append(s.hooks, hooks...)
	}
}

// WithEventSink sets the event sink for the service
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.eventSink = sink
	}
}

// WithPermissionPolicy sets the policy guarding every operation
func WithPermissionPolicy(policy PermissionPolicy) Option {
	return func(s *service) {
		s.policy = policy
	}
}

// WithLinkPolicy overrides the policy deciding which links are visible
func WithLinkPolicy(policy LinkPolicy) Option {
	return func(s *service) {
		s.linkPolicy = policy
	}
}

// WithLinkTemplates sets the templates used to render file links
func WithLinkTemplates(links LinkTemplates) Option {
	return func(s *service) {
		s.links = links
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		blobStores: make(map[string]BlobStore),
		eventSink:  NewNoopEventSink(),
		policy:     DefaultPermissionPolicy{},
		linkPolicy: DefaultLinkPolicy(),
		links:      DefaultLinkTemplates("/api", ""),
		logger:     slog.Default(),
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.defaultBackend == "" && len(s.blobStores) == 1 {
		for name := range s.blobStores {
			s.defaultBackend = name
		}
	}
	if s.defaultBackend != "" {
		if _, ok := s.blobStores[s.defaultBackend]; !ok {
			return nil, fmt.Errorf("default backend %q: %w", s.defaultBackend, ErrStorageBackendNotFound)
		}
	}

	return s, nil
}

// Unit of work

func (s *service) Begin(ctx context.Context) (*UnitOfWork, error) {
	tx, err := s.repository.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin unit of work: %w", err)
	}
	return NewUnitOfWork(tx, s.logger), nil
}

func (s *service) WithUnitOfWork(ctx context.Context, fn func(uow *UnitOfWork) error) error {
	uow, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback(ctx)

	if err := fn(uow); err != nil {
		return err
	}
	return uow.Commit(ctx)
}

// run executes fn inside uow, or inside a fresh unit of work when uow is nil.
func (s *service) run(ctx context.Context, uow *UnitOfWork, fn func(uow *UnitOfWork) error) error {
	if uow == nil {
		return s.WithUnitOfWork(ctx, fn)
	}
	if uow.Done() {
		return ErrUnitOfWorkClosed
	}
	return fn(uow)
}

func (s *service) require(identity Identity, action Action) error {
	if s.policy.Can(identity, action) {
		return nil
	}
	return fmt.Errorf("%w: %s may not %s", ErrPermissionDenied, identity.ID, action)
}

func (s *service) backend(name string) (BlobStore, error) {
	store, ok := s.blobStores[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrStorageBackendNotFound, name)
	}
	return store, nil
}

// Record operations

func (s *service) CreateRecord(ctx context.Context, identity Identity, req CreateRecordRequest, uow *UnitOfWork) (*Record, error) {
	if err := s.require(identity, ActionCreate); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := &Record{
		ID:        uuid.New(),
		Metadata:  cloneMetadata(req.Metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.run(ctx, uow, func(uow *UnitOfWork) error {
		if err := uow.Tx().CreateRecord(ctx, record); err != nil {
			return &RecordError{RecordID: record.ID, Op: "create", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *service) GetRecord(ctx context.Context, identity Identity, id uuid.UUID, uow *UnitOfWork) (*Record, error) {
	if err := s.require(identity, ActionRead); err != nil {
		return nil, err
	}
	var record *Record
	err := s.run(ctx, uow, func(uow *UnitOfWork) error {
		var err error
		record, err = s.getRecord(ctx, uow, id)
		return err
	})
	return record, err
}

func (s *service) getRecord(ctx context.Context, uow *UnitOfWork, id uuid.UUID) (*Record, error) {
	record, err := uow.Tx().GetRecord(ctx, id)
	if err != nil {
		return nil, &RecordError{RecordID: id, Op: "get", Err: err}
	}
	return record, nil
}

func (s *service) UpdateRecord(ctx context.Context, identity Identity, id uuid.UUID, metadata map[string]interface{}, uow *UnitOfWork) (*Record, error) {
	if err := s.require(identity, ActionUpdate); err != nil {
		return nil, err
	}
	var record *Record
	err := s.run(ctx, uow, func(uow *UnitOfWork) error {
		var err error
		if record, err = s.getRecord(ctx, uow, id); err != nil {
			return err
		}
		record.Metadata = cloneMetadata(metadata)
		record.UpdatedAt = time.Now().UTC()
		if err := uow.Tx().UpdateRecord(ctx, record); err != nil {
			return &RecordError{RecordID: id, Op: "update", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// DeleteRecord removes the record with every file entry it owns. Lifecycle
// hooks do not run: the derived artifacts go away with the record.
func (s *service) DeleteRecord(ctx context.Context, identity Identity, id uuid.UUID, uow *UnitOfWork) error {
	if err := s.require(identity, ActionDelete); err != nil {
		return err
	}
	return s.run(ctx, uow, func(uow *UnitOfWork) error {
		if _, err := s.getRecord(ctx, uow, id); err != nil {
			return err
		}
		files, err := uow.Tx().ListFiles(ctx, id)
		if err != nil {
			return &RecordError{RecordID: id, Op: "delete", Err: err}
		}
		for _, file := range files {
			if err := uow.Tx().DeleteFile(ctx, id, file.Key); err != nil {
				return &FileError{RecordID: id, Key: file.Key, Op: "delete", Err: err}
			}
			s.afterDelete(uow, file)
		}
		if err := uow.Tx().DeleteRecord(ctx, id); err != nil {
			return &RecordError{RecordID: id, Op: "delete", Err: err}
		}
		return nil
	})
}

// File operations

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") ||
		strings.ContainsRune(key, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidFileKey, key)
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidFileKey, key)
		}
	}
	return nil
}

func (s *service) InitFiles(ctx context.Context, identity Identity, recordID uuid.UUID, files []InitFileRequest, uow *UnitOfWork) ([]*File, error) {
	if err := s.require(identity, ActionCreateFiles); err != nil {
		return nil, err
	}
	for _, req := range files {
		if err := validateKey(req.Key); err != nil {
			return nil, &FileError{RecordID: recordID, Key: req.Key, Op: "init", Err: err}
		}
	}

	var created []*File
	err := s.run(ctx, uow, func(uow *UnitOfWork) error {
		if _, err := s.getRecord(ctx, uow, recordID); err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, req := range files {
			file := &File{
				ID:        uuid.New(),
				RecordID:  recordID,
				Key:       req.Key,
				MimeType:  mimeTypeFromKey(req.Key),
				Status:    FileStatusPending,
				Metadata:  cloneMetadata(req.Metadata),
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := uow.Tx().CreateFile(ctx, file); err != nil {
				return &FileError{RecordID: recordID, Key: req.Key, Op: "init", Err: err}
			}
			created = append(created, file)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) getFile(ctx context.Context, uow *UnitOfWork, recordID uuid.UUID, key, op string) (*File, error) {
	file, err := uow.Tx().GetFile(ctx, recordID, key)
	if err != nil {
		return nil, &FileError{RecordID: recordID, Key: key, Op: op, Err: err}
	}
	return file, nil
}

// SetContent writes the content of a pending entry. The blob is uploaded
// right away and removed again if the unit of work rolls back.
func (s *service) SetContent(ctx context.Context, identity Identity, recordID uuid.UUID, key string, reader io.Reader, uow *UnitOfWork) (*File, error) {
	if err := s.require(identity, ActionSetContentFiles); err != nil {
		return nil, err
	}
	store, err := s.backend(s.defaultBackend)
	if err != nil {
		return nil, &FileError{RecordID: recordID, Key: key, Op: "set_content", Err: err}
	}

	var file *File
	err = s.run(ctx, uow, func(uow *UnitOfWork) error {
		if file, err = s.getFile(ctx, uow, recordID, key, "set_content"); err != nil {
			return err
		}
		if file.Status != FileStatusPending {
			return &FileError{RecordID: recordID, Key: key, Op: "set_content", Err: ErrInvalidFileStatus}
		}

		head := make([]byte, 512)
		n, err := io.ReadFull(reader, head)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return &FileError{RecordID: recordID, Key: key, Op: "set_content", Err: err}
		}
		head = head[:n]
		mimeType := file.MimeType
		if mimeType == "" {
			mimeType = normalizeMimeType(http.DetectContentType(head))
		}

		hash := md5.New()
		counter := &countingReader{r: io.MultiReader(bytes.NewReader(head), reader)}
		objectKey := fmt.Sprintf("R/%s/%s", recordID, uuid.New())
		params := UploadParams{ObjectKey: objectKey, MimeType: mimeType}
		if err := store.UploadWithParams(ctx, io.TeeReader(counter, hash), params); err != nil {
			return &FileError{RecordID: recordID, Key: key, Op: "set_content", Err: err}
		}
		uow.AfterRollback(s.deleteBlobFunc(s.defaultBackend, objectKey))
		if file.HasContent() {
			uow.AfterCommit(s.deleteBlobFunc(file.StorageBackendName, file.ObjectKey))
		}

		file.ObjectKey = objectKey
		file.StorageBackendName = s.defaultBackend
		file.MimeType = mimeType
		file.Size = counter.n
		file.Checksum = "md5:" + hex.EncodeToString(hash.Sum(nil))
		file.UpdatedAt = time.Now().UTC()
		if err := uow.Tx().UpdateFile(ctx, file); err != nil {
			return &FileError{RecordID: recordID, Key: key, Op: "set_content", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return file, nil
}

// CommitFile completes a pending entry whose content was written and then
// runs the commit hooks inside the same unit of work.
func (s *service) CommitFile(ctx context.Context, identity Identity, recordID uuid.UUID, key string, uow *UnitOfWork) (*File, error) {
	if err := s.require(identity, ActionCommitFiles); err != nil {
		return nil, err
	}

	var file *File
	err := s.run(ctx, uow, func(uow *UnitOfWork) error {
		var err error
		if file, err = s.getFile(ctx, uow, recordID, key, "commit"); err != nil {
			return err
		}
		if file.Status != FileStatusPending {
			return &FileError{RecordID: recordID, Key: key, Op: "commit", Err: ErrInvalidFileStatus}
		}
		if !file.HasContent() {
			return &FileError{RecordID: recordID, Key: key, Op: "commit", Err: ErrContentNotWritten}
		}
		store, err := s.backend(file.StorageBackendName)
		if err != nil {
			return &FileError{RecordID: recordID, Key: key, Op: "commit", Err: err}
		}
		if _, err := store.GetObjectMeta(ctx, file.ObjectKey); err != nil {
			return &FileError{RecordID: recordID, Key: key, Op: "commit", Err: err}
		}

		file.Status = FileStatusCompleted
		file.UpdatedAt = time.Now().UTC()
		if err := uow.Tx().UpdateFile(ctx, file); err != nil {
			return &FileError{RecordID: recordID, Key: key, Op: "commit", Err: err}
		}

		committed := file.Clone()
		uow.AfterCommit(func(ctx context.Context) {
			if err := s.eventSink.FileCommitted(ctx, committed); err != nil {
				s.logger.WarnContext(ctx, "Failed to publish file committed event",
					"record_id", recordID, "key", key, "error", err)
			}
		})

		ev := HookEvent{Store: s, UoW: uow, Identity: identity, RecordID: recordID, Key: key}
		for _, hook := range s.hooks {
			if err := hook.OnCommit(ctx, ev, file.Clone()); err != nil {
				if err := s.hookError(ctx, ev, "commit", err); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return file, nil
}

// DeleteFile removes an entry and runs the delete hooks with a snapshot of
// the removed entry. The blob is deleted once the unit of work commits.
func (s *service) DeleteFile(ctx context.Context, identity Identity, recordID uuid.UUID, key string, uow *UnitOfWork) (*File, error) {
	if err := s.require(identity, ActionDeleteFiles); err != nil {
		return nil, err
	}

	var deleted *File
	err := s.run(ctx, uow, func(uow *UnitOfWork) error {
		var err error
		if deleted, err = s.getFile(ctx, uow, recordID, key, "delete"); err != nil {
			return err
		}
		if err := uow.Tx().DeleteFile(ctx, recordID, key); err != nil {
			return &FileError{RecordID: recordID, Key: key, Op: "delete", Err: err}
		}
		s.afterDelete(uow, deleted)

		ev := HookEvent{Store: s, UoW: uow, Identity: identity, RecordID: recordID, Key: key}
		for _, hook := range s.hooks {
			if err := hook.OnDelete(ctx, ev, deleted.Clone()); err != nil {
				if err := s.hookError(ctx, ev, "delete", err); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// hookError decides whether a hook failure aborts the operation. A primary
// key the hook cannot name artifacts for is only logged.
func (s *service) hookError(ctx context.Context, ev HookEvent, op string, err error) error {
	if errors.Is(err, artifactkey.ErrInvalidKey) {
		s.logger.WarnContext(ctx, "Lifecycle hook rejected file key",
			"record_id", ev.RecordID, "key", ev.Key, "op", op, "error", err)
		return nil
	}
	return &FileError{RecordID: ev.RecordID, Key: ev.Key, Op: op + "_hook", Err: err}
}

func (s *service) afterDelete(uow *UnitOfWork, file *File) {
	snapshot := file.Clone()
	if snapshot.HasContent() {
		uow.AfterCommit(s.deleteBlobFunc(snapshot.StorageBackendName, snapshot.ObjectKey))
	}
	// Entries that never committed were never announced.
	if snapshot.Status != FileStatusCompleted {
		return
	}
	uow.AfterCommit(func(ctx context.Context) {
		if err := s.eventSink.FileDeleted(ctx, snapshot); err != nil {
			s.logger.WarnContext(ctx, "Failed to publish file deleted event",
				"record_id", snapshot.RecordID, "key", snapshot.Key, "error", err)
		}
	})
}

func (s *service) deleteBlobFunc(backend, objectKey string) func(ctx context.Context) {
	return func(ctx context.Context) {
		store, err := s.backend(backend)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to delete blob", "backend", backend, "object_key", objectKey, "error", err)
			return
		}
		if err := store.Delete(ctx, objectKey); err != nil && !errors.Is(err, ErrObjectNotFound) {
			s.logger.ErrorContext(ctx, "Failed to delete blob", "backend", backend, "object_key", objectKey, "error", err)
		}
	}
}

func (s *service) GetFile(ctx context.Context, identity Identity, recordID uuid.UUID, key string, uow *UnitOfWork) (*File, error) {
	if err := s.require(identity, ActionReadFiles); err != nil {
		return nil, err
	}
	var file *File
	err := s.run(ctx, uow, func(uow *UnitOfWork) error {
		var err error
		file, err = s.getFile(ctx, uow, recordID, key, "get")
		return err
	})
	return file, err
}

func (s *service) OpenContent(ctx context.Context, identity Identity, recordID uuid.UUID, key string, uow *UnitOfWork) (io.ReadCloser, error) {
	if err := s.require(identity, ActionGetContentFiles); err != nil {
		return nil, err
	}
	var rc io.ReadCloser
	err := s.run(ctx, uow, func(uow *UnitOfWork) error {
		file, err := s.getFile(ctx, uow, recordID, key, "get_content")
		if err != nil {
			return err
		}
		if !file.HasContent() {
			return &FileError{RecordID: recordID, Key: key, Op: "get_content", Err: ErrContentNotWritten}
		}
		store, err := s.backend(file.StorageBackendName)
		if err != nil {
			return &FileError{RecordID: recordID, Key: key, Op: "get_content", Err: err}
		}
		if rc, err = store.Download(ctx, file.ObjectKey); err != nil {
			return &FileError{RecordID: recordID, Key: key, Op: "get_content", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rc, nil
}

func (s *service) ListFiles(ctx context.Context, identity Identity, recordID uuid.UUID, uow *UnitOfWork) ([]*File, error) {
	if err := s.require(identity, ActionReadFiles); err != nil {
		return nil, err
	}
	var files []*File
	err := s.run(ctx, uow, func(uow *UnitOfWork) error {
		if _, err := s.getRecord(ctx, uow, recordID); err != nil {
			return err
		}
		var err error
		if files, err = uow.Tx().ListFiles(ctx, recordID); err != nil {
			return &RecordError{RecordID: recordID, Op: "list_files", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Key < files[j].Key })
	return files, nil
}

func (s *service) UpdateFileMetadata(ctx context.Context, identity Identity, recordID uuid.UUID, key string, metadata map[string]interface{}, uow *UnitOfWork) (*File, error) {
	if err := s.require(identity, ActionUpdateFiles); err != nil {
		return nil, err
	}
	var file *File
	err := s.run(ctx, uow, func(uow *UnitOfWork) error {
		var err error
		if file, err = s.getFile(ctx, uow, recordID, key, "update"); err != nil {
			return err
		}
		file.Metadata = cloneMetadata(metadata)
		file.UpdatedAt = time.Now().UTC()
		if err := uow.Tx().UpdateFile(ctx, file); err != nil {
			return &FileError{RecordID: recordID, Key: key, Op: "update", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return file, nil
}

func (s *service) Links(recordID uuid.UUID, file *File) map[string]string {
	return s.links.Render(s.linkPolicy, recordID, file)
}

// mimeTypeFromKey guesses the mimetype from the key extension.
func mimeTypeFromKey(key string) string {
	return normalizeMimeType(mime.TypeByExtension(strings.ToLower(path.Ext(key))))
}

func normalizeMimeType(value string) string {
	if value == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return ""
	}
	return mediaType
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/tendant/record-files/pkg/recordfiles"
)

// RecordsHandler serves the records and record files endpoints. Every
// request runs in its own unit of work.
type RecordsHandler struct {
	service    recordfiles.Service
	apiBaseURL string
	logger     *slog.Logger
}

// NewRecordsHandler creates a handler. apiBaseURL prefixes record links.
func NewRecordsHandler(service recordfiles.Service, apiBaseURL string, logger *slog.Logger) *RecordsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordsHandler{service: service, apiBaseURL: strings.TrimSuffix(apiBaseURL, "/"), logger: logger}
}

// Routes returns the router for records endpoints. File keys containing a
// slash must be sent percent-encoded.
func (h *RecordsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.CreateRecord)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.GetRecord)
		r.Put("/", h.UpdateRecord)
		r.Delete("/", h.DeleteRecord)

		r.Post("/files", h.InitFiles)
		r.Get("/files", h.ListFiles)
		r.Get("/files/{key}", h.GetFile)
		r.Put("/files/{key}", h.UpdateFile)
		r.Delete("/files/{key}", h.DeleteFile)
		r.Put("/files/{key}/content", h.SetContent)
		r.Get("/files/{key}/content", h.GetContent)
		r.Post("/files/{key}/commit", h.CommitFile)
	})
	return r
}

// MetadataRequest is the body of record creation and metadata updates
type MetadataRequest struct {
	Metadata map[string]interface{} `json:"metadata"`
}

// InitFileEntry names one file entry to create
type InitFileEntry struct {
	Key      string                 `json:"key"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// RecordResponse represents a record
type RecordResponse struct {
	ID       string                 `json:"id"`
	Metadata map[string]interface{} `json:"metadata"`
	Created  time.Time              `json:"created"`
	Updated  time.Time              `json:"updated"`
	Links    map[string]string      `json:"links"`
}

// FileResponse represents a file entry with its links
type FileResponse struct {
	Key      string                 `json:"key"`
	FileID   string                 `json:"file_id"`
	Status   string                 `json:"status"`
	MimeType string                 `json:"mimetype,omitempty"`
	Size     int64                  `json:"size"`
	Checksum string                 `json:"checksum,omitempty"`
	Storage  string                 `json:"storage_backend,omitempty"`
	Metadata map[string]interface{} `json:"metadata"`
	Created  time.Time              `json:"created"`
	Updated  time.Time              `json:"updated"`
	Links    map[string]string      `json:"links"`
}

// FilesResponse wraps a list of file entries
type FilesResponse struct {
	Entries []FileResponse `json:"entries"`
}

func (h *RecordsHandler) recordResponse(record *recordfiles.Record) RecordResponse {
	return RecordResponse{
		ID:       record.ID.String(),
		Metadata: record.Metadata,
		Created:  record.CreatedAt,
		Updated:  record.UpdatedAt,
		Links: map[string]string{
			"self":  h.apiBaseURL + "/records/" + record.ID.String(),
			"files": h.apiBaseURL + "/records/" + record.ID.String() + "/files",
		},
	}
}

func (h *RecordsHandler) fileResponse(recordID uuid.UUID, file *recordfiles.File) FileResponse {
	return FileResponse{
		Key:      file.Key,
		FileID:   file.ID.String(),
		Status:   string(file.Status),
		MimeType: file.MimeType,
		Size:     file.Size,
		Checksum: file.Checksum,
		Storage:  file.StorageBackendName,
		Metadata: file.Metadata,
		Created:  file.CreatedAt,
		Updated:  file.UpdatedAt,
		Links:    h.service.Links(recordID, file),
	}
}

func (h *RecordsHandler) filesResponse(recordID uuid.UUID, files []*recordfiles.File) FilesResponse {
	resp := FilesResponse{Entries: make([]FileResponse, 0, len(files))}
	for _, f := range files {
		resp.Entries = append(resp.Entries, h.fileResponse(recordID, f))
	}
	return resp
}

var errInvalidRecordID = errors.New("invalid record id")

func recordID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, errInvalidRecordID
	}
	return id, nil
}

// fileKey returns the unescaped {key} parameter.
func fileKey(r *http.Request) (string, error) {
	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil {
		return "", recordfiles.ErrInvalidFileKey
	}
	return key, nil
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return &badRequestError{err: err}
	}
	return nil
}

// CreateRecord creates an empty record
func (h *RecordsHandler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	var req MetadataRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	identity := recordfiles.IdentityFromContext(ctx)

	var record *recordfiles.Record
	err := h.service.WithUnitOfWork(ctx, func(uow *recordfiles.UnitOfWork) error {
		var err error
		record, err = h.service.CreateRecord(ctx, identity, recordfiles.CreateRecordRequest{Metadata: req.Metadata}, uow)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "Record created", "record_id", record.ID)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, h.recordResponse(record))
}

func (h *RecordsHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx := r.Context()

	var record *recordfiles.Record
	err = h.service.WithUnitOfWork(ctx, func(uow *recordfiles.UnitOfWork) error {
		record, err = h.service.GetRecord(ctx, recordfiles.IdentityFromContext(ctx), id, uow)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, h.recordResponse(record))
}

func (h *RecordsHandler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req MetadataRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx := r.Context()

	var record *recordfiles.Record
	err = h.service.WithUnitOfWork(ctx, func(uow *recordfiles.UnitOfWork) error {
		record, err = h.service.UpdateRecord(ctx, recordfiles.IdentityFromContext(ctx), id, req.Metadata, uow)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, h.recordResponse(record))
}

func (h *RecordsHandler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx := r.Context()

	err = h.service.WithUnitOfWork(ctx, func(uow *recordfiles.UnitOfWork) error {
		return h.service.DeleteRecord(ctx, recordfiles.IdentityFromContext(ctx), id, uow)
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.InfoContext(ctx, "Record deleted", "record_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// InitFiles creates pending file entries from a JSON array of keys
func (h *RecordsHandler) InitFiles(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var entries []InitFileEntry
	if err := decode(r, &entries); err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(entries) == 0 {
		h.writeError(w, r, &badRequestError{err: errors.New("at least one file entry is required")})
		return
	}
	reqs := make([]recordfiles.InitFileRequest, 0, len(entries))
	for _, e := range entries {
		reqs = append(reqs, recordfiles.InitFileRequest{Key: e.Key, Metadata: e.Metadata})
	}
	ctx := r.Context()

	var files []*recordfiles.File
	err = h.service.WithUnitOfWork(ctx, func(uow *recordfiles.UnitOfWork) error {
		files, err = h.service.InitFiles(ctx, recordfiles.IdentityFromContext(ctx), id, reqs, uow)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, h.filesResponse(id, files))
}

func (h *RecordsHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx := r.Context()

	var files []*recordfiles.File
	err = h.service.WithUnitOfWork(ctx, func(uow *recordfiles.UnitOfWork) error {
		files, err = h.service.ListFiles(ctx, recordfiles.IdentityFromContext(ctx), id, uow)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, h.filesResponse(id, files))
}

// fileOp runs a single-file operation and renders the resulting entry.
func (h *RecordsHandler) fileOp(w http.ResponseWriter, r *http.Request, status int,
	op func(uow *recordfiles.UnitOfWork, identity recordfiles.Identity, id uuid.UUID, key string) (*recordfiles.File, error)) {
	id, err := recordID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	key, err := fileKey(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	identity := recordfiles.IdentityFromContext(ctx)

	var file *recordfiles.File
	err = h.service.WithUnitOfWork(ctx, func(uow *recordfiles.UnitOfWork) error {
		file, err = op(uow, identity, id, key)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	render.Status(r, status)
	render.JSON(w, r, h.fileResponse(id, file))
}

func (h *RecordsHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	h.fileOp(w, r, http.StatusOK, func(uow *recordfiles.UnitOfWork, identity recordfiles.Identity, id uuid.UUID, key string) (*recordfiles.File, error) {
		return h.service.GetFile(r.Context(), identity, id, key, uow)
	})
}

// UpdateFile replaces the metadata of a file entry
func (h *RecordsHandler) UpdateFile(w http.ResponseWriter, r *http.Request) {
	var req MetadataRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.fileOp(w, r, http.StatusOK, func(uow *recordfiles.UnitOfWork, identity recordfiles.Identity, id uuid.UUID, key string) (*recordfiles.File, error) {
		return h.service.UpdateFileMetadata(r.Context(), identity, id, key, req.Metadata, uow)
	})
}

// DeleteFile removes a file entry. Derived artifacts of a primary file are
// removed in the same unit of work.
func (h *RecordsHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	h.fileOp(w, r, http.StatusNoContent, func(uow *recordfiles.UnitOfWork, identity recordfiles.Identity, id uuid.UUID, key string) (*recordfiles.File, error) {
		return h.service.DeleteFile(r.Context(), identity, id, key, uow)
	})
}

// SetContent streams the request body into a pending file entry
func (h *RecordsHandler) SetContent(w http.ResponseWriter, r *http.Request) {
	h.fileOp(w, r, http.StatusOK, func(uow *recordfiles.UnitOfWork, identity recordfiles.Identity, id uuid.UUID, key string) (*recordfiles.File, error) {
		return h.service.SetContent(r.Context(), identity, id, key, r.Body, uow)
	})
}

// CommitFile completes a file entry and triggers artifact generation
func (h *RecordsHandler) CommitFile(w http.ResponseWriter, r *http.Request) {
	h.fileOp(w, r, http.StatusOK, func(uow *recordfiles.UnitOfWork, identity recordfiles.Identity, id uuid.UUID, key string) (*recordfiles.File, error) {
		return h.service.CommitFile(r.Context(), identity, id, key, uow)
	})
}

// GetContent streams the content of a file entry
func (h *RecordsHandler) GetContent(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	key, err := fileKey(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	identity := recordfiles.IdentityFromContext(ctx)

	var (
		file *recordfiles.File
		rc   io.ReadCloser
	)
	err = h.service.WithUnitOfWork(ctx, func(uow *recordfiles.UnitOfWork) error {
		if file, err = h.service.GetFile(ctx, identity, id, key, uow); err != nil {
			return err
		}
		rc, err = h.service.OpenContent(ctx, identity, id, key, uow)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer rc.Close()

	contentType := file.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(file.Size, 10))
	if file.Checksum != "" {
		w.Header().Set("ETag", strconv.Quote(file.Checksum))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.ErrorContext(ctx, "Failed to stream file content", "record_id", id, "key", key, "error", err)
	}
}

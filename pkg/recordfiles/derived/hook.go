// Package derived generates thumbnail and fulltext artifacts when a primary
// file is committed and removes them again when the primary is deleted.
//
// The hook runs inside the unit of work of the triggering operation and
// drives the file store like any other caller: an artifact is created with
// InitFiles, written with SetContent and completed with CommitFile. Each
// artifact is its own failure domain; apart from malformed primary keys no
// failure reaches the caller.
package derived

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/tendant/record-files/pkg/recordfiles"
	"github.com/tendant/record-files/pkg/recordfiles/artifactkey"
)

// DefaultMaxSourceBytes bounds how much of a primary file is read into
// memory for rendering.
const DefaultMaxSourceBytes = 64 << 20

// ThumbnailRenderer renders a JPEG thumbnail. A nil result without error
// means the mimetype is not supported.
type ThumbnailRenderer interface {
	Render(ctx context.Context, data []byte, mimeType string) ([]byte, error)
}

// FulltextExtractor extracts plain text. An empty result without error
// means there is nothing to store.
type FulltextExtractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (string, error)
}

// supporter is implemented by producers that can tell upfront whether a
// mimetype is worth reading the source for.
type supporter interface {
	Supports(mimeType string) bool
}

// Hook implements recordfiles.LifecycleHook.
type Hook struct {
	logger         *slog.Logger
	thumbnails     ThumbnailRenderer
	fulltext       FulltextExtractor
	maxSourceBytes int64
}

var _ recordfiles.LifecycleHook = (*Hook)(nil)

// Option configures a Hook
type Option func(*Hook)

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hook) { h.logger = logger }
}

// WithThumbnailRenderer enables thumbnail artifacts
func WithThumbnailRenderer(r ThumbnailRenderer) Option {
	return func(h *Hook) { h.thumbnails = r }
}

// WithFulltextExtractor enables fulltext artifacts
func WithFulltextExtractor(e FulltextExtractor) Option {
	return func(h *Hook) { h.fulltext = e }
}

// WithMaxSourceBytes bounds the primary size read for rendering
func WithMaxSourceBytes(n int64) Option {
	return func(h *Hook) { h.maxSourceBytes = n }
}

// New creates a hook. Artifact kinds without a producer are never created.
func New(opts ...Option) *Hook {
	h := &Hook{
		logger:         slog.Default(),
		maxSourceBytes: DefaultMaxSourceBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// OnCommit generates the artifacts of a committed primary file. Only
// invalid key errors are returned.
func (h *Hook) OnCommit(ctx context.Context, ev recordfiles.HookEvent, file *recordfiles.File) error {
	var errs []error
	for _, o := range h.Generate(ctx, ev, file) {
		if o.Failure == FailureInvalidKey {
			errs = append(errs, o.Err)
		}
	}
	return errors.Join(errs...)
}

// Generate runs both artifact branches for file and reports their
// outcomes, thumbnail first. Derived files yield no outcomes.
func (h *Hook) Generate(ctx context.Context, ev recordfiles.HookEvent, file *recordfiles.File) []Outcome {
	if file.IsDerived() {
		return nil
	}
	mimeType := file.MimeType

	wantThumb := h.thumbnails != nil && supports(h.thumbnails, mimeType)
	wantText := h.fulltext != nil && supports(h.fulltext, mimeType)
	if !wantThumb && !wantText {
		return []Outcome{
			h.logOutcome(ctx, ev, Outcome{Kind: recordfiles.KindThumbnail, Failure: FailureSkipped}),
			h.logOutcome(ctx, ev, Outcome{Kind: recordfiles.KindFulltext, Failure: FailureSkipped}),
		}
	}

	data, err := h.readSource(ctx, ev, file)
	if err != nil {
		return []Outcome{
			h.logOutcome(ctx, ev, Outcome{Kind: recordfiles.KindThumbnail, Failure: FailureSourceRead, Err: err}),
			h.logOutcome(ctx, ev, Outcome{Kind: recordfiles.KindFulltext, Failure: FailureSourceRead, Err: err}),
		}
	}

	// Rendering touches no shared state and runs concurrently. Store calls
	// stay serialized on the unit of work below.
	var (
		thumb            []byte
		text             string
		thumbErr, extErr error
		g                errgroup.Group
	)
	if wantThumb {
		g.Go(func() error {
			thumb, thumbErr = h.thumbnails.Render(ctx, data, mimeType)
			return nil
		})
	}
	if wantText {
		g.Go(func() error {
			text, extErr = h.fulltext.Extract(ctx, data, mimeType)
			return nil
		})
	}
	// Branch errors stay in thumbErr and extErr; the group only joins.
	g.Wait()

	outcomes := make([]Outcome, 0, 2)

	o := Outcome{Kind: recordfiles.KindThumbnail}
	switch {
	case thumbErr != nil:
		o.Failure, o.Err = FailureRender, thumbErr
	case len(thumb) == 0:
		o.Failure = FailureSkipped
	default:
		o = h.tryGenerateArtifact(ctx, ev, file, recordfiles.KindThumbnail, artifactkey.ThumbnailExt, thumb)
	}
	outcomes = append(outcomes, h.logOutcome(ctx, ev, o))

	o = Outcome{Kind: recordfiles.KindFulltext}
	switch {
	case extErr != nil:
		o.Failure, o.Err = FailureExtract, extErr
	case text == "":
		o.Failure = FailureSkipped
	default:
		o = h.tryGenerateArtifact(ctx, ev, file, recordfiles.KindFulltext, artifactkey.FulltextExt, []byte(text))
	}
	outcomes = append(outcomes, h.logOutcome(ctx, ev, o))

	return outcomes
}

func supports(producer interface{}, mimeType string) bool {
	if s, ok := producer.(supporter); ok {
		return s.Supports(mimeType)
	}
	return mimeType != ""
}

func (h *Hook) readSource(ctx context.Context, ev recordfiles.HookEvent, file *recordfiles.File) ([]byte, error) {
	rc, err := ev.Store.OpenContent(ctx, ev.Identity, ev.RecordID, file.Key, ev.UoW)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, h.maxSourceBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > h.maxSourceBytes {
		return nil, fmt.Errorf("source larger than %d bytes", h.maxSourceBytes)
	}
	return data, nil
}

// tryGenerateArtifact creates, writes and commits one derived entry. An
// entry left behind by a failed write or commit is removed again.
func (h *Hook) tryGenerateArtifact(ctx context.Context, ev recordfiles.HookEvent, primary *recordfiles.File, kind recordfiles.Kind, ext string, data []byte) Outcome {
	o := Outcome{Kind: kind}

	key, err := artifactkey.DeriveKey(primary.Key, ext)
	if err != nil {
		o.Failure, o.Err = FailureInvalidKey, err
		return o
	}
	o.Key = key

	req := recordfiles.InitFileRequest{
		Key: key,
		Metadata: map[string]interface{}{
			recordfiles.MetadataKind:      string(kind),
			recordfiles.MetadataSourceKey: primary.Key,
		},
	}
	// A failed insert aborts a Postgres transaction, so an occupied key is
	// detected before writing anything.
	existing, err := ev.Store.GetFile(ctx, ev.Identity, ev.RecordID, key, ev.UoW)
	switch {
	case err == nil:
		o.Failure = FailureDuplicate
		o.Err = &recordfiles.FileError{RecordID: ev.RecordID, Key: existing.Key, Op: "init", Err: recordfiles.ErrDuplicateKey}
		return o
	case !errors.Is(err, recordfiles.ErrFileKeyNotFound):
		o.Failure, o.Err = FailureInit, err
		return o
	}

	if _, err := ev.Store.InitFiles(ctx, ev.Identity, ev.RecordID, []recordfiles.InitFileRequest{req}, ev.UoW); err != nil {
		o.Failure, o.Err = FailureInit, err
		if errors.Is(err, recordfiles.ErrDuplicateKey) {
			o.Failure = FailureDuplicate
		}
		return o
	}

	if _, err := ev.Store.SetContent(ctx, ev.Identity, ev.RecordID, key, bytes.NewReader(data), ev.UoW); err != nil {
		o.Failure, o.Err = FailureWrite, err
		h.discard(ctx, ev, key)
		return o
	}
	if _, err := ev.Store.CommitFile(ctx, ev.Identity, ev.RecordID, key, ev.UoW); err != nil {
		o.Failure, o.Err = FailureCommit, err
		h.discard(ctx, ev, key)
		return o
	}
	return o
}

func (h *Hook) discard(ctx context.Context, ev recordfiles.HookEvent, key string) {
	if _, err := ev.Store.DeleteFile(ctx, ev.Identity, ev.RecordID, key, ev.UoW); err != nil &&
		!errors.Is(err, recordfiles.ErrFileKeyNotFound) {
		h.logger.ErrorContext(ctx, "Failed to discard incomplete artifact",
			"record_id", ev.RecordID, "artifact_key", key, "error", err)
	}
}

func (h *Hook) logOutcome(ctx context.Context, ev recordfiles.HookEvent, o Outcome) Outcome {
	attrs := []any{"record_id", ev.RecordID, "key", ev.Key, "kind", o.Kind}
	if o.Key != "" {
		attrs = append(attrs, "artifact_key", o.Key)
	}
	switch o.Failure {
	case FailureNone:
		h.logger.InfoContext(ctx, "Derived artifact created", attrs...)
	case FailureSkipped:
		h.logger.DebugContext(ctx, "No derived artifact for file", attrs...)
	default:
		attrs = append(attrs, "failure", o.Failure, "error", o.Err)
		h.logger.WarnContext(ctx, "Derived artifact not created", attrs...)
	}
	return o
}

// OnDelete removes the artifacts derived from a deleted primary file.
// Missing artifacts are expected; an entry occupying an artifact key that
// was not derived from this primary is left alone.
func (h *Hook) OnDelete(ctx context.Context, ev recordfiles.HookEvent, deleted *recordfiles.File) error {
	if deleted.IsDerived() {
		return nil
	}
	thumbKey, err := artifactkey.Thumbnail(deleted.Key)
	if err != nil {
		return err
	}
	textKey, err := artifactkey.Fulltext(deleted.Key)
	if err != nil {
		return err
	}

	h.deleteArtifact(ctx, ev, deleted.Key, recordfiles.KindThumbnail, thumbKey)
	h.deleteArtifact(ctx, ev, deleted.Key, recordfiles.KindFulltext, textKey)
	return nil
}

func (h *Hook) deleteArtifact(ctx context.Context, ev recordfiles.HookEvent, sourceKey string, kind recordfiles.Kind, key string) {
	file, err := ev.Store.GetFile(ctx, ev.Identity, ev.RecordID, key, ev.UoW)
	if errors.Is(err, recordfiles.ErrFileKeyNotFound) {
		return
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to look up derived artifact",
			"record_id", ev.RecordID, "key", sourceKey, "artifact_key", key, "error", err)
		return
	}
	if file.Kind() != kind || file.SourceKey() != sourceKey {
		h.logger.WarnContext(ctx, "Keeping file at artifact key, not derived from deleted file",
			"record_id", ev.RecordID, "key", sourceKey, "artifact_key", key, "file_kind", file.Kind())
		return
	}

	if _, err := ev.Store.DeleteFile(ctx, ev.Identity, ev.RecordID, key, ev.UoW); err != nil &&
		!errors.Is(err, recordfiles.ErrFileKeyNotFound) {
		h.logger.ErrorContext(ctx, "Failed to delete derived artifact",
			"record_id", ev.RecordID, "key", sourceKey, "artifact_key", key, "error", err)
		return
	}
	h.logger.InfoContext(ctx, "Derived artifact deleted",
		"record_id", ev.RecordID, "key", sourceKey, "artifact_key", key, "kind", kind)
}

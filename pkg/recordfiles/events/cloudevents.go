// Package events publishes file lifecycle events as CloudEvents over HTTP.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/tendant/record-files/pkg/recordfiles"
)

// Event types emitted by the sink.
const (
	TypeFileCommitted = "io.recordfiles.file.committed"
	TypeFileDeleted   = "io.recordfiles.file.deleted"
)

// DefaultSource is the CloudEvents source attribute used unless overridden.
const DefaultSource = "/recordfiles"

// FileData is the JSON payload of every file event.
type FileData struct {
	RecordID  uuid.UUID              `json:"record_id"`
	Key       string                 `json:"key"`
	MimeType  string                 `json:"mimetype,omitempty"`
	Size      int64                  `json:"size"`
	Checksum  string                 `json:"checksum,omitempty"`
	Status    recordfiles.FileStatus `json:"status"`
	Kind      recordfiles.Kind       `json:"kind,omitempty"`
	SourceKey string                 `json:"source_key,omitempty"`
}

// Sink is a recordfiles.EventSink sending CloudEvents to an HTTP target.
type Sink struct {
	client cloudevents.Client
	target string
	source string
	logger *slog.Logger
}

var _ recordfiles.EventSink = (*Sink)(nil)

// Option configures a Sink
type Option func(*Sink)

// WithSource overrides the event source attribute
func WithSource(source string) Option {
	return func(s *Sink) { s.source = source }
}

// WithClient replaces the HTTP client created by New
func WithClient(client cloudevents.Client) Option {
	return func(s *Sink) { s.client = client }
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) { s.logger = logger }
}

// New creates a sink delivering to target.
func New(target string, opts ...Option) (*Sink, error) {
	if target == "" {
		return nil, errors.New("event target is required")
	}
	s := &Sink{target: target, source: DefaultSource, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		client, err := cloudevents.NewClientHTTP()
		if err != nil {
			return nil, fmt.Errorf("create cloudevents client: %w", err)
		}
		s.client = client
	}
	return s, nil
}

// FileCommitted implements recordfiles.EventSink.
func (s *Sink) FileCommitted(ctx context.Context, file *recordfiles.File) error {
	return s.send(ctx, TypeFileCommitted, file)
}

// FileDeleted implements recordfiles.EventSink.
func (s *Sink) FileDeleted(ctx context.Context, file *recordfiles.File) error {
	return s.send(ctx, TypeFileDeleted, file)
}

func (s *Sink) send(ctx context.Context, eventType string, file *recordfiles.File) error {
	e := cloudevents.NewEvent()
	e.SetID(uuid.NewString())
	e.SetType(eventType)
	e.SetSource(s.source)
	e.SetSubject(file.RecordID.String() + "/" + file.Key)
	e.SetTime(time.Now().UTC())
	if err := e.SetData(cloudevents.ApplicationJSON, dataOf(file)); err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}

	res := s.client.Send(cloudevents.ContextWithTarget(ctx, s.target), e)
	if cloudevents.IsUndelivered(res) {
		return fmt.Errorf("deliver %s event: %w", eventType, res)
	}
	if !cloudevents.IsACK(res) {
		return fmt.Errorf("%s event rejected: %w", eventType, res)
	}
	s.logger.DebugContext(ctx, "Event sent", "type", eventType, "id", e.ID(), "subject", e.Subject())
	return nil
}

func dataOf(file *recordfiles.File) FileData {
	return FileData{
		RecordID:  file.RecordID,
		Key:       file.Key,
		MimeType:  file.MimeType,
		Size:      file.Size,
		Checksum:  file.Checksum,
		Status:    file.Status,
		Kind:      file.Kind(),
		SourceKey: file.SourceKey(),
	}
}

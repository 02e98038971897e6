// Package gcs stores blobs in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/tendant/record-files/pkg/recordfiles"
)

// Config options for the GCS backend
type Config struct {
	Bucket string // Bucket name
	Prefix string // Optional prefix prepended to every object key

	// Endpoint targets an emulator such as fake-gcs-server. Authentication
	// is disabled when it is set.
	Endpoint string

	// CredentialsFile is an optional service account key file. Application
	// default credentials are used otherwise.
	CredentialsFile string
}

// Backend is a GCS implementation of the recordfiles.BlobStore interface
type Backend struct {
	client *storage.Client
	bucket *storage.BucketHandle
	config Config
}

// New creates a GCS backend. The client is closed by Close.
func New(ctx context.Context, config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	var opts []option.ClientOption
	if config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(config.Endpoint), option.WithoutAuthentication())
	}
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &Backend{client: client, bucket: client.Bucket(config.Bucket), config: config}, nil
}

var _ recordfiles.BlobStore = (*Backend)(nil)

// Close closes the GCS client.
func (b *Backend) Close() error {
	return b.client.Close()
}

func (b *Backend) object(objectKey string) *storage.ObjectHandle {
	name := objectKey
	if b.config.Prefix != "" {
		name = strings.TrimSuffix(b.config.Prefix, "/") + "/" + objectKey
	}
	return b.bucket.Object(name)
}

func isNotFound(err error) bool {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return true
	}
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

func wrap(op, key string, err error) error {
	if isNotFound(err) {
		err = recordfiles.ErrObjectNotFound
	}
	return &recordfiles.StorageError{Backend: "gcs", Key: key, Op: op, Err: err}
}

// GetObjectMeta retrieves the attributes of an object
func (b *Backend) GetObjectMeta(ctx context.Context, objectKey string) (*recordfiles.ObjectMeta, error) {
	attrs, err := b.object(objectKey).Attrs(ctx)
	if err != nil {
		return nil, wrap("get_meta", objectKey, err)
	}

	metadata := make(map[string]string, len(attrs.Metadata)+1)
	for k, v := range attrs.Metadata {
		metadata[k] = v
	}
	metadata["content_type"] = attrs.ContentType

	return &recordfiles.ObjectMeta{
		Key:         objectKey,
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		UpdatedAt:   attrs.Updated,
		ETag:        attrs.Etag,
		Metadata:    metadata,
	}, nil
}

// Upload uploads content directly
func (b *Backend) Upload(ctx context.Context, objectKey string, reader io.Reader) error {
	return b.UploadWithParams(ctx, reader, recordfiles.UploadParams{ObjectKey: objectKey})
}

// UploadWithParams streams content into the object. The object only
// becomes visible once the writer is closed successfully.
func (b *Backend) UploadWithParams(ctx context.Context, reader io.Reader, params recordfiles.UploadParams) error {
	w := b.object(params.ObjectKey).NewWriter(ctx)
	if params.MimeType != "" {
		w.ContentType = params.MimeType
	}
	if _, err := io.Copy(w, reader); err != nil {
		_ = w.Close()
		return wrap("upload", params.ObjectKey, fmt.Errorf("gcs write failed: %w", err))
	}
	if err := w.Close(); err != nil {
		return wrap("upload", params.ObjectKey, fmt.Errorf("gcs close failed: %w", err))
	}
	return nil
}

// Download opens a reader on the object
func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	r, err := b.object(objectKey).NewReader(ctx)
	if err != nil {
		return nil, wrap("download", objectKey, err)
	}
	return r, nil
}

// Delete removes the object
func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	if err := b.object(objectKey).Delete(ctx); err != nil {
		return wrap("delete", objectKey, err)
	}
	return nil
}

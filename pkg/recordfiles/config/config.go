package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/record-files/pkg/recordfiles"
	"github.com/tendant/record-files/pkg/recordfiles/derived"
	"github.com/tendant/record-files/pkg/recordfiles/events"
	"github.com/tendant/record-files/pkg/recordfiles/render"
	"github.com/tendant/record-files/pkg/recordfiles/render/mupdf"
	"github.com/tendant/record-files/pkg/recordfiles/repo/memory"
	repopg "github.com/tendant/record-files/pkg/recordfiles/repo/postgres"
	fsstorage "github.com/tendant/record-files/pkg/recordfiles/storage/fs"
	gcsstorage "github.com/tendant/record-files/pkg/recordfiles/storage/gcs"
	memorystorage "github.com/tendant/record-files/pkg/recordfiles/storage/memory"
	s3storage "github.com/tendant/record-files/pkg/recordfiles/storage/s3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:                  "8080",
		Environment:           "development",
		DatabaseType:          "memory",
		DBSchema:              "records",
		DefaultStorageBackend: "memory",
		StorageBackends: []StorageBackendConfig{
			{
				Name:   "memory",
				Type:   "memory",
				Config: map[string]interface{}{},
			},
		},
		APIBaseURL:         "/api",
		EnableEventLogging: true,
		DerivedArtifacts:   true,
		ThumbnailWidth:     render.DefaultThumbnailWidth,
		MaxSourceBytes:     derived.DefaultMaxSourceBytes,
		PDFMaxPages:        0,
	}
}

// ServerConfig represents configuration for the record-files service
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Database configuration
	DatabaseURL  string
	DatabaseType string // "memory", "postgres"
	DBSchema     string // Postgres schema to use (default: records)

	// Storage configuration
	DefaultStorageBackend string
	StorageBackends       []StorageBackendConfig

	// Link rendering
	APIBaseURL string
	UIBaseURL  string

	// Events. EventTargetURL enables the CloudEvents sink.
	EnableEventLogging bool
	EventTargetURL     string

	// Derived artifacts
	DerivedArtifacts bool
	ThumbnailWidth   int
	MaxSourceBytes   int64
	PDFMaxPages      int // 0 disables the page limit
}

// StorageBackendConfig represents configuration for a storage backend
type StorageBackendConfig struct {
	Name   string
	Type   string // "memory", "fs", "s3", "gcs"
	Config map[string]interface{}
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}

	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	found := false
	for _, backend := range c.StorageBackends {
		if backend.Name == c.DefaultStorageBackend {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("default storage backend '%s' not found in configured backends", c.DefaultStorageBackend)
	}

	if c.ThumbnailWidth <= 0 {
		return fmt.Errorf("thumbnail width must be positive, got: %d", c.ThumbnailWidth)
	}
	if c.MaxSourceBytes <= 0 {
		return fmt.Errorf("max source bytes must be positive, got: %d", c.MaxSourceBytes)
	}
	if c.PDFMaxPages < 0 {
		return fmt.Errorf("pdf max pages cannot be negative, got: %d", c.PDFMaxPages)
	}

	return nil
}

// BuildService creates a Service instance from the server configuration
func (c *ServerConfig) BuildService(ctx context.Context, logger *slog.Logger) (recordfiles.Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	options := []recordfiles.Option{
		recordfiles.WithLogger(logger),
		recordfiles.WithDefaultBackend(c.DefaultStorageBackend),
		recordfiles.WithLinkTemplates(recordfiles.DefaultLinkTemplates(c.APIBaseURL, c.UIBaseURL)),
	}

	repo, err := c.buildRepository(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}
	options = append(options, recordfiles.WithRepository(repo))

	for _, backendConfig := range c.StorageBackends {
		store, err := c.buildStorageBackend(ctx, backendConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build storage backend %s: %w", backendConfig.Name, err)
		}
		options = append(options, recordfiles.WithBlobStore(backendConfig.Name, store))
	}

	switch {
	case c.EventTargetURL != "":
		sink, err := events.New(c.EventTargetURL, events.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to build event sink: %w", err)
		}
		options = append(options, recordfiles.WithEventSink(sink))
	case c.EnableEventLogging:
		options = append(options, recordfiles.WithEventSink(recordfiles.NewLoggingEventSink(logger)))
	}

	if c.DerivedArtifacts {
		options = append(options, recordfiles.WithHooks(c.BuildDerivedHook(logger)))
	}

	return recordfiles.New(options...)
}

// BuildDerivedHook creates the thumbnail and fulltext hook backed by MuPDF.
func (c *ServerConfig) BuildDerivedHook(logger *slog.Logger) *derived.Hook {
	preflight := render.PDFPreflight(c.PDFMaxPages)
	opener := mupdf.Opener{}

	return derived.New(
		derived.WithLogger(logger),
		derived.WithMaxSourceBytes(c.MaxSourceBytes),
		derived.WithThumbnailRenderer(render.NewThumbnailRenderer(
			render.WithWidth(c.ThumbnailWidth),
			render.WithPDFOpener(opener),
			render.WithPreflight(preflight),
		)),
		derived.WithFulltextExtractor(render.NewFulltextExtractor(opener, preflight)),
	)
}

// buildRepository creates a Repository based on the configuration
func (c *ServerConfig) buildRepository(ctx context.Context) (recordfiles.Repository, error) {
	switch c.DatabaseType {
	case "memory":
		return memory.New(), nil
	case "postgres":
		pool, err := newPool(ctx, c.DatabaseURL, c.DBSchema)
		if err != nil {
			return nil, err
		}
		return repopg.NewWithPool(pool), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

func newPool(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, errors.New("database_url is required for postgres")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	return pool, nil
}

// PingPostgres verifies connectivity to Postgres and optionally sets search_path for the session.
// It fails if the schema (when provided) does not exist.
func PingPostgres(databaseURL, schema string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := newPool(ctx, databaseURL, schema)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// MigratePostgres creates the records tables in the configured schema.
func MigratePostgres(ctx context.Context, databaseURL, schema string) error {
	if schema != "" {
		pool, err := newPool(ctx, databaseURL, "")
		if err != nil {
			return err
		}
		_, err = pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize())
		pool.Close()
		if err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	pool, err := newPool(ctx, databaseURL, schema)
	if err != nil {
		return err
	}
	defer pool.Close()
	return repopg.NewWithPool(pool).EnsureSchema(ctx)
}

// buildStorageBackend creates a BlobStore based on the backend configuration
func (c *ServerConfig) buildStorageBackend(ctx context.Context, config StorageBackendConfig) (recordfiles.BlobStore, error) {
	switch config.Type {
	case "memory":
		return memorystorage.New(), nil

	case "fs":
		return fsstorage.New(fsstorage.Config{
			BaseDir: getString(config.Config, "base_dir", "./data/storage"),
		})

	case "s3":
		return s3storage.New(s3storage.Config{
			Region:                 getString(config.Config, "region", "us-east-1"),
			Bucket:                 getString(config.Config, "bucket", ""),
			Prefix:                 getString(config.Config, "prefix", ""),
			AccessKeyID:            getString(config.Config, "access_key_id", ""),
			SecretAccessKey:        getString(config.Config, "secret_access_key", ""),
			Endpoint:               getString(config.Config, "endpoint", ""),
			UsePathStyle:           getBool(config.Config, "use_path_style", false),
			EnableSSE:              getBool(config.Config, "enable_sse", false),
			SSEAlgorithm:           getString(config.Config, "sse_algorithm", "AES256"),
			SSEKMSKeyID:            getString(config.Config, "sse_kms_key_id", ""),
			CreateBucketIfNotExist: getBool(config.Config, "create_bucket_if_not_exist", false),
		})

	case "gcs":
		return gcsstorage.New(ctx, gcsstorage.Config{
			Bucket:          getString(config.Config, "bucket", ""),
			Prefix:          getString(config.Config, "prefix", ""),
			Endpoint:        getString(config.Config, "endpoint", ""),
			CredentialsFile: getString(config.Config, "credentials_file", ""),
		})

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", config.Type)
	}
}

func getString(config map[string]interface{}, key string, defaultValue string) string {
	if value, exists := config[key]; exists {
		if str, ok := value.(string); ok {
			return str
		}
	}
	return defaultValue
}

func getBool(config map[string]interface{}, key string, defaultValue bool) bool {
	if value, exists := config[key]; exists {
		if b, ok := value.(bool); ok {
			return b
		}
		if str, ok := value.(string); ok {
			if b, err := strconv.ParseBool(str); err == nil {
				return b
			}
		}
	}
	return defaultValue
}

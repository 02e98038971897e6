package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// WithEnv applies environment variable overrides using the provided prefix.
//
// Server (cmd/server only):
//
//	PORT - Server port (default: "8080")
//	ENVIRONMENT - Runtime environment (default: "development")
//
// Database:
//
//	DATABASE_URL - "memory" (default) or "postgres://..." / "postgresql://..."
//	DB_SCHEMA - Postgres schema (default: "records")
//
// Storage:
//
//	STORAGE_URL - one of:
//	  - "memory://" - In-memory storage (default)
//	  - "file:///path/to/data" - Filesystem storage
//	  - "s3://bucket/prefix?region=us-east-1&endpoint=http://localhost:9000"
//	  - "gs://bucket/prefix?endpoint=http://localhost:4443"
//
// Links and events:
//
//	API_BASE_URL, UI_BASE_URL - Prefixes of rendered file links
//	EVENT_TARGET_URL - CloudEvents HTTP target; logging sink when empty
//
// Derived artifacts:
//
//	DERIVED_ARTIFACTS - Enable thumbnail and fulltext generation (default: true)
//	THUMBNAIL_WIDTH - Image thumbnail width in pixels (default: 200)
//	MAX_SOURCE_BYTES - Largest primary file rendered (default: 64 MiB)
//	PDF_MAX_PAGES - Reject PDFs with more pages (default: no limit)
func WithEnv(prefix string) Option {
	return func(c *ServerConfig) error {
		if v, ok := lookupEnv(prefix, "PORT"); ok && v != "" {
			c.Port = v
		}
		if v, ok := lookupEnv(prefix, "ENVIRONMENT"); ok && v != "" {
			c.Environment = v
		}

		if err := applyDatabaseEnv(prefix, c); err != nil {
			return err
		}
		if err := applyStorageEnv(prefix, c); err != nil {
			return err
		}

		if v, ok := lookupEnv(prefix, "API_BASE_URL"); ok && v != "" {
			c.APIBaseURL = v
		}
		if v, ok := lookupEnv(prefix, "UI_BASE_URL"); ok {
			c.UIBaseURL = v
		}
		if v, ok := lookupEnv(prefix, "EVENT_TARGET_URL"); ok {
			c.EventTargetURL = v
		}

		return applyDerivedEnv(prefix, c)
	}
}

func applyDatabaseEnv(prefix string, c *ServerConfig) error {
	if v, ok := lookupEnv(prefix, "DB_SCHEMA"); ok && v != "" {
		c.DBSchema = v
	}

	dbURL, hasURL := lookupEnv(prefix, "DATABASE_URL")
	if !hasURL || dbURL == "" || dbURL == "memory" {
		c.DatabaseType = "memory"
		c.DatabaseURL = ""
		return nil
	}

	if strings.HasPrefix(dbURL, "postgresql://") || strings.HasPrefix(dbURL, "postgres://") {
		c.DatabaseType = "postgres"
		c.DatabaseURL = dbURL
		return nil
	}
	return fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory' or 'postgresql://...')", dbURL)
}

func applyStorageEnv(prefix string, c *ServerConfig) error {
	storageURL, hasURL := lookupEnv(prefix, "STORAGE_URL")
	if !hasURL || storageURL == "" || storageURL == "memory" || storageURL == "memory://" {
		c.DefaultStorageBackend = "memory"
		c.StorageBackends = upsertStorageBackend(c.StorageBackends, StorageBackendConfig{Name: "memory", Type: "memory"})
		return nil
	}

	u, err := url.Parse(storageURL)
	if err != nil {
		return fmt.Errorf("invalid STORAGE_URL: %w", err)
	}

	var backend StorageBackendConfig
	switch u.Scheme {
	case "file":
		if u.Path == "" {
			return fmt.Errorf("filesystem path cannot be empty in STORAGE_URL")
		}
		backend = StorageBackendConfig{Name: "fs", Type: "fs", Config: map[string]interface{}{"base_dir": u.Path}}

	case "s3":
		if u.Host == "" {
			return fmt.Errorf("S3 bucket name cannot be empty in STORAGE_URL")
		}
		backend = StorageBackendConfig{Name: "s3", Type: "s3", Config: bucketConfig(u)}
		if _, ok := backend.Config["region"]; !ok {
			backend.Config["region"] = "us-east-1"
		}
		if accessKey, ok := os.LookupEnv("AWS_ACCESS_KEY_ID"); ok && accessKey != "" {
			backend.Config["access_key_id"] = accessKey
		}
		if secretKey, ok := os.LookupEnv("AWS_SECRET_ACCESS_KEY"); ok && secretKey != "" {
			backend.Config["secret_access_key"] = secretKey
		}
		if region, ok := os.LookupEnv("AWS_REGION"); ok && region != "" {
			backend.Config["region"] = region
		}
		if backend.Config["endpoint"] != nil {
			backend.Config["use_path_style"] = true
		}

	case "gs", "gcs":
		if u.Host == "" {
			return fmt.Errorf("GCS bucket name cannot be empty in STORAGE_URL")
		}
		backend = StorageBackendConfig{Name: "gcs", Type: "gcs", Config: bucketConfig(u)}
		if creds, ok := os.LookupEnv("GOOGLE_APPLICATION_CREDENTIALS"); ok && creds != "" {
			backend.Config["credentials_file"] = creds
		}

	default:
		return fmt.Errorf("unsupported STORAGE_URL format: %s (use 'memory://', 'file://...', 's3://...' or 'gs://...')", storageURL)
	}

	c.DefaultStorageBackend = backend.Name
	c.StorageBackends = upsertStorageBackend(c.StorageBackends, backend)
	return nil
}

// bucketConfig maps bucket://name/prefix?k=v to backend config keys.
func bucketConfig(u *url.URL) map[string]interface{} {
	cfg := map[string]interface{}{"bucket": u.Host}
	if p := strings.Trim(u.Path, "/"); p != "" {
		cfg["prefix"] = p
	}
	for key, values := range u.Query() {
		if len(values) > 0 && values[0] != "" {
			cfg[key] = values[0]
		}
	}
	return cfg
}

func applyDerivedEnv(prefix string, c *ServerConfig) error {
	if v, ok, err := parseBoolEnv(prefix, "DERIVED_ARTIFACTS"); err != nil {
		return err
	} else if ok {
		c.DerivedArtifacts = v
	}
	if v, ok, err := parseIntEnv(prefix, "THUMBNAIL_WIDTH"); err != nil {
		return err
	} else if ok {
		c.ThumbnailWidth = v
	}
	if v, ok, err := parseIntEnv(prefix, "MAX_SOURCE_BYTES"); err != nil {
		return err
	} else if ok {
		c.MaxSourceBytes = int64(v)
	}
	if v, ok, err := parseIntEnv(prefix, "PDF_MAX_PAGES"); err != nil {
		return err
	} else if ok {
		c.PDFMaxPages = v
	}
	return nil
}

func lookupEnv(prefix, key string) (string, bool) {
	return os.LookupEnv(prefix + key)
}

func parseBoolEnv(prefix, key string) (bool, bool, error) {
	raw, ok := lookupEnv(prefix, key)
	if !ok || raw == "" {
		return false, false, nil
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("invalid boolean for %s%s: %w", prefix, key, err)
	}
	return parsed, true, nil
}

func parseIntEnv(prefix, key string) (int, bool, error) {
	raw, ok := lookupEnv(prefix, key)
	if !ok || raw == "" {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("invalid integer for %s%s: %w", prefix, key, err)
	}
	return parsed, true, nil
}

func upsertStorageBackend(backends []StorageBackendConfig, backend StorageBackendConfig) []StorageBackendConfig {
	if backend.Config == nil {
		backend.Config = map[string]interface{}{}
	}
	for i := range backends {
		if backends[i].Name == backend.Name {
			backends[i] = backend
			return backends
		}
	}
	return append(backends, backend)
}

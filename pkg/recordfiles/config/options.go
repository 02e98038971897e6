package config

import (
	"fmt"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithDatabase configures the database backend
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		if dbType != "memory" && dbType != "postgres" {
			return fmt.Errorf("database type must be 'memory' or 'postgres', got: %s", dbType)
		}
		if dbType == "postgres" && url == "" {
			return fmt.Errorf("database URL is required for postgres")
		}
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithDatabaseSchema sets the database schema (for Postgres)
func WithDatabaseSchema(schema string) Option {
	return func(c *ServerConfig) error {
		c.DBSchema = schema
		return nil
	}
}

// WithDefaultStorage sets the default storage backend name
func WithDefaultStorage(name string) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			return fmt.Errorf("default storage backend name cannot be empty")
		}
		c.DefaultStorageBackend = name
		return nil
	}
}

// WithMemoryStorage adds a memory storage backend (for testing)
// If name is empty, defaults to "memory"
func WithMemoryStorage(name string) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			name = "memory"
		}
		c.StorageBackends = upsertStorageBackend(c.StorageBackends, StorageBackendConfig{Name: name, Type: "memory"})
		return nil
	}
}

// WithFilesystemStorage adds a filesystem storage backend
// If name is empty, defaults to "fs"
func WithFilesystemStorage(name, baseDir string) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			name = "fs"
		}
		if baseDir == "" {
			return fmt.Errorf("filesystem base directory cannot be empty")
		}
		c.StorageBackends = upsertStorageBackend(c.StorageBackends, StorageBackendConfig{
			Name:   name,
			Type:   "fs",
			Config: map[string]interface{}{"base_dir": baseDir},
		})
		return nil
	}
}

// WithS3Storage adds an S3 storage backend
// If name is empty, defaults to "s3"
func WithS3Storage(name, bucket, region string) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			name = "s3"
		}
		if bucket == "" {
			return fmt.Errorf("S3 bucket cannot be empty")
		}
		if region == "" {
			region = "us-east-1"
		}
		c.StorageBackends = upsertStorageBackend(c.StorageBackends, StorageBackendConfig{
			Name:   name,
			Type:   "s3",
			Config: map[string]interface{}{"bucket": bucket, "region": region},
		})
		return nil
	}
}

// WithS3Endpoint sets a custom S3 endpoint (for MinIO, LocalStack, etc.)
func WithS3Endpoint(name, endpoint string, usePathStyle bool) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			name = "s3"
		}
		for i := range c.StorageBackends {
			if c.StorageBackends[i].Name == name && c.StorageBackends[i].Type == "s3" {
				c.StorageBackends[i].Config["endpoint"] = endpoint
				c.StorageBackends[i].Config["use_path_style"] = usePathStyle
				return nil
			}
		}
		return fmt.Errorf("S3 backend %q not configured", name)
	}
}

// WithGCSStorage adds a Google Cloud Storage backend
// If name is empty, defaults to "gcs"
func WithGCSStorage(name, bucket, prefix string) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			name = "gcs"
		}
		if bucket == "" {
			return fmt.Errorf("GCS bucket cannot be empty")
		}
		backend := StorageBackendConfig{
			Name:   name,
			Type:   "gcs",
			Config: map[string]interface{}{"bucket": bucket},
		}
		if prefix != "" {
			backend.Config["prefix"] = prefix
		}
		c.StorageBackends = upsertStorageBackend(c.StorageBackends, backend)
		return nil
	}
}

// WithLinkBaseURLs sets the API and UI prefixes of rendered file links
func WithLinkBaseURLs(apiBaseURL, uiBaseURL string) Option {
	return func(c *ServerConfig) error {
		if apiBaseURL == "" {
			return fmt.Errorf("API base URL cannot be empty")
		}
		c.APIBaseURL = apiBaseURL
		c.UIBaseURL = uiBaseURL
		return nil
	}
}

// WithEventLogging enables or disables event logging
func WithEventLogging(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.EnableEventLogging = enabled
		return nil
	}
}

// WithEventTarget sends file events as CloudEvents to target
func WithEventTarget(target string) Option {
	return func(c *ServerConfig) error {
		c.EventTargetURL = target
		return nil
	}
}

// WithDerivedArtifacts enables or disables thumbnail and fulltext generation
func WithDerivedArtifacts(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.DerivedArtifacts = enabled
		return nil
	}
}

// WithThumbnailWidth sets the width of image thumbnails
func WithThumbnailWidth(width int) Option {
	return func(c *ServerConfig) error {
		if width <= 0 {
			return fmt.Errorf("thumbnail width must be positive, got: %d", width)
		}
		c.ThumbnailWidth = width
		return nil
	}
}

// WithMaxSourceBytes bounds the size of files the derived hook renders
func WithMaxSourceBytes(n int64) Option {
	return func(c *ServerConfig) error {
		if n <= 0 {
			return fmt.Errorf("max source bytes must be positive, got: %d", n)
		}
		c.MaxSourceBytes = n
		return nil
	}
}

// WithDefaults is a convenience option that resets every field to the library defaults
func WithDefaults() Option {
	return func(c *ServerConfig) error {
		*c = defaults()
		return nil
	}
}

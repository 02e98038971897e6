package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/tendant/chi-demo/app"

	"github.com/tendant/record-files/pkg/recordfiles/api"
	"github.com/tendant/record-files/pkg/recordfiles/config"
)

// Settings read by the server binary only. Everything the library needs
// comes from config.WithEnv.
type Config struct {
	APIKeys     string `yaml:"api_keys" env:"API_KEYS" env-description:"comma separated API keys; empty allows anonymous access"`
	AutoMigrate bool   `yaml:"auto_migrate" env:"AUTO_MIGRATE" env-default:"false"`
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	EnvPrefix   string `yaml:"env_prefix" env:"RECORDFILES_ENV_PREFIX" env-default:""`
}

// readConfig reads path when given (environment variables still win) and
// the environment only otherwise.
func readConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		err := cleanenv.ReadConfig(path, &cfg)
		return cfg, err
	}
	err := cleanenv.ReadEnv(&cfg)
	return cfg, err
}

func (c Config) apiKeys() []string {
	var keys []string
	for _, k := range strings.Split(c.APIKeys, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func main() {
	_ = godotenv.Load()

	serverConfig, err := readConfig(os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Error("Failed to read configuration", "err", err)
		os.Exit(1)
	}
	logger := newLogger(serverConfig.LogLevel)
	slog.SetDefault(logger)

	cfg, err := config.Load(config.WithEnv(serverConfig.EnvPrefix))
	if err != nil {
		logger.Error("Failed to load service configuration", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if cfg.DatabaseType == "postgres" {
		if serverConfig.AutoMigrate {
			if err := config.MigratePostgres(ctx, cfg.DatabaseURL, cfg.DBSchema); err != nil {
				logger.Error("Failed to migrate database", "err", err)
				os.Exit(1)
			}
		}
		if err := config.PingPostgres(cfg.DatabaseURL, cfg.DBSchema); err != nil {
			logger.Error("Failed to connect to database", "err", err)
			os.Exit(1)
		}
	}

	svc, err := cfg.BuildService(ctx, logger)
	if err != nil {
		logger.Error("Failed to build service", "err", err)
		os.Exit(1)
	}

	keys := serverConfig.apiKeys()
	if len(keys) == 0 {
		logger.Warn("No API keys configured, requests run as anonymous")
	}

	server := app.DefaultApp()
	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)
	server.R.Mount(cfg.APIBaseURL, api.NewRouter(svc, cfg.APIBaseURL, keys, logger))

	logger.Info("Starting record-files server",
		"environment", cfg.Environment,
		"database", cfg.DatabaseType,
		"storage", cfg.DefaultStorageBackend,
		"derived_artifacts", cfg.DerivedArtifacts,
	)
	server.Run()
}

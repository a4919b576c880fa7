package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/copperbooks/recon/internal/dispatch"
	"github.com/copperbooks/recon/internal/engine"
	"github.com/copperbooks/recon/internal/queue"
	"github.com/copperbooks/recon/internal/service"
	"github.com/copperbooks/recon/internal/storage"
)

// initStorage opens the SQLite database and runs migrations. The returned
// store serves both the matching engine and the job queue.
func initStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = "$HOME/.local/share/recon/recon.db"
	}
	dbPath = expandPath(dbPath)

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// expandPath expands ~ and environment variables in a filesystem path.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// buildMatcher constructs the matching engine with any thresholds
// overridden in config.
func buildMatcher(store service.Storage) *engine.Matcher {
	cfg := engine.DefaultConfig()

	if v := viper.GetFloat64("matching.auto_match_floor"); v > 0 {
		cfg.AutoMatchFloor = v
	}
	if v := viper.GetFloat64("matching.ambiguity_margin"); v > 0 {
		cfg.AmbiguityMargin = v
	}
	if v := viper.GetFloat64("matching.suggestion_floor"); v > 0 {
		cfg.SuggestionFloor = v
	}
	if v := viper.GetInt("matching.max_suggestions"); v > 0 {
		cfg.MaxSuggestions = v
	}
	if v := viper.GetDuration("matching.date_window"); v > 0 {
		cfg.Window = service.DateWindow{Before: v, After: v}
	}

	return engine.NewWithConfig(store, cfg)
}

// buildRegistry sets up the matching queue and binds its handlers.
func buildRegistry(matcher *engine.Matcher) (*queue.Registry, error) {
	cfg := queue.DefaultConfig(dispatch.QueueMatching)

	if v := viper.GetInt("queue.concurrency"); v > 0 {
		cfg.Concurrency = v
	}
	if v := viper.GetInt("queue.max_attempts"); v > 0 {
		cfg.MaxAttempts = v
	}
	if v := viper.GetDuration("queue.initial_backoff"); v > 0 {
		cfg.InitialBackoff = v
	}
	if v := viper.GetDuration("queue.max_duration"); v > 0 {
		cfg.MaxDuration = v
	}

	registry := queue.NewRegistry()
	if err := registry.AddQueue(cfg); err != nil {
		return nil, fmt.Errorf("failed to add queue: %w", err)
	}
	if err := dispatch.RegisterHandlers(registry, matcher); err != nil {
		return nil, fmt.Errorf("failed to register handlers: %w", err)
	}

	return registry, nil
}

func formatDuration(d time.Duration) string {
	return d.Round(time.Second).String()
}

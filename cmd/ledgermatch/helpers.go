package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/caseline/ledgermatch/internal/engine"
	"github.com/caseline/ledgermatch/internal/storage"

	"github.com/spf13/viper"
)

// getStorage opens the configured database. The returned cleanup function
// must be called when the command finishes.
func getStorage() (*storage.SQLiteStorage, func(), error) {
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dbPath = filepath.Join(home, ".local", "share", "ledgermatch", "ledgermatch.db")
	}

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	cleanup := func() {
		if err := store.Close(); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}
	return store, cleanup, nil
}

// engineConfig builds the engine tuning from defaults overridden by any
// matching.* keys the config file sets.
func engineConfig() (engine.Config, error) {
	cfg := engine.DefaultConfig()

	if viper.IsSet("matching.auto_threshold") {
		cfg.AutoThreshold = viper.GetInt("matching.auto_threshold")
	}
	if viper.IsSet("matching.suggest_threshold") {
		cfg.SuggestThreshold = viper.GetInt("matching.suggest_threshold")
	}
	if viper.IsSet("matching.min_separation") {
		cfg.MinSeparation = viper.GetInt("matching.min_separation")
	}
	if viper.IsSet("matching.amount_tolerance_pct") {
		cfg.AmountTolerancePct = viper.GetFloat64("matching.amount_tolerance_pct")
	}
	if viper.IsSet("matching.max_date_offset_days") {
		cfg.MaxDateOffsetDays = viper.GetInt("matching.max_date_offset_days")
	}
	if viper.IsSet("matching.max_batch_size") {
		cfg.MaxBatchSize = viper.GetInt("matching.max_batch_size")
	}
	if viper.IsSet("matching.batch_workers") {
		cfg.BatchWorkers = viper.GetInt("matching.batch_workers")
	}
	if viper.IsSet("matching.candidate_limit") {
		cfg.CandidateLimit = viper.GetInt("matching.candidate_limit")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid matching configuration: %w", err)
	}
	return cfg, nil
}

// requireTenant reads the tenant flag/config value, failing when unset.
func requireTenant() (string, error) {
	tenant := viper.GetString("tenant")
	if tenant == "" {
		return "", fmt.Errorf("tenant is required: pass --tenant or set it in the config file")
	}
	return tenant, nil
}

// truncateString shortens a string for table display.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

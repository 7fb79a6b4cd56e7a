package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/urlshield/urlshield/internal/blacklist"
	"github.com/urlshield/urlshield/internal/config"
	"github.com/urlshield/urlshield/internal/storage"
)

// dataDir returns the directory for databases and ledgers, creating it if
// needed.
func dataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	dir := filepath.Join(home, ".local", "share", "urlshield")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}

func databasePath() (string, error) {
	if path := viper.GetString("database.path"); path != "" {
		return config.ExpandPath(path), nil
	}
	dir, err := dataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "urlshield.db"), nil
}

func blacklistPath() (string, error) {
	if path := viper.GetString("blacklist.path"); path != "" {
		return config.ExpandPath(path), nil
	}
	dir, err := dataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "blacklist.csv"), nil
}

func replayPath() (string, error) {
	if path := viper.GetString("replay.path"); path != "" {
		return config.ExpandPath(path), nil
	}
	dir, err := dataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "replay.jsonl"), nil
}

func openStorage() (*storage.SQLiteStorage, error) {
	dbPath, err := databasePath()
	if err != nil {
		return nil, err
	}
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, nil
}

func openBlacklist() (*blacklist.Store, error) {
	path, err := blacklistPath()
	if err != nil {
		return nil, err
	}
	ledger, err := blacklist.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open blacklist ledger: %w", err)
	}
	return ledger, nil
}

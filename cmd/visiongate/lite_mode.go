package main

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/visiongate/visiongate/pkg/config"
	"github.com/visiongate/visiongate/pkg/metering"
	"github.com/visiongate/visiongate/pkg/reportstore"
	"github.com/visiongate/visiongate/pkg/verdicts"
)

// defaultHandleKeyPath stores the generated download-handle secret for
// lite mode, next to the SQLite database.
const defaultHandleKeyPath = "data/handle.key"

// liteStores is the storage set for a node without PostgreSQL.
type liteStores struct {
	db       *sql.DB
	verdicts verdicts.Store
	metadata reportstore.MetadataStore
	meter    metering.Meter
}

// setupLiteMode opens SQLite-backed stores for a self-contained node.
// Metering history is kept in memory; it resets on restart.
func setupLiteMode(cfg *config.Config, log *slog.Logger) (*liteStores, error) {
	log.Info("DATABASE_URL not set, running in lite mode", "sqlite", cfg.SQLitePath)

	if dir := filepath.Dir(cfg.SQLitePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	verdictStore, err := verdicts.NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init verdict store: %w", err)
	}
	metaStore, err := reportstore.NewSQLiteMetadata(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init report metadata: %w", err)
	}

	return &liteStores{
		db:       db,
		verdicts: verdictStore,
		metadata: metaStore,
		meter:    metering.NewMemoryMeter(),
	}, nil
}

// loadOrGenerateSecret reads the persisted handle-signing secret,
// creating one on first boot so signed download URLs survive restarts.
func loadOrGenerateSecret(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		secret, decodeErr := hex.DecodeString(strings.TrimSpace(string(raw)))
		if decodeErr != nil {
			return nil, fmt.Errorf("parse handle key %s: %w", path, decodeErr)
		}
		return secret, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate handle key: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, err
		}
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(secret)), 0600); err != nil {
		return nil, fmt.Errorf("persist handle key: %w", err)
	}
	return secret, nil
}

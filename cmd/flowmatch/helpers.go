package main

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/Veraticus/flowmatch/internal/config"
	"github.com/Veraticus/flowmatch/internal/index"
	"github.com/Veraticus/flowmatch/internal/storage"
)

// initStorage initializes the catalog store with proper path expansion.
func initStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = "$HOME/.local/share/flowmatch/flowmatch.db"
	}

	dbPath = config.ExpandPath(dbPath)

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// buildIndex embeds the stored catalog into a fresh candidate index.
func buildIndex(ctx context.Context, embedder index.Embedder, store *storage.SQLiteStorage) (*index.Index, error) {
	candidates, err := store.ListCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	idx, err := index.Build(ctx, embedder, candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to build index: %w", err)
	}

	return idx, nil
}

package database

import (
	"context"
	"fmt"

	"github.com/jroosing/hydralb/internal/config"
)

// Empty reports whether the registry holds no pools and no backends.
func (db *DB) Empty(ctx context.Context) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var n int
	err := db.conn.QueryRowContext(ctx, "SELECT (SELECT COUNT(*) FROM pools) + (SELECT COUNT(*) FROM backends)").Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to count registry rows: %w", err)
	}
	return n == 0, nil
}

// SeedFromConfig writes the pools and backends of cfg into the registry in
// one transaction.
func (db *DB) SeedFromConfig(ctx context.Context, cfg *config.Config) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range cfg.Pools {
		if err := upsertPool(ctx, tx, p); err != nil {
			return err
		}
	}
	for _, b := range cfg.Backends {
		if err := upsertBackend(ctx, tx, b); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seed: %w", err)
	}
	return nil
}

// Sync makes the registry the source of pools and backends: an empty
// registry is seeded from cfg, then cfg's pools and backends are replaced
// with the registry's and revalidated.
func (db *DB) Sync(ctx context.Context, cfg *config.Config) error {
	empty, err := db.Empty(ctx)
	if err != nil {
		return err
	}
	if empty {
		if err := db.SeedFromConfig(ctx, cfg); err != nil {
			return err
		}
	}

	pools, err := db.Pools(ctx)
	if err != nil {
		return err
	}
	backends, err := db.Backends(ctx)
	if err != nil {
		return err
	}
	cfg.Pools, cfg.Backends = pools, backends
	return cfg.Validate()
}

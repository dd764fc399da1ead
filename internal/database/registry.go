package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jroosing/hydralb/internal/config"
)

// UpsertPool inserts or replaces a pool.
func (db *DB) UpsertPool(ctx context.Context, p config.PoolConfig) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return upsertPool(ctx, db.conn, p)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertPool(ctx context.Context, ex execer, p config.PoolConfig) error {
	var cacheJSON sql.NullString
	if p.Cache != nil {
		b, err := json.Marshal(p.Cache)
		if err != nil {
			return fmt.Errorf("encode cache of pool %q: %w", p.Name, err)
		}
		cacheJSON = sql.NullString{String: string(b), Valid: true}
	}

	query := `
		INSERT INTO pools (name, policy, use_ecs, cache, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET
			policy = excluded.policy,
			use_ecs = excluded.use_ecs,
			cache = excluded.cache,
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := ex.ExecContext(ctx, query, p.Name, p.Policy, p.UseECS, cacheJSON); err != nil {
		return fmt.Errorf("failed to upsert pool %q: %w", p.Name, err)
	}
	return nil
}

// Pools returns every pool ordered by name.
func (db *DB) Pools(ctx context.Context) ([]config.PoolConfig, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, "SELECT name, policy, use_ecs, cache FROM pools ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query pools: %w", err)
	}
	defer rows.Close()

	var pools []config.PoolConfig
	for rows.Next() {
		var (
			p         config.PoolConfig
			cacheJSON sql.NullString
		)
		if err := rows.Scan(&p.Name, &p.Policy, &p.UseECS, &cacheJSON); err != nil {
			return nil, fmt.Errorf("failed to scan pool: %w", err)
		}
		if cacheJSON.Valid {
			p.Cache = &config.CacheConfig{}
			if err := json.Unmarshal([]byte(cacheJSON.String), p.Cache); err != nil {
				return nil, fmt.Errorf("decode cache of pool %q: %w", p.Name, err)
			}
		}
		pools = append(pools, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pools: %w", err)
	}
	return pools, nil
}

// DeletePool removes a pool. Backends keep their membership rows and the
// pool is recreated with defaults on the next load if any backend names it.
func (db *DB) DeletePool(ctx context.Context, name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.conn.ExecContext(ctx, "DELETE FROM pools WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete pool: %w", err)
	}
	return expectOne(res, "pool", name)
}

// UpsertBackend inserts or replaces a backend and its pool memberships.
func (db *DB) UpsertBackend(ctx context.Context, b config.BackendConfig) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertBackend(ctx, tx, b); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func upsertBackend(ctx context.Context, tx *sql.Tx, b config.BackendConfig) error {
	query := `
		INSERT INTO backends (name, address, weight, ord, use_ecs, sockets, slots, mode, qps,
			check_name, check_type, check_interval_ms, check_timeout_ms, max_failures, rise, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET
			address = excluded.address,
			weight = excluded.weight,
			ord = excluded.ord,
			use_ecs = excluded.use_ecs,
			sockets = excluded.sockets,
			slots = excluded.slots,
			mode = excluded.mode,
			qps = excluded.qps,
			check_name = excluded.check_name,
			check_type = excluded.check_type,
			check_interval_ms = excluded.check_interval_ms,
			check_timeout_ms = excluded.check_timeout_ms,
			max_failures = excluded.max_failures,
			rise = excluded.rise,
			updated_at = CURRENT_TIMESTAMP
	`
	hc := b.HealthCheck
	_, err := tx.ExecContext(ctx, query,
		b.Name, b.Address, b.Weight, b.Order, b.UseECS, b.Sockets, b.Slots, b.Mode, b.QPS,
		hc.Name, hc.Type, hc.Interval.Milliseconds(), hc.Timeout.Milliseconds(), hc.MaxFailures, hc.Rise,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert backend %q: %w", b.Name, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM backend_pools WHERE backend = ?", b.Name); err != nil {
		return fmt.Errorf("failed to clear pools of backend %q: %w", b.Name, err)
	}
	for _, p := range b.PoolNames() {
		if _, err := tx.ExecContext(ctx, "INSERT INTO backend_pools (backend, pool) VALUES (?, ?)", b.Name, p); err != nil {
			return fmt.Errorf("failed to add backend %q to pool %q: %w", b.Name, p, err)
		}
	}
	return nil
}

// Backends returns every backend ordered by name, with its pools.
func (db *DB) Backends(ctx context.Context) ([]config.BackendConfig, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT name, address, weight, ord, use_ecs, sockets, slots, mode, qps,
			check_name, check_type, check_interval_ms, check_timeout_ms, max_failures, rise
		FROM backends ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query backends: %w", err)
	}
	defer rows.Close()

	var (
		backends []config.BackendConfig
		index    = map[string]int{}
	)
	for rows.Next() {
		var (
			b                     config.BackendConfig
			intervalMS, timeoutMS int64
		)
		err := rows.Scan(&b.Name, &b.Address, &b.Weight, &b.Order, &b.UseECS, &b.Sockets, &b.Slots, &b.Mode, &b.QPS,
			&b.HealthCheck.Name, &b.HealthCheck.Type, &intervalMS, &timeoutMS,
			&b.HealthCheck.MaxFailures, &b.HealthCheck.Rise)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backend: %w", err)
		}
		b.HealthCheck.Interval = time.Duration(intervalMS) * time.Millisecond
		b.HealthCheck.Timeout = time.Duration(timeoutMS) * time.Millisecond
		index[b.Name] = len(backends)
		backends = append(backends, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backends: %w", err)
	}
	rows.Close()

	prows, err := db.conn.QueryContext(ctx, "SELECT backend, pool FROM backend_pools ORDER BY backend, pool")
	if err != nil {
		return nil, fmt.Errorf("failed to query backend pools: %w", err)
	}
	defer prows.Close()
	for prows.Next() {
		var name, pool string
		if err := prows.Scan(&name, &pool); err != nil {
			return nil, fmt.Errorf("failed to scan backend pool: %w", err)
		}
		if i, ok := index[name]; ok {
			backends[i].Pools = append(backends[i].Pools, pool)
		}
	}
	if err := prows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backend pools: %w", err)
	}
	return backends, nil
}

// DeleteBackend removes a backend and its pool memberships.
func (db *DB) DeleteBackend(ctx context.Context, name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.conn.ExecContext(ctx, "DELETE FROM backends WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete backend: %w", err)
	}
	return expectOne(res, "backend", name)
}

// SetBackendMode persists the administrative mode of a backend.
func (db *DB) SetBackendMode(ctx context.Context, name, mode string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.conn.ExecContext(ctx,
		"UPDATE backends SET mode = ?, updated_at = CURRENT_TIMESTAMP WHERE name = ?", mode, name)
	if err != nil {
		return fmt.Errorf("failed to update backend mode: %w", err)
	}
	return expectOne(res, "backend", name)
}

func expectOne(res sql.Result, kind, name string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %q: %w", kind, name, ErrNotFound)
	}
	return nil
}

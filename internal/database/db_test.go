package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/hydralb/internal/config"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_SchemaIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Health(context.Background()))
	v, err := db.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}

func TestPools_UpsertListDelete(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	require.NoError(t, db.UpsertPool(ctx, config.PoolConfig{Name: "web", Policy: "roundrobin"}))
	require.NoError(t, db.UpsertPool(ctx, config.PoolConfig{
		Name:   "cached",
		UseECS: true,
		Cache:  &config.CacheConfig{MaxEntries: 1000, MaxTTL: time.Hour, StaleTTL: 30 * time.Second},
	}))
	require.NoError(t, db.UpsertPool(ctx, config.PoolConfig{Name: "web", Policy: "wrandom"}))

	pools, err := db.Pools(ctx)
	require.NoError(t, err)
	require.Len(t, pools, 2)
	assert.Equal(t, "cached", pools[0].Name)
	assert.True(t, pools[0].UseECS)
	require.NotNil(t, pools[0].Cache)
	assert.Equal(t, 1000, pools[0].Cache.MaxEntries)
	assert.Equal(t, time.Hour, pools[0].Cache.MaxTTL)
	assert.Equal(t, 30*time.Second, pools[0].Cache.StaleTTL)
	assert.Equal(t, "web", pools[1].Name)
	assert.Equal(t, "wrandom", pools[1].Policy)
	assert.Nil(t, pools[1].Cache)

	require.NoError(t, db.DeletePool(ctx, "web"))
	err = db.DeletePool(ctx, "web")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestBackends_UpsertListDelete(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	b := config.BackendConfig{
		Name:    "ns1",
		Address: "192.0.2.1:53",
		Pools:   []string{"web", "mail"},
		Weight:  3,
		Order:   1,
		Sockets: 2,
		Mode:    "auto",
		QPS:     100,
		HealthCheck: config.HealthCheckConfig{
			Name:        "example.com.",
			Type:        "AAAA",
			Interval:    2 * time.Second,
			Timeout:     500 * time.Millisecond,
			MaxFailures: 3,
			Rise:        2,
		},
	}
	require.NoError(t, db.UpsertBackend(ctx, b))
	require.NoError(t, db.UpsertBackend(ctx, config.BackendConfig{Name: "ns2", Address: "192.0.2.2"}))

	backends, err := db.Backends(ctx)
	require.NoError(t, err)
	require.Len(t, backends, 2)
	got := backends[0]
	assert.Equal(t, "ns1", got.Name)
	assert.ElementsMatch(t, []string{"web", "mail"}, got.Pools)
	assert.Equal(t, 3, got.Weight)
	assert.Equal(t, 2, got.Sockets)
	assert.InDelta(t, 100.0, got.QPS, 0.001)
	assert.Equal(t, b.HealthCheck, got.HealthCheck)
	assert.Equal(t, []string{""}, backends[1].Pools)

	b.Pools = []string{"web"}
	require.NoError(t, db.UpsertBackend(ctx, b))
	backends, err = db.Backends(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"web"}, backends[0].Pools)

	require.NoError(t, db.SetBackendMode(ctx, "ns1", "down"))
	backends, err = db.Backends(ctx)
	require.NoError(t, err)
	assert.Equal(t, "down", backends[0].Mode)

	assert.ErrorIs(t, db.SetBackendMode(ctx, "missing", "up"), ErrNotFound)
	require.NoError(t, db.DeleteBackend(ctx, "ns2"))
	assert.ErrorIs(t, db.DeleteBackend(ctx, "ns2"), ErrNotFound)
}

func TestVersion_IncrementsOnChange(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	v0, err := db.Version(ctx)
	require.NoError(t, err)
	require.NoError(t, db.UpsertPool(ctx, config.PoolConfig{Name: "p"}))
	v1, err := db.Version(ctx)
	require.NoError(t, err)
	assert.Greater(t, v1, v0)

	require.NoError(t, db.DeletePool(ctx, "p"))
	v2, err := db.Version(ctx)
	require.NoError(t, err)
	assert.Greater(t, v2, v1)
}

func TestSync_SeedsOnceThenLoads(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	cfg := config.Default()
	cfg.Pools = []config.PoolConfig{{Name: "web", Policy: "firstAvailable"}}
	cfg.Backends = []config.BackendConfig{{Name: "ns1", Address: "192.0.2.1", Pools: []string{"web"}}}
	require.NoError(t, cfg.Validate())

	require.NoError(t, db.Sync(ctx, cfg))
	empty, err := db.Empty(ctx)
	require.NoError(t, err)
	assert.False(t, empty)

	// The registry wins over a changed file once it has been seeded.
	next := config.Default()
	next.Backends = []config.BackendConfig{{Address: "198.51.100.9"}}
	require.NoError(t, next.Validate())
	require.NoError(t, db.Sync(ctx, next))

	require.Len(t, next.Backends, 1)
	assert.Equal(t, "ns1", next.Backends[0].Name)
	require.Len(t, next.Pools, 1)
	assert.Equal(t, "firstAvailable", next.Pools[0].Policy)
}

func TestSync_RejectsInvalidRegistry(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	require.NoError(t, db.UpsertBackend(ctx, config.BackendConfig{Name: "bad", Address: "192.0.2.1", Mode: "sideways"}))

	cfg := config.Default()
	err := db.Sync(ctx, cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jroosing/hydralb/internal/api/handlers"
	"github.com/jroosing/hydralb/internal/backend"
	"github.com/jroosing/hydralb/internal/cache"
	"github.com/jroosing/hydralb/internal/config"
	"github.com/jroosing/hydralb/internal/dispatch"
	"github.com/jroosing/hydralb/internal/policy"
	"github.com/jroosing/hydralb/internal/rules"
	"github.com/stretchr/testify/require"
)

type nopTransport struct{}

func (nopTransport) Send([]byte) error { return nil }
func (nopTransport) Close() error      { return nil }

func setupTestRouter(h *handlers.Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	api := r.Group("/api/v1")
	api.GET("/health", h.Health)
	api.GET("/stats", h.Stats)
	api.GET("/config", h.GetConfig)
	api.GET("/backends", h.ListBackends)
	api.GET("/backends/:name", h.GetBackend)
	api.PUT("/backends/:name/mode", h.SetBackendMode)
	api.GET("/pools", h.ListPools)
	api.POST("/cache/expunge", h.ExpungeCache)
	api.GET("/rules", h.ListRules)

	return r
}

// testDeps builds a default pool with two backends and a cache, and a
// "web" pool with one backend and a round-robin policy.
func testDeps(t *testing.T) handlers.Deps {
	t.Helper()
	pools := backend.NewPools()
	ns1 := backend.New(backend.Config{Name: "ns1", Addr: netip.MustParseAddrPort("192.0.2.1:53"), Weight: 2}, nopTransport{})
	ns2 := backend.New(backend.Config{Name: "ns2", Addr: netip.MustParseAddrPort("192.0.2.2:53")}, nopTransport{})

	def := pools.GetOrCreate("")
	def.Add(ns1)
	def.Add(ns2)
	def.SetCache(cache.New(cache.Config{MaxEntries: 100}))

	web := pools.GetOrCreate("web")
	web.Add(ns2)
	web.SetPolicy(&policy.RoundRobin{})

	chain, err := rules.Compile([]rules.Rule{
		{Name: "block", Domains: []string{"blocked.test"}, Action: rules.ActionDrop},
	}, nil)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.API.APIKey = "secret"
	return handlers.Deps{
		Config: cfg,
		Engine: &dispatch.Engine{Pools: pools, QueryRules: chain},
		Pools:  pools,
		Rules:  chain,
	}
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

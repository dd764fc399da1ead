// Package handlers implements the REST API endpoint handlers for the balancer.
//
// REST API Endpoints:
//
// System:
//   - GET /api/v1/health - Health check status
//   - GET /api/v1/stats - Process, host and dispatch statistics
//   - GET /api/v1/config - Current configuration (sensitive values redacted)
//
// Backends and pools:
//   - GET /api/v1/backends - Backends with counters and pool membership
//   - GET /api/v1/backends/:name - One backend
//   - PUT /api/v1/backends/:name/mode - Force a backend up, down or back to auto
//   - GET /api/v1/pools - Pools with policy and cache counters
//   - POST /api/v1/cache/expunge - Remove cached answers from a pool cache
//
// Rules:
//   - GET /api/v1/rules - Hit counters of the query and response rules
//
// Authentication:
//
// When an API key is configured every endpoint except /health requires it in
// the X-API-Key header.
//
// @title HydraLB Management API
// @version 1.0
// @description REST API for inspecting and steering the DNS load balancer.
//
// @contact.name HydraLB Support
// @contact.url https://github.com/jroosing/hydralb
//
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
//
// @host localhost:8080
// @BasePath /api/v1
//
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
package handlers

import (
	"log/slog"
	"time"

	"github.com/jroosing/hydralb/internal/backend"
	"github.com/jroosing/hydralb/internal/config"
	"github.com/jroosing/hydralb/internal/database"
	"github.com/jroosing/hydralb/internal/dispatch"
	"github.com/jroosing/hydralb/internal/rules"
)

// Deps are the runtime components the handlers read and steer. Any of them
// may be nil; the matching endpoints then report empty results.
type Deps struct {
	Config *config.Config
	Engine *dispatch.Engine
	Pools  *backend.Pools
	Rules  *rules.Chain
	DB     *database.DB // persists backend mode changes when set
}

// Handler contains dependencies for API handlers.
type Handler struct {
	cfg       *config.Config
	engine    *dispatch.Engine
	pools     *backend.Pools
	rules     *rules.Chain
	db        *database.DB
	logger    *slog.Logger
	startTime time.Time
}

// New creates a new Handler.
func New(d Deps, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if d.Pools == nil {
		d.Pools = backend.NewPools()
	}
	return &Handler{
		cfg:       d.Config,
		engine:    d.Engine,
		pools:     d.Pools,
		rules:     d.Rules,
		db:        d.DB,
		logger:    logger,
		startTime: time.Now(),
	}
}

package handlers

import (
	"errors"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/jroosing/hydralb/internal/api/models"
	"github.com/jroosing/hydralb/internal/backend"
	"github.com/jroosing/hydralb/internal/database"
)

// ListBackends godoc
// @Summary List backends
// @Description Returns every backend with its counters, ordered by name
// @Tags backends
// @Produce json
// @Success 200 {array} models.BackendResponse
// @Security ApiKeyAuth
// @Router /backends [get]
func (h *Handler) ListBackends(c *gin.Context) {
	servers := h.pools.Backends()
	resp := make([]models.BackendResponse, 0, len(servers))
	for _, b := range servers {
		resp = append(resp, h.backendResponse(b))
	}
	c.JSON(http.StatusOK, resp)
}

// GetBackend godoc
// @Summary Get backend
// @Tags backends
// @Produce json
// @Param name path string true "Backend name"
// @Success 200 {object} models.BackendResponse
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /backends/{name} [get]
func (h *Handler) GetBackend(c *gin.Context) {
	b, ok := h.pools.Backend(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "backend not found"})
		return
	}
	c.JSON(http.StatusOK, h.backendResponse(b))
}

// SetBackendMode godoc
// @Summary Set backend mode
// @Description Forces a backend up or down, or returns it to health-check control with auto
// @Tags backends
// @Accept json
// @Produce json
// @Param name path string true "Backend name"
// @Param request body models.BackendModeRequest true "New mode"
// @Success 200 {object} models.BackendResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /backends/{name}/mode [put]
func (h *Handler) SetBackendMode(c *gin.Context) {
	var req models.BackendModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}
	mode, err := backend.ParseMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	name := c.Param("name")
	b, ok := h.pools.Backend(name)
	if !ok {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "backend not found"})
		return
	}

	if h.db != nil {
		err := h.db.SetBackendMode(c.Request.Context(), name, req.Mode)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			h.logger.Error("failed to persist backend mode", "backend", name, "err", err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to persist mode"})
			return
		}
	}

	b.SetMode(mode)
	h.logger.Info("backend mode changed", "backend", name, "mode", mode.String())
	c.JSON(http.StatusOK, h.backendResponse(b))
}

func (h *Handler) backendResponse(b *backend.Backend) models.BackendResponse {
	s := b.Snapshot()
	resp := models.BackendResponse{
		Name:        s.Name,
		Address:     s.Addr,
		Pools:       []string{},
		Weight:      b.Weight,
		Order:       b.Order,
		Mode:        s.Mode,
		Available:   s.Available,
		Queries:     s.Queries,
		Responses:   s.Responses,
		Outstanding: s.Outstanding,
		Reuseds:     s.Reuseds,
		Timeouts:    s.Timeouts,
		SendErrors:  s.SendErrors,
		LatencyMs:   s.LatencyMs,
	}
	for _, p := range h.pools.All() {
		if slices.Contains(p.Servers(), b) {
			resp.Pools = append(resp.Pools, p.Name)
		}
	}
	return resp
}

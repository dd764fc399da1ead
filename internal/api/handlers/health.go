package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jroosing/hydralb/internal/api/models"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Health godoc
// @Summary Health check
// @Description Returns ok, or degraded when the registry database is unreachable
// @Tags system
// @Produce json
// @Success 200 {object} models.StatusResponse
// @Failure 503 {object} models.StatusResponse
// @Router /health [get]
func (h *Handler) Health(c *gin.Context) {
	if h.db != nil {
		if err := h.db.Health(c.Request.Context()); err != nil {
			h.logger.Warn("registry database unhealthy", "err", err)
			c.JSON(http.StatusServiceUnavailable, models.StatusResponse{Status: "degraded"})
			return
		}
	}
	c.JSON(http.StatusOK, models.StatusResponse{Status: "ok"})
}

// Stats godoc
// @Summary Server statistics
// @Description Returns runtime statistics, host load and dispatch counters
// @Tags system
// @Produce json
// @Success 200 {object} models.ServerStatsResponse
// @Security ApiKeyAuth
// @Router /stats [get]
func (h *Handler) Stats(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(h.startTime)

	resp := models.ServerStatsResponse{
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		StartTime:     h.startTime,
		GoRoutines:    runtime.NumGoroutine(),
		MemoryAllocMB: float64(m.Alloc) / 1024 / 1024,
		NumCPU:        runtime.NumCPU(),
		Host:          h.hostStats(c),
	}
	if h.engine != nil {
		resp.Dispatch = h.engine.Stats()
	}

	c.JSON(http.StatusOK, resp)
}

// hostStats returns nil when neither load nor memory can be read.
func (h *Handler) hostStats(c *gin.Context) *models.HostStats {
	ctx := c.Request.Context()
	var hs models.HostStats
	ok := false
	if avg, err := load.AvgWithContext(ctx); err == nil {
		hs.Load1, hs.Load5, hs.Load15 = avg.Load1, avg.Load5, avg.Load15
		ok = true
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		hs.MemoryTotalMB = float64(vm.Total) / 1024 / 1024
		hs.MemoryUsedMB = float64(vm.Used) / 1024 / 1024
		hs.MemoryUsedPct = vm.UsedPercent
		ok = true
	}
	if !ok {
		return nil
	}
	return &hs
}

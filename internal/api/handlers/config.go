package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jroosing/hydralb/internal/api/models"
)

// GetConfig godoc
// @Summary Get current configuration
// @Description Returns the configuration the balancer was built from (sensitive fields redacted)
// @Tags config
// @Produce json
// @Success 200 {object} models.ConfigResponse
// @Failure 500 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /config [get]
func (h *Handler) GetConfig(c *gin.Context) {
	if h.cfg == nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "config unavailable"})
		return
	}

	resp := models.ConfigResponse{
		Server: models.ServerConfigResponse{
			Host:           h.cfg.Server.Host,
			Port:           h.cfg.Server.Port,
			Workers:        h.cfg.Server.Workers.String(),
			MaxConcurrency: h.cfg.Server.MaxConcurrency,
			ReadBuffer:     h.cfg.Server.ReadBuffer,
			DoH:            h.cfg.Server.DoH,
		},
		Dispatch:  h.cfg.Dispatch,
		Pools:     h.cfg.Pools,
		Backends:  h.cfg.Backends,
		Rules:     len(h.cfg.Rules),
		Logging:   h.cfg.Logging,
		RateLimit: h.cfg.RateLimit,
		API: models.APIConfigResponse{
			Enabled: h.cfg.API.Enabled,
			Host:    h.cfg.API.Host,
			Port:    h.cfg.API.Port,
		},
		Dnstap: h.cfg.Dnstap,
	}

	c.JSON(http.StatusOK, resp)
}

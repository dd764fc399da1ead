package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jroosing/hydralb/internal/rules"
)

// ListRules godoc
// @Summary Rule statistics
// @Description Returns every query and response rule with its hit counter
// @Tags rules
// @Produce json
// @Success 200 {array} rules.RuleStats
// @Security ApiKeyAuth
// @Router /rules [get]
func (h *Handler) ListRules(c *gin.Context) {
	stats := []rules.RuleStats{}
	if h.rules != nil {
		stats = append(stats, h.rules.Stats()...)
	}
	c.JSON(http.StatusOK, stats)
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jroosing/hydralb/internal/api/models"
)

// ListPools godoc
// @Summary List pools
// @Description Returns every pool with its effective policy, members and cache counters
// @Tags pools
// @Produce json
// @Success 200 {array} models.PoolResponse
// @Security ApiKeyAuth
// @Router /pools [get]
func (h *Handler) ListPools(c *gin.Context) {
	all := h.pools.All()
	resp := make([]models.PoolResponse, 0, len(all))
	for _, p := range all {
		pr := models.PoolResponse{
			Name:     p.Name,
			UseECS:   p.UseECS(),
			Backends: []string{},
		}
		if pol := p.Policy(); pol != nil {
			pr.Policy = pol.Name()
		} else if h.cfg != nil {
			pr.Policy = h.cfg.Dispatch.DefaultPolicy
		}
		for _, b := range p.Servers() {
			pr.Backends = append(pr.Backends, b.Name)
		}
		if pc := p.Cache(); pc != nil {
			s := pc.Stats()
			pr.Cache = &models.CacheStatsResponse{
				Entries:    s.Entries,
				Hits:       s.Hits,
				StaleHits:  s.StaleHits,
				Misses:     s.Misses,
				Insertions: s.Insertions,
				Evictions:  s.Evictions,
				Collisions: s.Collisions,
				Expired:    s.Expired,
			}
		}
		resp = append(resp, pr)
	}
	c.JSON(http.StatusOK, resp)
}

// ExpungeCache godoc
// @Summary Expunge cache entries
// @Description Removes entries for a name (optionally with its subdomains) from a pool cache, or every expired entry when no name is given
// @Tags pools
// @Accept json
// @Produce json
// @Param request body models.ExpungeRequest true "What to remove"
// @Success 200 {object} models.ExpungeResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /cache/expunge [post]
func (h *Handler) ExpungeCache(c *gin.Context) {
	var req models.ExpungeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}

	p, ok := h.pools.Get(req.Pool)
	if !ok {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "pool not found"})
		return
	}
	pc := p.Cache()
	if pc == nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "pool has no cache"})
		return
	}

	var removed int
	if req.Name == "" {
		removed = pc.Expunge()
	} else {
		removed = pc.ExpungeByName(req.Name, req.Suffix)
	}
	h.logger.Info("cache expunged", "pool", req.Pool, "name", req.Name, "suffix", req.Suffix, "removed", removed)
	c.JSON(http.StatusOK, models.ExpungeResponse{Removed: removed})
}

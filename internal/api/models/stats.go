package models

import (
	"time"

	"github.com/jroosing/hydralb/internal/dispatch"
)

// ServerStatsResponse contains process, host and dispatch statistics.
type ServerStatsResponse struct {
	Uptime        string                 `json:"uptime"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	StartTime     time.Time              `json:"start_time"`
	GoRoutines    int                    `json:"goroutines"`
	MemoryAllocMB float64                `json:"memory_alloc_mb"`
	NumCPU        int                    `json:"num_cpu"`
	Host          *HostStats             `json:"host,omitempty"`
	Dispatch      dispatch.StatsSnapshot `json:"dispatch"`
}

// HostStats is the load of the machine the balancer runs on. Fields the
// platform cannot report are left zero.
type HostStats struct {
	Load1         float64 `json:"load1"`
	Load5         float64 `json:"load5"`
	Load15        float64 `json:"load15"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	MemoryUsedMB  float64 `json:"memory_used_mb"`
	MemoryUsedPct float64 `json:"memory_used_percent"`
}

package models

import "github.com/jroosing/hydralb/internal/config"

// APIConfigResponse is a redacted version of APIConfig (no api_key exposed).
type APIConfigResponse struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// ServerConfigResponse wraps ServerConfig with workers as string.
type ServerConfigResponse struct {
	Host           string           `json:"host"`
	Port           int              `json:"port"`
	Workers        string           `json:"workers"`
	MaxConcurrency int              `json:"max_concurrency"`
	ReadBuffer     int              `json:"read_buffer"`
	DoH            config.DoHConfig `json:"doh"`
}

// ConfigResponse is the API response for GET /config.
type ConfigResponse struct {
	Server    ServerConfigResponse   `json:"server"`
	Dispatch  config.DispatchConfig  `json:"dispatch"`
	Pools     []config.PoolConfig    `json:"pools"`
	Backends  []config.BackendConfig `json:"backends"`
	Rules     int                    `json:"rules"`
	Logging   config.LoggingConfig   `json:"logging"`
	RateLimit config.RateLimitConfig `json:"rate_limit"`
	API       APIConfigResponse      `json:"api"`
	Dnstap    config.DnstapConfig    `json:"dnstap"`
}

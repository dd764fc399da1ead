package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/jroosing/hydralb/internal/rules"
)

// WorkersMode specifies how worker count is determined.
type WorkersMode int

const (
	// WorkersAuto automatically determines worker count based on available CPUs.
	WorkersAuto WorkersMode = iota
	// WorkersFixed uses a specific worker count.
	WorkersFixed
)

// WorkerSetting represents the workers configuration.
type WorkerSetting struct {
	Mode  WorkersMode
	Value int
}

// String returns the string representation of the worker setting.
func (w WorkerSetting) String() string {
	if w.Mode == WorkersAuto {
		return "auto"
	}
	return strconv.Itoa(w.Value)
}

// parseWorkers converts the workers string to WorkerSetting.
func parseWorkers(raw string) WorkerSetting {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" || raw == "auto" {
		return WorkerSetting{Mode: WorkersAuto}
	}
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return WorkerSetting{Mode: WorkersFixed, Value: n}
	}
	return WorkerSetting{Mode: WorkersAuto}
}

// ServerConfig contains the client-facing listener settings.
type ServerConfig struct {
	Host           string        `yaml:"host"            json:"host"`
	Port           int           `yaml:"port"            json:"port"`
	Workers        WorkerSetting `yaml:"-"               json:"-"`
	WorkersRaw     string        `yaml:"workers"         json:"workers"`         // "auto" or a number of UDP sockets
	MaxConcurrency int           `yaml:"max_concurrency" json:"max_concurrency"` // in-flight dispatches per listener
	ReadBuffer     int           `yaml:"read_buffer"     json:"read_buffer"`     // SO_RCVBUF in bytes, 0 keeps the OS default
	DoH            DoHConfig     `yaml:"doh"             json:"doh"`
}

// DoHConfig contains the DNS over HTTPS frontend settings. TLS is expected
// to be terminated in front of the balancer.
type DoHConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Host    string        `yaml:"host"    json:"host"`
	Port    int           `yaml:"port"    json:"port"`
	Path    string        `yaml:"path"    json:"path"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"` // how long a request waits for its answer
}

// DispatchConfig contains the query dispatch settings.
type DispatchConfig struct {
	// UDPTimeout is how long a forwarded query waits for its answer before
	// its slot expires. It is rounded up to whole seconds.
	UDPTimeout         time.Duration `yaml:"udp_timeout"           json:"udp_timeout"`
	ServFailOnNoPolicy bool          `yaml:"servfail_on_no_policy" json:"servfail_on_no_policy"`
	ECSPrefixV4        int           `yaml:"ecs_prefix_v4"         json:"ecs_prefix_v4"`
	ECSPrefixV6        int           `yaml:"ecs_prefix_v6"         json:"ecs_prefix_v6"`
	ECSOverride        bool          `yaml:"ecs_override"          json:"ecs_override"`
	DefaultPolicy      string        `yaml:"default_policy"        json:"default_policy"`
	PolicyScript       string        `yaml:"policy_script"         json:"policy_script"` // Lua file, used by pools with policy "lua"
}

// PoolConfig declares a pool. Pools referenced by backends but not declared
// are created with default settings.
type PoolConfig struct {
	Name   string       `yaml:"name"    json:"name"`
	Policy string       `yaml:"policy"  json:"policy"`
	UseECS bool         `yaml:"use_ecs" json:"use_ecs"`
	Cache  *CacheConfig `yaml:"cache"   json:"cache,omitempty"`
}

// CacheConfig configures a pool's response cache. Zero fields use the cache
// defaults.
type CacheConfig struct {
	MaxEntries     int           `yaml:"max_entries"      json:"max_entries"`
	MinTTL         time.Duration `yaml:"min_ttl"          json:"min_ttl"`
	MaxTTL         time.Duration `yaml:"max_ttl"          json:"max_ttl"`
	NegativeTTL    time.Duration `yaml:"negative_ttl"     json:"negative_ttl"`
	MaxNegativeTTL time.Duration `yaml:"max_negative_ttl" json:"max_negative_ttl"`
	ServFailTTL    time.Duration `yaml:"servfail_ttl"     json:"servfail_ttl"`
	StaleTTL       time.Duration `yaml:"stale_ttl"        json:"stale_ttl"`       // serve expired answers this long when no backend is up
	StaleServeTTL  time.Duration `yaml:"stale_serve_ttl"  json:"stale_serve_ttl"` // TTL written into stale answers
	DontAge        bool          `yaml:"dont_age"         json:"dont_age"`
}

// HealthCheckConfig configures the probe sent to a backend.
type HealthCheckConfig struct {
	Name        string        `yaml:"name"         json:"name"`
	Type        string        `yaml:"type"         json:"type"`
	Interval    time.Duration `yaml:"interval"     json:"interval"`
	Timeout     time.Duration `yaml:"timeout"      json:"timeout"`
	MaxFailures int           `yaml:"max_failures" json:"max_failures"`
	Rise        int           `yaml:"rise"         json:"rise"`
}

// BackendConfig declares a backend server.
type BackendConfig struct {
	Name        string            `yaml:"name"         json:"name"`
	Address     string            `yaml:"address"      json:"address"` // ip or ip:port, port 53 by default
	Pools       []string          `yaml:"pools"        json:"pools"`   // empty means the default pool
	Weight      int               `yaml:"weight"       json:"weight"`
	Order       int               `yaml:"order"        json:"order"`
	UseECS      bool              `yaml:"use_ecs"      json:"use_ecs"`
	Sockets     int               `yaml:"sockets"      json:"sockets"`
	Slots       int               `yaml:"slots"        json:"slots"`
	Mode        string            `yaml:"mode"         json:"mode"` // auto, up or down
	QPS         float64           `yaml:"qps"          json:"qps"`
	HealthCheck HealthCheckConfig `yaml:"health_check" json:"health_check"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level            string            `yaml:"level"             json:"level"`
	Structured       bool              `yaml:"structured"        json:"structured"`
	StructuredFormat string            `yaml:"structured_format" json:"structured_format"`
	IncludePID       bool              `yaml:"include_pid"       json:"include_pid"`
	ExtraFields      map[string]string `yaml:"extra_fields"      json:"extra_fields,omitempty"`
}

// RateLimitConfig controls client rate limiting on the UDP frontend.
type RateLimitConfig struct {
	// CleanupInterval is how often idle limiters are dropped (default: 1m)
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
	// MaxIPEntries is the maximum number of tracked IPs (default: 65536)
	MaxIPEntries int `yaml:"max_ip_entries" json:"max_ip_entries"`
	// GlobalQPS is the server-wide queries per second limit (0 = disabled)
	GlobalQPS float64 `yaml:"global_qps" json:"global_qps"`
	// GlobalBurst is the global burst size
	GlobalBurst int `yaml:"global_burst" json:"global_burst"`
	// IPQPS is the per-IP QPS limit (0 = disabled)
	IPQPS float64 `yaml:"ip_qps" json:"ip_qps"`
	// IPBurst is the per-IP burst size
	IPBurst int `yaml:"ip_burst" json:"ip_burst"`
}

// APIConfig contains management API settings.
//
// Note: APIKey is intentionally treated as a secret and should not be returned by API endpoints.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Host    string `yaml:"host"    json:"host"`
	Port    int    `yaml:"port"    json:"port"`
	APIKey  string `yaml:"api_key" json:"-"`
}

// DnstapConfig enables query logging to a dnstap collector.
type DnstapConfig struct {
	Enabled       bool   `yaml:"enabled"       json:"enabled"`
	Network       string `yaml:"network"       json:"network"` // unix or tcp
	Address       string `yaml:"address"       json:"address"`
	Identity      string `yaml:"identity"      json:"identity"`
	Bidirectional bool   `yaml:"bidirectional" json:"bidirectional"`
	QueueSize     int    `yaml:"queue_size"    json:"queue_size"`
}

// DatabaseConfig points at the SQLite registry of pools and backends. When
// Path is empty the file sections are used as they are.
type DatabaseConfig struct {
	Path string `yaml:"path" json:"path"`
}

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"     json:"server"`
	Dispatch  DispatchConfig  `yaml:"dispatch"   json:"dispatch"`
	Pools     []PoolConfig    `yaml:"pools"      json:"pools"`
	Backends  []BackendConfig `yaml:"backends"   json:"backends"`
	Rules     []rules.Rule    `yaml:"rules"      json:"rules"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"    json:"logging"`
	API       APIConfig       `yaml:"api"        json:"api"`
	Dnstap    DnstapConfig    `yaml:"dnstap"     json:"dnstap"`
	Database  DatabaseConfig  `yaml:"database"   json:"database"`
}

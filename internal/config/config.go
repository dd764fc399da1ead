// Package config loads the balancer configuration from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v7"
	mdns "github.com/miekg/dns"
	"gopkg.in/yaml.v3"

	"github.com/jroosing/hydralb/internal/backend"
	"github.com/jroosing/hydralb/internal/cache"
	"github.com/jroosing/hydralb/internal/policy"
	"github.com/jroosing/hydralb/internal/rules"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "HYDRALB_"

// PolicyLua selects the scripted policy loaded from Dispatch.PolicyScript.
const PolicyLua = "lua"

// ErrInvalidConfig is returned by Validate for unusable settings.
var ErrInvalidConfig = errors.New("invalid config")

// environment holds the settings that may be overridden from the
// environment.
type environment struct {
	Listen       string `env:"LISTEN"`
	Workers      string `env:"WORKERS"`
	LogLevel     string `env:"LOG_LEVEL"`
	JSONLogs     bool   `env:"JSON_LOGS"`
	APIKey       string `env:"API_KEY"`
	APIEnabled   string `env:"API_ENABLED"`
	Database     string `env:"DATABASE"`
	DnstapAddr   string `env:"DNSTAP_ADDRESS"`
	PolicyScript string `env:"POLICY_SCRIPT"`
}

// ResolveConfigPath returns the config file named by the flag, or by
// HYDRALB_CONFIG when the flag is empty.
func ResolveConfigPath(flagValue string) string {
	if p := strings.TrimSpace(flagValue); p != "" {
		return p
	}
	return strings.TrimSpace(os.Getenv(EnvPrefix + "CONFIG"))
}

// Default returns a configuration that listens on port 53 and forwards to
// nothing. It is valid as is.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           53,
			WorkersRaw:     "auto",
			MaxConcurrency: 4096,
			DoH: DoHConfig{
				Host:    "0.0.0.0",
				Port:    8053,
				Path:    "/dns-query",
				Timeout: 2 * time.Second,
			},
		},
		Dispatch: DispatchConfig{
			UDPTimeout:    2 * time.Second,
			ECSPrefixV4:   24,
			ECSPrefixV6:   56,
			DefaultPolicy: policy.NameLeastOutstanding,
		},
		RateLimit: RateLimitConfig{
			CleanupInterval: time.Minute,
			MaxIPEntries:    65536,
		},
		Logging: LoggingConfig{
			Level:            "INFO",
			StructuredFormat: "json",
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Dnstap: DnstapConfig{
			Network: "unix",
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path loads only the defaults
// and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := Decode(f, cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode reads YAML from r into cfg. Unknown keys are an error.
func Decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

// ApplyEnv overrides settings from HYDRALB_* variables. A nil vars map reads
// the process environment.
func (c *Config) ApplyEnv(vars map[string]string) error {
	var e environment
	opts := env.Options{Prefix: EnvPrefix, Environment: vars}
	if err := env.Parse(&e, opts); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}

	if e.Listen != "" {
		host, port, err := splitHostPort(e.Listen, c.Server.Port)
		if err != nil {
			return fmt.Errorf("%sLISTEN: %w", EnvPrefix, err)
		}
		c.Server.Host, c.Server.Port = host, port
	}
	if e.Workers != "" {
		c.Server.WorkersRaw = e.Workers
	}
	if e.LogLevel != "" {
		c.Logging.Level = e.LogLevel
	}
	if e.JSONLogs {
		c.Logging.Structured = true
		c.Logging.StructuredFormat = "json"
	}
	if e.APIKey != "" {
		c.API.APIKey = e.APIKey
	}
	if e.APIEnabled != "" {
		on, err := strconv.ParseBool(e.APIEnabled)
		if err != nil {
			return fmt.Errorf("%sAPI_ENABLED: %w", EnvPrefix, err)
		}
		c.API.Enabled = on
	}
	if e.Database != "" {
		c.Database.Path = e.Database
	}
	if e.DnstapAddr != "" {
		c.Dnstap.Enabled = true
		c.Dnstap.Address = e.DnstapAddr
	}
	if e.PolicyScript != "" {
		c.Dispatch.PolicyScript = e.PolicyScript
	}
	return nil
}

func splitHostPort(s string, defPort int) (string, int, error) {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().String(), int(ap.Port()), nil
	}
	if a, err := netip.ParseAddr(s); err == nil {
		return a.String(), defPort, nil
	}
	if h, p, ok := strings.Cut(s, ":"); ok && !strings.Contains(p, ":") {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return "", 0, fmt.Errorf("bad port in %q", s)
		}
		return h, port, nil
	}
	return "", 0, fmt.Errorf("bad listen address %q", s)
}

// Validate fills in defaults and checks that the configuration can be
// turned into pools and backends.
func (c *Config) Validate() error {
	d := Default()
	c.Server.Workers = parseWorkers(c.Server.WorkersRaw)
	if c.Server.Host == "" {
		c.Server.Host = d.Server.Host
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d", ErrInvalidConfig, c.Server.Port)
	}
	if c.Server.MaxConcurrency <= 0 {
		c.Server.MaxConcurrency = d.Server.MaxConcurrency
	}
	if c.Server.DoH.Path == "" {
		c.Server.DoH.Path = d.Server.DoH.Path
	}
	if c.Server.DoH.Timeout <= 0 {
		c.Server.DoH.Timeout = d.Server.DoH.Timeout
	}

	if c.Dispatch.UDPTimeout <= 0 {
		c.Dispatch.UDPTimeout = d.Dispatch.UDPTimeout
	}
	if c.Dispatch.ECSPrefixV4 < 0 || c.Dispatch.ECSPrefixV4 > 32 {
		return fmt.Errorf("%w: dispatch.ecs_prefix_v4 %d", ErrInvalidConfig, c.Dispatch.ECSPrefixV4)
	}
	if c.Dispatch.ECSPrefixV6 < 0 || c.Dispatch.ECSPrefixV6 > 128 {
		return fmt.Errorf("%w: dispatch.ecs_prefix_v6 %d", ErrInvalidConfig, c.Dispatch.ECSPrefixV6)
	}
	if c.Dispatch.DefaultPolicy == "" {
		c.Dispatch.DefaultPolicy = d.Dispatch.DefaultPolicy
	}
	if err := c.checkPolicy("dispatch.default_policy", c.Dispatch.DefaultPolicy); err != nil {
		return err
	}

	pools := make(map[string]bool, len(c.Pools))
	for _, p := range c.Pools {
		if pools[p.Name] {
			return fmt.Errorf("%w: duplicate pool %q", ErrInvalidConfig, p.Name)
		}
		pools[p.Name] = true
		if err := c.checkPolicy("pool "+strconv.Quote(p.Name), p.Policy); err != nil {
			return err
		}
	}

	names := make(map[string]bool, len(c.Backends))
	for i := range c.Backends {
		b := &c.Backends[i]
		if _, err := b.Addr(); err != nil {
			return fmt.Errorf("%w: backend %d: %w", ErrInvalidConfig, i, err)
		}
		if b.Name == "" {
			b.Name = b.Address
		}
		if names[b.Name] {
			return fmt.Errorf("%w: duplicate backend %q", ErrInvalidConfig, b.Name)
		}
		names[b.Name] = true
		if _, err := backend.ParseMode(b.Mode); err != nil {
			return fmt.Errorf("%w: backend %q: %w", ErrInvalidConfig, b.Name, err)
		}
		if b.Slots < 0 || b.Slots > backend.MaxSlots {
			return fmt.Errorf("%w: backend %q: slots %d", ErrInvalidConfig, b.Name, b.Slots)
		}
		if _, err := parseQType(b.HealthCheck.Type); err != nil {
			return fmt.Errorf("%w: backend %q: %w", ErrInvalidConfig, b.Name, err)
		}
	}

	if _, err := rules.Compile(c.Rules, slog.New(slog.DiscardHandler)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if c.RateLimit.CleanupInterval <= 0 {
		c.RateLimit.CleanupInterval = d.RateLimit.CleanupInterval
	}
	if c.RateLimit.MaxIPEntries <= 0 {
		c.RateLimit.MaxIPEntries = d.RateLimit.MaxIPEntries
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.API.Host == "" {
		c.API.Host = d.API.Host
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		c.API.Port = d.API.Port
	}
	if c.Dnstap.Network == "" {
		c.Dnstap.Network = d.Dnstap.Network
	}
	if c.Dnstap.Enabled && c.Dnstap.Address == "" {
		return fmt.Errorf("%w: dnstap.address is required", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) checkPolicy(where, name string) error {
	if name == PolicyLua {
		if c.Dispatch.PolicyScript == "" {
			return fmt.Errorf("%w: %s: policy %q needs dispatch.policy_script", ErrInvalidConfig, where, name)
		}
		return nil
	}
	if _, err := policy.ByName(name); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, where, err)
	}
	return nil
}

// MaxAge converts the UDP timeout to whole maintenance ticks of one second.
func (d DispatchConfig) MaxAge() uint16 {
	secs := (d.UDPTimeout + time.Second - 1) / time.Second
	return uint16(min(max(secs, 1), 65535))
}

// Addr parses the backend address, defaulting the port to 53.
func (b BackendConfig) Addr() (netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(b.Address); err == nil {
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
	}
	a, err := netip.ParseAddr(b.Address)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("bad address %q", b.Address)
	}
	return netip.AddrPortFrom(a.Unmap(), 53), nil
}

// PoolNames returns the pools the backend belongs to; none means the default
// pool "".
func (b BackendConfig) PoolNames() []string {
	if len(b.Pools) == 0 {
		return []string{""}
	}
	return b.Pools
}

// Backend converts the entry into a backend.Config. Validate must have
// succeeded.
func (b BackendConfig) Backend(maxAge uint16) (backend.Config, error) {
	addr, err := b.Addr()
	if err != nil {
		return backend.Config{}, err
	}
	mode, err := backend.ParseMode(b.Mode)
	if err != nil {
		return backend.Config{}, err
	}
	qtype, err := parseQType(b.HealthCheck.Type)
	if err != nil {
		return backend.Config{}, err
	}
	return backend.Config{
		Name:        b.Name,
		Addr:        addr,
		Weight:      b.Weight,
		Order:       b.Order,
		UseECS:      b.UseECS,
		Mode:        mode,
		QPS:         b.QPS,
		Slots:       b.Slots,
		MaxAge:      maxAge,
		CheckName:   b.HealthCheck.Name,
		CheckType:   qtype,
		MaxFailures: b.HealthCheck.MaxFailures,
		Rise:        b.HealthCheck.Rise,
	}, nil
}

// Cache converts the entry into a cache.Config.
func (c CacheConfig) Cache() cache.Config {
	return cache.Config{
		MaxEntries:     c.MaxEntries,
		MinTTL:         c.MinTTL,
		MaxTTL:         c.MaxTTL,
		NegativeTTL:    c.NegativeTTL,
		MaxNegativeTTL: c.MaxNegativeTTL,
		ServFailTTL:    c.ServFailTTL,
		StaleWindow:    c.StaleTTL,
		StaleServeTTL:  c.StaleServeTTL,
		DontAge:        c.DontAge,
	}
}

func parseQType(s string) (uint16, error) {
	if s == "" {
		return 0, nil
	}
	if t, ok := mdns.StringToType[strings.ToUpper(s)]; ok {
		return t, nil
	}
	return 0, fmt.Errorf("unknown query type %q", s)
}

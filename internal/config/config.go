// Package config loads procscope's configuration from an optional YAML
// file with environment-variable overrides applied afterward, matching
// the teacher's layered-config pattern: a struct tree, a loader, an
// env-override pass, and a defaults pass, behind a lazily-initialized
// singleton for production call sites while remaining directly
// constructible for tests.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"
)

// Config is the full configuration tree for one procscope instance.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Scan     ScanConfig     `yaml:"scan"`
	Pool     PoolConfig     `yaml:"pool"`
	SigCache SigCacheConfig `yaml:"sig_cache"`
	AuditLog AuditLogConfig `yaml:"audit_log"`
	Security SecurityConfig `yaml:"security"`
	Redis    RedisConfig    `yaml:"redis"`
	LogLevel string         `yaml:"log_level"`
}

// ServerConfig controls the HTTP/WS listener.
type ServerConfig struct {
	Host               string   `yaml:"host"`
	Port               string   `yaml:"port"`
	ShutdownTimeoutSec int      `yaml:"shutdown_timeout_sec"`
	CORSAllowOrigins   []string `yaml:"cors_allow_origins"`
}

// ScanConfig bounds the orchestrator's adaptive cadence and batch shape,
// per §4.5/§5.
type ScanConfig struct {
	MinIntervalSec        int `yaml:"min_interval_sec"`
	MaxIntervalSec        int `yaml:"max_interval_sec"`
	CollectorTimeoutSec   int `yaml:"collector_timeout_sec"`
	BatchSize             int `yaml:"batch_size"`
	ProcessCap            int `yaml:"process_cap"`
	SignatureWrapperMs    int `yaml:"signature_wrapper_timeout_ms"`
	HighOutboundThreshold int `yaml:"high_outbound_threshold"`
}

// PoolConfig sizes the codesign worker pool, §4.3.
type PoolConfig struct {
	Size int `yaml:"size"`
}

// SigCacheConfig bounds the signature cache, §4.2.
type SigCacheConfig struct {
	MaxEntries int `yaml:"max_entries"`
	TTLHours   int `yaml:"ttl_hours"`
}

// AuditLogConfig locates the suspicious-event audit log, §6.
type AuditLogConfig struct {
	Path string `yaml:"path"`
}

// SecurityConfig holds the bearer token guarding the kill endpoint.
type SecurityConfig struct {
	KillToken string `yaml:"kill_token"`
}

// RedisConfig is optional; a blank Addr disables cross-instance fan-out
// and the engine falls back to in-memory-only notification.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

var (
	once   sync.Once
	cached *Config
)

// Get returns the process-wide config singleton, loading it from
// PROCSCOPE_CONFIG (or no file at all) on first call. Production call
// sites use this; tests should prefer NewConfig/LoadConfig directly so
// they never share state across test cases.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(os.Getenv("PROCSCOPE_CONFIG"))
		if err != nil {
			slog.Warn("config: falling back to defaults", "err", err)
			cfg = NewConfig()
		}
		cached = cfg
	})
	return cached
}

// NewConfig returns a Config populated with defaults only.
func NewConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// LoadConfig reads path (if non-empty and present) as YAML, then layers
// environment-variable overrides and defaults on top. A missing or empty
// path is not an error — it just means "defaults plus env".
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else {
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
				return nil, err
			}
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// applyEnvOverrides layers environment variables over whatever YAML (or
// nothing) was loaded, per §6's named environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PROCSCOPE_KILL_TOKEN"); v != "" {
		cfg.Security.KillToken = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := os.Getenv("PROCSCOPE_AUDIT_LOG_PATH"); v != "" {
		cfg.AuditLog.Path = v
	}
	if v := os.Getenv("PROCSCOPE_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.Size = n
		}
	}
	if v := os.Getenv("PROCSCOPE_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSAllowOrigins = strings.Split(v, ",")
	}
}

// applyDefaults fills in every field left unset by YAML/env, matching
// the spec's stated defaults (§6, §4.2, §4.3, §4.5, §5).
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = "3000"
	}
	if cfg.Server.ShutdownTimeoutSec == 0 {
		cfg.Server.ShutdownTimeoutSec = 10
	}
	if len(cfg.Server.CORSAllowOrigins) == 0 {
		cfg.Server.CORSAllowOrigins = []string{"*"}
	}

	if cfg.Scan.MinIntervalSec == 0 {
		cfg.Scan.MinIntervalSec = 5
	}
	if cfg.Scan.MaxIntervalSec == 0 {
		cfg.Scan.MaxIntervalSec = 15
	}
	if cfg.Scan.CollectorTimeoutSec == 0 {
		cfg.Scan.CollectorTimeoutSec = 15
	}
	if cfg.Scan.BatchSize == 0 {
		cfg.Scan.BatchSize = 10
	}
	if cfg.Scan.ProcessCap == 0 {
		cfg.Scan.ProcessCap = 200
	}
	if cfg.Scan.SignatureWrapperMs == 0 {
		cfg.Scan.SignatureWrapperMs = 2000
	}
	if cfg.Scan.HighOutboundThreshold == 0 {
		cfg.Scan.HighOutboundThreshold = 50
	}

	if cfg.Pool.Size == 0 {
		cfg.Pool.Size = 2
	}

	if cfg.SigCache.MaxEntries == 0 {
		cfg.SigCache.MaxEntries = 500
	}
	if cfg.SigCache.TTLHours == 0 {
		cfg.SigCache.TTLHours = 24
	}

	if cfg.AuditLog.Path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cfg.AuditLog.Path = home + "/.procscope/suspicious-processes.log"
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// SlogLevel parses LogLevel into a slog.Level, defaulting to Info on any
// unrecognized value.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Package config loads the gateway's YAML configuration and watches
// security-sensitive settings for hot-reload, per spec.md §6 and §9.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/ehrlich-b/shellgate/internal/logger"
)

// ServerConfig is the server.* block.
type ServerConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	GracefulShutdown bool   `yaml:"graceful_shutdown"`
	TLSCert          string `yaml:"tls_cert,omitempty"`
	TLSKey           string `yaml:"tls_key,omitempty"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AuthConfig is the security.auth.* block.
type AuthConfig struct {
	Enabled bool           `yaml:"enabled"`
	APIKeys []APIKeyConfig `yaml:"api_keys,omitempty"`
	JWT     *JWTConfig     `yaml:"jwt,omitempty"`
}

// APIKeyConfig is one bcrypt-hashed allow-list entry in config.
type APIKeyConfig struct {
	Label string `yaml:"label"`
	Hash  string `yaml:"hash"` // bcrypt hash, produced by `gatewayctl keygen`
}

// JWTConfig enables JWT mode with an ES256 public key.
type JWTConfig struct {
	PublicKey string `yaml:"public_key"` // base64 DER
}

// RateLimitConfig is the security.rate_limit.* block.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerWindow int  `yaml:"requests_per_window"`
	WindowSecs        int  `yaml:"window_secs"`
}

// SecurityConfig is the security.* block — the only subtree watched for
// hot-reload, per spec.md §6.
type SecurityConfig struct {
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// SessionConfig is the session.* block.
type SessionConfig struct {
	IdleTTLSecs      int    `yaml:"idle_ttl_secs"`
	ReaperPeriodS    int    `yaml:"reaper_period_secs"`
	MaxCommandBytes  int    `yaml:"max_command_bytes"`
	DefaultTimeoutMs int    `yaml:"default_timeout_ms"`
	DebugCapturePath string `yaml:"debug_capture_path,omitempty"`
}

// AuditConfig is the audit.* block (optional SQLite execution log).
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn,omitempty"`
}

// LoggingConfig is the logging.* block.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

// Config is the full gateway configuration, per spec.md §6.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Security SecurityConfig `yaml:"security"`
	Session  SessionConfig  `yaml:"session"`
	Audit    AuditConfig    `yaml:"audit"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// Defaults returns a Config with spec.md §6's documented defaults.
func Defaults() Config {
	return Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 3000, GracefulShutdown: true},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{Enabled: true, RequestsPerWindow: 100, WindowSecs: 60},
		},
		Session: SessionConfig{
			IdleTTLSecs:      3600,
			ReaperPeriodS:    30,
			MaxCommandBytes:  65536,
			DefaultTimeoutMs: 30000,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// IdleTTL returns the configured idle TTL as a time.Duration.
func (c Config) IdleTTL() time.Duration {
	return time.Duration(c.Session.IdleTTLSecs) * time.Second
}

// ReaperPeriod returns the configured reaper sweep period.
func (c Config) ReaperPeriod() time.Duration {
	return time.Duration(c.Session.ReaperPeriodS) * time.Second
}

// DefaultTimeout returns the configured default command timeout.
func (c Config) DefaultTimeout() time.Duration {
	return time.Duration(c.Session.DefaultTimeoutMs) * time.Millisecond
}

// Load reads and parses a YAML config file, filling in defaults for
// anything left unset. A missing file yields Defaults(), not an error.
func Load(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Session.IdleTTLSecs == 0 {
		cfg.Session.IdleTTLSecs = Defaults().Session.IdleTTLSecs
	}
	if cfg.Session.ReaperPeriodS == 0 {
		cfg.Session.ReaperPeriodS = Defaults().Session.ReaperPeriodS
	}
	return cfg, nil
}

// Watcher holds the live config plus an fsnotify watch that reloads
// only the security.* subtree on change, per spec.md §6 ("auth and
// rate-limit settings may be hot-reloaded; everything else requires a
// restart").
type Watcher struct {
	mu   sync.RWMutex
	path string
	cfg  Config
	w    *fsnotify.Watcher
}

// WatchSecurity loads the config at path and starts watching it for
// changes, refreshing Security on every write event.
func WatchSecurity(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	cw := &Watcher{path: path, cfg: cfg, w: fw}
	go cw.loop()
	return cw, nil
}

func (cw *Watcher) loop() {
	for {
		select {
		case ev, ok := <-cw.w.Events:
			if !ok {
				return
			}
			if ev.Name != cw.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cw.reload()
		case err, ok := <-cw.w.Errors:
			if !ok {
				return
			}
			logger.Warn("config watcher error", "err", err)
		}
	}
}

func (cw *Watcher) reload() {
	fresh, err := Load(cw.path)
	if err != nil {
		logger.Warn("config reload failed, keeping previous security settings", "err", err)
		return
	}
	cw.mu.Lock()
	cw.cfg.Security = fresh.Security
	cw.mu.Unlock()
	logger.Info("security config reloaded", "api_keys", len(fresh.Security.Auth.APIKeys))
}

// Security returns the current security config.
func (cw *Watcher) Security() SecurityConfig {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.cfg.Security
}

// Close stops the underlying fsnotify watcher.
func (cw *Watcher) Close() error {
	return cw.w.Close()
}

// Package config provides configuration management for searchlog.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/thebtf/searchlog/internal/history"
)

const (
	// DefaultWorkerPort is the HTTP port of the worker.
	DefaultWorkerPort = 37790

	// DefaultWorkerHost binds the worker to loopback.
	DefaultWorkerHost = "127.0.0.1"

	// DefaultDBDriver is the embedded database.
	DefaultDBDriver = "sqlite"

	dataDirName  = ".searchlog"
	settingsName = "settings.json"
	dbFileName   = "searchlog.db"

	// EnvDataDir overrides the data directory.
	EnvDataDir = "SEARCHLOG_DATA_DIR"
)

// Config holds searchlog settings. Keys match the environment variables
// that override them.
type Config struct {
	DBDriver        string `json:"SEARCHLOG_DB_DRIVER" yaml:"SEARCHLOG_DB_DRIVER"`
	DBPath          string `json:"SEARCHLOG_DB_PATH" yaml:"SEARCHLOG_DB_PATH"`
	DBDSN           string `json:"SEARCHLOG_DB_DSN" yaml:"SEARCHLOG_DB_DSN"`
	RedisAddr       string `json:"SEARCHLOG_REDIS_ADDR" yaml:"SEARCHLOG_REDIS_ADDR"`
	RedisPassword   string `json:"SEARCHLOG_REDIS_PASSWORD" yaml:"SEARCHLOG_REDIS_PASSWORD"`
	WorkerHost      string `json:"SEARCHLOG_WORKER_HOST" yaml:"SEARCHLOG_WORKER_HOST"`
	LogLevel        string `json:"SEARCHLOG_LOG_LEVEL" yaml:"SEARCHLOG_LOG_LEVEL"`
	RedisDB         int    `json:"SEARCHLOG_REDIS_DB" yaml:"SEARCHLOG_REDIS_DB"`
	CacheTTLSeconds int    `json:"SEARCHLOG_CACHE_TTL_SECONDS" yaml:"SEARCHLOG_CACHE_TTL_SECONDS"`
	WorkerPort      int    `json:"SEARCHLOG_WORKER_PORT" yaml:"SEARCHLOG_WORKER_PORT"`
	MaxConns        int    `json:"SEARCHLOG_MAX_CONNS" yaml:"SEARCHLOG_MAX_CONNS"`
	Capacity        int    `json:"SEARCHLOG_HISTORY_CAPACITY" yaml:"SEARCHLOG_HISTORY_CAPACITY"`
	DedupWindowSecs int    `json:"SEARCHLOG_DEDUP_WINDOW_SECONDS" yaml:"SEARCHLOG_DEDUP_WINDOW_SECONDS"`
	DebounceMillis  int    `json:"SEARCHLOG_DEBOUNCE_MS" yaml:"SEARCHLOG_DEBOUNCE_MS"`
	TimeoutMillis   int    `json:"SEARCHLOG_BACKEND_TIMEOUT_MS" yaml:"SEARCHLOG_BACKEND_TIMEOUT_MS"`
	SuggestionLimit int    `json:"SEARCHLOG_SUGGESTION_LIMIT" yaml:"SEARCHLOG_SUGGESTION_LIMIT"`
	MinPrefixLength int    `json:"SEARCHLOG_MIN_PREFIX_LENGTH" yaml:"SEARCHLOG_MIN_PREFIX_LENGTH"`
	RecentLimit     int    `json:"SEARCHLOG_RECENT_LIMIT" yaml:"SEARCHLOG_RECENT_LIMIT"`
	PopularLimit    int    `json:"SEARCHLOG_POPULAR_LIMIT" yaml:"SEARCHLOG_POPULAR_LIMIT"`
}

var (
	global     *Config
	globalOnce sync.Once
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		DBDriver:        DefaultDBDriver,
		WorkerHost:      DefaultWorkerHost,
		WorkerPort:      DefaultWorkerPort,
		LogLevel:        "info",
		CacheTTLSeconds: 30,
		MaxConns:        4,
		Capacity:        history.DefaultCapacity,
		DedupWindowSecs: int(history.DefaultDedupWindow / time.Second),
		DebounceMillis:  1000,
		TimeoutMillis:   int(history.DefaultBackendTimeout / time.Millisecond),
		SuggestionLimit: history.DefaultSuggestionLimit,
		MinPrefixLength: history.DefaultMinPrefixLength,
		RecentLimit:     history.DefaultRecentLimit,
		PopularLimit:    history.DefaultPopularLimit,
	}
}

// DataDir returns the data directory, ~/.searchlog unless SEARCHLOG_DATA_DIR is set.
func DataDir() string {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, dataDirName)
}

// DBPath returns the default SQLite database path.
func DBPath() string {
	return filepath.Join(DataDir(), dbFileName)
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), settingsName)
}

// EnsureDataDir creates the data directory if needed.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings writes default settings if no settings file exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureAll creates the data directory and default settings.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Load reads settings.json from the data directory and applies environment
// overrides. A missing or unreadable settings file yields defaults.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			log.Warn().Err(err).Str("path", SettingsPath()).Msg("Invalid settings file, using defaults")
			cfg = Default()
		}
	}

	cfg.applyEnv()
	cfg.fillPaths()
	return cfg, nil
}

// LoadFile reads an explicit settings file. The format follows the extension:
// .yaml and .yml are YAML, anything else is JSON. Unlike Load, a bad file is
// an error.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.fillPaths()
	return cfg, nil
}

// Get returns the process-wide configuration, loading it on first use.
func Get() *Config {
	globalOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			cfg = Default()
		}
		global = cfg
	})
	return global
}

// GetWorkerPort returns the worker port, honouring SEARCHLOG_WORKER_PORT.
func GetWorkerPort() int {
	if port, ok := envInt("SEARCHLOG_WORKER_PORT"); ok && port > 0 {
		return port
	}
	return Get().WorkerPort
}

// Validate reports settings the worker cannot start with.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("unsupported SEARCHLOG_DB_DRIVER %q", c.DBDriver)
	}
	if c.DBDriver == "postgres" && c.DBDSN == "" {
		return fmt.Errorf("SEARCHLOG_DB_DSN is required for postgres")
	}
	if c.WorkerPort <= 0 || c.WorkerPort > 65535 {
		return fmt.Errorf("invalid SEARCHLOG_WORKER_PORT %d", c.WorkerPort)
	}
	return nil
}

// Addr returns host:port for the HTTP listener.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.WorkerHost, c.WorkerPort)
}

// CacheTTL returns the popular-query cache lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// HistoryOptions maps settings onto history.Options. Non-positive values
// fall back to the history defaults.
func (c *Config) HistoryOptions() history.Options {
	return history.Options{
		Capacity:        c.Capacity,
		DedupWindow:     time.Duration(c.DedupWindowSecs) * time.Second,
		DebounceDelay:   time.Duration(c.DebounceMillis) * time.Millisecond,
		BackendTimeout:  time.Duration(c.TimeoutMillis) * time.Millisecond,
		SuggestionLimit: c.SuggestionLimit,
		MinPrefixLength: c.MinPrefixLength,
		RecentLimit:     c.RecentLimit,
		PopularLimit:    c.PopularLimit,
	}
}

func (c *Config) fillPaths() {
	if c.DBPath == "" {
		c.DBPath = DBPath()
	}
}

// applyEnv overrides fields from SEARCHLOG_* variables.
func (c *Config) applyEnv() {
	strs := map[string]*string{
		"SEARCHLOG_DB_DRIVER":      &c.DBDriver,
		"SEARCHLOG_DB_PATH":        &c.DBPath,
		"SEARCHLOG_DB_DSN":         &c.DBDSN,
		"SEARCHLOG_REDIS_ADDR":     &c.RedisAddr,
		"SEARCHLOG_REDIS_PASSWORD": &c.RedisPassword,
		"SEARCHLOG_WORKER_HOST":    &c.WorkerHost,
		"SEARCHLOG_LOG_LEVEL":      &c.LogLevel,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SEARCHLOG_REDIS_DB":             &c.RedisDB,
		"SEARCHLOG_CACHE_TTL_SECONDS":    &c.CacheTTLSeconds,
		"SEARCHLOG_WORKER_PORT":          &c.WorkerPort,
		"SEARCHLOG_MAX_CONNS":            &c.MaxConns,
		"SEARCHLOG_HISTORY_CAPACITY":     &c.Capacity,
		"SEARCHLOG_DEDUP_WINDOW_SECONDS": &c.DedupWindowSecs,
		"SEARCHLOG_DEBOUNCE_MS":          &c.DebounceMillis,
		"SEARCHLOG_BACKEND_TIMEOUT_MS":   &c.TimeoutMillis,
		"SEARCHLOG_SUGGESTION_LIMIT":     &c.SuggestionLimit,
		"SEARCHLOG_MIN_PREFIX_LENGTH":    &c.MinPrefixLength,
		"SEARCHLOG_RECENT_LIMIT":         &c.RecentLimit,
		"SEARCHLOG_POPULAR_LIMIT":        &c.PopularLimit,
	}
	for key, dst := range ints {
		if v, ok := envInt(key); ok {
			*dst = v
		}
	}
}

// envInt parses an integer variable. Unset or malformed values report false.
func envInt(key string) (int, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("Ignoring non-integer environment override")
		return 0, false
	}
	return v, true
}

// Package config loads the development server's startup configuration from
// a YAML file with environment-variable overrides layered on top.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the top-level startup configuration for the devserver. All
// fields are resolved once at startup; there is no hot-reload (spec
// Non-goal).
type Config struct {
	Watcher    WatcherConfig    `yaml:"watcher"`
	Precompile PrecompileConfig `yaml:"precompile"`
	Bus        BusConfig        `yaml:"bus"`
	IoWorkers  IoWorkersConfig  `yaml:"io_workers"`
	Cache      CacheConfig      `yaml:"cache"`
	HTTP       HTTPConfig       `yaml:"http"`
	Reload     ReloadConfig     `yaml:"reload"`
	Admin      AdminConfig      `yaml:"admin"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
}

// WatcherConfig controls the filesystem watcher.
type WatcherConfig struct {
	WatchedRoot    string        `yaml:"watched_root"`
	DebounceWindow time.Duration `yaml:"debounce_window"`
}

// ToolConfig describes one external precompile tool.
type ToolConfig struct {
	Extension string   `yaml:"extension"`
	Binary    string   `yaml:"binary"`
	Args      []string `yaml:"args"`
}

// PrecompileConfig lists the external tools invoked before an invalidation
// for a matching source file is published.
type PrecompileConfig struct {
	Tools []ToolConfig `yaml:"tools"`
}

// BusConfig controls the invalidation bus.
type BusConfig struct {
	LinkCapacity int `yaml:"link_capacity"`
}

// IoWorkersConfig controls the I/O worker pool.
type IoWorkersConfig struct {
	Count int `yaml:"count"`
}

// CacheConfig controls the file cache.
type CacheConfig struct {
	RequestQueueCapacity int      `yaml:"request_queue_capacity"`
	WarmPaths            []string `yaml:"warm_paths"`
}

// HTTPConfig controls the static file HTTP responder.
type HTTPConfig struct {
	ListenAddr      string `yaml:"listen_addr"`
	DocumentRoot    string `yaml:"document_root"`
	DefaultDocument string `yaml:"default_document"`
}

// ReloadConfig controls the live-reload websocket broadcaster.
type ReloadConfig struct {
	ListenAddr      string   `yaml:"listen_addr"`
	Subprotocol     string   `yaml:"subprotocol"`
	Message         string   `yaml:"message"`
	TriggerPatterns []string `yaml:"trigger_patterns"`
}

// AdminConfig controls the metrics/health admin surface.
type AdminConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// SupervisorConfig controls process-wide orchestration.
type SupervisorConfig struct {
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the built-in defaults, applied before the YAML file and
// environment overrides are layered on top.
func Default() *Config {
	return &Config{
		Watcher: WatcherConfig{
			WatchedRoot:    "./client",
			DebounceWindow: 300 * time.Millisecond,
		},
		Precompile: PrecompileConfig{
			Tools: []ToolConfig{
				{Extension: ".coffee", Binary: "coffee", Args: []string{"-c"}},
			},
		},
		Bus: BusConfig{
			LinkCapacity: 16,
		},
		IoWorkers: IoWorkersConfig{
			Count: 4,
		},
		Cache: CacheConfig{
			RequestQueueCapacity: 64,
		},
		HTTP: HTTPConfig{
			ListenAddr:      "127.0.0.1:3000",
			DocumentRoot:    "./client",
			DefaultDocument: "index.html",
		},
		Reload: ReloadConfig{
			ListenAddr:      "127.0.0.1:3002",
			Subprotocol:     "reloader",
			Message:         "Reload",
			TriggerPatterns: []string{"main.js"},
		},
		Admin: AdminConfig{
			ListenAddr: "127.0.0.1:9090",
		},
		Supervisor: SupervisorConfig{
			ShutdownTimeout: 5 * time.Second,
		},
	}
}

// Load reads the YAML file at path (if it exists; a missing file is not an
// error — the built-in defaults are used) and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

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

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides layers DEVSERVER_* environment variables on top of the
// file-loaded (or default) configuration.
func (c *Config) applyEnvOverrides() {
	c.Watcher.WatchedRoot = getEnv("DEVSERVER_WATCHED_ROOT", c.Watcher.WatchedRoot)
	c.Watcher.DebounceWindow = getEnvDuration("DEVSERVER_DEBOUNCE_WINDOW", c.Watcher.DebounceWindow)

	c.Bus.LinkCapacity = getEnvInt("DEVSERVER_BUS_LINK_CAPACITY", c.Bus.LinkCapacity)

	c.IoWorkers.Count = getEnvInt("DEVSERVER_IO_WORKERS", c.IoWorkers.Count)

	c.Cache.RequestQueueCapacity = getEnvInt("DEVSERVER_CACHE_QUEUE_CAPACITY", c.Cache.RequestQueueCapacity)

	c.HTTP.ListenAddr = getEnv("DEVSERVER_HTTP_ADDR", c.HTTP.ListenAddr)
	c.HTTP.DocumentRoot = getEnv("DEVSERVER_DOCUMENT_ROOT", c.HTTP.DocumentRoot)
	c.HTTP.DefaultDocument = getEnv("DEVSERVER_DEFAULT_DOCUMENT", c.HTTP.DefaultDocument)

	c.Reload.ListenAddr = getEnv("DEVSERVER_RELOAD_ADDR", c.Reload.ListenAddr)
	c.Reload.Subprotocol = getEnv("DEVSERVER_RELOAD_SUBPROTOCOL", c.Reload.Subprotocol)
	c.Reload.Message = getEnv("DEVSERVER_RELOAD_MESSAGE", c.Reload.Message)
	if patterns := os.Getenv("DEVSERVER_RELOAD_TRIGGER_PATTERNS"); patterns != "" {
		c.Reload.TriggerPatterns = splitCSV(patterns)
	}

	c.Admin.ListenAddr = getEnv("DEVSERVER_ADMIN_ADDR", c.Admin.ListenAddr)

	c.Supervisor.ShutdownTimeout = getEnvDuration("DEVSERVER_SHUTDOWN_TIMEOUT", c.Supervisor.ShutdownTimeout)
}

// Validate rejects configurations that would leave a core invariant
// unsatisfiable (e.g. a zero-sized worker pool can never serve a fetch).
func (c *Config) Validate() error {
	if c.IoWorkers.Count <= 0 {
		return errConfig("io_workers.count must be positive")
	}
	if c.Bus.LinkCapacity <= 0 {
		return errConfig("bus.link_capacity must be positive")
	}
	if c.Watcher.WatchedRoot == "" {
		return errConfig("watcher.watched_root must be set")
	}
	if c.HTTP.DocumentRoot == "" {
		return errConfig("http.document_root must be set")
	}
	return nil
}

type configError string

func (e configError) Error() string { return string(e) }

func errConfig(msg string) error { return configError(msg) }

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

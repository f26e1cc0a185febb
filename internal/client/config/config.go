package config

import (
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/tasksync/internal/filex"
)

// Config holds runtime settings for the task client.
//
// Intervals are time.Duration values. Empty RemoteDSN and HealthEndpoint mean
// the client runs purely offline; an empty S3Bucket disables backups.
type Config struct {
	DatabasePath string
	LogLevel     string

	RemoteDSN      string
	RemoteTimeout  time.Duration
	HealthEndpoint string
	HealthService  string
	JWTSecret      string

	OnlineCheckInterval  time.Duration
	SyncInterval         time.Duration
	CachePersistInterval time.Duration
	CacheStaleTime       time.Duration
	KVTimeout            time.Duration
	BackoffBase          time.Duration
	BackoffMax           time.Duration

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3Prefix    string
	S3AccessKey string
	S3SecretKey string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DatabasePath = filepath.Join(filex.DefaultDataDir("tasksync"), "tasks.db")
	c.LogLevel = "info"
	c.RemoteTimeout = 15 * time.Second
	c.OnlineCheckInterval = 3 * time.Second
	c.SyncInterval = time.Minute
	c.CachePersistInterval = 30 * time.Second
	c.CacheStaleTime = 5 * time.Minute
	c.KVTimeout = 5 * time.Second
	c.BackoffBase = 30 * time.Second
	c.BackoffMax = 30 * time.Minute
	c.S3Region = "us-east-1"
	c.S3Prefix = "backups"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}

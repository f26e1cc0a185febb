package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/tasksync/internal/flagx"
	"github.com/dmitrijs2005/tasksync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Durations use
// timex.Duration so they may be written as "3s" or as integer nanoseconds.
type JsonConfig struct {
	DatabasePath string `json:"database_path"`
	LogLevel     string `json:"log_level"`

	RemoteDSN      string         `json:"remote_dsn"`
	RemoteTimeout  timex.Duration `json:"remote_timeout"`
	HealthEndpoint string         `json:"health_endpoint"`
	HealthService  string         `json:"health_service"`
	JWTSecret      string         `json:"jwt_secret"`

	OnlineCheckInterval  timex.Duration `json:"online_check_interval"`
	SyncInterval         timex.Duration `json:"sync_interval"`
	CachePersistInterval timex.Duration `json:"cache_persist_interval"`
	CacheStaleTime       timex.Duration `json:"cache_stale_time"`
	KVTimeout            timex.Duration `json:"kv_timeout"`
	BackoffBase          timex.Duration `json:"backoff_base"`
	BackoffMax           timex.Duration `json:"backoff_max"`

	S3Bucket    string `json:"s3_bucket"`
	S3Region    string `json:"s3_region"`
	S3Endpoint  string `json:"s3_endpoint"`
	S3Prefix    string `json:"s3_prefix"`
	S3AccessKey string `json:"s3_access_key"`
	S3SecretKey string `json:"s3_secret_key"`
}

// parseJson overlays Config with the non-empty values of the JSON file named
// by -c/-config. Without the flag nothing happens. Read and decode errors
// panic.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	setString(&cfg.DatabasePath, jc.DatabasePath)
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.RemoteDSN, jc.RemoteDSN)
	setDuration(&cfg.RemoteTimeout, jc.RemoteTimeout)
	setString(&cfg.HealthEndpoint, jc.HealthEndpoint)
	setString(&cfg.HealthService, jc.HealthService)
	setString(&cfg.JWTSecret, jc.JWTSecret)
	setDuration(&cfg.OnlineCheckInterval, jc.OnlineCheckInterval)
	setDuration(&cfg.SyncInterval, jc.SyncInterval)
	setDuration(&cfg.CachePersistInterval, jc.CachePersistInterval)
	setDuration(&cfg.CacheStaleTime, jc.CacheStaleTime)
	setDuration(&cfg.KVTimeout, jc.KVTimeout)
	setDuration(&cfg.BackoffBase, jc.BackoffBase)
	setDuration(&cfg.BackoffMax, jc.BackoffMax)
	setString(&cfg.S3Bucket, jc.S3Bucket)
	setString(&cfg.S3Region, jc.S3Region)
	setString(&cfg.S3Endpoint, jc.S3Endpoint)
	setString(&cfg.S3Prefix, jc.S3Prefix)
	setString(&cfg.S3AccessKey, jc.S3AccessKey)
	setString(&cfg.S3SecretKey, jc.S3SecretKey)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration > 0 {
		*dst = v.Duration
	}
}

package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/tasksync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   local database path
//	-r string   remote Postgres DSN
//	-a string   host:port of the gRPC health endpoint
//	-i int      online check interval in seconds
//	-s int      background sync interval in seconds
//	-l string   log level (debug, info, warn, error)
//
// os.Args is filtered down to these flags first so other flag consumers do
// not interfere.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-r", "-a", "-i", "-s", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "local database path")
	fs.StringVar(&cfg.RemoteDSN, "r", cfg.RemoteDSN, "remote database DSN")
	fs.StringVar(&cfg.HealthEndpoint, "a", cfg.HealthEndpoint, "address and port of the health endpoint")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	syncInterval := fs.Int("s", int(cfg.SyncInterval.Seconds()), "sync interval (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
	cfg.SyncInterval = time.Duration(*syncInterval) * time.Second
}

// Package config loads host-supplied configuration and translates it
// into daemon.DaemonOption values: the bind port, the per-connection
// memory limit, the default timeout, the protocol strictness level and
// the work mode. Other daemon options are not covered here and keep
// their defaults. The daemon itself never reads a flag or
// an environment variable -- only this host convenience layer does.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/sabrq/httpd/daemon"
	"github.com/sabrq/httpd/internal/httpparse"
)

// Config holds the subset of daemon options a typical host exposes on
// its own command line, plus app-level fields (Port, Env) an App uses
// directly.
type Config struct {
	Port            int
	ReadTimeout     int
	WriteTimeout    int
	Env             string
	WorkMode        string
	ConnMemoryLimit int
	StrictLevel     int
}

// New loads configuration from flags, then overlays environment
// variables that are present; the environment always wins over the
// flag default.
func New() *Config {
	cfg := &Config{}

	flag.IntVar(&cfg.Port, "port", 8080, "HTTP server port")
	flag.IntVar(&cfg.ReadTimeout, "read-timeout", 10, "HTTP read timeout (seconds)")
	flag.IntVar(&cfg.WriteTimeout, "write-timeout", 30, "HTTP write timeout (seconds)")
	flag.StringVar(&cfg.Env, "env", "development", "Environment (development/production)")
	flag.StringVar(&cfg.WorkMode, "work-mode", "internal-single-thread",
		"daemon work mode: external-periodic, external-event-loop, external-single-fd, internal-single-thread, thread-per-connection, thread-pool")
	flag.IntVar(&cfg.ConnMemoryLimit, "conn-memory-limit", 32*1024, "per-connection arena size, bytes")
	flag.IntVar(&cfg.StrictLevel, "protocol-strict-level", 0, "HTTP strictness, -3..+3")

	flag.Parse()

	if port := os.Getenv("PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			cfg.Port = n
		}
	}
	if mode := os.Getenv("HTTPD_WORK_MODE"); mode != "" {
		cfg.WorkMode = mode
	}

	return cfg
}

// workModes maps the config's flag-friendly spelling onto
// daemon.WorkMode, one entry per mode the daemon exposes via its own
// DaemonOption table (daemon/options.go).
var workModes = map[string]daemon.WorkMode{
	"external-periodic":      daemon.ModeExternalPeriodic,
	"external-event-loop":    daemon.ModeExternalEventLoop,
	"external-single-fd":     daemon.ModeExternalSingleFD,
	"internal-single-thread": daemon.ModeInternalSingleThread,
	"thread-per-connection":  daemon.ModeThreadPerConnection,
	"thread-pool":            daemon.ModeThreadPool,
}

// DaemonOptions translates the loaded Config into the DaemonOption
// values daemon.New expects, so a host app never has to hand-build the
// mapping itself.
func (c *Config) DaemonOptions() []daemon.DaemonOption {
	opts := []daemon.DaemonOption{
		daemon.WithBindPort(c.Port),
		daemon.WithConnMemoryLimit(c.ConnMemoryLimit),
		daemon.WithDefaultTimeout(time.Duration(c.ReadTimeout) * time.Second),
		daemon.WithProtocolStrictLevel(httpparse.Level(c.StrictLevel)),
	}
	if mode, ok := workModes[c.WorkMode]; ok {
		opts = append(opts, daemon.WithWorkMode(mode))
	}
	return opts
}

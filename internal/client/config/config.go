package config

import (
	"os"
	"time"

	"github.com/dmitrijs2005/loancollect/internal/flagx"
)

// Config holds runtime settings for the collector client.
type Config struct {
	ServerEndpointAddr  string
	RealtimeURL         string
	DBPath              string
	BranchID            string
	CollectorID         string
	AccessToken         string
	MetricsAddr         string
	OnlineCheckInterval time.Duration
	BusyInterval        time.Duration
	IdleInterval        time.Duration
	BatchSize           int
	PageSize            int
	SafetyMargin        time.Duration
	PushTimeout         time.Duration
	PullTimeout         time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.RealtimeURL = "ws://127.0.0.1:8080/realtime"
	c.DBPath = "loancollect.db"
	c.OnlineCheckInterval = 30 * time.Second
	c.BusyInterval = 15 * time.Second
	c.IdleInterval = 5 * time.Minute
	c.BatchSize = 5
	c.PageSize = 500
	c.SafetyMargin = 5 * time.Minute
	c.PushTimeout = 15 * time.Second
	c.PullTimeout = 120 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// the config file (if any) and command-line flags. Later sources take
// precedence. It panics on an unreadable file or a malformed flag.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()

	if path := flagx.ConfigFile(os.Args[1:]); path != "" {
		if err := parseFile(cfg, path); err != nil {
			panic(err)
		}
	}
	parseFlags(cfg, os.Args[1:])
	return cfg
}

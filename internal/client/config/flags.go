package config

import (
	"flag"
	"time"

	"github.com/dmitrijs2005/loancollect/internal/flagx"
)

// parseFlags populates Config fields from command-line flags. args is
// filtered with flagx.FilterArgs so flags owned by other components do not
// interfere. It panics on malformed values.
func parseFlags(cfg *Config, args []string) {
	args = flagx.FilterArgs(args, []string{"-a", "-r", "-d", "-b", "-u", "-t", "-i", "-m"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address and port to access server")
	fs.StringVar(&cfg.RealtimeURL, "r", cfg.RealtimeURL, "realtime websocket URL")
	fs.StringVar(&cfg.DBPath, "d", cfg.DBPath, "local database path")
	fs.StringVar(&cfg.BranchID, "b", cfg.BranchID, "branch id")
	fs.StringVar(&cfg.CollectorID, "u", cfg.CollectorID, "collector user id")
	fs.StringVar(&cfg.AccessToken, "t", cfg.AccessToken, "access token")
	fs.StringVar(&cfg.MetricsAddr, "m", cfg.MetricsAddr, "metrics listen address")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
}

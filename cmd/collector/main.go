package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/dmitrijs2005/loancollect/internal/buildinfo"
	"github.com/dmitrijs2005/loancollect/internal/client/cli"
	"github.com/dmitrijs2005/loancollect/internal/client/config"
	"github.com/dmitrijs2005/loancollect/internal/client/remote"
	"github.com/dmitrijs2005/loancollect/internal/flagx"
	"github.com/dmitrijs2005/loancollect/internal/logging"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()

	// -demo runs against an in-process store instead of a server.
	fs := flag.NewFlagSet("collector", flag.ContinueOnError)
	demo := fs.Bool("demo", false, "use an in-memory remote store")
	verbose := fs.Bool("v", false, "debug logging")
	if err := fs.Parse(flagx.FilterArgs(os.Args[1:], []string{"-demo", "-v"})); err != nil {
		log.Fatalf("%v", err)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := logging.NewJSONLogger(level)

	var opts cli.Options
	if *demo {
		opts.Remote = remote.NewMemoryStore()
		cfg.RealtimeURL = ""
	}

	app, err := cli.NewApp(ctx, cfg, logger, opts)
	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	app.Run(ctx)

}

package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/dmitrijs2005/loancollect/internal/buildinfo"
	"github.com/dmitrijs2005/loancollect/internal/logging"
	"github.com/dmitrijs2005/loancollect/internal/server"
	"github.com/dmitrijs2005/loancollect/internal/server/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := server.NewApp(ctx, cfg, logging.NewJSONLogger(slog.LevelInfo))

	if err != nil {
		log.Printf("%v", err)
		return
	}

	if err := app.Run(ctx); err != nil {
		os.Exit(1)
	}

}

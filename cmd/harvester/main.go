package main

import (
	"context"
	"fmt"
	"os"

	"github.com/samvad-hq/homefeed-crawler/internal/app"
	"github.com/samvad-hq/homefeed-crawler/internal/config"
	"github.com/samvad-hq/homefeed-crawler/internal/logger"
)

func main() {
	err := app.Execute("harvester", func(ctx context.Context, cfg *config.Config, log logger.Logger) (app.Runtime, error) {
		return app.NewHarvester(ctx, cfg, log)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "harvester failed: %v\n", err)
		os.Exit(1)
	}
}

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
	err := app.Execute("streamer", func(_ context.Context, cfg *config.Config, log logger.Logger) (app.Runtime, error) {
		return app.NewServer(cfg, log)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "streamer failed: %v\n", err)
		os.Exit(1)
	}
}

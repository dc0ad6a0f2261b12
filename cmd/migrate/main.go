package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/noah-isme/printshop-api/internal/config"
	"github.com/noah-isme/printshop-api/internal/migrate"
	"github.com/noah-isme/printshop-api/internal/obs"
)

func main() {
	var (
		direction = flag.String("direction", "up", "up applies every pending migration, down rolls back -steps")
		steps     = flag.Int("steps", 1, "number of migrations to roll back with -direction=down")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "migrate").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *direction {
	case "up":
		err = migrate.Up(ctx, cfg.DatabaseURL)
	case "down":
		err = migrate.Down(ctx, cfg.DatabaseURL, *steps)
	default:
		logger.Error().Str("direction", *direction).Msg("unknown direction")
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal().Err(err).Str("direction", *direction).Msg("migration failed")
	}
	logger.Info().Str("direction", *direction).Msg("migrations complete")
}

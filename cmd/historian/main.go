// cmd/historian/main.go moves room actions queued in Redis into Postgres.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/macqm/teexid/internal/cache"
	"github.com/macqm/teexid/internal/config"
	"github.com/macqm/teexid/internal/database"
	"github.com/macqm/teexid/internal/historian"
	"github.com/spf13/cobra"
)

const releaseVersion = "0.4.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := &config.Config{}
	cobra.CheckErr(config.NewHistorianCommand(cfg, releaseVersion, run).ExecuteContext(ctx))
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := config.NewLogger(cfg)

	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb, err := cache.Connect(ctx, addr, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer rdb.Close()

	connStr := cfg.DatabaseURL
	if connStr == "" {
		connStr = database.URLFromEnv()
	}
	pool, err := database.Connect(ctx, connStr)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		return err
	}

	svc := historian.New(
		cache.NewQueue(rdb, cfg.Queue()),
		database.NewStore(pool),
		cfg.HistorianOptions(),
		logger,
	)
	return svc.Run(ctx)
}

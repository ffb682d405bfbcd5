// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/macqm/teexid/internal/cache"
	"github.com/macqm/teexid/internal/config"
	"github.com/macqm/teexid/internal/dispatch"
	"github.com/macqm/teexid/internal/game"
	"github.com/macqm/teexid/internal/handlers"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const releaseVersion = "0.4.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := &config.Config{}
	cobra.CheckErr(config.NewServerCommand(cfg, releaseVersion, run).ExecuteContext(ctx))
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := config.NewLogger(cfg)
	logger.Infof("START: teexid v%s", releaseVersion)

	keys, err := cfg.Keys()
	if err != nil {
		return err
	}

	var recorder game.ActionRecorder
	if cfg.RedisAddr != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		recorder = cache.NewPublisher(rdb, cfg.Queue())
		logger.Infof("Recording room actions to redis list %s at %s", cfg.Queue(), cfg.RedisAddr)
	}

	conns := dispatch.NewConnections(logger)
	dir := game.NewDirectory(cfg.GameOptions(), conns.Deliver, recorder, logger)
	defer dir.Close()

	var verifier dispatch.TokenVerifier
	if cfg.RequireAuth {
		verifier = keys
	}

	srv := &handlers.Server{
		Logger:     logger,
		Dispatcher: dispatch.New(conns, dir, verifier, logger),
		Directory:  dir,
		Keys:       keys,
		Origins:    cfg.Origins,
		PublicURL:  cfg.PublicURL,
		Version:    releaseVersion,
	}
	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Routes(),
		IdleTimeout:       10 * time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dir.RunReaper(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Infof("SERVE: Listening on %s://%s/", cfg.Scheme(), httpSrv.Addr)
		var err error
		if cfg.Scheme() == "https" {
			err = httpSrv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("teexid shut down.")
	return err
}

package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hed1ad/dace/internal/metrics"
	"github.com/hed1ad/dace/internal/server"
	"github.com/hed1ad/dace/pkg/cache"
	"github.com/hed1ad/dace/pkg/engine"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	opts := []server.Option{
		server.WithLogger(a.logger),
		server.WithGenerator(generatorFor(0)),
	}
	if a.cfg.RedisAddr != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rc, err := cache.NewRedis(pingCtx, a.cfg.RedisAddr, a.cfg.CacheTTL())
		cancel()
		if err != nil {
			return fmt.Errorf("connect to redis at %s: %w", a.cfg.RedisAddr, err)
		}
		defer rc.Close()
		a.logger.Info("connected to redis", zap.String("addr", a.cfg.RedisAddr))
		opts = append(opts, server.WithCache(rc))
	}

	eng := a.newEngine(engine.WithObserver(metrics.EngineObserver{}))
	srv := server.New(a.cfg, eng, st, opts...)
	if err := srv.Restore(ctx); err != nil {
		return err
	}
	return srv.Run(ctx)
}

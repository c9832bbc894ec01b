// Command pgsessiond runs a pool of Postgres sessions behind a status and
// metrics HTTP server. It exists to wire every piece of the session stack
// together in one process: cfgx for configuration, pgxpool for physical
// connections, pool.Pool for session lifecycle, metrics for observability,
// and poolhttp for the operator-facing surface.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erlorenz/pgsession/cfgx"
	"github.com/erlorenz/pgsession/metrics"
	"github.com/erlorenz/pgsession/pool"
	"github.com/erlorenz/pgsession/poolhttp"
)

type config struct {
	DSN string `env:"DATABASE_URL" desc:"PostgreSQL connection string" required:"true"`

	Pool struct {
		MaxConns             int `default:"10" desc:"maximum physical connections held by the pool"`
		EvictIntervalSeconds int `flag:"pool-evict-interval" default:"30" desc:"seconds between idle session eviction sweeps"`
	}

	HTTP struct {
		Addr string `flag:"http-addr" short:"a" default:":9090" desc:"status and metrics server listen address"`
	}

	Log struct {
		Level string `default:"info" desc:"log level: debug, info, warn, error"`
	}
}

func main() {
	var cfg config
	if err := cfgx.Parse(&cfg, cfgx.Options{
		ProgramName:   "pgsessiond",
		EnvPrefix:     "PGSESSIOND",
		ErrorHandling: flag.ExitOnError,
		UseBuildInfo:  true,
	}); err != nil {
		log.Fatalf("pgsessiond: config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("failed to parse DSN", "err", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.Pool.MaxConns)

	conns, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Error("failed to open connection pool", "err", err)
		os.Exit(1)
	}
	defer conns.Close()

	collector := metrics.New()

	sessionPool := pool.New(conns,
		pool.WithLogger(logger),
		pool.WithMetrics(collector),
	)
	defer sessionPool.Close()

	status := poolhttp.NewServer(sessionPool, collector.Registry)
	if err := status.Start(cfg.HTTP.Addr); err != nil {
		logger.Error("failed to start status server", "err", err)
		os.Exit(1)
	}
	logger.Info("status server listening", "addr", cfg.HTTP.Addr)

	evictTicker := time.NewTicker(time.Duration(cfg.Pool.EvictIntervalSeconds) * time.Second)
	defer evictTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-evictTicker.C:
				sessionPool.EvictIdle()
			}
		}
	}()

	logger.Info("pgsessiond started", "max_conns", cfg.Pool.MaxConns)
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := status.Stop(shutdownCtx); err != nil {
		logger.Error("status server shutdown error", "err", err)
	}
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ternarybob/dispatch/internal/common"
	"github.com/ternarybob/dispatch/internal/coordinator"
	"github.com/ternarybob/dispatch/internal/handlers"
	"github.com/ternarybob/dispatch/internal/queue"
	"github.com/ternarybob/dispatch/internal/server"
	"github.com/ternarybob/dispatch/internal/services/scheduler"
	"github.com/ternarybob/dispatch/internal/storage/sqlite"
	"github.com/ternarybob/dispatch/internal/supervisor"
)

// configPaths collects repeated -config flags in order
type configPaths []string

func (c *configPaths) String() string {
	return strings.Join(*c, ",")
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

func main() {
	var (
		configs     configPaths
		port        = flag.Int("port", 0, "HTTP server port (overrides config)")
		host        = flag.String("host", "", "HTTP server host (overrides config)")
		showVersion = flag.Bool("version", false, "Print version and exit")
	)
	flag.Var(&configs, "config", "Path to a TOML config file (repeatable; later files override earlier)")
	flag.Parse()

	if *showVersion {
		fmt.Println(common.GetFullVersion())
		return
	}

	common.LoadVersionFromFile()

	config, err := common.LoadFromFiles(configs...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	common.ApplyFlagOverrides(config, *port, *host)

	logger := common.InitLogger(config, "dispatch")
	common.PrintBanner(common.GetVersion())

	logger.Info().
		Str("version", common.GetVersion()).
		Str("environment", config.Environment).
		Msg("Dispatch coordinator starting")

	// Primary database: jobs and worker registry
	store, err := sqlite.NewStorageManager(logger, &config.Storage.SQLite)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open primary database")
	}

	// Queue transport: backlog, pub/sub, rate limiter
	transport, err := queue.NewRedisTransport(logger, &config.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect queue transport")
	}

	sup := supervisor.New(store.Workers, logger, &config.Workers)
	service := coordinator.NewService(store.Jobs, store.Workers, transport, sup, logger, config.Workers.MaxPerType)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := service.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start completion subscriber")
	}

	// Respawn workers that were registered before the last shutdown
	if err := sup.Init(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to restore workers")
	}

	var sched *scheduler.Scheduler
	if config.Scheduler.Enabled {
		sched, err = scheduler.New(&config.Scheduler, service, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to build scheduler")
		}
		sched.Start()
	}

	jobHandler := handlers.NewJobHandler(service, logger)
	workerHandler := handlers.NewWorkerHandler(service, logger)
	systemHandler := handlers.NewSystemHandler(service, logger, map[string]handlers.HealthCheck{
		"database": func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return store.DB().Ping(ctx)
		},
		"redis": func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return transport.Client().Ping(ctx).Err()
		},
	})

	srv := server.New(config, logger, jobHandler, workerHandler, systemHandler)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("HTTP server failed")
		}
	}

	// Shutdown order: stop accepting requests, stop workers and
	// schedules, then close the transports and stores
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server shutdown error")
	}
	if err := sup.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Supervisor shutdown error")
	}
	if sched != nil {
		sched.Stop()
	}

	cancel()

	if err := transport.Close(); err != nil {
		logger.Warn().Err(err).Msg("Transport close error")
	}
	if err := store.Close(); err != nil {
		logger.Warn().Err(err).Msg("Database close error")
	}

	logger.Info().Msg("Dispatch coordinator stopped")
}

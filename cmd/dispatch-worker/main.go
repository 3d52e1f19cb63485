package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/dispatch/internal/adapters/email"
	"github.com/ternarybob/dispatch/internal/adapters/messaging"
	"github.com/ternarybob/dispatch/internal/adapters/script"
	"github.com/ternarybob/dispatch/internal/adapters/webhook"
	"github.com/ternarybob/dispatch/internal/common"
	"github.com/ternarybob/dispatch/internal/interfaces"
	"github.com/ternarybob/dispatch/internal/models"
	"github.com/ternarybob/dispatch/internal/queue"
	"github.com/ternarybob/dispatch/internal/storage/sqlite"
	"github.com/ternarybob/dispatch/internal/worker"
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
		workerID    = flag.Int64("id", 0, "Worker id assigned by the supervisor")
		workerType  = flag.String("type", "", "Job type this worker serves")
		showVersion = flag.Bool("version", false, "Print version and exit")
	)
	flag.Var(&configs, "config", "Path to a TOML config file (repeatable; later files override earlier)")
	flag.Parse()

	if *showVersion {
		fmt.Println(common.GetFullVersion())
		return
	}

	if *workerID <= 0 || *workerType == "" {
		fmt.Fprintln(os.Stderr, "Both -id and -type are required")
		os.Exit(2)
	}

	jobType := models.JobType(*workerType)
	if !jobType.IsValid() {
		fmt.Fprintf(os.Stderr, "Unknown worker type: %s\n", *workerType)
		os.Exit(2)
	}

	config, err := common.LoadFromFiles(configs...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := common.InitLogger(config, fmt.Sprintf("dispatch-worker-%d", *workerID))

	logger.Info().
		Int64("worker_id", *workerID).
		Str("type", jobType.String()).
		Msg("Worker starting")

	transport, err := queue.NewRedisTransport(logger, &config.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect queue transport")
	}
	defer transport.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter, cleanup, err := buildAdapter(ctx, config, jobType, *workerID, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("type", jobType.String()).Msg("Failed to build adapter")
	}
	if cleanup != nil {
		defer cleanup()
	}

	limiter := queue.NewRateLimiter(transport.Client(), logger, &config.RateLimit)
	client := worker.NewClient(config.Workers.CoordinatorURL, logger)
	runtime := worker.NewRuntime(*workerID, jobType, client, transport, adapter, limiter, config.Workers.PollInterval, logger)

	// The supervisor stops workers with SIGTERM; a clean exit tells it
	// not to respawn
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	if err := runtime.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("Worker loop failed")
		os.Exit(1)
	}

	logger.Info().Int64("worker_id", *workerID).Msg("Worker stopped")
}

// buildAdapter selects the execution adapter for the worker's type.
// The returned cleanup closes any databases the adapter opened.
func buildAdapter(ctx context.Context, config *common.Config, jobType models.JobType, workerID int64, logger arbor.ILogger) (interfaces.Adapter, func(), error) {
	switch jobType {
	case models.JobTypeEmail:
		db, err := sqlite.NewMailDB(logger, config.Storage.MailDBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open mail database: %w", err)
		}
		adapter, err := email.NewAdapter(ctx, sqlite.NewMailStorage(db, logger), logger, "")
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return adapter, func() { db.Close() }, nil

	case models.JobTypeWhatsApp:
		return messaging.NewAdapter(&config.Messaging, logger), nil, nil

	case models.JobTypeSMS, models.JobTypeNotification:
		adapter, err := webhook.NewAdapter(jobType, workerID, config.Workers.WebhookURLs[jobType.String()], logger)
		if err != nil {
			return nil, nil, err
		}
		return adapter, nil, nil

	case models.JobTypeCronjob:
		db, err := sqlite.NewTaskDB(logger, config.Storage.TaskDBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open task database: %w", err)
		}
		runner := script.NewRunner(&config.Script, sqlite.NewTaskStorage(db, logger), logger)
		return runner, func() { db.Close() }, nil
	}

	return nil, nil, fmt.Errorf("no adapter for job type %s", jobType)
}

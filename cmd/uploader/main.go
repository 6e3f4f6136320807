package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"sync-engine/auth"
	"sync-engine/contract"
	"sync-engine/domain"
	"sync-engine/infrastructure/storage"
	"sync-engine/infrastructure/transport"
	"sync-engine/internal"
	"sync-engine/observability"
	"sync-engine/runtime"
	"sync-engine/runtime/workers"
	"sync-engine/services"
)

// Exit codes for the operating system or service manager.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	root := &cobra.Command{
		Use:   "uploader [files...]",
		Short: "Enqueue local files for resumable upload to the remote store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := run(cmd.Context(), args)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Uploader terminated with error: %v\n", err)
			}
			os.Exit(code)
			return nil
		},
	}
	_ = root.Execute()
}

// run initializes all components and manages the engine lifecycle so
// deferred cleanup executes before the process exits.
func run(parent context.Context, files []string) (int, error) {
	_ = godotenv.Load()

	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	logger := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := badger.DefaultOptions(config.BadgerFilepath).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer db.Close()

	telemetry := observability.NewTelemetryManager(logger)
	if logger.Enabled(ctx, slog.LevelDebug) {
		internal.StartDebugServer(db, 8081, "/inspect", telemetry.StatsMap)
		logger.Debug("Queue inspector available", "url", "http://localhost:8081/inspect")
	}

	repo := storage.NewEntryRepository(db, logger)

	var tokens contract.TokenProvider
	if auth.IsJWT(config.AuthToken) {
		tokens, err = auth.NewExpiringTokenProvider(config.AuthToken, logger)
		if err != nil {
			return exitConfig, fmt.Errorf("invalid auth token: %w", err)
		}
	} else {
		tokens = transport.NewStaticTokenProvider(config.AuthToken)
	}
	httpTransport := transport.NewHTTPTransport(config.UploadBaseURL, tokens, logger)

	scheduler := runtime.NewScheduler(config.SchedulerConfig(), httpTransport, repo, logger)
	scheduler.Subscribe(newConsoleSink())
	scheduler.Subscribe(telemetry)

	prober := transport.NewReachabilityProber(config.HealthEndpoint(), config.NetworkProbeTimeout())
	monitor := workers.NewNetworkMonitorWorker(prober, scheduler, logger, config.NetworkProbeInterval())

	janitor := cron.New()
	_, err = janitor.AddFunc(config.CleanupCron(), func() {
		if err := scheduler.ClearCompletedOlderThan(ctx, config.CompletedRetentionWindow()); err != nil {
			logger.Warn("Retention sweep failed", "error", err)
		}
	})
	if err != nil {
		return exitConfig, fmt.Errorf("invalid cleanup schedule: %w", err)
	}
	janitor.Start()
	defer janitor.Stop()

	supervisor := workers.NewSupervisor(logger)
	supervisorDone := make(chan struct{})
	go func() {
		supervisor.Add(scheduler, monitor, telemetry).Run(ctx)
		close(supervisorDone)
	}()

	service := services.NewTransferService(scheduler, logger)
	if err := enqueueFiles(ctx, service, files); err != nil {
		stop()
		<-supervisorDone
		return exitConfig, err
	}

	code := waitForQueue(ctx, scheduler, logger)
	stop()
	<-supervisorDone
	return code, nil
}

func enqueueFiles(ctx context.Context, service *services.TransferService, files []string) error {
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("cannot open %s: %w", path, err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return fmt.Errorf("cannot stat %s: %w", path, err)
		}

		id, err := service.Enqueue(ctx, services.EnqueueRequest{
			FileRef:     f,
			FileName:    filepath.Base(path),
			Destination: "/" + filepath.Base(path),
			TotalBytes:  info.Size(),
			Priority:    domain.NORMAL,
		})
		if err != nil {
			f.Close()
			return err
		}
		_ = id
	}
	return nil
}

// waitForQueue polls until every entry is terminal or the context is
// cancelled by a signal.
func waitForQueue(ctx context.Context, scheduler *runtime.Scheduler, logger *slog.Logger) int {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Interrupted, queue state persisted for next start")
			return exitOK
		case <-ticker.C:
			entries, stats, err := scheduler.Snapshot(ctx)
			if err != nil {
				return exitOK
			}
			done := true
			for _, e := range entries {
				if !e.State.Terminal() {
					done = false
					break
				}
			}
			if done {
				if stats.Failed > 0 {
					return exitRuntime
				}
				return exitOK
			}
		}
	}
}

// HearthSync keeps a household's local calendar and Google Calendar in step:
// bidirectional sync with durable conflict records, a per-user scheduler, and
// a small HTTP API for the family-organizer frontend.
//
// Usage:
//
//	hearthsync serve [--config <path>]       # scheduler + HTTP API
//	hearthsync sync-once --user <id> [...]   # single sync run then exit
//	hearthsync status                        # show config & database state
//	hearthsync version                       # print version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hearthlabs/hearthsync/internal/api"
	"github.com/hearthlabs/hearthsync/internal/config"
	"github.com/hearthlabs/hearthsync/internal/googlecal"
	"github.com/hearthlabs/hearthsync/internal/store"
	syncp "github.com/hearthlabs/hearthsync/internal/sync"
	"github.com/hearthlabs/hearthsync/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the appropriate subcommand.
func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	switch cmd := os.Args[1]; cmd {
	case "serve":
		return runServe(os.Args[2:])
	case "sync-once":
		return runSyncOnce(os.Args[2:])
	case "status":
		return runStatus()
	case "version":
		fmt.Println("hearthsync", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q, run 'hearthsync' for usage", cmd)
	}
}

func printUsage() error {
	fmt.Fprintln(os.Stderr, "HearthSync keeps the family calendar and Google Calendar in step")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  hearthsync serve [--config ...]              Run scheduler + HTTP API")
	fmt.Fprintln(os.Stderr, "  hearthsync sync-once --user <id> [--config ..]  Single sync run then exit")
	fmt.Fprintln(os.Stderr, "  hearthsync status                            Show config & database state")
	fmt.Fprintln(os.Stderr, "  hearthsync version                           Print version")
	fmt.Fprintln(os.Stderr, "")

	os.Exit(1)
	return nil // unreachable
}

// --- Subcommands -------------------------------------------------------------

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, err := buildApp(*cfgPath, *verbose)
	if err != nil {
		return err
	}
	defer app.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	handler := api.NewHandler(app.store, app.scheduler, app.orchestrator, version)
	srv := &http.Server{
		Addr:              app.cfg.ListenAddr,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		app.logger.Info("scheduler starting", "tick", app.cfg.SchedulerTick)
		if err := app.scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("scheduler: %w", err)
		}
	}()
	go func() {
		app.logger.Info("HTTP API listening", "addr", app.cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("http shutdown", "error", err)
	}
	app.logger.Info("shutdown complete")
	return nil
}

func runSyncOnce(args []string) error {
	fs := flag.NewFlagSet("sync-once", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	userID := fs.String("user", "", "user to sync")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return fmt.Errorf("--user is required")
	}

	app, err := buildApp(*cfgPath, *verbose)
	if err != nil {
		return err
	}
	defer app.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	res, err := app.orchestrator.PerformFullSync(ctx, *userID)
	app.logger.Info("sync complete",
		"user_id", *userID,
		"success", res.Success,
		"processed", res.EventsProcessed,
		"created", res.EventsCreated,
		"updated", res.EventsUpdated,
		"deleted", res.EventsDeleted,
		"conflicts", res.ConflictsDetected,
		"errors", len(res.Errors),
	)
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("sync finished with %d error(s)", len(res.Errors))
	}
	return nil
}

// runStatus prints the current configuration and database state.
func runStatus() error {
	cfgPath, _ := config.DefaultPath()
	dbPath, _ := store.DefaultDBPath()

	fmt.Println("HearthSync Status")
	fmt.Println("─────────────────")

	if _, err := os.Stat(cfgPath); err == nil {
		if cfg, loadErr := config.Load(cfgPath); loadErr == nil {
			fmt.Printf("  Config:  %s ✓\n", cfgPath)
			fmt.Printf("  Listen:  %s\n", cfg.ListenAddr)
			fmt.Printf("  Tick:    %s\n", cfg.SchedulerTick)
		} else {
			fmt.Printf("  Config:  %s (invalid: %v)\n", cfgPath, loadErr)
		}
	} else {
		fmt.Printf("  Config:  not found (%s)\n", cfgPath)
	}

	if info, err := os.Stat(dbPath); err == nil {
		fmt.Printf("  DB:      %s (%s)\n", dbPath, humanSize(info.Size()))
	} else {
		fmt.Printf("  DB:      not found\n")
	}

	return nil
}

// --- Application wiring ------------------------------------------------------

type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	store        *store.Store
	orchestrator *syncp.Orchestrator
	scheduler    *syncp.Scheduler

	shutdownTel telemetry.ShutdownFunc
}

// buildApp loads config and wires the store, remote adapter, orchestrator,
// and scheduler.
func buildApp(cfgPath string, verbose bool) (*app, error) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}
	logger.Info("config loaded", "listen_addr", cfg.ListenAddr, "scheduler_tick", cfg.SchedulerTick)

	var shutdownTel telemetry.ShutdownFunc
	if cfg.Telemetry != nil {
		telCfg := telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		}
		shutdownTel, err = telemetry.Setup(context.Background(), telCfg)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
			shutdownTel = nil
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
		}
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolving DB path: %w", err)
		}
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening DB at %q: %w", dbPath, err)
	}
	logger.Info("DB opened", "path", dbPath)

	adapter, err := googlecal.NewAdapter(context.Background(), cfg.Google.CredentialsFile, cfg.Google.RequestTimeout, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("initialising Google Calendar client: %w", err)
	}

	orch := syncp.NewOrchestrator(st, adapter, st, st, st, logger)
	sched := syncp.NewScheduler(orch, st, cfg.SchedulerTick, logger)

	return &app{
		cfg:          cfg,
		logger:       logger,
		store:        st,
		orchestrator: orch,
		scheduler:    sched,
		shutdownTel:  shutdownTel,
	}, nil
}

// close flushes telemetry and closes the database.
func (a *app) close() {
	if a.shutdownTel != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownTel(flushCtx); err != nil {
			a.logger.Error("telemetry shutdown error", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("closing DB", "error", err)
	}
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

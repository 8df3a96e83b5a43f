// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server and the scheduler.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/config"
	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/database"
	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/handler"
	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/logging"
	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/messenger"
	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/metrics"
	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/registry"
	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/remote"
	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/repository"
	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/scheduler"
	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/service"
)

// tagTTL is how long a sync tag is recognised as ours. Platforms echo a
// change within seconds; the margin covers their webhook retries.
const tagTTL = time.Hour

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "enrollment-bridge",
		Short:         "Keeps the CRM and the messenger bot in step for course enrollment",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create the event log schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return migrate(cmd.Context(), configPath)
		},
	})
	return root
}

func setup(path string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func migrate(ctx context.Context, path string) error {
	cfg, log, err := setup(path)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	if cfg.DatabaseURL == "" {
		return errors.New("database_url is required for migrate")
	}

	pool, err := database.NewPool(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		return err
	}
	log.Info("schema up to date")
	return nil
}

func serve(ctx context.Context, path string) error {
	cfg, log, err := setup(path)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 1. Event log: PostgreSQL when configured, memory otherwise ────────
	retention := repository.Retention{Keep: cfg.DedupRetention, Lease: cfg.DedupLease}
	var events repository.EventLog
	if cfg.DatabaseURL != "" {
		pool, err := database.NewPool(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			return err
		}
		events = repository.NewPostgresEventLog(pool, retention)
		log.Info("event log backed by postgres")
	} else {
		events = repository.NewMemoryEventLog(retention)
		log.Warn("no database_url set, event log is in memory and lost on restart")
	}

	// ── 2. Wire up layers ────────────────────────────────────────────────
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	crm := registry.New(remote.New(cfg.Registry.URL, cfg.Registry.Token, cfg.RemoteTimeout))
	bot := messenger.New(remote.New(cfg.Messenger.URL, cfg.Messenger.Token, cfg.RemoteTimeout))
	admin := messenger.NewAdminNotifier(bot, cfg.AdminMessengerID, log.Named("admin"))

	tags := service.NewTagBook(tagTTL)
	allocator := service.NewCapacityAllocator(crm, admin, m, log.Named("allocator"))
	mediator := service.NewSyncMediator(crm, bot, tags, m, log.Named("sync"))
	dispatcher := service.NewEventDispatcher(events, m, log.Named("dispatcher"))
	service.NewHandlers(crm, allocator, mediator, admin, log.Named("handlers")).RegisterAll(dispatcher)
	if err := dispatcher.Validate(); err != nil {
		return fmt.Errorf("event routing incomplete: %w", err)
	}

	sched := scheduler.New(scheduler.Deps{
		Registry:  crm,
		Messenger: bot,
		Notifier:  admin,
		Events:    events,
		Tags:      mediator,
		Seats:     allocator,
		Metrics:   m,
		Log:       log.Named("scheduler"),
	}, cfg.Schedules, cfg.Location())
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	// ── 3. Build the router ───────────────────────────────────────────────
	router := handler.NewRouter(handler.RouterDeps{
		Dispatcher: dispatcher,
		Slots:      allocator,
		Gatherer:   promReg,
		Started:    time.Now(),
		Log:        log.Named("http"),
	})

	// ── 4. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	log.Info("server stopped")
	return nil
}

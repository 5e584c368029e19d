package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidemark-oss/tidemark/internal/config"
	"github.com/tidemark-oss/tidemark/internal/embedding"
	"github.com/tidemark-oss/tidemark/internal/event"
	"github.com/tidemark-oss/tidemark/internal/keystore"
	"github.com/tidemark-oss/tidemark/internal/memory"
	"github.com/tidemark-oss/tidemark/internal/plan"
	"github.com/tidemark-oss/tidemark/internal/server"
	"github.com/tidemark-oss/tidemark/internal/session"
	"github.com/tidemark-oss/tidemark/internal/store"
	"github.com/tidemark-oss/tidemark/internal/sweeper"
	"github.com/tidemark-oss/tidemark/internal/telemetry"
)

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tidemark API server",
	Long:  `Start the HTTP API server, including the daily retention sweeper.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "host to bind to (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configDir())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}

	logLevel := cfg.Logging.Level
	if verbose {
		logLevel = "debug"
	}
	logger := telemetry.NewLoggerAt(logLevel)
	if cfg.Logging.File != "" {
		if err := logger.WithFile(cfg.Logging.File); err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer logger.Close()
	}

	metrics := telemetry.NewMetrics()
	if cfg.Metrics.Path != "" {
		exporter, err := telemetry.NewJSONFileExporter(cfg.Metrics.Path)
		if err != nil {
			return fmt.Errorf("failed to open metrics file: %w", err)
		}
		defer exporter.Close()
		metrics.SetExporter(exporter)
	}

	eventBus := event.NewBus(logger)
	eventBus.Register(event.NewLogHook("event-log", nil, logger, "debug"))
	if cfg.Events.WebhookURL != "" {
		// Push every lifecycle event to the configured consumer, off the
		// request path.
		eventBus.Register(event.NewWebhookHook("event-webhook", cfg.Events.WebhookURL, nil, false))
	}
	// Flush a metrics snapshot whenever a sweep finishes.
	eventBus.Register(event.NewFuncHook("metrics-flush",
		[]event.EventType{event.SweepCompleted}, false,
		func(ev event.Event) error {
			metrics.Flush(string(ev.Type), nil)
			return nil
		}))

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	plans := plan.NewService(st, logger, metrics, eventBus)
	keys := keystore.New(st, plans, logger, metrics, eventBus)
	gateway := embedding.NewGateway(cfg.Embedding.URL,
		time.Duration(cfg.Embedding.TimeoutSeconds)*time.Second, metrics)
	sessions := session.NewTracker(st, logger)
	memories := memory.NewService(st, plans, gateway, sessions, logger, metrics,
		eventBus, cfg.Search.ScanLimit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	sw := sweeper.New(st, logger, metrics, eventBus, cfg.Sweep.Hour, cfg.Sweep.BatchSize)
	go sw.Run(ctx)

	srv := server.New(cfg, st, keys, plans, memories, sessions, eventBus, logger, metrics)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	err = srv.Start(ctx, addr)
	eventBus.Drain()
	metrics.Flush("shutdown", nil)
	return err
}

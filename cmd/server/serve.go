package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"relay/internal/api"
	"relay/internal/config"
	"relay/internal/logging"
	"relay/internal/metrics"
	"relay/internal/repository"
	"relay/internal/services/collaboration"
	"relay/internal/telemetry"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	var (
		configPath string
		mode       string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			modes, err := parseModes(mode)
			if err != nil {
				return err
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, modes)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().StringVarP(&mode, "mode", "m", "both", "modes to serve: chat, document or both")

	return cmd
}

func parseModes(mode string) ([]collaboration.Mode, error) {
	switch mode {
	case "chat":
		return []collaboration.Mode{collaboration.ModeChat}, nil
	case "document":
		return []collaboration.Mode{collaboration.ModeDocument}, nil
	case "both", "":
		return []collaboration.Mode{collaboration.ModeChat, collaboration.ModeDocument}, nil
	default:
		return nil, fmt.Errorf("unknown mode %q (want chat, document or both)", mode)
	}
}

// run wires the components and blocks until ctx is cancelled.
// Shutdown order: stop accepting HTTP, stop the presence monitor, close
// every session, flush traces.
func run(ctx context.Context, cfg *config.Config, modes []collaboration.Mode) error {
	logger, err := logging.New(logging.Config{
		Level:      cfg.LogLevel,
		JSON:       cfg.LogJSON,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()
	slog.SetDefault(logger.Logger)

	if warning := cfg.PresenceWarning(); warning != "" {
		logger.Warn(warning,
			"idle_threshold", cfg.PresenceIdleThreshold,
			"sweep_interval", cfg.PresenceSweepInterval,
		)
	}

	shutdownTracing := telemetry.ShutdownFunc(telemetry.Noop)
	if cfg.TracingEnabled {
		shutdownTracing, err = telemetry.InitJaeger("relay", version, cfg.JaegerEndpoint)
		if err != nil {
			logger.Warn("failed to initialize Jaeger, continuing without tracing", "error", err)
			shutdownTracing = telemetry.Noop
		} else {
			logger.Info("jaeger tracing initialized", "endpoint", cfg.JaegerEndpoint)
		}
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("failed to shut down tracing", "error", err)
		}
	}()

	var m *metrics.Metrics
	var exporter api.MetricsExporter
	if cfg.MetricsEnabled {
		m = metrics.New()
		exporter = m
	}

	transport := collaboration.TransportConfig{
		SendBufferSize: cfg.SendBufferSize,
		MaxMessageSize: cfg.MaxMessageSize,
		PongWait:       cfg.PongWait,
		PingPeriod:     cfg.PingPeriod(),
		WriteWait:      cfg.WriteWait,
		AllowedOrigin:  cfg.AllowedOrigin,
	}

	var (
		controllers []*collaboration.Controller
		sockets     []*collaboration.WebSocketHandler
		chat        api.SocketHandler
		document    api.SocketHandler
		monitor     *collaboration.PresenceMonitor
	)
	for _, mode := range modes {
		modeLogger := logger.With("component", "collaboration")
		controller := collaboration.NewController(mode,
			repository.NewSessionRepository(),
			repository.NewGroupRepository(),
			collaboration.NewRouter(mode, modeLogger, m),
			collaboration.WithLogger(modeLogger),
			collaboration.WithMetrics(m),
			collaboration.WithInitialDocument(cfg.InitialDocument),
			collaboration.WithIdleThreshold(cfg.PresenceIdleThreshold),
		)
		socket := collaboration.NewWebSocketHandler(controller, transport, modeLogger)
		controllers = append(controllers, controller)
		sockets = append(sockets, socket)

		switch mode {
		case collaboration.ModeChat:
			chat = socket
		case collaboration.ModeDocument:
			document = socket
			// Chat mode has no idle sweep
			monitor = collaboration.NewPresenceMonitor(controller, cfg.PresenceSweepInterval, modeLogger)
		}
	}

	handler := api.NewHandler(chat, document, exporter, logger.Logger)
	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.SetupRoutes(handler, cfg.AllowedOrigin),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server listening", "addr", server.Addr, "modes", modes)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if monitor != nil {
		g.Go(func() error {
			return monitor.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server forced to shutdown", "error", err)
		}
		for _, c := range controllers {
			stats := c.Stats()
			c.Shutdown(shutdownCtx)
			logger.Info("controller closed",
				"mode", string(c.Mode()),
				"sessions", stats.Sessions,
				"groups", stats.Groups,
			)
		}
		for _, s := range sockets {
			if err := s.Wait(shutdownCtx); err != nil {
				logger.Warn("websocket connections still open after shutdown timeout", "error", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}

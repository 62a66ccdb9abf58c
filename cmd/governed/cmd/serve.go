package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/governed-io/governed/internal/adapter/inbound/httpapi"
	"github.com/governed-io/governed/internal/config"
	"github.com/governed-io/governed/internal/kernel"
)

var devMode bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the governance kernel's HTTP server",
	Long: `serve loads configuration, wires the governance kernel (registry,
decision cache, evaluation engine, change stream, audit pipeline), and
serves the evaluation/management HTTP surface until an interrupt or
terminate signal is received.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "enable development mode (permissive defaults, stdout telemetry)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	level := parseLogLevel(cfg.Server.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	k, err := kernel.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("building kernel: %w", err)
	}

	handler := httpapi.NewHandler(logger,
		httpapi.WithEngine(k.Evaluation),
		httpapi.WithRegistry(k.Registry),
		httpapi.WithOrchestrator(k.Orchestrator),
		httpapi.WithCache(k.Cache),
		httpapi.WithEvaluationService(k.Evaluation),
	)

	readTimeout, err := time.ParseDuration(cfg.Server.ReadTimeout)
	if err != nil {
		readTimeout = 5 * time.Second
	}
	writeTimeout, err := time.ParseDuration(cfg.Server.WriteTimeout)
	if err != nil {
		writeTimeout = 5 * time.Second
	}

	server := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      handler.Routes(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("governance kernel listening", "addr", cfg.Server.HTTPAddr, "dev_mode", cfg.DevMode, "policies_seeded", len(cfg.Policies))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			_ = k.Close(context.Background())
			return fmt.Errorf("serving: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", "error", err)
	}
	if err := k.Close(shutdownCtx); err != nil {
		logger.Warn("kernel shutdown error", "error", err)
	}
	logger.Info("governance kernel stopped")
	return nil
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

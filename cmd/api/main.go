// Package main is the entry point for the resortpay API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/resortpay/internal/archive"
	"github.com/onnwee/resortpay/internal/audit"
	"github.com/onnwee/resortpay/internal/config"
	"github.com/onnwee/resortpay/internal/db"
	"github.com/onnwee/resortpay/internal/gateway"
	"github.com/onnwee/resortpay/internal/idempotency"
	"github.com/onnwee/resortpay/internal/middleware"
	"github.com/onnwee/resortpay/internal/notify"
	"github.com/onnwee/resortpay/internal/payment"
	"github.com/onnwee/resortpay/internal/tracing"
	"github.com/onnwee/resortpay/internal/webhook"
)

const shutdownTimeout = 10 * time.Second

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to a YAML config file (environment variables take precedence)")
	flag.Parse()

	if *help {
		fmt.Println("Resortpay API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	summary := make([]any, 0, 2*len(cfg.LogSummary()))
	for k, v := range cfg.LogSummary() {
		summary = append(summary, k, v)
	}
	logger.Info("configuration loaded", summary...)

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	tp, err := tracing.NewProvider(tracing.Config{
		ServiceName:  serviceName,
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.TracingEndpoint,
		SamplingRate: cfg.TracingSampleRate,
		InsecureMode: cfg.TracingInsecureMode,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.MigrationsURL, cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("database migrations applied", "source", cfg.MigrationsURL)
	}

	conn, err := db.Open(ctx, cfg.DatabaseURL, db.DefaultPoolConfig())
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer conn.Close()

	var rdb redis.UniversalClient
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis url: %w", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		rdb = client
		logger.Info("using redis rate limit store")
	} else {
		logger.Warn("REDIS_URL not set, rate limits are per instance")
	}

	gw, err := gateway.New(gateway.Config{
		Provider:  cfg.GatewayProvider,
		SecretKey: cfg.GatewaySecretKey,
		BaseURL:   cfg.GatewayBaseURL,
	})
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	var archiver idempotency.Archiver
	if cfg.ArchiveEnabled() {
		s3, err := archive.NewS3Archiver(archive.Config{
			Bucket:          cfg.ArchiveBucket,
			Prefix:          cfg.ArchivePrefix,
			Endpoint:        cfg.ArchiveEndpoint,
			Region:          cfg.ArchiveRegion,
			AccessKeyID:     cfg.ArchiveAccessKeyID,
			SecretAccessKey: cfg.ArchiveSecretAccessKey,
		})
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		archiver = s3
	}

	reg := prometheus.NewRegistry()
	registerRuntimeCollectors(reg)

	a, err := buildApp(deps{
		Config: cfg,
		Stores: stores{
			payments:   payment.NewPostgresRepository(conn, logger),
			events:     webhook.NewPostgresRepository(conn, logger),
			notifyLogs: notify.NewPostgresLogRepository(conn),
			audit:      audit.NewPostgresRepository(conn),
		},
		Gateway:  gw,
		DB:       conn,
		Redis:    rdb,
		Archiver: archiver,
		Registry: reg,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	stop := make(chan struct{})
	a.start(stop)

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      a.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		close(stop)
		return fmt.Errorf("listen: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	serveErr := serve(server, ln, quit, logger)

	close(stop)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.shutdown(shutdownCtx); err != nil {
		logger.Error("notification dispatcher did not drain", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown failed", "error", err)
	}

	return serveErr
}

// serve runs server on ln until a value arrives on quit, then shuts it down
// gracefully. In-flight requests get shutdownTimeout to complete.
func serve(server *http.Server, ln net.Listener, quit <-chan os.Signal, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case sig := <-quit:
		logger.Info("shutting down server...", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	<-errCh

	logger.Info("server stopped")
	return nil
}

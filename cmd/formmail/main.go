// Package main is the entry point for the form mail relay.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/shineum/formmail/internal/config"
	"github.com/shineum/formmail/internal/contact"
	"github.com/shineum/formmail/internal/delivery"
	"github.com/shineum/formmail/internal/delivery/graph"
	"github.com/shineum/formmail/internal/delivery/ses"
	"github.com/shineum/formmail/internal/delivery/smtp"
	"github.com/shineum/formmail/internal/delivery/stdout"
	"github.com/shineum/formmail/internal/httpapi"
	"github.com/shineum/formmail/internal/metrics"
	formtls "github.com/shineum/formmail/internal/tls"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	flag.Parse()

	// Variables already set in the environment win over the file.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Error("failed to load env file", "path", *envFile, "error", err)
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging.Level)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	transmitter, err := selectTransmitter(ctx, cfg)
	if err != nil {
		slog.Error("failed to set up delivery backend", "backend", cfg.Delivery.Backend, "error", err)
		os.Exit(1)
	}

	reg, m := metrics.NewRegistry()
	svc := contact.NewService(cfg.Message, transmitter, m, slog.Default())

	server := &http.Server{
		Addr: cfg.HTTP.Listen,
		Handler: httpapi.New(svc, httpapi.Options{
			MaxUploadSize:  cfg.HTTP.MaxUploadSize,
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
			Locale:         cfg.Message.Locale,
			Metrics:        m,
			Gatherer:       reg,
			Logger:         slog.Default(),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("starting formmail",
		"listen", cfg.HTTP.Listen,
		"backend", transmitter.Name(),
		"max_upload_size", cfg.HTTP.MaxUploadSize,
		"cors_origins", len(cfg.HTTP.AllowedOrigins),
		"locale", cfg.Message.Locale,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		slog.Info("received signal, initiating shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("graceful shutdown timed out", "error", err)
		}
	}

	slog.Info("formmail stopped")
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// selectTransmitter builds the delivery backend named by DELIVERY_BACKEND.
// cfg must already be validated.
func selectTransmitter(ctx context.Context, cfg *config.Config) (delivery.Transmitter, error) {
	switch cfg.Delivery.Backend {
	case config.BackendSES:
		slog.Info("using AWS SES backend", "region", cfg.SES.Region)
		return ses.New(ctx, ses.TransmitterConfig{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
		})

	case config.BackendGraph:
		slog.Info("using Microsoft Graph backend", "sender", cfg.GraphSender())
		return graph.New(graph.TransmitterConfig{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Sender:       cfg.GraphSender(),
		}), nil

	case config.BackendStdout:
		slog.Info("using stdout backend")
		return stdout.New(), nil

	default:
		tlsConfig, err := formtls.ClientConfig(cfg.SMTP.Host, cfg.SMTP.CAFile, cfg.SMTP.InsecureSkipVerify)
		if err != nil {
			return nil, err
		}
		if cfg.SMTP.InsecureSkipVerify {
			slog.Warn("SMTP certificate verification is disabled")
		}
		tr := smtp.New(smtp.TransmitterConfig{
			Host:      cfg.SMTP.Host,
			Port:      cfg.SMTP.Port,
			Username:  cfg.SMTP.Username,
			Password:  cfg.SMTP.Password,
			TLSConfig: tlsConfig,
		})
		slog.Info("using SMTP backend", "relay", tr.String())
		return tr, nil
	}
}

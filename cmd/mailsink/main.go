// Package main runs a local implicit-TLS SMTP sink that prints every
// message it accepts. It stands in for the outbound relay during
// development.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/shineum/formmail/internal/config"
	"github.com/shineum/formmail/internal/delivery/stdout"
	"github.com/shineum/formmail/internal/email"
	"github.com/shineum/formmail/internal/smtpsink"
	formtls "github.com/shineum/formmail/internal/tls"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	caOut := flag.String("write-ca", "", "write the sink certificate as PEM to this path, for SMTP_CA_FILE")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Error("failed to load env file", "path", *envFile, "error", err)
		os.Exit(1)
	}

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging.Level)

	tlsConfig, err := formtls.LoadOrGenerateTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		slog.Error("failed to setup TLS", "error", err)
		os.Exit(1)
	}

	tlsMode := "self-signed"
	if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
		tlsMode = "file"
	}

	if *caOut != "" {
		if err := formtls.WritePEM(*caOut, tlsConfig.Certificates[0]); err != nil {
			slog.Error("failed to write certificate", "path", *caOut, "error", err)
			os.Exit(1)
		}
		slog.Info("wrote sink certificate", "path", *caOut)
	}

	if !cfg.SinkAuthEnabled() {
		slog.Warn("sink authentication disabled; the form relay will refuse to send without AUTH")
	}

	printer := stdout.New()
	server := smtpsink.New(smtpsink.ServerConfig{
		ListenAddr: cfg.Sink.Listen,
		Hostname:   "localhost",
		Mailbox: smtpsink.MailboxFunc(func(_ context.Context, _ smtpsink.Envelope, msg *email.Email) error {
			printer.Print(msg)
			return nil
		}),
		TLSConfig:    tlsConfig,
		AuthUsername: cfg.Sink.Username,
		AuthPassword: cfg.Sink.Password,
	})

	slog.Info("starting mailsink",
		"listen", cfg.Sink.Listen,
		"auth_enabled", cfg.SinkAuthEnabled(),
		"tls_mode", tlsMode,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := server.ListenAndServe(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("mailsink stopped")
}

func setupLogger(level string) {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

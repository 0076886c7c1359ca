// Package main is the entry point for the anymail-lite SMTP relay.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shineum/anymail-lite/internal/config"
	"github.com/shineum/anymail-lite/internal/provider"
	"github.com/shineum/anymail-lite/internal/provider/sendgrid"
	"github.com/shineum/anymail-lite/internal/provider/ses"
	"github.com/shineum/anymail-lite/internal/provider/stdout"
	"github.com/shineum/anymail-lite/internal/smtp"
	smtptls "github.com/shineum/anymail-lite/internal/tls"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	// Load or generate TLS certificates
	tlsConfig, err := smtptls.LoadOrGenerateTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.SMTP.Hostname)
	if err != nil {
		slog.Error("failed to setup TLS", "error", err)
		os.Exit(1)
	}

	tlsMode := "self-signed"
	if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
		tlsMode = "file"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Select email delivery backend
	prov, err := buildProvider(ctx, cfg)
	if err != nil {
		slog.Error("failed to create provider", "provider", cfg.Provider, "error", err)
		os.Exit(1)
	}

	authUser, authPass, err := cfg.SMTPAuth()
	if err != nil {
		slog.Error("failed to resolve SMTP credentials", "error", err)
		os.Exit(1)
	}

	server := smtp.New(smtp.ServerConfig{
		ListenAddr:     cfg.SMTP.Listen,
		Hostname:       cfg.SMTP.Hostname,
		Provider:       prov,
		TLSConfig:      tlsConfig,
		AuthUsername:   authUser,
		AuthPassword:   authPass,
		MaxMessageSize: cfg.SMTP.MaxMessageSize,
	})

	slog.Info("starting anymail-lite",
		"listen", cfg.SMTP.Listen,
		"provider", prov.Name(),
		"auth_enabled", authUser != "" && authPass != "",
		"tls_mode", tlsMode,
	)

	// Graceful shutdown on SIGTERM/SIGINT
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, initiating shutdown", "signal", sig)
		cancel()
	}()

	// Start the server (blocks until context is cancelled)
	if err := server.ListenAndServe(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("anymail-lite stopped")
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
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

// buildProvider creates the delivery backend named by the configuration.
// ESP options (API keys, region, sender) come from the settings resolver,
// so they can live in the anymail config section or the environment.
func buildProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	resolver := cfg.Settings()

	switch cfg.Provider {
	case "ses":
		p, err := ses.New(ctx, resolver, nil)
		if err != nil {
			return nil, err
		}
		slog.Info("using AWS SES provider", "sender", p.Sender())
		return p, nil

	case "sendgrid":
		p, err := sendgrid.New(resolver, nil)
		if err != nil {
			return nil, err
		}
		slog.Info("using SendGrid provider")
		return p, nil

	case "stdout", "":
		slog.Info("using stdout provider")
		return stdout.New(), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

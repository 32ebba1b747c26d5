// Package main is the entry point for the mailgate API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/lo"

	"github.com/shineum/mailgate/internal/compose"
	"github.com/shineum/mailgate/internal/config"
	"github.com/shineum/mailgate/internal/credential"
	"github.com/shineum/mailgate/internal/dispatch"
	"github.com/shineum/mailgate/internal/httpapi"
	"github.com/shineum/mailgate/internal/provider"
	"github.com/shineum/mailgate/internal/provider/graph"
	"github.com/shineum/mailgate/internal/provider/ses"
	smtpprovider "github.com/shineum/mailgate/internal/provider/smtp"
	"github.com/shineum/mailgate/internal/provider/stdout"
	"github.com/shineum/mailgate/internal/store"
	mailtls "github.com/shineum/mailgate/internal/tls"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("mailgate stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("mailgate stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	st, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}

	prov, err := dispatch.Select(cfg.Provider, providerFactories(ctx, cfg))
	if err != nil {
		return err
	}

	d := dispatch.New(prov,
		dispatch.WithStore(st),
		dispatch.WithMaxAttachmentSize(cfg.Limits.MaxAttachmentSize),
	)
	server := httpapi.New(httpapi.Config{
		Addr:           cfg.HTTP.Listen,
		MaxBodyBytes:   cfg.HTTP.MaxBodySize,
		RequestTimeout: cfg.HTTP.RequestTimeout,
	}, d, st)

	slog.Info("starting mailgate",
		"listen", cfg.HTTP.Listen,
		"provider", prov.Name(),
		"storage", cfg.Storage.Backend,
	)

	return server.ListenAndServe(ctx)
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

// newStore builds the template and attachment store for the configured backend.
func newStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Storage.Backend {
	case "s3":
		s3cfg := cfg.Storage.S3
		if s3cfg.Bucket == "" {
			return nil, errors.New("s3 storage selected but S3_BUCKET is empty")
		}
		slog.Info("using s3 template store", "bucket", s3cfg.Bucket)
		s, err := store.NewS3Store(ctx, store.S3Options{
			Region:           s3cfg.Region,
			Endpoint:         s3cfg.Endpoint,
			AccessKeyID:      s3cfg.AccessKeyID,
			SecretAccessKey:  s3cfg.SecretAccessKey,
			UsePathStyle:     s3cfg.UsePathStyle,
			Bucket:           s3cfg.Bucket,
			TemplatePrefix:   s3cfg.TemplatePrefix,
			AttachmentPrefix: s3cfg.AttachmentPrefix,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "file", "":
		slog.Info("using file template store",
			"templates", cfg.Storage.TemplateDir,
			"attachments", cfg.Storage.AttachmentDir,
		)
		return store.NewFileStore(cfg.Storage.TemplateDir, cfg.Storage.AttachmentDir), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// providerFactories maps provider names to constructors. Only the selected
// factory runs, so credentials for the others are never required.
func providerFactories(ctx context.Context, cfg *config.Config) map[string]dispatch.Factory {
	return map[string]dispatch.Factory{
		graph.Name: func() (provider.Provider, error) {
			if !cfg.GraphConfigured() {
				return nil, errors.New("graph provider requires GRAPH_TENANT_ID, GRAPH_CLIENT_ID and GRAPH_CLIENT_SECRET")
			}
			tokens, err := credential.NewGraphTokens(credential.GraphConfig{
				TenantID:         cfg.Graph.TenantID,
				ClientID:         cfg.Graph.ClientID,
				ClientSecret:     cfg.Graph.ClientSecret,
				RefreshTokenFile: cfg.Graph.RefreshTokenFile,
			})
			if err != nil {
				return nil, err
			}
			slog.Info("using Microsoft Graph provider", "user", lo.CoalesceOrEmpty(cfg.Graph.User, "me"))
			return graph.New(graph.GraphProviderConfig{
				Endpoint: cfg.Graph.Endpoint,
				User:     cfg.Graph.User,
			}, tokens), nil
		},

		smtpprovider.Name: func() (provider.Provider, error) {
			if !cfg.SMTPConfigured() {
				return nil, errors.New("smtp provider requires SMTP_HOST, SMTP_USERNAME and SMTP_PASSWORD")
			}
			tlsCfg, err := mailtls.ClientConfig(mailtls.ClientOptions{
				ServerName:         cfg.SMTP.Host,
				CAFile:             cfg.SMTP.CAFile,
				InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
			})
			if err != nil {
				return nil, err
			}
			dialer := credential.NewSMTPDialer(credential.SMTPConfig{
				Host:      cfg.SMTP.Host,
				Port:      cfg.SMTP.Port,
				Username:  cfg.SMTP.Username,
				Password:  cfg.SMTP.Password,
				LocalName: cfg.SMTP.LocalName,
				Timeout:   cfg.SMTP.Timeout,
				TLS:       tlsCfg,
			})
			sender := compose.Sender{
				Name:  cfg.Sender.Name,
				Email: lo.CoalesceOrEmpty(cfg.Sender.Email, cfg.SMTP.Username),
			}
			slog.Info("using SMTP provider",
				"host", cfg.SMTP.Host,
				"port", cfg.SMTP.Port,
				"sender", sender.Email,
			)
			return smtpprovider.New(sender, dialer), nil
		},

		ses.Name: func() (provider.Provider, error) {
			if !cfg.SESConfigured() {
				return nil, errors.New("ses provider requires SES_REGION and SENDER_EMAIL")
			}
			slog.Info("using AWS SES provider",
				"region", cfg.SES.Region,
				"sender", cfg.Sender.Email,
			)
			p, err := ses.New(ctx, ses.SESProviderConfig{
				Region:          cfg.SES.Region,
				AccessKeyID:     cfg.SES.AccessKeyID,
				SecretAccessKey: cfg.SES.SecretAccessKey,
				Sender:          compose.Sender{Name: cfg.Sender.Name, Email: cfg.Sender.Email},
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create SES provider: %w", err)
			}
			return p, nil
		},

		stdout.Name: func() (provider.Provider, error) {
			slog.Info("using stdout provider")
			return stdout.New(), nil
		},
	}
}

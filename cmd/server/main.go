// Команда server принимает обновления через webhook.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"tgbot-facade/internal/bot"
	"tgbot-facade/internal/log"
	"tgbot-facade/internal/metrics"
	"tgbot-facade/internal/pkg/config"
	"tgbot-facade/internal/telegram"
	"tgbot-facade/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application run failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// run инкапсулирует всю логику инициализации и запуска приложения.
func run() error {
	var configPath string
	var publicURL string

	flagSet := pflag.NewFlagSet("server", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "config.yml", "path to the YAML configuration file")
	flagSet.StringVar(&publicURL, "public-url", "", "public HTTPS base URL; when set, the webhook is registered with setWebhook")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	// 1. Загрузка и валидация конфигурации
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// 2. Инициализация логгера
	logger := log.New(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	// 3. Инициализация зависимостей
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	b, err := telegram.NewBot(cfg.Bot.Token,
		telegram.WithBaseURL(cfg.Bot.APIBaseURL),
		telegram.WithConnectTimeout(cfg.Bot.ConnectTimeout),
		telegram.WithRequestTimeout(cfg.Bot.RequestTimeout),
		telegram.WithLogger(logger),
		telegram.WithObserver(m),
	)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}
	defer b.Close()

	if publicURL != "" {
		if err := registerWebhook(context.Background(), b, cfg, publicURL); err != nil {
			return err
		}
		logger.Info("Webhook registered", slog.String("url", strings.TrimRight(publicURL, "/")+cfg.Webhook.Path))
	}

	webhookCfg := webhook.Config{
		Addr:         cfg.Address(),
		Path:         cfg.Webhook.Path,
		SecretToken:  cfg.Webhook.SecretToken,
		DedupTTL:     cfg.Webhook.DedupTTL,
		ReadTimeout:  config.DefaultReadTimeout,
		WriteTimeout: config.DefaultWriteTimeout,
		IdleTimeout:  config.DefaultIdleTimeout,
		MaxBodyBytes: config.DefaultMaxBodyBytes,
	}
	opts := []webhook.Option{
		webhook.WithLogger(logger.With(slog.String("component", "webhook"))),
		webhook.WithUpdateObserver(m),
	}
	if cfg.Metrics.Enabled {
		webhookCfg.MetricsPath = cfg.Metrics.Path
		opts = append(opts, webhook.WithMetrics(registry))
	}

	handler := bot.NewCommandHandler(b, logger.With(slog.String("component", "handler")))
	srv := webhook.New(webhookCfg, handler, opts...)

	// 4. Запуск сервера и graceful shutdown
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", slog.String("error", err.Error()))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		logger.Info("Signal received, shutting down...")
	case <-serverDone:
		return errors.New("webhook server stopped unexpectedly")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Webhook.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", slog.String("error", err.Error()))
	}

	<-serverDone
	logger.Info("Application exited gracefully")
	return nil
}

// registerWebhook сообщает Telegram адрес, на который доставлять обновления.
func registerWebhook(ctx context.Context, b *telegram.Bot, cfg *config.Config, publicURL string) error {
	params := telegram.Params{
		"url": strings.TrimRight(publicURL, "/") + cfg.Webhook.Path,
	}
	if cfg.Webhook.SecretToken != "" {
		params["secret_token"] = cfg.Webhook.SecretToken
	}
	if cfg.Polling.AllowedUpdates != nil {
		params["allowed_updates"] = cfg.Polling.AllowedUpdates
	}

	if _, err := b.Call(ctx, "setWebhook", params); err != nil {
		return fmt.Errorf("setWebhook failed: %w", err)
	}
	return nil
}

// Команда bot запускает бота в режиме long polling.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sevlyar/go-daemon"
	"github.com/spf13/pflag"

	"tgbot-facade/internal/bot"
	"tgbot-facade/internal/log"
	"tgbot-facade/internal/metrics"
	"tgbot-facade/internal/pkg/config"
	"tgbot-facade/internal/telegram"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application run failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// run инкапсулирует всю логику инициализации и запуска бота.
func run() error {
	var configPath string
	var daemonize bool

	flagSet := pflag.NewFlagSet("bot", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "config.yml", "path to the YAML configuration file")
	flagSet.BoolVarP(&daemonize, "daemon", "d", false, "detach from the terminal (overrides daemon.enabled)")
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
	if flagSet.Changed("daemon") {
		cfg.Daemon.Enabled = daemonize
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// 2. Переход в фон: родительский процесс завершается, работу продолжает потомок
	if cfg.Daemon.Enabled {
		dctx := &daemon.Context{
			PidFileName: cfg.Daemon.PidFile,
			PidFilePerm: 0o644,
			LogFileName: cfg.Daemon.LogFile,
			LogFilePerm: 0o640,
			WorkDir:     cfg.Daemon.WorkDir,
			Umask:       0o027,
		}
		child, err := dctx.Reborn()
		if err != nil {
			return fmt.Errorf("failed to daemonize: %w", err)
		}
		if child != nil {
			fmt.Fprintf(os.Stdout, "bot started in background, pid %d\n", child.Pid)
			return nil
		}
		defer func() { _ = dctx.Release() }()
	}

	// 3. Инициализация логгера с маскировкой токенов
	logger := log.New(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	// 4. Инициализация зависимостей
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := prepare(ctx, b, logger); err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		metricsSrv := &http.Server{
			Addr:              cfg.Address(),
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: config.DefaultReadTimeout,
		}
		go func() {
			logger.Info("Serving metrics", slog.String("addr", cfg.Address()))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Webhook.ShutdownTimeout)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	// 5. Запуск цикла long polling до получения сигнала
	poller := bot.NewPoller(b, bot.PollerConfig{
		Timeout:        cfg.Polling.TimeoutSeconds,
		Limit:          cfg.Polling.Limit,
		AllowedUpdates: cfg.Polling.AllowedUpdates,
		InitialBackoff: cfg.Polling.InitialBackoff,
		MaxBackoff:     cfg.Polling.MaxBackoff,
	},
		bot.WithPollerLogger(logger.With(slog.String("component", "poller"))),
		bot.WithUpdateObserver(m),
	)
	handler := bot.NewCommandHandler(b, logger.With(slog.String("component", "handler")))

	if err := poller.Run(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("polling stopped: %w", err)
	}

	logger.Info("Bot stopped gracefully")
	return nil
}

// prepare проверяет токен и снимает webhook: пока он установлен, getUpdates недоступен.
func prepare(ctx context.Context, b *telegram.Bot, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	res, err := b.Call(ctx, "getMe", nil)
	if err != nil {
		return fmt.Errorf("getMe failed: %w", err)
	}
	var me struct {
		Username string `json:"username"`
	}
	if err := res.Decode(&me); err != nil {
		return fmt.Errorf("getMe: %w", err)
	}
	logger.Info("Authorized on account", slog.String("username", me.Username), slog.Int64("bot_id", b.BotID()))

	if _, err := b.Call(ctx, "deleteWebhook", nil); err != nil {
		return fmt.Errorf("deleteWebhook failed: %w", err)
	}
	return nil
}

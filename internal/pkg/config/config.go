// Package config предоставляет управление конфигурацией приложения
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// secretTokenRegex — допустимые символы секрета webhook по правилам Bot API.
var secretTokenRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,256}$`)

// Bot содержит параметры подключения к Bot API
type Bot struct {
	Token          string        `json:"token" yaml:"token"`
	APIBaseURL     string        `json:"api_base_url" yaml:"api_base_url"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`
}

// Polling содержит параметры long polling
type Polling struct {
	TimeoutSeconds int           `json:"timeout_seconds" yaml:"timeout_seconds"`
	Limit          int           `json:"limit" yaml:"limit"`
	AllowedUpdates []string      `json:"allowed_updates" yaml:"allowed_updates"`
	InitialBackoff time.Duration `json:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff" yaml:"max_backoff"`
}

// Webhook содержит конфигурацию HTTP-сервера для приема обновлений
type Webhook struct {
	Host            string        `json:"host" yaml:"host"`
	Port            int           `json:"port" yaml:"port"`
	Path            string        `json:"path" yaml:"path"`
	SecretToken     string        `json:"secret_token" yaml:"secret_token"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	DedupTTL        time.Duration `json:"dedup_ttl" yaml:"dedup_ttl"`
}

// Metrics содержит конфигурацию экспорта метрик
type Metrics struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// Daemon содержит конфигурацию запуска в фоне
type Daemon struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	PidFile string `json:"pid_file" yaml:"pid_file"`
	LogFile string `json:"log_file" yaml:"log_file"`
	WorkDir string `json:"work_dir" yaml:"work_dir"`
}

// Logging содержит конфигурацию логирования
type Logging struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text, auto
}

// Config содержит конфигурацию приложения
type Config struct {
	Bot     Bot     `json:"bot" yaml:"bot"`
	Polling Polling `json:"polling" yaml:"polling"`
	Webhook Webhook `json:"webhook" yaml:"webhook"`
	Metrics Metrics `json:"metrics" yaml:"metrics"`
	Daemon  Daemon  `json:"daemon" yaml:"daemon"`
	Logging Logging `json:"logging" yaml:"logging"`
}

// defaultConfig возвращает конфигурацию со значениями по умолчанию
func defaultConfig() *Config {
	return &Config{
		Bot: Bot{
			APIBaseURL:     DefaultAPIBaseURL,
			ConnectTimeout: DefaultConnectTimeout,
			RequestTimeout: DefaultRequestTimeout,
		},
		Polling: Polling{
			TimeoutSeconds: DefaultPollTimeoutSeconds,
			Limit:          DefaultPollLimit,
			InitialBackoff: DefaultInitialBackoff,
			MaxBackoff:     DefaultMaxBackoff,
		},
		Webhook: Webhook{
			Host:            DefaultWebhookHost,
			Port:            DefaultWebhookPort,
			Path:            DefaultWebhookPath,
			ShutdownTimeout: DefaultShutdownTimeout,
			DedupTTL:        DefaultDedupTTL,
		},
		Metrics: Metrics{
			Path: DefaultMetricsPath,
		},
		Daemon: Daemon{
			PidFile: DefaultPidFile,
			LogFile: DefaultLogFile,
		},
		Logging: Logging{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// LoadConfig загружает конфигурацию: значения по умолчанию, затем YAML-файл
// (если он есть), затем переменные окружения, включая .env файл.
func LoadConfig(path string) (*Config, error) {
	// Отсутствие .env файла не является ошибкой
	_ = godotenv.Load()

	cfg := defaultConfig()
	if err := loadFromYAML(path, cfg); err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("не удалось применить переменные окружения: %w", err)
	}

	return cfg, nil
}

// loadFromYAML дополняет cfg значениями из YAML-файла. Отсутствующий файл пропускается.
func loadFromYAML(filename string, cfg *Config) error {
	if filename == "" {
		return nil
	}

	data, err := os.ReadFile(filename)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("не удалось прочитать файл конфигурации %s: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("не удалось разобрать YAML конфигурацию: %w", err)
	}

	return nil
}

// applyEnv переопределяет значения переменными окружения
func applyEnv(cfg *Config) error {
	cfg.Bot.Token = getEnv("BOT_TOKEN", cfg.Bot.Token)
	cfg.Bot.APIBaseURL = getEnv("BOT_API_BASE_URL", cfg.Bot.APIBaseURL)
	cfg.Webhook.Host = getEnv("WEBHOOK_HOST", cfg.Webhook.Host)
	cfg.Webhook.Path = getEnv("WEBHOOK_PATH", cfg.Webhook.Path)
	cfg.Webhook.SecretToken = getEnv("WEBHOOK_SECRET", cfg.Webhook.SecretToken)
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)

	if portStr := os.Getenv("WEBHOOK_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("недопустимый WEBHOOK_PORT: %w", err)
		}
		cfg.Webhook.Port = port
	}

	return nil
}

// Address возвращает адрес webhook-сервера в формате "host:port"
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Webhook.Host, c.Webhook.Port)
}

// Validate проверяет, являются ли значения конфигурации допустимыми
func (c *Config) Validate() error {
	if c.Bot.Token == "" || c.Bot.Token == "YOUR_TELEGRAM_BOT_TOKEN" {
		return fmt.Errorf("bot.token не настроен (задайте его в файле или в BOT_TOKEN)")
	}
	if c.Bot.APIBaseURL == "" {
		return fmt.Errorf("bot.api_base_url не может быть пустым")
	}
	if c.Bot.ConnectTimeout <= 0 {
		return fmt.Errorf("bot.connect_timeout должно быть положительным")
	}
	if c.Bot.RequestTimeout <= 0 {
		return fmt.Errorf("bot.request_timeout должно быть положительным")
	}

	if c.Polling.TimeoutSeconds < 0 {
		return fmt.Errorf("polling.timeout_seconds должно быть неотрицательным")
	}
	// Сервер держит getUpdates открытым timeout_seconds, запрос должен успеть завершиться.
	if time.Duration(c.Polling.TimeoutSeconds)*time.Second >= c.Bot.RequestTimeout {
		return fmt.Errorf("polling.timeout_seconds должно быть меньше bot.request_timeout")
	}
	if c.Polling.Limit < 1 || c.Polling.Limit > 100 {
		return fmt.Errorf("polling.limit должен быть в диапазоне 1-100")
	}
	if c.Polling.InitialBackoff <= 0 || c.Polling.MaxBackoff < c.Polling.InitialBackoff {
		return fmt.Errorf("polling.initial_backoff должно быть положительным и не больше polling.max_backoff")
	}

	if c.Webhook.Port <= 0 || c.Webhook.Port > 65535 {
		return fmt.Errorf("webhook.port должен быть действительным номером порта (1-65535)")
	}
	if !strings.HasPrefix(c.Webhook.Path, "/") {
		return fmt.Errorf("webhook.path должен начинаться с /")
	}
	if c.Webhook.SecretToken != "" && !secretTokenRegex.MatchString(c.Webhook.SecretToken) {
		return fmt.Errorf("webhook.secret_token может содержать только A-Z, a-z, 0-9, _ и - (до 256 символов)")
	}
	if c.Webhook.ShutdownTimeout <= 0 {
		return fmt.Errorf("webhook.shutdown_timeout должно быть положительным")
	}
	if c.Webhook.DedupTTL <= 0 {
		return fmt.Errorf("webhook.dedup_ttl должно быть положительным")
	}

	if c.Metrics.Enabled {
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path должен начинаться с /")
		}
		if c.Metrics.Path == c.Webhook.Path {
			return fmt.Errorf("metrics.path не может совпадать с webhook.path")
		}
	}

	if c.Daemon.Enabled && c.Daemon.PidFile == "" {
		return fmt.Errorf("daemon.pid_file не может быть пустым")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// all good
	default:
		return fmt.Errorf("logging.level должен быть одним из: debug, info, warn, error")
	}

	switch c.Logging.Format {
	case "json", "text", "auto":
	default:
		return fmt.Errorf("logging.format должен быть одним из: json, text, auto")
	}

	return nil
}

// getEnv извлекает значение переменной окружения или возвращает значение по умолчанию, если она не установлена
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

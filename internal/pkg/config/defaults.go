package config

import "time"

// Default values for configuration.
const (
	// Bot API defaults
	DefaultAPIBaseURL     = "https://api.telegram.org"
	DefaultConnectTimeout = 30 * time.Second
	DefaultRequestTimeout = 60 * time.Second

	// Polling defaults
	DefaultPollTimeoutSeconds = 30
	DefaultPollLimit          = 100
	DefaultInitialBackoff     = 1 * time.Second
	DefaultMaxBackoff         = 1 * time.Minute

	// Webhook defaults
	DefaultWebhookHost     = "0.0.0.0"
	DefaultWebhookPort     = 8443
	DefaultWebhookPath     = "/webhook"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultDedupTTL        = 10 * time.Minute
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultMaxBodyBytes    = 1 << 20

	// Metrics defaults
	DefaultMetricsPath = "/metrics"

	// Daemon defaults
	DefaultPidFile = "tgbot.pid"
	DefaultLogFile = "tgbot.log"

	// Logging defaults
	DefaultLogLevel  = "info"
	DefaultLogFormat = "auto"
)

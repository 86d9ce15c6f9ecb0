package config

import "github.com/kelseyhightower/envconfig"

type Config struct {
	// ----------------------------
	// HTTP API
	// ----------------------------
	APIPort  string `envconfig:"API_PORT" default:"8080"`
	APIToken string `envconfig:"API_TOKEN" default:""`

	// ----------------------------
	// Metrics
	// ----------------------------
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`

	// ----------------------------
	// Dispatch
	// ----------------------------
	RateLimit              int `envconfig:"RATE_LIMIT" default:"10"`
	DispatchTimeoutSeconds int `envconfig:"DISPATCH_TIMEOUT_SECONDS" default:"10"`

	// ----------------------------
	// Ops alerts (disabled while SMTP_HOST is empty)
	// ----------------------------
	SMTPHost   string `envconfig:"SMTP_HOST" default:""`
	SMTPPort   int    `envconfig:"SMTP_PORT" default:"25"`
	SMTPFrom   string `envconfig:"SMTP_FROM" default:"noreply@leadrelay.local"`
	AlertEmail string `envconfig:"ALERT_EMAIL" default:""`

	// ----------------------------
	// Database
	// ----------------------------
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
}

func Load() (*Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return &cfg, err
}

package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"CPB_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"CPB_DB_MAX_CONNS" default:"8"`

	TCADomain               string `envconfig:"CPB_TCA_DOMAIN" required:"true"`
	TCAKey                  string `envconfig:"CPB_TCA_KEY" required:"true"`
	TCAWebhookDomain        string `envconfig:"CPB_TCA_WEBHOOK_DOMAIN" default:""`
	TCAWebhookSigningSecret string `envconfig:"CPB_TCA_WEBHOOK_SIGNING_SECRET" default:""`
	TCAMaxRetries           int    `envconfig:"CPB_TCA_MAX_RETRIES" default:"5"`
	TCAReportPriority       string `envconfig:"CPB_TCA_REPORT_PRIORITY" default:"LOW"`

	SitesFile        string `envconfig:"CPB_SITES_FILE" default:"sites.json"`
	StreamURL        string `envconfig:"CPB_STREAM_URL" default:"https://stream.wikimedia.org/v2/stream/mediawiki.page_change.v1"`
	IgnoreListDomain string `envconfig:"CPB_IGNORE_LIST_DOMAIN" default:"meta.wikimedia.org"`

	WikiAccessToken string `envconfig:"CPB_WIKI_ACCESS_TOKEN" default:""`
	WikiUserAgent   string `envconfig:"CPB_WIKI_USER_AGENT" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("CPB_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("CPB_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("CPB_DB_MIN_CONNS (%d) cannot exceed CPB_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if strings.TrimSpace(c.TCADomain) == "" {
		return fmt.Errorf("CPB_TCA_DOMAIN is required")
	}
	if strings.TrimSpace(c.TCAKey) == "" {
		return fmt.Errorf("CPB_TCA_KEY is required")
	}
	if c.TCAMaxRetries < 0 {
		return fmt.Errorf("CPB_TCA_MAX_RETRIES must be >= 0")
	}
	switch strings.ToUpper(strings.TrimSpace(c.TCAReportPriority)) {
	case "LOW", "HIGH":
	default:
		return fmt.Errorf("CPB_TCA_REPORT_PRIORITY must be LOW or HIGH")
	}
	if strings.TrimSpace(c.SitesFile) == "" {
		return fmt.Errorf("CPB_SITES_FILE is required")
	}
	return nil
}

// WebhookSecret returns the shared webhook signing secret, nil when unset.
func (c *Config) WebhookSecret() []byte {
	secret := strings.TrimSpace(c.TCAWebhookSigningSecret)
	if secret == "" {
		return nil
	}
	return []byte(secret)
}

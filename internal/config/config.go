// Package config handles application configuration from environment variables
// and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Supported job sources.
const (
	SourceIndeed  = "indeed"
	SourceSerpAPI = "serpapi"
	SourceRSS     = "rss"
)

// Config holds the application configuration.
type Config struct {
	DatabaseURL string
	LogLevel    string

	PollSchedule string
	RunOnStart   bool
	FetchTimeout time.Duration
	Concurrency  int

	Source          string
	DefaultLocation string

	IndeedBaseURL string

	SerpAPIKey           string
	SerpAPIBaseURL       string
	SerpAPIMaxPages      int
	SerpAPITargetResults int
	SerpAPIPageDelay     time.Duration
	SerpAPILanguage      string
	SerpAPICountry       string

	RSSURLTemplate string

	SMTPHost      string
	SMTPPort      int
	EmailUser     string
	EmailPassword string
	EmailFrom     string

	SentIDsRetain   int
	SentIDsMaxBytes int

	ResetTokenTTL time.Duration

	MetricsAddr   string
	RedisURL      string
	PassLeaseTTL  time.Duration
	TelegramToken string
	TelegramChat  int64
}

var defaults = map[string]any{
	"database_url":           "./data/jobalert.db",
	"log_level":              "info",
	"poll_schedule":          "@every 1h",
	"run_on_start":           true,
	"fetch_timeout":          "30s",
	"concurrency":            1,
	"source":                 SourceIndeed,
	"default_location":       "nederland",
	"indeed_base_url":        "https://www.indeed.nl",
	"serpapi_base_url":       "https://serpapi.com/search.json",
	"serpapi_max_pages":      5,
	"serpapi_target_results": 30,
	"serpapi_page_delay":     "2s",
	"serpapi_language":       "nl",
	"serpapi_country":        "nl",
	"smtp_host":              "smtp.gmail.com",
	"smtp_port":              587,
	"sent_ids_retain":        100,
	"sent_ids_max_bytes":     8192,
	"reset_token_ttl":        "1h",
	"pass_lease_ttl":         "2h",
}

// Load reads configuration from environment variables. Values from a YAML
// file named by JOBALERT_CONFIG, or jobalert.yaml in the working directory or
// /etc/jobalert, are used where no environment variable is set.
func Load() (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if path := os.Getenv("JOBALERT_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("jobalert")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/jobalert")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		DatabaseURL:          v.GetString("database_url"),
		LogLevel:             strings.ToLower(v.GetString("log_level")),
		PollSchedule:         v.GetString("poll_schedule"),
		RunOnStart:           v.GetBool("run_on_start"),
		FetchTimeout:         v.GetDuration("fetch_timeout"),
		Concurrency:          v.GetInt("concurrency"),
		Source:               strings.ToLower(v.GetString("source")),
		DefaultLocation:      v.GetString("default_location"),
		IndeedBaseURL:        strings.TrimRight(v.GetString("indeed_base_url"), "/"),
		SerpAPIKey:           v.GetString("serpapi_key"),
		SerpAPIBaseURL:       v.GetString("serpapi_base_url"),
		SerpAPIMaxPages:      v.GetInt("serpapi_max_pages"),
		SerpAPITargetResults: v.GetInt("serpapi_target_results"),
		SerpAPIPageDelay:     v.GetDuration("serpapi_page_delay"),
		SerpAPILanguage:      v.GetString("serpapi_language"),
		SerpAPICountry:       v.GetString("serpapi_country"),
		RSSURLTemplate:       v.GetString("rss_url_template"),
		SMTPHost:             v.GetString("smtp_host"),
		SMTPPort:             v.GetInt("smtp_port"),
		EmailUser:            v.GetString("email_user"),
		EmailPassword:        v.GetString("email_password"),
		EmailFrom:            v.GetString("email_from"),
		SentIDsRetain:        v.GetInt("sent_ids_retain"),
		SentIDsMaxBytes:      v.GetInt("sent_ids_max_bytes"),
		ResetTokenTTL:        v.GetDuration("reset_token_ttl"),
		MetricsAddr:          v.GetString("metrics_addr"),
		RedisURL:             v.GetString("redis_url"),
		PassLeaseTTL:         v.GetDuration("pass_lease_ttl"),
		TelegramToken:        v.GetString("telegram_bot_token"),
		TelegramChat:         v.GetInt64("telegram_chat_id"),
	}
	if cfg.EmailFrom == "" {
		cfg.EmailFrom = cfg.EmailUser
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Source {
	case SourceIndeed:
	case SourceSerpAPI:
		if c.SerpAPIKey == "" {
			return fmt.Errorf("SERPAPI_KEY is required when SOURCE=%s", SourceSerpAPI)
		}
	case SourceRSS:
		if c.RSSURLTemplate == "" {
			return fmt.Errorf("RSS_URL_TEMPLATE is required when SOURCE=%s", SourceRSS)
		}
	default:
		return fmt.Errorf("invalid SOURCE %q, use: %s, %s, %s", c.Source, SourceIndeed, SourceSerpAPI, SourceRSS)
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must not be empty")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive, got %s", c.FetchTimeout)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("CONCURRENCY must be at least 1, got %d", c.Concurrency)
	}
	if c.SerpAPIMaxPages < 1 {
		return fmt.Errorf("SERPAPI_MAX_PAGES must be at least 1, got %d", c.SerpAPIMaxPages)
	}
	if c.SentIDsRetain < 1 {
		return fmt.Errorf("SENT_IDS_RETAIN must be at least 1, got %d", c.SentIDsRetain)
	}
	if c.SentIDsMaxBytes < 2 {
		return fmt.Errorf("SENT_IDS_MAX_BYTES must be at least 2, got %d", c.SentIDsMaxBytes)
	}
	if c.ResetTokenTTL <= 0 {
		return fmt.Errorf("RESET_TOKEN_TTL must be positive, got %s", c.ResetTokenTTL)
	}
	if c.TelegramToken != "" && c.TelegramChat == 0 {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	return nil
}

// IsPostgres reports whether DatabaseURL points at a PostgreSQL server.
func (c *Config) IsPostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

// RequireMail checks that SMTP credentials are present.
func (c *Config) RequireMail() error {
	if c.EmailUser == "" || c.EmailPassword == "" {
		return fmt.Errorf("EMAIL_USER and EMAIL_PASSWORD are required")
	}
	return nil
}

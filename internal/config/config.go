// Package config loads service configuration from an optional YAML file
// and the environment. Environment variables always win, so secrets can
// live in .env locally and in real env vars in production.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// RunMode selects how the bot receives updates.
type RunMode string

const (
	RunModePolling RunMode = "polling"
	RunModeWebhook RunMode = "webhook"
)

// Config holds all configuration for the platform binaries.
type Config struct {
	Bot       BotConfig       `yaml:"bot"`
	Redis     RedisConfig     `yaml:"redis"`
	AI        AIConfig        `yaml:"ai"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Alert     AlertConfig     `yaml:"alert"`
	Email     EmailConfig     `yaml:"email"`
	LogLevel  string          `yaml:"log_level"`
}

// BotConfig holds Telegram bot settings.
type BotConfig struct {
	Token        string  `yaml:"token"`
	RunMode      RunMode `yaml:"run_mode"`
	WebhookURL   string  `yaml:"webhook_url"`
	Port         int     `yaml:"port"`
	GroupWorkers int     `yaml:"group_workers"`
	QueueSize    int     `yaml:"queue_size"`
}

// RedisConfig holds the stream bus connection and stream names.
type RedisConfig struct {
	URL            string `yaml:"url"`
	TasksStream    string `yaml:"tasks_stream"`
	ResultsStream  string `yaml:"results_stream"`
	ConsumerGroup  string `yaml:"consumer_group"`
	DeletedTTLSecs int    `yaml:"deleted_ttl_secs"`
}

// DeletedTTL returns the retention for per-chat deletion streams.
func (c RedisConfig) DeletedTTL() time.Duration {
	return time.Duration(c.DeletedTTLSecs) * time.Second
}

// AIConfig holds model endpoint and worker fleet settings.
type AIConfig struct {
	BaseURL       string `yaml:"base_url"`
	Model         string `yaml:"model"`
	APIKey        string `yaml:"api_key"`
	Workers       int    `yaml:"workers"`
	TimeoutSecs   int    `yaml:"timeout_seconds"`
	XReadCount    int    `yaml:"xread_count"`
	ResultsMaxLen int    `yaml:"results_maxlen"`
}

// Timeout returns the per-request model timeout.
func (c AIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// PostgresConfig holds the relational store connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	MaxOpenConns        int `yaml:"max_open_conns"`
	MaxIdleConns        int `yaml:"max_idle_conns"`
	ConnMaxLifetimeSecs int `yaml:"conn_max_lifetime_secs"`
}

// URL renders the lib/pq connection string.
func (c PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

// ConnMaxLifetime returns the pool connection lifetime.
func (c PostgresConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeSecs) * time.Second
}

// TelemetryConfig holds the async log shipper settings. An empty
// IngestURL disables shipping; logs still go to stderr.
type TelemetryConfig struct {
	IngestURL         string `yaml:"ingest_url"`
	BatchSize         int    `yaml:"batch_size"`
	FlushIntervalSecs int    `yaml:"flush_interval_secs"`
	MaxQueue          int    `yaml:"max_queue"`
}

// FlushInterval returns the shipper tick interval.
func (c TelemetryConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalSecs) * time.Second
}

// IngestConfig holds the ingest gateway settings.
type IngestConfig struct {
	OpenSearchURL string `yaml:"opensearch_url"`
	Bind          string `yaml:"bind"`
}

// AlertConfig holds the alert daemon thresholds.
type AlertConfig struct {
	OpenSearchURL    string  `yaml:"opensearch_url"`
	IntervalSecs     int     `yaml:"interval_secs"`
	MinFreeGB        float64 `yaml:"min_free_gb"`
	MinFreePct       float64 `yaml:"min_free_pct"`
	IndexPattern     string  `yaml:"index_pattern"`
	ErrorThreshold   int     `yaml:"error_threshold"`
	WarningThreshold int     `yaml:"warning_threshold"`
	DetailsLimit     int     `yaml:"details_limit"`
}

// Interval returns the alert tick interval.
func (c AlertConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSecs) * time.Second
}

// EmailConfig holds SMTP settings for the email notifier.
type EmailConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Server   string   `yaml:"server"`
	Port     int      `yaml:"port"`
	User     string   `yaml:"user"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// Load reads the optional YAML file at path and fills in defaults.
// A missing file is not an error; defaults plus env cover everything.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

// LoadFromEnv loads the optional YAML file, then applies environment
// variable overrides. A .env file is loaded first if present.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Bot.RunMode == "" {
		c.Bot.RunMode = RunModePolling
	}
	if c.Bot.GroupWorkers == 0 {
		c.Bot.GroupWorkers = 4
	}
	if c.Bot.QueueSize == 0 {
		c.Bot.QueueSize = 10000
	}
	if c.Bot.Port == 0 {
		c.Bot.Port = 8081
	}

	if c.Redis.URL == "" {
		c.Redis.URL = "redis://localhost:6379"
	}
	if c.Redis.TasksStream == "" {
		c.Redis.TasksStream = "ai:tasks"
	}
	if c.Redis.ResultsStream == "" {
		c.Redis.ResultsStream = "ai:results"
	}
	if c.Redis.ConsumerGroup == "" {
		c.Redis.ConsumerGroup = "ai-workers"
	}
	if c.Redis.DeletedTTLSecs == 0 {
		c.Redis.DeletedTTLSecs = 86400
	}

	if c.AI.BaseURL == "" {
		c.AI.BaseURL = "http://localhost:11434"
	}
	if c.AI.Model == "" {
		c.AI.Model = "llama3"
	}
	if c.AI.Workers == 0 {
		c.AI.Workers = 4
	}
	if c.AI.TimeoutSecs == 0 {
		c.AI.TimeoutSecs = 30
	}
	if c.AI.XReadCount == 0 {
		c.AI.XReadCount = 5
	}

	if c.Postgres.Host == "" {
		c.Postgres.Host = "127.0.0.1"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.Name == "" {
		c.Postgres.Name = "postgres"
	}
	if c.Postgres.User == "" {
		c.Postgres.User = "postgres"
	}
	if c.Postgres.MaxOpenConns == 0 {
		c.Postgres.MaxOpenConns = 10
	}
	if c.Postgres.MaxIdleConns == 0 {
		c.Postgres.MaxIdleConns = 2
	}
	if c.Postgres.ConnMaxLifetimeSecs == 0 {
		c.Postgres.ConnMaxLifetimeSecs = 300
	}

	if c.Telemetry.BatchSize == 0 {
		c.Telemetry.BatchSize = 200
	}
	if c.Telemetry.FlushIntervalSecs == 0 {
		c.Telemetry.FlushIntervalSecs = 1
	}
	if c.Telemetry.MaxQueue == 0 {
		c.Telemetry.MaxQueue = 10000
	}

	if c.Ingest.OpenSearchURL == "" {
		c.Ingest.OpenSearchURL = "http://localhost:9200"
	}
	if c.Ingest.Bind == "" {
		c.Ingest.Bind = "0.0.0.0:8080"
	}

	if c.Alert.OpenSearchURL == "" {
		c.Alert.OpenSearchURL = "http://localhost:9200"
	}
	if c.Alert.IntervalSecs == 0 {
		c.Alert.IntervalSecs = 60
	}
	if c.Alert.MinFreeGB == 0 {
		c.Alert.MinFreeGB = 15.0
	}
	if c.Alert.MinFreePct == 0 {
		c.Alert.MinFreePct = 12.0
	}
	if c.Alert.IndexPattern == "" {
		c.Alert.IndexPattern = "logs-*"
	}
	if c.Alert.ErrorThreshold == 0 {
		c.Alert.ErrorThreshold = 1
	}
	if c.Alert.WarningThreshold == 0 {
		c.Alert.WarningThreshold = 5
	}
	if c.Alert.DetailsLimit == 0 {
		c.Alert.DetailsLimit = 5
	}

	if c.Email.Port == 0 {
		c.Email.Port = 587
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) applyEnv() {
	setString(&c.Bot.Token, "TELEGRAM_BOT_TOKEN")
	if v := os.Getenv("RUN_MODE"); v != "" {
		c.Bot.RunMode = RunMode(strings.ToLower(strings.TrimSpace(v)))
	}
	setString(&c.Bot.WebhookURL, "WEBHOOK_URL")
	setInt(&c.Bot.Port, "PORT")
	setInt(&c.Bot.GroupWorkers, "GROUP_WORKERS")
	setInt(&c.Bot.QueueSize, "GROUP_QUEUE_SIZE")

	setString(&c.Redis.URL, "REDIS_URL")
	setString(&c.Redis.TasksStream, "TASKS_STREAM")
	setString(&c.Redis.ResultsStream, "RESULTS_STREAM")
	setString(&c.Redis.ConsumerGroup, "CONSUMER_GROUP")
	setInt(&c.Redis.DeletedTTLSecs, "DELETED_MESSAGES_TTL_SECS")

	setString(&c.AI.BaseURL, "AI_BASE_URL")
	setString(&c.AI.Model, "AI_MODEL")
	setString(&c.AI.APIKey, "AI_API_KEY")
	setInt(&c.AI.Workers, "AI_WORKERS")
	setInt(&c.AI.TimeoutSecs, "AI_TIMEOUT_S")
	setInt(&c.AI.XReadCount, "AI_XREAD_COUNT")
	setInt(&c.AI.ResultsMaxLen, "AI_RESULTS_MAXLEN")

	setString(&c.Postgres.Host, "POSTGRES_HOST")
	setInt(&c.Postgres.Port, "POSTGRES_PORT")
	setString(&c.Postgres.Name, "POSTGRES_DB")
	setString(&c.Postgres.User, "POSTGRES_USER")
	setString(&c.Postgres.Password, "POSTGRES_PASSWORD")
	setInt(&c.Postgres.MaxOpenConns, "POSTGRES_MAX_CONNECTIONS")

	setString(&c.Telemetry.IngestURL, "OS_INGEST_URL")
	setInt(&c.Telemetry.BatchSize, "OS_INGEST_BATCH")
	setInt(&c.Telemetry.MaxQueue, "OS_INGEST_QUEUE")

	setString(&c.Ingest.OpenSearchURL, "OPENSEARCH_URL")
	setString(&c.Ingest.Bind, "INGEST_BIND")

	setString(&c.Alert.OpenSearchURL, "OPENSEARCH_URL")
	setInt(&c.Alert.IntervalSecs, "ALERT_INTERVAL_SEC")
	setFloat(&c.Alert.MinFreeGB, "MIN_FREE_GB")
	setFloat(&c.Alert.MinFreePct, "MIN_FREE_PCT")
	setString(&c.Alert.IndexPattern, "LOG_INDEX_PATTERN")
	setInt(&c.Alert.ErrorThreshold, "ERROR_THRESHOLD")
	setInt(&c.Alert.WarningThreshold, "WARNING_THRESHOLD")
	setInt(&c.Alert.DetailsLimit, "ALERT_DETAILS_LIMIT")

	if v := os.Getenv("EMAIL_ENABLED"); v != "" {
		c.Email.Enabled = parseBool(v)
	}
	setString(&c.Email.Server, "SMTP_SERVER")
	setInt(&c.Email.Port, "SMTP_PORT")
	setString(&c.Email.User, "SMTP_USER")
	setString(&c.Email.Password, "SMTP_PASSWORD")
	setString(&c.Email.From, "ALERT_EMAIL_FROM")
	if c.Email.From == "" {
		c.Email.From = c.Email.User
	}
	if v := os.Getenv("ALERT_EMAIL_TO"); v != "" {
		c.Email.To = ParseRecipients(v)
	}

	setString(&c.LogLevel, "LOG_LEVEL")
}

// Validate checks mode-dependent requirements.
func (c *Config) Validate() error {
	if c.Bot.RunMode == RunModeWebhook {
		if c.Bot.WebhookURL == "" {
			return fmt.Errorf("WEBHOOK_URL is required in webhook mode")
		}
		if c.Bot.Port < 1 || c.Bot.Port > 65535 {
			return fmt.Errorf("PORT must be between 1 and 65535 in webhook mode")
		}
	}
	if c.Email.Enabled {
		if c.Email.Server == "" || c.Email.User == "" || c.Email.Password == "" || len(c.Email.To) == 0 {
			return fmt.Errorf("email notifications enabled but SMTP settings are incomplete")
		}
	}
	return nil
}

// ParseRecipients accepts either a comma/semicolon separated list or a
// JSON array of addresses.
func ParseRecipients(raw string) []string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var list []string
		if err := json.Unmarshal([]byte(trimmed), &list); err == nil {
			var out []string
			for _, s := range list {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
			return out
		}
		// Malformed JSON falls through to separator parsing.
	}

	var out []string
	for _, part := range strings.FieldsFunc(trimmed, func(r rune) bool { return r == ',' || r == ';' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func setString(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func setInt(dst *int, name string) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, name string) {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = f
		}
	}
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

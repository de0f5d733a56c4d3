package conf

import (
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config represents application configuration. Values come from the
// environment (after godotenv loads .env in main).
type Config struct {
	// Rules configuration
	Rules RulesConfig

	// Source configuration
	Source SourceConfig

	// Detector configuration
	Detector DetectorConfig

	// Dispatch loop configuration
	Dispatch DispatchConfig

	// Worker pool configuration
	Worker WorkerConfig

	// Dedup window configuration
	Dedup DedupConfig

	// AI configuration (optional)
	AI AIConfig

	// Feishu configuration (optional)
	Feishu FeishuConfig

	// Status API configuration
	API APIConfig

	// Records database path
	DBPath string `env:"DB_PATH"`

	// Debug mode
	Debug bool `env:"DEBUG"`
}

// RulesConfig contains rule source configuration
type RulesConfig struct {
	Path string `env:"RULES_PATH" env-default:"config/reply_rules.yaml"`
}

// SourceConfig contains content source configuration
type SourceConfig struct {
	InboxPath  string `env:"INBOX_PATH" env-default:"inbox.jsonl"`
	OutboxPath string `env:"OUTBOX_PATH" env-default:"outbox.log"`
	Platform   string `env:"SOURCE_PLATFORM" env-default:"wechat"`
}

// DetectorConfig contains change detector configuration
type DetectorConfig struct {
	Threshold int `env:"DETECT_THRESHOLD" env-default:"5"`
}

// DispatchConfig contains dispatch loop configuration
type DispatchConfig struct {
	PollInterval         time.Duration `env:"POLL_INTERVAL" env-default:"3s"`
	ErrorBase            time.Duration `env:"ERROR_BACKOFF_BASE" env-default:"30s"`
	ErrorCeiling         time.Duration `env:"ERROR_BACKOFF_CEILING" env-default:"5m"`
	MaxConsecutiveErrors int           `env:"MAX_CONSECUTIVE_ERRORS" env-default:"5"`
	ConnectMaxRetries    uint64        `env:"CONNECT_MAX_RETRIES" env-default:"3"`
}

// WorkerConfig contains worker pool configuration
type WorkerConfig struct {
	Workers      int           `env:"WORKERS" env-default:"3"`
	QueueSize    int           `env:"QUEUE_SIZE" env-default:"64"`
	MaxRetries   int           `env:"TASK_MAX_RETRIES" env-default:"3"`
	RetryBase    time.Duration `env:"TASK_RETRY_BASE" env-default:"60s"`
	RetryCeiling time.Duration `env:"TASK_RETRY_CEILING" env-default:"5m"`
	SoftLimit    time.Duration `env:"TASK_SOFT_LIMIT" env-default:"5m"`
	HardLimit    time.Duration `env:"TASK_HARD_LIMIT" env-default:"10m"`
}

// DedupConfig contains dedup window configuration
type DedupConfig struct {
	Capacity int           `env:"DEDUP_CAPACITY" env-default:"512"`
	Window   time.Duration `env:"DEDUP_WINDOW" env-default:"10m"`
}

// AIConfig contains AI collaborator configuration
type AIConfig struct {
	APIKey  string `env:"AI_API_KEY"`
	BaseURL string `env:"AI_BASE_URL"`
	Model   string `env:"AI_MODEL"`
}

// FeishuConfig contains Feishu channel configuration
type FeishuConfig struct {
	AppID     string `env:"FEISHU_APP_ID"`
	AppSecret string `env:"FEISHU_APP_SECRET"`
	ChatID    string `env:"FEISHU_CHAT_ID"`
}

// APIConfig contains status API configuration
type APIConfig struct {
	Port int `env:"API_PORT" env-default:"9877"`
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, &ConfigError{Field: "env", Message: err.Error()}
	}

	if cfg.DBPath == "" {
		homeDir, _ := os.UserHomeDir()
		cfg.DBPath = filepath.Join(homeDir, ".openwechatai", "records.db")
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Rules.Path == "" {
		return &ConfigError{Field: "RULES_PATH", Message: "required"}
	}
	if c.Detector.Threshold < 0 {
		return &ConfigError{Field: "DETECT_THRESHOLD", Message: "must be >= 0"}
	}
	if c.Worker.Workers <= 0 {
		return &ConfigError{Field: "WORKERS", Message: "must be > 0"}
	}
	if c.Worker.MaxRetries < 1 {
		return &ConfigError{Field: "TASK_MAX_RETRIES", Message: "must be >= 1"}
	}
	if c.Dispatch.MaxConsecutiveErrors < 1 {
		return &ConfigError{Field: "MAX_CONSECUTIVE_ERRORS", Message: "must be >= 1"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}

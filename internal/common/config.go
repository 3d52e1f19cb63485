package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Redis       RedisConfig     `toml:"redis"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Workers     WorkersConfig   `toml:"workers"`
	RateLimit   RateLimitConfig `toml:"rate_limit"`
	Messaging   MessagingConfig `toml:"messaging"`
	Script      ScriptConfig    `toml:"script"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// RedisConfig covers the shared KV store used for the backlog,
// pub/sub, and the rate limiter
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type StorageConfig struct {
	SQLite     SQLiteConfig `toml:"sqlite"`
	MailDBPath string       `toml:"mail_db_path"` // SMTP settings + send log database
	TaskDBPath string       `toml:"task_db_path"` // task-scheduler database mutated by the script runner
}

// SQLiteConfig represents SQLite-specific configuration
type SQLiteConfig struct {
	Path          string `toml:"path"`
	CacheSizeMB   int    `toml:"cache_size_mb"`
	WALMode       bool   `toml:"wal_mode"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// WorkersConfig controls the supervisor and worker runtimes
type WorkersConfig struct {
	BinaryPath     string            `toml:"binary_path"`     // worker executable spawned by the supervisor
	PollInterval   time.Duration     `toml:"poll_interval"`   // worker loop tick
	MaxPerType     int               `toml:"max_per_type"`    // upper bound for scale requests
	CoordinatorURL string            `toml:"coordinator_url"` // base URL workers use to reach the API
	WebhookURLs    map[string]string `toml:"webhook_urls"`    // per-type webhook targets for sms/notification
}

// RateLimitConfig parameterizes the token-bucket script
type RateLimitConfig struct {
	MaxTokens  int     `toml:"max_tokens"`
	RefillRate float64 `toml:"refill_rate"` // tokens per second
	KeyExpiry  int     `toml:"key_expiry"`  // seconds
}

// MessagingConfig covers the primary gateway and the secondary
// bearer-credentialed fallback
type MessagingConfig struct {
	GatewayURL     string        `toml:"gateway_url"`
	SendDelay      time.Duration `toml:"send_delay"`      // default pause before each send
	RequestTimeout time.Duration `toml:"request_timeout"` // per-request HTTP timeout
	FallbackURL    string        `toml:"fallback_url"`
	FallbackToken  string        `toml:"fallback_token"`
}

// ScriptConfig controls the resource-gated script runner
type ScriptConfig struct {
	Dir              string        `toml:"dir"`                // scripts directory for relative names
	CPUThreshold     float64       `toml:"cpu_threshold"`      // percent, default 80
	MemoryThreshold  float64       `toml:"memory_threshold"`   // percent, default 85
	CheckInterval    time.Duration `toml:"check_interval"`     // wait between resource probes
	CheckRetries     int           `toml:"check_retries"`      // probe attempts before giving up
	NodeInterpreter  string        `toml:"node_interpreter"`   // interpreter for .js scripts
	OutputBufferSize int           `toml:"output_buffer_size"` // max bytes captured per stream
}

// SchedulerConfig drives recurring cronjob submission
type SchedulerConfig struct {
	Enabled bool             `toml:"enabled"`
	Entries []SchedulerEntry `toml:"entries"`
}

// SchedulerEntry maps a cron expression to a cronjob payload
type SchedulerEntry struct {
	Name     string `toml:"name"`
	Schedule string `toml:"schedule"` // cron format
	Payload  string `toml:"payload"`  // JSON object submitted as the job payload
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			DB:   0,
		},
		Storage: StorageConfig{
			SQLite: SQLiteConfig{
				Path:          "./data/dispatch.db",
				CacheSizeMB:   10,
				WALMode:       true,
				BusyTimeoutMS: 5000,
			},
			MailDBPath: "./data/mail.db",
			TaskDBPath: "./data/tasks.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Workers: WorkersConfig{
			BinaryPath:     "./dispatch-worker",
			PollInterval:   1 * time.Second,
			MaxPerType:     10,
			CoordinatorURL: "http://localhost:8080",
			WebhookURLs:    map[string]string{},
		},
		RateLimit: RateLimitConfig{
			MaxTokens:  10,
			RefillRate: 5,
			KeyExpiry:  60,
		},
		Messaging: MessagingConfig{
			SendDelay:      500 * time.Millisecond,
			RequestTimeout: 30 * time.Second,
		},
		Script: ScriptConfig{
			Dir:              "./scripts",
			CPUThreshold:     80,
			MemoryThreshold:  85,
			CheckInterval:    5 * time.Second,
			CheckRetries:     12,
			NodeInterpreter:  "node",
			OutputBufferSize: 1 * 1024 * 1024, // 1MB per stream
		},
		Scheduler: SchedulerConfig{
			Enabled: false,
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// defaults -> file1 -> file2 -> ... -> env. Later files override
// earlier files; CLI flags are applied afterwards via ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("DISPATCH_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("DISPATCH_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("DISPATCH_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if addr := os.Getenv("DISPATCH_REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
	}
	if password := os.Getenv("DISPATCH_REDIS_PASSWORD"); password != "" {
		config.Redis.Password = password
	}
	if db := os.Getenv("DISPATCH_REDIS_DB"); db != "" {
		if d, err := strconv.Atoi(db); err == nil {
			config.Redis.DB = d
		}
	}

	if path := os.Getenv("DISPATCH_SQLITE_PATH"); path != "" {
		config.Storage.SQLite.Path = path
	}
	if path := os.Getenv("DISPATCH_MAIL_DB_PATH"); path != "" {
		config.Storage.MailDBPath = path
	}
	if path := os.Getenv("DISPATCH_TASK_DB_PATH"); path != "" {
		config.Storage.TaskDBPath = path
	}

	if level := os.Getenv("DISPATCH_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("DISPATCH_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	if binary := os.Getenv("DISPATCH_WORKER_BINARY"); binary != "" {
		config.Workers.BinaryPath = binary
	}
	if url := os.Getenv("DISPATCH_COORDINATOR_URL"); url != "" {
		config.Workers.CoordinatorURL = url
	}
	if pollInterval := os.Getenv("DISPATCH_WORKER_POLL_INTERVAL"); pollInterval != "" {
		if d, err := time.ParseDuration(pollInterval); err == nil {
			config.Workers.PollInterval = d
		}
	}
	if maxPerType := os.Getenv("DISPATCH_WORKER_MAX_PER_TYPE"); maxPerType != "" {
		if m, err := strconv.Atoi(maxPerType); err == nil {
			config.Workers.MaxPerType = m
		}
	}

	// Per-type webhook targets: DISPATCH_WEBHOOK_SMS, DISPATCH_WEBHOOK_NOTIFICATION
	for _, jobType := range []string{"sms", "notification"} {
		envName := "DISPATCH_WEBHOOK_" + strings.ToUpper(jobType)
		if url := os.Getenv(envName); url != "" {
			if config.Workers.WebhookURLs == nil {
				config.Workers.WebhookURLs = map[string]string{}
			}
			config.Workers.WebhookURLs[jobType] = url
		}
	}

	if gatewayURL := os.Getenv("DISPATCH_MESSAGING_GATEWAY_URL"); gatewayURL != "" {
		config.Messaging.GatewayURL = gatewayURL
	}
	if sendDelay := os.Getenv("DISPATCH_MESSAGING_SEND_DELAY"); sendDelay != "" {
		if d, err := time.ParseDuration(sendDelay); err == nil {
			config.Messaging.SendDelay = d
		}
	}
	if fallbackURL := os.Getenv("DISPATCH_MESSAGING_FALLBACK_URL"); fallbackURL != "" {
		config.Messaging.FallbackURL = fallbackURL
	}
	if fallbackToken := os.Getenv("DISPATCH_MESSAGING_FALLBACK_TOKEN"); fallbackToken != "" {
		config.Messaging.FallbackToken = fallbackToken
	}

	if dir := os.Getenv("DISPATCH_SCRIPT_DIR"); dir != "" {
		config.Script.Dir = dir
	}
	if threshold := os.Getenv("DISPATCH_SCRIPT_CPU_THRESHOLD"); threshold != "" {
		if t, err := strconv.ParseFloat(threshold, 64); err == nil {
			config.Script.CPUThreshold = t
		}
	}
	if threshold := os.Getenv("DISPATCH_SCRIPT_MEMORY_THRESHOLD"); threshold != "" {
		if t, err := strconv.ParseFloat(threshold, 64); err == nil {
			config.Script.MemoryThreshold = t
		}
	}
	if interval := os.Getenv("DISPATCH_SCRIPT_CHECK_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Script.CheckInterval = d
		}
	}
	if retries := os.Getenv("DISPATCH_SCRIPT_CHECK_RETRIES"); retries != "" {
		if r, err := strconv.Atoi(retries); err == nil {
			config.Script.CheckRetries = r
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config.
// Command-line flags have highest priority.
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

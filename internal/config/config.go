package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultDocumentContent is the text the shared document starts with
const DefaultDocumentContent = "Welcome to the Collaborative Document Editor!\n\n" +
	"Start typing to see real-time collaboration in action. Your changes will be instantly visible to all connected users.\n\n" +
	"Features:\n" +
	"• Real-time synchronization\n" +
	"• Live user list\n" +
	"• Automatic saving\n" +
	"• Mobile responsive design\n\n" +
	"Try opening this in multiple browser tabs to test the collaboration!"

type Config struct {
	ServerHost    string        `yaml:"server_host"`
	ServerPort    string        `yaml:"server_port"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	AllowedOrigin string        `yaml:"allowed_origin"`

	// WebSocket transport
	SendBufferSize int           `yaml:"send_buffer_size"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	PongWait       time.Duration `yaml:"pong_wait"`
	WriteWait      time.Duration `yaml:"write_wait"`

	// Presence
	PresenceSweepInterval time.Duration `yaml:"presence_sweep_interval"`
	PresenceIdleThreshold time.Duration `yaml:"presence_idle_threshold"`

	InitialDocument string `yaml:"initial_document"`

	// Logging
	LogLevel      string `yaml:"log_level"`
	LogJSON       bool   `yaml:"log_json"`
	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	LogMaxAgeDays int    `yaml:"log_max_age_days"`

	// Observability
	TracingEnabled bool   `yaml:"tracing_enabled"`
	JaegerEndpoint string `yaml:"jaeger_endpoint"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		ServerHost:    "localhost",
		ServerPort:    "3001",
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  15 * time.Second,
		IdleTimeout:   60 * time.Second,
		AllowedOrigin: "*",

		SendBufferSize: 256,
		MaxMessageSize: 1 << 20,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,

		PresenceSweepInterval: 2 * time.Second,
		PresenceIdleThreshold: 5 * time.Second,

		InitialDocument: DefaultDocumentContent,

		LogLevel:      "info",
		LogMaxSizeMB:  100,
		LogMaxBackups: 5,
		LogMaxAgeDays: 7,

		TracingEnabled: false,
		JaegerEndpoint: "http://localhost:14268/api/traces",
		MetricsEnabled: true,
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// the environment, in that order of precedence (environment wins).
func Load(path string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := Defaults()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ServerHost = getEnv("SERVER_HOST", c.ServerHost)
	c.ServerPort = getEnv("SERVER_PORT", getEnv("PORT", c.ServerPort))
	c.ReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", c.ReadTimeout)
	c.WriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", c.WriteTimeout)
	c.IdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", c.IdleTimeout)
	c.AllowedOrigin = getEnv("ALLOWED_ORIGIN", c.AllowedOrigin)

	c.SendBufferSize = getEnvInt("WS_SEND_BUFFER_SIZE", c.SendBufferSize)
	c.MaxMessageSize = int64(getEnvInt("WS_MAX_MESSAGE_SIZE", int(c.MaxMessageSize)))
	c.PongWait = getEnvDuration("WS_PONG_WAIT", c.PongWait)
	c.WriteWait = getEnvDuration("WS_WRITE_WAIT", c.WriteWait)

	c.PresenceSweepInterval = getEnvDuration("PRESENCE_SWEEP_INTERVAL", c.PresenceSweepInterval)
	c.PresenceIdleThreshold = getEnvDuration("PRESENCE_IDLE_THRESHOLD", c.PresenceIdleThreshold)

	c.InitialDocument = getEnv("DOCUMENT_INITIAL_CONTENT", c.InitialDocument)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogJSON = getEnvBool("LOG_JSON", c.LogJSON)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
	c.LogMaxSizeMB = getEnvInt("LOG_MAX_SIZE_MB", c.LogMaxSizeMB)
	c.LogMaxBackups = getEnvInt("LOG_MAX_BACKUPS", c.LogMaxBackups)
	c.LogMaxAgeDays = getEnvInt("LOG_MAX_AGE_DAYS", c.LogMaxAgeDays)

	c.TracingEnabled = getEnvBool("TRACING_ENABLED", c.TracingEnabled)
	c.JaegerEndpoint = getEnv("JAEGER_ENDPOINT", c.JaegerEndpoint)
	c.MetricsEnabled = getEnvBool("METRICS_ENABLED", c.MetricsEnabled)
}

// Validate checks the values that would otherwise fail at runtime
func (c *Config) Validate() error {
	var errs []error
	if c.ServerPort == "" {
		errs = append(errs, errors.New("server port is required"))
	}
	if c.SendBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("send buffer size must be positive, got %d", c.SendBufferSize))
	}
	if c.MaxMessageSize <= 0 {
		errs = append(errs, fmt.Errorf("max message size must be positive, got %d", c.MaxMessageSize))
	}
	if c.PongWait <= 0 || c.WriteWait <= 0 {
		errs = append(errs, errors.New("websocket pong and write waits must be positive"))
	}
	if c.PresenceSweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("presence sweep interval must be positive, got %s", c.PresenceSweepInterval))
	}
	if c.PresenceIdleThreshold <= 0 {
		errs = append(errs, fmt.Errorf("presence idle threshold must be positive, got %s", c.PresenceIdleThreshold))
	}
	return errors.Join(errs...)
}

// PresenceWarning describes a presence setup that is valid but probably
// unintended: sessions can go idle and come back between two sweeps without
// anyone seeing it. Empty when the settings are fine.
func (c *Config) PresenceWarning() string {
	if c.PresenceIdleThreshold < c.PresenceSweepInterval {
		return "presence idle threshold is shorter than the sweep interval"
	}
	return ""
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.ServerHost, c.ServerPort)
}

// PingPeriod is how often the server pings each connection; it must be
// shorter than PongWait.
func (c *Config) PingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Gateway providers understood by gateway.New.
const (
	ProviderOpenAI   = "openai"
	ProviderGenAI    = "genai"
	ProviderGrpc     = "grpc"
	ProviderScripted = "scripted"
)

// Config holds all application configuration.
type Config struct {
	Port            string                `yaml:"port"`
	FrontendURL     string                `yaml:"frontend_url"`
	DBPath          string                `yaml:"db_path"`
	SessionTTL      time.Duration         `yaml:"session_ttl"`
	LogLevel        string                `yaml:"log_level"`
	LogFile         string                `yaml:"log_file"`
	Gateway         GatewayConfig         `yaml:"gateway"`
	Assistant       AssistantConfig       `yaml:"assistant"`
	ConversationLog ConversationLogConfig `yaml:"conversation_log"`
	RateLimit       RateLimitConfig       `yaml:"rate_limit"`
	SSE             SSEConfig             `yaml:"sse"`
	Timeout         TimeoutConfig         `yaml:"timeout"`
}

// GatewayConfig selects and configures the completion provider.
// Credential is only ever read from the environment.
type GatewayConfig struct {
	Provider      string        `yaml:"provider"`
	BaseURL       string        `yaml:"base_url"`
	Credential    string        `yaml:"-"`
	Timeout       time.Duration `yaml:"timeout"`
	GitHubHeaders bool          `yaml:"github_headers"`
	GrpcAddress   string        `yaml:"grpc_address"`
	GCPProject    string        `yaml:"gcp_project"`
	GCPLocation   string        `yaml:"gcp_location"`
	GenAIBaseURL  string        `yaml:"genai_base_url"`
	ImageModel    string        `yaml:"image_model"`
	ImageSize     string        `yaml:"image_size"`
}

// AssistantConfig controls the assistant panel behaviour.
type AssistantConfig struct {
	PlanningModel      string `yaml:"planning_model"`
	CodingModel        string `yaml:"coding_model"`
	Greeting           string `yaml:"greeting"`
	RewriteFileMarkers bool   `yaml:"rewrite_file_markers"`
	HistoryLimit       int    `yaml:"history_limit"`
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Dir       string `yaml:"dir"`
	QueueSize int    `yaml:"queue_size"`
}

// RateLimitConfig bounds assistant submissions per user.
type RateLimitConfig struct {
	RequestsPerWindow int           `yaml:"requests_per_window"`
	WindowDuration    time.Duration `yaml:"window"`
}

// SSEConfig controls the assistant event stream.
type SSEConfig struct {
	KeepaliveInterval  time.Duration `yaml:"keepalive_interval"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	MaxRequestBodySize int64         `yaml:"max_request_body_size"`
	ReplayBufferSize   int           `yaml:"replay_buffer_size"`
}

// TimeoutConfig holds miscellaneous timeouts.
type TimeoutConfig struct {
	HealthCheck time.Duration `yaml:"health_check"`
	Shutdown    time.Duration `yaml:"shutdown"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Port:       "8080",
		DBPath:     "./data/zerocode.db",
		SessionTTL: 60 * time.Minute,
		LogLevel:   "info",
		Gateway: GatewayConfig{
			Provider:      ProviderScripted,
			BaseURL:       "https://models.github.ai/inference",
			Timeout:       2 * time.Minute,
			GitHubHeaders: true,
			GrpcAddress:   "localhost:50051",
			GCPLocation:   "us-central1",
			ImageModel:    "openai/dall-e-3",
			ImageSize:     "1024x1024",
		},
		Assistant: AssistantConfig{
			PlanningModel:      "openai/gpt-5",
			CodingModel:        "cohere/cohere-command-a",
			Greeting:           "I'll create a modern AI startup landing page with a sleek, futuristic design.",
			RewriteFileMarkers: true,
			HistoryLimit:       20,
		},
		ConversationLog: ConversationLogConfig{
			Enabled:   true,
			Dir:       "./data/logs/conversations",
			QueueSize: 1000,
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: 10,
			WindowDuration:    time.Minute,
		},
		SSE: SSEConfig{
			KeepaliveInterval:  10 * time.Second,
			RetryDelay:         5 * time.Second,
			MaxRequestBodySize: 1 << 20,
			ReplayBufferSize:   100,
		},
		Timeout: TimeoutConfig{
			HealthCheck: 5 * time.Second,
			Shutdown:    10 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// ZEROCODE_CONFIG, and environment variables, in that order of precedence.
func Load() (*Config, error) {
	return LoadWith(nil)
}

// LoadWith is Load with a final override step, applied after the environment
// and before validation. Command-line flags use it.
func LoadWith(override func(*Config)) (*Config, error) {
	cfg := Default()

	if path := getEnv("ZEROCODE_CONFIG", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	if override != nil {
		override(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.FrontendURL = getEnv("FRONTEND_URL", c.FrontendURL)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.SessionTTL = getEnvDuration("SESSION_TTL", c.SessionTTL)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)

	c.Gateway.Provider = strings.ToLower(getEnv("GATEWAY_PROVIDER", c.Gateway.Provider))
	c.Gateway.BaseURL = getEnv("GATEWAY_BASE_URL", c.Gateway.BaseURL)
	c.Gateway.Credential = getEnv("GATEWAY_API_KEY", getEnv("GITHUB_TOKEN", c.Gateway.Credential))
	c.Gateway.Timeout = getEnvDuration("GATEWAY_TIMEOUT", c.Gateway.Timeout)
	c.Gateway.GitHubHeaders = getEnvBool("GATEWAY_GITHUB_HEADERS", c.Gateway.GitHubHeaders)
	c.Gateway.GrpcAddress = getEnv("GATEWAY_GRPC_ADDR", c.Gateway.GrpcAddress)
	c.Gateway.GCPProject = getEnv("GATEWAY_GCP_PROJECT", c.Gateway.GCPProject)
	c.Gateway.GCPLocation = getEnv("GATEWAY_GCP_LOCATION", c.Gateway.GCPLocation)
	c.Gateway.GenAIBaseURL = getEnv("GATEWAY_GENAI_BASE_URL", c.Gateway.GenAIBaseURL)
	c.Gateway.ImageModel = getEnv("GATEWAY_IMAGE_MODEL", c.Gateway.ImageModel)
	c.Gateway.ImageSize = getEnv("GATEWAY_IMAGE_SIZE", c.Gateway.ImageSize)

	c.Assistant.PlanningModel = getEnv("ASSISTANT_PLANNING_MODEL", c.Assistant.PlanningModel)
	c.Assistant.CodingModel = getEnv("ASSISTANT_CODING_MODEL", c.Assistant.CodingModel)
	c.Assistant.Greeting = getEnv("ASSISTANT_GREETING", c.Assistant.Greeting)
	c.Assistant.RewriteFileMarkers = getEnvBool("ASSISTANT_REWRITE_FILE_MARKERS", c.Assistant.RewriteFileMarkers)
	c.Assistant.HistoryLimit = getEnvInt("ASSISTANT_HISTORY_LIMIT", c.Assistant.HistoryLimit)

	c.ConversationLog.Enabled = getEnvBool("CONVERSATION_LOG_ENABLED", c.ConversationLog.Enabled)
	c.ConversationLog.Dir = getEnv("CONVERSATION_LOG_DIR", c.ConversationLog.Dir)
	if n := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", c.ConversationLog.QueueSize); n > 0 {
		c.ConversationLog.QueueSize = n
	}

	c.RateLimit.RequestsPerWindow = getEnvInt("RATE_LIMIT_REQUESTS", c.RateLimit.RequestsPerWindow)
	c.RateLimit.WindowDuration = getEnvDuration("RATE_LIMIT_WINDOW", c.RateLimit.WindowDuration)
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}
	if c.Assistant.PlanningModel == "" || c.Assistant.CodingModel == "" {
		return fmt.Errorf("assistant planning and coding models must be set")
	}

	switch c.Gateway.Provider {
	case ProviderOpenAI:
		if c.Gateway.Credential == "" {
			return fmt.Errorf("GATEWAY_API_KEY is required for the %s provider", ProviderOpenAI)
		}
		if c.Gateway.BaseURL == "" {
			return fmt.Errorf("GATEWAY_BASE_URL cannot be empty")
		}
	case ProviderGenAI:
		if c.Gateway.Credential == "" && c.Gateway.GCPProject == "" {
			return fmt.Errorf("GATEWAY_API_KEY or GATEWAY_GCP_PROJECT is required for the %s provider", ProviderGenAI)
		}
	case ProviderGrpc:
		if c.Gateway.GrpcAddress == "" {
			return fmt.Errorf("GATEWAY_GRPC_ADDR is required for the %s provider", ProviderGrpc)
		}
	case ProviderScripted:
	default:
		return fmt.Errorf("unknown gateway provider %q", c.Gateway.Provider)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins derived from FrontendURL.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{strings.TrimRight(c.FrontendURL, "/")}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

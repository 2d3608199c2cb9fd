package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the ZeroLoop service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProviderConfig `mapstructure:"providers"`
	Routing   LLMRoutingConfig             `mapstructure:"routing"`
}

// LLMProviderConfig represents a single LLM provider configuration
type LLMProviderConfig struct {
	Type    string              `mapstructure:"type"` // openai (OpenAI-compatible chat completions)
	APIKey  string              `mapstructure:"api_key"`
	BaseURL string              `mapstructure:"base_url"`
	Models  map[string]LLMModel `mapstructure:"models"`
	Timeout time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig defines which model to use for different tasks
type LLMRoutingConfig struct {
	Chat           string `mapstructure:"chat"`           // direct conversational replies
	Classification string `mapstructure:"classification"` // plan detection
	Adaptation     string `mapstructure:"adaptation"`     // mid-plan adaptation analysis
	Synthesis      string `mapstructure:"synthesis"`      // final synthesis
	Fallback       string `mapstructure:"fallback"`
}

// DetectorConfig controls plan detection behaviour
type DetectorConfig struct {
	UseModel      bool `mapstructure:"use_model"`      // enable the model-assisted detector
	HistoryWindow int  `mapstructure:"history_window"` // history entries considered for context
}

// ToolsConfig contains settings for all tool backends
type ToolsConfig struct {
	WebSearch WebSearchConfig           `mapstructure:"web_search"`
	Scraper   ScraperConfig             `mapstructure:"scraper"`
	GitHub    GitHubConfig              `mapstructure:"github"`
	Jira      JiraConfig                `mapstructure:"jira"`
	Endpoints map[string]EndpointConfig `mapstructure:"endpoints"`

	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
}

// WebSearchConfig selects and authenticates a web search provider
type WebSearchConfig struct {
	Provider     string `mapstructure:"provider"` // brave or serper
	BraveAPIKey  string `mapstructure:"brave_api_key"`
	SerperAPIKey string `mapstructure:"serper_api_key"`
	MaxResults   int    `mapstructure:"max_results"`
}

// ScraperConfig configures the headless page scraper
type ScraperConfig struct {
	TimeoutMS int `mapstructure:"timeout_ms"`
	MaxChars  int `mapstructure:"max_chars"`
}

// GitHubConfig configures the GitHub tool backend
type GitHubConfig struct {
	Token   string `mapstructure:"token"`
	BaseURL string `mapstructure:"base_url"`
}

// JiraConfig configures the Jira tool backend
type JiraConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	Email    string `mapstructure:"email"`
	APIToken string `mapstructure:"api_token"`
}

// EndpointConfig describes a generic named HTTP tool backend (hosted edge function)
type EndpointConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

// StorageConfig contains storage backend settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains PostgreSQL connection settings
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds a postgres connection string from either URL or discrete fields.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	CostTracking bool   `mapstructure:"cost_tracking"`
	PeriodicLogs bool   `mapstructure:"periodic_logs"`
	LogFile      string `mapstructure:"log_file"`
}

// SchedulerConfig controls recurring plan runs
type SchedulerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// JWTSecret resolves the shared JWT secret.
/// Preference order: server.jwt_secret, general.jwt_secret.
func (c *Config) JWTSecret() ([]byte, error) {
	if c.Server.JWTSecret != "" {
		return []byte(c.Server.JWTSecret), nil
	}
	if c.General.JWTSecret != "" {
		return []byte(c.General.JWTSecret), nil
	}
	return nil, fmt.Errorf("jwt secret not configured (server.jwt_secret or general.jwt_secret)")
}

// LoadConfig reads configuration from file and environment (ZEROLOOP_*)
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("general.default_timeout", "60s")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("server.address", ":10001")
	viper.SetDefault("detector.use_model", false)
	viper.SetDefault("detector.history_window", 10)
	viper.SetDefault("tools.request_timeout", "15s")
	viper.SetDefault("tools.max_retries", 2)
	viper.SetDefault("tools.retry_backoff", "300ms")
	viper.SetDefault("tools.web_search.provider", "brave")
	viper.SetDefault("tools.web_search.max_results", 5)
	viper.SetDefault("tools.scraper.timeout_ms", 15000)
	viper.SetDefault("tools.scraper.max_chars", 20000)
	viper.SetDefault("scheduler.tick_interval", "1m")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			viper.AddConfigPath(exeDir)
			viper.AddConfigPath(filepath.Join(exeDir, ".."))
			viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("ZEROLOOP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "warning: reading config: %v\n", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("unable to decode config: %w", err))
	}
	return &config
}

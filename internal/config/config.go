package config

import (
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	// Logging configuration
	LogLevel string `mapstructure:"log_level"`

	// Authentication configuration for the admin endpoints
	EnableAuthentication bool   `mapstructure:"enable_authentication"`
	BearerToken          string `mapstructure:"bearer_token"`

	// Redis configuration
	RedisURL string `mapstructure:"redis_url"`

	// Server configuration
	Port string `mapstructure:"port"`

	// WebhookURL is the public callback URL registered on every remote hook
	WebhookURL string `mapstructure:"webhook_url"`

	// Outbound HTTP configuration
	HTTPTimeoutSeconds int  `mapstructure:"http_timeout_seconds"`
	SkipTLSVerify      bool `mapstructure:"skip_tls_verify"`

	// Backend credentials. Empty values fall back to the key-value store.
	GitLab GitLabConfig `mapstructure:"gitlab"`
	GitHub GitHubConfig `mapstructure:"github"`
	Jira   JiraConfig   `mapstructure:"jira"`
}

// GitLabConfig holds the GitLab instance URL and personal access token
type GitLabConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

// GitHubConfig holds GitHub API and web URLs and the access token
type GitHubConfig struct {
	APIURL string `mapstructure:"api_url"`
	WebURL string `mapstructure:"web_url"`
	Token  string `mapstructure:"token"`
}

// JiraConfig holds the Jira site URL and basic-auth credentials
type JiraConfig struct {
	URL   string `mapstructure:"url"`
	User  string `mapstructure:"user"`
	Token string `mapstructure:"token"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		LogLevel:           "info",
		Port:               "8080",
		HTTPTimeoutSeconds: 30,
		GitHub: GitHubConfig{
			APIURL: "https://api.github.com",
			WebURL: "https://github.com",
		},
	}
}

// SetDefaults registers default values with viper and binds the environment.
// Nested keys map to env names with dots replaced, e.g. gitlab.token -> GITLAB_TOKEN.
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("enable_authentication", defaults.EnableAuthentication)
	v.SetDefault("bearer_token", defaults.BearerToken)
	v.SetDefault("redis_url", defaults.RedisURL)
	v.SetDefault("port", defaults.Port)
	v.SetDefault("webhook_url", defaults.WebhookURL)
	v.SetDefault("http_timeout_seconds", defaults.HTTPTimeoutSeconds)
	v.SetDefault("skip_tls_verify", defaults.SkipTLSVerify)

	v.SetDefault("gitlab.url", defaults.GitLab.URL)
	v.SetDefault("gitlab.token", defaults.GitLab.Token)

	v.SetDefault("github.api_url", defaults.GitHub.APIURL)
	v.SetDefault("github.web_url", defaults.GitHub.WebURL)
	v.SetDefault("github.token", defaults.GitHub.Token)

	v.SetDefault("jira.url", defaults.Jira.URL)
	v.SetDefault("jira.user", defaults.Jira.User)
	v.SetDefault("jira.token", defaults.Jira.Token)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// LoadConfig reads configuration from viper into a Config struct
func LoadConfig(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.GitLab.URL = strings.TrimRight(cfg.GitLab.URL, "/")
	cfg.GitHub.APIURL = strings.TrimRight(cfg.GitHub.APIURL, "/")
	cfg.GitHub.WebURL = strings.TrimRight(cfg.GitHub.WebURL, "/")
	cfg.Jira.URL = strings.TrimRight(cfg.Jira.URL, "/")

	return &cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return &ConfigError{Field: "REDIS_URL", Message: "Redis URL is required"}
	}

	if c.EnableAuthentication && c.BearerToken == "" {
		return &ConfigError{Field: "BEARER_TOKEN", Message: "Bearer token is required when authentication is enabled"}
	}

	if c.WebhookURL != "" {
		u, err := url.Parse(c.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ConfigError{Field: "WEBHOOK_URL", Message: "Webhook URL must be an absolute http(s) URL"}
		}
	}

	if c.HTTPTimeoutSeconds <= 0 {
		return &ConfigError{Field: "HTTP_TIMEOUT_SECONDS", Message: "HTTP timeout must be positive"}
	}

	return nil
}

// HTTPTimeout returns the outbound request timeout as a time.Duration
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// GetLogLevel returns the slog.Level for the configured log level
func (c *Config) GetLogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ConfigDir returns the directory searched for issuelinks.yaml
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "issuelinks")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".issuelinks"
	}
	return filepath.Join(home, ".config", "issuelinks")
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "Configuration error for " + e.Field + ": " + e.Message
}

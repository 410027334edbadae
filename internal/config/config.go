// Package config loads daemon and proxy settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the sync daemon configuration.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:"127.0.0.1:5174"`
	DBPath      string `envconfig:"DB_PATH" default:"tangled.db"`

	// Data repository
	GitHubAPIURL    string `envconfig:"GITHUB_API_URL" default:"https://api.github.com/"`
	RepoOwner       string `envconfig:"GITHUB_REPO_OWNER" default:"cinnamon-msft"`
	RepoName        string `envconfig:"GITHUB_REPO_NAME" default:"tangled"`
	Branch          string `envconfig:"GITHUB_BRANCH" default:"main"`
	DataPath        string `envconfig:"DATA_PATH" default:"frontend/public/data"`
	SnapshotBaseURL string `envconfig:"SNAPSHOT_BASE_URL" default:"https://cinnamon-msft.github.io/tangled"`
	DocumentVersion string `envconfig:"DOCUMENT_VERSION" default:"1.0"`

	// Sign-in: "device", "token" or "proxy"
	AuthStrategy  string `envconfig:"AUTH_STRATEGY" default:"device"`
	ClientID      string `envconfig:"GITHUB_CLIENT_ID"`
	OAuthScope    string `envconfig:"OAUTH_SCOPE" default:"repo"`
	DeviceCodeURL string `envconfig:"DEVICE_CODE_URL" default:"https://github.com/login/device/code"`
	TokenURL      string `envconfig:"TOKEN_URL" default:"https://github.com/login/oauth/access_token"`
	OAuthProxyURL string `envconfig:"OAUTH_PROXY_URL"`

	// Local API
	APIKey         string        `envconfig:"API_KEY"`
	RateLimitRPS   float64       `envconfig:"RATE_LIMIT_RPS" default:"50"`
	RateLimitBurst int           `envconfig:"RATE_LIMIT_BURST" default:"100"`
	CORSOrigins    string        `envconfig:"CORS_ORIGINS"`
	HTTPTimeout    time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`
}

// ProxyConfig holds the OAuth code-exchange proxy configuration.
type ProxyConfig struct {
	Environment   string        `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel      string        `envconfig:"LOG_LEVEL" default:"info"`
	ListenAddr    string        `envconfig:"PROXY_LISTEN_ADDR" default:":8787"`
	ClientID      string        `envconfig:"GITHUB_CLIENT_ID" required:"true"`
	ClientSecret  string        `envconfig:"GITHUB_CLIENT_SECRET" required:"true"`
	AllowedOrigin string        `envconfig:"ALLOWED_ORIGIN" default:"*"`
	StateSecret   string        `envconfig:"STATE_SECRET"`
	StateTTL      time.Duration `envconfig:"STATE_TTL" default:"10m"`
	AuthorizeURL  string        `envconfig:"AUTHORIZE_URL" default:"https://github.com/login/oauth/authorize"`
	TokenURL      string        `envconfig:"TOKEN_URL" default:"https://github.com/login/oauth/access_token"`
	RedirectURL   string        `envconfig:"REDIRECT_URL"`
	OAuthScope    string        `envconfig:"OAUTH_SCOPE" default:"repo"`
	HTTPTimeout   time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`
}

// IsDevelopment switches on human-readable logs.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// CORSOriginList returns the parsed list of allowed origins, or nil.
func (c *Config) CORSOriginList() []string {
	if c.CORSOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, o := range parts {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// Validate checks settings that depend on each other.
func (c *Config) Validate() error {
	if c.RepoOwner == "" || c.RepoName == "" {
		return fmt.Errorf("GITHUB_REPO_OWNER and GITHUB_REPO_NAME are required")
	}
	switch strings.ToLower(c.AuthStrategy) {
	case "device":
		if c.ClientID == "" {
			return fmt.Errorf("GITHUB_CLIENT_ID is required for the device strategy")
		}
	case "proxy":
		if c.OAuthProxyURL == "" {
			return fmt.Errorf("OAUTH_PROXY_URL is required for the proxy strategy")
		}
	case "token":
	default:
		return fmt.Errorf("unknown AUTH_STRATEGY %q", c.AuthStrategy)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	return nil
}

// Load reads an optional .env file, then the daemon configuration.
func Load(envFiles ...string) (*Config, error) {
	if err := loadDotEnv(envFiles); err != nil {
		return nil, err
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// LoadProxy reads an optional .env file, then the proxy configuration.
func LoadProxy(envFiles ...string) (*ProxyConfig, error) {
	if err := loadDotEnv(envFiles); err != nil {
		return nil, err
	}
	var cfg ProxyConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading proxy config: %w", err)
	}
	if cfg.StateSecret == "" {
		cfg.StateSecret = cfg.ClientSecret
	}
	return &cfg, nil
}

// loadDotEnv never overrides variables that are already set. A missing file is fine.
func loadDotEnv(files []string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

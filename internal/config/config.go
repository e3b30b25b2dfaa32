package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Storage  StorageConfig  `toml:"storage"`
	Auth     AuthConfig     `toml:"auth"`
	Billing  BillingConfig  `toml:"billing"`
	Logging  LoggingConfig  `toml:"logging"`
	Ngrok    NgrokConfig    `toml:"ngrok"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port        string `toml:"port"`
	Host        string `toml:"host"`
	SiteURL     string `toml:"site_url"` // base URL used for checkout redirects
	StaticDir   string `toml:"static_dir"`
	EnableCORS  bool   `toml:"enable_cors"`
	ReadTimeout int    `toml:"read_timeout_seconds"`
}

// DatabaseConfig contains database-related configuration
type DatabaseConfig struct {
	Path           string `toml:"path"`
	MaxConnections int    `toml:"max_connections"`
}

// StorageConfig contains object storage configuration. Songs and cover images
// live in separate buckets under the root directory.
type StorageConfig struct {
	Root             string   `toml:"root"`
	SupportedFormats []string `toml:"supported_formats"`
	WatchSongsBucket bool     `toml:"watch_songs_bucket"`
	MaxUploadSize    int64    `toml:"max_upload_size_mb"`
}

// AuthConfig contains authentication configuration
type AuthConfig struct {
	UsersFilePath     string `toml:"users_file_path"`
	SessionDuration   string `toml:"session_duration"`
	SecureCookies     bool   `toml:"secure_cookies"`
	AllowRegistration bool   `toml:"allow_registration"`
}

// BillingConfig contains payment processor configuration. The secret key and
// webhook secret are read from the environment (STRIPE_SECRET_KEY,
// STRIPE_WEBHOOK_SECRET) so they never land in the config file.
type BillingConfig struct {
	Enabled             bool   `toml:"enabled"`
	SuccessPath         string `toml:"success_path"`
	CancelPath          string `toml:"cancel_path"`
	AllowPromotionCodes bool   `toml:"allow_promotion_codes"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level          string `toml:"level"`
	Format         string `toml:"format"`
	RequestLogging bool   `toml:"request_logging"`
}

// NgrokConfig contains ngrok tunnel configuration. The tunnel exposes the
// server (and with it the webhook endpoint) publicly during development.
type NgrokConfig struct {
	Enabled   bool   `toml:"enabled"`
	AuthToken string `toml:"auth_token"`
	Domain    string `toml:"domain"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8080",
			Host:        "0.0.0.0",
			SiteURL:     "http://localhost:8080/",
			StaticDir:   "./static",
			EnableCORS:  true,
			ReadTimeout: 30,
		},
		Database: DatabaseConfig{
			Path:           "./harmonia.db",
			MaxConnections: 10,
		},
		Storage: StorageConfig{
			Root:             "./storage",
			SupportedFormats: []string{".flac", ".mp3", ".wav", ".m4a"},
			WatchSongsBucket: true,
			MaxUploadSize:    50,
		},
		Auth: AuthConfig{
			UsersFilePath:     "./users.toml",
			SessionDuration:   "24h",
			SecureCookies:     false,
			AllowRegistration: true,
		},
		Billing: BillingConfig{
			Enabled:             true,
			SuccessPath:         "account",
			CancelPath:          "",
			AllowPromotionCodes: true,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "text",
			RequestLogging: true,
		},
		Ngrok: NgrokConfig{
			Enabled:   false,
			AuthToken: "",
			Domain:    "",
		},
	}
}

// LoadConfig loads configuration from a TOML file
func LoadConfig(configPath string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Config file doesn't exist, create it with defaults
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
		fmt.Printf("Created default configuration file at: %s\n", configPath)
		return cfg, nil
	}

	// Load from file
	if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Create or open file
	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	// Write header comment
	header := `# Harmonia Music Server Configuration
# This file contains all configuration options for the Harmonia streaming server.
# Stripe credentials are NOT configured here: set STRIPE_SECRET_KEY and
# STRIPE_WEBHOOK_SECRET in the environment or in a .env file.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	// Encode configuration to TOML
	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	// Validate database config
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.MaxConnections < 1 {
		return fmt.Errorf("database max connections must be at least 1")
	}

	// Validate storage config
	if c.Storage.Root == "" {
		return fmt.Errorf("storage root cannot be empty")
	}
	if len(c.Storage.SupportedFormats) == 0 {
		return fmt.Errorf("at least one supported audio format must be specified")
	}
	if c.Storage.MaxUploadSize < 1 {
		return fmt.Errorf("max upload size must be at least 1 MB")
	}

	// Validate auth config
	if c.Auth.UsersFilePath == "" {
		return fmt.Errorf("users file path cannot be empty")
	}
	if c.Auth.SessionDuration == "" {
		return fmt.Errorf("session duration cannot be empty")
	}

	// Validate logging config
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// GetAddress returns the full server address
func (c *Config) GetAddress() string {
	return c.Server.Host + ":" + c.Server.Port
}

// GetSiteURL returns the configured site URL normalized to end with a slash.
func (c *Config) GetSiteURL() string {
	url := c.Server.SiteURL
	if url == "" {
		url = "http://localhost:" + c.Server.Port + "/"
	}
	if url[len(url)-1] != '/' {
		url += "/"
	}
	return url
}

// IsFormatSupported checks if an audio format is supported
func (c *Config) IsFormatSupported(format string) bool {
	for _, supported := range c.Storage.SupportedFormats {
		if supported == format {
			return true
		}
	}
	return false
}

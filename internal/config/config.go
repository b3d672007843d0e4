package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/eternisai/enchanted-notify/internal/deeplink"
	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

type Config struct {
	Host    string
	Port    string
	GinMode string

	// Notification backend
	APIBaseURL          string
	HubURL              string
	HubEventName        string
	HubPingInterval     time.Duration
	HubHandshakeTimeout time.Duration

	// Tokens
	AccessToken           string
	RefreshToken          string
	TokenRefreshLookahead time.Duration
	OAuthTokenURL         string
	OAuthClientID         string
	OAuthClientSecret     string

	// Local control surface; empty disables the bearer check.
	ControlToken string

	// Reconnect backoff
	BackoffFastWindow time.Duration
	BackoffMaxJitter  time.Duration
	BackoffSlowDelay  time.Duration

	// Working set
	StoreCapacity          int
	BootstrapFallbackCount int
	BootstrapPageSize      int

	// Change events
	NatsURL string

	// Server
	ServerShutdownTimeoutSeconds int

	// Logging
	LogLevel  string
	LogFormat string

	// From the config file.
	Ticker TickerConfig
	Routes deeplink.Paths
}

// TickerConfig is the ticker section of the config file.
type TickerConfig struct {
	RotationInterval Duration `yaml:"rotation_interval"`
	FadeDuration     Duration `yaml:"fade_duration"`
	ForceOpenWindow  Duration `yaml:"force_open_window"`
}

// Duration decodes YAML strings like "5s" or "300ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"'`)
	if s == "" {
		*d = 0
		return nil
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

var AppConfig *Config

func LoadConfig() {
	// Load .env file if it exists
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	AppConfig = cfg

	if AppConfig.APIBaseURL == "" || AppConfig.HubURL == "" {
		log.Println("Warning: NOTIFY_API_URL or NOTIFY_HUB_URL is not set. Sessions will fail to connect.")
	}

	if AppConfig.ControlToken == "" {
		log.Println("Warning: CONTROL_TOKEN is not set. The control API is open to every local process.")
	}

	if AppConfig.OAuthTokenURL != "" {
		log.Printf("OAuth2 token refresh configured: token_url=%s client_id=%s", AppConfig.OAuthTokenURL, AppConfig.OAuthClientID)
	}
}

// Load reads the environment and the optional config file.
func Load() (*Config, error) {
	cfg := &Config{
		Host:    getEnvOrDefault("HOST", "127.0.0.1"),
		Port:    getEnvOrDefault("PORT", "8787"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),

		// Notification backend
		APIBaseURL:          getEnvOrDefault("NOTIFY_API_URL", ""),
		HubURL:              getEnvOrDefault("NOTIFY_HUB_URL", ""),
		HubEventName:        getEnvOrDefault("NOTIFY_HUB_EVENT", "ReceiveNotification"),
		HubPingInterval:     getEnvAsDuration("NOTIFY_HUB_PING_INTERVAL", 30*time.Second),
		HubHandshakeTimeout: getEnvAsDuration("NOTIFY_HUB_HANDSHAKE_TIMEOUT", 15*time.Second),

		// Tokens (trim whitespace to avoid common config errors)
		AccessToken:           strings.TrimSpace(getEnvOrDefault("NOTIFY_ACCESS_TOKEN", "")),
		RefreshToken:          strings.TrimSpace(getEnvOrDefault("NOTIFY_REFRESH_TOKEN", "")),
		TokenRefreshLookahead: getEnvAsDuration("TOKEN_REFRESH_LOOKAHEAD", 60*time.Second),
		OAuthTokenURL:         getEnvOrDefault("OAUTH_TOKEN_URL", ""),
		OAuthClientID:         getEnvOrDefault("OAUTH_CLIENT_ID", ""),
		OAuthClientSecret:     strings.TrimSpace(getEnvOrDefault("OAUTH_CLIENT_SECRET", "")),

		ControlToken: strings.TrimSpace(getEnvOrDefault("CONTROL_TOKEN", "")),

		// Reconnect backoff
		BackoffFastWindow: getEnvAsDuration("BACKOFF_FAST_WINDOW", 60*time.Second),
		BackoffMaxJitter:  getEnvAsDuration("BACKOFF_MAX_JITTER", 5*time.Second),
		BackoffSlowDelay:  getEnvAsDuration("BACKOFF_SLOW_DELAY", 10*time.Second),

		// Working set
		StoreCapacity:          getEnvAsInt("STORE_CAPACITY", 5),
		BootstrapFallbackCount: getEnvAsInt("BOOTSTRAP_FALLBACK_COUNT", 3),
		BootstrapPageSize:      getEnvAsInt("BOOTSTRAP_PAGE_SIZE", 10),

		NatsURL: getEnvOrDefault("NATS_URL", ""),

		ServerShutdownTimeoutSeconds: getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 10),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),

		Ticker: TickerConfig{
			RotationInterval: Duration(5 * time.Second),
			FadeDuration:     Duration(300 * time.Millisecond),
			ForceOpenWindow:  Duration(10 * time.Second),
		},
		Routes: deeplink.DefaultPaths(),
	}

	// The config file only carries ticker timings and routes; a missing file
	// keeps the defaults.
	configFilePath := getEnvOrDefault("CONFIG_FILE", "config.yaml")

	configFile, err := os.Open(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer configFile.Close()

	log.Printf("Loading config file: %v", configFilePath)
	if err := LoadConfigFile(configFile, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", configFilePath, err)
	}

	return cfg, nil
}

// LoadConfigFile overlays the ticker and routes sections of a YAML document.
// Fields the document leaves out keep their current values.
func LoadConfigFile(reader io.Reader, config *Config) error {
	var file struct {
		Ticker TickerConfig   `yaml:"ticker"`
		Routes deeplink.Paths `yaml:"routes"`
	}

	decoder := yaml.NewDecoder(reader)
	if err := decoder.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	if file.Ticker.RotationInterval > 0 {
		config.Ticker.RotationInterval = file.Ticker.RotationInterval
	}
	if file.Ticker.FadeDuration > 0 {
		config.Ticker.FadeDuration = file.Ticker.FadeDuration
	}
	if file.Ticker.ForceOpenWindow > 0 {
		config.Ticker.ForceOpenWindow = file.Ticker.ForceOpenWindow
	}
	config.Routes = file.Routes.Merge(config.Routes)

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as time.Duration, using default %v: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/planthub-poller/internal/validation"
)

// Plant is one configured plant: the id the API knows it by and the label
// shown to readers.
type Plant struct {
	ID          string `yaml:"plant_id"`
	DisplayName string `yaml:"display_name"`
}

// Config holds service configuration loaded from YAML and env.
type Config struct {
	Environment string
	ServerPort  string

	APIToken        string
	WebhookBaseURL  string
	WebhookEndpoint string
	WebhookTimeout  time.Duration
	AddressingMode  string // "path", "body" or "batch"
	ValidateOnStart bool

	RefreshInterval    time.Duration
	RefreshTimeout     time.Duration
	RefreshConcurrency int

	Plants              []Plant
	PlaceholdersEnabled bool
	Placeholders        []Plant

	StoreBackend          string // "none", "in_memory" or "memcached"
	StoreTTL              time.Duration
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RetryAttempts           int
	RetryBaseDelay          time.Duration
	RetryMaxDelay           time.Duration
	CircuitBreakerEnabled   bool
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration

	RequestTimeout time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	HealthWindow         time.Duration
	DegradedErrorPct     int
	OverloadThresholdPct int

	TracingEnabled       bool
	TracingEndpoint      string
	TracingSamplingRatio float64

	ShutdownTimeout time.Duration
}

// PlantIDs returns the configured plant ids in order.
func (c *Config) PlantIDs() []string {
	ids := make([]string, len(c.Plants))
	for i, p := range c.Plants {
		ids[i] = p.ID
	}
	return ids
}

type fileConfig struct {
	Server struct {
		Port           string `yaml:"port"`
		RequestTimeout string `yaml:"request_timeout"`
	} `yaml:"server"`

	Webhook struct {
		BaseURL         string `yaml:"base_url"`
		Endpoint        string `yaml:"endpoint"`
		Timeout         string `yaml:"timeout"`
		AddressingMode  string `yaml:"addressing_mode"`
		ValidateOnStart *bool  `yaml:"validate_on_start"`
	} `yaml:"webhook"`

	Refresh struct {
		Interval    string `yaml:"interval"`
		Timeout     string `yaml:"timeout"`
		Concurrency int    `yaml:"concurrency"`
	} `yaml:"refresh"`

	Plants []Plant `yaml:"plants"`

	Placeholders struct {
		Enabled *bool   `yaml:"enabled"`
		Plants  []Plant `yaml:"plants"`
	} `yaml:"placeholders"`

	Store struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"store"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		CircuitBreaker   struct {
			Enabled          bool   `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Health struct {
		Window               string `yaml:"window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
	} `yaml:"health"`

	Tracing struct {
		Enabled       bool     `yaml:"enabled"`
		Endpoint      string   `yaml:"endpoint"`
		SamplingRatio *float64 `yaml:"sampling_ratio"`
	} `yaml:"tracing"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	APIToken string `yaml:"planthub_api_token"`
}

var defaultPlaceholders = []Plant{{ID: "example_plant", DisplayName: "Example Plant"}}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and
// config/secrets.yaml under the working directory. The API token comes from
// PLANTHUB_API_TOKEN or the secrets file.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadDir(cwd)
}

// LoadDir is Load rooted at dir instead of the working directory.
func LoadDir(dir string) (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(dir, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{Environment: env}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	cfg.RequestTimeout = parseDuration(fc.Server.RequestTimeout, 5*time.Second)

	cfg.APIToken = strings.TrimSpace(os.Getenv("PLANTHUB_API_TOKEN"))
	if cfg.APIToken == "" {
		token, err := readSecretsToken(filepath.Join(dir, "config", "secrets.yaml"))
		if err != nil {
			return nil, err
		}
		cfg.APIToken = token
	}
	if cfg.APIToken == "" {
		return nil, fmt.Errorf("PLANTHUB_API_TOKEN required (set env or config/secrets.yaml planthub_api_token)")
	}

	cfg.WebhookBaseURL = strings.TrimSpace(os.Getenv("PLANTHUB_BASE_URL"))
	if cfg.WebhookBaseURL == "" {
		cfg.WebhookBaseURL = strings.TrimSpace(fc.Webhook.BaseURL)
	}
	if cfg.WebhookBaseURL == "" {
		cfg.WebhookBaseURL = "http://govegan.local:5678/webhook/v1"
	}
	cfg.WebhookEndpoint = fc.Webhook.Endpoint
	if cfg.WebhookEndpoint == "" {
		cfg.WebhookEndpoint = "/planthub"
	}
	cfg.WebhookTimeout = parseDurationOrZero(fc.Webhook.Timeout, 30*time.Second)
	cfg.AddressingMode = strings.ToLower(strings.TrimSpace(fc.Webhook.AddressingMode))
	if cfg.AddressingMode == "" {
		cfg.AddressingMode = "path"
	}
	cfg.ValidateOnStart = true
	if fc.Webhook.ValidateOnStart != nil {
		cfg.ValidateOnStart = *fc.Webhook.ValidateOnStart
	}

	cfg.RefreshInterval = parseDurationOrZero(fc.Refresh.Interval, 300*time.Second)
	cfg.RefreshTimeout = parseDuration(fc.Refresh.Timeout, cfg.RefreshInterval)
	cfg.RefreshConcurrency = fc.Refresh.Concurrency
	if cfg.RefreshConcurrency <= 0 {
		cfg.RefreshConcurrency = 4
	}

	cfg.Plants = trimPlants(fc.Plants)
	cfg.PlaceholdersEnabled = true
	if fc.Placeholders.Enabled != nil {
		cfg.PlaceholdersEnabled = *fc.Placeholders.Enabled
	}
	cfg.Placeholders = trimPlants(fc.Placeholders.Plants)
	if len(cfg.Placeholders) == 0 {
		cfg.Placeholders = defaultPlaceholders
	}

	cfg.StoreBackend = strings.TrimSpace(strings.ToLower(os.Getenv("STORE_BACKEND")))
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = strings.TrimSpace(strings.ToLower(fc.Store.Backend))
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = "in_memory"
	}
	cfg.StoreTTL = parseDuration(fc.Store.TTL, 24*time.Hour)
	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Store.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Store.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Store.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 500*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 5*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}
	cfg.CircuitBreakerEnabled = fc.Reliability.CircuitBreaker.Enabled
	cfg.CircuitBreakerThreshold = fc.Reliability.CircuitBreaker.FailureThreshold
	if cfg.CircuitBreakerThreshold <= 0 {
		cfg.CircuitBreakerThreshold = 5
	}
	cfg.CircuitBreakerTimeout = parseDuration(fc.Reliability.CircuitBreaker.Timeout, 60*time.Second)

	cfg.HealthWindow = parseDuration(fc.Health.Window, 15*time.Minute)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}
	cfg.OverloadThresholdPct = fc.Health.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}

	cfg.TracingEnabled = fc.Tracing.Enabled
	cfg.TracingEndpoint = strings.TrimSpace(fc.Tracing.Endpoint)
	cfg.TracingSamplingRatio = 1.0
	if fc.Tracing.SamplingRatio != nil {
		cfg.TracingSamplingRatio = *fc.Tracing.SamplingRatio
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readSecretsToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return strings.TrimSpace(sec.APIToken), nil
}

func trimPlants(in []Plant) []Plant {
	out := make([]Plant, 0, len(in))
	for _, p := range in {
		out = append(out, Plant{
			ID:          strings.TrimSpace(p.ID),
			DisplayName: strings.TrimSpace(p.DisplayName),
		})
	}
	return out
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero or negative durations are returned as-is so validate can reject them.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load checks. It clamps the refresh timeout to the
// interval so a slow cycle cannot overlap the next tick.
func validate(cfg *Config) error {
	if cfg.WebhookTimeout <= 0 {
		return fmt.Errorf("webhook.timeout must be positive")
	}
	if cfg.RefreshInterval <= 0 {
		return fmt.Errorf("refresh.interval must be positive")
	}
	if cfg.RefreshTimeout > cfg.RefreshInterval {
		cfg.RefreshTimeout = cfg.RefreshInterval
	}
	switch cfg.AddressingMode {
	case "path", "body", "batch":
	default:
		return fmt.Errorf("webhook.addressing_mode must be path, body or batch, got %q", cfg.AddressingMode)
	}
	switch cfg.StoreBackend {
	case "none", "in_memory", "memcached":
	default:
		return fmt.Errorf("store.backend must be none, in_memory or memcached, got %q", cfg.StoreBackend)
	}
	if cfg.TracingSamplingRatio < 0 || cfg.TracingSamplingRatio > 1 {
		return fmt.Errorf("tracing.sampling_ratio must be between 0 and 1, got %v", cfg.TracingSamplingRatio)
	}

	seen := make(map[string]struct{}, len(cfg.Plants))
	for i, p := range cfg.Plants {
		if err := validation.ValidatePlantID(p.ID); err != nil {
			return fmt.Errorf("plants[%d]: %w", i, err)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("plants[%d]: duplicate plant_id %q", i, p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	for i, p := range cfg.Placeholders {
		if err := validation.ValidatePlantID(p.ID); err != nil {
			return fmt.Errorf("placeholders.plants[%d]: %w", i, err)
		}
	}
	return nil
}

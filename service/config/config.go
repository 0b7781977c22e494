package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string
	LogFormat   string

	// Solana configuration
	SolanaRPCURLs    []string
	SolanaWSURL      string
	SolanaCommitment string
	RPCRateLimit     float64
	RPCRateBurst     int

	// Stake engine configuration
	RewardBatchSize      int
	BlockTimeMaxAttempts int
	BlockTimeRetryDelay  time.Duration
	BlockTimeCacheSize   int
	RewardCacheSize      int

	// Redis configuration (optional shared block-time cache)
	RedisURL string

	// NATS configuration
	NATSURL     string
	NATSEnabled bool

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
	ReportInterval    time.Duration
}

// source resolves a key from the environment first, then the optional YAML
// file named by CONFIG_FILE.
type source struct {
	file map[string]string
}

func (s source) get(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return s.file[key]
}

func (s source) getOrDefault(key, defaultValue string) string {
	if value := s.get(key); value != "" {
		return value
	}
	return defaultValue
}

// Load reads configuration from environment variables and validates all required fields.
// Values missing from the environment are looked up in the YAML file named by
// CONFIG_FILE, if set. Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	src := source{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		file, err := readFile(path)
		if err != nil {
			return nil, err
		}
		src.file = file
	}

	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = src.getOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = src.getOrDefault("METRICS_ADDR", ":9091")
	cfg.LogLevel = src.getOrDefault("LOG_LEVEL", "info")
	cfg.LogFormat = src.getOrDefault("LOG_FORMAT", "json")

	// Solana configuration
	cfg.SolanaRPCURLs = splitList(src.get("SOLANA_RPC_URLS"))
	if len(cfg.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URLS is required"))
	}
	cfg.SolanaWSURL = src.get("SOLANA_WS_URL")
	cfg.SolanaCommitment = src.getOrDefault("SOLANA_COMMITMENT", "confirmed")

	var err error
	if cfg.RPCRateLimit, err = src.parseFloat("RPC_RATE_LIMIT", 0); err != nil {
		errs = append(errs, err)
	}
	if cfg.RPCRateBurst, err = src.parseInt("RPC_RATE_BURST", 1); err != nil {
		errs = append(errs, err)
	}

	// Stake engine configuration
	if cfg.RewardBatchSize, err = src.parseInt("REWARD_BATCH_SIZE", 4); err != nil {
		errs = append(errs, err)
	}
	if cfg.BlockTimeMaxAttempts, err = src.parseInt("BLOCK_TIME_MAX_ATTEMPTS", 10); err != nil {
		errs = append(errs, err)
	}
	if cfg.BlockTimeRetryDelay, err = src.parseDuration("BLOCK_TIME_RETRY_DELAY", "250ms"); err != nil {
		errs = append(errs, err)
	}
	if cfg.BlockTimeCacheSize, err = src.parseInt("BLOCK_TIME_CACHE_SIZE", 4096); err != nil {
		errs = append(errs, err)
	}
	if cfg.RewardCacheSize, err = src.parseInt("REWARD_CACHE_SIZE", 16384); err != nil {
		errs = append(errs, err)
	}

	cfg.RedisURL = src.get("REDIS_URL")

	// NATS configuration
	cfg.NATSURL = src.getOrDefault("NATS_URL", "nats://localhost:4222")
	if cfg.NATSEnabled, err = src.parseBool("NATS_ENABLED", true); err != nil {
		errs = append(errs, err)
	}

	// Temporal configuration
	cfg.TemporalHost = src.getOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = src.getOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = src.getOrDefault("TEMPORAL_TASK_QUEUE", "solstake-reports")
	if cfg.ReportInterval, err = src.parseDuration("REPORT_INTERVAL", "1h"); err != nil {
		errs = append(errs, err)
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if len(c.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SolanaRPCURLs is required"))
	}

	switch c.SolanaCommitment {
	case "processed", "confirmed", "finalized":
	default:
		errs = append(errs, fmt.Errorf("SolanaCommitment must be processed, confirmed or finalized, got %q", c.SolanaCommitment))
	}

	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LogFormat must be json or text, got %q", c.LogFormat))
	}

	if c.RPCRateLimit < 0 {
		errs = append(errs, fmt.Errorf("RPCRateLimit cannot be negative"))
	}

	if c.RPCRateLimit > 0 && c.RPCRateBurst < 1 {
		errs = append(errs, fmt.Errorf("RPCRateBurst must be at least 1 when rate limiting"))
	}

	if c.RewardBatchSize < 1 {
		errs = append(errs, fmt.Errorf("RewardBatchSize must be at least 1"))
	}

	if c.BlockTimeMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("BlockTimeMaxAttempts must be at least 1"))
	}

	if c.BlockTimeRetryDelay < 0 {
		errs = append(errs, fmt.Errorf("BlockTimeRetryDelay cannot be negative"))
	}

	if c.BlockTimeCacheSize < 1 {
		errs = append(errs, fmt.Errorf("BlockTimeCacheSize must be at least 1"))
	}

	if c.RewardCacheSize < 0 {
		errs = append(errs, fmt.Errorf("RewardCacheSize cannot be negative"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.ReportInterval < time.Minute {
		errs = append(errs, fmt.Errorf("ReportInterval must be at least 1 minute"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// readFile parses a flat YAML document of KEY: value pairs.
func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	raw := make(map[string]interface{})
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	out := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case []interface{}:
			parts := make([]string, len(v))
			for i, p := range v {
				parts[i] = fmt.Sprint(p)
			}
			out[strings.ToUpper(key)] = strings.Join(parts, ",")
		case nil:
		default:
			out[strings.ToUpper(key)] = fmt.Sprint(v)
		}
	}
	return out, nil
}

// splitList splits a comma separated value, dropping empty entries.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseDuration parses a duration from a key or uses a default.
func (s source) parseDuration(key, defaultValue string) (time.Duration, error) {
	value := s.getOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from a key or uses a default.
func (s source) parseInt(key string, defaultValue int) (int, error) {
	value := s.get(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func (s source) parseFloat(key string, defaultValue float64) (float64, error) {
	value := s.get(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, value, err)
	}
	return result, nil
}

func (s source) parseBool(key string, defaultValue bool) (bool, error) {
	value := s.get(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}

// Package config provides configuration loading and validation for the
// EduCode activity services. It uses koanf to merge environment variables
// with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Buffer backends for the local activity ring buffer.
const (
	BufferBackendMemory = "memory"
	BufferBackendFile   = "file"
	BufferBackendRedis  = "redis"
)

// Config holds all configuration values for the ingest service and logtail.
type Config struct {
	// Server settings
	Port       int    `koanf:"port"`
	Env        string `koanf:"env"`
	PublicHost string `koanf:"public_host"` // Host the app is served from; "localhost" selects local dev mode

	// Datastore
	DatabaseURL string `koanf:"database_url"`
	RedisURL    string `koanf:"redis_url"`

	// Activity ring buffer
	BufferBackend string `koanf:"buffer_backend"` // memory, file or redis
	BufferPath    string `koanf:"buffer_path"`

	// Fallback socket
	RelayURL  string `koanf:"relay_url"`  // Client side, dialed by the logger
	RelayAddr string `koanf:"relay_addr"` // Listen address for logtail watch

	// JWT Authentication
	JWTSecret string `koanf:"jwt_secret"`

	// IP discovery
	IPLookupEnabled bool   `koanf:"ip_lookup_enabled"`
	STUNServer      string `koanf:"stun_server"`

	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// Tracing
	TracingEnabled    bool    `koanf:"tracing_enabled"`
	OTLPEndpoint      string  `koanf:"otlp_endpoint"`
	TracingExporter   string  `koanf:"tracing_exporter"` // otlp-http or otlp-grpc
	TracingSampleRate float64 `koanf:"tracing_sample_rate"`

	// R2 (Cloudflare Object Storage) for export archives
	R2BucketName      string `koanf:"r2_bucket_name"`
	R2AccessKeyID     string `koanf:"r2_access_key_id"`
	R2SecretAccessKey string `koanf:"r2_secret_access_key"`
	R2Endpoint        string `koanf:"r2_endpoint"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL       = errors.New("DATABASE_URL is required in production")
	ErrMissingJWTSecret         = errors.New("JWT_SECRET is required in production")
	ErrMissingRedisURL          = errors.New("REDIS_URL is required for the redis buffer backend")
	ErrMissingBufferPath        = errors.New("ACTIVITY_BUFFER_PATH is required for the file buffer backend")
	ErrInvalidBufferBackend     = errors.New("ACTIVITY_BUFFER_BACKEND must be memory, file or redis")
	ErrInvalidTracingSampleRate = errors.New("TRACING_SAMPLE_RATE must be between 0 and 1")
	ErrInvalidTracingExporter   = errors.New("TRACING_EXPORTER must be otlp-http or otlp-grpc")
	ErrMissingR2BucketName      = errors.New("R2_BUCKET_NAME is required")
	ErrMissingR2AccessKeyID     = errors.New("R2_ACCESS_KEY_ID is required")
	ErrMissingR2SecretAccessKey = errors.New("R2_SECRET_ACCESS_KEY is required")
	ErrMissingR2Endpoint        = errors.New("R2_ENDPOINT is required")
	ErrInvalidPort              = errors.New("PORT must be a valid integer")
)

// Default values for non-secret configuration.
const (
	DefaultPort              = 8080
	DefaultEnv               = "development"
	DefaultPublicHost        = "localhost"
	DefaultBufferBackend     = BufferBackendMemory
	DefaultRelayURL          = "ws://localhost:3001/ws"
	DefaultRelayAddr         = ":3001"
	DefaultIPLookupEnabled   = true
	DefaultSTUNServer        = "stun.l.google.com:19302"
	DefaultTracingExporter   = "otlp-http"
	DefaultTracingSampleRate = 0.1
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	// Try EDUCODE_PORT first, then PORT
	port, portErr := getEnvIntOrDefaultMulti([]string{"EDUCODE_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	sampleRate, sampleErr := getEnvFloatOrDefault("TRACING_SAMPLE_RATE", k.Float64("tracing_sample_rate"), DefaultTracingSampleRate)
	if sampleErr != nil {
		loadErrs = append(loadErrs, sampleErr)
	}

	cfg := &Config{
		Port:               port,
		Env:                getEnvOrDefaultMulti([]string{"EDUCODE_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		PublicHost:         getEnvOrDefault("PUBLIC_HOST", k.String("public_host"), DefaultPublicHost),
		DatabaseURL:        getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:           getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		BufferBackend:      strings.ToLower(getEnvOrDefault("ACTIVITY_BUFFER_BACKEND", k.String("buffer_backend"), DefaultBufferBackend)),
		BufferPath:         getEnvOrKoanf("ACTIVITY_BUFFER_PATH", k, "buffer_path"),
		RelayURL:           getEnvOrDefault("RELAY_URL", k.String("relay_url"), DefaultRelayURL),
		RelayAddr:          getEnvOrDefault("RELAY_ADDR", k.String("relay_addr"), DefaultRelayAddr),
		JWTSecret:          getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		IPLookupEnabled:    getEnvBoolOrKoanf("IP_LOOKUP_ENABLED", k, "ip_lookup_enabled", DefaultIPLookupEnabled),
		STUNServer:         getEnvOrDefault("STUN_SERVER", k.String("stun_server"), DefaultSTUNServer),
		CORSAllowedOrigins: getEnvListOrKoanf("CORS_ALLOWED_ORIGINS", k, "cors_allowed_origins"),
		TracingEnabled:     getEnvBoolOrKoanf("TRACING_ENABLED", k, "tracing_enabled", false),
		OTLPEndpoint:       getEnvOrDefaultMulti([]string{"OTEL_EXPORTER_OTLP_ENDPOINT", "OTLP_ENDPOINT"}, k.String("otlp_endpoint"), ""),
		TracingExporter:    getEnvOrDefault("TRACING_EXPORTER", k.String("tracing_exporter"), DefaultTracingExporter),
		TracingSampleRate:  sampleRate,
		R2BucketName:       getEnvOrKoanf("R2_BUCKET_NAME", k, "r2_bucket_name"),
		R2AccessKeyID:      getEnvOrKoanf("R2_ACCESS_KEY_ID", k, "r2_access_key_id"),
		R2SecretAccessKey:  getEnvOrKoanf("R2_SECRET_ACCESS_KEY", k, "r2_secret_access_key"),
		R2Endpoint:         getEnvOrKoanf("R2_ENDPOINT", k, "r2_endpoint"),
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// IsProduction reports whether the config targets the production environment.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ArchiveEnabled reports whether export archiving to R2 is configured.
func (c *Config) ArchiveEnabled() bool {
	return c.R2BucketName != "" && c.R2AccessKeyID != "" && c.R2SecretAccessKey != "" && c.R2Endpoint != ""
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvBoolOrKoanf parses a boolean flag. Env takes precedence over the file;
// unrecognized env values are ignored.
func getEnvBoolOrKoanf(envKey string, k *koanf.Koanf, koanfKey string, defaultVal bool) bool {
	result := defaultVal
	if k.Exists(koanfKey) {
		result = k.Bool(koanfKey)
	}
	if val := os.Getenv(envKey); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			result = true
		case "false", "0", "no", "off":
			result = false
		}
	}
	return result
}

// getEnvListOrKoanf reads a comma-separated env list, falling back to a YAML list.
func getEnvListOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) []string {
	if val := os.Getenv(envKey); val != "" {
		var out []string
		for _, part := range strings.Split(val, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return k.Strings(koanfKey)
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
// Note: a port value of 0 from a YAML file falls back to the default.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as a float.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that the configuration is usable.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	// Development runs against in-memory stores; production needs the real ones.
	if c.IsProduction() {
		if c.DatabaseURL == "" {
			errs = append(errs, ErrMissingDatabaseURL)
		}
		if c.JWTSecret == "" {
			errs = append(errs, ErrMissingJWTSecret)
		}
	}

	switch c.BufferBackend {
	case BufferBackendMemory:
	case BufferBackendFile:
		if c.BufferPath == "" {
			errs = append(errs, ErrMissingBufferPath)
		}
	case BufferBackendRedis:
		if c.RedisURL == "" {
			errs = append(errs, ErrMissingRedisURL)
		}
	default:
		errs = append(errs, ErrInvalidBufferBackend)
	}

	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		errs = append(errs, ErrInvalidTracingSampleRate)
	}
	if c.TracingEnabled && c.TracingExporter != "otlp-http" && c.TracingExporter != "otlp-grpc" {
		errs = append(errs, ErrInvalidTracingExporter)
	}

	// R2 configuration is optional. Only validate fields if any R2 value is set.
	if c.R2BucketName != "" || c.R2AccessKeyID != "" || c.R2SecretAccessKey != "" || c.R2Endpoint != "" {
		if c.R2BucketName == "" {
			errs = append(errs, ErrMissingR2BucketName)
		}
		if c.R2AccessKeyID == "" {
			errs = append(errs, ErrMissingR2AccessKeyID)
		}
		if c.R2SecretAccessKey == "" {
			errs = append(errs, ErrMissingR2SecretAccessKey)
		}
		if c.R2Endpoint == "" {
			errs = append(errs, ErrMissingR2Endpoint)
		}
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                 fmt.Sprintf("%d", c.Port),
		"env":                  c.Env,
		"public_host":          c.PublicHost,
		"database_url":         maskDatabaseURL(c.DatabaseURL),
		"redis_url":            maskDatabaseURL(c.RedisURL),
		"buffer_backend":       c.BufferBackend,
		"buffer_path":          c.BufferPath,
		"relay_url":            c.RelayURL,
		"relay_addr":           c.RelayAddr,
		"jwt_secret":           maskSecret(c.JWTSecret),
		"ip_lookup_enabled":    fmt.Sprintf("%t", c.IPLookupEnabled),
		"stun_server":          c.STUNServer,
		"cors_allowed_origins": strings.Join(c.CORSAllowedOrigins, ","),
		"tracing_enabled":      fmt.Sprintf("%t", c.TracingEnabled),
		"otlp_endpoint":        c.OTLPEndpoint,
		"tracing_exporter":     c.TracingExporter,
		"tracing_sample_rate":  strconv.FormatFloat(c.TracingSampleRate, 'f', -1, 64),
		"r2_bucket_name":       c.R2BucketName,
		"r2_access_key_id":     maskSecret(c.R2AccessKeyID),
		"r2_secret_access_key": maskSecret(c.R2SecretAccessKey),
		"r2_endpoint":          c.R2Endpoint,
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a connection URL.
// Works for postgres://, postgresql:// and redis:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	// Look for password pattern: user:password@host
	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}

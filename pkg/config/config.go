package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dashborion/dashborion/pkg/observability"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Crypto        CryptoConfig
	Redis         RedisConfig
	Postgres      PostgresConfig
	SAML          SAMLConfig
	DeviceFlow    DeviceFlowConfig
	AWS           AWSConfig
	Audit         AuditConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig

	// BootstrapAdminEmail, when set, is granted a wildcard admin
	// permission at startup if no admin grant exists yet.
	BootstrapAdminEmail string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// ExternalURL is the public base URL of the dashboard, used for the
	// device-flow verification URI and SAML ACS endpoint.
	ExternalURL string

	// SecureCookies should only be disabled for local development.
	SecureCookies bool
}

// CryptoConfig locates the session encryption key.
type CryptoConfig struct {
	// KeyEnvVar names the environment variable carrying the key (hex or
	// base64, 32 bytes decoded).
	KeyEnvVar string
	// SSMParameter, when set, fetches the key from AWS SSM Parameter Store
	// instead of the environment.
	SSMParameter string
}

// RedisConfig holds the session/token store connection.
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// PostgresConfig holds the directory and audit database connection.
type PostgresConfig struct {
	URL      string
	MaxConns int
}

// SAMLConfig holds the IdP trust settings.
type SAMLConfig struct {
	IdPSSOURL          string
	IdPIssuer          string
	IdPCertificatePEM  string
	IdPCertificateFile string
	SPEntityID         string
	GroupsAttribute    string
}

// DeviceFlowConfig tunes the CLI login flow.
type DeviceFlowConfig struct {
	CodeTTL      time.Duration
	PollInterval time.Duration
}

// AWSConfig holds the SigV4 identity settings.
type AWSConfig struct {
	// ServerID is this deployment's identity for proof binding.
	ServerID string
	// MappingFile is the optional YAML file of ARN pattern mappings.
	MappingFile string
	// ExtractEmailFromSessionName enables the Identity Center session-name
	// fallback.
	ExtractEmailFromSessionName bool
	// Region for SSM key fetches.
	Region string
}

// AuditConfig controls audit sinks and retention.
type AuditConfig struct {
	// FilePath, when set, mirrors audit entries to an NDJSON file.
	FilePath string
	// RetentionDays bounds how long database entries are kept; 0 disables
	// the sweep.
	RetentionDays int
	// SweepSchedule is a cron expression for the retention sweep.
	SweepSchedule string
}

// RateLimitConfig bounds the unauthenticated device-flow endpoints.
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// ObservabilityConfig holds logging/metrics/tracing settings.
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("DASHBORION_HOST", "0.0.0.0"),
			Port:            getEnv("DASHBORION_PORT", "8080"),
			ReadTimeout:     getEnvDuration("DASHBORION_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("DASHBORION_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("DASHBORION_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("DASHBORION_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("DASHBORION_HEALTH_PORT", "9090"),
			ExternalURL:     strings.TrimRight(getEnv("DASHBORION_EXTERNAL_URL", "http://localhost:8080"), "/"),
			SecureCookies:   getEnvBool("DASHBORION_SECURE_COOKIES", true),
		},
		Crypto: CryptoConfig{
			KeyEnvVar:    getEnv("DASHBORION_SESSION_KEY_VAR", "DASHBORION_SESSION_KEY"),
			SSMParameter: getEnv("DASHBORION_SESSION_KEY_SSM_PARAMETER", ""),
		},
		Redis: RedisConfig{
			URL:        getEnv("DASHBORION_REDIS_URL", ""),
			Password:   getEnv("DASHBORION_REDIS_PASSWORD", ""),
			DB:         getEnvInt("DASHBORION_REDIS_DB", -1),
			MaxRetries: getEnvInt("DASHBORION_REDIS_MAX_RETRIES", 0),
			PoolSize:   getEnvInt("DASHBORION_REDIS_POOL_SIZE", 0),
		},
		Postgres: PostgresConfig{
			URL:      getEnv("DASHBORION_POSTGRES_URL", ""),
			MaxConns: getEnvInt("DASHBORION_POSTGRES_MAX_CONNS", 10),
		},
		SAML: SAMLConfig{
			IdPSSOURL:          getEnv("DASHBORION_SAML_IDP_SSO_URL", ""),
			IdPIssuer:          getEnv("DASHBORION_SAML_IDP_ISSUER", ""),
			IdPCertificatePEM:  getEnv("DASHBORION_SAML_IDP_CERT", ""),
			IdPCertificateFile: getEnv("DASHBORION_SAML_IDP_CERT_FILE", ""),
			SPEntityID:         getEnv("DASHBORION_SAML_SP_ENTITY_ID", ""),
			GroupsAttribute:    getEnv("DASHBORION_SAML_GROUPS_ATTRIBUTE", "groups"),
		},
		DeviceFlow: DeviceFlowConfig{
			CodeTTL:      getEnvDuration("DASHBORION_DEVICE_CODE_TTL", 10*time.Minute),
			PollInterval: getEnvDuration("DASHBORION_DEVICE_POLL_INTERVAL", 5*time.Second),
		},
		AWS: AWSConfig{
			ServerID:                    getEnv("DASHBORION_SERVER_ID", ""),
			MappingFile:                 getEnv("DASHBORION_IAM_MAPPING_FILE", ""),
			ExtractEmailFromSessionName: getEnvBool("DASHBORION_IAM_EXTRACT_SESSION_EMAIL", false),
			Region:                      getEnv("DASHBORION_AWS_REGION", getEnv("AWS_REGION", "us-east-1")),
		},
		Audit: AuditConfig{
			FilePath:      getEnv("DASHBORION_AUDIT_FILE", ""),
			RetentionDays: getEnvInt("DASHBORION_AUDIT_RETENTION_DAYS", 90),
			SweepSchedule: getEnv("DASHBORION_AUDIT_SWEEP_SCHEDULE", "0 3 * * *"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvInt("DASHBORION_RATELIMIT_PER_MINUTE", 60),
			Burst:             getEnvInt("DASHBORION_RATELIMIT_BURST", 10),
		},
		Observability: ObservabilityConfig{
			LogLevel:           parseLogLevel(getEnv("DASHBORION_LOG_LEVEL", "info")),
			MetricsEnabled:     getEnvBool("DASHBORION_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("DASHBORION_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("DASHBORION_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("DASHBORION_OTEL_SERVICE_NAME", "dashborion-auth"),
			OTelServiceVersion: getEnv("DASHBORION_OTEL_SERVICE_VERSION", "1.0.0"),
			OTelInsecure:       getEnvBool("DASHBORION_OTEL_INSECURE", true),
		},
		BootstrapAdminEmail: getEnv("DASHBORION_BOOTSTRAP_ADMIN_EMAIL", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration. Auth infrastructure with a broken
// config must refuse to start.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Crypto.SSMParameter == "" {
		if c.Crypto.KeyEnvVar == "" {
			return fmt.Errorf("session key source is required")
		}
		if os.Getenv(c.Crypto.KeyEnvVar) == "" {
			return fmt.Errorf("session key variable %s is not set", c.Crypto.KeyEnvVar)
		}
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required")
	}
	if c.Postgres.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.SAML.IdPSSOURL != "" {
		if c.SAML.IdPCertificatePEM == "" && c.SAML.IdPCertificateFile == "" {
			return fmt.Errorf("SAML IdP certificate is required when SSO is configured")
		}
		if c.SAML.SPEntityID == "" {
			return fmt.Errorf("SAML SP entity ID is required when SSO is configured")
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// IdPCertificate returns the configured IdP certificate PEM, reading the
// file variant if necessary.
func (c *SAMLConfig) IdPCertificate() (string, error) {
	if c.IdPCertificatePEM != "" {
		return c.IdPCertificatePEM, nil
	}
	if c.IdPCertificateFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.IdPCertificateFile)
	if err != nil {
		return "", fmt.Errorf("failed to read IdP certificate file: %w", err)
	}
	return string(data), nil
}

// parseLogLevel parses a log level string.
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

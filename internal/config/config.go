package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds gateway configuration
type Config struct {
	ServiceName    string
	ServiceVersion string
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	JWTSecret    string
	JWTAlgorithm string

	RateLimitPerUser   int
	RateLimitPerTenant int
	RateLimitPerIP     int
	RateLimitWindow    time.Duration

	BreakerFailureThreshold int
	BreakerRecoveryTimeout  time.Duration
	BreakerHalfOpenMaxCalls int

	HealthCheckInterval time.Duration
	HealthProbeTimeout  time.Duration

	MaxRequestBody  int64
	MaxResponseBody int64
	RequestTimeout  time.Duration

	LogLevel string

	Services []ServiceConfig
}

// ServiceConfig describes a single downstream service
type ServiceConfig struct {
	Name       string
	BaseURL    string
	PathPrefix string
	HealthPath string
	Timeout    time.Duration
	Critical   bool
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		ServiceName:    getEnv("SERVICE_NAME", "api-gateway"),
		ServiceVersion: getEnv("SERVICE_VERSION", "1.0.0"),
		Port:           getEnv("PORT", "8080"),
		ReadTimeout:    getEnvDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getEnvDuration("WRITE_TIMEOUT", 30*time.Second),

		JWTSecret:    getEnv("JWT_SECRET_KEY", "your-secret-key-change-in-production"),
		JWTAlgorithm: getEnv("JWT_ALGORITHM", "HS256"),

		RateLimitPerUser:   getEnvInt("RATE_LIMIT_PER_USER_PER_MINUTE", 1000),
		RateLimitPerTenant: getEnvInt("RATE_LIMIT_PER_TENANT_PER_MINUTE", 100000),
		RateLimitPerIP:     getEnvInt("RATE_LIMIT_PER_IP_PER_MINUTE", 10000),
		RateLimitWindow:    time.Minute,

		BreakerFailureThreshold: getEnvInt("CIRCUIT_BREAKER_FAILURE_THRESHOLD", 5),
		BreakerRecoveryTimeout:  getEnvDuration("CIRCUIT_BREAKER_RECOVERY_TIMEOUT", 60*time.Second),
		BreakerHalfOpenMaxCalls: getEnvInt("CIRCUIT_BREAKER_HALF_OPEN_MAX_CALLS", 3),

		HealthCheckInterval: getEnvDuration("HEALTH_CHECK_INTERVAL", 30*time.Second),
		HealthProbeTimeout:  getEnvDuration("HEALTH_PROBE_TIMEOUT", 5*time.Second),

		MaxRequestBody:  getEnvInt64("MAX_REQUEST_BODY_SIZE", 10*1024*1024),
		MaxResponseBody: getEnvInt64("MAX_RESPONSE_BODY_SIZE", 100*1024*1024),
		RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		Services: defaultServices(),
	}
}

// defaultServices builds the static downstream registry. URLs are
// overridable per service; prefixes and criticality are fixed.
func defaultServices() []ServiceConfig {
	return []ServiceConfig{
		{
			Name:       "auth-service",
			BaseURL:    getEnv("AUTH_SERVICE_URL", "http://localhost:3001"),
			PathPrefix: "/api/v1/auth",
			HealthPath: "/health",
			Timeout:    getEnvDuration("AUTH_SERVICE_TIMEOUT", 5*time.Second),
			Critical:   true,
		},
		{
			Name:       "authz-service",
			BaseURL:    getEnv("AUTHZ_SERVICE_URL", "http://localhost:8002"),
			PathPrefix: "/api/v1/authz",
			HealthPath: "/health",
			Timeout:    getEnvDuration("AUTHZ_SERVICE_TIMEOUT", 5*time.Second),
			Critical:   true,
		},
		{
			Name:       "profile-service",
			BaseURL:    getEnv("PROFILE_SERVICE_URL", "http://localhost:8006"),
			PathPrefix: "/api/v1/profiles",
			HealthPath: "/health",
			Timeout:    getEnvDuration("PROFILE_SERVICE_TIMEOUT", 30*time.Second),
			Critical:   true,
		},
		{
			Name:       "loan-service",
			BaseURL:    getEnv("LOAN_SERVICE_URL", "http://localhost:8005"),
			PathPrefix: "/api/v1/loans",
			HealthPath: "/health",
			Timeout:    getEnvDuration("LOAN_SERVICE_TIMEOUT", 30*time.Second),
			Critical:   true,
		},
		{
			Name:       "document-service",
			BaseURL:    getEnv("DOCUMENT_SERVICE_URL", "http://localhost:8001"),
			PathPrefix: "/api/v1/documents",
			HealthPath: "/health",
			Timeout:    getEnvDuration("DOCUMENT_SERVICE_TIMEOUT", 30*time.Second),
			Critical:   false,
		},
		{
			Name:       "notification-service",
			BaseURL:    getEnv("NOTIFICATION_SERVICE_URL", "http://localhost:8004"),
			PathPrefix: "/api/v1/notifications",
			HealthPath: "/health",
			Timeout:    getEnvDuration("NOTIFICATION_SERVICE_TIMEOUT", 30*time.Second),
			Critical:   false,
		},
		{
			Name:       "audit-service",
			BaseURL:    getEnv("AUDIT_SERVICE_URL", "http://localhost:8008"),
			PathPrefix: "/api/v1/audit",
			HealthPath: "/health",
			Timeout:    getEnvDuration("AUDIT_SERVICE_TIMEOUT", 30*time.Second),
			Critical:   false,
		},
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
	}
	return defaultVal
}

// getEnvDuration reads a duration; bare integers are treated as seconds.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	Engine    EngineConfig
	Sandbox   SandboxConfig
	Telemetry TelemetryConfig
	Features  FeatureFlags
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// CacheConfig holds in-memory cache settings, used by the Definition
// Loader to avoid re-materializing a workflow's patch chain on every load.
type CacheConfig struct {
	Enabled    bool
	SizeMB     int
	DefaultTTL time.Duration
}

// EngineConfig holds the workflow engine's tunable defaults (§3, §4.3, §4.4).
type EngineConfig struct {
	DefaultNodeTimeoutMs  int
	DefaultMaxRetries     int
	DefaultRetryDelayMs   int
	DefaultBackoffFactor  float64
	MaxLoopNesting        int
	DefaultMaxIterations  int
	UserInputTimeout      time.Duration
	UserInputMaxRejects   int
}

// SandboxConfig holds Expression Sandbox limit settings (§4.2). The sandbox
// does not read them: a code node without cpuTimeoutMs gets a built-in 5s
// deadline and one without memoryLimitMb gets no memory cap.
type SandboxConfig struct {
	CPUTimeoutMs  int
	MemoryLimitMb int
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof    bool
	PprofPort      int
	EnableTracing  bool
	EnableMetrics  bool
	MetricsPort    int
	TracingBackend string
}

// FeatureFlags for optional subsystem toggles
type FeatureFlags struct {
	EnableDistributedCache bool
	EnablePythonSandbox    bool
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "flowrunner"),
			User:        getEnv("POSTGRES_USER", "flowrunner"),
			Password:    getEnv("POSTGRES_PASSWORD", "flowrunner"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Cache: CacheConfig{
			Enabled:    getEnvBool("CACHE_ENABLED", true),
			SizeMB:     getEnvInt("CACHE_SIZE_MB", 256),
			DefaultTTL: getEnvDuration("CACHE_DEFAULT_TTL", 10*time.Minute),
		},
		Engine: EngineConfig{
			DefaultNodeTimeoutMs: getEnvInt("ENGINE_DEFAULT_NODE_TIMEOUT_MS", 30000),
			DefaultMaxRetries:    getEnvInt("ENGINE_DEFAULT_MAX_RETRIES", 0),
			DefaultRetryDelayMs:  getEnvInt("ENGINE_DEFAULT_RETRY_DELAY_MS", 1000),
			DefaultBackoffFactor: getEnvFloat("ENGINE_DEFAULT_BACKOFF_FACTOR", 2.0),
			MaxLoopNesting:       getEnvInt("ENGINE_MAX_LOOP_NESTING", 16),
			DefaultMaxIterations: getEnvInt("ENGINE_DEFAULT_MAX_ITERATIONS", 1000),
			UserInputTimeout:     getEnvDuration("ENGINE_USER_INPUT_TIMEOUT", 24*time.Hour),
			UserInputMaxRejects:  getEnvInt("ENGINE_USER_INPUT_MAX_REJECTS", 10),
		},
		Sandbox: SandboxConfig{
			CPUTimeoutMs:  getEnvInt("SANDBOX_CPU_TIMEOUT_MS", 5000),
			MemoryLimitMb: getEnvInt("SANDBOX_MEMORY_LIMIT_MB", 128),
		},
		Telemetry: TelemetryConfig{
			EnablePprof:    getEnvBool("ENABLE_PPROF", true),
			PprofPort:      getEnvInt("PPROF_PORT", 6060),
			EnableTracing:  getEnvBool("ENABLE_TRACING", false),
			EnableMetrics:  getEnvBool("ENABLE_METRICS", true),
			MetricsPort:    getEnvInt("METRICS_PORT", 9090),
			TracingBackend: getEnv("TRACING_BACKEND", "stdout"),
		},
		Features: FeatureFlags{
			EnableDistributedCache: getEnvBool("ENABLE_DISTRIBUTED_CACHE", false),
			EnablePythonSandbox:    getEnvBool("ENABLE_PYTHON_SANDBOX", true),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Engine.MaxLoopNesting < 1 {
		return fmt.Errorf("engine max loop nesting must be >= 1")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Package config provides configuration loading for the orchestrator service.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the orchestrator service.
type Config struct {
	// Server configuration
	Port        string
	ReadTimeout time.Duration
	// WriteTimeout of 0 disables the write deadline. Event streams stay
	// open far longer than any fixed budget.
	WriteTimeout  time.Duration
	ShutdownGrace time.Duration

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Event history configuration
	HistoryStoreType string // "memory" or "redis"
	HistoryTTL       time.Duration
	EventMaxLen      int64

	// Pipeline timing
	SettleDelay     time.Duration
	StageTimeScale  float64 // multiplier applied to stage duration budgets
	PipelineStagger time.Duration

	// Sandbox configuration
	SandboxRuntime      string // "local", "k8s" or "none"
	SandboxGraceDelay   time.Duration
	SandboxReadyTimeout time.Duration
	SandboxWorkdir      string
	SandboxInstallCmd   []string
	SandboxStartCmd     []string

	// Generation collaborator
	GenAPIBase string
	GenAPIKey  string
	GenModel   string
	GenTimeout time.Duration

	// Planner collaborator ("" = built-in rule planner)
	PlannerURL string

	// Build defaults
	DefaultAppName   string
	DefaultFramework string

	// OIDC configuration
	OIDCIssuer       string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCEnabled      bool

	// Static bearer secret for dev deployments without an OIDC issuer
	JWTSecret string

	// CORS configuration
	CORSOrigins []string

	// Rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	// K8s runtime configuration
	K8sNamespace  string
	K8sInCluster  bool
	K8sKubeconfig string
	SandboxImage  string

	// Artifact export
	ArtifactBackend string // "memory" or "s3"
	S3Endpoint      string
	S3Region        string
	S3Bucket        string
	S3AccessKey     string
	S3SecretKey     string
	S3UsePathStyle  bool
	PresignTTL      time.Duration

	// Tracing
	TracingEnabled  bool
	OTLPEndpoint    string
	TraceSampleRate float64

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		// Server
		Port:          getEnv("PORT", "7080"),
		ReadTimeout:   getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:  getDuration("WRITE_TIMEOUT", 0),
		ShutdownGrace: getDuration("SHUTDOWN_GRACE", 10*time.Second),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		// Event history
		HistoryStoreType: getEnv("ORCH_HISTORY_STORE", "memory"), // "memory" or "redis"
		HistoryTTL:       getDuration("HISTORY_TTL", 24*time.Hour),
		EventMaxLen:      getInt64("EVENT_MAX_LEN", 5000),

		// Pipeline timing
		SettleDelay:     getDuration("PIPELINE_SETTLE_DELAY", 500*time.Millisecond),
		StageTimeScale:  getFloat("PIPELINE_TIME_SCALE", 1.0),
		PipelineStagger: getDuration("PIPELINE_STAGGER", 250*time.Millisecond),

		// Sandbox
		SandboxRuntime:      getEnv("SANDBOX_RUNTIME", "local"), // "local", "k8s" or "none"
		SandboxGraceDelay:   getDuration("SANDBOX_GRACE_DELAY", 2*time.Second),
		SandboxReadyTimeout: getDuration("SANDBOX_READY_TIMEOUT", 60*time.Second),
		SandboxWorkdir:      getEnv("SANDBOX_WORKDIR", ""),
		SandboxInstallCmd:   getStringSlice("SANDBOX_INSTALL_CMD", []string{"npm", "install"}),
		SandboxStartCmd:     getStringSlice("SANDBOX_START_CMD", []string{"npm", "run", "dev"}),

		// Generation collaborator
		GenAPIBase: getEnv("GEN_API_BASE", "https://api.openai.com/v1"),
		GenAPIKey:  getEnv("GEN_API_KEY", ""),
		GenModel:   getEnv("GEN_MODEL", "gpt-4o-mini"),
		GenTimeout: getDuration("GEN_TIMEOUT", 120*time.Second),

		// Planner
		PlannerURL: getEnv("PLANNER_URL", ""),

		// Build defaults
		DefaultAppName:   getEnv("DEFAULT_APP_NAME", "forgeview-app"),
		DefaultFramework: getEnv("DEFAULT_FRAMEWORK", "react"),

		// OIDC
		OIDCIssuer:       getEnv("OIDC_ISSUER", ""),
		OIDCClientID:     getEnv("OIDC_CLIENT_ID", ""),
		OIDCClientSecret: getEnv("OIDC_CLIENT_SECRET", ""),
		OIDCEnabled:      getBool("OIDC_ENABLED", false),

		// Dev auth
		JWTSecret: getEnv("JWT_SECRET", ""),

		// CORS
		CORSOrigins: getStringSlice("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),

		// Rate limiting
		RateLimitRPS:   getFloat("RATE_LIMIT_RPS", 100.0),
		RateLimitBurst: getInt("RATE_LIMIT_BURST", 200),

		// K8s
		K8sNamespace:  getEnv("K8S_NAMESPACE", "forgeview"),
		K8sInCluster:  getBool("K8S_IN_CLUSTER", false),
		K8sKubeconfig: getEnv("KUBECONFIG", ""),
		SandboxImage:  getEnv("SANDBOX_IMAGE", "node:20-alpine"),

		// Artifact export
		ArtifactBackend: getEnv("ARTIFACT_BACKEND", "memory"), // "memory" or "s3"
		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		S3Region:        getEnv("S3_REGION", "us-east-1"),
		S3Bucket:        getEnv("S3_BUCKET", "forgeview-artifacts"),
		S3AccessKey:     getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:     getEnv("S3_SECRET_KEY", ""),
		S3UsePathStyle:  getBool("S3_USE_PATH_STYLE", true),
		PresignTTL:      getDuration("PRESIGN_TTL", 15*time.Minute),

		// Tracing
		TracingEnabled:  getBool("TRACING_ENABLED", false),
		OTLPEndpoint:    getEnv("OTLP_ENDPOINT", "localhost:4317"),
		TraceSampleRate: getFloat("TRACE_SAMPLE_RATE", 1.0),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		return strings.Split(val, ",")
	}
	return defaultVal
}

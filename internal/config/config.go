package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	// CORSAllowedOrigins is required in production; other environments allow any origin.
	CORSAllowedOrigins []string

	Telemetry TelemetryConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Storage     StorageConfig
	Certificate CertificateConfig
	Sync        SyncConfig
	Scheduler   SchedulerConfig
}

type TelemetryConfig struct {
	DeploymentEnv string
	LogLevel      string
	LogFormat     string

	OTLPEndpoint  string
	OTLPProtocol  string
	OtelEnabled   bool
	SamplingRatio float64
}

type StorageConfig struct {
	Driver         string
	Root           string
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

type CertificateConfig struct {
	// MasterKey is an age X25519 identity (AGE-SECRET-KEY-1...).
	MasterKey      string
	ExpiryWarnDays int
}

type SyncConfig struct {
	Timeout     time.Duration
	Concurrency int
	StaleAfter  time.Duration

	// Manual triggers per company and scope: TriggerBurst at once, then one
	// every TriggerEvery. A non-positive burst disables the limit.
	TriggerBurst int
	TriggerEvery time.Duration
}

type SchedulerConfig struct {
	Enabled  bool
	Interval time.Duration
	LockTTL  time.Duration
	// Jobs limits the worker to the named jobs; empty runs all of them.
	Jobs []string
}

const (
	StorageDriverFS = "fs"
	StorageDriverS3 = "s3"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "fiscalsync"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "fiscalsync"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "fiscalsync.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),
		RedisAddr:         strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RedisDB:           getenvInt("REDIS_DB", 0),
		Storage: StorageConfig{
			Driver:         strings.ToLower(getenv("STORAGE_DRIVER", StorageDriverFS)),
			Root:           getenv("STORAGE_ROOT", "./data"),
			S3Bucket:       strings.TrimSpace(getenv("S3_BUCKET", "")),
			S3Region:       getenv("S3_REGION", "us-east-1"),
			S3Endpoint:     strings.TrimSpace(getenv("S3_ENDPOINT", "")),
			S3AccessKey:    strings.TrimSpace(getenv("S3_ACCESS_KEY", "")),
			S3SecretKey:    strings.TrimSpace(getenv("S3_SECRET_KEY", "")),
			S3UsePathStyle: getenvBool("S3_USE_PATH_STYLE", true),
		},
		Certificate: CertificateConfig{
			MasterKey:      strings.TrimSpace(getenv("CERT_MASTER_KEY", "")),
			ExpiryWarnDays: getenvInt("CERT_EXPIRY_WARN_DAYS", 30),
		},
		Sync: SyncConfig{
			Timeout:     getenvDuration("SYNC_TIMEOUT", 2*time.Minute),
			Concurrency: getenvInt("SYNC_CONCURRENCY", 4),
			StaleAfter:  getenvDuration("SYNC_STALE_AFTER", 30*time.Minute),

			TriggerBurst: getenvInt("SYNC_TRIGGER_BURST", 4),
			TriggerEvery: getenvDuration("SYNC_TRIGGER_EVERY", 15*time.Minute),
		},
		Scheduler: SchedulerConfig{
			Enabled:  getenvBool("SCHEDULER_ENABLED", true),
			Interval: getenvDuration("SCHEDULER_INTERVAL", 15*time.Minute),
			LockTTL:  getenvDuration("SCHEDULER_LOCK_TTL", 10*time.Minute),
			Jobs:     getenvList("SCHEDULER_JOBS"),
		},
	}
	cfg.CORSAllowedOrigins = getenvList("CORS_ALLOWED_ORIGINS")
	cfg.Telemetry = loadTelemetry(cfg)

	return cfg
}

// loadTelemetry honors the standard OTEL_* variables; OTLP_ENDPOINT is the
// older spelling.
func loadTelemetry(cfg Config) TelemetryConfig {
	endpoint := strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "")))
	protocol := getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	if traces := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); traces != "" {
		protocol = traces
	}
	return TelemetryConfig{
		DeploymentEnv: strings.TrimSpace(getenv("DEPLOYMENT_ENV", cfg.Environment)),
		LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
		LogFormat:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
		OTLPEndpoint:  endpoint,
		OTLPProtocol:  strings.ToLower(strings.TrimSpace(protocol)),
		OtelEnabled:   getenvBool("OTEL_ENABLED", endpoint != ""),
		SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func getenvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Worker   WorkerConfig
	Logging  LoggingConfig
	EventBus EventBusConfig
	Storage  StorageConfig
	Signing  SigningConfig
	Ledger   LedgerConfig
	Matching MatchingConfig
	Dispute  DisputeConfig
	Quota    QuotaConfig
	Registry RegistryConfig
	NATS     NATSConfig
	Metrics  MetricsConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ShutdownTimeout time.Duration
}

type WorkerConfig struct {
	PoolSize   int
	MaxRetries int
}

type LoggingConfig struct {
	Level string
}

type EventBusConfig struct {
	ChannelBufferSize int
	RetryBaseDelay    time.Duration
}

type StorageConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string
	Path   string
}

type SigningConfig struct {
	Seed string
}

type LedgerConfig struct {
	HistoryRetention int
}

type MatchingConfig struct {
	DefaultRadiusKm float64
}

type DisputeConfig struct {
	EscalationThreshold time.Duration
	EscalationInterval  time.Duration
	AutoOpen            bool
}

type QuotaConfig struct {
	ResetInterval time.Duration
}

type RegistryConfig struct {
	SerialPrefix string
}

type NATSConfig struct {
	URL            string
	Subject        string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

type MetricsConfig struct {
	Enabled bool
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using default values")
	}

	return &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Worker: WorkerConfig{
			PoolSize:   getIntEnv("WORKER_POOL_SIZE", 10),
			MaxRetries: getIntEnv("MAX_RETRIES", 5),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		EventBus: EventBusConfig{
			ChannelBufferSize: getIntEnv("EVENT_CHANNEL_BUFFER_SIZE", 1000),
			RetryBaseDelay:    getDurationEnv("EVENT_RETRY_BASE_DELAY", time.Second),
		},
		Storage: StorageConfig{
			Driver: getEnv("STORAGE_DRIVER", "memory"),
			Path:   getEnv("STORAGE_PATH", "palette.db"),
		},
		Signing: SigningConfig{
			Seed: getEnv("SIGNING_SEED", "palette-cheque-dev-seed"),
		},
		Ledger: LedgerConfig{
			HistoryRetention: getIntEnv("LEDGER_HISTORY_RETENTION", 100),
		},
		Matching: MatchingConfig{
			DefaultRadiusKm: getFloatEnv("MATCHING_DEFAULT_RADIUS_KM", 30),
		},
		Dispute: DisputeConfig{
			EscalationThreshold: getDurationEnv("DISPUTE_ESCALATION_THRESHOLD", 48*time.Hour),
			EscalationInterval:  getDurationEnv("DISPUTE_ESCALATION_INTERVAL", time.Hour),
			AutoOpen:            getBoolEnv("DISPUTE_AUTO_OPEN", false),
		},
		Quota: QuotaConfig{
			ResetInterval: getDurationEnv("QUOTA_RESET_INTERVAL", 15*time.Minute),
		},
		Registry: RegistryConfig{
			SerialPrefix: getEnv("REGISTRY_SERIAL_PREFIX", "EPAL"),
		},
		NATS: NATSConfig{
			URL:            getEnv("NATS_URL", ""),
			Subject:        getEnv("NATS_SUBJECT", "palette.notifications"),
			ReconnectWait:  getDurationEnv("NATS_RECONNECT_WAIT", 2*time.Second),
			MaxReconnects:  getIntEnv("NATS_MAX_RECONNECTS", 10),
			ConnectTimeout: getDurationEnv("NATS_CONNECT_TIMEOUT", 5*time.Second),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("METRICS_ENABLED", true),
		},
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntEnv(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid value for %s: %s, using default: %d", key, valueStr, defaultValue)
		return defaultValue
	}

	return value
}

func getFloatEnv(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Invalid value for %s: %s, using default: %g", key, valueStr, defaultValue)
		return defaultValue
	}

	return value
}

func getBoolEnv(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid value for %s: %s, using default: %t", key, valueStr, defaultValue)
		return defaultValue
	}

	return value
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid duration for %s: %s, using default: %s", key, valueStr, defaultValue)
		return defaultValue
	}

	return value
}

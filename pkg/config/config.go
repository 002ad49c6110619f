package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	StoreBackendPostgres = "postgres"
	StoreBackendRedis    = "redis"
	StoreBackendMemory   = "memory"
)

type Config struct {
	StoreBackend string
	Database     DatabaseConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	HTTP         HTTPConfig
	Stats        StatsConfig
	Log          LogConfig
}

type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	DBName        string
	SSLMode       string
	MigrationsDir string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type KafkaConfig struct {
	Enabled           bool
	Brokers           []string
	TopicMeasurements string
	NumPartitions     int
}

type HTTPConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type StatsConfig struct {
	Window              time.Duration
	HistoryDefaultLimit int
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", StoreBackendPostgres)),
		Database: DatabaseConfig{
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          getEnvAsInt("DB_PORT", 5432),
			User:          getEnv("DB_USER", "iot_user"),
			Password:      getEnv("DB_PASSWORD", "iot_password"),
			DBName:        getEnv("DB_NAME", "iot_db"),
			SSLMode:       getEnv("DB_SSLMODE", "disable"),
			MigrationsDir: getEnv("DB_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "vitals:"),
		},
		Kafka: KafkaConfig{
			Enabled:           getEnvAsBool("KAFKA_ENABLED", false),
			Brokers:           strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicMeasurements: getEnv("KAFKA_TOPIC_MEASUREMENTS", "vitals.measurements"),
			NumPartitions:     getEnvAsInt("KAFKA_NUM_PARTITIONS", 4),
		},
		HTTP: HTTPConfig{
			Port:            getEnvAsInt("HTTP_PORT", 5000),
			ReadTimeout:     getEnvAsDuration("HTTP_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("HTTP_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Stats: StatsConfig{
			Window:              getEnvAsDuration("STATS_WINDOW", 10*time.Minute),
			HistoryDefaultLimit: getEnvAsInt("HISTORY_DEFAULT_LIMIT", 100),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	// TESTING=1 runs without external services
	if getEnv("TESTING", "") == "1" {
		config.StoreBackend = StoreBackendMemory
		config.Kafka.Enabled = false
	}

	switch config.StoreBackend {
	case StoreBackendPostgres, StoreBackendRedis, StoreBackendMemory:
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", config.StoreBackend)
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

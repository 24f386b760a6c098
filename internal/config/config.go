// internal/config/config.go

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	NATS        NATSConfig
	Feed        FeedConfig
	Pipeline    PipelineConfig
	Warehouse   WarehouseConfig
}

// ServerConfig holds the ops API server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CorsOrigins     []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	SSLMode      string
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL            string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// FeedConfig locates the collector and enricher output on disk
type FeedConfig struct {
	MessagesDir   string
	DetectionsDir string
	MaxTextLength int
}

// PipelineConfig holds scheduler and retry configuration
type PipelineConfig struct {
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	StageTimeout time.Duration
	RunInterval  time.Duration
	EventsTopic  string
	FullRefresh  bool
}

// WarehouseConfig holds transformation parameters
type WarehouseConfig struct {
	DateHorizonStart  time.Time
	DateHorizonEnd    time.Time
	PharmaKeywords    []string
	CosmeticKeywords  []string
	HighActivityMin   int
	MediumActivityMin int
}

// Load loads configuration from environment variables
func Load() (Config, error) {
	config := Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			CorsOrigins:     getEnvAsSlice("SERVER_CORS_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			Database:     getEnv("DB_NAME", "medwarehouse"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsDuration("DB_MAX_LIFETIME", 5*time.Minute),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
		},
		NATS: NATSConfig{
			URL:            getEnv("NATS_URL", "nats://localhost:4222"),
			MaxReconnects:  getEnvAsInt("NATS_MAX_RECONNECTS", 10),
			ReconnectWait:  getEnvAsDuration("NATS_RECONNECT_WAIT", 1*time.Second),
			ConnectTimeout: getEnvAsDuration("NATS_CONNECT_TIMEOUT", 2*time.Second),
		},
		Feed: FeedConfig{
			MessagesDir:   getEnv("FEED_MESSAGES_DIR", "data/raw/telegram_messages"),
			DetectionsDir: getEnv("FEED_DETECTIONS_DIR", "data/processed/yolo_detections"),
			MaxTextLength: getEnvAsInt("FEED_MAX_TEXT_LENGTH", 10000),
		},
		Pipeline: PipelineConfig{
			MaxAttempts:  getEnvAsInt("PIPELINE_MAX_ATTEMPTS", 3),
			BackoffBase:  getEnvAsDuration("PIPELINE_BACKOFF_BASE", 5*time.Second),
			BackoffMax:   getEnvAsDuration("PIPELINE_BACKOFF_MAX", 5*time.Minute),
			StageTimeout: getEnvAsDuration("PIPELINE_STAGE_TIMEOUT", 10*time.Minute),
			RunInterval:  getEnvAsDuration("PIPELINE_RUN_INTERVAL", 24*time.Hour),
			EventsTopic:  getEnv("PIPELINE_EVENTS_TOPIC", "pipeline"),
			FullRefresh:  getEnvAsBool("PIPELINE_FULL_REFRESH", false),
		},
		Warehouse: WarehouseConfig{
			DateHorizonStart:  getEnvAsDate("WAREHOUSE_DATE_START", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)),
			DateHorizonEnd:    getEnvAsDate("WAREHOUSE_DATE_END", time.Date(2027, 12, 31, 0, 0, 0, 0, time.UTC)),
			PharmaKeywords:    getEnvAsSlice("WAREHOUSE_PHARMA_KEYWORDS", []string{"pharma", "med", "chemed", "drug"}),
			CosmeticKeywords:  getEnvAsSlice("WAREHOUSE_COSMETIC_KEYWORDS", []string{"cosmetic", "beauty", "lobelia", "skin"}),
			HighActivityMin:   getEnvAsInt("WAREHOUSE_HIGH_ACTIVITY_MIN", 1000),
			MediumActivityMin: getEnvAsInt("WAREHOUSE_MEDIUM_ACTIVITY_MIN", 100),
		},
	}

	return config, validate(config)
}

// validate checks if config is valid
func validate(config Config) error {
	if config.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline max attempts must be at least 1")
	}

	if config.Warehouse.DateHorizonEnd.Before(config.Warehouse.DateHorizonStart) {
		return fmt.Errorf("date horizon end must not precede its start")
	}

	if config.Warehouse.MediumActivityMin >= config.Warehouse.HighActivityMin {
		return fmt.Errorf("medium activity threshold must be below the high threshold")
	}

	return nil
}

// Helper functions

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

func getEnvAsDate(key string, defaultValue time.Time) time.Time {
	valueStr := getEnv(key, "")
	if value, err := time.Parse("2006-01-02", valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, ",")
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Server
	ServerPort   string
	ServerHost   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MySQL warehouse (NDWH replica exposing the sp_iitml_* procedures)
	MySQLHost     string
	MySQLPort     string
	MySQLUser     string
	MySQLPassword string
	MySQLDB       string

	// Redis (online feature cache)
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka (pipeline stage events)
	KafkaBrokers    []string
	KafkaGroupID    string
	KafkaStageTopic string
	KafkaDLQTopic   string
	RetrainTopic    string

	// Feature store
	FeatureOnlinePrefix string
	FeatureCacheTTL     time.Duration

	// Pipeline defaults
	PipelineStartDate string
	PipelineEndDate   string
	PipelineWorkers   int
	RetrainMaxWorkers int
}

// fileOverrides mirrors the fields operators most often set through a
// mounted settings file instead of the environment.
type fileOverrides struct {
	MySQLHost     string `yaml:"mysql_url"`
	MySQLPort     string `yaml:"mysql_port"`
	MySQLUser     string `yaml:"mysql_username"`
	MySQLPassword string `yaml:"mysql_password"`
	MySQLDB       string `yaml:"mysql_database"`
	StartDate     string `yaml:"start_date"`
	EndDate       string `yaml:"end_date"`
}

func Load() *Config {
	cfg := &Config{
		ServerPort:   getEnv("SERVER_PORT", "8080"),
		ServerHost:   getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout: getDuration("WRITE_TIMEOUT", 30*time.Second),

		MySQLHost:     getEnv("MYSQL_HOST", "localhost"),
		MySQLPort:     getEnv("MYSQL_PORT", "3306"),
		MySQLUser:     getEnv("MYSQL_USER", "iitml"),
		MySQLPassword: getEnv("MYSQL_PASSWORD", ""),
		MySQLDB:       getEnv("MYSQL_DB", "iitml"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:    getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:    getEnv("KAFKA_GROUP_ID", "iit-engine"),
		KafkaStageTopic: getEnv("KAFKA_STAGE_TOPIC", "iit.pipeline.stages"),
		KafkaDLQTopic:   getEnv("KAFKA_DLQ_TOPIC", "iit.pipeline.dlq"),
		RetrainTopic:    getEnv("KAFKA_RETRAIN_TOPIC", "iit.retrain.requests"),

		FeatureOnlinePrefix: getEnv("FEATURE_ONLINE_PREFIX", "iit:features"),
		FeatureCacheTTL:     getDuration("FEATURE_CACHE_TTL", 24*time.Hour),

		PipelineStartDate: getEnv("PIPELINE_START_DATE", "2021-01-01"),
		PipelineEndDate:   getEnv("PIPELINE_END_DATE", ""),
		PipelineWorkers:   getIntEnv("PIPELINE_WORKERS", 8),
		RetrainMaxWorkers: getIntEnv("RETRAIN_MAX_WORKERS", 1),
	}

	if path := os.Getenv("SETTINGS_FILE"); path != "" {
		applyFile(cfg, path)
	}

	return cfg
}

func applyFile(cfg *Config, path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var overrides fileOverrides
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return
	}
	if overrides.MySQLHost != "" {
		cfg.MySQLHost = overrides.MySQLHost
	}
	if overrides.MySQLPort != "" {
		cfg.MySQLPort = overrides.MySQLPort
	}
	if overrides.MySQLUser != "" {
		cfg.MySQLUser = overrides.MySQLUser
	}
	if overrides.MySQLPassword != "" {
		cfg.MySQLPassword = overrides.MySQLPassword
	}
	if overrides.MySQLDB != "" {
		cfg.MySQLDB = overrides.MySQLDB
	}
	if overrides.StartDate != "" {
		cfg.PipelineStartDate = overrides.StartDate
	}
	if overrides.EndDate != "" {
		cfg.PipelineEndDate = overrides.EndDate
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

type Config struct {
	ClientName        string
	DBPath            string
	DataDir           string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	QueueName         string
	ServerPort        string
	LogLevel          string
	SchedulerInterval time.Duration
	BatchSize         int
	WorkerCount       int
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{
		ClientName:        getEnv("CLIENT_NAME", "tracker"),
		DBPath:            getEnv("DB_PATH", "tracker.db"),
		DataDir:           getEnv("DATA_DIR", "data"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		QueueName:         getEnv("QUEUE_NAME", "refresh_queue"),
		ServerPort:        getEnv("SERVER_PORT", "8080"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		SchedulerInterval: time.Duration(getEnvInt("SCHEDULER_INTERVAL_SECONDS", 100)) * time.Second,
		BatchSize:         getEnvInt("BATCH_SIZE", 100),
		WorkerCount:       getEnvInt("WORKER_COUNT", 4),
	}

	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("BATCH_SIZE must be positive")
	}
	if cfg.WorkerCount <= 0 {
		return nil, fmt.Errorf("WORKER_COUNT must be positive")
	}

	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("data_dir", cfg.DataDir).
		Str("redis_addr", cfg.RedisAddr).
		Str("queue", cfg.QueueName).
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Dur("scheduler_interval", cfg.SchedulerInterval).
		Int("batch_size", cfg.BatchSize).
		Int("worker_count", cfg.WorkerCount).
		Msg("configuration loaded")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

var Module = fx.Provide(Load)

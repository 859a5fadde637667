package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type AppConfig struct {
	DatabaseURL        string
	RabbitMQURL        string
	RedisSentinelHosts string
	RedisMasterName    string
	RedisUrl           string
	LogLevel           string
	SchedulerConfig    SchedulerConfig
	CoreCount          int
	ServiceName        string
	WorkDir            string
	HarnessConfig      string
	DictPaths          []string
	MaxInputSize       int
}

type SchedulerConfig struct {
	SchedulingInterval time.Duration `mapstructure:"scheduling_interval"`
	TasksPerBatch      int           `mapstructure:"tasks_per_batch"`
}

func LoadConfig() *AppConfig {
	// use a temporary logger for now
	logger := zap.NewExample().Named("config")

	godotenv.Load()

	config := &AppConfig{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RabbitMQURL:        os.Getenv("RABBITMQ_URL"),
		RedisSentinelHosts: os.Getenv("REDIS_SENTINEL_HOSTS"),
		RedisMasterName:    os.Getenv("REDIS_MASTER"),
		RedisUrl:           os.Getenv("OVERRIDE_REDIS_URL"), // optional, for local dev
		LogLevel:           os.Getenv("LOG_LEVEL"),
		SchedulerConfig: SchedulerConfig{
			SchedulingInterval: parseDuration(os.Getenv("SCHEDULER_INTERVAL"), 10*time.Minute),
			TasksPerBatch:      parseInt(os.Getenv("SCHEDULER_TASKS_PER_BATCH"), 5),
		},
		CoreCount:     parseInt(os.Getenv("CORE_COUNT"), 16),
		ServiceName:   os.Getenv("SERVICE_NAME"),
		WorkDir:       os.Getenv("WORK_DIR"),
		HarnessConfig: os.Getenv("HARNESS_CONFIG"),
		DictPaths:     parseList(os.Getenv("DICT_PATHS")),
		MaxInputSize:  parseInt(os.Getenv("MAX_INPUT_SIZE"), 4096),
	}

	if config.LogLevel == "" {
		config.LogLevel = "info" // Set default log level
	}

	if config.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL environment variable is required")
	}
	if config.RabbitMQURL == "" {
		logger.Fatal("RABBITMQ_URL environment variable is required")
	}
	if config.RedisUrl == "" {
		if config.RedisSentinelHosts == "" {
			logger.Fatal("REDIS_SENTINEL_HOSTS environment variable is required")
		}
		if config.RedisMasterName == "" {
			logger.Fatal("REDIS_MASTER environment variable is required")
		}
	}
	if config.ServiceName == "" {
		config.ServiceName = "b3wasmfuzz" // Default service name
	}
	if config.WorkDir == "" {
		config.WorkDir = "/crs/b3wasmfuzz"
	}
	if config.MaxInputSize <= 0 {
		logger.Fatal("MAX_INPUT_SIZE must be positive", zap.Int("max_input_size", config.MaxInputSize))
	}

	return config
}

func parseDuration(val string, defaultVal time.Duration) time.Duration {
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func parseInt(val string, defaultVal int) int {
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}

func parseList(val string) []string {
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

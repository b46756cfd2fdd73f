package main

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"bonus_system/internal/middleware"
	"bonus_system/internal/queue"
	"bonus_system/internal/repository"
	"bonus_system/internal/service"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	configPath   = "./"
	configName   = "config"
	configFormat = "yaml"
)

type Config struct {
	Database  repository.Config          `mapstructure:"database"`
	Server    ServerConfig               `mapstructure:"server"`
	Redis     RedisConfig                `mapstructure:"redis"`
	Queue     queue.Config               `mapstructure:"queue"`
	Cache     CacheConfig                `mapstructure:"cache"`
	Auth      AuthConfig                 `mapstructure:"auth"`
	Telegram  TelegramConfig             `mapstructure:"telegram"`
	Scheduler SchedulerConfig            `mapstructure:"scheduler"`
	RateLimit middleware.RateLimitConfig `mapstructure:"rateLimit"`

	LogLevel string `mapstructure:"logLevel"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

// RedisConfig switches the queue and the balance cache to Redis when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CacheConfig struct {
	TTL  time.Duration `mapstructure:"ttl"`
	Size int           `mapstructure:"size"`
}

type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwtSecret"`
	TokenTTL      time.Duration `mapstructure:"tokenTTL"`
	SecureCookie  bool          `mapstructure:"secureCookie"`
	AdminEmail    string        `mapstructure:"adminEmail"`
	AdminPassword string        `mapstructure:"adminPassword"`
}

type TelegramConfig struct {
	APIEndpoint string `mapstructure:"apiEndpoint"`
	DebugMode   bool   `mapstructure:"debugMode"`
}

type SchedulerConfig struct {
	ExpirySchedule string `mapstructure:"expirySchedule"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdownTimeout", 15*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "bonus_system")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxOpenConns", 20)
	v.SetDefault("database.maxIdleConns", 5)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.attempts", queue.DefaultAttempts)
	v.SetDefault("queue.backoff", queue.DefaultBackoff)
	v.SetDefault("queue.bufferSize", 1024)
	v.SetDefault("queue.prefix", "bonus:queue")
	v.SetDefault("queue.pollInterval", 250*time.Millisecond)
	v.SetDefault("queue.heartbeatTTL", 30*time.Second)

	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.size", 10000)

	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.tokenTTL", 24*time.Hour)
	v.SetDefault("auth.secureCookie", false)
	v.SetDefault("auth.adminEmail", "")
	v.SetDefault("auth.adminPassword", "")

	v.SetDefault("telegram.apiEndpoint", "")
	v.SetDefault("telegram.debugMode", false)

	v.SetDefault("scheduler.expirySchedule", service.DefaultExpirySchedule)

	v.SetDefault("rateLimit.requestsPerSecond", 20)
	v.SetDefault("rateLimit.burst", 40)

	v.SetDefault("logLevel", "info")
}

// LoadConfig reads config.yaml (or file when set) and APP_* environment
// overrides. A .env file in the working directory is loaded first.
func LoadConfig(file string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file loaded")
	}

	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(configPath)
		v.SetConfigType(configFormat)
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

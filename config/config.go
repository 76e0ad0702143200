package config

import (
	"fmt"
	"sync"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Server    ServerConfig
	Store     StoreConfig
	WebSocket WebSocketConfig
	Registry  RegistryConfig
	Relay     RelayConfig
	Auth      AuthConfig
	Stream    StreamConfig
	Metrics   MetricsConfig
}

type ServerConfig struct {
	Port         int
	ReadTimeout  int // Seconds
	WriteTimeout int // Seconds
}

type StoreConfig struct {
	Type             string // "redis", "postgres" or "memory"
	OpTimeoutSeconds int    // bound on every store call made from the relay path
	Redis            RedisConfig
	Postgres         PostgresConfig
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
	PoolSize int
}

type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type WebSocketConfig struct {
	MessageSizeLimit int
	PingInterval     int // Seconds
	PongTimeout      int // Seconds
	ActivityTimeout  int // Seconds
	WriteTimeout     int // Seconds
	KeepAlive        bool
}

type RegistryConfig struct {
	TTLSeconds           int // staleness threshold for session entries
	SweepIntervalSeconds int
}

type RelayConfig struct {
	// MarkOfflineOnDisconnect controls the durable online flag written when
	// a driver's connection drops.
	MarkOfflineOnDisconnect bool
}

type AuthConfig struct {
	Enabled         bool
	JWTSecret       string
	TokenQueryParam string
}

type StreamConfig struct {
	Type  string // "none", "redis" or "kafka"
	Redis StreamRedisConfig
	Kafka StreamKafkaConfig
}

type StreamRedisConfig struct {
	Channel string
}

type StreamKafkaConfig struct {
	Brokers []string
	Topic   string
}

type MetricsConfig struct {
	Enabled bool
	Port    int
	Path    string
}

var (
	instance *AppConfig
	once     sync.Once
)

func Initialize(env string) error {
	var initErr error
	once.Do(func() {
		viper.SetConfigName(fmt.Sprintf("config.%s", env))
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")

		viper.AutomaticEnv()
		viper.SetEnvPrefix("WSRELAY")

		setDefaults()
		bindEnvVars()

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				initErr = fmt.Errorf("config file error: %w", err)
				return
			}
			// No file is fine; defaults and env vars carry the config.
		}

		cfg := &AppConfig{}
		if err := viper.Unmarshal(cfg); err != nil {
			initErr = fmt.Errorf("config unmarshal error: %w", err)
			return
		}

		if err := cfg.Validate(); err != nil {
			initErr = fmt.Errorf("config validation failed: %w", err)
			return
		}
		instance = cfg
	})
	return initErr
}

func Get() *AppConfig {
	return instance
}

package config

import (
	"errors"
	"fmt"
	"strings"
)

func (c *AppConfig) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.New("invalid server port")
	}

	switch strings.ToLower(c.Store.Type) {
	case "redis":
		if c.Store.Redis.Address == "" {
			return errors.New("redis address must be specified for redis store")
		}
	case "postgres":
		if c.Store.Postgres.Host == "" || c.Store.Postgres.DBName == "" {
			return errors.New("postgres host and dbname must be specified for postgres store")
		}
	case "memory":
		// No configuration needed.
	default:
		return fmt.Errorf("invalid store type: %s. Must be 'redis', 'postgres' or 'memory'", c.Store.Type)
	}

	if c.Store.OpTimeoutSeconds < 1 {
		return errors.New("store operation timeout must be at least 1 second")
	}

	switch strings.ToLower(c.Stream.Type) {
	case "none", "":
	case "redis":
		if c.Stream.Redis.Channel == "" {
			return errors.New("redis channel must be configured for redis stream")
		}
	case "kafka":
		if len(c.Stream.Kafka.Brokers) == 0 {
			return errors.New("kafka brokers must be specified for kafka stream")
		}
		if c.Stream.Kafka.Topic == "" {
			return errors.New("kafka topic must be specified for kafka stream")
		}
	default:
		return fmt.Errorf("invalid stream type: %s. Must be 'none', 'redis' or 'kafka'", c.Stream.Type)
	}

	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "default-secret" {
			return errors.New("auth.jwtSecret must be set to a strong secret when auth is enabled")
		}
		if c.Auth.TokenQueryParam == "" {
			return errors.New("auth.tokenQueryParam must be configured when auth is enabled")
		}
	}

	if c.WebSocket.PingInterval >= c.WebSocket.ActivityTimeout {
		return errors.New("ping interval should be less than activity timeout")
	}

	if c.Registry.TTLSeconds < 1 || c.Registry.SweepIntervalSeconds < 1 {
		return errors.New("registry TTL and sweep interval must be positive")
	}
	if c.Registry.TTLSeconds <= c.WebSocket.ActivityTimeout {
		return errors.New("registry TTL should be greater than the websocket activity timeout")
	}

	return nil
}

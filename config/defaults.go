package config

import "github.com/spf13/viper"

func setDefaults() {
	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 15)
	viper.SetDefault("server.writeTimeout", 15)

	// Store
	viper.SetDefault("store.type", "redis")
	viper.SetDefault("store.opTimeoutSeconds", 5)
	viper.SetDefault("store.redis.address", "localhost:6379")
	viper.SetDefault("store.redis.db", 0)
	viper.SetDefault("store.redis.poolSize", 100)
	viper.SetDefault("store.postgres.host", "localhost")
	viper.SetDefault("store.postgres.port", "5432")
	viper.SetDefault("store.postgres.user", "relay")
	viper.SetDefault("store.postgres.dbname", "relay")
	viper.SetDefault("store.postgres.sslmode", "disable")

	// WebSocket
	viper.SetDefault("websocket.messageSizeLimit", 4096)
	viper.SetDefault("websocket.pingInterval", 25)
	viper.SetDefault("websocket.pongTimeout", 30)
	viper.SetDefault("websocket.activityTimeout", 300)
	viper.SetDefault("websocket.writeTimeout", 10)
	viper.SetDefault("websocket.keepAlive", true)

	// Registry: 6h staleness TTL, sweep every 5 minutes.
	viper.SetDefault("registry.ttlSeconds", 21600)
	viper.SetDefault("registry.sweepIntervalSeconds", 300)

	// Relay
	viper.SetDefault("relay.markOfflineOnDisconnect", true)

	// Auth
	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.jwtSecret", "default-secret")
	viper.SetDefault("auth.tokenQueryParam", "token")

	// Stream
	viper.SetDefault("stream.type", "none")
	viper.SetDefault("stream.redis.channel", "relay:events")
	viper.SetDefault("stream.kafka.topic", "relay-events")

	// Metrics
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)
	viper.SetDefault("metrics.path", "/metrics")
}

func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "WSRELAY_PORT")

	// Store
	viper.BindEnv("store.type", "WSRELAY_STORE_TYPE")
	viper.BindEnv("store.redis.address", "WSRELAY_REDIS_ADDRESS")
	viper.BindEnv("store.redis.password", "WSRELAY_REDIS_PASSWORD")
	viper.BindEnv("store.postgres.host", "WSRELAY_POSTGRES_HOST")
	viper.BindEnv("store.postgres.port", "WSRELAY_POSTGRES_PORT")
	viper.BindEnv("store.postgres.user", "WSRELAY_POSTGRES_USER")
	viper.BindEnv("store.postgres.password", "WSRELAY_POSTGRES_PASSWORD")
	viper.BindEnv("store.postgres.dbname", "WSRELAY_POSTGRES_DBNAME")

	// Registry
	viper.BindEnv("registry.ttlSeconds", "WSRELAY_REGISTRY_TTL")
	viper.BindEnv("registry.sweepIntervalSeconds", "WSRELAY_REGISTRY_SWEEP_INTERVAL")

	// Relay
	viper.BindEnv("relay.markOfflineOnDisconnect", "WSRELAY_MARK_OFFLINE_ON_DISCONNECT")

	// Auth
	viper.BindEnv("auth.enabled", "WSRELAY_AUTH_ENABLED")
	viper.BindEnv("auth.jwtSecret", "WSRELAY_AUTH_JWT_SECRET")
	viper.BindEnv("auth.tokenQueryParam", "WSRELAY_AUTH_TOKEN_PARAM")

	// Stream
	viper.BindEnv("stream.type", "WSRELAY_STREAM_TYPE")
	viper.BindEnv("stream.redis.channel", "WSRELAY_STREAM_REDIS_CHANNEL")
	viper.BindEnv("stream.kafka.brokers", "WSRELAY_STREAM_KAFKA_BROKERS")
	viper.BindEnv("stream.kafka.topic", "WSRELAY_STREAM_KAFKA_TOPIC")
}

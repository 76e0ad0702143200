package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/rideline/ride-relay/admin"
	"github.com/rideline/ride-relay/booking"
	"github.com/rideline/ride-relay/config"
	"github.com/rideline/ride-relay/driver"
	"github.com/rideline/ride-relay/geo"
	"github.com/rideline/ride-relay/metrics"
	"github.com/rideline/ride-relay/registry"
	"github.com/rideline/ride-relay/relay"
	"github.com/rideline/ride-relay/server"
	"github.com/rideline/ride-relay/store"
	"github.com/rideline/ride-relay/stream"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}
	if err := config.Initialize(env); err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}
	cfg := config.Get()

	// --- Durable store ---
	st, err := newStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize %s store: %v", cfg.Store.Type, err)
	}
	defer st.Close()
	log.Printf("Durable store initialized: %s", cfg.Store.Type)

	// --- Event stream ---
	pub, err := newStream(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize %s stream: %v", cfg.Stream.Type, err)
	}
	defer pub.Close()

	repo := driver.NewRepo(st)
	reg := registry.New()
	go reg.RunSweeper(ctx,
		time.Duration(cfg.Registry.SweepIntervalSeconds)*time.Second,
		time.Duration(cfg.Registry.TTLSeconds)*time.Second)

	opTimeout := time.Duration(cfg.Store.OpTimeoutSeconds) * time.Second
	svc := booking.NewService(repo, reg, pub, opTimeout)
	geoIndex := geo.NewIndex()

	var validator *relay.JWTValidator
	if cfg.Auth.Enabled {
		validator = relay.NewJWTValidator(&cfg.Auth)
		log.Println("JWT authentication is ENABLED.")
	} else {
		log.Println("JWT authentication is DISABLED.")
	}

	relayHandler := relay.NewHandler(cfg, reg, repo, svc, geoIndex, validator)
	adminHandler := admin.NewHandler(repo, reg, svc, geoIndex)

	router := adminHandler.Routes()
	router.HandleFunc("/ws", relayHandler.HandleWebSocket)

	if cfg.Metrics.Enabled {
		metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := server.New(addr, admin.CORS(router),
		time.Duration(cfg.Server.ReadTimeout)*time.Second,
		time.Duration(cfg.Server.WriteTimeout)*time.Second)

	go srv.Start()
	log.Println("Ride relay started on " + addr)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutdown signal received")

	// Graceful shutdown: stop the sweeper, drop live connections, drain HTTP.
	cancel()
	relayHandler.CloseAll("Server shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
}

func newStore(ctx context.Context, cfg *config.AppConfig) (store.Store, error) {
	switch strings.ToLower(cfg.Store.Type) {
	case "redis":
		return store.NewRedisStore(ctx, &redis.Options{
			Addr:     cfg.Store.Redis.Address,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
			PoolSize: cfg.Store.Redis.PoolSize,
		})
	case "postgres":
		pg := cfg.Store.Postgres
		connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			pg.Host, pg.Port, pg.User, pg.Password, pg.DBName, pg.SSLMode)
		return store.NewPostgresStore(ctx, connStr)
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("invalid store type: %s", cfg.Store.Type)
	}
}

func newStream(cfg *config.AppConfig) (stream.Publisher, error) {
	switch strings.ToLower(cfg.Stream.Type) {
	case "none", "":
		return stream.Noop{}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Redis.Address,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		log.Printf("Event stream initialized: redis channel %s", cfg.Stream.Redis.Channel)
		return stream.NewRedisPublisher(client, cfg.Stream.Redis.Channel), nil
	case "kafka":
		pub, err := stream.NewKafkaPublisher(cfg.Stream.Kafka.Brokers, cfg.Stream.Kafka.Topic)
		if err != nil {
			return nil, err
		}
		log.Printf("Event stream initialized: kafka topic %s", cfg.Stream.Kafka.Topic)
		return pub, nil
	default:
		return nil, fmt.Errorf("invalid stream type: %s", cfg.Stream.Type)
	}
}

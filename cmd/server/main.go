package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"realtime-service/internal/adapters/kafka"
	"realtime-service/internal/api/handlers"
	"realtime-service/internal/api/routes"
	"realtime-service/internal/auth"
	"realtime-service/internal/config"
	"realtime-service/internal/database"
	"realtime-service/internal/realtime"
	"realtime-service/internal/services"
	"realtime-service/internal/store"
	"realtime-service/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logg := logger.New(cfg.LogLevel)
	logg.Info("starting realtime server")

	pingers := make(map[string]handlers.Pinger)

	// Redis is optional; without it presence is kept in process only.
	var presence realtime.PresenceMirror
	if cfg.Redis.URL != "" {
		redisClient, err := database.NewRedisConnection(&cfg.Redis, logg)
		if err != nil {
			logg.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()

		redisService := services.NewRedisService(redisClient)
		presence = redisService
		pingers["redis"] = redisService
	}

	st, cleanup, err := buildStore(cfg, logg)
	if err != nil {
		logg.Error("failed to initialize store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer cleanup()

	gate := buildGate(cfg, logg)
	router := realtime.NewSubscriptionRouter(collectionRules(cfg))
	channels := buildChannels(cfg)

	hub := realtime.NewHub(realtime.Options{
		HeartbeatInterval: cfg.Realtime.HeartbeatInterval,
		HeartbeatTimeout:  cfg.Realtime.HeartbeatTimeout,
		WriteTimeout:      cfg.Realtime.WriteTimeout,
		MaxMessageSize:    cfg.Realtime.MaxMessageSize,
		SendBuffer:        cfg.Realtime.SendBuffer,
		RateLimitMax:      cfg.Realtime.RateLimitMax,
		RateLimitWindow:   cfg.Realtime.RateLimitWindow,
		ChannelsEnabled:   cfg.Channels.Enabled,
	}, st, router, channels, presence, logg)

	// External change feed: mutations made by other services reach
	// subscribers through Kafka.
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if len(cfg.Kafka.Brokers) > 0 {
		bridge, err := kafka.NewBridge(cfg.Kafka.Brokers, cfg.Kafka.Topic, hub.PublishChange, logg)
		if err != nil {
			logg.Error("failed to start kafka bridge", "error", err)
			os.Exit(1)
		}
		if err := bridge.Run(ctx); err != nil {
			logg.Error("failed to consume change topic", "error", err)
			os.Exit(1)
		}
		defer bridge.Close()
	}

	apiRouter := routes.NewRouter(hub, gate, pingers, logg)
	apiRouter.SetupRoutes()

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      apiRouter.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logg.Info("server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logg.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logg.Info("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hub.Shutdown(shutdownCtx)

	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error("server forced to shutdown", "error", err)
	}

	logg.Info("server stopped")
}

func buildStore(cfg *config.Config, logg *logger.Logger) (store.Store, func(), error) {
	switch cfg.Store.Driver {
	case "", "memory":
		logg.Info("using in-memory store")
		return store.NewMemoryStore(), func() {}, nil

	case "mongo":
		client, db, err := database.NewMongoConnection(&cfg.Store, logg)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			client.Disconnect(ctx)
		}
		return store.NewMongoStore(db), cleanup, nil

	case "mysql":
		db, err := database.NewMySQLConnection(cfg.Store.MySQLDSN, logg)
		if err != nil {
			return nil, nil, err
		}
		st, err := store.NewGormStore(db)
		if err != nil {
			return nil, nil, err
		}
		return st, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func buildGate(cfg *config.Config, logg *logger.Logger) *auth.Gate {
	var validators []auth.Validator
	if cfg.Auth.JWTSecret != "" {
		validators = append(validators, auth.NewJWTValidator(cfg.Auth.JWTSecret))
	}
	if len(cfg.Auth.APIKeys) > 0 {
		keys := make([]auth.APIKey, 0, len(cfg.Auth.APIKeys))
		for _, k := range cfg.Auth.APIKeys {
			keys = append(keys, auth.APIKey{ID: k.ID, Role: k.Role, Scopes: k.Scopes, Hash: k.Hash})
		}
		validators = append(validators, auth.NewAPIKeyValidator(keys))
	}

	if len(validators) == 0 {
		logg.Warn("no credential validators configured, all connections are anonymous")
	}
	return auth.NewGate(cfg.Auth.RequireAuth, validators...)
}

func collectionRules(cfg *config.Config) map[string]realtime.CollectionRule {
	if len(cfg.Collections) == 0 {
		return nil
	}
	rules := make(map[string]realtime.CollectionRule, len(cfg.Collections))
	for name, cc := range cfg.Collections {
		rules[name] = realtime.CollectionRule{
			AllowedRoles:    cc.AllowedRoles,
			ProtectedFields: cc.ProtectedFields,
		}
	}
	return rules
}

func buildChannels(cfg *config.Config) *realtime.ChannelManager {
	cm := realtime.NewChannelManager()
	for base, roles := range cfg.Channels.Guards {
		cm.RegisterGuard(base, realtime.RoleGuard(roles))
	}
	return cm
}

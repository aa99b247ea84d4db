package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"realtime-service/internal/config"
	"realtime-service/pkg/logger"
)

// NewMongoConnection opens and pings the MongoDB deployment named by the
// store config.
func NewMongoConnection(cfg *config.StoreConfig, log *logger.Logger) (*mongo.Client, *mongo.Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	log.Info("mongodb connection established", "database", cfg.MongoDB)

	return client, client.Database(cfg.MongoDB), nil
}

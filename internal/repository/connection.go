package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	mongoConnectTimeout = 10 * time.Second
	mongoSelectTimeout  = 5 * time.Second
	mongoMaxPool        = 50
)

// ConnectMongoDB opens the cart database. The client is closed again when the
// primary cannot be reached, so callers only own a client that answered a ping.
func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetAppName("petmarket").
		SetConnectTimeout(mongoConnectTimeout).
		SetServerSelectionTimeout(mongoSelectTimeout).
		SetMaxPoolSize(mongoMaxPool).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, mongoSelectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		if derr := client.Disconnect(context.WithoutCancel(ctx)); derr != nil {
			log.Warn().Err(derr).Msg("mongodb disconnect after failed ping")
		}
		return nil, fmt.Errorf("ping mongodb primary: %w", err)
	}

	log.Info().Str("db", database).Msg("connected to mongodb")
	return client.Database(database), nil
}

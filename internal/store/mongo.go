package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/Clark-Hu/hidden-spots/internal/logging"
)

// MongoOptions controls the Mongo client.
type MongoOptions struct {
	Database    string
	MaxPoolSize uint64
	ConnTimeout time.Duration
	Logger      *zap.Logger
}

// MongoStore owns a Mongo client bound to one database.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
	opts   MongoOptions
}

// NewMongo connects to uri and verifies the primary is reachable.
func NewMongo(ctx context.Context, uri string, opts MongoOptions) (*MongoStore, error) {
	logger := logging.OrNop(opts.Logger)
	if opts.Database == "" {
		return nil, fmt.Errorf("mongo database name is required")
	}

	clientOpts := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1))
	if opts.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(opts.MaxPoolSize)
	}
	if opts.ConnTimeout > 0 {
		clientOpts.SetConnectTimeout(opts.ConnTimeout)
	}

	connCtx := ctx
	if opts.ConnTimeout > 0 {
		var cancel context.CancelFunc
		connCtx, cancel = context.WithTimeout(ctx, opts.ConnTimeout)
		defer cancel()
	}

	client, err := mongo.Connect(connCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	logger.Info("store: mongo connection established", zap.String("database", opts.Database))
	return &MongoStore{client: client, db: client.Database(opts.Database), logger: logger, opts: opts}, nil
}

// Collection returns a handle to the named collection.
func (s *MongoStore) Collection(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// HealthCheck pings the primary.
func (s *MongoStore) HealthCheck(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("store not initialized")
	}
	checkCtx := ctx
	if s.opts.ConnTimeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(ctx, s.opts.ConnTimeout)
		defer cancel()
	}
	return s.client.Ping(checkCtx, readpref.Primary())
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) {
	if s == nil || s.client == nil {
		return
	}
	s.logger.Info("store: disconnecting mongo client")
	if err := s.client.Disconnect(ctx); err != nil {
		s.logger.Warn("store: mongo disconnect failed", zap.Error(err))
	}
}

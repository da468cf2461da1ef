package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Clark-Hu/hidden-spots/internal/config"
	"github.com/Clark-Hu/hidden-spots/internal/events"
	httpserver "github.com/Clark-Hu/hidden-spots/internal/http"
	"github.com/Clark-Hu/hidden-spots/internal/imagehost"
	"github.com/Clark-Hu/hidden-spots/internal/logging"
	"github.com/Clark-Hu/hidden-spots/internal/repository"
	"github.com/Clark-Hu/hidden-spots/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	repo, health, closeStore, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open repository", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}
	defer closeStore()

	var images imagehost.Client
	if cfg.UploadsEnabled() {
		client, err := imagehost.NewHTTPClient(cfg.ImageHostURL, cfg.ImageHostAPIKey, time.Duration(cfg.ImageHostTimeoutSecs)*time.Second, logger)
		if err != nil {
			logger.Fatal("init image host client", zap.Error(err))
		}
		images = client
	} else {
		logger.Info("IMAGEHOST_URL not set, multipart uploads are disabled")
	}

	publisher, err := events.New(cfg.NATSURL, logger)
	if err != nil {
		logger.Fatal("connect nats", zap.Error(err))
	}
	defer func() { _ = publisher.Close() }()

	server := httpserver.New(cfg, health, repo, images, publisher, logger)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			serverErrCh <- err
			return
		}
		serverErrCh <- nil
	}()

	select {
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
			logger.Error("server error", zap.Error(err))
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("graceful shutdown error", zap.Error(err))
	}
}

// openRepository connects the configured backend. The memory backend has no health
// checker, so a nil interface is returned for it.
func openRepository(ctx context.Context, cfg config.Config, logger *zap.Logger) (*repository.Repository, httpserver.HealthChecker, func(), error) {
	repoOpts := repository.Options{MaxAttempts: cfg.RatingMaxAttempts, Logger: logger}
	connTimeout := time.Duration(cfg.DBConnTimeoutSecs) * time.Second

	dbCtx, cancel := context.WithTimeout(ctx, connTimeout+5*time.Second)
	defer cancel()

	switch cfg.StoreBackend {
	case config.BackendMongo:
		st, err := store.NewMongo(dbCtx, cfg.MongoURI, store.MongoOptions{
			Database:    cfg.MongoDatabase,
			MaxPoolSize: uint64(cfg.DBMaxConns),
			ConnTimeout: connTimeout,
			Logger:      logger,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		coll := st.Collection(cfg.MongoCollection)
		if err := repository.EnsureMongoIndexes(dbCtx, coll); err != nil {
			st.Close(context.Background())
			return nil, nil, nil, err
		}
		closeFn := func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer closeCancel()
			st.Close(closeCtx)
		}
		return repository.NewMongo(coll, repoOpts), st, closeFn, nil

	case config.BackendMemory:
		logger.Warn("using in-memory store, data is lost on restart")
		return repository.NewMemory(repoOpts), nil, func() {}, nil

	default:
		st, err := store.New(dbCtx, cfg.DBURL, store.Options{
			MaxConns:               int32(cfg.DBMaxConns),
			MinConns:               int32(cfg.DBMinConns),
			MaxConnIdleTime:        time.Duration(cfg.DBMaxIdleSecs) * time.Second,
			MaxConnLifetime:        time.Duration(cfg.DBMaxLifeSecs) * time.Second,
			ConnTimeout:            connTimeout,
			StatementCacheCapacity: cfg.DBStatementCache,
			AutoMigrate:            cfg.DBAutoMigrate,
			Logger:                 logger,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return repository.New(st, repoOpts), st, st.Close, nil
	}
}

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"elibrary/internal/auth"
	"elibrary/internal/config"
	"elibrary/internal/ebook"
	"elibrary/internal/fine"
	"elibrary/internal/request"
	"elibrary/internal/storage/memory"
	"elibrary/internal/user"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// stores bundles one repository per aggregate for the configured driver.
type stores struct {
	ebooks    ebook.Repository
	fines     fine.Repository
	requests  request.Repository
	users     user.Repository
	blacklist auth.BlacklistRepository

	ping  func(ctx context.Context) error
	close func()
}

type indexer interface {
	EnsureIndexes(ctx context.Context) error
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		return openPostgres(ctx, cfg, logger)
	case config.DriverMongo:
		return openMongo(ctx, cfg, logger)
	default:
		return memoryStores(), nil
	}
}

func memoryStores() *stores {
	return &stores{
		ebooks:    memory.NewEbookRepo(),
		fines:     memory.NewFineRepo(),
		requests:  memory.NewRequestRepo(),
		users:     memory.NewUserRepo(),
		blacklist: memory.NewBlacklistRepo(),
		ping:      func(context.Context) error { return nil },
		close:     func() {},
	}
}

func openPostgres(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("create db pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.DBTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database (%s): %w", redactDSN(cfg.DatabaseDSN), err)
	}
	logger.Info("database connection OK", zap.String("driver", config.DriverPostgres))

	return &stores{
		ebooks:    ebook.NewPostgresRepo(pool, cfg.DBTimeout),
		fines:     fine.NewPostgresRepo(pool, cfg.DBTimeout),
		requests:  request.NewPostgresRepo(pool, cfg.DBTimeout),
		users:     user.NewPostgresRepo(pool, cfg.DBTimeout),
		blacklist: auth.NewBlacklistPostgresRepo(pool, cfg.DBTimeout),
		ping:      pool.Ping,
		close:     pool.Close,
	}, nil
}

func openMongo(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI).SetTimeout(cfg.DBTimeout))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	disconnect := func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(dctx)
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.DBTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		disconnect()
		return nil, fmt.Errorf("ping mongo (%s): %w", redactDSN(cfg.MongoURI), err)
	}

	db := client.Database(cfg.MongoDatabase)
	ebooks := ebook.NewMongoRepo(db, cfg.DBTimeout)
	fines := fine.NewMongoRepo(db, cfg.DBTimeout)
	requests := request.NewMongoRepo(db, cfg.DBTimeout)
	users := user.NewMongoRepo(db, cfg.DBTimeout)
	blacklist := auth.NewBlacklistMongoRepo(db, cfg.DBTimeout)

	for _, ix := range []indexer{ebooks, fines, requests, users, blacklist} {
		if err := ix.EnsureIndexes(ctx); err != nil {
			disconnect()
			return nil, fmt.Errorf("ensure mongo indexes: %w", err)
		}
	}
	logger.Info("database connection OK", zap.String("driver", config.DriverMongo), zap.String("database", cfg.MongoDatabase))

	return &stores{
		ebooks:    ebooks,
		fines:     fines,
		requests:  requests,
		users:     users,
		blacklist: blacklist,
		ping:      func(ctx context.Context) error { return client.Ping(ctx, nil) },
		close:     disconnect,
	}, nil
}

func redactDSN(dsn string) string {
	const marker = "://"
	start := strings.Index(dsn, marker)
	if start < 0 {
		return dsn
	}
	start += len(marker)
	end := strings.Index(dsn[start:], "@")
	if end < 0 {
		return dsn
	}
	return dsn[:start] + "***" + dsn[start+end:]
}

package repository

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Options tune the GORM handle returned by Open.
type Options struct {
	LogLevel     string
	MaxIdleConns int
	MaxOpenConns int
	Tracing      bool
}

// Open connects to url. "sqlite://<path>" (or "sqlite://:memory:") selects
// the embedded SQLite driver, anything else is treated as a PostgreSQL DSN
// served through a pgx pool.
func Open(ctx context.Context, url string, opts Options) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger:  logger.Default.LogMode(parseLogLevel(opts.LogLevel)),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	var (
		db  *gorm.DB
		err error
	)

	if path, ok := strings.CutPrefix(url, "sqlite://"); ok {
		db, err = gorm.Open(sqlite.Open(path), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		// a single connection keeps in-memory databases shared
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
		slog.Info("Connected to SQLite database", "path", path)
	} else {
		poolCfg, err := pgxpool.ParseConfig(url)
		if err != nil {
			return nil, fmt.Errorf("failed to parse database url: %w", err)
		}
		if opts.MaxOpenConns > 0 {
			poolCfg.MaxConns = int32(opts.MaxOpenConns)
		}

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}

		sqlDB := stdlib.OpenDBFromPool(pool)
		if opts.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
		}

		db, err = gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), cfg)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to open gorm: %w", err)
		}
		slog.Info("Connected to PostgreSQL database")
	}

	if opts.Tracing {
		if err := db.Use(otelgorm.NewPlugin()); err != nil {
			return nil, fmt.Errorf("failed to initialize otelgorm plugin: %w", err)
		}
	}

	return db, nil
}

func parseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return logger.Silent
	}
}

// Ping checks the underlying connection.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

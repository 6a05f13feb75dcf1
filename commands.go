package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/maternify/backend/reminders"
	"github.com/maternify/backend/repository"
	"github.com/maternify/backend/services"
	"github.com/maternify/backend/telemetry"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func openDatabase(ctx context.Context, cfg *services.Config) (*gorm.DB, error) {
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return repository.Open(ctx, cfg.Database.URL, repository.Options{
		LogLevel:     cfg.Database.LogLevel,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		Tracing:      cfg.Telemetry.OTLPEndpoint != "",
	})
}

func closeDatabase(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

// connectRedis returns nil when redis is not configured or unreachable.
func connectRedis(ctx context.Context, cfg *services.Config) *redis.Client {
	if cfg.Redis.Addr == "" {
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Password: cfg.Redis.Password,
	})

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	err := backoff.RetryNotify(func() error {
		return rdb.Ping(ctx).Err()
	}, policy, func(err error, wait time.Duration) {
		slog.Warn("Redis not ready, retrying", "error", err, "wait", wait)
	})
	if err != nil {
		slog.Error("Failed to connect to redis, falling back to memory", "error", err)
		rdb.Close()
		return nil
	}

	if cfg.Telemetry.OTLPEndpoint != "" {
		if err := redisotel.InstrumentTracing(rdb); err != nil {
			slog.Warn("Failed to instrument redis tracing", "error", err)
		}
		if err := redisotel.InstrumentMetrics(rdb); err != nil {
			slog.Warn("Failed to instrument redis metrics", "error", err)
		}
	}

	slog.Info("Connected to redis", "addr", cfg.Redis.Addr)
	return rdb
}

func newServeCommand(config func() *services.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdown, err := telemetry.Setup(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Environment)
			if err != nil {
				return err
			}
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(flushCtx); err != nil {
					slog.Error("Failed to flush telemetry", "error", err)
				}
			}()

			db, err := openDatabase(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeDatabase(db)

			if err := repository.NewGORMRepository(db).AutoMigrate(); err != nil {
				return err
			}

			if cfg.Database.Seed {
				seeder := services.NewDatabaseSeeder(repository.NewGORMRepository(db), repository.NewConversationRepository(db))
				if err := seeder.SeedDatabase(ctx); err != nil {
					slog.Error("Failed to seed database", "error", err)
				}
			}

			server := services.NewServer(cfg)
			server.SetDatabase(db)
			if rdb := connectRedis(ctx, cfg); rdb != nil {
				defer rdb.Close()
				server.SetRedis(rdb)
			}

			if err := server.InitializeServices(ctx); err != nil {
				return err
			}
			return server.Start(ctx)
		},
	}
}

func newMigrateCommand(config func() *services.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase(cmd.Context(), config())
			if err != nil {
				return err
			}
			defer closeDatabase(db)

			if err := repository.NewGORMRepository(db).AutoMigrate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
			return nil
		},
	}
}

func newSeedCommand(config func() *services.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create demo gynecologist and patient accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase(cmd.Context(), config())
			if err != nil {
				return err
			}
			defer closeDatabase(db)

			repo := repository.NewGORMRepository(db)
			if err := repo.AutoMigrate(); err != nil {
				return err
			}
			return services.NewDatabaseSeeder(repo, repository.NewConversationRepository(db)).SeedDatabase(cmd.Context())
		},
	}
}

func newRemindersCommand() *cobra.Command {
	var language string

	cmd := &cobra.Command{
		Use:   "reminders <text>",
		Short: "Extract reminder events from text and print them as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result := reminders.NewExtractor().Extract(strings.Join(args, " "), language)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVarP(&language, "language", "l", "english", "language of the text (english or french)")
	return cmd
}

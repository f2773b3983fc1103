// Package bootstrap builds the dependency graph shared by the server, worker and dispatchctl binaries.
package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/emailez/backend/config"
	"github.com/emailez/backend/internal/auth"
	"github.com/emailez/backend/internal/credentials"
	"github.com/emailez/backend/internal/dispatch"
	"github.com/emailez/backend/internal/emailconfigs"
	"github.com/emailez/backend/internal/emails"
	"github.com/emailez/backend/internal/transport"
	"github.com/emailez/backend/internal/workspaces"
	"github.com/emailez/backend/pkg/database"
	"github.com/emailez/backend/pkg/queue"
	"github.com/emailez/backend/pkg/redis"
	"github.com/emailez/backend/pkg/storage"
)

// App holds the wired components.
type App struct {
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Queue      *queue.Queue
	Cipher     *credentials.Cipher
	JWT        *auth.JWTService
	APIKeys    *auth.Repository
	Workspaces *workspaces.Repository
	Configs    *emailconfigs.Repository
	Emails     *emails.Repository
	Dispatch   *dispatch.Service
}

// NewLogger returns the production zap logger used by every binary.
func NewLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := cfg.Build()
	return logger
}

// Open connects to Postgres and Redis, applies migrations when migrate is set and wires the dispatch service.
// Close releases the connections.
func Open(ctx context.Context, cfg *config.Config, migrate bool, logger *zap.Logger) (*App, error) {
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolConfig{
		MaxConns:        int32(cfg.Database.MaxConns),
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	if migrate {
		if err := database.Migrate(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}

	cipher, err := credentials.NewCipher(cfg.Credentials.Secret)
	if err != nil {
		pool.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("credentials cipher: %w", err)
	}

	app := &App{
		Pool:       pool,
		Redis:      rdb,
		Queue:      queue.NewQueue(rdb.Client, logger),
		Cipher:     cipher,
		JWT:        auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours),
		APIKeys:    auth.NewRepository(pool),
		Workspaces: workspaces.NewRepository(pool),
		Configs:    emailconfigs.NewRepository(pool),
		Emails:     emails.NewRepository(pool),
	}

	sender := transport.NewSMTPSender(cipher, logger,
		transport.WithTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: cfg.Dispatch.SMTPInsecureSkipVerify}))

	opts := []dispatch.Option{dispatch.WithMaxRetries(cfg.Dispatch.MaxRetries)}
	if cfg.AWS.ArchiveEnabled() {
		archive, err := storage.NewS3(ctx, storage.S3Config{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			Bucket:          cfg.AWS.BodiesBucket,
			Endpoint:        cfg.AWS.S3Endpoint,
		}, logger)
		if err != nil {
			logger.Warn("body archive disabled", zap.Error(err))
		} else {
			opts = append(opts, dispatch.WithArchive(archive))
		}
	}
	app.Dispatch = dispatch.NewService(app.Emails, app.Configs, app.Workspaces, app.Queue, sender, logger, opts...)
	return app, nil
}

// Close releases the Redis and Postgres connections.
func (a *App) Close() {
	_ = a.Redis.Close()
	a.Pool.Close()
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/crosstrade/internal/blob/s3"
	"github.com/alanyoungcy/crosstrade/internal/cache/memory"
	"github.com/alanyoungcy/crosstrade/internal/cache/redis"
	"github.com/alanyoungcy/crosstrade/internal/config"
	"github.com/alanyoungcy/crosstrade/internal/domain"
	"github.com/alanyoungcy/crosstrade/internal/metrics"
	"github.com/alanyoungcy/crosstrade/internal/scheduler"
	"github.com/alanyoungcy/crosstrade/internal/server/handler"
	memstore "github.com/alanyoungcy/crosstrade/internal/store/memory"
	"github.com/alanyoungcy/crosstrade/internal/store/postgres"
)

// Dependencies bundles the infrastructure every mode builds on. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	IntentStore   domain.IntentStore
	WalletStore   domain.WalletStore
	ReferralStore domain.ReferralStore
	AuditStore    domain.AuditStore

	// Caches. SharedMarkets is nil without Redis.
	LocalMarkets  domain.MarketCache
	SharedMarkets domain.MarketCache
	Approvals     domain.ApprovalCache
	Credentials   *memory.CredentialCache
	RateLimiter   domain.RateLimiter
	LockManager   domain.LockManager
	SignalBus     domain.SignalBus

	// Queue is the durable job backend; nil when scheduler.backend is
	// "memory".
	Queue      scheduler.Queue
	QueueDepth metrics.DepthFunc

	// Blob storage; nil unless archival is enabled.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	// Pingers feed the health endpoint.
	Pingers map[string]handler.Pinger
}

// needsInfrastructure reports whether mode talks to Postgres and Redis.
func needsInfrastructure(mode string) bool {
	return mode != "dev"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	mode := strings.ToLower(cfg.Mode)
	deps := &Dependencies{
		LocalMarkets: memory.NewMarketCache(cfg.Orders.MarketCacheTTL.Duration, 4096),
		Approvals:    memory.NewApprovalCache(cfg.Orders.ApprovalTTL.Duration),
		Credentials:  memory.NewCredentialCache(12 * time.Hour),
		Pingers:      make(map[string]handler.Pinger),
	}

	if !needsInfrastructure(mode) {
		logger.WarnContext(ctx, "wire: dev mode, state is in memory and lost on exit")
		deps.IntentStore = memstore.NewIntentStore()
		deps.WalletStore = memstore.NewWalletStore()
		deps.ReferralStore = memstore.NewReferralStore()
		deps.AuditStore = memstore.NewAuditStore()
		deps.RateLimiter = memory.NewRateLimiter(10 * time.Minute)
		deps.LockManager = memory.NewLockManager()
		deps.SignalBus = memory.NewSignalBus()
		return deps, cleanup, nil
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:         cfg.Database.DSN,
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		Database:    cfg.Database.Database,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.PoolMaxConns,
		MinConns:    cfg.Database.PoolMinConns,
		MaxConnIdle: cfg.Database.MaxConnIdle.Duration,
		PreferIPv4:  cfg.Database.PreferIPv4,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	deps.Pingers["postgres"] = pgClient

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.IntentStore = postgres.NewIntentStore(pool)
	deps.WalletStore = postgres.NewWalletStore(pool)
	deps.ReferralStore = postgres.NewReferralStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		URL:        cfg.Redis.URL,
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		KeyPrefix:  cfg.Redis.KeyPrefix,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Pingers["redis"] = redisClient

	deps.SharedMarkets = redis.NewMarketCache(redisClient, cfg.Orders.MarketCacheTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	if cfg.Scheduler.Backend == "redis" {
		q := redis.NewJobQueue(redisClient, redis.JobQueueConfig{
			Lease:         cfg.Scheduler.Lease.Duration,
			DeadLetterMax: cfg.Scheduler.DeadLetterMax,
		})
		deps.Queue = q
		deps.QueueDepth = q.Depth
	}

	// --- S3 blob storage (archival only) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		deps.Pingers["s3"] = s3Client
		deps.BlobWriter = s3blob.NewWriter(s3Client, int64(cfg.Archive.PartSizeMB)<<20)
		deps.BlobReader = s3blob.NewReader(s3Client)
	}

	return deps, cleanup, nil
}

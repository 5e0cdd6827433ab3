package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/creatorhub/creatorhub/pkg/api"
	"github.com/creatorhub/creatorhub/pkg/auth"
	"github.com/creatorhub/creatorhub/pkg/config"
	"github.com/creatorhub/creatorhub/pkg/dbutil"
	"github.com/creatorhub/creatorhub/pkg/media"
	"github.com/creatorhub/creatorhub/pkg/middleware"
	"github.com/creatorhub/creatorhub/pkg/observability"
	"github.com/creatorhub/creatorhub/pkg/rbac"
	"github.com/creatorhub/creatorhub/pkg/storage"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "creatorhub: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "creatorhub")
	opsLogger := logrus.New()
	opsLogger.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(cfg.Observability.LogLevel.String()); err == nil {
		opsLogger.SetLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return err
	}
	if providers != nil {
		shutdown.Register("otel", providers.Shutdown)
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	db, err := dbutil.OpenPostgres(ctx, cfg.Database.URL, dbutil.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	shutdown.Register("database", func(context.Context) error { return db.Close() })

	if err := prepareDatabase(ctx, db, cfg, opsLogger); err != nil {
		shutdown.Shutdown(context.Background())
		return err
	}

	redisClient, err := openRedis(ctx, cfg.Redis)
	if err != nil {
		shutdown.Shutdown(context.Background())
		return err
	}
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	} else {
		logger.Warn("Redis not configured: active storage setting is read from the database and rate limits are per process")
	}

	secretsKey, err := cfg.Storage.DecodedSecretsKey()
	if err != nil {
		shutdown.Shutdown(context.Background())
		return err
	}
	if secretsKey == nil {
		logger.Warn("STORAGE_SECRETS_KEY not set: driver secrets are stored as plaintext")
	}

	settings := storage.NewCachedSettings(
		storage.NewSettingStore(db, storage.NewSecretBox(secretsKey)),
		redisClient, cfg.Redis.SettingTTL, metrics, logger,
	)
	factory := storage.NewFactory(settings, storage.FactoryOptions{
		Timeout:  cfg.Storage.OperationTimeout,
		LocalURL: cfg.Storage.LocalServeRoute,
		Clients:  storage.NewClientCache(cfg.Storage.ClientCacheSize, cfg.Storage.ClientCacheTTL, metrics),
		Metrics:  metrics,
		Logger:   logger,
	})

	libraries := media.DefaultLibraries()
	authorizer := rbac.NewAuthorizer(logger, metrics)
	authorizer.Register(media.Policies(libraries)...)

	rbacStore := rbac.NewStore(db)
	rbacMW := rbac.NewMiddleware(rbacStore, authorizer)
	tokens := auth.NewTokenStore(db)
	auditLog := auth.NewAuditLogger(db, logger)

	mediaService := media.NewService(media.NewStore(db), factory, authorizer, libraries, media.Options{
		MaxUploadBytes: cfg.Media.MaxUploadBytes,
		SignedURLTTL:   cfg.Media.SignedURLTTL,
		Metrics:        metrics,
		Logger:         logger,
	})

	server := api.NewServer(api.Options{
		Logger:       logger,
		Metrics:      metrics,
		Authenticate: middleware.NewAuthMiddleware(tokens, auditLog, logger, false).Handler,
		RateLimit:    rateLimit(ctx, cfg.RateLimit, redisClient, logger, metrics),
		RBAC:         rbacMW,
		Modules: []api.RouteRegistrar{
			rbac.NewHandlers(rbacStore, rbacMW),
			storage.NewHandlers(settings, factory, rbacMW),
			auth.NewHandlers(tokens, auditLog, rbacMW).WithDefaultTTL(cfg.Auth.DefaultTokenTTL),
			media.NewHandlers(mediaService),
		},
		LocalFiles:   storage.NewLocalFileServer(factory),
		LocalRoute:   cfg.Storage.LocalServeRoute,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		ServiceName:  otelServiceName(cfg),
	})

	checker := observability.NewHealthChecker(db, redisClient, version)
	checker.AddCheck("storage", false, func(ctx context.Context) error {
		_, err := factory.Make(ctx, "", nil)
		return err
	})
	var gatherer prometheus.Gatherer
	if metrics != nil {
		gatherer = registry
	}

	scheduler, err := startJobs(ctx, cfg, tokens, db, metrics, logger)
	if err != nil {
		shutdown.Shutdown(context.Background())
		return err
	}
	shutdown.Register("scheduler", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	apiServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:              cfg.Server.HealthAddress(),
		Handler:           api.NewHealthRouter(checker, gatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}
	shutdown.Register("health server", healthServer.Shutdown)
	shutdown.Register("api server", apiServer.Shutdown)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(apiServer, "api", logger) })
	g.Go(func() error { return serve(healthServer, "health", logger) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		return shutdown.Shutdown(context.Background())
	})

	return g.Wait()
}

func serve(srv *http.Server, name string, logger *observability.Logger) error {
	logger.WithFields(map[string]interface{}{"server": name, "addr": srv.Addr}).Info("Listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

func prepareDatabase(ctx context.Context, db *sql.DB, cfg *config.Config, logger *logrus.Logger) error {
	if cfg.Database.MigrateOnStart {
		err := dbutil.Migrate(ctx, db, logger,
			rbac.Migrations(),
			storage.Migrations(),
			auth.Migrations(),
			media.Migrations(),
		)
		if err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
	}

	if cfg.Database.SeedOnStart {
		data, err := rbac.DefaultSeed()
		if err != nil {
			return err
		}
		report, err := rbac.NewSeeder(rbac.NewStore(db), logger).Seed(ctx, data)
		if err != nil {
			return fmt.Errorf("seeding failed: %w", err)
		}
		logger.WithFields(logrus.Fields{
			"permissions_created": report.PermissionsCreated,
			"roles_created":       report.RolesCreated,
		}).Info("Seed complete")
	}
	return nil
}

// openRedis returns nil when no URL is configured
func openRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	opts.PoolSize = cfg.PoolSize
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// rateLimit returns nil when rate limiting is disabled
func rateLimit(ctx context.Context, cfg config.RateLimitConfig, client *redis.Client, logger *observability.Logger, metrics *observability.Metrics) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return nil
	}
	userCfg := &middleware.RateLimitConfig{RequestsPerWindow: cfg.UserPerMinute, WindowDuration: time.Minute, BurstSize: cfg.UserBurst}
	anonCfg := &middleware.RateLimitConfig{RequestsPerWindow: cfg.AnonPerMinute, WindowDuration: time.Minute, BurstSize: cfg.AnonBurst}

	var userLimiter, anonLimiter middleware.Limiter
	if client != nil {
		userLimiter = middleware.NewRedisRateLimiter(client, userCfg, "creatorhub:ratelimit:user")
		anonLimiter = middleware.NewRedisRateLimiter(client, anonCfg, "creatorhub:ratelimit:anon")
	} else {
		user := middleware.NewRateLimiter(userCfg)
		anon := middleware.NewRateLimiter(anonCfg)
		user.StartCleanup(ctx)
		anon.StartCleanup(ctx)
		userLimiter, anonLimiter = user, anon
	}
	return middleware.NewRateLimitMiddleware(userLimiter, anonLimiter, logger, metrics).Handler
}

func otelServiceName(cfg *config.Config) string {
	if !cfg.Observability.OTelEnabled {
		return ""
	}
	return cfg.Observability.OTelServiceName
}

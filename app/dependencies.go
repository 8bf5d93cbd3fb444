package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/upb/decision-audit/backend/config"
	"github.com/upb/decision-audit/backend/internal/observability"
	"github.com/upb/decision-audit/backend/jwtauth"
	"github.com/upb/decision-audit/backend/middleware"
	"github.com/upb/decision-audit/backend/repositories"
	"github.com/upb/decision-audit/backend/repositories/postgres"
	"github.com/upb/decision-audit/backend/services/artifacts"
	"github.com/upb/decision-audit/backend/services/audit"
	"github.com/upb/decision-audit/backend/services/integrity"
	"github.com/upb/decision-audit/backend/services/ledger"
	"github.com/upb/decision-audit/backend/services/retention"
	"github.com/upb/decision-audit/backend/storage"
)

// activityStopTimeout bounds the drain of queued activity entries on Close
const activityStopTimeout = 5 * time.Second

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger
	Redis  *redis.Client
	Store  storage.ObjectStore

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Repos     *repositories.Repositories
	TxManager repositories.TransactionManager

	// Auth
	Gate *middleware.Gate

	// Services
	Activity  *audit.ActivityService
	Signer    *integrity.Signer
	Ledger    *ledger.Service
	Artifacts *artifacts.Service
	Retention *retention.Service

	kafka *audit.KafkaSink
}

// NewDependencies opens the database and wires every dependency on top of it
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	factory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := factory.GetDB().PingContext(ctx); err != nil {
		_ = factory.Close()
		return nil, fmt.Errorf("failed to initialize database: database ping failed: %w", err)
	}
	logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))

	deps, err := NewDependenciesFromFactory(ctx, cfg, factory, logger)
	if err != nil {
		_ = factory.Close()
		return nil, err
	}
	return deps, nil
}

// NewDependenciesFromFactory wires every dependency around an existing
// repository factory. The factory is owned by the result and closed by Close.
func NewDependenciesFromFactory(ctx context.Context, cfg *config.Config, factory *postgres.RepositoryFactory, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		RepoFactory: factory,
		DB:          factory.GetDB(),
		Repos:       factory.NewRepositories(),
		TxManager:   factory.GetTransactionManager(),
	}

	if err := deps.initStorage(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := deps.initActivity(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize activity log: %w", err)
	}

	deps.initAuth(ctx, cfg)
	deps.initServices(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

func (d *Dependencies) initStorage(cfg *config.Config) error {
	switch cfg.Storage.Backend {
	case config.StorageBackendFilesystem:
		store, err := storage.NewFileStore(cfg.Storage.Root, d.Logger)
		if err != nil {
			return err
		}
		d.Store = store
	case config.StorageBackendMemory, "":
		d.Store = storage.NewMemoryStore()
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	if cfg.Storage.ReportsBucket == "" {
		d.Logger.Warn("REPORTS_BUCKET not set, artifact writers disabled")
	}
	d.Logger.Info("object store initialized", zap.String("backend", cfg.Storage.Backend))
	return nil
}

func (d *Dependencies) initActivity(cfg *config.Config) error {
	sinks := []audit.Sink{audit.NewRepositorySink(d.Repos.ActivityLogs)}

	if len(cfg.Events.KafkaBrokers) > 0 {
		sink, err := audit.NewKafkaSink(audit.KafkaConfig{
			Brokers: cfg.Events.KafkaBrokers,
			Topic:   cfg.Events.KafkaTopic,
		})
		if err != nil {
			return err
		}
		d.kafka = sink
		sinks = append(sinks, sink)
		d.Logger.Info("kafka activity sink enabled", zap.String("topic", cfg.Events.KafkaTopic))
	}

	d.Activity = audit.NewActivityService(d.Logger, audit.Config{
		BufferSize:  cfg.Events.BufferSize,
		WorkerCount: cfg.Events.WorkerCount,
	}, sinks...)
	return d.Activity.Start()
}

// initAuth builds the tenant and push verifiers. Both share the key
// document cache, which lives in redis when it is reachable.
func (d *Dependencies) initAuth(ctx context.Context, cfg *config.Config) {
	if cfg.Redis.Enabled {
		d.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	cache := jwtauth.NewDocumentCache(ctx, d.Redis)
	if _, ok := cache.(*jwtauth.RedisCache); !ok && d.Redis != nil {
		d.Logger.Warn("redis unreachable, using in-process key cache", zap.String("addr", cfg.Redis.Addr))
	}

	var tokens, push middleware.TokenVerifier
	if cfg.Auth.Enabled {
		var keys jwtauth.KeySource
		if cfg.Auth.AllowsAlgorithm(config.AlgorithmRS256) {
			keys = jwtauth.NewKeyResolver(jwtauth.KeyResolverConfig{
				Issuer:      cfg.Auth.Issuer,
				JWKSURL:     cfg.Auth.JWKSURL,
				CacheTTL:    cfg.Auth.KeyCacheTTL,
				HTTPTimeout: cfg.Auth.HTTPTimeout,
			}, cache, observability.InstrumentClient(nil, cfg.Auth.HTTPTimeout), d.Logger)
		}
		var issuers []string
		if cfg.Auth.Issuer != "" {
			issuers = []string{cfg.Auth.Issuer}
		}
		tokens = jwtauth.NewVerifier(jwtauth.Options{
			Algorithms:   cfg.Auth.Algorithms,
			SharedSecret: cfg.Auth.SharedSecret,
			Issuers:      issuers,
			Audiences:    cfg.Auth.Audiences,
			Keys:         keys,
			ClockSkew:    cfg.Auth.ClockSkew,
		})
		d.Logger.Info("bearer token auth enabled",
			zap.String("issuer", cfg.Auth.Issuer),
			zap.Strings("algorithms", cfg.Auth.Algorithms))
	} else {
		d.Logger.Warn("AUTH_ENABLED is false, tenant routes accept anonymous callers")
	}

	if cfg.PushAuth.Enabled {
		keys := jwtauth.NewKeyResolver(jwtauth.KeyResolverConfig{
			JWKSURL:     cfg.PushAuth.JWKSURL,
			CacheTTL:    cfg.Auth.KeyCacheTTL,
			HTTPTimeout: cfg.Auth.HTTPTimeout,
		}, cache, observability.InstrumentClient(nil, cfg.Auth.HTTPTimeout), d.Logger)
		push = jwtauth.NewVerifier(jwtauth.Options{
			Algorithms: []string{jwtauth.AlgorithmRS256},
			Issuers:    cfg.PushAuth.Issuers,
			Audiences:  cfg.PushAuth.Audiences,
			Keys:       keys,
			ClockSkew:  cfg.Auth.ClockSkew,
		})
	}

	if cfg.Admin.APIKey == "" {
		d.Logger.Warn("ADMIN_API_KEY not set, admin routes disabled")
	}

	d.Gate = middleware.NewGate(middleware.GateConfig{
		Enabled:                  cfg.Auth.Enabled,
		TenantClaims:             cfg.Auth.TenantClaims,
		RequireTenantClaim:       cfg.Auth.RequireTenantClaim,
		PushEnabled:              cfg.PushAuth.Enabled,
		AllowUnauthenticatedPush: cfg.PushAuth.AllowUnauthenticated,
		PushServiceAccounts:      cfg.PushAuth.ServiceAccounts,
		AdminAPIKey:              cfg.Admin.APIKey,
	}, tokens, push, d.Logger)
}

func (d *Dependencies) initServices(cfg *config.Config) {
	d.Signer = integrity.NewSigner(cfg.Signing.Key, cfg.Signing.KeyID)
	if !d.Signer.Enabled() {
		d.Logger.Warn("AUDIT_SIGNING_KEY not set, artifacts are hashed but unsigned")
	}

	d.Ledger = ledger.NewService(d.Repos.Documents, d.Repos.Decisions, d.TxManager, d.Activity, d.Logger)

	d.Artifacts = artifacts.NewService(d.Ledger, d.Store, d.Repos.Artifacts, d.TxManager, d.Signer, d.Activity,
		artifacts.Settings{
			ReportsBucket:      cfg.Storage.ReportsBucket,
			Environment:        cfg.Environment,
			AuthEnabled:        cfg.Auth.Enabled,
			AuthIssuer:         cfg.Auth.Issuer,
			AuthAudiences:      cfg.Auth.Audiences,
			RequireTenantClaim: cfg.Auth.RequireTenantClaim,
			PushAuthEnabled:    cfg.PushAuth.Enabled,
		}, d.Logger)

	d.Retention = retention.NewService(d.Repos.Artifacts, d.Repos.RetentionPolicies, d.Repos.LegalHolds, d.Store, d.Activity,
		retention.Limits{Default: cfg.Retention.DefaultLimit, Max: cfg.Retention.MaxLimit}, d.Logger)

	d.Logger.Info("services initialized", zap.Bool("signing_enabled", d.Signer.Enabled()))
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Drain activity before the sinks go away
	if d.Activity != nil {
		if err := d.Activity.Stop(activityStopTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop activity service: %w", err))
		}
	}

	if d.kafka != nil {
		if err := d.kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close kafka sink: %w", err))
		}
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}

	// Close database connection
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return errors.Join(errs...)
}

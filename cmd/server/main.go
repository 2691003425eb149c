package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"identity-platform/trustcore/internal/audit"
	audithandler "identity-platform/trustcore/internal/audit/handler"
	auditrepo "identity-platform/trustcore/internal/audit/repository"
	"identity-platform/trustcore/internal/cache"
	"identity-platform/trustcore/internal/config"
	"identity-platform/trustcore/internal/db"
	healthhandler "identity-platform/trustcore/internal/health/handler"
	identityhandler "identity-platform/trustcore/internal/identity/handler"
	identityservice "identity-platform/trustcore/internal/identity/service"
	membershiprepo "identity-platform/trustcore/internal/membership/repository"
	oauthhandler "identity-platform/trustcore/internal/oauth/handler"
	oauthrepo "identity-platform/trustcore/internal/oauth/repository"
	oauthservice "identity-platform/trustcore/internal/oauth/service"
	"identity-platform/trustcore/internal/rbac"
	"identity-platform/trustcore/internal/security"
	"identity-platform/trustcore/internal/server"
	"identity-platform/trustcore/internal/server/middleware"
	sessionrepo "identity-platform/trustcore/internal/session/repository"
	"identity-platform/trustcore/internal/telemetry/otel"
	"identity-platform/trustcore/internal/token"
	userrepo "identity-platform/trustcore/internal/user/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var logger *zap.Logger
	if cfg.Production() {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, server.ServiceName, false)
	if err != nil {
		logger.Fatal("telemetry", zap.Error(err))
	}
	providers.SetGlobal()
	defer func() {
		if err := providers.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db", zap.Error(err))
	}
	defer conn.Close()

	var store cache.Store
	var cachePing healthhandler.CachePinger
	if cfg.RedisAddr != "" {
		redisStore, err := cache.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, "")
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer func() { _ = redisStore.Close() }()
		store = redisStore
		cachePing = redisStore
	} else {
		logger.Warn("REDIS_ADDR not set, using in-process store; revocation will not survive restarts")
		store = cache.NewMemoryStore()
	}

	key, err := loadSigningKey(cfg)
	if err != nil {
		logger.Fatal("signing key", zap.Error(err))
	}
	keys := security.NewKeyProvider(key)
	codec := security.NewCodec(keys)
	hasher := security.NewHasher(cfg.BcryptCost)

	users := userrepo.NewPostgresRepository(conn)
	memberships := membershiprepo.NewPostgresRepository(conn)
	sessions := sessionrepo.NewPostgresRepository(conn)
	clients := oauthrepo.NewPostgresRepository(conn)
	events := auditrepo.NewPostgresRepository(conn)

	auditLogger := audit.NewLogger(events, logger, middleware.ClientIPFromContext).
		WithEmitter(otel.NewEventEmitter(providers.LoggerProvider))

	tokens := token.NewService(codec, store, sessions, auditLogger, logger,
		cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.RefreshTTL())
	engine := rbac.NewEngine(memberships, logger, rbac.DefaultCacheTTL)
	oauthSvc := oauthservice.NewService(clients, users, store, tokens, hasher,
		auditLogger, logger, cfg.CodeTTL(), cfg.ConsentWindow())
	lockout := identityservice.NewLockout(store, cfg.LockoutThreshold, cfg.LockWindow())
	authSvc := identityservice.NewAuthService(users, memberships, sessions,
		hasher, tokens, lockout, auditLogger, logger)

	router := server.NewRouter(server.Deps{
		OAuth:     oauthhandler.New(oauthSvc, logger),
		Identity:  identityhandler.New(authSvc, logger),
		Health:    healthhandler.New(conn, cachePing),
		Audit:     audithandler.NewHandler(events, logger),
		WellKnown: server.NewWellKnown(keys, cfg.JWTIssuer),
		Auth:      &middleware.Auth{Tokens: tokens, Logger: logger},
		RBAC:      engine,
		Logger:    logger,
	})

	logger.Info("listening", zap.String("addr", cfg.HTTPAddr))
	if err := server.NewHTTPServer(router).Run(ctx, cfg.HTTPAddr); err != nil {
		logger.Fatal("server", zap.Error(err))
	}
	logger.Info("stopped")
}

// loadSigningKey builds the active signing key from config. A PEM key pair
// wins; otherwise the HS256 secret is used (config.Load rejects that in
// production).
func loadSigningKey(cfg *config.Config) (*security.SigningKey, error) {
	if cfg.JWTPrivateKey != "" {
		return security.NewAsymmetricKey(cfg.JWTKeyID, cfg.JWTPrivateKey, cfg.JWTPublicKey)
	}
	return security.NewSymmetricKey(cfg.JWTKeyID, []byte(cfg.JWTSecret))
}

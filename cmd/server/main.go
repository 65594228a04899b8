package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/movalabs/panelgate/internal/abuse"
	"github.com/movalabs/panelgate/internal/auth"
	"github.com/movalabs/panelgate/internal/config"
	"github.com/movalabs/panelgate/internal/federation"
	"github.com/movalabs/panelgate/internal/health"
	"github.com/movalabs/panelgate/internal/invite"
	"github.com/movalabs/panelgate/internal/logger"
	"github.com/movalabs/panelgate/internal/metrics"
	appmw "github.com/movalabs/panelgate/internal/middleware"
	"github.com/movalabs/panelgate/internal/repository"
	"github.com/movalabs/panelgate/internal/securitylog"
)

var version = "dev"

func main() {
	cfg := config.Load()

	slogger := logger.New(logger.DefaultConfig())

	dbPool, err := setupDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbPool.Close()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	// Repositories
	accountRepo := repository.NewAccountRepository(dbPool)
	sessionRepo := repository.NewSessionRepository(dbPool)
	inviteRepo := repository.NewInviteRepository(dbPool)
	eventRepo := repository.NewSecurityEventRepository(dbPool)
	regStore := repository.NewRegistrationStore(dbPool, accountRepo, inviteRepo)

	// Background sweeps stop when this context ends.
	sweepCtx, stopSweeps := context.WithCancel(context.Background())
	defer stopSweeps()

	// Security event sink
	recorder := securitylog.NewRecorder(eventRepo, slogger)
	defer recorder.Close()

	// Abuse mitigation
	tracker := abuse.NewTracker(cfg.Security.AttemptWindow, cfg.Security.AttemptThreshold, cfg.Security.BlockDuration)
	tracker.StartSweep(sweepCtx, 5*time.Minute)
	gate := abuse.NewGate(tracker, recorder)

	authLimiter := abuse.NewLimiter(cfg.Security.AuthRateLimit, cfg.Security.AuthRateWindow)
	defer authLimiter.Stop()
	loginLimiter := abuse.NewLimiter(cfg.Security.LoginRateLimit, cfg.Security.LoginRateWindow)
	defer loginLimiter.Stop()

	// Core services
	hasher := auth.NewPasswordHasher(auth.PasswordHasherConfig{
		Pepper:      cfg.Security.Pepper,
		MemoryKiB:   cfg.Security.ArgonMemoryKiB,
		Iterations:  cfg.Security.ArgonIterations,
		Parallelism: cfg.Security.ArgonParallelism,
	}, slogger)

	sessionManager := auth.NewSessionManager(sessionRepo, accountRepo, cfg.Security.SessionTTL, slogger)
	sessionManager.StartSweep(sweepCtx, time.Hour)

	inviteService := invite.NewService(inviteRepo, slogger)

	authService := auth.NewAuthService(
		accountRepo,
		regStore,
		inviteService,
		hasher,
		sessionManager,
		tracker,
		recorder,
		auth.AuthServiceConfig{
			MaxLoginFailures: cfg.Security.MaxLoginFailures,
			LockoutDuration:  cfg.Security.LockoutDuration,
		},
		slogger,
	)

	// Federation
	var stateStore federation.StateStore
	if redisClient != nil {
		stateStore = federation.NewRedisStateStore(redisClient, cfg.OAuth.StateTTL)
	} else {
		memStore := federation.NewMemoryStateStore(cfg.OAuth.StateTTL)
		memStore.StartSweep(sweepCtx, 2*time.Minute)
		stateStore = memStore
	}

	provider := federation.NewProvider(federation.ProviderConfig{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		RedirectURL:  cfg.OAuth.RedirectURL,
		AuthURL:      cfg.OAuth.AuthURL,
		TokenURL:     cfg.OAuth.TokenURL,
		ProfileURL:   cfg.OAuth.ProfileURL,
		GroupsURL:    cfg.OAuth.GroupsURL,
		Scopes:       cfg.OAuth.Scopes,
		Timeout:      cfg.OAuth.Timeout,
	})

	federationService := federation.NewService(
		provider,
		stateStore,
		accountRepo,
		sessionManager,
		hasher,
		recorder,
		federation.ParseGroupRoles(cfg.OAuth.RoleGroups),
		slogger,
	)

	// Handlers and middleware
	authHandler := auth.NewAuthHandler(authService, cfg.Security.FailurePadding)
	inviteHandler := invite.NewHandler(inviteService)
	federationHandler := federation.NewHandler(federationService, cfg.Server.FrontendURL, slogger)
	sessionMiddleware := appmw.NewSessionMiddleware(sessionManager)
	loggingMiddleware := appmw.NewLoggingMiddleware(slogger)

	healthHandler := health.NewHandler(health.Config{
		DBPool:       dbPool,
		RedisClient:  redisClient,
		BotStatusURL: cfg.Bot.StatusURL,
		BotTimeout:   cfg.Bot.Timeout,
		Version:      version,
	})

	// Router
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(loggingMiddleware.Handler)
	r.Use(metrics.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.Server.FrontendURL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/health/ready", healthHandler.Readiness)
	r.Get("/health/live", healthHandler.Liveness)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	requireOperator := appmw.RequireRole("admin", "moderator")

	r.Route("/api/v1", func(r chi.Router) {
		auth.RegisterRoutes(r, authHandler,
			sessionMiddleware.Authenticate,
			gate.Limit(authLimiter, "auth"),
			gate.Limit(loginLimiter, "login"))
		federation.RegisterRoutes(r, federationHandler, gate.Limit(authLimiter, "auth"))
		invite.RegisterRoutes(r, inviteHandler, sessionMiddleware.Authenticate, requireOperator)
	})

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slogger.Info("starting server", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slogger.Info("shutting down server")
	healthHandler.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	// Stop sweeps and flush buffered security events before the pool closes.
	stopSweeps()
	recorder.Close()

	slogger.Info("server exited")
}

// setupDatabase creates and configures the database connection pool
func setupDatabase(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 5 * time.Minute
	poolConfig.MaxConnIdleTime = 1 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

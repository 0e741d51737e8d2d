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

	"engagement-backend/internal/config"
	"engagement-backend/internal/database"
	"engagement-backend/internal/handlers"
	"engagement-backend/internal/locks"
	"engagement-backend/internal/logger"
	"engagement-backend/internal/middleware"
	"engagement-backend/internal/repository"
	"engagement-backend/internal/router"
	"engagement-backend/internal/services"
	"engagement-backend/internal/websocket"
	"engagement-backend/internal/worker"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()

	logg, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("✗ Logger initialization failed: %v", err)
	}
	defer logg.Sync()
	logg.Info("🚀 Starting Engagement Backend...", "env", cfg.Env, "store", cfg.StoreBackend)

	// ──── Step 2: Initialize Session Store ────
	var store repository.SessionStore
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		store = repository.NewMemoryStore()
		logg.Warn("using in-memory session store; data is lost on restart")
	default:
		pool, err := database.NewPostgresPool(cfg.DatabaseURL, int32(cfg.DBMaxConns))
		if err != nil {
			logg.Fatal("✗ PostgreSQL connection failed", "error", err)
		}
		defer pool.Close()
		logg.Info("✓ PostgreSQL connected")

		if err := database.RunMigrations(pool, cfg.MigrationsDir, logg); err != nil {
			logg.Fatal("✗ Database migration failed", "error", err)
		}
		logg.Info("✓ Database migrations applied")

		store = repository.NewPostgresStore(pool)
	}

	// ──── Step 3: Initialize Redis (optional) ────
	var redisClients *database.RedisClients
	if cfg.RedisURL != "" {
		redisClients, err = database.NewRedisClients(cfg.RedisURL)
		if err != nil {
			logg.Fatal("✗ Redis connection failed", "error", err)
		}
		defer redisClients.Close()
		logg.Info("✓ Redis connected")
	}

	// ──── Step 4: Initialize Services ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret, cfg.JWTTTL)

	var locker locks.Locker
	var publisher services.SplitPublisher
	var wsHub *websocket.Hub
	if redisClients != nil {
		locker = locks.NewRedisLocker(redisClients.Locks, cfg.LockTTL)
		publisher = services.NewRedisSplitPublisher(redisClients.Locks)
		wsHub = websocket.NewHub(redisClients.PubSub, jwtAuth, logg)
	} else {
		locker = locks.NewLocalLocker()
		wsHub = websocket.NewHub(nil, jwtAuth, logg)
		publisher = wsHub
	}

	storePolicy := services.DefaultStorePolicy()
	storePolicy.Timeout = cfg.StoreTimeout
	storePolicy.MaxAttempts = uint(cfg.StoreMaxRetries)

	thresholds := services.Thresholds{
		Idle:        cfg.IdleThreshold,
		ActivityGap: cfg.ActivityGapThreshold,
	}

	sessionManager := services.NewSessionManager(store, locker, publisher, services.SessionManagerConfig{
		Store:    storePolicy,
		LockWait: cfg.LockWait,
	}, logg)
	activityMonitor := services.NewActivityMonitor(sessionManager, thresholds)
	videoAggregator := services.NewVideoEventAggregator(activityMonitor, store, storePolicy)
	inactivityRecorder := services.NewInactivityRecorder(activityMonitor, store, storePolicy)
	authService := services.NewAuthService(store, sessionManager, jwtAuth, storePolicy, cfg.BcryptCost)
	logg.Info("✓ Services initialized", "idle_threshold", thresholds.Idle, "activity_gap_threshold", thresholds.ActivityGap)

	// ──── Initialize Handlers ────
	authHandler := handlers.NewAuthHandler(authService)
	telemetryHandler := handlers.NewTelemetryHandler(sessionManager, videoAggregator, inactivityRecorder)
	sessionHandler := handlers.NewSessionHandler(sessionManager)

	// ──── Step 5: Start Stale Session Reaper ────
	reaper := worker.NewReaper(sessionManager, cfg.ActivityGapThreshold, cfg.ReaperInterval, 100, logg)
	reaper.Start()

	// ──── Step 6: Start HTTP Server ────
	r := router.New(
		jwtAuth,
		middleware.AuthRateLimit(cfg.AuthRateLimit, cfg.AuthRateWindow),
		authHandler,
		telemetryHandler,
		sessionHandler,
		wsHub,
		cfg.FrontendURL,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logg.Info("Shutting down...")
		reaper.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	logg.Info("✓ Engagement Backend ready", "addr", fmt.Sprintf("http://localhost:%s", cfg.Port))
	logg.Info("  API", "url", fmt.Sprintf("http://localhost:%s/api/v1", cfg.Port))
	logg.Info("  WS", "url", fmt.Sprintf("ws://localhost:%s/api/v1/ws", cfg.Port))

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logg.Fatal("Server error", "error", err)
	}
}

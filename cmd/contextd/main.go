// Package main is the contextd entry point. One process runs the HTTP
// API, the realtime WebSocket gateway, the notification bridge between
// them, and the periodic cleanup and metric workers.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/contextd/contextd/internal/auth"
	"github.com/contextd/contextd/internal/bridge"
	"github.com/contextd/contextd/internal/brief"
	"github.com/contextd/contextd/internal/common/config"
	"github.com/contextd/contextd/internal/common/httpmw"
	"github.com/contextd/contextd/internal/common/logger"
	"github.com/contextd/contextd/internal/db"
	"github.com/contextd/contextd/internal/db/dialect"
	"github.com/contextd/contextd/internal/events"
	"github.com/contextd/contextd/internal/events/bus"
	gateway "github.com/contextd/contextd/internal/gateway/websocket"
	"github.com/contextd/contextd/internal/track/handlers"
	"github.com/contextd/contextd/internal/track/repository"
	"github.com/contextd/contextd/internal/track/service"
	"github.com/contextd/contextd/internal/workers"
)

func main() {
	// 1. Load configuration
	cfg, warnings, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	for _, warning := range warnings {
		log.Warn("config validation", zap.String("issue", warning))
	}
	log.Info("Starting contextd...", zap.String("mode", cfg.Mode))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	development := !cfg.IsProduction()

	// 3. Open the store and pick the wake-channel transport. Postgres
	// uses pg_notify end to end; SQLite rides the in-process (or NATS)
	// event bus.
	var (
		repo     *repository.Repository
		notifier events.Notifier
		wake     *bridge.Bridge
		eventBus bus.EventBus
	)

	hub := gateway.NewHub(log)

	switch cfg.Database.Driver {
	case dialect.PGX:
		sqlDB, err := openPostgresWithRetry(cfg.Database, log)
		if err != nil {
			log.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
		}
		conn := sqlx.NewDb(sqlDB, dialect.PGX)
		pool := db.NewPool(conn, conn)
		repo, err = repository.NewWithDB(pool.Writer(), pool.Reader())
		if err != nil {
			log.Fatal("Failed to initialize schema", zap.Error(err))
		}
		defer pool.Close()
		notifier = events.NewPGNotifier(pool.Writer())
		wake = bridge.NewPostgres(cfg.Database.DSN(), hub, log)
		log.Info("PostgreSQL store initialized",
			zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.DBName))

	case dialect.SQLite3:
		repo, err = repository.NewSQLite(cfg.Database.SQLitePath)
		if err != nil {
			log.Fatal("Failed to initialize SQLite database",
				zap.Error(err), zap.String("db_path", cfg.Database.SQLitePath))
		}
		defer repo.Close()

		if cfg.NATS.URL != "" {
			natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
			if err != nil {
				log.Fatal("Failed to connect to NATS", zap.Error(err))
			}
			defer natsBus.Close()
			eventBus = natsBus
			log.Info("Connected to NATS event bus", zap.String("url", cfg.NATS.URL))
		} else {
			eventBus = bus.NewMemoryEventBus(log)
			log.Info("Using in-memory event bus")
		}
		notifier = bus.NewNotifier(eventBus)
		wake = bridge.NewBus(eventBus, hub, log)
		log.Info("SQLite store initialized", zap.String("db_path", cfg.Database.SQLitePath))

	default:
		log.Fatal("Unknown database driver", zap.String("driver", cfg.Database.Driver))
	}

	// 4. Business layer
	svc := service.NewService(repo, notifier, log)
	generator := brief.NewGenerator(repo, log)
	compacter := brief.NewCompacter(repo, generator, notifier, log)
	signer := auth.NewSigner(cfg.Auth.Secret, cfg.Auth.TokenTTL)

	// 5. Workers. The cleanup worker doubles as the inactivity checker
	// for the active-sessions view.
	cleanup := workers.NewCleanup(svc, cfg.Cleanup, log)
	metrics := workers.NewMetrics(repo, notifier, cfg.Cleanup.MetricIntervalDuration(), log)

	// 6. HTTP API
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	api := gin.New()
	api.Use(gin.Recovery())
	api.Use(httpmw.RequestLogger(log, "api"))
	api.Use(httpmw.CORS(cfg.CORS.AllowedOrigins))
	api.Use(deadlineByPath(cfg.Server))

	h := handlers.New(svc, generator, compacter, signer, auth.NewRateLimiter(),
		cleanup, cfg.Cleanup, development, log)
	h.RegisterRoutes(api)

	// 7. Realtime gateway
	realtimeRouter := gin.New()
	realtimeRouter.Use(gin.Recovery())
	realtimeRouter.Use(httpmw.RequestLogger(log, "realtime"))
	wsHandler := gateway.NewHandler(hub, signer, development, log)
	realtimeRouter.GET("/ws", wsHandler.HandleConnection)

	apiServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: api,
	}
	realtimeServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Realtime.Port),
		Handler: realtimeRouter,
	}

	// 8. Run everything until a signal arrives.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error { return wake.Run(gctx) })
	g.Go(func() error {
		cleanup.Run(gctx)
		return nil
	})
	g.Go(func() error {
		metrics.Run(gctx)
		return nil
	})
	g.Go(func() error {
		interval := time.Duration(cfg.Server.HealthcheckInterval) * time.Second
		if interval <= 0 {
			return nil
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := repo.Ping(gctx); err != nil {
					log.Warn("database healthcheck failed", zap.Error(err))
				}
			}
		}
	})

	g.Go(func() error {
		log.Info("API server listening", zap.String("addr", apiServer.Addr))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("Realtime server listening", zap.String("addr", realtimeServer.Addr))
		if err := realtimeServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down contextd...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Error("API server shutdown error", zap.Error(err))
		}
		if err := realtimeServer.Shutdown(shutdownCtx); err != nil {
			log.Error("Realtime server shutdown error", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("contextd exited with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("contextd stopped")
}

// openPostgresWithRetry dials the database up to maxRetries+1 times
// with a flat one-second pause, covering container startup races.
func openPostgresWithRetry(cfg config.DatabaseConfig, log *logger.Logger) (*sql.DB, error) {
	attempts := cfg.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		sqlDB, err := db.OpenPostgres(cfg.DSN(), cfg.MaxConns)
		if err == nil {
			return sqlDB, nil
		}
		lastErr = err
		log.Warn("PostgreSQL connection failed",
			zap.Int("attempt", attempt), zap.Int("max_attempts", attempts), zap.Error(err))
		if attempt < attempts {
			time.Sleep(time.Second)
		}
	}
	return nil, lastErr
}

// deadlineByPath applies the normal request deadline everywhere except
// the compact and brief-generation endpoints, which do more work.
func deadlineByPath(cfg config.ServerConfig) gin.HandlerFunc {
	normal := httpmw.Deadline(cfg.RequestTimeoutDuration())
	long := httpmw.Deadline(cfg.CompactTimeoutDuration())
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/api/compact/") || path == "/api/context/generate" {
			long(c)
			return
		}
		normal(c)
	}
}

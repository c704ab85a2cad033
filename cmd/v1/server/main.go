// Command server runs the game relay. It takes a single argument, the path
// to the JSON configuration file, and serves WebSocket upgrades on the
// configured endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fusionserver/relay/internal/v1/bus"
	"github.com/fusionserver/relay/internal/v1/config"
	"github.com/fusionserver/relay/internal/v1/health"
	"github.com/fusionserver/relay/internal/v1/listener"
	"github.com/fusionserver/relay/internal/v1/logging"
	"github.com/fusionserver/relay/internal/v1/middleware"
	"github.com/fusionserver/relay/internal/v1/ratelimit"
	"github.com/fusionserver/relay/internal/v1/tracing"
	"github.com/fusionserver/relay/internal/v1/transport"
	"github.com/fusionserver/relay/internal/v1/types"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <config-file>\n", os.Args[0])
		os.Exit(1)
	}

	// .env overlays the environment; secrets referenced by the config file
	// may live there.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := logging.Initialize(logging.Options{
		Level:       cfg.Logger.Level,
		FilePath:    cfg.Logger.FilePath(),
		Development: cfg.DevelopmentMode,
		FlushEvery:  cfg.Logger.FlushEvery,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.StartFlushLoop(ctx, cfg.Logger.FlushEvery)

	if cfg.NumberOfAdditionalThreads > 0 {
		runtime.GOMAXPROCS(cfg.NumberOfAdditionalThreads + 1)
	}

	var busService types.BusService
	if cfg.Redis.Enabled {
		service, err := bus.NewService(cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			// Single-instance operation needs no bus; degrade instead of dying.
			logging.Warn(ctx, "Broadcast bus unavailable, running single-instance",
				zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			busService = service
			defer func() { _ = service.Close() }()
		}
	}

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer(ctx, "fusion-relay", cfg.Tracing.CollectorAddr)
		if err != nil {
			logging.Warn(ctx, "Tracing disabled", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	rateLimiter, err := ratelimit.New(cfg.RateLimitWsIP)
	if err != nil {
		logging.Fatal(ctx, "Invalid rate limit format", zap.String("rate", cfg.RateLimitWsIP), zap.Error(err))
	}

	hub := transport.NewHub(busService, rateLimiter, cfg.AllowedOrigins)
	router := buildRouter(hub, health.NewHandler(busService), cfg)

	ln, err := listener.Listen(cfg.Listener)
	if err != nil {
		logging.Error(ctx, "Failed to bind listener", zap.Error(err))
		_ = logging.GetLogger().Sync()
		os.Exit(1)
	}

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	logging.Info(ctx, "Server started", zap.String("addr", cfg.Listener.Addr()))

	select {
	case <-ctx.Done():
		logging.Info(context.Background(), "Shutdown signal received")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error(context.Background(), "Server failed", zap.Error(err))
			_ = logging.GetLogger().Sync()
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	hub.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn(shutdownCtx, "Server shutdown incomplete", zap.Error(err))
	}

	logging.Info(context.Background(), "Server stopped",
		zap.Uint64("connections_accepted", ln.Accepted()))
	_ = logging.GetLogger().Sync()
}

// rootBody answers plain HTTP requests that never upgrade.
const rootBody = "FeelsBadMan\r\n"

func buildRouter(hub *transport.Hub, healthHandler *health.Handler, cfg *config.Config) *gin.Engine {
	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	if cfg.Tracing.Enabled {
		router.Use(otelgin.Middleware("fusion-relay"))
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET"},
		AllowHeaders:     []string{"Origin", "Content-Type", middleware.HeaderXCorrelationID},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Any target may carry the upgrade; route it to the hub before the
	// plain HTTP handlers see it.
	router.Use(func(c *gin.Context) {
		if websocket.IsWebSocketUpgrade(c.Request) {
			hub.ServeWs(c)
			c.Abort()
			return
		}
		c.Next()
	})

	router.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/plain", []byte(rootBody))
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	router.NoRoute(func(c *gin.Context) {
		c.Data(http.StatusNotFound, "text/plain", []byte(rootBody))
	})

	return router
}

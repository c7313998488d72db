package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/voltgrid/voltgrid-api/internal/auth"
	"github.com/voltgrid/voltgrid-api/internal/certificates"
	"github.com/voltgrid/voltgrid-api/internal/config"
	"github.com/voltgrid/voltgrid-api/internal/database"
	"github.com/voltgrid/voltgrid-api/internal/events"
	"github.com/voltgrid/voltgrid-api/internal/ledger"
	"github.com/voltgrid/voltgrid-api/internal/market"
	"github.com/voltgrid/voltgrid-api/internal/registry"
	"github.com/voltgrid/voltgrid-api/internal/telemetry"
	"github.com/voltgrid/voltgrid-api/internal/token"
	"github.com/voltgrid/voltgrid-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the settlement API server with graceful shutdown
// support. It sets up all required services, database connections, event
// sinks, background processors and API routes.
func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.Database)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Event pipeline: log sink always, WebSocket hub for live consumers,
	// Redis publisher when configured.
	hub := events.NewHub()
	hub.Attach(events.LogSink{})
	wsHub := events.NewWSHub()
	hub.Attach(wsHub)
	go wsHub.Run()
	if cfg.Events.RedisAddr != "" {
		redisSink := events.NewRedisSink(cfg.Events.RedisAddr, cfg.Events.RedisChannel)
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisSink.Ping(pingCtx); err != nil {
			zlog.Warn().Err(err).Msg("Redis event sink unreachable, continuing without it")
		} else {
			hub.Attach(redisSink)
			defer redisSink.Close()
		}
		pingCancel()
	}

	// Initialize services and handlers
	authService := auth.NewService(cfg.Auth.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	registryService := registry.NewService(db)
	registryHandlers := registry.NewGinHandlers(registryService)

	telemetryService := telemetry.NewService(db, cfg.Telemetry, hub)
	telemetryHandlers := telemetry.NewGinHandlers(telemetryService)

	tokenService := token.NewService(db, cfg.Ledger.AuthoritySeed)
	tokenHandlers := token.NewGinHandlers(tokenService)

	ledgerService := ledger.NewService(db, tokenService, cfg.Ledger.AuthoritySeed, hub)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)

	certificateService := certificates.NewService(db, ledgerService, cfg.Certificate, hub)
	certificateHandlers := certificates.NewGinHandlers(certificateService)

	marketService := market.NewService(db, tokenService, cfg.Market, hub)
	marketHandlers := market.NewGinHandlers(marketService)

	// Background processors: periodic settlement and order expiry sweeps
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()
	go ledger.NewProcessor(ledgerService).Start(processorCtx)
	go market.NewSweeper(marketService).Start(processorCtx)

	// Setup middleware
	router.Use(middleware.Metrics())
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, cfg, authHandlers, registryHandlers, telemetryHandlers,
		ledgerHandlers, tokenHandlers, certificateHandlers, marketHandlers, wsHub)

	// Wrap the engine with CORS for browser-based dashboards
	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler(router)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: handler,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Device/certificate/order routes: Protected by JWT authentication
// - Internal routes: Gateway, registration and authority calls protected by
//   internal network authentication
func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	authHandlers *auth.GinHandlers,
	registryHandlers *registry.GinHandlers,
	telemetryHandlers *telemetry.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
	tokenHandlers *token.GinHandlers,
	certificateHandlers *certificates.GinHandlers,
	marketHandlers *market.GinHandlers,
	wsHub *events.WSHub,
) {
	// Operational endpoints outside the versioned API
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", wsHub.ServeWS())

	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authRoutes := v1.Group("/auth")
		{
			authRoutes.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Device views
		devices := v1.Group("/devices")
		devices.Use(middleware.JWTAuth(cfg.Auth.JWTSecret))
		{
			devices.GET("", registryHandlers.ListOwnerDevicesHandler())
			devices.GET("/:device_id", registryHandlers.GetDeviceHandler())
			devices.GET("/:device_id/unsettled", ledgerHandlers.UnsettledBalanceHandler())
			devices.GET("/:device_id/certificates", certificateHandlers.ListDeviceCertificatesHandler())
		}

		// Balance views
		balances := v1.Group("/balances")
		balances.Use(middleware.JWTAuth(cfg.Auth.JWTSecret))
		{
			balances.GET("/:owner", tokenHandlers.GetOwnerBalancesHandler())
		}

		// Unit redemption
		redeem := v1.Group("/redeem")
		redeem.Use(middleware.JWTAuth(cfg.Auth.JWTSecret), middleware.RequireScope(auth.ScopeSettlement))
		{
			redeem.POST("", ledgerHandlers.RedeemHandler())
		}

		// Certificate routes
		certs := v1.Group("/certificates")
		certs.Use(middleware.JWTAuth(cfg.Auth.JWTSecret), middleware.RequireScope(auth.ScopeCertificates))
		{
			certs.GET("", certificateHandlers.ListOwnerCertificatesHandler())
			certs.GET("/stats", certificateHandlers.GetStatsHandler())
			certs.GET("/:certificate_id", certificateHandlers.GetCertificateHandler())
			certs.POST("/:certificate_id/retire", certificateHandlers.RetireHandler())
			certs.POST("/:certificate_id/transfer", certificateHandlers.TransferHandler())
		}

		// Order routes
		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth(cfg.Auth.JWTSecret), middleware.RequireScope(auth.ScopeMarketTrade))
		{
			orders.POST("", marketHandlers.CreateOrderHandler())
			orders.GET("", marketHandlers.ListOwnerOrdersHandler())
			orders.GET("/:order_id", marketHandlers.GetOrderHandler())
			orders.DELETE("/:order_id", marketHandlers.CancelOrderHandler())
		}

		// Market views
		marketGroup := v1.Group("/market")
		marketGroup.Use(middleware.JWTAuth(cfg.Auth.JWTSecret))
		{
			marketGroup.GET("/state", marketHandlers.MarketStateHandler())
			marketGroup.GET("/trades", marketHandlers.RecentTradesHandler())
		}

		// Gateway reading submission
		readings := v1.Group("/readings")
		readings.Use(middleware.InternalAuth(cfg.Auth.JWTSecret))
		{
			readings.POST("", telemetryHandlers.SubmitReadingHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(cfg.Auth.JWTSecret))
		{
			internal.POST("/devices", registryHandlers.RegisterDeviceHandler())
			internal.PUT("/devices/:device_id/status", registryHandlers.SetDeviceStatusHandler())
			internal.GET("/registry/stats", registryHandlers.GetStatsHandler())

			internal.POST("/submitters", telemetryHandlers.RegisterSubmitterHandler())
			internal.PUT("/submitters/:submitter_id/failed", telemetryHandlers.MarkSubmitterFailedHandler())
			internal.GET("/submitters", telemetryHandlers.ListSubmittersHandler())

			internal.POST("/settle/:device_id", ledgerHandlers.SettleHandler())

			internal.POST("/certificates", certificateHandlers.IssueHandler())
			internal.POST("/certificates/:certificate_id/activate", certificateHandlers.ActivateHandler())
			internal.POST("/certificates/:certificate_id/revoke", certificateHandlers.RevokeHandler())

			internal.POST("/match", marketHandlers.MatchHandler())
			internal.POST("/sweep", marketHandlers.SweepExpiredHandler())
		}
	}
}

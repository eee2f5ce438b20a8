package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/openvault/fund-api/internal/accounting"
	"github.com/openvault/fund-api/internal/auth"
	"github.com/openvault/fund-api/internal/compliance"
	"github.com/openvault/fund-api/internal/database"
	"github.com/openvault/fund-api/internal/events"
	"github.com/openvault/fund-api/internal/exchange"
	"github.com/openvault/fund-api/internal/fund"
	"github.com/openvault/fund-api/internal/ledger"
	"github.com/openvault/fund-api/internal/metrics"
	"github.com/openvault/fund-api/internal/pricefeed"
	"github.com/openvault/fund-api/internal/requests"
	"github.com/openvault/fund-api/internal/token"
	"github.com/openvault/fund-api/internal/trading"
	"github.com/openvault/fund-api/internal/valuation"
	"github.com/openvault/fund-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// Demo credentials registered outside production so the simulation can
// authenticate out of the box.
const (
	DemoManagerKey     = "manager-demo-key"
	DemoManagerSecret  = "manager-demo-secret"
	DemoInvestorKey    = "investor-demo-key"
	DemoInvestorSecret = "investor-demo-secret"
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

// main initializes and runs the fund API server with graceful shutdown
// support. It sets up the database, every service, the background
// request processor and the API routes.
func main() {
	db, err := database.NewDatabase(envOr("DATABASE_PATH", "fund.db"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	managerKey := envOr("MANAGER_API_KEY", DemoManagerKey)

	// Core ledgers and books
	tokens := token.NewLedger(db)
	shares, err := ledger.NewLedger(db)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize share ledger")
	}
	books := accounting.NewBooks(db)

	// Collaborator modules
	feed, err := pricefeed.NewFeed(db,
		envDurationOr("FEED_MIN_UPDATE_INTERVAL", 10*time.Second),
		envDurationOr("FEED_MAX_PRICE_AGE", time.Hour),
	)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize price feed")
	}
	participation := compliance.NewParticipationPolicy()
	risk := compliance.NewPriceTolerancePolicy(envInt64Or("RISK_MAX_DEVIATION_BPS", 0))

	// Fund record, created once
	funds := fund.NewService(db)
	referenceAsset := envOr("REFERENCE_ASSET", "WETH")
	f, err := funds.Get()
	if errors.Is(err, fund.ErrFundNotFound) {
		f, err = funds.Create(fund.Config{
			Name:           envOr("FUND_NAME", "Open Vault Fund"),
			Manager:        managerKey,
			ReferenceAsset: referenceAsset,
			// Roughly 1% of gross assets per year, accrued per second.
			ManagementRewardRate: decimal.NewFromInt(envInt64Or("MANAGEMENT_REWARD_RATE", 317098)),
			// 10% of share price gains.
			PerformanceRewardRate: decimal.NewFromInt(envInt64Or("PERFORMANCE_REWARD_RATE", 100_000_000_000_000)),
		})
	}
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize fund")
	}
	if _, err := feed.Decimals(referenceAsset); err != nil {
		if err := feed.RegisterAsset(referenceAsset, 18); err != nil {
			zlog.Fatal().Err(err).Msg("Failed to register reference asset")
		}
	}

	recorder := events.NewRecorder(db)
	engine, err := valuation.NewEngine(db, shares, tokens, books, feed, funds, recorder)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize valuation engine")
	}

	adapter := exchange.NewAdapter(db, tokens, f.CustodyAccount())
	requestsService := requests.NewService(db, shares, tokens, engine, funds, feed, participation, recorder)
	tradingService := trading.NewService(db, books, tokens, funds, feed, risk, adapter, recorder, exchange.EscrowAccount)

	// Auth
	jwtSecret := envOr("JWT_SECRET", "fund-secret-key")
	middleware.Configure(jwtSecret)
	authService := auth.NewService(jwtSecret)
	authService.RegisterManagerCredentials(managerKey, envOr("MANAGER_API_SECRET", DemoManagerSecret))
	if os.Getenv("ENV") != "production" {
		authService.RegisterAPICredentials(DemoInvestorKey, DemoInvestorSecret)
		seedDemoBalances(tokens, referenceAsset)
	}

	// Handlers
	authHandlers := auth.NewGinHandlers(authService)
	requestHandlers := requests.NewGinHandlers(requestsService)
	tradingHandlers := trading.NewGinHandlers(tradingService)
	valuationHandlers := valuation.NewGinHandlers(engine, funds, recorder)
	feedHandlers := pricefeed.NewGinHandlers(feed)
	fundHandlers := fund.NewGinHandlers(funds)

	// Background request processor
	processor := requests.NewProcessor(requestsService,
		envOr("WORKER_ACCOUNT", "WORKER"),
		envDurationOr("PROCESS_INTERVAL", 10*time.Second),
	)
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()
	go processor.Start(processorCtx)

	// Router
	router := gin.Default()
	router.Use(middleware.RateLimit())
	setupRoutes(router, authHandlers, requestHandlers, tradingHandlers, valuationHandlers, feedHandlers, fundHandlers)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers.
// - Auth routes: public token issuance
// - Request routes: investor endpoints, JWT protected
// - Fund routes: public status and metrics
// - Internal routes: manager/worker endpoints, manage permission required
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	requestHandlers *requests.GinHandlers,
	tradingHandlers *trading.GinHandlers,
	valuationHandlers *valuation.GinHandlers,
	feedHandlers *pricefeed.GinHandlers,
	fundHandlers *fund.GinHandlers,
) {
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		fundGroup := v1.Group("/fund")
		{
			fundGroup.GET("", valuationHandlers.FundStatusHandler())
			fundGroup.GET("/calculations", valuationHandlers.CalculationsHandler())
			fundGroup.GET("/events", valuationHandlers.EventsHandler())
		}

		requestGroup := v1.Group("/requests")
		requestGroup.Use(middleware.JWTAuth())
		{
			requestGroup.POST("/subscribe", requestHandlers.SubscribeHandler())
			requestGroup.POST("/redeem", requestHandlers.RedeemHandler())
			requestGroup.GET("/:request_id", requestHandlers.GetRequestHandler())
			requestGroup.POST("/:request_id/cancel", requestHandlers.CancelRequestHandler())
			requestGroup.POST("/slice-redeem", requestHandlers.SliceRedeemHandler())
			// Execution stays open to any authenticated account; whoever
			// runs it earns the incentive.
			requestGroup.POST("/:request_id/execute", requestHandlers.ExecuteRequestHandler())
		}

		internal := v1.Group("/internal")
		internal.Use(middleware.ManagerAuth())
		{
			internal.POST("/orders/make", tradingHandlers.MakeOrderHandler())
			internal.POST("/orders/take", tradingHandlers.TakeOrderHandler())
			internal.GET("/orders/:order_id", tradingHandlers.GetOrderHandler())
			internal.POST("/orders/:order_id/cancel", tradingHandlers.CancelOrderHandler())
			internal.POST("/settlement", tradingHandlers.SettlementHandler())
			internal.POST("/rewards/convert", valuationHandlers.ConvertRewardsHandler())
			internal.POST("/feed/assets", feedHandlers.RegisterAssetHandler())
			internal.POST("/feed/update", feedHandlers.PublishUpdateHandler())
			internal.POST("/fund/toggle-subscriptions", fundHandlers.ToggleSubscriptionsHandler())
			internal.POST("/fund/toggle-redemptions", fundHandlers.ToggleRedemptionsHandler())
		}
	}
}

// seedDemoBalances funds the demo investor so subscriptions work
// without an external asset bridge.
func seedDemoBalances(tokens *token.Ledger, referenceAsset string) {
	balance, err := tokens.BalanceOf(DemoInvestorKey, referenceAsset)
	if err != nil || balance.IsPositive() {
		return
	}
	// One million whole units.
	amount := decimal.New(1, 24)
	if err := tokens.Mint(DemoInvestorKey, referenceAsset, amount); err != nil {
		zlog.Warn().Err(err).Msg("Failed to seed demo balances")
		return
	}
	zlog.Info().Str("account", DemoInvestorKey).Msg("Seeded demo investor balance")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envInt64Or(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

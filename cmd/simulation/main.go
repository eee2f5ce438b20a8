package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
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
)

const (
	serverAddress = "http://localhost:8080"

	managerKey     = "manager-demo-key"
	managerSecret  = "manager-demo-secret"
	investorKey    = "investor-demo-key"
	investorSecret = "investor-demo-secret"

	referenceAsset = "WETH"
	tradedAsset    = "MLN"

	// Fast feed cadence so the execution gate clears quickly.
	feedInterval = time.Second
)

var oneShare = decimal.New(1, 18)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes min, max, mean, median, 95th and 99th percentile
// durations from the recorded measurements.
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the fund API
type simulationClient struct {
	baseURL string
	client  *http.Client
	stats   map[string]*routeStats
}

func newSimulationClient() *simulationClient {
	return &simulationClient{
		baseURL: serverAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
		stats: map[string]*routeStats{
			"auth":      {name: "Authentication"},
			"feed":      {name: "Feed Update"},
			"subscribe": {name: "Subscribe"},
			"redeem":    {name: "Redeem"},
			"execute":   {name: "Execute Request"},
			"make":      {name: "Make Order"},
			"cancel":    {name: "Cancel Order"},
			"convert":   {name: "Convert Rewards"},
			"fund":      {name: "Fund Status"},
		},
	}
}

// call performs one measured API call and returns the envelope's data
// field. A nil payload sends an empty body.
func (sc *simulationClient) call(statsKey, method, path, token string, payload interface{}) (json.RawMessage, error) {
	start := time.Now()
	stats := sc.stats[statsKey]
	defer func() {
		stats.addDuration(time.Since(start))
	}()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			stats.failures++
			return nil, err
		}
		body = bytes.NewBuffer(encoded)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		stats.failures++
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		stats.failures++
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		stats.failures++
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		stats.failures++
		return nil, fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		stats.failures++
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return envelope.Data, nil
}

// authenticate exchanges API credentials for a JWT
func (sc *simulationClient) authenticate(apiKey, apiSecret string) (string, error) {
	data, err := sc.call("auth", "POST", "/api/v1/auth/token", "", map[string]string{
		"api_key":    apiKey,
		"api_secret": apiSecret,
	})
	if err != nil {
		return "", err
	}
	var result struct {
		Token string `json:"jwt_token"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", err
	}
	return result.Token, nil
}

// publishPrices pushes one feed update
func (sc *simulationClient) publishPrices(token string, prices map[string]string) error {
	_, err := sc.call("feed", "POST", "/api/v1/internal/feed/update", token, map[string]interface{}{
		"prices": prices,
	})
	return err
}

// advanceFeed publishes two spaced updates so pending requests clear
// the freshness gate.
func (sc *simulationClient) advanceFeed(token string, prices map[string]string) error {
	for i := 0; i < 2; i++ {
		time.Sleep(feedInterval + 200*time.Millisecond)
		if err := sc.publishPrices(token, prices); err != nil {
			return err
		}
	}
	return nil
}

func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		if stats.totalCalls == 0 {
			continue
		}
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the fund lifecycle scenario: subscribe, execute, trade,
// redeem and convert rewards, all over HTTP.
func main() {
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	sc := newSimulationClient()

	managerToken, err := sc.authenticate(managerKey, managerSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("Manager authentication failed")
	}
	investorToken, err := sc.authenticate(investorKey, investorSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("Investor authentication failed")
	}
	log.Info().Msg("Authenticated manager and investor")

	// Register the traded asset and seed prices. One whole WETH is the
	// unit of account; MLN trades at half a WETH.
	if _, err := sc.call("feed", "POST", "/api/v1/internal/feed/assets", managerToken, map[string]interface{}{
		"asset":    tradedAsset,
		"decimals": 18,
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to register traded asset")
	}
	prices := map[string]string{
		referenceAsset: oneShare.String(),
		tradedAsset:    decimal.New(5, 17).String(),
	}
	if err := sc.publishPrices(managerToken, prices); err != nil {
		log.Fatal().Err(err).Msg("Failed to publish prices")
	}

	// Subscribe: 1000 shares with a 10 WETH cushion and 1 WETH incentive
	shares := oneShare.Mul(decimal.NewFromInt(1000))
	subscribeData, err := sc.call("subscribe", "POST", "/api/v1/requests/subscribe", investorToken, map[string]string{
		"share_quantity": shares.String(),
		"offered_value":  shares.Add(oneShare.Mul(decimal.NewFromInt(10))).String(),
		"incentive":      oneShare.String(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Subscription request failed")
	}
	subscribeID := requestID(subscribeData)
	log.Info().Str("request_id", subscribeID).Msg("Subscription requested")

	if err := sc.advanceFeed(managerToken, prices); err != nil {
		log.Fatal().Err(err).Msg("Feed advance failed")
	}
	if _, err := sc.call("execute", "POST", "/api/v1/requests/"+subscribeID+"/execute", managerToken, nil); err != nil {
		log.Fatal().Err(err).Msg("Subscription execution failed")
	}
	log.Info().Str("request_id", subscribeID).Msg("Subscription executed")

	// Place a make order selling WETH for MLN, then cancel it
	makeData, err := sc.call("make", "POST", "/api/v1/internal/orders/make", managerToken, map[string]string{
		"sell_asset":    referenceAsset,
		"buy_asset":     tradedAsset,
		"sell_quantity": oneShare.Mul(decimal.NewFromInt(100)).String(),
		"buy_quantity":  oneShare.Mul(decimal.NewFromInt(200)).String(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Make order failed")
	}
	orderID := orderIDOf(makeData)
	log.Info().Str("order_id", orderID).Msg("Make order placed")

	if _, err := sc.call("cancel", "POST", "/api/v1/internal/orders/"+orderID+"/cancel", managerToken, nil); err != nil {
		log.Fatal().Err(err).Msg("Cancel order failed")
	}
	log.Info().Str("order_id", orderID).Msg("Make order cancelled")

	// Redeem a quarter of the position. The requested value sits one
	// share under par so accrued rewards cannot push the actual value
	// below the limit.
	redeemShares := shares.Div(decimal.NewFromInt(4))
	redeemData, err := sc.call("redeem", "POST", "/api/v1/requests/redeem", investorToken, map[string]string{
		"share_quantity":  redeemShares.String(),
		"requested_value": redeemShares.Sub(oneShare).String(),
		"incentive":       oneShare.String(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Redemption request failed")
	}
	redeemID := requestID(redeemData)
	log.Info().Str("request_id", redeemID).Msg("Redemption requested")

	if err := sc.advanceFeed(managerToken, prices); err != nil {
		log.Fatal().Err(err).Msg("Feed advance failed")
	}
	if _, err := sc.call("execute", "POST", "/api/v1/requests/"+redeemID+"/execute", managerToken, nil); err != nil {
		log.Fatal().Err(err).Msg("Redemption execution failed")
	}
	log.Info().Str("request_id", redeemID).Msg("Redemption executed")

	// Convert accrued manager rewards into shares
	if _, err := sc.call("convert", "POST", "/api/v1/internal/rewards/convert", managerToken, nil); err != nil {
		log.Fatal().Err(err).Msg("Reward conversion failed")
	}
	log.Info().Msg("Manager rewards converted to shares")

	fundData, err := sc.call("fund", "GET", "/api/v1/fund", "", nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Fund status failed")
	}
	log.Info().RawJSON("fund", fundData).Msg("Final fund status")

	sc.printPerformanceStats()
}

func requestID(data json.RawMessage) string {
	var result struct {
		RequestID string `json:"request_id"`
	}
	_ = json.Unmarshal(data, &result)
	return result.RequestID
}

func orderIDOf(data json.RawMessage) string {
	var result struct {
		Order struct {
			OrderID string `json:"order_id"`
		} `json:"order"`
	}
	_ = json.Unmarshal(data, &result)
	return result.Order.OrderID
}

// startServer wires a full in-process server against a throwaway
// database, with a fast feed cadence suited to the scenario.
func startServer() error {
	gin.SetMode(gin.ReleaseMode)

	db, err := database.NewDatabase(filepath.Join(os.TempDir(), fmt.Sprintf("fund-sim-%d.db", os.Getpid())))
	if err != nil {
		return err
	}

	tokens := token.NewLedger(db)
	shares, err := ledger.NewLedger(db)
	if err != nil {
		return err
	}
	books := accounting.NewBooks(db)

	feed, err := pricefeed.NewFeed(db, feedInterval, time.Hour)
	if err != nil {
		return err
	}
	if err := feed.RegisterAsset(referenceAsset, 18); err != nil {
		return err
	}

	funds := fund.NewService(db)
	f, err := funds.Create(fund.Config{
		Name:                  "Open Vault Fund",
		Manager:               managerKey,
		ReferenceAsset:        referenceAsset,
		ManagementRewardRate:  decimal.NewFromInt(317098),
		PerformanceRewardRate: decimal.NewFromInt(100_000_000_000_000),
	})
	if err != nil {
		return err
	}

	recorder := events.NewRecorder(db)
	engine, err := valuation.NewEngine(db, shares, tokens, books, feed, funds, recorder)
	if err != nil {
		return err
	}

	participation := compliance.NewParticipationPolicy()
	risk := compliance.NewPriceTolerancePolicy(0)
	adapter := exchange.NewAdapter(db, tokens, f.CustodyAccount())
	requestsService := requests.NewService(db, shares, tokens, engine, funds, feed, participation, recorder)
	tradingService := trading.NewService(db, books, tokens, funds, feed, risk, adapter, recorder, exchange.EscrowAccount)

	middleware.Configure("fund-secret-key")
	authService := auth.NewService("fund-secret-key")
	authService.RegisterManagerCredentials(managerKey, managerSecret)
	authService.RegisterAPICredentials(investorKey, investorSecret)

	// Fund the investor
	if err := tokens.Mint(investorKey, referenceAsset, decimal.New(1, 24)); err != nil {
		return err
	}

	processor := requests.NewProcessor(requestsService, "WORKER", time.Hour)
	go processor.Start(context.Background())

	router := gin.New()
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := router.Group("/api/v1")
	v1.POST("/auth/token", auth.NewGinHandlers(authService).GenerateTokenHandler())

	valuationHandlers := valuation.NewGinHandlers(engine, funds, recorder)
	v1.GET("/fund", valuationHandlers.FundStatusHandler())

	requestHandlers := requests.NewGinHandlers(requestsService)
	requestGroup := v1.Group("/requests")
	requestGroup.Use(middleware.JWTAuth())
	requestGroup.POST("/subscribe", requestHandlers.SubscribeHandler())
	requestGroup.POST("/redeem", requestHandlers.RedeemHandler())
	requestGroup.GET("/:request_id", requestHandlers.GetRequestHandler())
	requestGroup.POST("/:request_id/cancel", requestHandlers.CancelRequestHandler())
	requestGroup.POST("/slice-redeem", requestHandlers.SliceRedeemHandler())
	requestGroup.POST("/:request_id/execute", requestHandlers.ExecuteRequestHandler())

	tradingHandlers := trading.NewGinHandlers(tradingService)
	feedHandlers := pricefeed.NewGinHandlers(feed)
	internal := v1.Group("/internal")
	internal.Use(middleware.ManagerAuth())
	internal.POST("/orders/make", tradingHandlers.MakeOrderHandler())
	internal.POST("/orders/take", tradingHandlers.TakeOrderHandler())
	internal.POST("/orders/:order_id/cancel", tradingHandlers.CancelOrderHandler())
	internal.POST("/settlement", tradingHandlers.SettlementHandler())
	internal.POST("/rewards/convert", valuationHandlers.ConvertRewardsHandler())
	internal.POST("/feed/assets", feedHandlers.RegisterAssetHandler())
	internal.POST("/feed/update", feedHandlers.PublishUpdateHandler())

	return router.Run(":8080")
}

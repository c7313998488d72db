package main

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	mrand "math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

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
	"github.com/voltgrid/voltgrid-api/internal/types"
	"github.com/voltgrid/voltgrid-api/pkg/middleware"
)

const (
	numParticipants   = 4
	readingsPerDevice = 12
	readingInterval   = 300 // seconds between simulated meter readings
	serverAddress     = "http://localhost:8080"

	gridUnit = uint64(1_000_000_000)
)

var deviceTypes = []string{types.DeviceSolar, types.DeviceWind, types.DeviceBattery}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
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

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the grid API on behalf of
// one authenticated identity (the gateway operator or a market participant)
type simulationClient struct {
	baseURL   string
	clientID  string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
	statsMu   sync.Mutex
}

// newSimulationClient creates a client, authenticates it and prepares
// performance tracking. All clients share one stats map so the summary
// covers every identity.
func newSimulationClient(apiKey, apiSecret string, stats map[string]*routeStats) (*simulationClient, error) {
	sc := &simulationClient{
		baseURL:  serverAddress,
		clientID: apiKey,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		stats: stats,
	}

	token, err := sc.authenticate(apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate %s: %w", apiKey, err)
	}
	sc.authToken = token

	return sc, nil
}

func (sc *simulationClient) record(route string, start time.Time, failed bool) {
	sc.statsMu.Lock()
	defer sc.statsMu.Unlock()
	rs, ok := sc.stats[route]
	if !ok {
		return
	}
	rs.addDuration(time.Since(start))
	if failed {
		rs.failures++
	}
}

// request performs an authenticated JSON request and decodes the standard
// {success, data} envelope into out (when out is non-nil)
func (sc *simulationClient) request(route, method, path string, payload, out interface{}) error {
	start := time.Now()
	failed := true
	defer func() {
		sc.record(route, start, failed)
	}()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return err
	}
	if sc.authToken != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("route", route).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out != nil {
		envelope := struct {
			Success bool            `json:"success"`
			Data    json.RawMessage `json:"data"`
		}{}
		if err := json.Unmarshal(respBody, &envelope); err != nil {
			return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
		}
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w, body: %s", err, string(respBody))
		}
	}

	failed = false
	return nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate(apiKey, apiSecret string) (string, error) {
	start := time.Now()
	failed := true
	defer func() {
		sc.record("auth", start, failed)
	}()

	credentials := map[string]string{
		"api_key":    apiKey,
		"api_secret": apiSecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Token string `json:"jwt_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	failed = false
	return result.Token, nil
}

// registerSubmitter enrolls a meter gateway into the authorized submitter set
func (sc *simulationClient) registerSubmitter(submitterID string, publicKey ed25519.PublicKey, role string) error {
	req := telemetry.RegisterSubmitterRequest{
		SubmitterID: submitterID,
		PublicKey:   hex.EncodeToString(publicKey),
		Role:        role,
	}
	return sc.request("submitter", "POST", "/api/v1/internal/submitters", req, nil)
}

// registerDevice enrolls a device for the given owner
func (sc *simulationClient) registerDevice(deviceID, owner, deviceType string) error {
	req := registry.RegisterDeviceRequest{
		DeviceID:   deviceID,
		Owner:      owner,
		DeviceType: deviceType,
	}
	return sc.request("device", "POST", "/api/v1/internal/devices", req, nil)
}

// submitReading signs and submits one meter reading for a device
func (sc *simulationClient) submitReading(submitterID string, key ed25519.PrivateKey, deviceID string, production, consumption uint64, timestamp int64) (*telemetry.ReadingResponse, error) {
	message := telemetry.ReadingMessage(deviceID, production, consumption, timestamp)
	req := telemetry.SubmitReadingRequest{
		DeviceID:         deviceID,
		ProductionDelta:  production,
		ConsumptionDelta: consumption,
		Timestamp:        timestamp,
		SubmitterID:      submitterID,
		Signature:        hex.EncodeToString(ed25519.Sign(key, message)),
	}

	var reading telemetry.ReadingResponse
	if err := sc.request("reading", "POST", "/api/v1/readings", req, &reading); err != nil {
		return nil, err
	}
	return &reading, nil
}

// settleDevice mints a device's accrued net generation to its owner
func (sc *simulationClient) settleDevice(deviceID string) (*ledger.SettleResult, error) {
	var result ledger.SettleResult
	path := fmt.Sprintf("/api/v1/internal/settle/%s", deviceID)
	if err := sc.request("settle", "POST", path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// issueCertificate issues a generation certificate against a device
func (sc *simulationClient) issueCertificate(deviceID string, amount uint64, sourceTag string) (*certificates.Certificate, error) {
	req := certificates.IssueRequest{
		DeviceID:  deviceID,
		Amount:    amount,
		SourceTag: sourceTag,
	}

	var cert certificates.Certificate
	if err := sc.request("certificate", "POST", "/api/v1/internal/certificates", req, &cert); err != nil {
		return nil, err
	}
	if cert.CertificateID == "" {
		return nil, fmt.Errorf("no certificate ID in response")
	}
	return &cert, nil
}

// activateCertificate moves a pending certificate to active
func (sc *simulationClient) activateCertificate(certificateID string) error {
	path := fmt.Sprintf("/api/v1/internal/certificates/%s/activate", certificateID)
	return sc.request("certificate", "POST", path, nil, nil)
}

// createOrder places a bid or ask for the client's own identity
// Returns the order ID on success
func (sc *simulationClient) createOrder(side string, quantity, limitPrice uint64) (string, error) {
	req := market.CreateOrderRequest{
		Side:       side,
		Quantity:   quantity,
		LimitPrice: limitPrice,
	}

	var order market.Order
	if err := sc.request("order", "POST", "/api/v1/orders", req, &order); err != nil {
		return "", err
	}
	if order.OrderID == "" {
		return "", fmt.Errorf("no order ID in response")
	}
	return order.OrderID, nil
}

// matchOrders executes a fill between a bid and an ask
func (sc *simulationClient) matchOrders(bidID, askID string) (*market.Trade, error) {
	req := market.MatchRequest{
		BidID: bidID,
		AskID: askID,
	}

	var trade market.Trade
	if err := sc.request("match", "POST", "/api/v1/internal/match", req, &trade); err != nil {
		return nil, err
	}
	return &trade, nil
}

// getMarketState retrieves the aggregate market view
func (sc *simulationClient) getMarketState() (*market.MarketState, error) {
	var state market.MarketState
	if err := sc.request("state", "GET", "/api/v1/market/state", nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func printPerformanceStats(stats map[string]*routeStats) {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 110))
	fmt.Printf("%-22s %8s %8s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 110))

	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rs := stats[name]
		min, max, mean, median, p95, p99 := rs.calculate()
		fmt.Printf("%-22s %8d %8d %10s %10s %10s %10s %10s %10s\n",
			rs.name,
			rs.totalCalls,
			rs.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 110))
}

// participantKey returns the API key for the nth simulated market participant
func participantKey(n int) string {
	return fmt.Sprintf("SIM_HOUSE_%d", n)
}

// participantSecret returns the API secret for the nth simulated market participant
func participantSecret(n int) string {
	return fmt.Sprintf("SIM_HOUSE_SECRET_%d", n)
}

// main runs the grid simulation end to end: meter readings flow in through a
// signed gateway, devices settle into balances, a certificate is issued
// against part of the generation, and participants trade the settled units.
func main() {
	// Start the server in a goroutine
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	stats := map[string]*routeStats{
		"auth":        {name: "Authentication"},
		"submitter":   {name: "Register Submitter"},
		"device":      {name: "Register Device"},
		"reading":     {name: "Submit Reading"},
		"settle":      {name: "Settle Device"},
		"certificate": {name: "Certificates"},
		"order":       {name: "Create Order"},
		"match":       {name: "Match Orders"},
		"state":       {name: "Market State"},
	}

	// The internal client acts as gateway operator and issuance authority
	internalClient, err := newSimulationClient(auth.TestAPIKey, auth.TestAPISecret, stats)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize internal client")
	}

	// Enroll one primary submitter with a fresh signing key
	gatewayPub, gatewayKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to generate gateway key")
	}
	const submitterID = "SIM_GATEWAY_1"
	if err := internalClient.registerSubmitter(submitterID, gatewayPub, telemetry.RolePrimary); err != nil {
		log.Fatal().Err(err).Msg("Failed to register submitter")
	}
	log.Info().Str("submitter_id", submitterID).Msg("Gateway submitter registered")

	// Register one device per participant
	deviceIDs := make([]string, numParticipants)
	for i := 0; i < numParticipants; i++ {
		deviceIDs[i] = fmt.Sprintf("DEV_SIM_%d", i+1)
		deviceType := deviceTypes[i%len(deviceTypes)]
		if err := internalClient.registerDevice(deviceIDs[i], participantKey(i+1), deviceType); err != nil {
			log.Fatal().Err(err).Str("device_id", deviceIDs[i]).Msg("Failed to register device")
		}
		log.Info().
			Str("device_id", deviceIDs[i]).
			Str("owner", participantKey(i+1)).
			Str("device_type", deviceType).
			Msg("Device registered")
	}

	// Submit signed readings concurrently, one worker per device. Timestamps
	// walk forward from the past so the rate limit never trips.
	var (
		wg               sync.WaitGroup
		readingsAccepted int64
		readingsMu       sync.Mutex
	)
	baseTimestamp := time.Now().Unix() - int64((readingsPerDevice+1)*readingInterval)
	for i := 0; i < numParticipants; i++ {
		wg.Add(1)
		go func(deviceID string) {
			defer wg.Done()
			for r := 0; r < readingsPerDevice; r++ {
				production := gridUnit * uint64(mrand.Intn(45)+5) // 5-50 kWh generated
				consumption := gridUnit * uint64(mrand.Intn(5))   // 0-5 kWh consumed
				timestamp := baseTimestamp + int64(r*readingInterval)

				reading, err := internalClient.submitReading(submitterID, gatewayKey, deviceID, production, consumption, timestamp)
				if err != nil {
					log.Error().Err(err).Str("device_id", deviceID).Msg("Failed to submit reading")
					continue
				}
				readingsMu.Lock()
				readingsAccepted++
				readingsMu.Unlock()
				log.Debug().
					Str("device_id", deviceID).
					Uint64("unsettled", reading.UnsettledGeneration).
					Msg("Reading accepted")
			}
		}(deviceIDs[i])
	}
	wg.Wait()
	log.Info().Int64("readings_accepted", readingsAccepted).Msg("All readings submitted")

	// Issue and activate a certificate against part of the first device's
	// generation before settlement claims the rest of the pool
	certAmount := 5 * gridUnit
	cert, err := internalClient.issueCertificate(deviceIDs[0], certAmount, "solar-rooftop")
	certificatesIssued := 0
	if err != nil {
		log.Error().Err(err).Msg("Failed to issue certificate")
	} else {
		certificatesIssued++
		if err := internalClient.activateCertificate(cert.CertificateID); err != nil {
			log.Error().Err(err).Str("certificate_id", cert.CertificateID).Msg("Failed to activate certificate")
		} else {
			log.Info().
				Str("certificate_id", cert.CertificateID).
				Uint64("amount", cert.Amount).
				Msg("Certificate issued and activated")
		}
	}

	// Settle every device so owners hold spendable units
	var totalMinted uint64
	devicesSettled := 0
	for _, deviceID := range deviceIDs {
		result, err := internalClient.settleDevice(deviceID)
		if err != nil {
			log.Error().Err(err).Str("device_id", deviceID).Msg("Failed to settle device")
			continue
		}
		devicesSettled++
		totalMinted += result.MintedAmount
		log.Info().
			Str("device_id", deviceID).
			Str("owner", result.Owner).
			Uint64("minted", result.MintedAmount).
			Msg("Device settled")
	}

	// Authenticate every participant for trading
	participants := make([]*simulationClient, numParticipants)
	for i := 0; i < numParticipants; i++ {
		participants[i], err = newSimulationClient(participantKey(i+1), participantSecret(i+1), stats)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to authenticate participant")
		}
	}

	// First half of the participants sell, second half buys. Ask limits sit
	// below bid limits so every pair crosses.
	half := numParticipants / 2
	askIDs := make([]string, 0, half)
	bidIDs := make([]string, 0, half)
	for i, participant := range participants {
		quantity := gridUnit * uint64(mrand.Intn(5)+5) // 5-10 kWh
		if i < half {
			limit := gridUnit * uint64(mrand.Intn(2)+2) // 2-3 per unit
			orderID, err := participant.createOrder(market.SideAsk, quantity, limit)
			if err != nil {
				log.Error().Err(err).Str("owner", participant.clientID).Msg("Failed to create ask")
				continue
			}
			askIDs = append(askIDs, orderID)
			log.Info().Str("order_id", orderID).Str("owner", participant.clientID).Msg("Ask created")
		} else {
			limit := gridUnit * uint64(mrand.Intn(2)+4) // 4-5 per unit
			orderID, err := participant.createOrder(market.SideBid, quantity, limit)
			if err != nil {
				log.Error().Err(err).Str("owner", participant.clientID).Msg("Failed to create bid")
				continue
			}
			bidIDs = append(bidIDs, orderID)
			log.Info().Str("order_id", orderID).Str("owner", participant.clientID).Msg("Bid created")
		}
	}

	// Match each bid against an ask
	tradesExecuted := 0
	var totalTradeValue uint64
	for i := 0; i < len(bidIDs) && i < len(askIDs); i++ {
		trade, err := internalClient.matchOrders(bidIDs[i], askIDs[i])
		if err != nil {
			log.Error().Err(err).Str("bid_id", bidIDs[i]).Str("ask_id", askIDs[i]).Msg("Failed to match orders")
			continue
		}
		tradesExecuted++
		totalTradeValue += trade.TotalValue
		log.Info().
			Str("trade_id", trade.TradeID).
			Uint64("amount", trade.Amount).
			Uint64("price", trade.Price).
			Uint64("fee", trade.FeeAmount).
			Msg("Trade executed")
	}

	// Read back the aggregate market view
	state, err := internalClient.getMarketState()
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch market state")
		state = &market.MarketState{}
	}

	// Print summary
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("GRID SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf(`
Devices Registered:   %d
Readings Accepted:    %d
Devices Settled:      %d
Units Minted:         %.3f kWh
Certificates Issued:  %d
Asks Created:         %d
Bids Created:         %d
Trades Executed:      %d
Trade Value:          %.3f
Market Volume:        %.3f kWh
VWAP:                 %.3f
Last Clearing Price:  %.3f
`,
		numParticipants,
		readingsAccepted,
		devicesSettled,
		float64(totalMinted)/float64(gridUnit),
		certificatesIssued,
		len(askIDs),
		len(bidIDs),
		tradesExecuted,
		float64(totalTradeValue)/float64(gridUnit),
		float64(state.TotalVolume)/float64(gridUnit),
		float64(state.VWAP)/float64(gridUnit),
		float64(state.LastClearingPrice)/float64(gridUnit))
	fmt.Println(strings.Repeat("=", 80))

	log.Info().
		Int("trades_executed", tradesExecuted).
		Uint64("total_volume", state.TotalVolume).
		Uint64("vwap", state.VWAP).
		Msg("Simulation completed")

	printPerformanceStats(stats)
}

// startServer initializes and starts the grid API server
// Sets up all required services, handlers and routes
func startServer() error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.Database.DSN = "simulation.db"

	// Initialize database
	db, err := database.NewDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	hub := events.NewHub()
	hub.Attach(events.LogSink{})

	// Initialize services
	authService := auth.NewService(cfg.Auth.JWTSecret)
	registryService := registry.NewService(db)
	telemetryService := telemetry.NewService(db, cfg.Telemetry, hub)
	tokenService := token.NewService(db, cfg.Ledger.AuthoritySeed)
	ledgerService := ledger.NewService(db, tokenService, cfg.Ledger.AuthoritySeed, hub)
	certificateService := certificates.NewService(db, ledgerService, cfg.Certificate, hub)
	marketService := market.NewService(db, tokenService, cfg.Market, hub)

	// Register test and participant credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)
	for i := 1; i <= numParticipants; i++ {
		authService.RegisterAPICredentials(participantKey(i), participantSecret(i))
	}

	// Initialize router
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	registryHandlers := registry.NewGinHandlers(registryService)
	telemetryHandlers := telemetry.NewGinHandlers(telemetryService)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)
	certificateHandlers := certificates.NewGinHandlers(certificateService)
	marketHandlers := market.NewGinHandlers(marketService)

	// Setup routes
	setupRoutes(router, cfg, authHandlers, registryHandlers, telemetryHandlers,
		ledgerHandlers, certificateHandlers, marketHandlers)

	// Start the server
	return router.Run(":" + cfg.Server.Port)
}

// setupRoutes configures the API endpoints the simulation exercises
// Groups routes by functionality and applies appropriate middleware
func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	authHandlers *auth.GinHandlers,
	registryHandlers *registry.GinHandlers,
	telemetryHandlers *telemetry.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
	certificateHandlers *certificates.GinHandlers,
	marketHandlers *market.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Order routes
		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth(cfg.Auth.JWTSecret))
		{
			orders.POST("", marketHandlers.CreateOrderHandler())
			orders.GET("/:order_id", marketHandlers.GetOrderHandler())
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

		// Internal routes
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(cfg.Auth.JWTSecret))
		{
			internal.POST("/devices", registryHandlers.RegisterDeviceHandler())
			internal.POST("/submitters", telemetryHandlers.RegisterSubmitterHandler())
			internal.POST("/settle/:device_id", ledgerHandlers.SettleHandler())
			internal.POST("/certificates", certificateHandlers.IssueHandler())
			internal.POST("/certificates/:certificate_id/activate", certificateHandlers.ActivateHandler())
			internal.POST("/match", marketHandlers.MatchHandler())
		}
	}
}

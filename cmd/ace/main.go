package main

import (
	"context"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/agentfi/ace/internal/backend"
	"github.com/agentfi/ace/internal/chain"
	"github.com/agentfi/ace/internal/clearing"
	"github.com/agentfi/ace/internal/config"
	"github.com/agentfi/ace/internal/ledger"
	"github.com/agentfi/ace/internal/logger"
	"github.com/agentfi/ace/internal/reputation"
	"github.com/agentfi/ace/internal/state"
	"github.com/agentfi/ace/internal/vault"
	"github.com/agentfi/ace/internal/web"
)

const SHUTDOWN_GRACE = 15 * time.Second

// main is the entry point for the clearing engine.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(config.LogLevel)
	log.Info().Str("mode", config.Mode).Msg("ACE Clearing Engine Starting...")

	// Initialize Database Connection
	dbCfg := state.DBConfig{
		Host: config.DBHost, Port: config.DBPort,
		User: config.DBUser, Password: config.DBPassword,
		DBName: config.DBName, SSLMode: config.DBSSLMode,
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// Load Clearing Parameters
	clearingParams, err := state.LoadActiveClearingParameters(clearing.DEFAULT_CONFIG_NAME)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load active clearing parameters, using defaults and saving.")
		defaultParams := config.DefaultClearingParameters
		if _, err := state.SaveClearingParameters(defaultParams, clearing.DEFAULT_CONFIG_NAME, clearing.DEFAULT_CONFIG_VERSION, true); err != nil {
			log.Fatal().Err(err).Msg("Failed to save initial default clearing parameters.")
		}
		clearingParams = &defaultParams
	}
	log.Info().Msg("Clearing parameters loaded successfully.")

	// --- 2. Ledger Backend Initialization (with Safety Switch) ---
	var ledgerBackend backend.LedgerBackend
	var repFeed reputation.Feed

	if config.Mode == config.ModeLive {
		log.Warn().Msg("Initializing ACE in LIVE mode. Real transactions will be broadcast.")

		operatorKey, err := crypto.HexToECDSA(config.OperatorKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to parse clearing operator key")
		}
		transactor, err := bind.NewKeyedTransactorWithChainID(operatorKey, new(big.Int).SetUint64(config.ChainID))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to build transactor for chain")
		}

		chainClient, err := chain.NewClient(context.Background(), chain.Config{
			RPCURL:          config.ChainRPC,
			ClearingAddress: config.ClearingContract,
			Transactor:      transactor,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize chain client")
		}
		ledgerBackend = chainClient

		feed, err := chain.FeedForClient(chainClient, config.ReputationContract)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize reputation feed")
		}
		repFeed = feed
	} else {
		log.Info().Msg("Initializing ACE in LOCAL mode. State is in-process and non-durable.")
		liquidityVault := vault.NewLiquidityVault()
		creditLedger := ledger.NewCreditLedger(liquidityVault, clearingParams.InterestRateBP, clearingParams.AccrualInterval)
		ledgerBackend = backend.NewLocal(liquidityVault, creditLedger)
		repFeed = reputation.NewMemoryFeed()
	}
	defer ledgerBackend.Close()

	// --- 3. Reputation Strategy Selection ---
	var repStrategy reputation.Strategy
	switch config.RepStrategy {
	case "composite":
		repStrategy = reputation.NewCompositeStrategy(reputation.Bounds{
			Min: clearingParams.RepFactorMin,
			Max: clearingParams.RepFactorMax,
		})
	case "feed_average":
		repStrategy = reputation.NewFeedAverageStrategy(repFeed, clearingParams.RepLookbackBlocks, reputation.Bounds{
			Min: clearingParams.RepFactorMin,
			Max: clearingParams.RepFactorMax,
		})
	default:
		log.Fatal().Str("strategy", config.RepStrategy).Msg("REP_STRATEGY must be 'feed_average' or 'composite'")
	}

	// --- 4. Create Orchestrator with Dependency Injection ---
	log.Info().Msg("Creating clearing orchestrator with dependency injection...")

	orchestrator, err := clearing.NewOrchestrator(clearing.Config{
		Backend:    ledgerBackend,
		Reputation: repStrategy,
		Params:     *clearingParams,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create clearing orchestrator")
	}

	log.Info().Msg("Clearing orchestrator created successfully")

	// --- 5. Start Web Server ---
	webServer := web.NewWebServer(config.WebPort, orchestrator)
	webErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", config.WebPort).Str("url", "http://localhost:"+config.WebPort).Msg("Starting ACE status API")
		webErr <- webServer.Start()
	}()

	// --- 6. Wait for Shutdown ---
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case err := <-webErr:
		log.Error().Err(err).Msg("Web server exited")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), SHUTDOWN_GRACE)
	defer cancel()
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Web server shutdown failed")
	}

	log.Info().Msg("ACE Clearing Engine stopped.")
}

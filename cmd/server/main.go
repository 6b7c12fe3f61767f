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

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"vaultwars/internal/api"
	"vaultwars/internal/blockchain/evm"
	"vaultwars/internal/config"
	"vaultwars/internal/finalize"
	"vaultwars/internal/game"
	"vaultwars/internal/oracle"
	"vaultwars/internal/poller"
	"vaultwars/internal/service"
	"vaultwars/internal/store"
	"vaultwars/internal/worker"
)

func main() {
	// Initialize logger
	logger, err := initLogger()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting Vault Wars client engine")

	// Local overrides; absence is fine in deployed environments
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded", zap.Error(err))
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Configuration loaded",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("db_host", cfg.Database.Host),
		zap.String("contract", cfg.Chain.ContractAddress))

	// Connect to database
	db, err := store.Connect(store.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("Database connected successfully")

	// Run migrations
	if err := store.RunMigrations(db, cfg.Database.MigrationPath); err != nil {
		logger.Warn("Failed to run migrations (may already be applied)", zap.Error(err))
	} else {
		logger.Info("Database migrations applied successfully")
	}

	// Chain client and contract binding
	chainClient, err := evm.NewClient(cfg.Chain.RPCEndpoint, cfg.Player.PrivateKey, logger)
	if err != nil {
		logger.Fatal("Failed to create chain client", zap.Error(err))
	}
	defer chainClient.Close()

	contract, err := evm.NewContract(chainClient, common.HexToAddress(cfg.Chain.ContractAddress), logger)
	if err != nil {
		logger.Fatal("Failed to bind game contract", zap.Error(err))
	}

	player := chainClient.PlayerAddress()
	logger.Info("Player wallet loaded", zap.String("address", player.Hex()))

	reader := evm.NewReader(contract, evm.RoomTTL, logger)

	// Oracle client
	oracleClient, err := oracle.NewClient(cfg.Oracle.Endpoint, logger)
	if err != nil {
		logger.Fatal("Failed to create oracle client", zap.Error(err))
	}

	// Game state and background machinery
	reducer := game.NewReducer(player, logger)
	coordinator := finalize.NewCoordinator(reader, oracleClient, contract, logger)
	executor := worker.NewExecutor(reader, db, oracleClient, reducer, coordinator, player, logger)

	eventPoller := poller.New(contract, executor, logger,
		poller.WithInterval(cfg.Poller.Interval),
		poller.WithLookback(cfg.Poller.Lookback),
		poller.WithRepeatCap(cfg.Poller.RepeatCap),
	)

	rooms := service.NewRoomService(reader, contract, oracleClient, db, reducer, coordinator, player, logger)

	logger.Info("Services initialized")

	// API handlers and HTTP server
	apiHandler := api.NewHandler(rooms, player, logger)
	router := api.SetupRouter(apiHandler, logger)

	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start HTTP server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server",
			zap.String("addr", serverAddr))
		serverErrors <- httpServer.ListenAndServe()
	}()

	// Start background workers
	manager := worker.NewManager(eventPoller, executor, logger)
	manager.Start()

	logger.Info("Service initialized successfully",
		zap.String("status", "ready"),
		zap.Int("port", cfg.Server.Port))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Fatal("HTTP server error", zap.Error(err))
	case sig := <-quit:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	}

	logger.Info("Shutting down service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Workers first so no effects land after the server stops answering
	if err := manager.Shutdown(10 * time.Second); err != nil {
		logger.Error("Worker shutdown error", zap.Error(err))
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
		httpServer.Close()
	} else {
		logger.Info("HTTP server stopped gracefully")
	}

	logger.Info("Service stopped successfully")
}

func initLogger() (*zap.Logger, error) {
	env := os.Getenv("ENV")
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

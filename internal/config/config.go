package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config holds all configuration for the service
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Chain    ChainConfig
	Oracle   OracleConfig
	Player   PlayerConfig
	Poller   PollerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	DBName        string
	SSLMode       string
	MigrationPath string
}

// ChainConfig holds the EVM chain endpoint and the game contract address
type ChainConfig struct {
	RPCEndpoint     string
	ContractAddress string
}

// OracleConfig holds the FHE oracle gateway endpoint
type OracleConfig struct {
	Endpoint string
}

// PlayerConfig holds the player wallet configuration
type PlayerConfig struct {
	PrivateKey string // For signing game transactions
}

// PollerConfig holds the event polling parameters
type PollerConfig struct {
	Interval  time.Duration
	Lookback  uint64
	RepeatCap int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          getEnvInt("DB_PORT", 5432),
			User:          getEnv("DB_USER", "postgres"),
			Password:      getEnv("DB_PASSWORD", "postgres"),
			DBName:        getEnv("DB_NAME", "vaultwars"),
			SSLMode:       getEnv("DB_SSL_MODE", "disable"),
			MigrationPath: getEnv("DB_MIGRATION_PATH", "internal/store/migrations/001_schema.sql"),
		},
		Chain: ChainConfig{
			RPCEndpoint:     getEnv("CHAIN_RPC_ENDPOINT", ""),
			ContractAddress: getEnv("GAME_CONTRACT_ADDRESS", ""),
		},
		Oracle: OracleConfig{
			Endpoint: getEnv("ORACLE_ENDPOINT", ""),
		},
		Player: PlayerConfig{
			PrivateKey: getEnv("PLAYER_PRIVATE_KEY", ""),
		},
		Poller: PollerConfig{
			Interval:  getEnvDuration("POLLER_INTERVAL", 3*time.Second),
			Lookback:  uint64(getEnvInt("POLLER_LOOKBACK_BLOCKS", 10)),
			RepeatCap: getEnvInt("POLLER_REPEAT_CAP", 3),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Chain.RPCEndpoint == "" {
		return fmt.Errorf("CHAIN_RPC_ENDPOINT is required")
	}

	if !common.IsHexAddress(c.Chain.ContractAddress) {
		return fmt.Errorf("GAME_CONTRACT_ADDRESS is not a valid address: %q", c.Chain.ContractAddress)
	}

	if c.Oracle.Endpoint == "" {
		return fmt.Errorf("ORACLE_ENDPOINT is required")
	}

	if c.Player.PrivateKey == "" {
		return fmt.Errorf("player private key is required")
	}

	if c.Poller.Interval <= 0 {
		return fmt.Errorf("invalid poller interval: %s", c.Poller.Interval)
	}

	if c.Poller.RepeatCap <= 0 {
		return fmt.Errorf("invalid poller repeat cap: %d", c.Poller.RepeatCap)
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

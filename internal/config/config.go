// Package config loads the vote-node service's configuration from
// environment variables, in the teacher's getEnv/getEnvInt style.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the vote-node service.
type Config struct {
	// Server Configuration
	ListenAddr  string
	MetricsAddr string
	HealthAddr  string

	// Database Configuration
	DBHost            string
	DBPort            int
	DBUser            string
	DBPassword        string
	DBName            string
	DBSSLMode         string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Election Configuration
	ElectionDataPath string // directory of election definition files, scanned at startup

	// Consensus Configuration
	ChainID    string
	P2PPort    int
	RPCPort    int
	NodeHome   string

	// Zero-knowledge proving key material
	ZKCircuitPath   string // path to the compiled constraint system
	ZKVerifyingKeyPath string

	// CheckTx cache
	CheckCacheSize int

	LogLevel string
}

// Load reads configuration from environment variables. Every field has a
// development-friendly default; production deployments are expected to
// override DB_* and ELECTION_DATA_PATH explicitly.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:  getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("API_PORT", "8080"),
		MetricsAddr: getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("METRICS_PORT", "9090"),
		HealthAddr:  getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("HEALTH_PORT", "8081"),

		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnvInt("DB_PORT", 5432),
		DBUser:            getEnv("DB_USER", "votenode"),
		DBPassword:        getEnv("DB_PASSWORD", ""),
		DBName:            getEnv("DB_NAME", "votenode"),
		DBSSLMode:         getEnv("DB_SSL_MODE", "disable"),
		DBMaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", time.Hour),

		ElectionDataPath: getEnv("ELECTION_DATA_PATH", "./elections"),

		ChainID:  getEnv("COMETBFT_CHAIN_ID", "vote-chain"),
		P2PPort:  getEnvInt("COMETBFT_P2P_PORT", 26656),
		RPCPort:  getEnvInt("COMETBFT_RPC_PORT", 26657),
		NodeHome: getEnv("NODE_HOME", "./data"),

		ZKCircuitPath:      getEnv("ZK_CIRCUIT_PATH", ""),
		ZKVerifyingKeyPath: getEnv("ZK_VERIFYING_KEY_PATH", ""),

		CheckCacheSize: getEnvInt("CHECK_CACHE_SIZE", 4096),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// DataSourceName renders the individual DB_* fields as a lib/pq connection
// string.
func (c *Config) DataSourceName() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode,
	)
}

// Validate checks that configuration required to start the service for real
// is present. Call after Load().
func (c *Config) Validate() error {
	var errs []string

	if c.ElectionDataPath == "" {
		errs = append(errs, "ELECTION_DATA_PATH is required but not set")
	}
	if c.DBName == "" {
		errs = append(errs, "DB_NAME is required but not set")
	}
	if c.ChainID == "" {
		errs = append(errs, "COMETBFT_CHAIN_ID is required but not set")
	}
	if c.CheckCacheSize <= 0 {
		errs = append(errs, "CHECK_CACHE_SIZE must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

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
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

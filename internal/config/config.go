// Package config provides configuration management for the referral dashboard.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Chain ids of the opBNB networks the referral contract is deployed on
const (
	OPBNBMainnetChainID uint64 = 204
	OPBNBTestnetChainID uint64 = 5611
)

// DefaultContractAddress is the deployed referral program contract
const DefaultContractAddress = "0xB3e87A325fDc19DAB850eD85e8057E5b91391C3b"

// DefaultRegistrationFeeWei is the value sent with regUser
const DefaultRegistrationFeeWei = "5000000000000"

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Chain     ChainConfig
	Wallet    WalletConfig
	Gateway   GatewayConfig
	Session   SessionConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// ChainConfig holds the accepted networks and the contract deployment
type ChainConfig struct {
	AcceptedChainIDs   []uint64
	SwitchTargetID     uint64
	ContractAddress    common.Address
	RegistrationFeeWei *big.Int
}

// WalletConfig holds wallet provider discovery configuration
type WalletConfig struct {
	Endpoints        []string
	DiscoveryTimeout time.Duration
	DialAttempts     int
	DialBackoff      time.Duration
}

// GatewayConfig holds contract gateway tuning
type GatewayConfig struct {
	ReadRPS               float64
	ReadBurst             int
	GasPriceBufferPercent int64
	MaxConcurrentLookups  int
	ReceiptPollInterval   time.Duration
	ConfirmationTimeout   time.Duration
	BreakerMaxFailures    int
	BreakerTimeout        time.Duration
}

// SessionConfig holds wallet session behaviour
type SessionConfig struct {
	AccountKey        string
	AutoSwitchNetwork bool
	MaxNotices        int
}

// RedisConfig holds Redis configuration. An empty Host disables Redis.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional, environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	acceptedIDs, err := getEnvAsUint64List("ACCEPTED_CHAIN_IDS", []uint64{OPBNBMainnetChainID, OPBNBTestnetChainID})
	if err != nil {
		return nil, err
	}

	contractHex := getEnv("CONTRACT_ADDRESS", DefaultContractAddress)
	if !common.IsHexAddress(contractHex) {
		return nil, fmt.Errorf("invalid CONTRACT_ADDRESS %q", contractHex)
	}

	fee, ok := new(big.Int).SetString(getEnv("REGISTRATION_FEE_WEI", DefaultRegistrationFeeWei), 10)
	if !ok || fee.Sign() < 0 {
		return nil, fmt.Errorf("invalid REGISTRATION_FEE_WEI")
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Chain: ChainConfig{
			AcceptedChainIDs:   acceptedIDs,
			SwitchTargetID:     uint64(getEnvAsInt("SWITCH_TARGET_CHAIN_ID", int(OPBNBTestnetChainID))),
			ContractAddress:    common.HexToAddress(contractHex),
			RegistrationFeeWei: fee,
		},
		Wallet: WalletConfig{
			Endpoints:        getEnvAsList("WALLET_ENDPOINTS", []string{"ws://127.0.0.1:8546"}),
			DiscoveryTimeout: getEnvAsDuration("WALLET_DISCOVERY_TIMEOUT", 3*time.Second),
			DialAttempts:     getEnvAsInt("WALLET_DIAL_ATTEMPTS", 3),
			DialBackoff:      getEnvAsDuration("WALLET_DIAL_BACKOFF", 200*time.Millisecond),
		},
		Gateway: GatewayConfig{
			ReadRPS:               getEnvAsFloat("GATEWAY_READ_RPS", 20),
			ReadBurst:             getEnvAsInt("GATEWAY_READ_BURST", 20),
			GasPriceBufferPercent: int64(getEnvAsInt("GATEWAY_GAS_PRICE_BUFFER_PERCENT", 20)),
			MaxConcurrentLookups:  getEnvAsInt("GATEWAY_MAX_CONCURRENT_LOOKUPS", 8),
			ReceiptPollInterval:   getEnvAsDuration("GATEWAY_RECEIPT_POLL_INTERVAL", 2*time.Second),
			ConfirmationTimeout:   getEnvAsDuration("GATEWAY_CONFIRMATION_TIMEOUT", 2*time.Minute),
			BreakerMaxFailures:    getEnvAsInt("GATEWAY_BREAKER_MAX_FAILURES", 5),
			BreakerTimeout:        getEnvAsDuration("GATEWAY_BREAKER_TIMEOUT", 30*time.Second),
		},
		Session: SessionConfig{
			AccountKey:        getEnv("SESSION_ACCOUNT_KEY", "session:currentAccount"),
			AutoSwitchNetwork: getEnvAsBool("SESSION_AUTO_SWITCH_NETWORK", true),
			MaxNotices:        getEnvAsInt("SESSION_MAX_NOTICES", 32),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 10),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// RedisAddr returns host:port of the Redis server, or "" when Redis is disabled
func (c RedisConfig) RedisAddr() string {
	if c.Host == "" {
		return ""
	}
	return c.Host + ":" + c.Port
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a bool with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated environment variable
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	var values []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}

// getEnvAsUint64List parses a comma separated list of unsigned integers.
// Unlike the scalar helpers a malformed entry is an error, since silently
// accepting the wrong chain set is unsafe.
func getEnvAsUint64List(key string, defaultValue []uint64) ([]uint64, error) {
	parts := getEnvAsList(key, nil)
	if parts == nil {
		return defaultValue, nil
	}

	values := make([]uint64, 0, len(parts))
	for _, part := range parts {
		value, err := strconv.ParseUint(part, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s entry %q: %w", key, part, err)
		}
		values = append(values, value)
	}
	return values, nil
}

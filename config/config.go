package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Config captures the immutable runtime configuration for the relay service.
// It is constructed once at process start; any missing required value fails
// construction rather than surfacing on first use.
type Config struct {
	Port            string
	Env             string
	DatabaseURL     string
	RPCURL          string
	ChainID         uint64
	RelayKeyHex     string
	TokenContract   common.Address
	USDContract     common.Address
	HasUSDContract  bool
	BillContract    common.Address
	Confirmations   uint64
	ConfirmTimeout  time.Duration
	ConfirmPoll     time.Duration
	GasLimit        uint64
	SyncInterval    time.Duration
	SyncWorkers     int
}

// FromEnv loads configuration from environment variables.
func FromEnv() (*Config, error) {
	dbURL := strings.TrimSpace(os.Getenv("BILLRELAY_DB_URL"))
	if dbURL == "" {
		return nil, fmt.Errorf("BILLRELAY_DB_URL is required")
	}

	rpcURL := strings.TrimSpace(os.Getenv("BILLRELAY_RPC_URL"))
	if rpcURL == "" {
		return nil, fmt.Errorf("BILLRELAY_RPC_URL is required")
	}

	chainRaw := getEnvDefault("BILLRELAY_CHAIN_ID", "1")
	chainID, err := strconv.ParseUint(chainRaw, 10, 64)
	if err != nil || chainID == 0 {
		return nil, fmt.Errorf("invalid BILLRELAY_CHAIN_ID %q", chainRaw)
	}

	relayKey := strings.TrimSpace(os.Getenv("BILLRELAY_RELAY_KEY"))
	if relayKey == "" {
		return nil, fmt.Errorf("BILLRELAY_RELAY_KEY is required")
	}
	if _, err := ethcrypto.HexToECDSA(strings.TrimPrefix(relayKey, "0x")); err != nil {
		return nil, fmt.Errorf("invalid BILLRELAY_RELAY_KEY: %w", err)
	}

	tokenAddr, err := requireAddress("BILLRELAY_TOKEN_CONTRACT")
	if err != nil {
		return nil, err
	}
	billAddr, err := requireAddress("BILLRELAY_BILL_CONTRACT")
	if err != nil {
		return nil, err
	}

	var usdAddr common.Address
	hasUSD := false
	if raw := strings.TrimSpace(os.Getenv("BILLRELAY_USD_TOKEN_CONTRACT")); raw != "" {
		if !common.IsHexAddress(raw) {
			return nil, fmt.Errorf("invalid BILLRELAY_USD_TOKEN_CONTRACT %q", raw)
		}
		usdAddr = common.HexToAddress(raw)
		hasUSD = true
	}

	confirmations := parseUintEnv("BILLRELAY_CONFIRMATIONS", 1)
	confirmTimeout := parseIntEnv("BILLRELAY_CONFIRM_TIMEOUT_SECONDS", 180)
	if confirmTimeout <= 0 {
		return nil, fmt.Errorf("invalid BILLRELAY_CONFIRM_TIMEOUT_SECONDS %d", confirmTimeout)
	}
	confirmPoll := parseIntEnv("BILLRELAY_CONFIRM_POLL_SECONDS", 2)
	if confirmPoll <= 0 {
		confirmPoll = 2
	}
	gasLimit := parseUintEnv("BILLRELAY_GAS_LIMIT", 500_000)

	syncInterval := parseIntEnv("BILLRELAY_SYNC_INTERVAL_SECONDS", 300)
	if syncInterval <= 0 {
		return nil, fmt.Errorf("invalid BILLRELAY_SYNC_INTERVAL_SECONDS %d", syncInterval)
	}
	syncWorkers := parseIntEnv("BILLRELAY_SYNC_WORKERS", 4)
	if syncWorkers <= 0 {
		syncWorkers = 1
	}

	return &Config{
		Port:           normalizePort(getEnvDefault("BILLRELAY_PORT", "8080")),
		Env:            strings.TrimSpace(os.Getenv("BILLRELAY_ENV")),
		DatabaseURL:    dbURL,
		RPCURL:         rpcURL,
		ChainID:        chainID,
		RelayKeyHex:    relayKey,
		TokenContract:  tokenAddr,
		USDContract:    usdAddr,
		HasUSDContract: hasUSD,
		BillContract:   billAddr,
		Confirmations:  confirmations,
		ConfirmTimeout: time.Duration(confirmTimeout) * time.Second,
		ConfirmPoll:    time.Duration(confirmPoll) * time.Second,
		GasLimit:       gasLimit,
		SyncInterval:   time.Duration(syncInterval) * time.Second,
		SyncWorkers:    syncWorkers,
	}, nil
}

func requireAddress(key string) (common.Address, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return common.Address{}, fmt.Errorf("%s is required", key)
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid %s %q", key, raw)
	}
	return common.HexToAddress(raw), nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func normalizePort(port string) string {
	if port == "" {
		return "8080"
	}
	if len(port) > 0 && port[0] == ':' {
		return port[1:]
	}
	return port
}

func parseIntEnv(key string, def int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return def
}

func parseUintEnv(key string, def uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

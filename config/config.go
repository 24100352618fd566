package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Environment variables
const (
	EnvNetwork          = "NETWORK" // only mainnet is supported
	EnvRPCEndpoint      = "RPC_ENDPOINT"
	EnvFlashbotsRPC     = "FLASHBOTS_RPC"
	EnvPrivateKey       = "PRIVATE_KEY"
	EnvContractAddress  = "CONTRACT_ADDRESS"
	EnvRegistryFile     = "REGISTRY_FILE"
	EnvProfitMargin     = "PROFIT_MARGIN"
	EnvDynamicSlippage  = "DYNAMIC_SLIPPAGE"
	EnvCycleDelayMs     = "CYCLE_DELAY_MS"
	EnvScanTimeoutMs    = "OPPORTUNITY_TIMEOUT_MS"
	EnvStatsIntervalMs  = "STATS_INTERVAL_MS"
	EnvHealthCheckEvery = "HEALTH_CHECK_INTERVAL"
	EnvMinBalanceWei    = "MIN_BALANCE_WEI"
	EnvMaxCycleErrors   = "MAX_CONSECUTIVE_ERRORS"
	EnvTelegramToken    = "TELEGRAM_BOT_TOKEN"
	EnvTelegramChatID   = "TELEGRAM_CHAT_ID"
	EnvLedgerPath       = "PROFIT_LEDGER_PATH"
	EnvNotifyThreshold  = "NOTIFY_PROFIT_THRESHOLD_WEI"
)

// Config holds the runtime settings for one bot instance. One instance serves
// exactly one network context.
type Config struct {
	Network         string
	RPCEndpoint     string
	FlashbotsRPC    string
	PrivateKey      string
	ContractAddress common.Address
	RegistryFile    string

	ProfitMarginBps  int64
	DynamicSlippage  bool
	CycleDelay       time.Duration
	ScanTimeout      time.Duration
	StatsInterval    time.Duration
	HealthCheckEvery int
	MinBalanceWei    *big.Int
	MaxCycleErrors   int

	TelegramToken   string
	TelegramChatID  string
	LedgerPath      string
	NotifyThreshold *big.Int
}

// LoadEnv loads environment variables from .env file
func LoadEnv() error {
	return godotenv.Load()
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// Load reads the configuration from the environment. A missing .env file is
// not an error; missing required keys are.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Network:      GetEnvWithDefault(EnvNetwork, "mainnet"),
		RPCEndpoint:  os.Getenv(EnvRPCEndpoint),
		FlashbotsRPC: os.Getenv(EnvFlashbotsRPC),
		PrivateKey:   os.Getenv(EnvPrivateKey),
		RegistryFile: os.Getenv(EnvRegistryFile),

		TelegramToken:  os.Getenv(EnvTelegramToken),
		TelegramChatID: os.Getenv(EnvTelegramChatID),
		LedgerPath:     GetEnvWithDefault(EnvLedgerPath, "profit.db"),
	}

	if cfg.RPCEndpoint == "" {
		return nil, fmt.Errorf("config: %s is required", EnvRPCEndpoint)
	}
	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("config: %s is required", EnvPrivateKey)
	}

	rawContract := os.Getenv(EnvContractAddress)
	if !common.IsHexAddress(rawContract) {
		return nil, fmt.Errorf("config: %s is missing or not a hex address", EnvContractAddress)
	}
	cfg.ContractAddress = common.HexToAddress(rawContract)

	margin, err := strconv.ParseFloat(GetEnvWithDefault(EnvProfitMargin, "0.03"), 64)
	if err != nil || margin < 0 || margin > 1 {
		return nil, fmt.Errorf("config: invalid %s: %q", EnvProfitMargin, os.Getenv(EnvProfitMargin))
	}
	cfg.ProfitMarginBps = int64(margin*10000 + 0.5)

	cfg.DynamicSlippage = GetEnvWithDefault(EnvDynamicSlippage, "false") == "true"
	cfg.CycleDelay = envDurationMs(EnvCycleDelayMs, 10_000)
	cfg.ScanTimeout = envDurationMs(EnvScanTimeoutMs, 30_000)
	cfg.StatsInterval = envDurationMs(EnvStatsIntervalMs, 60_000)
	cfg.HealthCheckEvery = envInt(EnvHealthCheckEvery, 10)
	cfg.MaxCycleErrors = envInt(EnvMaxCycleErrors, 5)

	cfg.MinBalanceWei = envBigInt(EnvMinBalanceWei, new(big.Int).Div(oneEther, big.NewInt(10)))
	cfg.NotifyThreshold = envBigInt(EnvNotifyThreshold, new(big.Int).Div(oneEther, big.NewInt(20)))

	return cfg, nil
}

var oneEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func envDurationMs(key string, def int64) time.Duration {
	ms, err := strconv.ParseInt(os.Getenv(key), 10, 64)
	if err != nil || ms <= 0 {
		ms = def
	}
	return time.Duration(ms) * time.Millisecond
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func envBigInt(key string, def *big.Int) *big.Int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		return def
	}
	return v
}

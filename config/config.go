// Package config provides configuration management for the signalrunner
// trade executor. It loads settings from environment variables and .env
// files and aggregates every validation problem into a single error so an
// operator can fix them all in one pass.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// one is reused by every "must be a fraction" validation check.
var one = decimal.NewFromInt(1)

// PrimaryWallet selects which wallet sizing prefers before falling back to
// the other (spec.md §4.1 step 1).
type PrimaryWallet string

const (
	WalletMargin PrimaryWallet = "margin"
	WalletSpot   PrimaryWallet = "spot"
)

// FundingPolicy names one of the pluggable long-entry funding strategies
// (spec.md §4.4).
type FundingPolicy string

const (
	FundingNone            FundingPolicy = "none"
	FundingBorrowMin       FundingPolicy = "borrow-min"
	FundingBorrowAll       FundingPolicy = "borrow-all"
	FundingSellAll         FundingPolicy = "sell-all"
	FundingSellLargest     FundingPolicy = "sell-largest"
	FundingSellLargestPnL  FundingPolicy = "sell-largest-pnl"
)

var validFundingPolicies = map[FundingPolicy]bool{
	FundingNone: true, FundingBorrowMin: true, FundingBorrowAll: true,
	FundingSellAll: true, FundingSellLargest: true, FundingSellLargestPnL: true,
}

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true,
	"warn": true, "error": true, "fatal": true,
	"panic": true, "disabled": true,
}

// ValidationError aggregates every configuration problem found during a
// single Validate() pass.
type ValidationError struct {
	Errors []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("%d configuration error(s):\n  - %s",
		len(ve.Errors), strings.Join(ve.Errors, "\n  - "))
}

// Config holds every setting enumerated in spec.md §6.
type Config struct {
	mu sync.RWMutex // protects hot-reloadable fields during concurrent access

	// Server
	ServerPort int
	ServerHost string
	// OperatorPassword optionally gates the operator HTTP surface.
	OperatorPassword string

	// Credentials
	ExchangeAPIKey    string
	ExchangeAPISecret string
	HubKey            string
	HubURL            string

	// Database
	DatabasePath string

	// Logging
	LogLevel  string
	LogFormat string // "console" or "json"

	// Trading policy
	PrimaryWallet          PrimaryWallet
	TradeLongFunds         FundingPolicy
	IsFundsNoLoss          bool
	IsTradeMarginEnabled   bool
	IsTradeShortEnabled    bool
	IsBuyQtyFraction       bool
	IsPayInterestEnabled   bool
	IsAutoCloseEnabled     bool
	WalletBuffer           decimal.Decimal
	MaxLongTrades          int
	MaxShortTrades         int
	StrategyLossLimit      int
	StrategyLimitThreshold decimal.Decimal
	ExcludeCoins           []string

	TakerFeePercent    decimal.Decimal
	MinCostBuffer      decimal.Decimal
	VirtualWalletFunds decimal.Decimal
	ReferenceSymbol    string

	BNBFreeThreshold decimal.Decimal
	BNBFreeFloat     decimal.Decimal
	BNBAutoTopUp     string // quote asset, or empty to disable

	BalanceSyncDelay  time.Duration
	BackgroundInterval time.Duration

	MaxDatabaseRows int

	// Notifier
	NotifyMinLevel string // info|success|warn|error

	EnvFile string
}

// Load reads configuration from environment variables and an optional
// .env file, validating before returning.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := fromEnv()
	cfg.EnvFile = ".env"

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func fromEnv() *Config {
	return &Config{
		ServerPort:       getEnvInt("PORT", 8099),
		ServerHost:       getEnv("HOST", "0.0.0.0"),
		OperatorPassword: os.Getenv("OPERATOR_PASSWORD"),

		ExchangeAPIKey:    os.Getenv("EXCHANGE_API_KEY"),
		ExchangeAPISecret: os.Getenv("EXCHANGE_API_SECRET"),
		HubKey:            os.Getenv("HUB_KEY"),
		HubURL:            getEnv("HUB_URL", "wss://hub.local/socket"),

		DatabasePath: getEnv("DATABASE_PATH", "./data/signalrunner.db"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),

		PrimaryWallet:        PrimaryWallet(getEnv("PRIMARY_WALLET", "spot")),
		TradeLongFunds:       FundingPolicy(getEnv("TRADE_LONG_FUNDS", "none")),
		IsFundsNoLoss:        getEnvBool("IS_FUNDS_NO_LOSS", false),
		IsTradeMarginEnabled: getEnvBool("IS_TRADE_MARGIN_ENABLED", true),
		IsTradeShortEnabled:  getEnvBool("IS_TRADE_SHORT_ENABLED", false),
		IsBuyQtyFraction:     getEnvBool("IS_BUY_QTY_FRACTION", false),
		IsPayInterestEnabled: getEnvBool("IS_PAY_INTEREST_ENABLED", true),
		IsAutoCloseEnabled:   getEnvBool("IS_AUTO_CLOSE_ENABLED", false),
		WalletBuffer:         getEnvDecimal("WALLET_BUFFER", "0"),
		MaxLongTrades:        getEnvInt("MAX_LONG_TRADES", 0),
		MaxShortTrades:       getEnvInt("MAX_SHORT_TRADES", 0),

		StrategyLossLimit:      getEnvInt("STRATEGY_LOSS_LIMIT", 0),
		StrategyLimitThreshold: getEnvDecimal("STRATEGY_LIMIT_THRESHOLD", "0.5"),
		ExcludeCoins:           parseList(getEnv("EXCLUDE_COINS", "")),

		TakerFeePercent:    getEnvDecimal("TAKER_FEE_PERCENT", "0.1"),
		MinCostBuffer:      getEnvDecimal("MIN_COST_BUFFER", "0.01"),
		VirtualWalletFunds: getEnvDecimal("VIRTUAL_WALLET_FUNDS", "1"),
		ReferenceSymbol:    getEnv("REFERENCE_SYMBOL", "BTC"),

		BNBFreeThreshold: getEnvDecimal("BNB_FREE_THRESHOLD", "0"),
		BNBFreeFloat:     getEnvDecimal("BNB_FREE_FLOAT", "0"),
		BNBAutoTopUp:     os.Getenv("BNB_AUTO_TOP_UP"),

		BalanceSyncDelay:    getEnvDuration("BALANCE_SYNC_DELAY", 1500*time.Millisecond),
		BackgroundInterval:  getEnvDuration("BACKGROUND_INTERVAL", 5*time.Minute),
		MaxDatabaseRows:     getEnvInt("MAX_DATABASE_ROWS", 5000),

		NotifyMinLevel: getEnv("NOTIFY_MIN_LEVEL", "info"),
	}
}

// Validate aggregates every configuration problem it can find rather than
// failing on the first one, so an operator fixes everything in one pass.
func (c *Config) Validate() error {
	var errs []string

	if c.ServerPort < 1 || c.ServerPort > 65535 {
		errs = append(errs, fmt.Sprintf("invalid PORT %d: must be between 1 and 65535", c.ServerPort))
	}
	if c.DatabasePath == "" {
		errs = append(errs, "DATABASE_PATH is empty: set DATABASE_PATH (e.g. ./data/signalrunner.db)")
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("invalid LOG_LEVEL '%s'", c.LogLevel))
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		errs = append(errs, fmt.Sprintf("invalid LOG_FORMAT '%s': must be 'console' or 'json'", c.LogFormat))
	}
	if c.PrimaryWallet != WalletMargin && c.PrimaryWallet != WalletSpot {
		errs = append(errs, fmt.Sprintf("invalid PRIMARY_WALLET '%s': must be 'margin' or 'spot'", c.PrimaryWallet))
	}
	if !validFundingPolicies[c.TradeLongFunds] {
		errs = append(errs, fmt.Sprintf("invalid TRADE_LONG_FUNDS '%s'", c.TradeLongFunds))
	}
	if c.WalletBuffer.Sign() < 0 || c.WalletBuffer.Cmp(one) >= 0 {
		errs = append(errs, "WALLET_BUFFER must be in [0, 1)")
	}
	if c.StrategyLimitThreshold.Sign() < 0 || c.StrategyLimitThreshold.Cmp(one) > 0 {
		errs = append(errs, "STRATEGY_LIMIT_THRESHOLD must be in [0, 1]")
	}
	if c.MaxLongTrades < 0 {
		errs = append(errs, "MAX_LONG_TRADES must be >= 0 (0 = unlimited)")
	}
	if c.MaxShortTrades < 0 {
		errs = append(errs, "MAX_SHORT_TRADES must be >= 0 (0 = unlimited)")
	}
	if c.IsTradeShortEnabled && !c.IsTradeMarginEnabled {
		errs = append(errs, "IS_TRADE_SHORT_ENABLED requires IS_TRADE_MARGIN_ENABLED (shorts are always margin)")
	}
	if c.HubKey == "" {
		errs = append(errs, "HUB_KEY is required to authenticate with the signal hub")
	}
	if (c.ExchangeAPIKey == "") != (c.ExchangeAPISecret == "") {
		errs = append(errs, "EXCHANGE_API_KEY and EXCHANGE_API_SECRET must be set together (leave both unset to run against the virtual ledger)")
	}
	if c.BNBAutoTopUp != "" && c.BNBFreeThreshold.Sign() <= 0 {
		errs = append(errs, "BNB_AUTO_TOP_UP requires a positive BNB_FREE_THRESHOLD")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// ReloadChange describes one field changed during a hot-reload.
type ReloadChange struct {
	Field    string `json:"field"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
	Applied  bool   `json:"applied"`
}

// ReloadResult summarizes a Reload() call.
type ReloadResult struct {
	Changes         []ReloadChange `json:"changes"`
	RequiresRestart bool           `json:"requires_restart"`
	RestartReasons  []string       `json:"restart_reasons,omitempty"`
}

// Reload re-reads ambient, non-domain-changing settings (log level,
// notifier threshold, background interval) from the environment, applying
// them to the live config. A change to the funding policy, primary wallet,
// database path or loss limit is detected but not applied; the caller gets
// a RequiresRestart advisory instead, because changing them mid-flight
// would silently alter in-flight sizing decisions. Changes to any other
// field are neither applied nor reported.
func (c *Config) Reload() (*ReloadResult, error) {
	_ = godotenv.Overload(c.EnvFile)
	fresh := fromEnv()
	if err := fresh.Validate(); err != nil {
		return nil, fmt.Errorf("reloaded config validation failed: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	result := &ReloadResult{}

	c.detectRestart(result, "TradeLongFunds", string(c.TradeLongFunds), string(fresh.TradeLongFunds))
	c.detectRestart(result, "PrimaryWallet", string(c.PrimaryWallet), string(fresh.PrimaryWallet))
	c.detectRestart(result, "DatabasePath", c.DatabasePath, fresh.DatabasePath)
	c.detectRestart(result, "StrategyLossLimit", strconv.Itoa(c.StrategyLossLimit), strconv.Itoa(fresh.StrategyLossLimit))

	if c.LogLevel != fresh.LogLevel {
		result.Changes = append(result.Changes, ReloadChange{Field: "LogLevel", OldValue: c.LogLevel, NewValue: fresh.LogLevel, Applied: true})
		c.LogLevel = fresh.LogLevel
		if lvl, err := zerolog.ParseLevel(fresh.LogLevel); err == nil {
			zerolog.SetGlobalLevel(lvl)
		}
	}
	if c.NotifyMinLevel != fresh.NotifyMinLevel {
		result.Changes = append(result.Changes, ReloadChange{Field: "NotifyMinLevel", OldValue: c.NotifyMinLevel, NewValue: fresh.NotifyMinLevel, Applied: true})
		c.NotifyMinLevel = fresh.NotifyMinLevel
	}
	if c.BackgroundInterval != fresh.BackgroundInterval {
		result.Changes = append(result.Changes, ReloadChange{Field: "BackgroundInterval", OldValue: c.BackgroundInterval.String(), NewValue: fresh.BackgroundInterval.String(), Applied: true})
		c.BackgroundInterval = fresh.BackgroundInterval
	}

	log.Info().Int("total_changes", len(result.Changes)).Bool("requires_restart", result.RequiresRestart).Msg("configuration reloaded")
	return result, nil
}

func (c *Config) detectRestart(result *ReloadResult, field, oldVal, newVal string) {
	if oldVal != newVal {
		result.Changes = append(result.Changes, ReloadChange{Field: field, OldValue: oldVal, NewValue: newVal, Applied: false})
		result.RequiresRestart = true
		result.RestartReasons = append(result.RestartReasons, field+" changed")
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key, defaultValue string) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		v = defaultValue
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		d, _ = decimal.NewFromString(defaultValue)
	}
	return d
}

func parseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apperrors "github.com/ducminhle1904/crypto-risk-core/internal/errors"
)

// Config is the full configuration surface of the risk core. Keys map to
// upper-cased environment variables (max_leverage -> MAX_LEVERAGE).
type Config struct {
	// Venue selection
	Exchange           string `mapstructure:"exchange"`
	TransitionStrategy string `mapstructure:"transition_strategy"`
	DryRun             bool   `mapstructure:"dry_run"`

	// Leverage and sizing
	MaxLeverage            int     `mapstructure:"max_leverage"`
	SymbolMaxLeverageRaw   string  `mapstructure:"symbol_max_leverage"`
	MaxPositionSizePct     float64 `mapstructure:"max_position_size_pct"`
	MaxTotalExposurePct    float64 `mapstructure:"max_total_exposure_pct"`
	MinConfidenceThreshold float64 `mapstructure:"min_confidence_threshold"`
	StopLossPct            float64 `mapstructure:"stop_loss_pct"`
	TakeProfitPct          float64 `mapstructure:"take_profit_pct"`
	TradingFeePct          float64 `mapstructure:"trading_fee_pct"`

	// High exposure gate
	HighExposureThresholdPct  float64 `mapstructure:"high_exposure_threshold_pct"`
	HighExposureMinConfidence float64 `mapstructure:"high_exposure_min_confidence"`
	HighExposureMaxSizePct    float64 `mapstructure:"high_exposure_max_size_pct"`
	HighExposureMaxLeverage   int     `mapstructure:"high_exposure_max_leverage"`

	// Drawdown
	MaxDailyDrawdownPct  float64 `mapstructure:"max_daily_drawdown_pct"`
	MaxWeeklyDrawdownPct float64 `mapstructure:"max_weekly_drawdown_pct"`

	// Transition
	TransitionSLTightenPct     float64 `mapstructure:"transition_sl_tighten_pct"`
	TransitionTimeoutHours     float64 `mapstructure:"transition_timeout_hours"`
	TransitionEmergencyLossPct float64 `mapstructure:"transition_emergency_loss_pct"`
	TransitionMaxCloseFailures int     `mapstructure:"transition_max_close_failures"`

	// Protective orders
	ProtectiveOrderRetries    int           `mapstructure:"protective_order_retries"`
	ProtectiveOrderRetryDelay time.Duration `mapstructure:"protective_order_retry_delay"`

	// Runtime
	DatabasePath  string        `mapstructure:"database_path"`
	DecisionsFile string        `mapstructure:"decisions_file"`
	CycleInterval time.Duration `mapstructure:"cycle_interval"`
	LogDir        string        `mapstructure:"log_dir"`
	MetricsAddr   string        `mapstructure:"metrics_addr"`
	APIRateLimit  float64       `mapstructure:"api_rate_limit"`

	// Credentials
	BybitAPIKey      string `mapstructure:"bybit_api_key"`
	BybitAPISecret   string `mapstructure:"bybit_api_secret"`
	BybitTestnet     bool   `mapstructure:"bybit_testnet"`
	BybitDemo        bool   `mapstructure:"bybit_demo"`
	BinanceAPIKey    string `mapstructure:"binance_api_key"`
	BinanceAPISecret string `mapstructure:"binance_api_secret"`
	BinanceTestnet   bool   `mapstructure:"binance_testnet"`

	// Paper venue starting equity
	PaperEquity float64 `mapstructure:"paper_equity"`

	// Alerts
	TelegramToken     string `mapstructure:"telegram_token"`
	TelegramChatID    string `mapstructure:"telegram_chat_id"`
	DiscordWebhookURL string `mapstructure:"discord_webhook_url"`

	// SymbolMaxLeverage is parsed from SymbolMaxLeverageRaw
	SymbolMaxLeverage map[string]int `mapstructure:"-"`
}

var defaults = map[string]interface{}{
	"exchange":                      "bybit",
	"transition_strategy":           "PROFITABLE",
	"dry_run":                       false,
	"max_leverage":                  10,
	"symbol_max_leverage":           "",
	"max_position_size_pct":         5.0,
	"max_total_exposure_pct":        30.0,
	"min_confidence_threshold":      0.6,
	"stop_loss_pct":                 2.0,
	"take_profit_pct":               4.0,
	"trading_fee_pct":               0.075,
	"high_exposure_threshold_pct":   25.0,
	"high_exposure_min_confidence":  0.75,
	"high_exposure_max_size_pct":    2.0,
	"high_exposure_max_leverage":    5,
	"max_daily_drawdown_pct":        5.0,
	"max_weekly_drawdown_pct":       10.0,
	"transition_sl_tighten_pct":     50.0,
	"transition_timeout_hours":      24.0,
	"transition_emergency_loss_pct": -3.0,
	"transition_max_close_failures": 20,
	"protective_order_retries":      3,
	"protective_order_retry_delay":  "2s",
	"database_path":                 "data/risk-core.db",
	"decisions_file":                "decisions.json",
	"cycle_interval":                "15m",
	"log_dir":                       "logs",
	"metrics_addr":                  "",
	"api_rate_limit":                10.0,
	"bybit_api_key":                 "",
	"bybit_api_secret":              "",
	"bybit_testnet":                 false,
	"bybit_demo":                    false,
	"binance_api_key":               "",
	"binance_api_secret":            "",
	"binance_testnet":               false,
	"paper_equity":                  10000.0,
	"telegram_token":                "",
	"telegram_chat_id":              "",
	"discord_webhook_url":           "",
}

// Load reads envFile (if present) into the process environment, then builds
// the configuration from defaults, environment and the optional config file.
func Load(envFile, configFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, apperrors.WrapError(err, apperrors.ErrorCategoryConfiguration, "config", "load_env")
			}
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.WrapError(err, apperrors.ErrorCategoryConfiguration, "config", "read_config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrorCategoryConfiguration, "config", "unmarshal")
	}
	cfg.Exchange = strings.ToLower(strings.TrimSpace(cfg.Exchange))
	cfg.TransitionStrategy = strings.ToUpper(strings.TrimSpace(cfg.TransitionStrategy))

	symbolCaps, err := ParseSymbolLeverage(cfg.SymbolMaxLeverageRaw)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrorCategoryConfiguration, "config", "symbol_max_leverage")
	}
	cfg.SymbolMaxLeverage = symbolCaps

	if err := cfg.Validate(); err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrorCategoryConfiguration, "config", "validate")
	}
	return &cfg, nil
}

// ParseSymbolLeverage parses "BTCUSDT=20,ETHUSDT=15" into a cap per symbol
func ParseSymbolLeverage(raw string) (map[string]int, error) {
	caps := make(map[string]int)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		symbol, value, ok := strings.Cut(part, "=")
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if !ok || symbol == "" {
			return nil, fmt.Errorf("invalid symbol leverage entry %q, expected SYMBOL=N", part)
		}
		lev, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || lev < 1 {
			return nil, fmt.Errorf("invalid leverage for %s: %q", symbol, value)
		}
		caps[symbol] = lev
	}
	return caps, nil
}

// FormatSymbolLeverage renders the per-symbol caps in a stable order
func FormatSymbolLeverage(caps map[string]int) string {
	symbols := make([]string, 0, len(caps))
	for s := range caps {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	parts := make([]string, 0, len(symbols))
	for _, s := range symbols {
		parts = append(parts, fmt.Sprintf("%s=%d", s, caps[s]))
	}
	return strings.Join(parts, ",")
}

// TransitionTimeout is the configured WAIT_PROFIT timeout as a duration
func (c *Config) TransitionTimeout() time.Duration {
	return time.Duration(c.TransitionTimeoutHours * float64(time.Hour))
}

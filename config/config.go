package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"bracketbot/internal/adapters/logger" // Import the logger package for LogLevel
	"bracketbot/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	// Exchange API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Instruments & setups
	Instruments []string       // e.g., ["BTCUSDT", "ETHUSDT"]
	Setups      []domain.Setup // registered strategy variants
	CashAsset   string         // quote asset used for equity (e.g., "USDT")

	// Proposal gating
	MinRR       float64
	MinNotional float64

	// Bracket supervision
	StopATRMult     float64
	TargetATRMult   float64
	TrailATRMult    float64 // 0 disables trailing
	BreakEvenAfterR float64
	ManagerPoll     time.Duration
	MaxOpenBrackets int
	MaxConcurrent   int // worker-pool bound for per-position evaluation
	EnableShorts    bool
	ATRPeriod       int
	ATRInterval     string

	// Kelly sizing
	EnableKelly     bool
	KellyCap        float64
	KellyFloor      float64
	RiskPerTrade    float64
	DefaultRR       float64
	MinKellySamples int
	StatsWindow     int
	QuantityStep    float64
	SetupCaps       map[string]float64
	InstrumentCaps  map[string]float64

	// Bandit allocation
	BanditMode string // none|ucb1|thompson
	UCBC       float64

	// Cost model
	TakerFeeBps float64
	SlippageBps float64
	ImpactCoeff float64

	// Proposal input
	ProposalFile string

	// Database
	DBPath string

	// Logging & metrics
	LogLevel    logger.LogLevel
	MetricsAddr string // empty disables the /metrics endpoint

	// Connection settings
	RetryBaseDelay   time.Duration
	RetryMaxAttempts int
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Exchange API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	if cfg.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}

	// Instruments & setups
	cfg.Instruments = splitList(getEnv("INSTRUMENTS", "BTCUSDT,ETHUSDT,SOLUSDT"))
	if len(cfg.Instruments) == 0 {
		errs = append(errs, "INSTRUMENTS must list at least one instrument")
	}
	cfg.CashAsset = getEnv("CASH_ASSET", "USDT")

	// Proposal gating
	cfg.MinRR, err = getEnvAsFloatRequired("MIN_RR", 2.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MIN_RR: %v", err))
	} else if cfg.MinRR <= 0 {
		errs = append(errs, "MIN_RR must be positive")
	}
	cfg.MinNotional = getEnvAsFloat("MIN_NOTIONAL", 50.0)

	// Bracket supervision
	cfg.StopATRMult = getEnvAsFloat("STOP_ATR_MULT", 2.0)
	cfg.TargetATRMult = getEnvAsFloat("TARGET_ATR_MULT", 3.0)
	cfg.TrailATRMult = getEnvAsFloat("TRAIL_ATR_MULT", 0.0)
	cfg.BreakEvenAfterR = getEnvAsFloat("BREAK_EVEN_AFTER_R", 1.0)
	if cfg.TrailATRMult < 0 {
		errs = append(errs, "TRAIL_ATR_MULT cannot be negative")
	}
	if cfg.BreakEvenAfterR < 0 {
		errs = append(errs, "BREAK_EVEN_AFTER_R cannot be negative")
	}

	pollSecs := getEnvAsInt("MANAGER_POLL_SECS", 5)
	if pollSecs <= 0 {
		errs = append(errs, "MANAGER_POLL_SECS must be positive")
	}
	cfg.ManagerPoll = time.Duration(pollSecs) * time.Second

	cfg.MaxOpenBrackets, err = getEnvAsIntRequired("MAX_OPEN_BRACKETS", 10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_OPEN_BRACKETS: %v", err))
	} else if cfg.MaxOpenBrackets <= 0 {
		errs = append(errs, "MAX_OPEN_BRACKETS must be positive")
	}
	cfg.MaxConcurrent = getEnvAsInt("MAX_CONCURRENT_EVALS", 4)
	if cfg.MaxConcurrent <= 0 {
		errs = append(errs, "MAX_CONCURRENT_EVALS must be positive")
	}
	cfg.EnableShorts = getEnvAsBool("ENABLE_SHORTS", false)
	cfg.ATRPeriod = getEnvAsInt("ATR_PERIOD", 14)
	cfg.ATRInterval = getEnv("ATR_INTERVAL", "1h")
	if cfg.ATRPeriod <= 0 {
		errs = append(errs, "ATR_PERIOD must be positive")
	}

	// Kelly sizing
	cfg.EnableKelly = getEnvAsBool("ENABLE_KELLY", true)
	cfg.KellyCap = getEnvAsFloat("KELLY_CAP", 0.5)
	cfg.KellyFloor = getEnvAsFloat("KELLY_FLOOR", 0.005)
	cfg.RiskPerTrade = getEnvAsFloat("RISK_PER_TRADE", 0.01)
	cfg.DefaultRR = getEnvAsFloat("DEFAULT_RR", 2.0)
	cfg.MinKellySamples = getEnvAsInt("MIN_KELLY_SAMPLES", 20)
	cfg.StatsWindow = getEnvAsInt("STATS_WINDOW", 500)
	cfg.QuantityStep = getEnvAsFloat("QUANTITY_STEP", 0.0001)
	if cfg.KellyFloor < 0 || cfg.KellyCap < cfg.KellyFloor {
		errs = append(errs, "KELLY_FLOOR must be >= 0 and <= KELLY_CAP")
	}
	if cfg.RiskPerTrade <= 0 {
		errs = append(errs, "RISK_PER_TRADE must be positive")
	}

	cfg.SetupCaps, err = parseCapsJSON(getEnv("KELLY_CAPS_SETUP_JSON", "{}"))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid KELLY_CAPS_SETUP_JSON: %v", err))
	}
	cfg.InstrumentCaps, err = parseCapsJSON(getEnv("KELLY_CAPS_INSTRUMENT_JSON", "{}"))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid KELLY_CAPS_INSTRUMENT_JSON: %v", err))
	}

	// Bandit allocation
	cfg.BanditMode = strings.ToLower(getEnv("BANDIT_MODE", "ucb1"))
	switch cfg.BanditMode {
	case "none", "ucb1", "thompson":
	default:
		errs = append(errs, "BANDIT_MODE must be one of none|ucb1|thompson")
	}
	cfg.UCBC = getEnvAsFloat("UCB_C", 0.8)

	// Cost model
	cfg.TakerFeeBps = getEnvAsFloat("TAKER_FEE_BPS", 8.0)
	cfg.SlippageBps = getEnvAsFloat("SLIPPAGE_BPS", 0.0)
	cfg.ImpactCoeff = getEnvAsFloat("IMPACT_COEFF", 1.5)
	if cfg.TakerFeeBps < 0 || cfg.SlippageBps < 0 || cfg.ImpactCoeff < 0 {
		errs = append(errs, "cost model parameters cannot be negative")
	}

	// Proposal input
	cfg.ProposalFile = getEnv("PROPOSAL_FILE", "./data/proposals.jsonl")

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/bracketbot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging & metrics
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr)
	cfg.MetricsAddr = getEnv("METRICS_ADDR", "")

	// Connection settings
	retryDelayMs := getEnvAsInt("RETRY_BASE_DELAY_MS", 500)
	if retryDelayMs <= 0 {
		errs = append(errs, "RETRY_BASE_DELAY_MS must be positive")
	}
	cfg.RetryBaseDelay = time.Duration(retryDelayMs) * time.Millisecond
	cfg.RetryMaxAttempts = getEnvAsInt("RETRY_MAX_ATTEMPTS", 4)
	if cfg.RetryMaxAttempts < 1 {
		errs = append(errs, "RETRY_MAX_ATTEMPTS must be at least 1")
	}

	// Setups are registered here; each is immutable once loaded.
	cfg.Setups = defaultSetups(cfg.StopATRMult, cfg.TargetATRMult, cfg.EnableShorts)

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// defaultSetups returns the built-in strategy variants. SETUPS can override
// the registered names (comma-separated); unknown names keep the default
// multipliers and long-only capability.
func defaultSetups(stopMult, targetMult float64, enableShorts bool) []domain.Setup {
	names := splitList(getEnv("SETUPS", "donchian_breakout,trend_rsi_pullback"))
	setups := make([]domain.Setup, 0, len(names))
	for _, name := range names {
		setups = append(setups, domain.Setup{
			ID:            name,
			AllowShort:    enableShorts,
			StopATRMult:   stopMult,
			TargetATRMult: targetMult,
		})
	}
	return setups
}

func parseCapsJSON(raw string) (map[string]float64, error) {
	caps := make(map[string]float64)
	if strings.TrimSpace(raw) == "" {
		return caps, nil
	}
	if err := json.Unmarshal([]byte(raw), &caps); err != nil {
		return nil, err
	}
	for k, v := range caps {
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("cap for %q must be within [0, 1], got %f", k, v)
		}
	}
	return caps, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// Package config loads the engine's structured configuration: a JSON file
// overridden by environment variables, rejecting any key the schema does
// not recognize.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"okx-scalper/internal/domain"
	"okx-scalper/internal/execution"
	"okx-scalper/internal/filters"
	"okx-scalper/internal/lifecycle"
	"okx-scalper/internal/pipeline"
	"okx-scalper/internal/profile"
	"okx-scalper/internal/risk"
	"okx-scalper/internal/signals"
)

// Config is the full recognized configuration surface (spec.md §6). Any key
// in the source JSON that doesn't map to one of these fields is rejected at
// load time by DisallowUnknownFields.
type Config struct {
	Symbols           []string                `json:"symbols"`
	Leverage          int                     `json:"leverage"`
	BalanceProfiles   profile.Config          `json:"balance_profiles"`
	AdaptiveRegime    AdaptiveRegimeConfig    `json:"adaptive_regime"`
	Filters           FiltersConfig           `json:"filters"`
	RSI               signals.RSIConfig       `json:"rsi"`
	TrendPullback     signals.TrendPullbackConfig `json:"trend_pullback"`
	Risk              RiskConfig              `json:"risk"`
	Data              DataFallbackConfig      `json:"data"`
	ConnectionQuality ConnectionQualityConfig `json:"connection_quality"`
	Fees              execution.FeeRates      `json:"fees"`
	Logging           LoggingConfig           `json:"logging"`
	Exchange          ExchangeConfig          `json:"exchange"`
	Vault             VaultConfig             `json:"vault"`
	Redis             RedisConfig             `json:"redis"`
	Postgres          PostgresConfig          `json:"postgres"`
	Notification      NotificationConfig      `json:"notification"`
	Server            ServerConfig            `json:"server"`
}

// AdaptiveRegimeEntry is one regime's full tuning surface, spanning sizing,
// TP/SL, and lifecycle thresholds (spec.md §6's adaptive_regime.* block).
type AdaptiveRegimeEntry struct {
	RiskPerTradePct    float64 `json:"risk_per_trade_pct"`
	RegimeMultiplier   float64 `json:"regime_multiplier"`
	TPPercent          float64 `json:"tp_percent"`
	SLPercent          float64 `json:"sl_percent"`
	TPAtrMultiplier    float64 `json:"tp_atr_multiplier"`
	SLAtrMultiplier    float64 `json:"sl_atr_multiplier"`
	MinScoreThreshold  float64 `json:"min_score_threshold"`
	PHThreshold        float64 `json:"ph_threshold"`
	PHTimeLimitS       float64 `json:"ph_time_limit_s"`
	MinHoldingS        float64 `json:"min_holding_s"`
	TimeoutMinutes     float64 `json:"timeout_minutes"`
	TimeoutLossPct     float64 `json:"timeout_loss_pct"`
	BlockCounterTrend  bool    `json:"block_counter_trend"`
	ConflictMultiplier float64 `json:"conflict_multiplier"`
}

// AdaptiveRegimeConfig holds one entry per regime.
type AdaptiveRegimeConfig struct {
	Trending AdaptiveRegimeEntry `json:"trending"`
	Ranging  AdaptiveRegimeEntry `json:"ranging"`
	Choppy   AdaptiveRegimeEntry `json:"choppy"`
}

func (c AdaptiveRegimeConfig) each() map[domain.Regime]AdaptiveRegimeEntry {
	return map[domain.Regime]AdaptiveRegimeEntry{
		domain.RegimeTrending: c.Trending,
		domain.RegimeRanging:  c.Ranging,
		domain.RegimeChoppy:   c.Choppy,
	}
}

// RiskConfig projects the adaptive_regime block into the Risk Controller's
// sizing table.
func (c AdaptiveRegimeConfig) RiskConfig() map[domain.Regime]risk.RegimeRiskConfig {
	out := make(map[domain.Regime]risk.RegimeRiskConfig, 3)
	for r, e := range c.each() {
		out[r] = risk.RegimeRiskConfig{RiskPerTradePct: e.RiskPerTradePct, RegimeMultiplier: e.RegimeMultiplier}
	}
	return out
}

// TPSLConfig projects the adaptive_regime block into the Entry Executor's
// TP/SL table.
func (c AdaptiveRegimeConfig) TPSLConfig() map[domain.Regime]execution.RegimeTPSL {
	out := make(map[domain.Regime]execution.RegimeTPSL, 3)
	for r, e := range c.each() {
		out[r] = execution.RegimeTPSL{
			TPPercent:       e.TPPercent,
			SLPercent:       e.SLPercent,
			TPAtrMultiplier: e.TPAtrMultiplier,
			SLAtrMultiplier: e.SLAtrMultiplier,
		}
	}
	return out
}

// LifecycleConfig projects the adaptive_regime block into the Lifecycle
// Manager's per-regime exit table.
func (c AdaptiveRegimeConfig) LifecycleConfig() map[domain.Regime]lifecycle.RegimeConfig {
	out := make(map[domain.Regime]lifecycle.RegimeConfig, 3)
	for r, e := range c.each() {
		out[r] = lifecycle.RegimeConfig{
			TPPercent:      e.TPPercent,
			SLPercent:      e.SLPercent,
			PHThreshold:    e.PHThreshold,
			PHTimeLimitS:   e.PHTimeLimitS,
			MinHoldingS:    e.MinHoldingS,
			TimeoutMinutes: e.TimeoutMinutes,
			TimeoutLossPct: e.TimeoutLossPct,
		}
	}
	return out
}

// PipelineThresholds projects the adaptive_regime block into the Signal
// Pipeline's per-regime score gate.
func (c AdaptiveRegimeConfig) PipelineThresholds() map[domain.Regime]pipeline.RegimeThresholds {
	out := make(map[domain.Regime]pipeline.RegimeThresholds, 3)
	for r, e := range c.each() {
		out[r] = pipeline.RegimeThresholds{MinScoreThreshold: e.MinScoreThreshold}
	}
	return out
}

// FilterRegimeParams projects the adaptive_regime block's conflict fields,
// combined with the filters block's volatility/correlation thresholds, into
// the Filter Stack's per-regime parameters.
func (c AdaptiveRegimeConfig) FilterRegimeParams(f FiltersConfig) map[domain.Regime]filters.RegimeParams {
	out := make(map[domain.Regime]filters.RegimeParams, 3)
	for r, e := range c.each() {
		out[r] = filters.RegimeParams{
			VolMin:             f.VolMin,
			VolMax:             f.VolMax,
			ADXDirectionThresh: f.ADXDirectionThreshold,
			ConflictMultiplier: e.ConflictMultiplier,
			BlockOppositeMTF:   e.BlockCounterTrend,
			CorrelationThresh:  f.CorrelationThreshold,
			MinSpreadPct:       f.MinSpreadPct,
			MinDepth:           f.MinDepth,
			PivotTolerancePct:  f.PivotTolerancePct,
			MinVolumeRatio:     f.MinVolumeRatio,
		}
	}
	return out
}

// RiskConfig is the `risk.*` block (spec.md §4.9/§8): the daily loss limit
// and circuit breaker thresholds gating new entries, separate from the
// per-regime sizing table carried in AdaptiveRegimeConfig.
type RiskConfig struct {
	DailyLossLimitPct    float64 `json:"daily_loss_limit_pct"`
	MaxLossPerHourPct    float64 `json:"max_loss_per_hour_pct"`
	MaxDailyLossPct      float64 `json:"circuit_breaker_max_daily_loss_pct"`
	MaxConsecutiveLosses int     `json:"circuit_breaker_n"`
	CooldownMinutes      int     `json:"circuit_breaker_cooldown_minutes"`
}

// ManagerConfig projects RiskConfig's admission threshold into the Risk
// Controller's own config shape.
func (c RiskConfig) ManagerConfig(regimeRisk map[domain.Regime]risk.RegimeRiskConfig) risk.Config {
	return risk.Config{DailyLossLimitPct: c.DailyLossLimitPct, RegimeRisk: regimeRisk}
}

// CircuitBreakerConfig projects RiskConfig's trip thresholds into the
// Circuit Breaker's config shape.
func (c RiskConfig) CircuitBreakerConfig() risk.CircuitBreakerConfig {
	return risk.CircuitBreakerConfig{
		MaxLossPerHourPct:    c.MaxLossPerHourPct,
		MaxDailyLossPct:      c.MaxDailyLossPct,
		MaxConsecutiveLosses: c.MaxConsecutiveLosses,
		CooldownMinutes:      c.CooldownMinutes,
	}
}

// FiltersConfig is the `filters.*.enabled/thresholds` block: a per-filter
// enable switch plus the shared thresholds the Filter Stack's gates need.
type FiltersConfig struct {
	Enabled               map[string]bool `json:"enabled"`
	VolMin                float64         `json:"vol_min"`
	VolMax                float64         `json:"vol_max"`
	ADXDirectionThreshold float64         `json:"adx_direction_threshold"`
	CorrelationThreshold  float64         `json:"correlation_threshold"`
	MinSpreadPct          float64         `json:"min_spread_pct"`
	MinDepth              float64         `json:"min_depth"`
	FundingHeavyThreshold float64         `json:"funding_heavy_threshold"`
	CorrelatedPairs       map[string][]string `json:"correlated_pairs"`
	PivotTolerancePct float64 `json:"pivot_tolerance_pct"`
	MinVolumeRatio    float64 `json:"min_volume_ratio"`
}

// IsEnabled reports whether a named filter is turned on; filters default to
// enabled when the config omits them.
func (f FiltersConfig) IsEnabled(name string) bool {
	if f.Enabled == nil {
		return true
	}
	v, ok := f.Enabled[name]
	if !ok {
		return true
	}
	return v
}

// DataFallbackConfig is the Data Registry's price fallback chain timing
// (spec.md §4.1/§6).
type DataFallbackConfig struct {
	TickFreshMs      int `json:"tick_fresh_ms"`
	TickStaleMs      int `json:"tick_stale_ms"`
	CandleFreshMs    int `json:"candle_fresh_ms"`
	RestRetryAfterMs int `json:"rest_retry_after_ms"`
}

// ConnectionProfileThresholds is one entry in connection_quality.profiles.
type ConnectionProfileThresholds struct {
	MaxLatencyMs int `json:"max_latency_ms"`
}

// ConnectionQualityConfig configures the Connection Quality Monitor.
type ConnectionQualityConfig struct {
	ProbeIntervalS int                                    `json:"probe_interval_s"`
	MinDwellS      int                                    `json:"min_dwell_s"`
	Profiles       map[string]ConnectionProfileThresholds `json:"profiles"`
}

// LoggingConfig controls the structured logger, per the teacher's own
// logging config shape.
type LoggingConfig struct {
	Level       string `json:"level"`
	Output      string `json:"output"`
	JSONFormat  bool   `json:"json_format"`
	IncludeFile bool   `json:"include_file"`
}

// ExchangeConfig holds connection parameters for the exchange REST/WS client.
type ExchangeConfig struct {
	BaseURL   string `json:"base_url"`
	WSURL     string `json:"ws_url"`
	TestNet   bool   `json:"testnet"`
	ProbeSymbol string `json:"probe_symbol"`
}

// VaultConfig holds HashiCorp Vault configuration for exchange credentials.
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
}

// RedisConfig holds Redis configuration for the Position Registry's
// write-behind cache.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// PostgresConfig holds the trade-journal database connection.
type PostgresConfig struct {
	Enabled bool   `json:"enabled"`
	DSN     string `json:"dsn"`
}

// NotificationConfig holds the Telegram notifier's settings.
type NotificationConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramConfig `json:"telegram"`
}

// TelegramConfig holds Telegram bot credentials.
type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

// ServerConfig holds the ops HTTP API's listen settings.
type ServerConfig struct {
	Port           int    `json:"port"`
	AllowedOrigins string `json:"allowed_origins"`
}

// Validate enforces the structural invariants spec.md §6/§8 require: tier
// min<=max, leverage bounds, and a non-empty symbol list.
func (c *Config) Validate() error {
	if err := c.BalanceProfiles.Validate(); err != nil {
		return err
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("config: symbols must not be empty")
	}
	if c.Leverage <= 0 {
		return fmt.Errorf("config: leverage must be positive")
	}
	return nil
}

// Load reads path (defaulting to "config.json") with DisallowUnknownFields
// so a typo or a removed key fails loudly instead of being silently
// ignored, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	cfg := &Config{}
	file, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: open %s: %w", path, err)
		}
	} else {
		defer file.Close()
		dec := json.NewDecoder(file)
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets operational concerns (log level, exchange
// endpoints, credentials-adjacent toggles) be set without editing the
// checked-in config file; credentials themselves come from Vault, never
// from environment variables, per spec.md's secrets handling.
func applyEnvOverrides(cfg *Config) {
	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", orDefault(cfg.Logging.Level, "INFO"))
	cfg.Logging.Output = getEnvOrDefault("LOG_OUTPUT", orDefault(cfg.Logging.Output, "stdout"))
	cfg.Logging.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.Logging.JSONFormat)

	cfg.Exchange.BaseURL = getEnvOrDefault("EXCHANGE_BASE_URL", cfg.Exchange.BaseURL)
	cfg.Exchange.WSURL = getEnvOrDefault("EXCHANGE_WS_URL", cfg.Exchange.WSURL)
	cfg.Exchange.TestNet = getEnvBoolOrDefault("EXCHANGE_TESTNET", cfg.Exchange.TestNet)

	cfg.Vault.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.Vault.Enabled)
	cfg.Vault.Address = getEnvOrDefault("VAULT_ADDR", orDefault(cfg.Vault.Address, "http://localhost:8200"))
	cfg.Vault.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Vault.Token)
	cfg.Vault.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", orDefault(cfg.Vault.MountPath, "secret"))
	cfg.Vault.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", orDefault(cfg.Vault.SecretPath, "scalper/exchange"))

	cfg.Redis.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.Redis.Address)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)

	cfg.Postgres.Enabled = getEnvBoolOrDefault("POSTGRES_ENABLED", cfg.Postgres.Enabled)
	cfg.Postgres.DSN = getEnvOrDefault("POSTGRES_DSN", cfg.Postgres.DSN)

	cfg.Notification.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.Notification.Telegram.BotToken)
	cfg.Notification.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.Notification.Telegram.ChatID)

	cfg.Server.Port = getEnvIntOrDefault("OPS_API_PORT", orDefaultInt(cfg.Server.Port, 8090))
	cfg.Server.AllowedOrigins = getEnvOrDefault("OPS_API_ALLOWED_ORIGINS", orDefault(cfg.Server.AllowedOrigins, "*"))
}

func orDefault(v, d string) string {
	if v == "" {
		return d
	}
	return v
}

func orDefaultInt(v, d int) int {
	if v == 0 {
		return d
	}
	return v
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true"
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

// Command scalper runs the perpetual-futures scalping engine: it loads
// configuration, wires every subsystem together, and blocks until SIGINT or
// SIGTERM.
package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"okx-scalper/config"
	"okx-scalper/internal/connquality"
	"okx-scalper/internal/domain"
	"okx-scalper/internal/engine"
	"okx-scalper/internal/events"
	"okx-scalper/internal/exchange"
	"okx-scalper/internal/execution"
	"okx-scalper/internal/filters"
	"okx-scalper/internal/indicators"
	"okx-scalper/internal/lifecycle"
	"okx-scalper/internal/logging"
	"okx-scalper/internal/notifier"
	"okx-scalper/internal/opsapi"
	"okx-scalper/internal/persistence"
	"okx-scalper/internal/pipeline"
	"okx-scalper/internal/positions"
	"okx-scalper/internal/profile"
	"okx-scalper/internal/regime"
	"okx-scalper/internal/registry"
	"okx-scalper/internal/risk"
	"okx-scalper/internal/secrets"
	"okx-scalper/internal/signals"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the engine's JSON config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Fatal("failed to load configuration", "error", err)
	}

	logger := logging.New(&logging.Config{
		Level:       cfg.Logging.Level,
		Output:      cfg.Logging.Output,
		JSONFormat:  cfg.Logging.JSONFormat,
		IncludeFile: cfg.Logging.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)
	logger.Info("configuration loaded", "symbols", len(cfg.Symbols), "leverage", cfg.Leverage)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	secretsClient, err := secrets.NewClient(secrets.Config{
		Enabled:    cfg.Vault.Enabled,
		Address:    cfg.Vault.Address,
		Token:      cfg.Vault.Token,
		MountPath:  cfg.Vault.MountPath,
		SecretPath: cfg.Vault.SecretPath,
	})
	if err != nil {
		logger.Fatal("failed to build secrets client", "error", err)
	}
	creds, err := secretsClient.ExchangeCredentials(ctx)
	if err != nil {
		logger.Fatal("failed to fetch exchange credentials", "error", err)
	}

	client := exchange.NewOKXClient(exchange.OKXConfig{
		BaseURL: cfg.Exchange.BaseURL,
		Demo:    cfg.Exchange.TestNet,
		Credentials: exchange.Credentials{
			APIKey:     creds.APIKey,
			SecretKey:  creds.SecretKey,
			Passphrase: creds.Passphrase,
		},
	})

	wsURL, err := exchange.ParseWSURL(cfg.Exchange.WSURL)
	if err != nil {
		logger.Fatal("invalid exchange websocket url", "error", err)
	}
	stream := exchange.NewStream(wsURL)
	stream.Subscribe(exchange.CandleChannel(engine.Timeframe), cfg.Symbols...)
	stream.Subscribe(exchange.CandleChannel(engine.HigherTimeframe), cfg.Symbols...)

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	positionsRegistry := positions.New(redisClient)
	positionsRegistry.Rehydrate(ctx, cfg.Symbols)

	dataRegistry := registry.New(dataFallbackConfig(cfg.Data), engine.NewRestPoller(client), nil)
	dataRegistry.SetEntryPriceLookup(positionsRegistry.EntryPriceLookup)

	eventBus := events.NewBus()
	indicatorAggregator := indicators.NewAggregator()
	regimeDetector := regime.NewDetector(regime.DefaultConfig(), func(symbol string, from, to domain.Regime) {
		logger.WithSymbol(symbol).Info("regime changed", "from", from, "to", to)
		eventBus.PublishRegimeChanged(symbol, string(from), string(to))
	})

	profileManager := profile.NewManager(cfg.BalanceProfiles, startingEquity(ctx, client, logger), eventBus)

	circuitBreaker := risk.NewCircuitBreaker(cfg.Risk.CircuitBreakerConfig())
	circuitBreaker.OnTrip(func(reason string) {
		logger.Warn("circuit breaker tripped", "reason", reason)
		eventBus.PublishCircuitBreakerTripped(reason, cfg.Risk.CooldownMinutes*60)
	})
	marginChecker := risk.NewExchangeMarginChecker(client)
	riskManager := risk.New(cfg.Risk.ManagerConfig(cfg.AdaptiveRegime.RiskConfig()), circuitBreaker, marginChecker, positionsRegistry.OpenCount)

	generatorList := []signals.Generator{
		signals.NewMACDCrossoverGenerator(),
		signals.NewMACrossoverGenerator(),
		signals.RSIGenerator{Config: cfg.RSI},
		signals.TrendPullbackGenerator{Config: cfg.TrendPullback},
	}
	stack := buildFilterStack(cfg.Filters)
	pipe := pipeline.New(generatorList, stack, mergedThresholds(cfg))

	entryExecutor := execution.NewEntry(client, positionsRegistry, execution.DefaultConfig(), cfg.Leverage)
	exitExecutor := execution.NewExit(client, positionsRegistry, execution.ExitConfig{
		CloseRetries: execution.DefaultExitConfig().CloseRetries,
		Fees:         cfg.Fees,
	})

	lifecycleManager := lifecycle.New(positionsRegistry, profileManager.TierConfigFor, lifecycle.DefaultConfig(), cfg.AdaptiveRegime.LifecycleConfig())

	prober := connquality.NewExchangeProber(client, cfg.Exchange.ProbeSymbol)
	connMonitor := connquality.New(prober, connectionQualityConfig(cfg.ConnectionQuality))
	connMonitor.OnProfileChange(func(from, to connquality.Profile) {
		logger.Info("connection profile changed", "from", from, "to", to)
	})

	var telegramNotifier *notifier.Telegram
	if cfg.Notification.Enabled {
		telegramNotifier = notifier.New(notifier.Config{
			Enabled:  cfg.Notification.Telegram.Enabled,
			BotToken: cfg.Notification.Telegram.BotToken,
			ChatID:   cfg.Notification.Telegram.ChatID,
		})
	}

	csvWriter := persistence.NewCSVWriter("trades.csv", "signals.csv")
	var journal *persistence.Journal
	if cfg.Postgres.Enabled {
		journal, err = persistence.NewJournal(ctx, persistence.JournalConfig{DSN: cfg.Postgres.DSN})
		if err != nil {
			logger.Fatal("failed to connect trade journal", "error", err)
		}
		defer journal.Close()
	}
	store := persistence.NewStore(csvWriter, journal)

	eng := engine.New(engine.Deps{
		Symbols: cfg.Symbols,
		Client:  client,
		Stream:  stream,

		DataRegistry:     dataRegistry,
		PositionRegistry: positionsRegistry,
		Indicators:       indicatorAggregator,
		RegimeDetector:   regimeDetector,
		ProfileManager:   profileManager,
		RiskManager:      riskManager,

		Pipeline:  pipe,
		Entry:     entryExecutor,
		Exit:      exitExecutor,
		Lifecycle: lifecycleManager,

		ConnQuality: connMonitor,
		Notifier:    telegramNotifier,
		Store:       store,
		EventBus:    eventBus,

		TierLimitsFor: func(tier domain.BalanceTier) risk.TierLimits {
			tc := profileManager.TierConfigFor(tier)
			return risk.TierLimits{MinPositionUSD: tc.MinPositionUSD, MaxPositionUSD: tc.MaxPositionUSD}
		},
		TPSL:     cfg.AdaptiveRegime.TPSLConfig(),
		Leverage: cfg.Leverage,
	})

	if err := eng.Start(ctx); err != nil {
		logger.Fatal("failed to start engine", "error", err)
	}
	logger.Info("engine started")

	opsServer := opsapi.New(opsapi.Config{Port: cfg.Server.Port, AllowedOrigins: cfg.Server.AllowedOrigins}, positionsRegistry, riskManager, connMonitor, journal)
	go func() {
		if err := opsServer.Run(ctx); err != nil {
			logger.Error("ops api server stopped with error", "error", err)
		}
	}()
	logger.Info("ops api listening", "port", cfg.Server.Port)

	<-ctx.Done()
	logger.Info("shutdown signal received, draining workers")
	eng.Stop()
	if redisClient != nil {
		_ = redisClient.Close()
	}
	logger.Info("shutdown complete")
}

// mergedThresholds combines the adaptive_regime block's per-regime score
// gate with the filters block's regime-scoped parameters, since the two
// live in separate config sections but the Signal Pipeline wants them
// together.
func mergedThresholds(cfg *config.Config) map[domain.Regime]pipeline.RegimeThresholds {
	scores := cfg.AdaptiveRegime.PipelineThresholds()
	filterParams := cfg.AdaptiveRegime.FilterRegimeParams(cfg.Filters)
	out := make(map[domain.Regime]pipeline.RegimeThresholds, len(scores))
	for r, th := range scores {
		th.FilterParams = filterParams[r]
		out[r] = th
	}
	return out
}

// buildFilterStack assembles the fixed-order Filter Stack, skipping any
// gate the config has explicitly disabled. Data health and risk admission
// are load-bearing safety gates and are not config-togglable.
func buildFilterStack(cfg config.FiltersConfig) *filters.Stack {
	stack := []filters.Filter{filters.DataHealthFilter{}, filters.RiskFilter{}}
	optional := []filters.Filter{
		filters.VolatilityRegimeFilter{},
		filters.ADXDirectionFilter{},
		filters.MultiTimeframeFilter{},
		filters.CorrelationFilter{},
		filters.LiquidityFilter{},
		filters.OrderFlowFilter{AttenuationFactor: 0.7},
		filters.FundingRateFilter{HeavyThreshold: cfg.FundingHeavyThreshold, AttenuationFactor: 0.7},
		filters.PivotFilter{},
		filters.VolumeProfileFilter{AttenuationFactor: 0.7},
	}
	for _, f := range optional {
		if cfg.IsEnabled(f.Name()) {
			stack = append(stack, f)
		}
	}
	return filters.NewStack(stack...)
}

func dataFallbackConfig(cfg config.DataFallbackConfig) registry.FallbackConfig {
	def := registry.DefaultFallbackConfig()
	out := def
	if cfg.TickFreshMs > 0 {
		out.TickFreshMs = int64(cfg.TickFreshMs)
	}
	if cfg.TickStaleMs > 0 {
		out.TickStaleMs = int64(cfg.TickStaleMs)
	}
	if cfg.CandleFreshMs > 0 {
		out.CandleFreshMs = int64(cfg.CandleFreshMs)
	}
	if cfg.RestRetryAfterMs > 0 {
		out.RestRetryAfterMs = int64(cfg.RestRetryAfterMs)
	}
	return out
}

func connectionQualityConfig(cfg config.ConnectionQualityConfig) connquality.Config {
	out := connquality.DefaultConfig()
	if cfg.ProbeIntervalS > 0 {
		out.ProbeInterval = time.Duration(cfg.ProbeIntervalS) * time.Second
	}
	if cfg.MinDwellS > 0 {
		out.MinDwell = time.Duration(cfg.MinDwellS) * time.Second
	}
	if p, ok := cfg.Profiles["excellent"]; ok && p.MaxLatencyMs > 0 {
		out.Thresholds.ExcellentMaxLatency = time.Duration(p.MaxLatencyMs) * time.Millisecond
	}
	if p, ok := cfg.Profiles["good"]; ok && p.MaxLatencyMs > 0 {
		out.Thresholds.GoodMaxLatency = time.Duration(p.MaxLatencyMs) * time.Millisecond
	}
	if p, ok := cfg.Profiles["vpn"]; ok && p.MaxLatencyMs > 0 {
		out.Thresholds.VPNMaxLatency = time.Duration(p.MaxLatencyMs) * time.Millisecond
	}
	return out
}

// startingEquity seeds the Balance Profile Manager from the exchange's
// reported wallet equity at startup. A failed lookup falls back to zero,
// which resolves to the small tier until the first successful refresh.
func startingEquity(ctx context.Context, client exchange.Client, logger *logging.Logger) float64 {
	callCtx, cancel := context.WithTimeout(ctx, exchange.DefaultCallTimeout)
	defer cancel()
	balance, err := client.GetBalance(callCtx)
	if err != nil {
		logger.Warn("failed to fetch starting equity, defaulting to zero", "error", err)
		return 0
	}
	return balance.Equity
}

// Package lifecycle is the Position Lifecycle Manager (C11): invoked per
// tick per open position, it resolves all exit decisions through one
// ordered policy and returns at most one action.
package lifecycle

import (
	"time"

	"okx-scalper/internal/domain"
	"okx-scalper/internal/logging"
	"okx-scalper/internal/positions"
	"okx-scalper/internal/profile"
)

// Action is what the Lifecycle Manager decided to do this tick.
type Action string

const (
	ActionNone       Action = "none"
	ActionClose      Action = "close"
	ActionExtendTP   Action = "extend_tp"
	ActionAdvanceTSL Action = "advance_tsl"
)

// Decision is the Lifecycle Manager's verdict for one symbol's tick.
type Decision struct {
	Action Action
	Reason domain.ExitReason
}

// RegimeConfig holds the per-regime exit parameters from spec.md §4.9/§4.11.
type RegimeConfig struct {
	TPPercent       float64
	SLPercent       float64
	PHThreshold     float64
	PHTimeLimitS    float64
	MinHoldingS     float64
	TimeoutMinutes  float64
	TimeoutLossPct  float64
}

// Config holds the global lifecycle parameters not tied to a regime.
type Config struct {
	CriticalLossMultiplier float64       // e.g. 2.0x sl_percent
	GracePeriod            time.Duration // e.g. 5s, before critical-loss-cut can fire
	DrawdownPct            float64       // profit-drawdown-from-peak fraction
	MinProfitToProtect     float64       // USD floor before drawdown protection engages
	TrailingActivationPct  float64       // pnl_pct to activate the trailing stop
	TrailingPercent        float64       // distance from high/low water mark
	SmartExitMinLoss       float64       // pnl_pct floor for a losing smart-exit
	ADXFallThreshold       float64       // ADX falling below this counts as reversal evidence
	RSICrossLevel          float64       // 50, per spec.md §4.11 step 9
}

// DefaultConfig matches the example magnitudes spec.md §4.11 describes.
func DefaultConfig() Config {
	return Config{
		CriticalLossMultiplier: 2.0,
		GracePeriod:            5 * time.Second,
		DrawdownPct:            0.3,
		MinProfitToProtect:     5,
		TrailingActivationPct:  0.5,
		TrailingPercent:        0.3,
		SmartExitMinLoss:       -0.5,
		ADXFallThreshold:       18,
		RSICrossLevel:          50,
	}
}

// Manager is the Position Lifecycle Manager.
type Manager struct {
	registry      *positions.Registry
	tierConfigFor func(domain.BalanceTier) profile.TierConfig
	config        Config
	regimeConfig  map[domain.Regime]RegimeConfig
	log           *logging.Logger
}

// New builds a Lifecycle Manager. tierConfigFor resolves a position's
// entry-time tier to its ph_multiplier, never the live profile's, so an
// in-flight profile change cannot retroactively reinterpret an open
// position's exit thresholds.
func New(registry *positions.Registry, tierConfigFor func(domain.BalanceTier) profile.TierConfig, config Config, regimeConfig map[domain.Regime]RegimeConfig) *Manager {
	return &Manager{
		registry:      registry,
		tierConfigFor: tierConfigFor,
		config:        config,
		regimeConfig:  regimeConfig,
		log:           logging.WithComponent("lifecycle"),
	}
}

// Evaluate runs one tick's worth of lifecycle evaluation for symbol. It
// updates peak PnL and trailing-stop bookkeeping on the Position Registry
// as a side effect, and returns the single action to take, if any.
func (m *Manager) Evaluate(symbol string, snap domain.IndicatorSnapshot, regime domain.Regime, price domain.PriceReading, now time.Time) Decision {
	meta, ok := m.registry.Get(symbol)
	if !ok || meta.State != domain.PositionOpen {
		return Decision{Action: ActionNone}
	}

	// Never compute PnL against a placeholder price: entry-fallback and
	// unavailable readings skip every price-dependent check this tick.
	if !price.Source.Live() {
		return Decision{Action: ActionNone}
	}

	rc, ok := m.regimeConfig[meta.RegimeAtEntry]
	if !ok {
		rc, ok = m.regimeConfig[regime]
		if !ok {
			return Decision{Action: ActionNone}
		}
	}
	tierCfg := m.tierConfigFor(meta.BalanceProfileAtEntry)

	pnlPct := meta.UnrealizedPnLPercent(price.Price)
	netPnLUSD := meta.UnrealizedPnL(price.Price) - estimateRoundTripFee(meta, price.Price)
	minutesOpen := now.Sub(meta.OpenedAt).Minutes()

	m.updatePeak(symbol, &meta, netPnLUSD)

	slPct := effectivePercent(meta.OriginalStop, meta.EntryPrice, rc.SLPercent)
	tpPct := effectivePercent(meta.TakeProfit, meta.EntryPrice, rc.TPPercent)

	if d, ok := m.checkStopLoss(pnlPct, slPct); ok {
		return d
	}
	if d, ok := m.checkCriticalLoss(meta, pnlPct, slPct, now); ok {
		return d
	}
	if d, ok := m.checkTimeoutLoss(meta, rc, pnlPct, minutesOpen); ok {
		return d
	}
	if d, ok := m.checkTakeProfit(symbol, &meta, snap, regime, pnlPct, tpPct); ok {
		return d
	}
	if d, ok := m.checkProfitHarvest(meta, rc, tierCfg, netPnLUSD, minutesOpen); ok {
		return d
	}
	if d, ok := m.checkProfitDrawdown(meta, netPnLUSD); ok {
		return d
	}
	if d, ok := m.checkTrailingStop(symbol, &meta, price.Price); ok {
		return d
	}
	if d, ok := m.checkSmartExit(meta, snap, rc, pnlPct, minutesOpen, price.Price); ok {
		return d
	}

	return Decision{Action: ActionNone}
}

// updatePeak implements the §3 peak PnL invariant: first observation sets
// it unconditionally, subsequent observations only improve it (higher when
// already profitable, less-bad when still a loss).
func (m *Manager) updatePeak(symbol string, meta *domain.PositionMetadata, netPnLUSD float64) {
	improved := !meta.PeakSet || netPnLUSD > meta.PeakPnLUSD
	if !improved {
		return
	}
	meta.PeakPnLUSD = netPnLUSD
	meta.PeakSet = true
	_ = m.registry.UpdateMetadata(symbol, func(stored *domain.PositionMetadata) {
		if !stored.PeakSet || netPnLUSD > stored.PeakPnLUSD {
			stored.PeakPnLUSD = netPnLUSD
			stored.PeakSet = true
		}
	})
}

func (m *Manager) checkStopLoss(pnlPct, slPct float64) (Decision, bool) {
	if pnlPct <= -slPct {
		return Decision{Action: ActionClose, Reason: domain.ExitStopLoss}, true
	}
	return Decision{}, false
}

func (m *Manager) checkCriticalLoss(meta domain.PositionMetadata, pnlPct, slPct float64, now time.Time) (Decision, bool) {
	if now.Sub(meta.OpenedAt) < m.config.GracePeriod {
		return Decision{}, false
	}
	criticalPct := slPct * m.config.CriticalLossMultiplier
	if pnlPct <= -criticalPct {
		return Decision{Action: ActionClose, Reason: domain.ExitCriticalLossCut}, true
	}
	return Decision{}, false
}

func (m *Manager) checkTimeoutLoss(meta domain.PositionMetadata, rc RegimeConfig, pnlPct, minutesOpen float64) (Decision, bool) {
	if minutesOpen >= rc.TimeoutMinutes && pnlPct <= -rc.TimeoutLossPct {
		return Decision{Action: ActionClose, Reason: domain.ExitTimeoutLossCut}, true
	}
	return Decision{}, false
}

func (m *Manager) checkTakeProfit(symbol string, meta *domain.PositionMetadata, snap domain.IndicatorSnapshot, regime domain.Regime, pnlPct, tpPct float64) (Decision, bool) {
	if pnlPct < tpPct {
		return Decision{}, false
	}
	trendAligned := regime == domain.RegimeTrending &&
		((meta.Side == domain.SideLong && snap.EMAFast > snap.EMASlow) ||
			(meta.Side == domain.SideShort && snap.EMAFast < snap.EMASlow))
	if trendAligned {
		_ = m.registry.UpdateMetadata(symbol, func(stored *domain.PositionMetadata) {
			stored.TPExtensions++
			stored.TrailingActive = true
		})
		return Decision{Action: ActionExtendTP, Reason: domain.ExitTPExtended}, true
	}
	return Decision{Action: ActionClose, Reason: domain.ExitTakeProfitHit}, true
}

func (m *Manager) checkProfitHarvest(meta domain.PositionMetadata, rc RegimeConfig, tierCfg profile.TierConfig, netPnLUSD, minutesOpen float64) (Decision, bool) {
	threshold := rc.PHThreshold * tierCfg.PHMultiplier
	if threshold <= 0 || netPnLUSD < threshold {
		return Decision{}, false
	}

	switch {
	case netPnLUSD >= 2*threshold:
		return Decision{Action: ActionClose, Reason: domain.ExitPHExtreme}, true
	case netPnLUSD >= 1.5*threshold:
		if minutesOpen*60 < rc.PHTimeLimitS {
			return Decision{Action: ActionClose, Reason: domain.ExitPHStrong}, true
		}
	default:
		if minutesOpen*60 >= rc.MinHoldingS && minutesOpen*60 < rc.PHTimeLimitS {
			return Decision{Action: ActionClose, Reason: domain.ExitPHNormal}, true
		}
	}
	return Decision{}, false
}

func (m *Manager) checkProfitDrawdown(meta domain.PositionMetadata, netPnLUSD float64) (Decision, bool) {
	if !meta.PeakSet {
		return Decision{}, false
	}
	if meta.PeakPnLUSD > 0 {
		drawdown := (meta.PeakPnLUSD - netPnLUSD) / meta.PeakPnLUSD
		if drawdown >= m.config.DrawdownPct && netPnLUSD >= m.config.MinProfitToProtect {
			return Decision{Action: ActionClose, Reason: domain.ExitProfitDrawdown}, true
		}
		return Decision{}, false
	}
	if netPnLUSD < meta.PeakPnLUSD {
		return Decision{Action: ActionClose, Reason: domain.ExitLossDeterioration}, true
	}
	return Decision{}, false
}

func (m *Manager) checkTrailingStop(symbol string, meta *domain.PositionMetadata, price float64) (Decision, bool) {
	if !meta.TrailingActive {
		profitPct := meta.UnrealizedPnLPercent(price)
		if profitPct < m.config.TrailingActivationPct {
			return Decision{}, false
		}
		_ = m.registry.UpdateMetadata(symbol, func(stored *domain.PositionMetadata) {
			stored.TrailingActive = true
		})
		meta.TrailingActive = true
	}

	var triggered bool
	var newStop float64
	if meta.Side == domain.SideLong {
		if price > meta.HighWaterMark {
			newStop = price * (1 - m.config.TrailingPercent/100)
		}
		if price <= meta.TrailingStopPrice && meta.TrailingStopPrice > 0 {
			triggered = true
		}
	} else {
		if meta.LowWaterMark == 0 || price < meta.LowWaterMark {
			newStop = price * (1 + m.config.TrailingPercent/100)
		}
		if meta.TrailingStopPrice > 0 && price >= meta.TrailingStopPrice {
			triggered = true
		}
	}

	_ = m.registry.UpdateMetadata(symbol, func(stored *domain.PositionMetadata) {
		if price > stored.HighWaterMark {
			stored.HighWaterMark = price
		}
		if stored.LowWaterMark == 0 || price < stored.LowWaterMark {
			stored.LowWaterMark = price
		}
		if newStop != 0 {
			// Trailing stop only ever advances in the favorable direction,
			// never retreats.
			if meta.Side == domain.SideLong && newStop > stored.TrailingStopPrice {
				stored.TrailingStopPrice = newStop
			}
			if meta.Side == domain.SideShort && (stored.TrailingStopPrice == 0 || newStop < stored.TrailingStopPrice) {
				stored.TrailingStopPrice = newStop
			}
		}
	})

	if triggered {
		return Decision{Action: ActionClose, Reason: domain.ExitTrailingStop}, true
	}
	return Decision{}, false
}

func (m *Manager) checkSmartExit(meta domain.PositionMetadata, snap domain.IndicatorSnapshot, rc RegimeConfig, pnlPct, minutesOpen, price float64) (Decision, bool) {
	if minutesOpen*60 < rc.MinHoldingS {
		return Decision{}, false
	}
	if !reversalEvidence(meta.Side, snap, m.config, price) {
		return Decision{}, false
	}
	if pnlPct > 0 || pnlPct <= m.config.SmartExitMinLoss {
		return Decision{Action: ActionClose, Reason: domain.ExitSmartExit}, true
	}
	return Decision{}, false
}

// reversalEvidence combines RSI crossing 50 against the position, a MACD
// histogram sign flip against the position, a Bollinger Band mean-reversion
// signal, and ADX falling below the reversal threshold. Two or more signals
// constitute strong evidence.
func reversalEvidence(side domain.Side, snap domain.IndicatorSnapshot, cfg Config, price float64) bool {
	votes := 0
	if side == domain.SideLong {
		if snap.RSI < cfg.RSICrossLevel {
			votes++
		}
		if snap.MACDHist < 0 {
			votes++
		}
		if snap.BBMiddle > 0 && price <= snap.BBMiddle {
			votes++
		}
	} else {
		if snap.RSI > cfg.RSICrossLevel {
			votes++
		}
		if snap.MACDHist > 0 {
			votes++
		}
		if snap.BBMiddle > 0 && price >= snap.BBMiddle {
			votes++
		}
	}
	if snap.ADX < cfg.ADXFallThreshold {
		votes++
	}
	return votes >= 2
}

func effectivePercent(snapshotPrice, entryPrice, fallbackPct float64) float64 {
	if snapshotPrice <= 0 || entryPrice <= 0 {
		return fallbackPct
	}
	pct := (snapshotPrice - entryPrice) / entryPrice * 100
	if pct < 0 {
		pct = -pct
	}
	if pct == 0 {
		return fallbackPct
	}
	return pct
}

func estimateRoundTripFee(meta domain.PositionMetadata, markPrice float64) float64 {
	// Always zero: no entry or exit fee is deducted here, so the net PnL the
	// exit checks see equals the gross unrealized PnL.
	return 0
}

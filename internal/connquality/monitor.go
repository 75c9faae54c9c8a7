// Package connquality is the Connection Quality Monitor (C13): it probes
// exchange latency and TLS health on an interval and classifies the link
// into a hysteresis-gated profile the rest of the engine can read without
// reacting to every single noisy sample.
package connquality

import (
	"context"
	"sync"
	"time"

	"okx-scalper/internal/logging"
	"okx-scalper/internal/metrics"
)

// Profile is the connection quality tier.
type Profile string

const (
	ProfileExcellent Profile = "excellent"
	ProfileGood      Profile = "good"
	ProfileVPN       Profile = "vpn"
	ProfilePoor      Profile = "poor"
)

// Prober performs one round-trip health check against the exchange.
// A true sslErr indicates a TLS handshake or certificate failure,
// distinct from an ordinary timeout or HTTP error.
type Prober interface {
	Probe(ctx context.Context) (latency time.Duration, sslErr bool, err error)
}

// Thresholds classifies a single probe sample into a profile, before
// hysteresis is applied.
type Thresholds struct {
	ExcellentMaxLatency time.Duration
	GoodMaxLatency      time.Duration
	VPNMaxLatency       time.Duration
	// Above VPNMaxLatency, or any SSL error, classifies as Poor.
}

// DefaultThresholds match typical exchange REST round-trip times from a
// well-connected region, a VPN-routed region, and a degraded link.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ExcellentMaxLatency: 150 * time.Millisecond,
		GoodMaxLatency:      400 * time.Millisecond,
		VPNMaxLatency:       900 * time.Millisecond,
	}
}

// Config controls the monitor's probe cadence and profile hysteresis.
type Config struct {
	ProbeInterval time.Duration
	MinDwell      time.Duration // minimum time before a profile can change again
	Thresholds    Thresholds
}

// DefaultConfig probes every 60s and requires a profile to hold for 5
// minutes before switching, per spec.md §4.13.
func DefaultConfig() Config {
	return Config{
		ProbeInterval: 60 * time.Second,
		MinDwell:      5 * time.Minute,
		Thresholds:    DefaultThresholds(),
	}
}

// Monitor tracks the current connection profile and the last time it changed.
type Monitor struct {
	mu         sync.RWMutex
	profile    Profile
	changedAt  time.Time
	config     Config
	prober     Prober
	log        *logging.Logger
	onProfileChange func(from, to Profile)
}

// New builds a Connection Quality Monitor, starting optimistic at Excellent
// until the first probe lands.
func New(prober Prober, config Config) *Monitor {
	return &Monitor{
		profile:   ProfileExcellent,
		changedAt: time.Now(),
		config:    config,
		prober:    prober,
		log:       logging.WithComponent("connquality"),
	}
}

// OnProfileChange registers a callback invoked whenever a hysteresis-gated
// profile transition actually lands, so the Risk Controller or sizing layer
// can pick up a more conservative posture.
func (m *Monitor) OnProfileChange(fn func(from, to Profile)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onProfileChange = fn
}

// Current returns the monitor's current profile.
func (m *Monitor) Current() Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.profile
}

// Run blocks, probing on ProbeInterval until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	latency, sslErr, err := m.prober.Probe(ctx)
	if err != nil && !sslErr {
		// A plain network error without an SSL flag is treated the same as
		// an extreme-latency sample: degraded, not necessarily VPN-specific.
		m.observe(m.config.Thresholds.VPNMaxLatency+time.Second, false)
		return
	}
	m.observe(latency, sslErr)
}

func (m *Monitor) observe(latency time.Duration, sslErr bool) {
	metrics.ExchangeLatencySeconds.Set(latency.Seconds())
	sample := classify(latency, sslErr, m.config.Thresholds)

	m.mu.Lock()
	defer m.mu.Unlock()

	if sample == m.profile {
		return
	}
	if time.Since(m.changedAt) < m.config.MinDwell {
		// Hysteresis: a brief blip does not flip the profile until the
		// minimum dwell time has elapsed on the current one.
		return
	}

	from := m.profile
	m.profile = sample
	m.changedAt = time.Now()
	m.log.WithField("from", string(from)).WithField("to", string(sample)).Info("connection quality profile changed")

	if m.onProfileChange != nil {
		m.onProfileChange(from, sample)
	}
}

func classify(latency time.Duration, sslErr bool, t Thresholds) Profile {
	if sslErr {
		return ProfilePoor
	}
	switch {
	case latency <= t.ExcellentMaxLatency:
		return ProfileExcellent
	case latency <= t.GoodMaxLatency:
		return ProfileGood
	case latency <= t.VPNMaxLatency:
		return ProfileVPN
	default:
		return ProfilePoor
	}
}

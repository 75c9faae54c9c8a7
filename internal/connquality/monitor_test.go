package connquality

import (
	"context"
	"testing"
	"time"
)

type fakeProber struct {
	latency time.Duration
	sslErr  bool
	err     error
}

func (f *fakeProber) Probe(ctx context.Context) (time.Duration, bool, error) {
	return f.latency, f.sslErr, f.err
}

func TestClassifyBuckets(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		latency time.Duration
		sslErr  bool
		want    Profile
	}{
		{50 * time.Millisecond, false, ProfileExcellent},
		{300 * time.Millisecond, false, ProfileGood},
		{700 * time.Millisecond, false, ProfileVPN},
		{2 * time.Second, false, ProfilePoor},
		{10 * time.Millisecond, true, ProfilePoor},
	}
	for _, c := range cases {
		if got := classify(c.latency, c.sslErr, th); got != c.want {
			t.Fatalf("classify(%v, %v) = %v, want %v", c.latency, c.sslErr, got, c.want)
		}
	}
}

func TestObserveHonorsMinDwellBeforeSwitching(t *testing.T) {
	m := New(&fakeProber{}, Config{ProbeInterval: time.Second, MinDwell: time.Hour, Thresholds: DefaultThresholds()})

	m.observe(2*time.Second, false) // would classify Poor, but MinDwell blocks it
	if m.Current() != ProfileExcellent {
		t.Fatalf("expected profile to stay Excellent during dwell, got %v", m.Current())
	}
}

func TestObserveSwitchesAfterDwellElapsed(t *testing.T) {
	m := New(&fakeProber{}, Config{ProbeInterval: time.Second, MinDwell: 0, Thresholds: DefaultThresholds()})

	var from, to Profile
	m.OnProfileChange(func(f, tt Profile) { from, to = f, tt })

	m.observe(2*time.Second, false)
	if m.Current() != ProfilePoor {
		t.Fatalf("expected profile Poor, got %v", m.Current())
	}
	if from != ProfileExcellent || to != ProfilePoor {
		t.Fatalf("expected callback Excellent->Poor, got %v->%v", from, to)
	}
}

func TestObserveSSLErrorForcesPoorRegardlessOfLatency(t *testing.T) {
	m := New(&fakeProber{}, Config{ProbeInterval: time.Second, MinDwell: 0, Thresholds: DefaultThresholds()})
	m.observe(10*time.Millisecond, true)
	if m.Current() != ProfilePoor {
		t.Fatalf("expected SSL error to force Poor, got %v", m.Current())
	}
}

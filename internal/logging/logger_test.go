package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func newTestLogger(jsonFormat bool) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	l := &Logger{
		output:     buf,
		level:      DEBUG,
		component:  "test",
		fields:     make(map[string]interface{}),
		jsonFormat: jsonFormat,
	}
	return l, buf
}

func TestLoggerJSONFields(t *testing.T) {
	l, buf := newTestLogger(true)
	l.WithField("symbol", "BTC-USDT-SWAP").Info("order placed", "qty", 0.5)

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry.Message != "order placed" {
		t.Fatalf("message = %q", entry.Message)
	}
	if entry.Fields["symbol"] != "BTC-USDT-SWAP" {
		t.Fatalf("symbol field = %v", entry.Fields["symbol"])
	}
	if entry.Fields["qty"] != 0.5 {
		t.Fatalf("qty field = %v", entry.Fields["qty"])
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	l, buf := newTestLogger(true)
	l.level = WARN
	l.Debug("should not appear")
	l.Info("also should not appear")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below WARN, got %q", buf.String())
	}
	l.Warn("should appear")
	if buf.Len() == 0 {
		t.Fatal("expected output at WARN level")
	}
}

func TestLoggerWithErrorNilIsNoop(t *testing.T) {
	l, _ := newTestLogger(true)
	derived := l.WithError(nil)
	if derived != l {
		t.Fatal("WithError(nil) should return the same logger")
	}
}

func TestLoggerTextFormat(t *testing.T) {
	l, buf := newTestLogger(false)
	l.WithComponent("registry").WithSymbol("ETH-USDT-SWAP").Info("tick stale")
	out := buf.String()
	if !strings.Contains(out, "[registry]") || !strings.Contains(out, "ETH-USDT-SWAP") {
		t.Fatalf("text output missing expected fields: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug": DEBUG, "INFO": INFO, "warning": WARN, "ERROR": ERROR, "bogus": INFO,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

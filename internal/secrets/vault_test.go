package secrets

import (
	"context"
	"testing"
)

func TestExchangeCredentialsReturnsLocalWhenSet(t *testing.T) {
	c, err := NewClient(Config{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.SetLocal(ExchangeCredentials{APIKey: "k", SecretKey: "s"})

	creds, err := c.ExchangeCredentials(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds.APIKey != "k" || creds.SecretKey != "s" {
		t.Fatalf("unexpected credentials: %+v", creds)
	}
}

func TestExchangeCredentialsErrorsWhenDisabledAndUnset(t *testing.T) {
	c, err := NewClient(Config{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.ExchangeCredentials(context.Background()); err == nil {
		t.Fatal("expected an error when vault is disabled and no local credentials are set")
	}
}

func TestHealthIsNoOpWhenDisabled(t *testing.T) {
	c, err := NewClient(Config{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

// Package secrets fetches exchange API credentials from HashiCorp Vault, so
// they never appear in the config file or environment.
package secrets

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"
)

// ExchangeCredentials is the API key pair needed to authenticate against
// the exchange.
type ExchangeCredentials struct {
	APIKey     string
	SecretKey  string
	Passphrase string
}

// Config points at the Vault mount holding the exchange credentials.
type Config struct {
	Enabled    bool
	Address    string
	Token      string
	MountPath  string
	SecretPath string
}

// Client fetches and caches exchange credentials from Vault's KV v2 engine.
type Client struct {
	client *api.Client
	config Config
	mu     sync.RWMutex
	cached *ExchangeCredentials
}

// NewClient builds a Vault-backed secrets client. When config.Enabled is
// false the client only ever serves whatever was set via SetLocal, for
// local development without a running Vault instance.
func NewClient(config Config) (*Client, error) {
	if !config.Enabled {
		return &Client{config: config}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = config.Address

	raw, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("secrets: create vault client: %w", err)
	}
	raw.SetToken(config.Token)

	return &Client{client: raw, config: config}, nil
}

// SetLocal seeds the client's cache directly, bypassing Vault. Used in
// development and in tests.
func (c *Client) SetLocal(creds ExchangeCredentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached = &creds
}

// ExchangeCredentials returns the cached credentials if present, otherwise
// fetches and caches them from Vault's KV v2 secret engine.
func (c *Client) ExchangeCredentials(ctx context.Context) (ExchangeCredentials, error) {
	c.mu.RLock()
	if c.cached != nil {
		defer c.mu.RUnlock()
		return *c.cached, nil
	}
	c.mu.RUnlock()

	if !c.config.Enabled {
		return ExchangeCredentials{}, fmt.Errorf("secrets: vault disabled and no local credentials set")
	}

	path := fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return ExchangeCredentials{}, fmt.Errorf("secrets: read %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return ExchangeCredentials{}, fmt.Errorf("secrets: no data at %s", path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return ExchangeCredentials{}, fmt.Errorf("secrets: malformed secret at %s", path)
	}

	creds := ExchangeCredentials{
		APIKey:     stringField(data, "api_key"),
		SecretKey:  stringField(data, "secret_key"),
		Passphrase: stringField(data, "passphrase"),
	}
	if creds.APIKey == "" || creds.SecretKey == "" {
		return ExchangeCredentials{}, fmt.Errorf("secrets: incomplete credentials at %s", path)
	}

	c.mu.Lock()
	c.cached = &creds
	c.mu.Unlock()

	return creds, nil
}

// Health checks that Vault is reachable and unsealed, a no-op when disabled.
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	health, err := c.client.Sys().Health()
	if err != nil {
		return fmt.Errorf("secrets: vault health check: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("secrets: vault is sealed")
	}
	return nil
}

func stringField(data map[string]interface{}, key string) string {
	if v, ok := data[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

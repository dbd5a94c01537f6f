package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/vault/api"
)

// resolveVault resolves a Vault secret reference.
// Format: secret/data/path#key
func resolveVault(ctx context.Context, ref string) (string, error) {
	secretPath, key, ok := strings.Cut(ref, "#")
	if !ok || secretPath == "" || key == "" {
		return "", fmt.Errorf("invalid Vault reference %q: expected format path#key", ref)
	}

	addr := os.Getenv("VAULT_ADDR")
	if addr == "" {
		return "", fmt.Errorf("VAULT_ADDR environment variable not set")
	}
	token := os.Getenv("VAULT_TOKEN")
	if token == "" {
		return "", fmt.Errorf("VAULT_TOKEN environment variable not set")
	}

	cfg := api.DefaultConfig()
	cfg.Address = addr
	cfg.MaxRetries = 2

	client, err := api.NewClient(cfg)
	if err != nil {
		return "", fmt.Errorf("creating Vault client: %w", err)
	}
	client.SetToken(token)
	if ns := os.Getenv("VAULT_NAMESPACE"); ns != "" {
		client.SetNamespace(ns)
	}

	secret, err := client.Logical().ReadWithContext(ctx, secretPath)
	if err != nil {
		return "", fmt.Errorf("reading Vault secret at %s: %w", secretPath, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("no secret found at %s", secretPath)
	}

	// KV v2 nests the values under "data".
	data := secret.Data
	if inner, ok := data["data"].(map[string]any); ok {
		data = inner
	}

	val, ok := data[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in Vault secret at %s", key, secretPath)
	}
	str, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("Vault secret value for key %q is not a string", key)
	}
	return str, nil
}

// Secret resolution for provider API keys. Priority:
//  1. Environment variable (COURIER_<PROVIDER>_API_KEY, e.g. COURIER_OPENAI_API_KEY)
//  2. OS keyring (Linux: Secret Service, macOS: Keychain, Windows: Credential Manager)
//  3. config.yaml value (least secure, plaintext on disk)
package config

import (
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

// keyringService is the service name used in the OS keyring.
const keyringService = "courier"

// resolveSecret returns the API key for a provider, preferring the
// environment, then the OS keyring, then the configured value.
func resolveSecret(provider, configured string) string {
	envKey := "COURIER_" + strings.ToUpper(strings.ReplaceAll(provider, "-", "_")) + "_API_KEY"
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if v := GetKeyring(provider + "_api_key"); v != "" {
		return v
	}
	return configured
}

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring. Returns empty string
// if not found or the keyring is unavailable.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

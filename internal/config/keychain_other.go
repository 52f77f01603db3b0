//go:build !darwin

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// secretsFilePath is the JSON file standing in for a keychain:
// {"vidrag": {"openai_api_key": "...", "postgres_dsn": "..."}}.
func secretsFilePath() string {
	if p := os.Getenv("VIDRAG_SECRETS_FILE"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "vidrag", "secrets.json")
}

func keychainLookup(service, account string) ([]byte, error) {
	path := secretsFilePath()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s/%s: %w", service, account, errSecretNotFound)
		}
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	if info, err := os.Stat(path); err == nil && info.Mode().Perm()&0o077 != 0 {
		fmt.Fprintf(os.Stderr, "[WARN] secrets file %s is readable by other users; chmod 600 it.\n", path)
	}

	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	val, ok := secrets[service][account]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", service, account, errSecretNotFound)
	}
	return []byte(val), nil
}

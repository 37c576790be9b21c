package config

import (
	"os"
	"path/filepath"
)

// UserConfigDir returns ~/.shellgate, creating it if absent.
func UserConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(homeDir, ".shellgate")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// DefaultConfigPath returns the default gateway.yaml location,
// ~/.shellgate/gateway.yaml.
func DefaultConfigPath() (string, error) {
	dir, err := UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "gateway.yaml"), nil
}

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sitesafe/ptwcore/internal/cliclient"
	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

// keyringService namespaces ptwctl tokens in the OS credential store.
const keyringService = "ptwctl"

// CLIConfig holds the CLI configuration persisted under the user config dir.
// Tokens live in the OS keyring, keyed by server URL.
type CLIConfig struct {
	ServerURL string `yaml:"server_url,omitempty"`
	Username  string `yaml:"username,omitempty"`
}

var configDir string

// getConfigDir returns the platform-specific config directory.
func getConfigDir() (string, error) {
	if configDir != "" {
		return configDir, nil
	}

	if envDir := os.Getenv("PTWCTL_CONFIG_DIR"); envDir != "" {
		configDir = envDir
		return configDir, nil
	}

	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config directory: %w", err)
	}

	configDir = filepath.Join(baseDir, "ptwctl")
	return configDir, nil
}

func configPath() (string, error) {
	dir, err := getConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// loadConfig reads the CLI config, returning an empty config if none exists.
func loadConfig() (*CLIConfig, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &CLIConfig{}, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg CLIConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// saveConfig writes the CLI config, creating the config dir if needed.
func saveConfig(cfg *CLIConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// saveToken stores the API token in the OS keyring, keyed by server URL.
func saveToken(serverURL, token string) error {
	if err := keyring.Set(keyringService, serverURL, token); err != nil {
		return fmt.Errorf("storing token in keyring: %w", err)
	}
	return nil
}

// loadToken reads the API token for a server from the OS keyring.
func loadToken(serverURL string) (string, error) {
	token, err := keyring.Get(keyringService, serverURL)
	if err != nil {
		if err == keyring.ErrNotFound {
			return "", fmt.Errorf("not logged in to %s; run 'ptwctl login %s' first", serverURL, serverURL)
		}
		return "", fmt.Errorf("reading token from keyring: %w", err)
	}
	return token, nil
}

// getAuthenticatedClient loads the configured server and token and returns an API client.
func getAuthenticatedClient() (*cliclient.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("no server configured; run 'ptwctl login <server-url>' first")
	}

	token, err := loadToken(cfg.ServerURL)
	if err != nil {
		return nil, err
	}

	return cliclient.New(cfg.ServerURL, token), nil
}

// formatTimestamp renders a timestamp in a compact human-friendly form.
func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// cliConfig is loaded from a TOML file. Every field can be overridden
// by the matching CHATCLI_* environment variable.
type cliConfig struct {
	ServerURL    string `toml:"server_url"`
	Token        string `toml:"token"`
	ChatID       string `toml:"chat_id"`
	UserID       string `toml:"user_id"`
	DisplayName  string `toml:"display_name"`
	Email        string `toml:"email"`
	CachePath    string `toml:"cache_path"`
	BackendQuota int    `toml:"backend_quota"`
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".config", "chatcli", "config.toml")
}

func loadConfig(path string) (cliConfig, error) {
	cfg := cliConfig{
		ServerURL:    "http://localhost:8080",
		BackendQuota: 10,
	}

	if path == "" {
		path = defaultConfigPath()
	}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(raw, &cfg); err != nil {
			return cfg, err
		}
	case errors.Is(err, os.ErrNotExist):
		// fine, env and defaults only
	default:
		return cfg, err
	}

	if v := os.Getenv("CHATCLI_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("CHATCLI_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("CHATCLI_CHAT_ID"); v != "" {
		cfg.ChatID = v
	}
	if v := os.Getenv("CHATCLI_USER_ID"); v != "" {
		cfg.UserID = v
	}

	if cfg.Token == "" {
		return cfg, errors.New("missing token: set it in the config file or CHATCLI_TOKEN")
	}
	if cfg.ChatID == "" {
		return cfg, errors.New("missing chat_id: set it in the config file or CHATCLI_CHAT_ID")
	}
	if cfg.UserID == "" {
		return cfg, errors.New("missing user_id: set it in the config file or CHATCLI_USER_ID")
	}
	return cfg, nil
}

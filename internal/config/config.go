// Package config loads VoxJot configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultModel is the structured-completion model used for extraction.
const DefaultModel = "gpt-4.1-nano-2025-04-14"

// DefaultOpenAIBaseURL is the chat-completions endpoint base.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// Config holds all runtime configuration for both the server and the
// capture client. Services receive the fields they need at construction;
// nothing here is a mutable process-wide singleton.
type Config struct {
	// Server
	ListenAddr string
	DBPath     string
	UserID     string
	Timezone   string

	// Extraction
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	// Google Calendar
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Capture client
	ServerURL      string
	RecognizerSock string
	Locale         string
}

type fileConfig struct {
	ListenAddr         string `yaml:"listen_addr"`
	DBPath             string `yaml:"db_path"`
	UserID             string `yaml:"user_id"`
	Timezone           string `yaml:"timezone"`
	OpenAIAPIKey       string `yaml:"openai_api_key"`
	OpenAIModel        string `yaml:"openai_model"`
	OpenAIBaseURL      string `yaml:"openai_base_url"`
	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	GoogleRedirectURL  string `yaml:"google_redirect_url"`
	ServerURL          string `yaml:"server_url"`
	RecognizerSock     string `yaml:"recognizer_socket"`
	Locale             string `yaml:"locale"`
}

// Load reads the config file (if present) and applies environment overrides.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:     "127.0.0.1:8723",
		DBPath:         defaultDBPath(),
		UserID:         "local",
		Timezone:       "America/New_York",
		OpenAIModel:    DefaultModel,
		OpenAIBaseURL:  DefaultOpenAIBaseURL,
		ServerURL:      "http://127.0.0.1:8723",
		RecognizerSock: DefaultSocketPath(),
		Locale:         "en-US",
	}

	if path := configFilePath(); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		applyFile(cfg, &fc)
	}

	applyEnvOverrides(cfg)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return cfg, nil
}

// DefaultSocketPath returns the default recognizer daemon socket path.
func DefaultSocketPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "voxjot", "recognizer.sock")
}

func defaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "voxjot", "voxjot.sqlite")
}

func applyFile(cfg *Config, fc *fileConfig) {
	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}
	if fc.DBPath != "" {
		cfg.DBPath = expandTilde(fc.DBPath)
	}
	if fc.UserID != "" {
		cfg.UserID = fc.UserID
	}
	if fc.Timezone != "" {
		cfg.Timezone = fc.Timezone
	}
	if fc.OpenAIAPIKey != "" {
		cfg.OpenAIAPIKey = fc.OpenAIAPIKey
	}
	if fc.OpenAIModel != "" {
		cfg.OpenAIModel = fc.OpenAIModel
	}
	if fc.OpenAIBaseURL != "" {
		cfg.OpenAIBaseURL = fc.OpenAIBaseURL
	}
	if fc.GoogleClientID != "" {
		cfg.GoogleClientID = fc.GoogleClientID
	}
	if fc.GoogleClientSecret != "" {
		cfg.GoogleClientSecret = fc.GoogleClientSecret
	}
	if fc.GoogleRedirectURL != "" {
		cfg.GoogleRedirectURL = fc.GoogleRedirectURL
	}
	if fc.ServerURL != "" {
		cfg.ServerURL = fc.ServerURL
	}
	if fc.RecognizerSock != "" {
		cfg.RecognizerSock = expandTilde(fc.RecognizerSock)
	}
	if fc.Locale != "" {
		cfg.Locale = fc.Locale
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VOXJOT_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("VOXJOT_DB_PATH"); v != "" {
		cfg.DBPath = expandTilde(v)
	}
	if v := os.Getenv("VOXJOT_USER_ID"); v != "" {
		cfg.UserID = v
	}
	if v := os.Getenv("VOXJOT_TIMEZONE"); v != "" {
		cfg.Timezone = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := os.Getenv("VOXJOT_OPENAI_MODEL"); v != "" {
		cfg.OpenAIModel = v
	}
	if v := os.Getenv("VOXJOT_OPENAI_BASE_URL"); v != "" {
		cfg.OpenAIBaseURL = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.GoogleClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.GoogleClientSecret = v
	}
	if v := os.Getenv("VOXJOT_GOOGLE_REDIRECT_URL"); v != "" {
		cfg.GoogleRedirectURL = v
	}
	if v := os.Getenv("VOXJOT_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("VOXJOT_RECOGNIZER_SOCKET"); v != "" {
		cfg.RecognizerSock = expandTilde(v)
	}
	if v := os.Getenv("VOXJOT_LOCALE"); v != "" {
		cfg.Locale = v
	}
}

func configFilePath() string {
	var configDir string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		configDir = filepath.Join(xdg, "voxjot")
	} else if home, err := os.UserHomeDir(); err == nil {
		configDir = filepath.Join(home, ".config", "voxjot")
	} else {
		return ""
	}

	path := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

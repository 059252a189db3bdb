// Copyright (c) 2025 Reflex AI Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/reflexai/nexus/internal/cloud"
	"github.com/reflexai/nexus/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete nexus configuration.
type Config struct {
	Chat     ChatConfig     `toml:"chat"`
	Cloud    CloudConfig    `toml:"cloud"`
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Auth     AuthConfig     `toml:"auth"`
}

// ChatConfig controls the conversation pipeline.
type ChatConfig struct {
	// PrimaryModel answers user submissions.
	PrimaryModel string `toml:"primary_model"`
	// VerifierModel reviews answers when dual verification is on.
	VerifierModel string `toml:"verifier_model"`
	// SystemPrompt, when set, prefixes every primary transcript.
	SystemPrompt string `toml:"system_prompt"`
	// DualVerification is the startup default for the toggle.
	DualVerification bool `toml:"dual_verification"`
}

// CloudConfig controls the OpenRouter client.
type CloudConfig struct {
	BaseURL string `toml:"base_url"`
	// Referer and Title identify this client to OpenRouter.
	Referer           string `toml:"referer"`
	Title             string `toml:"title"`
	TimeoutSecs       int    `toml:"timeout_secs"`
	MaxRetries        int    `toml:"max_retries"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// DatabaseConfig locates the admin database.
type DatabaseConfig struct {
	// Path is the SQLite database file; empty means <config dir>/nexus.db.
	Path string `toml:"path"`
}

// AuthConfig controls sessions and sign-in.
type AuthConfig struct {
	// SessionTimeoutSecs is the idle timeout for authenticated sessions.
	SessionTimeoutSecs int `toml:"session_timeout_secs"`
	// RequireAccessCode gates the chat surface behind an access code.
	RequireAccessCode bool `toml:"require_access_code"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Chat: ChatConfig{
			PrimaryModel:  cloud.DefaultPrimaryModel,
			VerifierModel: cloud.DefaultVerifierModel,
		},
		Cloud: CloudConfig{
			BaseURL:           cloud.DefaultBaseURL,
			Referer:           "https://nexus.reflex.local",
			Title:             "REFLEX AI Nexus",
			TimeoutSecs:       60,
			MaxRetries:        cloud.DefaultMaxRetries,
			RequestsPerMinute: cloud.DefaultRequestsPerMinute,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8787",
		},
		Auth: AuthConfig{
			SessionTimeoutSecs: 900,
			RequireAccessCode:  true,
		},
	}
}

// ConfigDir returns ~/.nexus.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".nexus"), nil
}

// DefaultPath returns ~/.nexus/config.toml.
func DefaultPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DatabasePath resolves the admin database location.
func (c Config) DatabasePath() (string, error) {
	if c.Database.Path != "" {
		return c.Database.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "nexus.db"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the configuration at path, layering file values and NEXUS_*
// environment overrides on top of the defaults. A missing file is not an
// error; defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv applies NEXUS_* environment variable overrides.
func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	setString("NEXUS_PRIMARY_MODEL", &cfg.Chat.PrimaryModel)
	setString("NEXUS_VERIFIER_MODEL", &cfg.Chat.VerifierModel)
	setString("NEXUS_SYSTEM_PROMPT", &cfg.Chat.SystemPrompt)
	setBool("NEXUS_DUAL_VERIFICATION", &cfg.Chat.DualVerification)

	setString("NEXUS_BASE_URL", &cfg.Cloud.BaseURL)
	setString("NEXUS_REFERER", &cfg.Cloud.Referer)
	setString("NEXUS_TITLE", &cfg.Cloud.Title)
	setInt("NEXUS_TIMEOUT_SECS", &cfg.Cloud.TimeoutSecs)

	setString("NEXUS_SERVER_ADDR", &cfg.Server.Addr)
	setString("NEXUS_DB_PATH", &cfg.Database.Path)
	setInt("NEXUS_SESSION_TIMEOUT_SECS", &cfg.Auth.SessionTimeoutSecs)
}

// Save writes the configuration to path atomically.
func Save(cfg Config, path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks field values and returns the first problem found.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Chat.PrimaryModel) == "" {
		return ValidationError{Field: "chat.primary_model", Message: "must not be empty"}
	}
	if strings.TrimSpace(c.Chat.VerifierModel) == "" {
		return ValidationError{Field: "chat.verifier_model", Message: "must not be empty"}
	}
	if !strings.HasPrefix(c.Cloud.BaseURL, "http://") && !strings.HasPrefix(c.Cloud.BaseURL, "https://") {
		return ValidationError{Field: "cloud.base_url", Message: "must be an http(s) URL"}
	}
	if c.Cloud.TimeoutSecs <= 0 {
		return ValidationError{Field: "cloud.timeout_secs", Message: "must be positive"}
	}
	if c.Cloud.MaxRetries < 1 {
		return ValidationError{Field: "cloud.max_retries", Message: "must be at least 1"}
	}
	if c.Server.Addr == "" {
		return ValidationError{Field: "server.addr", Message: "must not be empty"}
	}
	if c.Auth.SessionTimeoutSecs < 60 {
		return ValidationError{Field: "auth.session_timeout_secs", Message: "must be at least 60"}
	}
	return nil
}

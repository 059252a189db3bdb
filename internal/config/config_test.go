// Copyright (c) 2025 Reflex AI Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/reflexai/nexus/internal/cloud"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Chat.PrimaryModel != cloud.DefaultPrimaryModel {
		t.Errorf("PrimaryModel = %q", cfg.Chat.PrimaryModel)
	}
	if cfg.Cloud.Title != "REFLEX AI Nexus" {
		t.Errorf("Title = %q", cfg.Cloud.Title)
	}
	if cfg.Server.Addr != "127.0.0.1:8787" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[chat]
primary_model = "openai/gpt-4o"
dual_verification = true

[cloud]
timeout_secs = 30

[auth]
session_timeout_secs = 1200
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Chat.PrimaryModel != "openai/gpt-4o" {
		t.Errorf("PrimaryModel = %q", cfg.Chat.PrimaryModel)
	}
	if !cfg.Chat.DualVerification {
		t.Error("DualVerification not loaded")
	}
	if cfg.Cloud.TimeoutSecs != 30 {
		t.Errorf("TimeoutSecs = %d", cfg.Cloud.TimeoutSecs)
	}
	// Unset fields keep their defaults.
	if cfg.Chat.VerifierModel != cloud.DefaultVerifierModel {
		t.Errorf("VerifierModel = %q", cfg.Chat.VerifierModel)
	}
	if cfg.Auth.SessionTimeoutSecs != 1200 {
		t.Errorf("SessionTimeoutSecs = %d", cfg.Auth.SessionTimeoutSecs)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NEXUS_PRIMARY_MODEL", "env/model")
	t.Setenv("NEXUS_TIMEOUT_SECS", "15")
	t.Setenv("NEXUS_DUAL_VERIFICATION", "true")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Chat.PrimaryModel != "env/model" {
		t.Errorf("PrimaryModel = %q", cfg.Chat.PrimaryModel)
	}
	if cfg.Cloud.TimeoutSecs != 15 {
		t.Errorf("TimeoutSecs = %d", cfg.Cloud.TimeoutSecs)
	}
	if !cfg.Chat.DualVerification {
		t.Error("DualVerification override ignored")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty primary model", func(c *Config) { c.Chat.PrimaryModel = " " }},
		{"bad base url", func(c *Config) { c.Cloud.BaseURL = "openrouter.ai" }},
		{"zero timeout", func(c *Config) { c.Cloud.TimeoutSecs = 0 }},
		{"empty server addr", func(c *Config) { c.Server.Addr = "" }},
		{"tiny session timeout", func(c *Config) { c.Auth.SessionTimeoutSecs = 5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted invalid config")
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := Default()
	cfg.Chat.SystemPrompt = "be terse"
	cfg.Chat.DualVerification = true

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Chat.SystemPrompt != "be terse" || !got.Chat.DualVerification {
		t.Errorf("round trip = %+v", got.Chat)
	}
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := Save(Default(), path); err != nil {
		t.Fatal(err)
	}

	changed := make(chan Config, 1)
	w, err := NewWatcher(path, func(cfg Config) {
		select {
		case changed <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Close()

	cfg := Default()
	cfg.Chat.PrimaryModel = "changed/model"
	if err := Save(cfg, path); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-changed:
		if got.Chat.PrimaryModel != "changed/model" {
			t.Errorf("reloaded PrimaryModel = %q", got.Chat.PrimaryModel)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never delivered the reload")
	}
}

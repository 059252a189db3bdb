// Copyright (c) 2025 Reflex AI Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for nexus.
//
// Configuration is TOML (~/.nexus/config.toml) with sensible defaults,
// NEXUS_* environment variable overrides, and validation. A file watcher
// can reload settings live for long-running surfaces.
package config

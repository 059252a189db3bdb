// Copyright (c) 2025 Reflex AI Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the line-mode chat REPL: liner input with
// persistent history, assistant output rendered as markdown, and slash
// commands for session control.
package cli

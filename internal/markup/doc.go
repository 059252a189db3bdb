// Copyright (c) 2025 Reflex AI Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package markup tokenizes raw message text into typed display segments.
//
// The tokenizer is a small explicit lexer with three ordered passes:
// fenced code extraction, bold splitting, and block-quote splitting.
// It is pure and stateless; callers re-run it whenever the text changes.
package markup

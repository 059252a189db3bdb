// Copyright (c) 2025 Reflex AI Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui implements the terminal chat surface as a Bubble Tea
// program: a viewport transcript over a textarea input, fed by the
// conversation store's subscription stream.
//
// Key bindings:
//
//	enter    submit the drafted message
//	ctrl+v   toggle dual verification
//	ctrl+l   clear the transcript
//	esc      quit
//	ctrl+c   quit
package ui

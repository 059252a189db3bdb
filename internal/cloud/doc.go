// Copyright (c) 2025 Reflex AI Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud implements the OpenRouter chat-completions client.
//
// OpenRouter fronts multiple LLM providers behind a single API. The client
// here is deliberately stateless with respect to the credential: the key is
// passed into each call rather than held in shared mutable state, so a
// credential change never races an in-flight request.
package cloud

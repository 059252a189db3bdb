// Copyright (c) 2025 Reflex AI Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat holds the conversation state and its transition store.
//
// The Store is the single source of truth for the visible transcript and
// the in-flight flags. Every mutation is a named, synchronous transition
// producing a fresh State value; observers subscribe for change
// notifications and never see a state mutated in place.
package chat

// Copyright (c) 2025 Reflex AI Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pipeline turns one user submission into conversation store
// transitions and at most two completion calls.
//
// The sequence for a submission is fixed: append the user message, append
// a pending assistant placeholder, run the primary completion over the
// prior transcript, optionally run a verification completion that may
// rewrite the answer, then resolve the placeholder in place. Failures are
// converted into store transitions at this boundary; nothing leaves a
// placeholder pending.
package pipeline

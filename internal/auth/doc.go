// Copyright (c) 2025 Reflex AI Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth authenticates admin users against the local account
// database and tracks their sessions.
//
// Passwords and access codes are stored as bcrypt hashes. Sessions are
// held in memory with an idle timeout; every authenticated request
// refreshes the session's activity clock. Users may optionally enroll
// a TOTP secret, in which case sign-in requires a valid code.
package auth

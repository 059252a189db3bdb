// Copyright (c) 2025 Reflex AI Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package admindb is the tabular backend store behind the admin surface.
//
// It holds user accounts and their roles, the per-call API usage log, site
// settings, and access codes in a local SQLite database. The chat pipeline
// writes usage records here; everything else is read and written by the
// admin endpoints.
package admindb

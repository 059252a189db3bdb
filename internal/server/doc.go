// Copyright (c) 2025 Reflex AI Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the chat pipeline and the admin store over a
// local JSON HTTP API.
//
// Endpoints:
//   - POST /v1/chat            - submit a user turn, returns the resolved turn
//   - GET  /v1/messages        - full transcript snapshot
//   - POST /v1/clear           - clear the transcript
//   - POST /v1/verify          - toggle dual verification
//   - GET  /health             - health check
//   - POST /auth/register      - create an account (access code gated)
//   - POST /auth/signin        - email/password (+ optional TOTP) sign-in
//   - POST /auth/signout       - revoke the session
//   - /admin/*                 - user, usage, and settings management,
//     admin session required
package server

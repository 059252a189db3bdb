// Copyright (c) 2025 Reflex AI Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package admindb

import (
	"context"

	"github.com/reflexai/nexus/internal/pipeline"
)

// Recorder persists pipeline usage records into the api_requests table.
// A zero user ID records the row as anonymous local usage.
type Recorder struct {
	db     *DB
	userID string
}

// NewRecorder returns a Recorder writing rows attributed to userID.
func NewRecorder(db *DB, userID string) *Recorder {
	return &Recorder{db: db, userID: userID}
}

// RecordRequest implements pipeline.UsageRecorder.
func (r *Recorder) RecordRequest(ctx context.Context, rec pipeline.UsageRecord) error {
	return r.db.InsertAPIRequest(ctx, APIRequest{
		UserID:           r.userID,
		Model:            rec.Model,
		Kind:             rec.Kind,
		Status:           rec.Status,
		PromptTokens:     rec.PromptTokens,
		CompletionTokens: rec.CompletionTokens,
		DurationMs:       rec.Duration.Milliseconds(),
	})
}

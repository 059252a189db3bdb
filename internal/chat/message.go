// Copyright (c) 2025 Reflex AI Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// CONTENT BLOCKS
// =============================================================================

// Block type tags on the wire.
const (
	BlockText     = "text"
	BlockImageURL = "image_url"
)

// ImageRef points at an image, either a remote URL or a data URI.
// The content is never validated here, only forwarded.
type ImageRef struct {
	URL string `json:"url"`
}

// ContentBlock is one unit of message content: a text block or an image
// reference. A message may mix any number of blocks in any order, and the
// order is meaningful (caption before image, for example).
type ContentBlock struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageRef `json:"image_url,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ImageBlock builds an image content block.
func ImageBlock(url string) ContentBlock {
	return ContentBlock{Type: BlockImageURL, ImageURL: &ImageRef{URL: url}}
}

// UnmarshalJSON validates the type tag so malformed blocks are rejected at
// the boundary instead of surfacing later as empty content.
func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	type raw ContentBlock
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	switch r.Type {
	case BlockText, BlockImageURL:
	default:
		return fmt.Errorf("unknown content block type %q", r.Type)
	}
	*b = ContentBlock(r)
	return nil
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single conversational turn.
//
// IsPending is true only while the assistant's answer for this turn is
// still being computed; an error message is never pending.
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   []ContentBlock `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
	IsPending bool           `json:"is_pending,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

// NewMessage creates a message with a fresh id and the current timestamp.
func NewMessage(role Role, content []ContentBlock) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewUserMessage creates a user message from content blocks.
func NewUserMessage(content []ContentBlock) Message {
	return NewMessage(RoleUser, content)
}

// NewPendingMessage creates the placeholder assistant message appended
// right after a user submission. It is resolved in place later, keeping
// the same id.
func NewPendingMessage(indicator string) Message {
	m := NewMessage(RoleAssistant, []ContentBlock{TextBlock(indicator)})
	m.IsPending = true
	return m
}

// PlainText returns the concatenation of the message's text blocks.
// Image blocks contribute nothing.
func (m Message) PlainText() string {
	var out string
	for _, b := range m.Content {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// cloneContent copies a block slice so state values never share backing
// arrays with caller-held slices.
func cloneContent(blocks []ContentBlock) []ContentBlock {
	if blocks == nil {
		return nil
	}
	out := make([]ContentBlock, len(blocks))
	copy(out, blocks)
	return out
}

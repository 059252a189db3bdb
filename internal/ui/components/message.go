// Copyright (c) 2025 Reflex AI Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/reflexai/nexus/internal/chat"
	"github.com/reflexai/nexus/internal/markup"
	"github.com/reflexai/nexus/internal/ui/styles"
)

// =============================================================================
// MESSAGE RENDERER
// =============================================================================

// RenderMessage renders one transcript message: a speaker label, then the
// body with bold and quote spans styled and code segments highlighted.
// width bounds wrapping; values below 20 are raised to 20.
func RenderMessage(msg chat.Message, width int) string {
	if width < 20 {
		width = 20
	}

	var b strings.Builder
	b.WriteString(labelFor(msg.Role))
	b.WriteString("\n")

	if msg.IsPending {
		b.WriteString(styles.Pending.Render(msg.PlainText()))
		return b.String()
	}

	for i, block := range msg.Content {
		if i > 0 {
			b.WriteString("\n")
		}
		switch block.Type {
		case chat.BlockImageURL:
			url := ""
			if block.ImageURL != nil {
				url = block.ImageURL.URL
			}
			b.WriteString(styles.ImageLabel.Render("[image] " + url))
		default:
			b.WriteString(renderText(block.Text, width, msg.IsError))
		}
	}
	return b.String()
}

func labelFor(role chat.Role) string {
	switch role {
	case chat.RoleUser:
		return styles.UserLabel.Render(role.DisplayName())
	case chat.RoleAssistant:
		return styles.AssistantLabel.Render(role.DisplayName())
	default:
		return styles.SystemLabel.Render(role.DisplayName())
	}
}

// renderText tokenizes a text block and styles each segment.
func renderText(text string, width int, isError bool) string {
	if isError {
		return styles.ErrorText.Render(text)
	}

	var b strings.Builder
	for _, seg := range markup.Tokenize(text) {
		switch seg.Kind {
		case markup.SegmentCode:
			cb := NewCodeBlock(seg)
			cb.SetMaxWidth(width)
			b.WriteString("\n" + cb.Render() + "\n")
		default:
			b.WriteString(renderSpans(seg.Spans, width))
		}
	}
	return b.String()
}

func renderSpans(spans []markup.Span, width int) string {
	var b strings.Builder
	for _, span := range spans {
		switch span.Kind {
		case markup.SpanBold:
			b.WriteString(styles.BoldSpan.Render(span.Text))
		case markup.SpanQuote:
			b.WriteString(styles.QuoteSpan.Render(span.Text))
		default:
			b.WriteString(styles.Body.Render(Wrap(span.Text, width)))
		}
	}
	return b.String()
}

// =============================================================================
// WRAPPING
// =============================================================================

// Wrap word-wraps text to the given display width, measuring with
// runewidth so wide characters count double. Existing newlines are kept.
func Wrap(text string, width int) string {
	if width <= 0 {
		return text
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		out = append(out, wrapLine(line, width))
	}
	return strings.Join(out, "\n")
}

func wrapLine(line string, width int) string {
	words := strings.Fields(line)
	if len(words) == 0 {
		return line
	}

	var b strings.Builder
	current := words[0]
	currentWidth := runewidth.StringWidth(current)
	for _, word := range words[1:] {
		w := runewidth.StringWidth(word)
		if currentWidth+1+w > width {
			b.WriteString(current)
			b.WriteString("\n")
			current = word
			currentWidth = w
			continue
		}
		current += " " + word
		currentWidth += 1 + w
	}
	b.WriteString(current)
	return b.String()
}

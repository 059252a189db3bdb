// Copyright (c) 2025 Reflex AI Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package markup

import "strings"

// =============================================================================
// SEGMENT TYPES
// =============================================================================

// SegmentKind identifies what a segment contains.
type SegmentKind string

const (
	// SegmentText is a run of prose, further divided into Spans.
	SegmentText SegmentKind = "text"

	// SegmentCode is a fenced code block with a language tag.
	SegmentCode SegmentKind = "code"
)

// SpanKind identifies inline formatting inside a text segment.
type SpanKind string

const (
	SpanPlain SpanKind = "plain"
	SpanBold  SpanKind = "bold"
	SpanQuote SpanKind = "quote"
)

// Span is one inline-formatted run inside a text segment.
type Span struct {
	Kind SpanKind
	Text string
}

// Segment is one typed display unit of a message body.
//
// For SegmentCode, Language and Code are set and Spans is nil.
// For SegmentText, Spans holds the inline runs in source order.
type Segment struct {
	Kind     SegmentKind
	Language string // code segments only; "text" when the fence had no tag
	Code     string // raw code, fences stripped
	Spans    []Span // text segments only
}

// =============================================================================
// FENCE EXTRACTION
// =============================================================================

const fenceMarker = "```"

// DefaultLanguage is the language tag used when a fence declares none.
const DefaultLanguage = "text"

// Tokenize splits a raw message body into code and text segments.
//
// The scan is a single left-to-right pass: the first opening fence pairs
// with the next closing fence, pairs never nest or overlap. An opening
// fence is the marker followed by an optional word-character language tag
// and a newline. A fence with no matching close is not a code region; the
// remainder, marker included, stays plain text.
//
// Empty input yields no segments.
func Tokenize(input string) []Segment {
	var segments []Segment

	textStart := 0
	pos := 0
	for {
		rel := strings.Index(input[pos:], fenceMarker)
		if rel < 0 {
			break
		}
		open := pos + rel

		// Opening fences are the marker, an optional \w+ tag, and a
		// newline. Anything else (backticks mid-sentence, a tag with
		// spaces) is prose.
		tagStart := open + len(fenceMarker)
		tagEnd := tagStart
		for tagEnd < len(input) && isTagChar(input[tagEnd]) {
			tagEnd++
		}
		if tagEnd >= len(input) || input[tagEnd] != '\n' {
			pos = tagStart
			continue
		}

		bodyStart := tagEnd + 1
		closeRel := strings.Index(input[bodyStart:], fenceMarker)
		if closeRel < 0 {
			// Unterminated fence: the rest of the input, marker and all,
			// renders as plain text.
			break
		}

		if open > textStart {
			segments = append(segments, textSegment(input[textStart:open]))
		}

		language := input[tagStart:tagEnd]
		if language == "" {
			language = DefaultLanguage
		}
		segments = append(segments, Segment{
			Kind:     SegmentCode,
			Language: language,
			Code:     input[bodyStart : bodyStart+closeRel],
		})

		pos = bodyStart + closeRel + len(fenceMarker)
		textStart = pos
	}

	if textStart < len(input) {
		segments = append(segments, textSegment(input[textStart:]))
	}

	return segments
}

func isTagChar(c byte) bool {
	return c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' ||
		c == '_'
}

// =============================================================================
// INLINE SPANS
// =============================================================================

const boldMarker = "**"

// textSegment builds a text segment by applying the inline passes in their
// fixed order: bold first, then block quotes inside the plain remainder.
// A bold span is therefore never re-scanned for quote lines.
func textSegment(text string) Segment {
	var spans []Span

	plainStart := 0
	pos := 0
	runAtLineStart := true
	for {
		rel := strings.Index(text[pos:], boldMarker)
		if rel < 0 {
			break
		}
		open := pos + rel

		contentStart := open + len(boldMarker)
		closeRel := indexBeforeNewline(text[contentStart:], boldMarker)
		if closeRel < 0 {
			// Unpaired marker stays plain text.
			pos = contentStart
			continue
		}

		if open > plainStart {
			spans = appendPlainSpans(spans, text[plainStart:open], runAtLineStart)
		}

		// An empty pair yields an empty bold span, not an error.
		spans = append(spans, Span{Kind: SpanBold, Text: text[contentStart : contentStart+closeRel]})

		pos = contentStart + closeRel + len(boldMarker)
		plainStart = pos
		// The run after a bold span resumes mid-line.
		runAtLineStart = false
	}

	if plainStart < len(text) {
		spans = appendPlainSpans(spans, text[plainStart:], runAtLineStart)
	}

	return Segment{Kind: SegmentText, Spans: spans}
}

// indexBeforeNewline returns the index of sep in s, or -1 when sep is absent
// or a newline occurs first. Bold spans never cross line boundaries.
func indexBeforeNewline(s, sep string) int {
	idx := strings.Index(s, sep)
	if idx < 0 {
		return -1
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && nl < idx {
		return -1
	}
	return idx
}

const quoteMarker = "> "

// appendPlainSpans splits a plain run into quote and plain spans.
//
// A quote line starts with "> " at the beginning of a line and runs to the
// end of the line; its trailing newline is consumed with the quote.
// atLineStart tells whether the run itself begins on a fresh line (a
// preceding bold span may have left it mid-line).
func appendPlainSpans(spans []Span, text string, atLineStart bool) []Span {
	plainStart := 0
	pos := 0
	lineStart := atLineStart
	for pos < len(text) {
		if lineStart && strings.HasPrefix(text[pos:], quoteMarker) {
			if pos > plainStart {
				spans = append(spans, Span{Kind: SpanPlain, Text: text[plainStart:pos]})
			}
			nl := strings.IndexByte(text[pos:], '\n')
			if nl < 0 {
				return append(spans, Span{Kind: SpanQuote, Text: text[pos+len(quoteMarker):]})
			}
			spans = append(spans, Span{Kind: SpanQuote, Text: text[pos+len(quoteMarker) : pos+nl]})
			pos += nl + 1
			plainStart = pos
			continue
		}

		nl := strings.IndexByte(text[pos:], '\n')
		if nl < 0 {
			break
		}
		pos += nl + 1
		lineStart = true
	}

	if plainStart < len(text) {
		spans = append(spans, Span{Kind: SpanPlain, Text: text[plainStart:]})
	}

	return spans
}

// PlainText returns the concatenated visible text of a segment's spans.
// Code segments return their raw code.
func (s Segment) PlainText() string {
	if s.Kind == SegmentCode {
		return s.Code
	}
	var b strings.Builder
	for _, sp := range s.Spans {
		b.WriteString(sp.Text)
	}
	return b.String()
}

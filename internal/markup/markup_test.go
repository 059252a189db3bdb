// Copyright (c) 2025 Reflex AI Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package markup

import (
	"reflect"
	"testing"
)

func TestTokenizeEmptyInput(t *testing.T) {
	if segs := Tokenize(""); len(segs) != 0 {
		t.Errorf("Tokenize(%q) = %v, want no segments", "", segs)
	}
}

// TestTokenizePlainRoundTrip verifies that input with no markers comes back
// as a single text segment whose concatenated content equals the input.
func TestTokenizePlainRoundTrip(t *testing.T) {
	inputs := []string{
		"hello",
		"hello world\nsecond line\n",
		"math: 2 * 3 > 5 is true",
		"a single backtick ` and a double `` survive",
		"trailing spaces  \nand > not a quote mid-line",
	}

	for _, input := range inputs {
		segs := Tokenize(input)
		if len(segs) != 1 {
			t.Errorf("Tokenize(%q) produced %d segments, want 1", input, len(segs))
			continue
		}
		if segs[0].Kind != SegmentText {
			t.Errorf("Tokenize(%q) kind = %v, want text", input, segs[0].Kind)
		}
		if got := segs[0].PlainText(); got != input {
			t.Errorf("Tokenize(%q) round-trip = %q", input, got)
		}
		for _, sp := range segs[0].Spans {
			if sp.Kind != SpanPlain {
				t.Errorf("Tokenize(%q) span kind = %v, want plain", input, sp.Kind)
			}
		}
	}
}

func TestTokenizeFencePairing(t *testing.T) {
	segs := Tokenize("a```js\ncode\n```b")

	want := []Segment{
		{Kind: SegmentText, Spans: []Span{{Kind: SpanPlain, Text: "a"}}},
		{Kind: SegmentCode, Language: "js", Code: "code\n"},
		{Kind: SegmentText, Spans: []Span{{Kind: SpanPlain, Text: "b"}}},
	}
	if !reflect.DeepEqual(segs, want) {
		t.Errorf("Tokenize fence pairing:\n got %#v\nwant %#v", segs, want)
	}
}

func TestTokenizeFenceLanguageDefault(t *testing.T) {
	segs := Tokenize("```\nraw\n```")
	if len(segs) != 1 || segs[0].Kind != SegmentCode {
		t.Fatalf("Tokenize = %#v, want one code segment", segs)
	}
	if segs[0].Language != DefaultLanguage {
		t.Errorf("Language = %q, want %q", segs[0].Language, DefaultLanguage)
	}
	if segs[0].Code != "raw\n" {
		t.Errorf("Code = %q, want %q", segs[0].Code, "raw\n")
	}
}

// TestTokenizeUnterminatedFence verifies an unclosed fence renders as plain
// text, marker included, with no code segment produced.
func TestTokenizeUnterminatedFence(t *testing.T) {
	inputs := []string{
		"before ```go\nfunc main() {}",
		"```\nno close",
		"```",
	}

	for _, input := range inputs {
		segs := Tokenize(input)
		if len(segs) != 1 {
			t.Errorf("Tokenize(%q) produced %d segments, want 1", input, len(segs))
			continue
		}
		if segs[0].Kind != SegmentText {
			t.Errorf("Tokenize(%q) produced a code segment from an unterminated fence", input)
		}
		if got := segs[0].PlainText(); got != input {
			t.Errorf("Tokenize(%q) round-trip = %q", input, got)
		}
	}
}

func TestTokenizeMultipleFences(t *testing.T) {
	segs := Tokenize("one\n```py\nx = 1\n```\ntwo\n```\ny\n```")
	var kinds []SegmentKind
	for _, s := range segs {
		kinds = append(kinds, s.Kind)
	}
	want := []SegmentKind{SegmentText, SegmentCode, SegmentText, SegmentCode}
	if !reflect.DeepEqual(kinds, want) {
		t.Fatalf("segment kinds = %v, want %v", kinds, want)
	}
	if segs[1].Language != "py" || segs[1].Code != "x = 1\n" {
		t.Errorf("first code segment = %+v", segs[1])
	}
	if segs[3].Code != "y\n" {
		t.Errorf("second code segment = %+v", segs[3])
	}
}

func TestBoldSpans(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Span
	}{
		{
			name:  "single bold",
			input: "say **hi** now",
			want: []Span{
				{Kind: SpanPlain, Text: "say "},
				{Kind: SpanBold, Text: "hi"},
				{Kind: SpanPlain, Text: " now"},
			},
		},
		{
			name:  "empty bold pair",
			input: "a****b",
			want: []Span{
				{Kind: SpanPlain, Text: "a"},
				{Kind: SpanBold, Text: ""},
				{Kind: SpanPlain, Text: "b"},
			},
		},
		{
			name:  "unpaired marker stays plain",
			input: "2 ** 8 is 256",
			want:  []Span{{Kind: SpanPlain, Text: "2 ** 8 is 256"}},
		},
		{
			name:  "bold does not cross lines",
			input: "**a\nb**",
			want:  []Span{{Kind: SpanPlain, Text: "**a\nb**"}},
		},
		{
			name:  "non-greedy pairing",
			input: "**a** and **b**",
			want: []Span{
				{Kind: SpanBold, Text: "a"},
				{Kind: SpanPlain, Text: " and "},
				{Kind: SpanBold, Text: "b"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segs := Tokenize(tt.input)
			if len(segs) != 1 {
				t.Fatalf("Tokenize(%q) produced %d segments, want 1", tt.input, len(segs))
			}
			if !reflect.DeepEqual(segs[0].Spans, tt.want) {
				t.Errorf("spans:\n got %#v\nwant %#v", segs[0].Spans, tt.want)
			}
		})
	}
}

func TestQuoteSpans(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Span
	}{
		{
			name:  "quote line",
			input: "before\n> wisdom\nafter",
			want: []Span{
				{Kind: SpanPlain, Text: "before\n"},
				{Kind: SpanQuote, Text: "wisdom"},
				{Kind: SpanPlain, Text: "after"},
			},
		},
		{
			name:  "quote at start of input",
			input: "> first\nrest",
			want: []Span{
				{Kind: SpanQuote, Text: "first"},
				{Kind: SpanPlain, Text: "rest"},
			},
		},
		{
			name:  "quote runs to end of input",
			input: "> unterminated line",
			want:  []Span{{Kind: SpanQuote, Text: "unterminated line"}},
		},
		{
			name:  "marker mid-line is not a quote",
			input: "a > b",
			want:  []Span{{Kind: SpanPlain, Text: "a > b"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segs := Tokenize(tt.input)
			if len(segs) != 1 {
				t.Fatalf("Tokenize(%q) produced %d segments, want 1", tt.input, len(segs))
			}
			if !reflect.DeepEqual(segs[0].Spans, tt.want) {
				t.Errorf("spans:\n got %#v\nwant %#v", segs[0].Spans, tt.want)
			}
		})
	}
}

// TestBoldBeforeQuotePrecedence verifies the fixed pass order: a quote
// marker inside a bold span is never treated as a quote, and the text after
// a bold span on the same line is not at line start.
func TestBoldBeforeQuotePrecedence(t *testing.T) {
	segs := Tokenize("**> not a quote**")
	want := []Span{{Kind: SpanBold, Text: "> not a quote"}}
	if len(segs) != 1 || !reflect.DeepEqual(segs[0].Spans, want) {
		t.Errorf("spans = %#v, want %#v", segs, want)
	}

	segs = Tokenize("**b**> still mid-line")
	want = []Span{
		{Kind: SpanBold, Text: "b"},
		{Kind: SpanPlain, Text: "> still mid-line"},
	}
	if len(segs) != 1 || !reflect.DeepEqual(segs[0].Spans, want) {
		t.Errorf("spans = %#v, want %#v", segs, want)
	}
}

func TestQuoteAfterBoldOnNewLine(t *testing.T) {
	segs := Tokenize("**b**\n> quoted")
	want := []Span{
		{Kind: SpanBold, Text: "b"},
		{Kind: SpanPlain, Text: "\n"},
		{Kind: SpanQuote, Text: "quoted"},
	}
	if len(segs) != 1 || !reflect.DeepEqual(segs[0].Spans, want) {
		t.Errorf("spans = %#v, want %#v", segs, want)
	}
}

// Copyright (c) 2025 Reflex AI Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles provides the visual styling system for the nexus TUI.
// All colors use Lip Gloss AdaptiveColor for automatic light/dark detection.
package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// =============================================================================
// ACCENT COLORS
// =============================================================================

// Purple - assistant messages, primary accent
var Purple = lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"}

// Cyan - user highlights, commands
var Cyan = lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"}

// Emerald - success states, verification badge
var Emerald = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"}

// Rose - errors
var Rose = lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"}

// Amber - warnings, pending states
var Amber = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}

// =============================================================================
// SURFACE AND TEXT COLORS
// =============================================================================

// SurfaceDim - code block and input backgrounds
var SurfaceDim = lipgloss.AdaptiveColor{Light: "#F5F5F5", Dark: "#181825"}

// Overlay - borders and separators
var Overlay = lipgloss.AdaptiveColor{Light: "#E5E5E5", Dark: "#313244"}

// OverlayDim - less prominent overlays
var OverlayDim = lipgloss.AdaptiveColor{Light: "#D4D4D4", Dark: "#45475A"}

// TextPrimary - main body text
var TextPrimary = lipgloss.AdaptiveColor{Light: "#1F2937", Dark: "#CDD6F4"}

// TextMuted - hints, timestamps, indicators
var TextMuted = lipgloss.AdaptiveColor{Light: "#9CA3AF", Dark: "#6C7086"}

// =============================================================================
// MESSAGE STYLES
// =============================================================================

// UserLabel styles the "You" speaker label.
var UserLabel = lipgloss.NewStyle().Foreground(Cyan).Bold(true)

// AssistantLabel styles the "AI Assistant" speaker label.
var AssistantLabel = lipgloss.NewStyle().Foreground(Purple).Bold(true)

// SystemLabel styles the "System" speaker label.
var SystemLabel = lipgloss.NewStyle().Foreground(Amber).Bold(true)

// Body styles ordinary message text.
var Body = lipgloss.NewStyle().Foreground(TextPrimary)

// BoldSpan styles **bold** spans inside a message.
var BoldSpan = lipgloss.NewStyle().Foreground(TextPrimary).Bold(true)

// QuoteSpan styles "> " quote lines inside a message.
var QuoteSpan = lipgloss.NewStyle().
	Foreground(TextMuted).
	Italic(true).
	BorderStyle(lipgloss.ThickBorder()).
	BorderLeft(true).
	BorderForeground(Overlay).
	PaddingLeft(1)

// Pending styles the thinking/verifying indicator line.
var Pending = lipgloss.NewStyle().Foreground(TextMuted).Italic(true)

// ErrorText styles error bodies and the status-line error slot.
var ErrorText = lipgloss.NewStyle().Foreground(Rose).Bold(true)

// VerifyBadge marks the status line while dual verification is on.
var VerifyBadge = lipgloss.NewStyle().Foreground(Emerald).Bold(true)

// StatusLine styles the footer hint row.
var StatusLine = lipgloss.NewStyle().Foreground(TextMuted)

// ImageLabel styles the placeholder line for image blocks.
var ImageLabel = lipgloss.NewStyle().Foreground(Cyan).Underline(true)

// =============================================================================
// TERMINAL PROFILE
// =============================================================================

// ColorProfile reports the detected terminal color capability.
func ColorProfile() termenv.Profile {
	return termenv.ColorProfile()
}

// HasDarkBackground reports whether the terminal background is dark.
func HasDarkBackground() bool {
	return termenv.HasDarkBackground()
}

// Copyright (c) 2025 Reflex AI Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	glamourstyles "github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"

	"github.com/reflexai/nexus/internal/chat"
	"github.com/reflexai/nexus/internal/config"
	"github.com/reflexai/nexus/internal/pipeline"
	"github.com/reflexai/nexus/internal/ui/styles"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	promptStyle  = lipgloss.NewStyle().Foreground(styles.Cyan).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(styles.TextMuted)
	errorStyle   = lipgloss.NewStyle().Foreground(styles.Rose).Bold(true)
	speakerStyle = lipgloss.NewStyle().Foreground(styles.Purple).Bold(true)
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// historyFileName sits next to the config file.
const historyFileName = "chat_history"

// input wraps liner with persistent history.
type input struct {
	line        *liner.State
	historyFile string
}

func newInput() *input {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	in := &input{line: line, historyFile: filepath.Join(dir, historyFileName)}
	if f, err := os.Open(in.historyFile); err == nil {
		in.line.ReadHistory(f)
		f.Close()
	}
	return in
}

func (in *input) read(prompt string) (string, error) {
	text, err := in.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) != "" {
		in.line.AppendHistory(text)
	}
	return text, nil
}

func (in *input) close() {
	if f, err := os.OpenFile(in.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
		in.line.WriteHistory(f)
		f.Close()
	}
	in.line.Close()
}

// =============================================================================
// REPL
// =============================================================================

// REPL is the plain line-mode chat loop.
type REPL struct {
	store *chat.Store
	pipe  *pipeline.Pipeline
	out   io.Writer

	markdown *glamour.TermRenderer
}

// NewREPL builds a REPL writing to out.
func NewREPL(store *chat.Store, pipe *pipeline.Pipeline, out io.Writer) *REPL {
	style := glamourstyles.LightStyle
	if styles.HasDarkBackground() {
		style = glamourstyles.DarkStyle
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		renderer = nil
	}
	return &REPL{store: store, pipe: pipe, out: out, markdown: renderer}
}

// Run reads turns until /quit, EOF, or ctrl+c at the prompt.
func (r *REPL) Run(ctx context.Context) error {
	in := newInput()
	defer in.close()

	fmt.Fprintln(r.out, speakerStyle.Render("REFLEX AI Nexus"))
	fmt.Fprintln(r.out, infoStyle.Render("/clear  /verify  /key <value>  /quit"))
	fmt.Fprintln(r.out)

	for {
		text, err := in.read(promptStyle.Render("you> "))
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Fprintln(r.out, infoStyle.Render("bye"))
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, "/") {
			if quit := r.command(text); quit {
				return nil
			}
			continue
		}

		r.submit(ctx, text)
	}
}

// command dispatches a slash command; returns true to quit.
func (r *REPL) command(text string) bool {
	cmd, rest, _ := strings.Cut(text, " ")
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/clear":
		r.store.ClearMessages()
		fmt.Fprintln(r.out, infoStyle.Render("transcript cleared"))
	case "/verify":
		r.store.ToggleDualVerification()
		if r.store.State().DualVerification {
			fmt.Fprintln(r.out, infoStyle.Render("dual verification on"))
		} else {
			fmt.Fprintln(r.out, infoStyle.Render("dual verification off"))
		}
	case "/key":
		value := strings.TrimSpace(rest)
		if value == "" {
			fmt.Fprintln(r.out, errorStyle.Render("usage: /key <value>"))
			break
		}
		r.store.SetCredential(value)
		fmt.Fprintln(r.out, infoStyle.Render("credential updated"))
	default:
		fmt.Fprintln(r.out, errorStyle.Render("unknown command "+cmd))
	}
	return false
}

// submit runs one turn and prints the resolved assistant message.
func (r *REPL) submit(ctx context.Context, text string) {
	err := r.pipe.Submit(ctx, []chat.ContentBlock{chat.TextBlock(text)})
	if errors.Is(err, pipeline.ErrMissingCredential) {
		fmt.Fprintln(r.out, errorStyle.Render(pipeline.MissingCredentialMessage))
		return
	}

	state := r.store.State()
	if len(state.Messages) == 0 {
		return
	}
	last := state.Messages[len(state.Messages)-1]
	if last.Role != chat.RoleAssistant {
		return
	}

	fmt.Fprintln(r.out, speakerStyle.Render(last.Role.DisplayName()))
	if last.IsError {
		fmt.Fprintln(r.out, errorStyle.Render(last.PlainText()))
		if state.Err != "" {
			fmt.Fprintln(r.out, infoStyle.Render(state.Err))
		}
		return
	}
	fmt.Fprintln(r.out, r.renderMarkdown(last.PlainText()))
}

func (r *REPL) renderMarkdown(text string) string {
	if r.markdown == nil {
		return text
	}
	rendered, err := r.markdown.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(rendered, "\n")
}

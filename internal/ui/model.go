// Copyright (c) 2025 Reflex AI Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/reflexai/nexus/internal/chat"
	"github.com/reflexai/nexus/internal/pipeline"
	"github.com/reflexai/nexus/internal/ui/components"
	"github.com/reflexai/nexus/internal/ui/styles"
)

// =============================================================================
// MESSAGES
// =============================================================================

// stateMsg carries a store snapshot pushed by the subscription.
type stateMsg chat.State

// submitDoneMsg reports a finished submission. The pipeline has already
// written the outcome into the store; err here only covers rejections.
type submitDoneMsg struct{ err error }

// =============================================================================
// MODEL
// =============================================================================

// Model is the Bubble Tea model for the chat surface.
type Model struct {
	store *chat.Store
	pipe  *pipeline.Pipeline

	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model

	states      chan chat.State
	unsubscribe func()

	state  chat.State
	width  int
	height int
	ready  bool
	notice string
}

// New builds the chat model over a store and pipeline.
func New(store *chat.Store, pipe *pipeline.Pipeline) *Model {
	ta := textarea.New()
	ta.Placeholder = "Type your message..."
	ta.Prompt = "| "
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(styles.Purple)

	m := &Model{
		store:    store,
		pipe:     pipe,
		textarea: ta,
		spinner:  sp,
		states:   make(chan chat.State, 16),
		state:    store.State(),
	}
	m.unsubscribe = store.Subscribe(func(st chat.State) {
		select {
		case m.states <- st:
		default:
			// A stale snapshot is fine; the next push catches up.
		}
	})
	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick, m.waitForState())
}

// waitForState blocks on the subscription channel.
func (m *Model) waitForState() tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-m.states)
	}
}

// submit runs the pipeline off the UI goroutine.
func (m *Model) submit(text string) tea.Cmd {
	return func() tea.Msg {
		err := m.pipe.Submit(context.Background(), []chat.ContentBlock{chat.TextBlock(text)})
		return submitDoneMsg{err: err}
	}
}

// Close tears down the store subscription.
func (m *Model) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

// =============================================================================
// UPDATE
// =============================================================================

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		headerHeight := 2
		footerHeight := m.textarea.Height() + 2
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight - footerHeight
		}
		m.textarea.SetWidth(msg.Width - 2)
		m.refreshTranscript()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.Close()
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.textarea.Value())
			if text == "" {
				break
			}
			m.textarea.Reset()
			m.notice = ""
			return m, tea.Batch(m.submit(text), m.spinner.Tick)
		case tea.KeyCtrlV:
			m.store.ToggleDualVerification()
		case tea.KeyCtrlL:
			m.store.ClearMessages()
		}

	case stateMsg:
		m.state = chat.State(msg)
		m.refreshTranscript()
		cmds = append(cmds, m.waitForState())

	case submitDoneMsg:
		if msg.err != nil {
			m.notice = msg.err.Error()
		}
		// The channel drops snapshots under backpressure; the turn is
		// over, so re-read the store to guarantee the final state shows.
		m.state = m.store.State()
		m.refreshTranscript()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.state.IsLoading {
			cmds = append(cmds, cmd)
		}
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// refreshTranscript rerenders all messages into the viewport and follows
// the tail.
func (m *Model) refreshTranscript() {
	if !m.ready {
		return
	}
	width := m.viewport.Width
	parts := make([]string, 0, len(m.state.Messages))
	for _, msg := range m.state.Messages {
		parts = append(parts, components.RenderMessage(msg, width))
	}
	m.viewport.SetContent(strings.Join(parts, "\n\n"))
	m.viewport.GotoBottom()
}

// =============================================================================
// VIEW
// =============================================================================

// View implements tea.Model.
func (m *Model) View() string {
	if !m.ready {
		return "Starting..."
	}

	header := styles.AssistantLabel.Render("REFLEX AI Nexus")
	if m.state.DualVerification {
		header += "  " + styles.VerifyBadge.Render("[verify]")
	}

	status := m.statusLine()

	return header + "\n\n" +
		m.viewport.View() + "\n" +
		status + "\n" +
		m.textarea.View()
}

func (m *Model) statusLine() string {
	switch {
	case m.state.IsLoading:
		return m.spinner.View() + styles.StatusLine.Render(" working...")
	case m.notice != "":
		return styles.ErrorText.Render(m.notice)
	case m.state.Err != "":
		return styles.ErrorText.Render(m.state.Err)
	default:
		return styles.StatusLine.Render("enter send | ctrl+v verify | ctrl+l clear | esc quit")
	}
}

// Run starts the program on the alternate screen and blocks until exit.
func Run(store *chat.Store, pipe *pipeline.Pipeline) error {
	m := New(store, pipe)
	defer m.Close()
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Copyright (c) 2025 Reflex AI Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import "sync"

// =============================================================================
// STATE
// =============================================================================

// State is the aggregate conversation state. Messages are in insertion
// order, which is also display order; they are never reordered.
//
// State values handed to observers are snapshots: transitions build a new
// message slice instead of mutating the previous one, so a held State is
// safe to read without locking.
type State struct {
	Messages []Message

	// IsLoading is true while any pipeline call is outstanding.
	IsLoading bool

	// Err is the last error message, or "" when there is none. It is a
	// last-value-wins slot, not a queue.
	Err string

	// Credential is the opaque API credential, "" when absent.
	Credential string

	// DualVerification enables the second, verifying completion call.
	DualVerification bool
}

// HasCredential reports whether an API credential is set.
func (s State) HasCredential() bool {
	return s.Credential != ""
}

// MessageByID returns the message with the given id, if present.
func (s State) MessageByID(id string) (Message, bool) {
	for _, m := range s.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// =============================================================================
// MESSAGE UPDATE
// =============================================================================

// Update carries the fields merged into a message by UpdateMessage.
// Nil fields are left untouched.
type Update struct {
	Content   []ContentBlock
	IsPending *bool
	IsError   *bool
}

// Flag is a convenience for Update's optional booleans.
func Flag(v bool) *bool {
	return &v
}

func (u Update) apply(m Message) Message {
	if u.Content != nil {
		m.Content = cloneContent(u.Content)
	}
	if u.IsPending != nil {
		m.IsPending = *u.IsPending
	}
	if u.IsError != nil {
		m.IsError = *u.IsError
	}
	return m
}

// =============================================================================
// STORE
// =============================================================================

// Store owns the conversation State and exposes its named transitions.
// Transitions are synchronous, total, and free of I/O; the only side
// channel is subscriber notification, which runs outside the lock.
type Store struct {
	mu      sync.Mutex
	state   State
	subs    map[int]func(State)
	nextSub int

	// onCredential, when set, is invoked after SetCredential with the new
	// value. It runs outside the lock so implementations may do I/O.
	onCredential func(string)
}

// NewStore creates an empty conversation store.
func NewStore() *Store {
	return &Store{subs: make(map[int]func(State))}
}

// NewStoreWithCredential creates a store seeded with a credential read
// from client-local storage, persisting later changes through save.
func NewStoreWithCredential(credential string, save func(string)) *Store {
	s := NewStore()
	s.state.Credential = credential
	s.onCredential = save
	return s
}

// State returns a snapshot of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn to be called with a state snapshot after every
// transition. The returned function cancels the subscription.
func (s *Store) Subscribe(fn func(State)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// transition installs the state produced by fn and notifies subscribers.
func (s *Store) transition(fn func(State) State) State {
	s.mu.Lock()
	s.state = fn(s.state)
	next := s.state
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
	return next
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// AddMessage appends a message to the end of the log. Callers guarantee id
// uniqueness; no deduplication is performed.
func (s *Store) AddMessage(m Message) {
	m.Content = cloneContent(m.Content)
	s.transition(func(st State) State {
		msgs := make([]Message, len(st.Messages)+1)
		copy(msgs, st.Messages)
		msgs[len(st.Messages)] = m
		st.Messages = msgs
		return st
	})
}

// UpdateMessage merges the update into the message with the given id,
// leaving every other message untouched. Unknown ids are a no-op.
func (s *Store) UpdateMessage(id string, u Update) {
	s.transition(func(st State) State {
		for i, m := range st.Messages {
			if m.ID != id {
				continue
			}
			msgs := make([]Message, len(st.Messages))
			copy(msgs, st.Messages)
			msgs[i] = u.apply(m)
			st.Messages = msgs
			return st
		}
		return st
	})
}

// SetLoading sets the loading flag.
func (s *Store) SetLoading(loading bool) {
	s.transition(func(st State) State {
		st.IsLoading = loading
		return st
	})
}

// SetError sets the last-error slot. An empty string clears it.
func (s *Store) SetError(msg string) {
	s.transition(func(st State) State {
		st.Err = msg
		return st
	})
}

// ClearMessages empties the log. Flags and credential are untouched.
func (s *Store) ClearMessages() {
	s.transition(func(st State) State {
		st.Messages = nil
		return st
	})
}

// ToggleDualVerification flips the verification toggle and returns the new
// value.
func (s *Store) ToggleDualVerification() bool {
	return s.transition(func(st State) State {
		st.DualVerification = !st.DualVerification
		return st
	}).DualVerification
}

// SetDualVerification sets the verification toggle directly (used when the
// configured default is applied at startup).
func (s *Store) SetDualVerification(on bool) {
	s.transition(func(st State) State {
		st.DualVerification = on
		return st
	})
}

// SetCredential sets the API credential and persists it through the
// configured saver, if any.
func (s *Store) SetCredential(credential string) {
	s.transition(func(st State) State {
		st.Credential = credential
		return st
	})
	if s.onCredential != nil {
		s.onCredential(credential)
	}
}

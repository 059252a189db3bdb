// Copyright (c) 2025 Reflex AI Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/reflexai/nexus/internal/chat"
	"github.com/reflexai/nexus/internal/cloud"
)

// fakeUpstream is a scriptable stand-in for the completions endpoint. It
// answers by model so primary and verification calls can be told apart.
type fakeUpstream struct {
	mu       sync.Mutex
	answers  map[string]string // model -> answer
	failWith map[string]int    // model -> HTTP status
	requests []cloud.ChatRequest
}

func (f *fakeUpstream) handler(w http.ResponseWriter, r *http.Request) {
	var req cloud.ChatRequest
	json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	f.requests = append(f.requests, req)
	status, fail := f.failWith[req.Model]
	answer := f.answers[req.Model]
	f.mu.Unlock()

	if fail {
		w.WriteHeader(status)
		w.Write([]byte(`{"error":{"message":"upstream says no"}}`))
		return
	}

	resp := map[string]any{
		"id": "gen-1",
		"choices": []map[string]any{
			{"message": map[string]any{"content": answer}},
		},
		"usage": map[string]any{"prompt_tokens": 2, "completion_tokens": 4, "total_tokens": 6},
	}
	json.NewEncoder(w).Encode(resp)
}

func (f *fakeUpstream) requestModels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	models := make([]string, len(f.requests))
	for i, r := range f.requests {
		models[i] = r.Model
	}
	return models
}

type captureRecorder struct {
	mu   sync.Mutex
	recs []UsageRecord
}

func (c *captureRecorder) RecordRequest(_ context.Context, rec UsageRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
	return nil
}

func newTestPipeline(t *testing.T, upstream *fakeUpstream, credential string, cfg Config, rec UsageRecorder) (*chat.Store, *Pipeline) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(upstream.handler))
	t.Cleanup(srv.Close)

	store := chat.NewStoreWithCredential(credential, nil)
	client := cloud.New(cloud.Config{BaseURL: srv.URL, MaxRetries: 1})
	return store, New(store, client, cfg, rec)
}

// TestSubmitSuccess is the happy path: credential set, verification off.
func TestSubmitSuccess(t *testing.T) {
	upstream := &fakeUpstream{answers: map[string]string{"m-primary": "final answer"}}
	rec := &captureRecorder{}
	store, p := newTestPipeline(t, upstream, "sk-or-key", Config{PrimaryModel: "m-primary"}, rec)

	err := p.Submit(context.Background(), []chat.ContentBlock{chat.TextBlock("Hi")})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	st := store.State()
	if len(st.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(st.Messages))
	}
	user, assistant := st.Messages[0], st.Messages[1]
	if user.Role != chat.RoleUser || user.PlainText() != "Hi" {
		t.Errorf("user message = %+v", user)
	}
	if assistant.Role != chat.RoleAssistant || assistant.PlainText() != "final answer" {
		t.Errorf("assistant message = %+v", assistant)
	}
	if assistant.IsPending || assistant.IsError {
		t.Errorf("assistant flags: pending=%v error=%v", assistant.IsPending, assistant.IsError)
	}
	if st.IsLoading {
		t.Error("IsLoading still true")
	}
	if st.Err != "" {
		t.Errorf("Err = %q", st.Err)
	}

	if len(rec.recs) != 1 || rec.recs[0].Kind != CallPrimary || rec.recs[0].Status != "ok" {
		t.Errorf("usage records = %+v", rec.recs)
	}
	if rec.recs[0].CompletionTokens != 4 {
		t.Errorf("completion tokens = %d", rec.recs[0].CompletionTokens)
	}
}

// TestSubmitMissingCredential verifies the hard gate: no messages, no
// network call, one error.
func TestSubmitMissingCredential(t *testing.T) {
	upstream := &fakeUpstream{}
	store, p := newTestPipeline(t, upstream, "", Config{}, nil)

	err := p.Submit(context.Background(), []chat.ContentBlock{chat.TextBlock("Hi")})
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("err = %v, want ErrMissingCredential", err)
	}

	st := store.State()
	if len(st.Messages) != 0 {
		t.Errorf("messages = %d, want 0", len(st.Messages))
	}
	if st.Err != MissingCredentialMessage {
		t.Errorf("Err = %q, want %q", st.Err, MissingCredentialMessage)
	}
	if st.IsLoading {
		t.Error("IsLoading set without a submission")
	}
	if len(upstream.requestModels()) != 0 {
		t.Error("network call made despite missing credential")
	}
}

// TestSubmitPrimaryFailure verifies the placeholder resolves to an error
// marker and the upstream message lands in the error slot.
func TestSubmitPrimaryFailure(t *testing.T) {
	upstream := &fakeUpstream{failWith: map[string]int{"m-primary": http.StatusBadRequest}}
	store, p := newTestPipeline(t, upstream, "sk-or-key", Config{PrimaryModel: "m-primary"}, nil)

	err := p.Submit(context.Background(), []chat.ContentBlock{chat.TextBlock("Hi")})
	if err == nil {
		t.Fatal("expected error")
	}

	st := store.State()
	if len(st.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(st.Messages))
	}
	assistant := st.Messages[1]
	if assistant.IsPending {
		t.Error("placeholder left pending after failure")
	}
	if !assistant.IsError {
		t.Error("placeholder not marked as error")
	}
	if assistant.PlainText() != ErrorBody {
		t.Errorf("error body = %q", assistant.PlainText())
	}
	if st.Err != "upstream says no" {
		t.Errorf("Err = %q, want upstream message verbatim", st.Err)
	}
	if st.IsLoading {
		t.Error("IsLoading still true after failure")
	}
}

// TestSubmitSuccessClearsError verifies the error slot is last-value-wins:
// a turn that resolves successfully clears the previous failure.
func TestSubmitSuccessClearsError(t *testing.T) {
	upstream := &fakeUpstream{
		answers:  map[string]string{"m-primary": "recovered"},
		failWith: map[string]int{"m-primary": http.StatusBadRequest},
	}
	store, p := newTestPipeline(t, upstream, "sk-or-key", Config{PrimaryModel: "m-primary"}, nil)

	if err := p.Submit(context.Background(), []chat.ContentBlock{chat.TextBlock("one")}); err == nil {
		t.Fatal("expected first submission to fail")
	}
	if store.State().Err == "" {
		t.Fatal("error slot empty after failed turn")
	}

	upstream.mu.Lock()
	delete(upstream.failWith, "m-primary")
	upstream.mu.Unlock()

	if err := p.Submit(context.Background(), []chat.ContentBlock{chat.TextBlock("two")}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := store.State().Err; got != "" {
		t.Errorf("error slot after successful turn = %q, want cleared", got)
	}
}

// TestSubmitVerificationRewrites covers the dual-verification path: the
// verifier's output replaces the primary answer.
func TestSubmitVerificationRewrites(t *testing.T) {
	upstream := &fakeUpstream{answers: map[string]string{
		"m-primary":  "draft",
		"m-verifier": "polished",
	}}
	store, p := newTestPipeline(t, upstream, "sk-or-key",
		Config{PrimaryModel: "m-primary", VerifierModel: "m-verifier"}, nil)
	store.SetDualVerification(true)

	if err := p.Submit(context.Background(), []chat.ContentBlock{chat.TextBlock("Hi")}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	st := store.State()
	if got := st.Messages[1].PlainText(); got != "polished" {
		t.Errorf("final answer = %q, want verifier output", got)
	}

	models := upstream.requestModels()
	if len(models) != 2 || models[0] != "m-primary" || models[1] != "m-verifier" {
		t.Errorf("request models = %v", models)
	}

	// The verification transcript is exactly system instruction + one
	// user turn quoting the draft.
	upstream.mu.Lock()
	verReq := upstream.requests[1]
	upstream.mu.Unlock()
	if len(verReq.Messages) != 2 {
		t.Fatalf("verifier transcript = %d messages, want 2", len(verReq.Messages))
	}
	if verReq.Messages[0].Role != "system" || verReq.Messages[0].Content[0].Text != VerifierSystemPrompt {
		t.Errorf("verifier system turn = %+v", verReq.Messages[0])
	}
	wantUser := `Please verify this AI response for accuracy and clarity: "draft"`
	if verReq.Messages[1].Role != "user" || verReq.Messages[1].Content[0].Text != wantUser {
		t.Errorf("verifier user turn = %+v", verReq.Messages[1])
	}
}

// TestSubmitVerificationFallback: primary succeeds with "X", verification
// fails -> final content is exactly "X" and the turn is not an error.
func TestSubmitVerificationFallback(t *testing.T) {
	upstream := &fakeUpstream{
		answers:  map[string]string{"m-primary": "X"},
		failWith: map[string]int{"m-verifier": http.StatusBadRequest},
	}
	store, p := newTestPipeline(t, upstream, "sk-or-key",
		Config{PrimaryModel: "m-primary", VerifierModel: "m-verifier"}, nil)
	store.SetDualVerification(true)

	if err := p.Submit(context.Background(), []chat.ContentBlock{chat.TextBlock("Hi")}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	st := store.State()
	assistant := st.Messages[1]
	if assistant.PlainText() != "X" {
		t.Errorf("final answer = %q, want primary answer", assistant.PlainText())
	}
	if assistant.IsError {
		t.Error("verification failure surfaced as turn error")
	}
	if assistant.IsPending {
		t.Error("placeholder left pending")
	}
	if st.Err != "" {
		t.Errorf("Err = %q, want silent absorption", st.Err)
	}
}

// TestSubmitPlaceholderIdentity verifies the placeholder keeps its id from
// creation through resolution.
func TestSubmitPlaceholderIdentity(t *testing.T) {
	upstream := &fakeUpstream{answers: map[string]string{"m-primary": "ok"}}
	store, p := newTestPipeline(t, upstream, "sk-or-key", Config{PrimaryModel: "m-primary"}, nil)

	var placeholderID string
	var resolutions int
	cancel := store.Subscribe(func(st chat.State) {
		if len(st.Messages) < 2 {
			return
		}
		m := st.Messages[1]
		if placeholderID == "" {
			placeholderID = m.ID
		}
		if m.ID != placeholderID {
			t.Errorf("placeholder id changed: %q -> %q", placeholderID, m.ID)
		}
		if !m.IsPending && m.PlainText() != ThinkingIndicator && m.PlainText() != VerifyingIndicator {
			resolutions++
		}
	})
	defer cancel()

	if err := p.Submit(context.Background(), []chat.ContentBlock{chat.TextBlock("Hi")}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// Resolution transition observed once; the trailing SetLoading(false)
	// repeats the resolved snapshot.
	if resolutions < 1 {
		t.Error("placeholder never resolved")
	}
}

// TestSubmitTranscriptExcludesPlaceholder verifies the outbound transcript
// is the prior log plus the new user turn, without the pending placeholder.
func TestSubmitTranscriptExcludesPlaceholder(t *testing.T) {
	upstream := &fakeUpstream{answers: map[string]string{"m-primary": "first"}}
	store, p := newTestPipeline(t, upstream, "sk-or-key",
		Config{PrimaryModel: "m-primary", SystemPrompt: "be helpful"}, nil)

	if err := p.Submit(context.Background(), []chat.ContentBlock{chat.TextBlock("one")}); err != nil {
		t.Fatalf("Submit 1: %v", err)
	}
	if err := p.Submit(context.Background(), []chat.ContentBlock{chat.TextBlock("two")}); err != nil {
		t.Fatalf("Submit 2: %v", err)
	}

	upstream.mu.Lock()
	second := upstream.requests[1]
	upstream.mu.Unlock()

	// system + prior user + prior assistant + new user
	var roles []string
	for _, m := range second.Messages {
		roles = append(roles, m.Role)
	}
	want := []string{"system", "user", "assistant", "user"}
	if len(roles) != len(want) {
		t.Fatalf("transcript roles = %v, want %v", roles, want)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("transcript roles = %v, want %v", roles, want)
		}
	}
	if second.Messages[3].Content[0].Text != "two" {
		t.Errorf("last turn = %+v", second.Messages[3])
	}

	// Both turns resolved in the log: two user/assistant pairs.
	if n := len(store.State().Messages); n != 4 {
		t.Errorf("messages = %d, want 4", n)
	}
}

// TestSubmitRejectsOverlap verifies the default single-flight policy.
func TestSubmitRejectsOverlap(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.Write([]byte(`{"choices":[{"message":{"content":"slow"}}]}`))
	}))
	defer srv.Close()

	store := chat.NewStoreWithCredential("sk-or-key", nil)
	client := cloud.New(cloud.Config{BaseURL: srv.URL, MaxRetries: 1})
	p := New(store, client, Config{}, nil)

	done := make(chan error, 1)
	go func() {
		done <- p.Submit(context.Background(), []chat.ContentBlock{chat.TextBlock("first")})
	}()
	<-started

	err := p.Submit(context.Background(), []chat.ContentBlock{chat.TextBlock("second")})
	if !errors.Is(err, ErrSubmitInFlight) {
		t.Errorf("overlapping submit err = %v, want ErrSubmitInFlight", err)
	}
	if n := len(store.State().Messages); n != 2 {
		t.Errorf("rejected submit appended messages: %d", n)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if n := len(store.State().Messages); n != 2 {
		t.Errorf("messages after first submit = %d, want 2", n)
	}
}

// TestSubmitTimeout verifies a stuck upstream resolves the turn as an error
// instead of leaving the placeholder pending forever.
func TestSubmitTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server's background read can observe the
		// client abort and cancel the request context.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	store := chat.NewStoreWithCredential("sk-or-key", nil)
	client := cloud.New(cloud.Config{BaseURL: srv.URL, MaxRetries: 1})
	p := New(store, client, Config{Timeout: 50 * time.Millisecond}, nil)

	err := p.Submit(context.Background(), []chat.ContentBlock{chat.TextBlock("Hi")})
	if err == nil {
		t.Fatal("expected timeout error")
	}

	st := store.State()
	if st.Messages[1].IsPending {
		t.Error("placeholder left pending after timeout")
	}
	if !st.Messages[1].IsError {
		t.Error("timeout not marked as error")
	}
	if st.IsLoading {
		t.Error("IsLoading stuck after timeout")
	}
}

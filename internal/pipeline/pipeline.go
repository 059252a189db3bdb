// Copyright (c) 2025 Reflex AI Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/reflexai/nexus/internal/chat"
	"github.com/reflexai/nexus/internal/cloud"
	"github.com/reflexai/nexus/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// Progress indicators shown in the assistant placeholder.
const (
	ThinkingIndicator  = "Thinking..."
	VerifyingIndicator = "Verifying response..."
)

// ErrorBody is the placeholder body after a failed turn.
const ErrorBody = "Error occurred. Please try again."

// MissingCredentialMessage is the store error when no credential is set.
const MissingCredentialMessage = "API key is required"

// VerifierSystemPrompt instructs the second completion call.
const VerifierSystemPrompt = "You are a verification assistant. Your job is to review AI responses " +
	"for accuracy and clarity. If there are issues with the response, fix them. " +
	"Return the improved response or confirm the original if it's accurate."

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrMissingCredential is returned when Submit is called with no
	// credential set. No message is appended and no call is made.
	ErrMissingCredential = errors.New("credential required")

	// ErrSubmitInFlight is returned when a submission is rejected because
	// another one is still outstanding.
	ErrSubmitInFlight = errors.New("a submission is already in flight")
)

// =============================================================================
// USAGE RECORDING
// =============================================================================

// Call kinds recorded per completion request.
const (
	CallPrimary      = "primary"
	CallVerification = "verification"
)

// UsageRecord describes one completed (or failed) completion call.
type UsageRecord struct {
	Model            string
	Kind             string
	Status           string // "ok" or "error"
	Duration         time.Duration
	PromptTokens     int
	CompletionTokens int
}

// UsageRecorder receives a record for every completion call the pipeline
// issues. Recording is best effort; failures are logged and ignored.
type UsageRecorder interface {
	RecordRequest(ctx context.Context, rec UsageRecord) error
}

// =============================================================================
// PIPELINE
// =============================================================================

// Config holds pipeline configuration. Zero model values fall back to the
// cloud package defaults.
type Config struct {
	PrimaryModel  string
	VerifierModel string

	// SystemPrompt, when non-empty, is prefixed to the primary transcript
	// as a system turn.
	SystemPrompt string

	// Timeout bounds each completion call. <= 0 uses the client timeout.
	Timeout time.Duration

	// AllowConcurrent permits overlapping submissions, each racing with
	// its own placeholder. The default rejects a second submission while
	// one is outstanding.
	AllowConcurrent bool
}

// Pipeline orchestrates submissions against a conversation store and a
// completions client.
type Pipeline struct {
	store    *chat.Store
	client   *cloud.Client
	cfg      Config
	recorder UsageRecorder

	inFlight atomic.Bool
}

// New creates a pipeline. recorder may be nil.
func New(store *chat.Store, client *cloud.Client, cfg Config, recorder UsageRecorder) *Pipeline {
	if cfg.PrimaryModel == "" {
		cfg.PrimaryModel = cloud.DefaultPrimaryModel
	}
	if cfg.VerifierModel == "" {
		cfg.VerifierModel = cloud.DefaultVerifierModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = client.Timeout()
	}
	return &Pipeline{store: store, client: client, cfg: cfg, recorder: recorder}
}

// Submit runs one user submission through the pipeline.
//
// The credential gate is checked before any side effect: with no credential
// set, the store's error slot is set and nothing else happens. When
// concurrent submissions are disallowed (the default) a second Submit while
// one is outstanding returns ErrSubmitInFlight, again with no side effects.
func (p *Pipeline) Submit(ctx context.Context, blocks []chat.ContentBlock) error {
	state := p.store.State()
	if !state.HasCredential() {
		p.store.SetError(MissingCredentialMessage)
		return ErrMissingCredential
	}

	if !p.cfg.AllowConcurrent {
		if !p.inFlight.CompareAndSwap(false, true) {
			return ErrSubmitInFlight
		}
		defer p.inFlight.Store(false)
	}

	// The outbound transcript is the log as it stood before this
	// submission, plus the new user turn. The placeholder never ships.
	transcript := p.buildTranscript(state.Messages, blocks)

	userMsg := chat.NewUserMessage(blocks)
	p.store.AddMessage(userMsg)

	placeholder := chat.NewPendingMessage(ThinkingIndicator)
	p.store.AddMessage(placeholder)
	p.store.SetLoading(true)
	defer p.store.SetLoading(false)

	answer, err := p.complete(ctx, state.Credential, p.cfg.PrimaryModel, CallPrimary, transcript)
	if err != nil {
		p.store.UpdateMessage(placeholder.ID, chat.Update{
			Content:   []chat.ContentBlock{chat.TextBlock(ErrorBody)},
			IsPending: chat.Flag(false),
			IsError:   chat.Flag(true),
		})
		p.store.SetError(err.Error())
		return fmt.Errorf("completion request: %w", err)
	}

	if state.DualVerification {
		answer = p.verify(ctx, state.Credential, placeholder.ID, answer)
	}

	p.store.UpdateMessage(placeholder.ID, chat.Update{
		Content:   []chat.ContentBlock{chat.TextBlock(answer)},
		IsPending: chat.Flag(false),
	})
	// A resolved turn supersedes whatever failure is in the error slot.
	p.store.SetError("")
	log.Printf("pipeline: turn resolved | model=%s preview=%q",
		p.cfg.PrimaryModel, util.TruncateRunes(answer, 48))
	return nil
}

// buildTranscript maps prior messages plus the new user turn into wire
// messages, prefixed by the configured system prompt.
func (p *Pipeline) buildTranscript(prior []chat.Message, blocks []chat.ContentBlock) []cloud.Message {
	transcript := make([]cloud.Message, 0, len(prior)+2)
	if p.cfg.SystemPrompt != "" {
		transcript = append(transcript, cloud.TextMessage(string(chat.RoleSystem), p.cfg.SystemPrompt))
	}
	for _, m := range prior {
		transcript = append(transcript, cloud.Message{Role: string(m.Role), Content: m.Content})
	}
	transcript = append(transcript, cloud.Message{Role: string(chat.RoleUser), Content: blocks})
	return transcript
}

// verify runs the verification call. Its transcript is exactly the fixed
// verifier instruction plus one user turn quoting the answer. A failure is
// absorbed: the primary answer is kept and the error is only logged.
func (p *Pipeline) verify(ctx context.Context, credential, placeholderID, answer string) string {
	p.store.UpdateMessage(placeholderID, chat.Update{
		Content: []chat.ContentBlock{chat.TextBlock(VerifyingIndicator)},
	})

	transcript := []cloud.Message{
		cloud.TextMessage(string(chat.RoleSystem), VerifierSystemPrompt),
		cloud.TextMessage(string(chat.RoleUser),
			`Please verify this AI response for accuracy and clarity: "`+answer+`"`),
	}

	verified, err := p.complete(ctx, credential, p.cfg.VerifierModel, CallVerification, transcript)
	if err != nil {
		log.Printf("pipeline: verification failed, keeping primary answer: %v", err)
		return answer
	}
	return verified
}

// complete issues one completion call with the configured deadline and
// records its usage.
func (p *Pipeline) complete(ctx context.Context, credential, model, kind string, transcript []cloud.Message) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.client.Chat(callCtx, credential, model, transcript)
	duration := time.Since(start)

	rec := UsageRecord{Model: model, Kind: kind, Duration: duration}
	if err != nil {
		rec.Status = "error"
	} else {
		rec.Status = "ok"
		rec.PromptTokens = resp.Usage.PromptTokens
		rec.CompletionTokens = resp.Usage.CompletionTokens
	}
	p.record(ctx, rec)

	if err != nil {
		return "", err
	}
	return resp.Content(), nil
}

func (p *Pipeline) record(ctx context.Context, rec UsageRecord) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.RecordRequest(ctx, rec); err != nil {
		log.Printf("pipeline: usage record dropped: %v", err)
	}
}

package stage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"partforge/internal/services"
	"partforge/internal/services/llm"
)

// Stage names used in errors, logs and the call log.
const (
	NameDiscovery  = "discovery"
	NameExtraction = "extraction"
	NameAssembly   = "assembly"
)

// Reasoner is the reasoning service contract. *llm.Client satisfies it.
type Reasoner interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// Mode selects how a stage is re-run.
type Mode string

const (
	// ModeFresh re-runs the stage with identical inputs.
	ModeFresh Mode = "fresh"
	// ModeConversational replays the prior output with caller feedback.
	ModeConversational Mode = "conversational"
)

// ParseMode maps user input onto a Mode.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "fresh":
		return ModeFresh, nil
	case "conversational", "feedback", "conversation":
		return ModeConversational, nil
	default:
		return "", fmt.Errorf("unknown retry mode %q (want fresh or conversational)", value)
	}
}

// Revision is the second input variant of every stage: the zero value is a
// fresh run, Conversational carries the prior output and the feedback text.
type Revision[T any] struct {
	Mode     Mode
	Prior    T
	Feedback string
}

// Fresh returns a fresh revision.
func Fresh[T any]() Revision[T] {
	return Revision[T]{Mode: ModeFresh}
}

// Conversational returns a revision that corrects prior using feedback.
func Conversational[T any](prior T, feedback string) Revision[T] {
	return Revision[T]{Mode: ModeConversational, Prior: prior, Feedback: feedback}
}

// IsConversational reports whether the prior output should be replayed.
func (r Revision[T]) IsConversational() bool {
	return r.Mode == ModeConversational
}

func (r Revision[T]) validate(stage string) error {
	switch r.Mode {
	case "", ModeFresh:
		return nil
	case ModeConversational:
		if strings.TrimSpace(r.Feedback) == "" {
			return services.Wrap(services.ErrValidation, stage, "revision", "conversational retry requires feedback", nil)
		}
		return nil
	default:
		return services.Wrap(services.ErrValidation, stage, "revision", fmt.Sprintf("unknown mode %q", r.Mode), nil)
	}
}

// apply rewrites req into a correction turn when the revision is
// conversational: the original prompt and images become history, followed by
// the prior output as the assistant reply.
func (r Revision[T]) apply(stage string, req llm.Request) (llm.Request, error) {
	if !r.IsConversational() {
		return req, nil
	}
	prior, err := json.Marshal(r.Prior)
	if err != nil {
		return req, services.Wrap(services.ErrValidation, stage, "revision", "encode prior output", err)
	}
	req.History = append(append([]llm.Turn(nil), req.History...),
		llm.Turn{Role: llm.RoleUser, Content: req.Prompt, Images: req.Images},
		llm.Turn{Role: llm.RoleAssistant, Content: string(prior)},
	)
	req.Prompt = correctionPrompt(r.Feedback)
	req.Images = nil
	return req, nil
}

// Options are per-call knobs shared by every stage.
type Options struct {
	Temperature float64
	// OnChunk observes streamed response chunks.
	OnChunk func(string)
}

// Trace identifies one reasoning call for observability.
type Trace struct {
	PromptDigest   string
	ResponseDigest string
	Raw            string
}

// Digest fingerprints a request: prompts, history and image bytes.
func Digest(req llm.Request) string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	writeImages := func(images []llm.Image) {
		for _, img := range images {
			write(img.MIME)
			h.Write(img.Data)
			h.Write([]byte{0})
		}
	}
	write(req.System)
	for _, turn := range req.History {
		write(string(turn.Role))
		write(turn.Content)
		writeImages(turn.Images)
	}
	write(req.Prompt)
	writeImages(req.Images)
	return hex.EncodeToString(h.Sum(nil))
}

// DigestText fingerprints a response payload.
func DigestText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// call performs one reasoning call and decodes its payload into target. Any
// failure is reported as services.ErrService.
func call(ctx context.Context, r Reasoner, stage, op string, req llm.Request, target any) (Trace, error) {
	if r == nil {
		return Trace{}, services.Wrap(services.ErrConfiguration, stage, op, "reasoning service unavailable", nil)
	}
	trace := Trace{PromptDigest: Digest(req)}
	raw, err := r.Complete(ctx, req)
	trace.Raw = raw
	trace.ResponseDigest = DigestText(raw)
	if err != nil {
		return trace, services.Wrap(services.ErrService, stage, op, "reasoning call failed", err)
	}
	if err := llm.DecodeLLMJSON(raw, target); err != nil {
		return trace, services.Wrap(services.ErrService, stage, op, "response did not parse", err)
	}
	return trace, nil
}

func malformed(stage, op, format string, args ...any) error {
	return services.Wrap(services.ErrService, stage, op, fmt.Sprintf(format, args...), nil)
}

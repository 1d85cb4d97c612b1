package stage

import (
	"context"
	"encoding/json"
	"strings"

	"partforge/internal/parts"
	"partforge/internal/services/llm"
)

// Status is a critique outcome.
type Status string

const (
	StatusAcceptable       Status = "acceptable"
	StatusNeedsImprovement Status = "needs-improvement"
)

// Verdict is the reviewer's judgement of one candidate.
type Verdict struct {
	Status   Status `json:"status"`
	Feedback string `json:"feedback,omitempty"`
}

// Acceptable reports whether the candidate passed review.
func (v Verdict) Acceptable() bool {
	return v.Status == StatusAcceptable
}

// CritiqueInput holds everything Critique needs. Composite is the source
// image with the candidate drawn over it.
type CritiqueInput struct {
	Composite llm.Image
	Unit      parts.Unit
	Candidate parts.Extraction
	Options   Options
}

type critiquePayload struct {
	Verdict    json.RawMessage `json:"verdict"`
	Status     string          `json:"status"`
	Acceptable *bool           `json:"acceptable"`
	Feedback   string          `json:"feedback"`
}

// Critique judges a candidate extraction against its composite.
func Critique(ctx context.Context, r Reasoner, in CritiqueInput) (Verdict, Trace, error) {
	req := llm.Request{
		Name:        "critique",
		System:      critiqueSystem,
		Prompt:      critiquePrompt(in.Unit, in.Candidate),
		Images:      []llm.Image{in.Composite},
		Temperature: in.Options.Temperature,
		OnChunk:     in.Options.OnChunk,
	}
	var payload critiquePayload
	trace, err := call(ctx, r, NameExtraction, "critique", req, &payload)
	if err != nil {
		return Verdict{}, trace, err
	}
	verdict, err := normalizeVerdict(in.Unit.ID, payload)
	return verdict, trace, err
}

func normalizeVerdict(unitID string, payload critiquePayload) (Verdict, error) {
	feedback := strings.TrimSpace(payload.Feedback)
	if len(payload.Verdict) > 0 && string(payload.Verdict) != "null" {
		var flag bool
		if err := json.Unmarshal(payload.Verdict, &flag); err == nil {
			return verdictFromBool(flag, feedback), nil
		}
		var text string
		if err := json.Unmarshal(payload.Verdict, &text); err != nil {
			return Verdict{}, malformed(NameExtraction, "normalize", "unit %s: verdict is neither text nor boolean", unitID)
		}
		status, ok := ParseStatus(text)
		if !ok {
			return Verdict{}, malformed(NameExtraction, "normalize", "unit %s: unknown verdict %q", unitID, text)
		}
		return Verdict{Status: status, Feedback: feedback}, nil
	}
	if payload.Status != "" {
		status, ok := ParseStatus(payload.Status)
		if !ok {
			return Verdict{}, malformed(NameExtraction, "normalize", "unit %s: unknown verdict %q", unitID, payload.Status)
		}
		return Verdict{Status: status, Feedback: feedback}, nil
	}
	if payload.Acceptable != nil {
		return verdictFromBool(*payload.Acceptable, feedback), nil
	}
	return Verdict{}, malformed(NameExtraction, "normalize", "unit %s: response has no verdict", unitID)
}

func verdictFromBool(ok bool, feedback string) Verdict {
	if ok {
		return Verdict{Status: StatusAcceptable, Feedback: feedback}
	}
	return Verdict{Status: StatusNeedsImprovement, Feedback: feedback}
}

// ParseStatus maps verdict text onto a Status.
func ParseStatus(value string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "acceptable", "accept", "accepted", "pass", "ok", "good", "approved", "yes":
		return StatusAcceptable, true
	case "needs-improvement", "needs_improvement", "needs improvement", "improve", "fail", "reject", "rejected", "revise", "no":
		return StatusNeedsImprovement, true
	default:
		return "", false
	}
}

package stage

import (
	"context"
	"math"

	"partforge/internal/geometry"
	"partforge/internal/parts"
	"partforge/internal/services/llm"
)

// defaultConfidence is used when the model omits a confidence score.
const defaultConfidence = 0.5

// ProposalInput holds everything Propose needs. Composite and Critique are
// set on self-correction rounds after a rejected candidate.
type ProposalInput struct {
	Image     llm.Image
	Unit      parts.Unit
	Composite *llm.Image
	Critique  string
	Revision  Revision[parts.Extraction]
	Options   Options
}

type proposalPayload struct {
	Shape       *geometry.Shape `json:"shape"`
	BBox        *geometry.BBox  `json:"bbox"`
	BoundingBox *geometry.BBox  `json:"bounding_box"`
	Amodal      bool            `json:"amodal_completed"`
	Confidence  *float64        `json:"confidence"`
}

// Propose solves one unit's shape.
func Propose(ctx context.Context, r Reasoner, in ProposalInput) (parts.Extraction, Trace, error) {
	if err := in.Revision.validate(NameExtraction); err != nil {
		return parts.Extraction{}, Trace{}, err
	}
	images := []llm.Image{in.Image}
	if in.Composite != nil && in.Critique != "" {
		images = append(images, *in.Composite)
	}
	req := llm.Request{
		Name:        "propose",
		System:      proposalSystem,
		Prompt:      proposalPrompt(in.Unit, in.Critique, len(images) > 1),
		Images:      images,
		Temperature: in.Options.Temperature,
		OnChunk:     in.Options.OnChunk,
	}
	req, err := in.Revision.apply(NameExtraction, req)
	if err != nil {
		return parts.Extraction{}, Trace{}, err
	}
	var payload proposalPayload
	trace, err := call(ctx, r, NameExtraction, "propose", req, &payload)
	if err != nil {
		return parts.Extraction{}, trace, err
	}
	extraction, err := normalizeExtraction(in.Unit, payload)
	return extraction, trace, err
}

func normalizeExtraction(unit parts.Unit, payload proposalPayload) (parts.Extraction, error) {
	unitID := unit.ID
	if payload.Shape == nil || payload.Shape.IsZero() {
		return parts.Extraction{}, malformed(NameExtraction, "normalize", "unit %s: response has no shape", unitID)
	}
	if err := payload.Shape.Valid(); err != nil {
		return parts.Extraction{}, malformed(NameExtraction, "normalize", "unit %s: %v", unitID, err)
	}
	reported := payload.BBox
	if reported == nil {
		reported = payload.BoundingBox
	}

	// The shape's own bounds are authoritative. A shape clipped away entirely
	// is replaced by the reported box, then by the unit's rough box.
	shape := geometry.Of(payload.Shape.Clamp())
	bbox := shape.Bounds().Clamp()
	if shape.Valid() != nil || !bbox.WellFormed() {
		fallback, ok := fallbackBox(reported, &unit.RoughBox)
		if !ok {
			return parts.Extraction{}, malformed(NameExtraction, "normalize", "unit %s: shape lies outside the image and no usable box was given", unitID)
		}
		bbox = fallback
		if shape.Valid() != nil {
			shape = geometry.Of(geometry.Rect{
				Origin: geometry.Pt(bbox.MinX, bbox.MinY),
				Size:   geometry.Pt(bbox.Width(), bbox.Height()),
			})
		}
	}

	confidence := defaultConfidence
	if payload.Confidence != nil && !math.IsNaN(*payload.Confidence) {
		confidence = geometry.Clamp01(*payload.Confidence)
	}
	return parts.Extraction{
		ID:         unitID,
		Shape:      shape,
		BBox:       bbox,
		Amodal:     payload.Amodal,
		Confidence: confidence,
	}, nil
}

func fallbackBox(candidates ...*geometry.BBox) (geometry.BBox, bool) {
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if box := c.Canon().Clamp(); box.WellFormed() {
			return box, true
		}
	}
	return geometry.BBox{}, false
}

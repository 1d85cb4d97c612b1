package stage

import (
	"context"
	"strings"

	"partforge/internal/geometry"
	"partforge/internal/parts"
	"partforge/internal/services/llm"
)

// AssemblyInput holds everything Assemble needs. Extractions are the
// successful units in manifest order.
type AssemblyInput struct {
	Image       llm.Image
	Manifest    parts.Manifest
	Extractions []parts.Extraction
	Revision    Revision[parts.Assembly]
	Options     Options
}

type assemblyPayload struct {
	Parts []assemblyPart `json:"parts"`
}

type assemblyPart struct {
	ID          string          `json:"id"`
	ParentID    *string         `json:"parent_id"`
	Parent      *string         `json:"parent"`
	Pivot       *geometry.Point `json:"pivot"`
	MotionClass string          `json:"motion_class"`
	Motion      string          `json:"motion"`
}

// Assemble assigns hierarchy, pivots and motion classes to extractions.
func Assemble(ctx context.Context, r Reasoner, in AssemblyInput) (parts.Assembly, Trace, error) {
	if err := in.Revision.validate(NameAssembly); err != nil {
		return parts.Assembly{}, Trace{}, err
	}
	if len(in.Extractions) == 0 {
		return parts.Assembly{}, Trace{}, malformed(NameAssembly, "assemble", "no extractions to assemble")
	}
	req := llm.Request{
		Name:        NameAssembly,
		System:      assemblySystem,
		Prompt:      assemblyPrompt(in.Manifest, in.Extractions),
		Images:      []llm.Image{in.Image},
		Temperature: in.Options.Temperature,
		OnChunk:     in.Options.OnChunk,
	}
	req, err := in.Revision.apply(NameAssembly, req)
	if err != nil {
		return parts.Assembly{}, Trace{}, err
	}
	var payload assemblyPayload
	trace, err := call(ctx, r, NameAssembly, "assemble", req, &payload)
	if err != nil {
		return parts.Assembly{}, trace, err
	}
	assembly, err := normalizeAssembly(in.Manifest, in.Extractions, payload)
	return assembly, trace, err
}

// normalizeAssembly merges the payload with the extractions. Every extraction
// must be described; entries for unknown ids are ignored. Parent references
// are kept as given so the validator can report dangling or cyclic links.
func normalizeAssembly(manifest parts.Manifest, extractions []parts.Extraction, payload assemblyPayload) (parts.Assembly, error) {
	byID := make(map[string]assemblyPart, len(payload.Parts))
	for _, p := range payload.Parts {
		id := strings.TrimSpace(p.ID)
		if _, dup := byID[id]; dup || id == "" {
			continue
		}
		byID[id] = p
	}

	var missing []string
	out := make([]parts.Part, 0, len(extractions))
	for _, ex := range extractions {
		p, ok := byID[ex.ID]
		if !ok {
			missing = append(missing, ex.ID)
			continue
		}
		motion, ok := parts.ParseMotionClass(firstNonEmpty(p.MotionClass, p.Motion))
		if !ok {
			return parts.Assembly{}, malformed(NameAssembly, "normalize", "part %s: unknown motion class %q", ex.ID, firstNonEmpty(p.MotionClass, p.Motion))
		}
		pivot := ex.BBox.Center()
		if p.Pivot != nil && p.Pivot.Finite() {
			pivot = p.Pivot.Clamp()
		}
		name := parts.DisplayNameFor(ex.ID)
		if unit, ok := manifest.Lookup(ex.ID); ok && unit.DisplayName != "" {
			name = unit.DisplayName
		}
		out = append(out, parts.Part{
			Extraction:  ex,
			DisplayName: name,
			ParentID:    parentRef(p),
			Pivot:       pivot,
			Motion:      motion,
		})
	}
	if len(missing) > 0 {
		return parts.Assembly{}, malformed(NameAssembly, "normalize", "response omits parts: %s", strings.Join(missing, ", "))
	}
	return parts.Assembly{Parts: out}, nil
}

func parentRef(p assemblyPart) string {
	ref := p.ParentID
	if ref == nil {
		ref = p.Parent
	}
	if ref == nil {
		return ""
	}
	v := strings.TrimSpace(*ref)
	switch strings.ToLower(v) {
	case "null", "none", "root", "-":
		return ""
	}
	return v
}

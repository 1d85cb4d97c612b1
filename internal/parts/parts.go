package parts

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"partforge/internal/geometry"
)

// TypeHint is Discovery's guess at what kind of part a unit is.
type TypeHint string

const (
	TypeWheel      TypeHint = "wheel"
	TypeLimb       TypeHint = "limb"
	TypeBody       TypeHint = "body"
	TypePiston     TypeHint = "piston"
	TypeJoint      TypeHint = "joint"
	TypeDecoration TypeHint = "decoration"
	TypeOther      TypeHint = "other"
)

// TypeHints lists every accepted hint in prompt order.
var TypeHints = []TypeHint{TypeWheel, TypeLimb, TypeBody, TypePiston, TypeJoint, TypeDecoration, TypeOther}

// ParseTypeHint maps free text onto a hint, defaulting to TypeOther.
func ParseTypeHint(value string) TypeHint {
	v := TypeHint(strings.ToLower(strings.TrimSpace(value)))
	for _, hint := range TypeHints {
		if v == hint {
			return hint
		}
	}
	return TypeOther
}

// Strategy routes a unit to an extraction backend. It is a hint: units
// tagged for masks fall back to primitive fitting when no segmentation
// service is available.
type Strategy string

const (
	StrategyPrimitive Strategy = "primitive"
	StrategyMask      Strategy = "mask"
)

// ParseStrategy maps free text onto a strategy, defaulting to primitive.
func ParseStrategy(value string) Strategy {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "mask", "mask-segmentation", "mask_segmentation", "segmentation", "segment":
		return StrategyMask
	default:
		return StrategyPrimitive
	}
}

// MotionClass is the rigid-body animation a part supports.
type MotionClass string

const (
	MotionRotation MotionClass = "rotation"
	MotionSliding  MotionClass = "sliding"
	MotionFixed    MotionClass = "fixed"
	MotionElastic  MotionClass = "elastic"
)

// MotionClasses lists every accepted class in prompt order.
var MotionClasses = []MotionClass{MotionRotation, MotionSliding, MotionFixed, MotionElastic}

// ParseMotionClass maps free text onto a class. Unknown values report false.
func ParseMotionClass(value string) (MotionClass, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "rotation", "rotate", "rotating", "spin":
		return MotionRotation, true
	case "sliding", "slide", "translation", "linear":
		return MotionSliding, true
	case "fixed", "static", "rigid", "none":
		return MotionFixed, true
	case "elastic", "deform", "soft":
		return MotionElastic, true
	default:
		return "", false
	}
}

// Unit is one candidate part proposed by Discovery.
type Unit struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Anchor      geometry.Point `json:"anchor"`
	RoughBox    geometry.BBox  `json:"rough_box"`
	TypeHint    TypeHint       `json:"type_hint"`
	Strategy    Strategy       `json:"strategy"`
}

// Manifest is the Discovery output.
type Manifest struct {
	Units []Unit `json:"units"`
}

// Lookup finds a unit by id.
func (m Manifest) Lookup(id string) (Unit, bool) {
	for _, u := range m.Units {
		if u.ID == id {
			return u, true
		}
	}
	return Unit{}, false
}

// IDs returns unit ids in manifest order.
func (m Manifest) IDs() []string {
	ids := make([]string, len(m.Units))
	for i, u := range m.Units {
		ids[i] = u.ID
	}
	return ids
}

// Extraction is one unit's solved geometry.
type Extraction struct {
	ID         string         `json:"id"`
	Shape      geometry.Shape `json:"shape"`
	BBox       geometry.BBox  `json:"bbox"`
	Amodal     bool           `json:"amodal_completed"`
	Confidence float64        `json:"confidence"`
}

// Part is an extraction placed in the hierarchy. An empty ParentID marks a
// root.
type Part struct {
	Extraction
	DisplayName string         `json:"display_name,omitempty"`
	ParentID    string         `json:"parent_id,omitempty"`
	Pivot       geometry.Point `json:"pivot"`
	Motion      MotionClass    `json:"motion_class"`
}

// IsRoot reports whether the part has no parent.
func (p Part) IsRoot() bool {
	return p.ParentID == ""
}

// Assembly is the Assembly stage output.
type Assembly struct {
	Parts []Part `json:"parts"`
}

// Lookup finds a part by id.
func (a Assembly) Lookup(id string) (Part, bool) {
	for _, p := range a.Parts {
		if p.ID == id {
			return p, true
		}
	}
	return Part{}, false
}

// UnitError records a failed extraction unit.
type UnitError struct {
	ID         string `json:"id"`
	Message    string `json:"message"`
	RetryCount int    `json:"retry_count"`
}

func (e UnitError) Error() string {
	return fmt.Sprintf("unit %s: %s", e.ID, e.Message)
}

// DisplayNameFor derives a readable name from an id such as "wheel_front".
func DisplayNameFor(id string) string {
	replaced := strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(strings.TrimSpace(id))
	return cases.Title(language.Und).String(strings.Join(strings.Fields(replaced), " "))
}

// Slug normalizes free text into an id: lower case, underscores between
// words, only [a-z0-9_].
func Slug(value string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(strings.TrimSpace(value)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// UniqueIDs rewrites duplicate or empty ids so every id is unique. The first
// occurrence keeps its id; later ones get _2, _3, ... suffixes. Empty ids
// become part_<n>.
func UniqueIDs(ids []string) []string {
	out := make([]string, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for i, id := range ids {
		base := id
		if base == "" {
			base = fmt.Sprintf("part_%d", i+1)
		}
		candidate := base
		for n := 2; ; n++ {
			if _, taken := seen[candidate]; !taken {
				break
			}
			candidate = fmt.Sprintf("%s_%d", base, n)
		}
		seen[candidate] = struct{}{}
		out[i] = candidate
	}
	return out
}

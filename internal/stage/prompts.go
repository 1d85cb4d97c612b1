package stage

import (
	"fmt"
	"strings"

	"partforge/internal/geometry"
	"partforge/internal/parts"
)

const coordinateRules = `Coordinates are normalized to the image: (0,0) is the top-left corner and (1,1) the bottom-right. Every number must lie in [0,1].`

const discoverySystem = `You decompose a single illustration into independently animatable parts for a 2D rigging tool.
Return JSON only. ` + coordinateRules

const proposalSystem = `You solve the geometry of one part of an illustration as a single vector shape.
Complete the shape through occlusion: when the part is partly hidden, return the full silhouette it would have and set amodal_completed to true.
Return JSON only. ` + coordinateRules

const critiqueSystem = `You review a proposed part outline drawn as a translucent overlay on the illustration.
Judge whether the overlay covers the named part tightly, including plausible hidden area, without spilling onto neighbouring parts.
Return JSON only.`

const assemblySystem = `You assemble extracted parts of an illustration into a rig hierarchy.
For every part choose its parent (or null for a root), a pivot point to rotate or slide around, and a motion class.
Return JSON only. ` + coordinateRules

func enumList[T ~string](values []T) string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return strings.Join(out, "|")
}

func discoveryPrompt() string {
	return fmt.Sprintf(`List every part that could move on its own (wheels, limbs, doors, pistons, heads) plus the main body it attaches to.
Use short snake_case ids such as "wheel_front".

Respond with:
{"units":[{"id":"wheel_front","display_name":"Front Wheel","anchor":[x,y],"rough_box":[min_x,min_y,max_x,max_y],"type_hint":"%s","strategy":"%s"}]}

anchor is a point that lies on the part. rough_box loosely encloses it.
Use strategy "mask" for organic or irregular parts that a circle, rectangle or ellipse cannot describe, otherwise "primitive".`,
		enumList(parts.TypeHints), enumList([]parts.Strategy{parts.StrategyPrimitive, parts.StrategyMask}))
}

const shapeSchema = `One of:
{"type":"circle","center":[x,y],"radius":r}
{"type":"rect","origin":[x,y],"size":[w,h],"corner_radius":c}
{"type":"ellipse","center":[x,y],"radii":[rx,ry]}
{"type":"outline","path":"M x y L x y C x1 y1 x2 y2 x y Q x1 y1 x y Z"}`

func proposalPrompt(unit parts.Unit, critique string, hasComposite bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Part: %s (id %s, kind %s)\n", unit.DisplayName, unit.ID, unit.TypeHint)
	fmt.Fprintf(&b, "It contains the point %s and lies roughly inside %s.\n\n", formatPoint(unit.Anchor), unit.RoughBox)
	b.WriteString("Respond with:\n")
	b.WriteString(`{"shape":SHAPE,"bbox":[min_x,min_y,max_x,max_y],"amodal_completed":false,"confidence":0.0}`)
	b.WriteString("\n\nSHAPE is ")
	b.WriteString(shapeSchema)
	b.WriteString("\n\nPrefer the simplest shape that fits. Use an outline only when no primitive does.")
	if strings.TrimSpace(critique) != "" {
		b.WriteString("\n\nA reviewer rejected your previous attempt")
		if hasComposite {
			b.WriteString(" (second image: the attempt drawn over the illustration)")
		}
		b.WriteString(":\n")
		b.WriteString(strings.TrimSpace(critique))
	}
	return b.String()
}

func critiquePrompt(unit parts.Unit, candidate parts.Extraction) string {
	return fmt.Sprintf(`The overlay is the proposed %s for "%s" (id %s), bounding box %s.

Respond with:
{"verdict":"acceptable|needs-improvement","feedback":"what to change, empty when acceptable"}`,
		kindOf(candidate.Shape), unit.DisplayName, unit.ID, candidate.BBox)
}

func assemblyPrompt(manifest parts.Manifest, extractions []parts.Extraction) string {
	var b strings.Builder
	b.WriteString("Parts:\n")
	for _, ex := range extractions {
		name := parts.DisplayNameFor(ex.ID)
		if unit, ok := manifest.Lookup(ex.ID); ok && unit.DisplayName != "" {
			name = unit.DisplayName
		}
		fmt.Fprintf(&b, "- %s \"%s\": %s, bbox %s\n", ex.ID, name, kindOf(ex.Shape), ex.BBox)
	}
	fmt.Fprintf(&b, `
Respond with one entry per part:
{"parts":[{"id":"wheel_front","parent_id":"chassis","pivot":[x,y],"motion_class":"%s"}]}

parent_id is null for roots. Parents must be parts from the list and the hierarchy must not contain cycles.`,
		enumList(parts.MotionClasses))
	return b.String()
}

func correctionPrompt(feedback string) string {
	return "Revise your previous answer using this feedback and respond with the complete corrected JSON in the same format:\n" +
		strings.TrimSpace(feedback)
}

func formatPoint(p geometry.Point) string {
	return fmt.Sprintf("[%.3f, %.3f]", p.X, p.Y)
}

func kindOf(s geometry.Shape) string {
	if s.IsZero() {
		return "shape"
	}
	return string(s.Kind())
}

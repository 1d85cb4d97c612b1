// Package geometry models part shapes in the normalized [0,1] image space.
//
// Shapes form a closed tagged union (circle, rounded rectangle, ellipse,
// freeform outline) behind the Primitive interface; the Shape envelope gives
// them a stable JSON encoding keyed by "type". Freeform outlines are stored as
// typed path segments rather than SVG path text, so scaling and clamping are
// structural transforms over points. Bounding boxes, pivots, and distance
// arithmetic live here as well.
//
// Out-of-range coordinates are clamped, never rejected: every Clamp is
// idempotent and a no-op on values already inside the unit square.
package geometry

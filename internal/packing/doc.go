// Package packing places parts into a fixed-size square canvas.
//
// Three algorithms are available. Row flows parts left to right under a
// uniform scale. Grid letterboxes each part into a uniform cell. MaxRects
// keeps a list of free rectangles and places the tallest parts first at the
// top-most, left-most spot that fits.
//
// Every placement sits inside [padding, canvas-padding] and keeps at least
// padding pixels from its neighbours. Row and MaxRects shrink the scale and
// retry when a layout does not fit. Parts that still cannot be placed land at
// the canvas origin and are listed in Layout.Overflow; such layouts overlap
// and fail Verify. Results depend only on the inputs.
package packing

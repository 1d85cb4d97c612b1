// Package atlas joins assembled parts with a packing layout.
//
// Build derives each part's intrinsic pixel size from its bounding box and
// the source image dimensions, packs the parts and returns PackedParts with
// their atlas rectangles. The resulting Atlas exposes the id to rectangle
// map and a correspondence list, in text and JSON, for the downstream image
// synthesis service. Render draws a reference atlas by copying each part's
// source region into its rectangle.
package atlas

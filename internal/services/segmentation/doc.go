// Package segmentation talks to the optional mask segmentation service and
// turns the dense masks it returns into freeform outlines.
//
// The service receives the source image and a rough box and answers with a
// mask, either as a raw PNG body or as JSON carrying a base64 PNG. Vectorize
// traces the largest foreground region with Moore-neighbour tracing,
// simplifies the contour with Douglas-Peucker and normalizes it into the same
// geometry.Outline the reasoning path produces. Regions that touch all four
// image edges are whole-frame artifacts and are discarded.
package segmentation

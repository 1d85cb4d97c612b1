// Package extraction solves the geometry of every manifest unit.
//
// Extract runs the per-unit self-correction loop: propose a candidate, render
// it over the source image, ask for a critique, and feed rejected attempts
// back into the next proposal until the reviewer accepts or the round cap is
// reached. Units tagged for mask segmentation try the segmentation service on
// their first round and fall back to reasoning proposals when it is missing
// or fails.
//
// Run fans units out in fixed-size batches. Each batch settles completely
// before the next starts, and a failing or panicking unit never affects its
// siblings.
package extraction

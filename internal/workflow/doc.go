// Package workflow drives one image through the decomposition pipeline.
//
// The Manager owns the pipeline Record and moves it through the stages
// idle, discovery, extraction, assembly and complete. Each stage runs only
// when the caller confirms the previous one; retries re-enter a stage either
// fresh or conversationally with caller feedback, and invalidate only the
// outputs that depend on it. A failed stage invocation leaves every output in
// the record untouched. Every reasoning and segmentation call is appended to
// the record's call log, and observers receive immutable snapshots as the
// state changes.
//
// Packing and hierarchy validation read the assembled parts and never change
// pipeline state. Snapshots can be persisted and restored so a run may be
// confirmed or retried across process invocations.
package workflow

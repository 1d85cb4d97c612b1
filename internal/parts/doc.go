// Package parts defines the records that flow through the decomposition
// pipeline: Discovery units and manifests, per-unit extractions, assembled
// parts with hierarchy, pivot and motion class, and unit failures.
//
// Enumerations accept loose model output through the Parse helpers and fall
// back to safe defaults. Identifier helpers keep ids unique and derive display
// names so downstream stages can key every record by id rather than position.
package parts

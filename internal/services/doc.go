// Package services defines shared utilities consumed by the pipeline stages
// and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, unit IDs, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so failures carry the stage
//     and operation they came from and can be classified with errors.Is.
//
// Every external call failure (no response, malformed payload) is reported
// with ErrService; callers never need to tell transport failures apart from
// bad model output.
package services

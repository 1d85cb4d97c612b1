// Package preflight provides readiness checks for the services and paths
// partforge depends on.
//
// The CLI runs RunAll before starting a pipeline so a missing API key or an
// unwritable data directory fails fast instead of after a discovery call.
// The "doctor" command prints every result. Checks for disabled features
// are skipped.
package preflight

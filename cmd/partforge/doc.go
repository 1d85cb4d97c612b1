// Package main hosts the partforge CLI entrypoint and command graph.
//
// Every pipeline command restores the selected run from the run store,
// performs one transition on a workflow manager and saves the resulting
// snapshot, so a review can happen between any two stages and across
// process restarts. Configuration loading, logger setup and run selection
// live in the command context so subcommands stay declarative.
package main

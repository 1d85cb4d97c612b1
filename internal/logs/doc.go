// Package logs reads the partforge log file for the "logs" command.
//
// Tail returns the last lines, optionally filtered to one run, together with
// the byte offset where reading stopped. Follow polls from that offset for
// new lines until the context is cancelled.
package logs

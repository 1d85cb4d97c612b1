// Package runstore persists pipeline runs in SQLite.
//
// Each run is stored as its latest workflow snapshot plus a normalized copy
// of the external call log. A file lock held for the lifetime of the Store
// keeps a single writer per data directory.
package runstore

package testsupport

import (
	"testing"

	"partforge/internal/config"
	"partforge/internal/runstore"
)

// MustOpenStore opens the run store under cfg's data directory and registers
// cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *runstore.Store {
	t.Helper()

	store, err := runstore.Open(cfg)
	if err != nil {
		t.Fatalf("runstore.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

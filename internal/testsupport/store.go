package testsupport

import (
	"testing"

	"permavid/internal/config"
	"permavid/internal/queue"
)

// MustOpenStore opens an archive store for tests and closes it on cleanup.
func MustOpenStore(t *testing.T, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

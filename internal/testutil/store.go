package testutil

import (
	"testing"

	"github.com/denismitr/earthbeat/internal/store"
)

const (
	Workspace = "+gardening.bxxx111"
	Suzy      = "@suzy.bjzee56v2hd6mv5r5ar3xqg3x3oyugf7fejpxnvhumyoi54ia4ppa"
	Fred      = "@fred.bdfc2idlslwxhl6o4kzbjvhevckdydmm2ahkkzkdnlgxvenalqwyq"
)

// NewTestStore creates a store with the given workspaces registered.
func NewTestStore(t *testing.T, clock store.Clock, workspaces ...string) *store.Store {
	t.Helper()

	s := store.New(store.Config{Clock: clock})
	for _, w := range workspaces {
		if err := s.AddWorkspace(w); err != nil {
			t.Fatalf("failed to add workspace %s: %v", w, err)
		}
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

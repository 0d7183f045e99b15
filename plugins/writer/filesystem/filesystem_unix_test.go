//go:build !windows

package filesystem

import (
	"errors"
	"testing"

	"labelsplit/pkg/contract"
)

// TestMapPathInvalidUnix Unix 下的越界路径
func TestMapPathInvalidUnix(t *testing.T) {
	flat := false
	w, _ := New(&Options{OutputDir: t.TempDir(), Flat: &flat})
	for _, id := range []string{"/abs", "..", ".", "../x"} {
		if _, err := w.mapPath(contract.ArtifactID(id)); !errors.Is(err, contract.ErrPathInvalid) {
			t.Fatalf("id %s expect invalid", id)
		}
	}
}

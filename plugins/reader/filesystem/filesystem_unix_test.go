//go:build !windows

package filesystem

import (
	"context"
	"io"
	"path/filepath"
	"syscall"
	"testing"

	"labelsplit/pkg/contract"
)

// TestWalkDirNonRegular 非常规文件被忽略（mkfifo 仅 Unix）
func TestWalkDirNonRegular(t *testing.T) {
	root := t.TempDir()
	if err := syscall.Mkfifo(filepath.Join(root, "fifo"), 0o644); err != nil {
		t.Fatalf("mkfifo: %v", err)
	}
	var visited []string
	err := New(nil).Iterate(context.Background(), []string{root}, func(id contract.FileID, rc io.ReadCloser) error {
		visited = append(visited, string(id))
		rc.Close()
		return nil
	})
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(visited) != 0 {
		t.Fatalf("non-regular should skip, visited %#v", visited)
	}
}

package testutil

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ebakup-go/internal/ebakup"
	"ebakup-go/internal/fs"
)

// FaultyFileSystem wraps the real filesystem and fails Open or
// RenameNoReplace for chosen paths.
type FaultyFileSystem struct {
	ebakup.FileSystem

	mu          sync.Mutex
	fails       map[string]error
	renameFails map[string]error
}

// NewFaultyFileSystem creates a FaultyFileSystem over the OS filesystem.
func NewFaultyFileSystem() *FaultyFileSystem {
	return &FaultyFileSystem{
		FileSystem:  fs.NewOSFileSystem(),
		fails:       map[string]error{},
		renameFails: map[string]error{},
	}
}

// FailOpen makes every later Open of path return err.
func (f *FaultyFileSystem) FailOpen(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fails[path] = err
}

func (f *FaultyFileSystem) Open(path string) (ebakup.File, error) {
	f.mu.Lock()
	err := f.fails[path]
	f.mu.Unlock()
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return f.FileSystem.Open(path)
}

// FailRenameOnce makes the next RenameNoReplace onto newPath return err.
func (f *FaultyFileSystem) FailRenameOnce(newPath string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renameFails[newPath] = err
}

func (f *FaultyFileSystem) RenameNoReplace(oldPath, newPath string) error {
	f.mu.Lock()
	err := f.renameFails[newPath]
	delete(f.renameFails, newPath)
	f.mu.Unlock()
	if err != nil {
		return &os.LinkError{Op: "rename", Old: oldPath, New: newPath, Err: err}
	}
	return f.FileSystem.RenameNoReplace(oldPath, newPath)
}

var _ ebakup.FileSystem = (*FaultyFileSystem)(nil)

// WriteTree creates files under root from a map of slash-separated relative
// paths to contents. Paths ending in "/" create empty directories. Every
// entry gets mtime as its modification time.
func WriteTree(t *testing.T, root string, files map[string]string, mtime time.Time) {
	t.Helper()
	for rel, data := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if rel[len(rel)-1] == '/' {
			if err := os.MkdirAll(path, 0755); err != nil {
				t.Fatal(err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(data), 0644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}
}

package testutil

import (
	"path/filepath"
	"testing"

	"ebakup-go/internal/blockfile"
	"ebakup-go/internal/collection"
	"ebakup-go/internal/ebakup"
	"ebakup-go/internal/fs"
)

// NewTestCollection creates an empty collection in a temporary directory.
// It uses small blocks so that tests spread items over several blocks.
func NewTestCollection(t *testing.T, clock ebakup.Clock) *collection.Collection {
	t.Helper()
	return NewTestCollectionWith(t, fs.NewOSFileSystem(), clock)
}

// NewTestCollectionWith is NewTestCollection on a custom filesystem.
func NewTestCollectionWith(t *testing.T, fsys ebakup.FileSystem, clock ebakup.Clock) *collection.Collection {
	t.Helper()
	root := filepath.Join(t.TempDir(), "collection")
	c, err := collection.Create(fsys, root, blockfile.Options{BlockSize: 512}, clock, NewStubIDGenerator(), ebakup.NewNopLogger())
	if err != nil {
		t.Fatalf("failed to create collection: %v", err)
	}
	return c
}

// ReopenCollection opens the collection at root again, as a new process would.
func ReopenCollection(t *testing.T, root string, clock ebakup.Clock) *collection.Collection {
	t.Helper()
	c, err := collection.Open(fs.NewOSFileSystem(), root, clock, NewStubIDGenerator(), ebakup.NewNopLogger())
	if err != nil {
		t.Fatalf("failed to open collection: %v", err)
	}
	return c
}

package ebakup

import (
	"io"
	"io/fs"
)

// FileSystem is the file-system adapter consumed by the storage engine.
// It abstracts file access so the engine can be tested and so locking and
// atomic renames are provided in one place.
type FileSystem interface {
	// Exists reports whether anything exists at path.
	Exists(path string) bool

	// Stat returns file info for path.
	Stat(path string) (fs.FileInfo, error)

	// Lstat returns file info for path without following a final symlink.
	Lstat(path string) (fs.FileInfo, error)

	// ReadDir returns the sorted names of the entries in a directory.
	ReadDir(path string) ([]string, error)

	// ReadLink returns the target of a symbolic link.
	ReadLink(path string) (string, error)

	// MkdirAll creates a directory and any missing parents.
	MkdirAll(path string) error

	// Open opens an existing file read-only.
	Open(path string) (File, error)

	// OpenReadWrite opens an existing file for reading and writing.
	OpenReadWrite(path string) (File, error)

	// Create opens path for reading and writing, creating it if needed.
	// Existing contents are kept so that a caller can lock the file before
	// truncating it.
	Create(path string) (File, error)

	// Remove deletes a file or an empty directory.
	Remove(path string) error

	// Rename atomically moves oldPath to newPath, replacing newPath.
	Rename(oldPath, newPath string) error

	// RenameNoReplace moves oldPath to newPath and fails with ErrExists
	// if newPath already exists.
	RenameNoReplace(oldPath, newPath string) error

	// CheapCopy makes dst share the bytes of src without copying them.
	CheapCopy(src, dst string) error
}

// File is an open file handle returned by a FileSystem.
type File interface {
	io.Reader
	io.Writer
	io.ReaderAt
	io.WriterAt
	io.Closer

	// Name returns the path the file was opened with.
	Name() string

	// Size returns the current file size.
	Size() (int64, error)

	// Lock takes a shared or exclusive advisory lock without blocking.
	// A conflicting lock held elsewhere is reported as ErrUsage.
	Lock(exclusive bool) error

	// Unlock releases a lock taken with Lock.
	Unlock() error

	// Truncate changes the size of the file.
	Truncate(size int64) error

	// Sync commits the file contents to stable storage.
	Sync() error
}

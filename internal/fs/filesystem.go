package fs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"ebakup-go/internal/ebakup"
)

// OSFileSystem is the real filesystem implementation of ebakup.FileSystem.
// It performs actual filesystem operations using the os package.
type OSFileSystem struct{}

// NewOSFileSystem creates a new adapter that operates on the real filesystem.
func NewOSFileSystem() *OSFileSystem {
	return &OSFileSystem{}
}

func (m *OSFileSystem) Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func (m *OSFileSystem) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

func (m *OSFileSystem) Lstat(path string) (fs.FileInfo, error) {
	return os.Lstat(path)
}

// ReadDir returns the entry names of a directory, sorted by name.
func (m *OSFileSystem) ReadDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

func (m *OSFileSystem) ReadLink(path string) (string, error) {
	return os.Readlink(path)
}

func (m *OSFileSystem) MkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}

func (m *OSFileSystem) Open(path string) (ebakup.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &osFile{File: f}, nil
}

func (m *OSFileSystem) OpenReadWrite(path string) (ebakup.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &osFile{File: f}, nil
}

func (m *OSFileSystem) Create(path string) (ebakup.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	return &osFile{File: f}, nil
}

func (m *OSFileSystem) Remove(path string) error {
	return os.Remove(path)
}

func (m *OSFileSystem) Rename(oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}

// RenameNoReplace links the file at its new name before removing the old
// one, so an existing target makes the link fail instead of being replaced.
func (m *OSFileSystem) RenameNoReplace(oldPath, newPath string) error {
	err := os.Link(oldPath, newPath)
	if err == nil {
		return os.Remove(oldPath)
	}
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("rename %s: %w: %s", oldPath, ebakup.ErrExists, newPath)
	}
	// Filesystems without hard links: fall back to a checked rename.
	if _, statErr := os.Lstat(newPath); statErr == nil {
		return fmt.Errorf("rename %s: %w: %s", oldPath, ebakup.ErrExists, newPath)
	}
	return os.Rename(oldPath, newPath)
}

// CheapCopy hard-links src at dst. When the two paths are on different
// devices the bytes are copied instead.
func (m *OSFileSystem) CheapCopy(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("creating parent of %s: %w", dst, err)
	}
	err := os.Link(src, dst)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("cheap copy to %s: %w", dst, ebakup.ErrExists)
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("linking %s: %w", dst, err)
	}
	return copyFile(src, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return out.Close()
}

// osFile adds size and locking to *os.File.
type osFile struct {
	*os.File
}

func (f *osFile) Size() (int64, error) {
	info, err := f.File.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Compile-time check that OSFileSystem implements ebakup.FileSystem interface
var _ ebakup.FileSystem = (*OSFileSystem)(nil)

package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"ebakup-go/internal/ebakup"
)

func TestOSFileSystem_RenameNoReplace(t *testing.T) {
	m := NewOSFileSystem()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")

	if err := os.WriteFile(src, []byte("one"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := m.RenameNoReplace(src, dst); err != nil {
		t.Fatalf("RenameNoReplace() error = %v", err)
	}
	if m.Exists(src) {
		t.Error("source still exists after rename")
	}

	if err := os.WriteFile(src, []byte("two"), 0644); err != nil {
		t.Fatal(err)
	}
	err := m.RenameNoReplace(src, dst)
	if !errors.Is(err, ebakup.ErrExists) {
		t.Fatalf("RenameNoReplace() onto existing target error = %v, want ErrExists", err)
	}
	data, _ := os.ReadFile(dst)
	if string(data) != "one" {
		t.Errorf("target overwritten: %q", data)
	}
}

func TestOSFileSystem_Lock(t *testing.T) {
	m := NewOSFileSystem()
	path := filepath.Join(t.TempDir(), "locked")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}

	t.Run("shared locks coexist", func(t *testing.T) {
		a, _ := m.Open(path)
		defer a.Close()
		b, _ := m.Open(path)
		defer b.Close()
		if err := a.Lock(false); err != nil {
			t.Fatalf("first shared lock: %v", err)
		}
		if err := b.Lock(false); err != nil {
			t.Fatalf("second shared lock: %v", err)
		}
	})

	t.Run("exclusive lock conflicts", func(t *testing.T) {
		a, _ := m.OpenReadWrite(path)
		defer a.Close()
		b, _ := m.Open(path)
		defer b.Close()
		if err := a.Lock(true); err != nil {
			t.Fatalf("exclusive lock: %v", err)
		}
		if err := b.Lock(false); !errors.Is(err, ebakup.ErrUsage) {
			t.Fatalf("conflicting lock error = %v, want ErrUsage", err)
		}
		if err := a.Unlock(); err != nil {
			t.Fatalf("Unlock() error = %v", err)
		}
		if err := b.Lock(false); err != nil {
			t.Fatalf("lock after unlock: %v", err)
		}
	})
}

func TestOSFileSystem_CheapCopy(t *testing.T) {
	m := NewOSFileSystem()
	dir := t.TempDir()
	src := filepath.Join(dir, "blob")
	dst := filepath.Join(dir, "shadow", "a", "file.txt")
	if err := os.WriteFile(src, []byte("shared"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := m.CheapCopy(src, dst); err != nil {
		t.Fatalf("CheapCopy() error = %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "shared" {
		t.Fatalf("copy content = %q, %v", data, err)
	}
	if err := m.CheapCopy(src, dst); !errors.Is(err, ebakup.ErrExists) {
		t.Errorf("second CheapCopy() error = %v, want ErrExists", err)
	}
}

func TestOSFileSystem_ReadDir(t *testing.T) {
	m := NewOSFileSystem()
	dir := t.TempDir()
	for _, n := range []string{"b", "a", "c"} {
		if err := os.WriteFile(filepath.Join(dir, n), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}
	names, err := m.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(names) != 3 || names[0] != "a" || names[2] != "c" {
		t.Errorf("ReadDir() = %v, want sorted [a b c]", names)
	}
}

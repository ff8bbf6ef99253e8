package backup_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ebakup-go/internal/backup"
	"ebakup-go/internal/codec"
	"ebakup-go/internal/collection"
	"ebakup-go/internal/content"
	"ebakup-go/internal/ebakup"
	"ebakup-go/internal/fs"
	"ebakup-go/internal/snapshot"
	"ebakup-go/internal/testutil"
)

var sourceTree = map[string]string{
	"a.txt":     "alpha",
	"sub/b.txt": "beta",
	"sub/c.txt": "alpha",
	"empty/":    "",
}

type env struct {
	clock      *testutil.StubClock
	collection *collection.Collection
	service    *backup.Service
	src        string
}

func setup(t *testing.T, fsys ebakup.FileSystem) *env {
	t.Helper()
	clock := testutil.FixedClock()
	c := testutil.NewTestCollection(t, clock)
	src := filepath.Join(t.TempDir(), "src")
	testutil.WriteTree(t, src, sourceTree, clock.Now().Add(-time.Hour))
	if err := os.Symlink("a.txt", filepath.Join(src, "link")); err != nil {
		t.Fatal(err)
	}
	return &env{
		clock:      clock,
		collection: c,
		service:    backup.NewService(c, fsys, ebakup.NewNopLogger(), clock),
		src:        src,
	}
}

func (e *env) backup(t *testing.T, sources ...backup.Source) (*snapshot.Snapshot, backup.Stats) {
	t.Helper()
	name, stats, err := e.service.Backup(context.Background(), sources)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	snap, err := e.collection.OpenBackup(name)
	if err != nil {
		t.Fatalf("OpenBackup: %v", err)
	}
	return snap, stats
}

func lookup(t *testing.T, snap *snapshot.Snapshot, p string) *snapshot.File {
	t.Helper()
	f, err := snap.Lookup(p)
	if err != nil {
		t.Fatalf("Lookup(%s): %v", p, err)
	}
	return f
}

func TestBackup(t *testing.T) {
	t.Run("records the source tree", func(t *testing.T) {
		e := setup(t, fs.NewOSFileSystem())
		snap, stats := e.backup(t, backup.Source{Path: e.src, Name: "home"})

		if snap.Name != snapshot.Name(e.clock.Now()) {
			t.Errorf("expected snapshot %s, got %s", snapshot.Name(e.clock.Now()), snap.Name)
		}
		want := backup.Stats{Directories: 3, Files: 3, Special: 1, Bytes: 14}
		if stats != want {
			t.Errorf("expected stats %+v, got %+v", want, stats)
		}

		a := lookup(t, snap, "home/a.txt")
		c := lookup(t, snap, "home/sub/c.txt")
		b := lookup(t, snap, "home/sub/b.txt")
		if a.ContentID != c.ContentID {
			t.Error("expected identical files to share content")
		}
		if a.ContentID == b.ContentID {
			t.Error("expected different files to have different content")
		}
		if a.ContentID != testutil.SHA256ContentID([]byte("alpha")) {
			t.Errorf("unexpected content id %s", a.ContentID)
		}
		if a.Size != 5 || a.Type != codec.FileRegular {
			t.Errorf("unexpected file entry %+v", a)
		}
		if !a.MTime.Equal(e.clock.Now().Add(-time.Hour)) {
			t.Errorf("expected mtime %v, got %v", e.clock.Now().Add(-time.Hour), a.MTime)
		}
		if a.Extra[backup.ExtraPerm] != "0644" {
			t.Errorf("expected perm 0644, got %q", a.Extra[backup.ExtraPerm])
		}
		if a.Extra[backup.ExtraOwner] == "" || a.Extra[backup.ExtraGroup] == "" {
			t.Errorf("expected owner and group, got %v", a.Extra)
		}
		if _, err := snap.LookupDir("home/empty"); err != nil {
			t.Errorf("expected empty directory: %v", err)
		}
	})

	t.Run("stores symlink targets as content", func(t *testing.T) {
		e := setup(t, fs.NewOSFileSystem())
		snap, _ := e.backup(t, backup.Source{Path: e.src, Name: "home"})

		link := lookup(t, snap, "home/link")
		if link.Type != codec.FileSymlink {
			t.Fatalf("expected symlink, got %s", link.Type)
		}
		if link.ContentID != testutil.SHA256ContentID([]byte("a.txt")) || link.Size != 5 {
			t.Errorf("unexpected link entry %+v", link)
		}
	})

	t.Run("defaults the name to the source base name", func(t *testing.T) {
		e := setup(t, fs.NewOSFileSystem())
		snap, _ := e.backup(t, backup.Source{Path: e.src})
		lookup(t, snap, "src/a.txt")
	})

	t.Run("records several sources", func(t *testing.T) {
		e := setup(t, fs.NewOSFileSystem())
		other := t.TempDir()
		testutil.WriteTree(t, other, map[string]string{"x": "beta"}, e.clock.Now())

		snap, _ := e.backup(t,
			backup.Source{Path: e.src, Name: "home"},
			backup.Source{Path: other, Name: "etc"})
		if lookup(t, snap, "etc/x").ContentID != lookup(t, snap, "home/sub/b.txt").ContentID {
			t.Error("expected content shared across sources")
		}
		if n := e.collection.Content().Len(); n != 3 {
			t.Errorf("expected 3 blobs, got %d", n)
		}
	})

	t.Run("second backup shares unchanged content", func(t *testing.T) {
		e := setup(t, fs.NewOSFileSystem())
		first, _ := e.backup(t, backup.Source{Path: e.src, Name: "home"})
		e.clock.Advance(time.Hour)
		if err := os.WriteFile(filepath.Join(e.src, "sub", "b.txt"), []byte("gamma"), 0644); err != nil {
			t.Fatal(err)
		}
		second, _ := e.backup(t, backup.Source{Path: e.src, Name: "home"})

		if first.Name == second.Name {
			t.Fatal("expected two snapshots")
		}
		if lookup(t, first, "home/a.txt").ContentID != lookup(t, second, "home/a.txt").ContentID {
			t.Error("expected unchanged file to keep its content id")
		}
		if lookup(t, first, "home/sub/b.txt").ContentID == lookup(t, second, "home/sub/b.txt").ContentID {
			t.Error("expected changed file to get new content")
		}
	})
}

func TestBackup_SkipsUnreadableFiles(t *testing.T) {
	faulty := testutil.NewFaultyFileSystem()
	e := setup(t, faulty)
	faulty.FailOpen(filepath.Join(e.src, "sub", "b.txt"), os.ErrPermission)

	snap, stats := e.backup(t, backup.Source{Path: e.src, Name: "home"})

	if stats.Skipped != 1 || stats.Files != 2 {
		t.Errorf("expected 2 files and 1 skipped, got %+v", stats)
	}
	if _, err := snap.Lookup("home/sub/b.txt"); !errors.Is(err, ebakup.ErrNotFound) {
		t.Errorf("expected skipped file to be missing, got %v", err)
	}
	lookup(t, snap, "home/sub/c.txt")
}

func TestBackup_IgnorePatterns(t *testing.T) {
	e := setup(t, fs.NewOSFileSystem())
	testutil.WriteTree(t, e.src, map[string]string{
		"scratch.tmp":     "x",
		"cache/data":      "y",
		"secret.txt":      "z",
		fs.IgnoreFileName: "secret.txt\n",
	}, e.clock.Now())

	snap, _ := e.backup(t, backup.Source{Path: e.src, Name: "home", Ignore: []string{"*.tmp", "cache/"}})

	for _, p := range []string{"home/scratch.tmp", "home/secret.txt", "home/" + fs.IgnoreFileName} {
		if _, err := snap.Lookup(p); !errors.Is(err, ebakup.ErrNotFound) {
			t.Errorf("expected %s to be ignored, got %v", p, err)
		}
	}
	if _, err := snap.LookupDir("home/cache"); !errors.Is(err, ebakup.ErrNotFound) {
		t.Errorf("expected cache to be ignored, got %v", err)
	}
	lookup(t, snap, "home/a.txt")
}

func TestBackup_Errors(t *testing.T) {
	t.Run("no sources", func(t *testing.T) {
		e := setup(t, fs.NewOSFileSystem())
		_, _, err := e.service.Backup(context.Background(), nil)
		if !errors.Is(err, ebakup.ErrUsage) {
			t.Errorf("expected ErrUsage, got %v", err)
		}
	})

	t.Run("source is a file", func(t *testing.T) {
		e := setup(t, fs.NewOSFileSystem())
		_, _, err := e.service.Backup(context.Background(), []backup.Source{{Path: filepath.Join(e.src, "a.txt")}})
		if !errors.Is(err, ebakup.ErrUsage) {
			t.Errorf("expected ErrUsage, got %v", err)
		}
		names, err := e.collection.ListBackups()
		if err != nil {
			t.Fatal(err)
		}
		if len(names) != 0 {
			t.Errorf("expected failed backup to leave no snapshot, got %v", names)
		}
	})

	t.Run("duplicate source names", func(t *testing.T) {
		e := setup(t, fs.NewOSFileSystem())
		_, _, err := e.service.Backup(context.Background(), []backup.Source{
			{Path: e.src, Name: "home"},
			{Path: e.src, Name: "home"},
		})
		if !errors.Is(err, ebakup.ErrUsage) {
			t.Errorf("expected ErrUsage, got %v", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		e := setup(t, fs.NewOSFileSystem())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, _, err := e.service.Backup(ctx, []backup.Source{{Path: e.src}})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestRestore(t *testing.T) {
	t.Run("whole tree", func(t *testing.T) {
		e := setup(t, fs.NewOSFileSystem())
		snap, _ := e.backup(t, backup.Source{Path: e.src, Name: "home"})
		dest := filepath.Join(t.TempDir(), "out")

		written, err := e.service.Restore(context.Background(), snap.Name, "home", dest)
		if err != nil {
			t.Fatalf("Restore: %v", err)
		}
		if len(written) != 4 {
			t.Errorf("expected 4 restored files, got %v", written)
		}
		for rel, want := range map[string]string{"a.txt": "alpha", "sub/b.txt": "beta", "sub/c.txt": "alpha"} {
			path := filepath.Join(dest, filepath.FromSlash(rel))
			got, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != want {
				t.Errorf("%s: expected %q, got %q", rel, want, got)
			}
			info, err := os.Stat(path)
			if err != nil {
				t.Fatal(err)
			}
			if !info.ModTime().Equal(e.clock.Now().Add(-time.Hour)) {
				t.Errorf("%s: mtime not restored: %v", rel, info.ModTime())
			}
		}
		target, err := os.Readlink(filepath.Join(dest, "link"))
		if err != nil || target != "a.txt" {
			t.Errorf("expected link to a.txt, got %q (%v)", target, err)
		}
		if info, err := os.Stat(filepath.Join(dest, "empty")); err != nil || !info.IsDir() {
			t.Errorf("expected empty directory, got %v", err)
		}
	})

	t.Run("single file", func(t *testing.T) {
		e := setup(t, fs.NewOSFileSystem())
		snap, _ := e.backup(t, backup.Source{Path: e.src, Name: "home"})
		dest := t.TempDir()

		written, err := e.service.Restore(context.Background(), snap.Name, "home/sub/b.txt", dest)
		if err != nil {
			t.Fatalf("Restore: %v", err)
		}
		if len(written) != 1 || written[0] != filepath.Join(dest, "b.txt") {
			t.Errorf("unexpected output %v", written)
		}
	})

	t.Run("never overwrites", func(t *testing.T) {
		e := setup(t, fs.NewOSFileSystem())
		snap, _ := e.backup(t, backup.Source{Path: e.src, Name: "home"})
		dest := t.TempDir()
		if err := os.WriteFile(filepath.Join(dest, "b.txt"), []byte("mine"), 0644); err != nil {
			t.Fatal(err)
		}

		_, err := e.service.Restore(context.Background(), snap.Name, "home/sub/b.txt", dest)
		if !errors.Is(err, ebakup.ErrExists) {
			t.Errorf("expected ErrExists, got %v", err)
		}
		if got, _ := os.ReadFile(filepath.Join(dest, "b.txt")); string(got) != "mine" {
			t.Errorf("existing file changed to %q", got)
		}
	})

	t.Run("unknown path", func(t *testing.T) {
		e := setup(t, fs.NewOSFileSystem())
		snap, _ := e.backup(t, backup.Source{Path: e.src, Name: "home"})

		_, err := e.service.Restore(context.Background(), snap.Name, "home/nope", t.TempDir())
		if !errors.Is(err, ebakup.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("corrupt content is not written", func(t *testing.T) {
		e := setup(t, fs.NewOSFileSystem())
		snap, _ := e.backup(t, backup.Source{Path: e.src, Name: "home"})
		id := lookup(t, snap, "home/sub/b.txt").ContentID
		if err := os.WriteFile(e.collection.Content().BlobPath(id), []byte("bent"), 0644); err != nil {
			t.Fatal(err)
		}
		dest := t.TempDir()

		_, err := e.service.Restore(context.Background(), snap.Name, "home/sub/b.txt", dest)
		if !errors.Is(err, content.ErrContentCorrupt) {
			t.Errorf("expected ErrContentCorrupt, got %v", err)
		}
		if _, err := os.Stat(filepath.Join(dest, "b.txt")); !os.IsNotExist(err) {
			t.Errorf("expected no output file, got %v", err)
		}
	})
}

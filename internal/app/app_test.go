package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ebakup-go/internal/config"
	"ebakup-go/internal/database"
	"ebakup-go/internal/ebakup"
	"ebakup-go/internal/model"
	"ebakup-go/internal/testutil"
)

// testEnv is a config in a temp dir with one source tree.
type testEnv struct {
	cfg   *config.Config
	clock *testutil.StubClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	base := t.TempDir()
	cfg := config.NewConfig(base)
	cfg.Collection.BlockSize = 512
	src := filepath.Join(base, "src")
	testutil.WriteTree(t, src, map[string]string{
		"notes.txt":      "remember",
		"photos/cat.jpg": "meow",
	}, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg.Sources = []config.SourceConfig{{Path: src, Name: "home"}}
	return &testEnv{cfg: cfg, clock: testutil.FixedClock()}
}

// open builds an app for one operation, as one CLI invocation would.
func (e *testEnv) open(t *testing.T, operation string) *EbakupApp {
	t.Helper()
	journal, err := database.NewJournalFromConfig(e.cfg.Journal, e.clock)
	if err != nil {
		t.Fatalf("opening journal: %v", err)
	}
	return newEbakupApp(e.cfg, operation, deps{
		journal: journal,
		clock:   e.clock,
		ids:     testutil.NewStubIDGenerator(),
		logger:  ebakup.NewNopLogger(),
	})
}

func (e *testEnv) run(t *testing.T, operation string, fn func(a *EbakupApp) error) {
	t.Helper()
	a := e.open(t, operation)
	err := fn(a)
	if cerr := a.Close(); cerr != nil {
		t.Fatalf("Close() error = %v", cerr)
	}
	if err != nil {
		t.Fatalf("%s: %v", operation, err)
	}
	e.clock.Advance(time.Minute)
}

func (e *testEnv) history(t *testing.T) []*model.Operation {
	t.Helper()
	a := e.open(t, "history")
	defer a.Close()
	ops, err := a.History(100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	return ops
}

func TestEbakupApp_Lifecycle(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.run(t, "create", func(a *EbakupApp) error { return a.CreateCollection() })

	var name string
	e.run(t, "backup", func(a *EbakupApp) error {
		n, stats, err := a.Backup(ctx)
		name = n
		if err == nil && stats.Files != 2 {
			t.Errorf("expected 2 files, got %+v", stats)
		}
		return err
	})

	e.run(t, "list", func(a *EbakupApp) error {
		names, err := a.ListBackups()
		if err == nil && (len(names) != 1 || names[0] != name) {
			t.Errorf("ListBackups() = %v, want [%s]", names, name)
		}
		return err
	})

	e.run(t, "show", func(a *EbakupApp) error {
		snap, err := a.ShowBackup("")
		if err != nil {
			return err
		}
		f, err := snap.Lookup("home/photos/cat.jpg")
		if err != nil {
			return err
		}
		info, err := a.ContentInfo(f.ContentID.Hex())
		if err == nil && len(info.Timeline) != 1 {
			t.Errorf("expected one timeline entry, got %d", len(info.Timeline))
		}
		return err
	})

	e.run(t, "log", func(a *EbakupApp) error {
		versions, err := a.FileHistory("home/notes.txt")
		if err == nil && (len(versions) != 1 || versions[0].Snapshot != name) {
			t.Errorf("unexpected versions %+v", versions)
		}
		return err
	})

	e.run(t, "verify", func(a *EbakupApp) error {
		report, err := a.Verify(ctx, true)
		if err == nil && (!report.OK() || report.Checked != 2) {
			t.Errorf("unexpected report %+v", report)
		}
		return err
	})

	shadow := filepath.Join(t.TempDir(), "shadow")
	e.run(t, "shadow", func(a *EbakupApp) error {
		n, err := a.Shadow(name, shadow)
		if err == nil && n != 2 {
			t.Errorf("Shadow() = %d, want 2", n)
		}
		return err
	})
	if data, err := os.ReadFile(filepath.Join(shadow, "home", "notes.txt")); err != nil || string(data) != "remember" {
		t.Errorf("shadow tree content = %q (%v)", data, err)
	}

	dest := filepath.Join(t.TempDir(), "restored")
	e.run(t, "restore", func(a *EbakupApp) error {
		_, err := a.Restore(ctx, name, "home/photos", dest)
		return err
	})
	if data, err := os.ReadFile(filepath.Join(dest, "cat.jpg")); err != nil || string(data) != "meow" {
		t.Errorf("restored content = %q (%v)", data, err)
	}

	ops := e.history(t)
	want := []string{"restore", "shadow", "verify", "backup", "create"}
	if len(ops) != len(want) {
		t.Fatalf("expected %d journal entries, got %d", len(want), len(ops))
	}
	for i, op := range ops {
		if op.Operation != want[i] {
			t.Errorf("entry %d: operation = %q, want %q", i, op.Operation, want[i])
		}
		if op.Status != model.StatusSuccess || !op.Finished() {
			t.Errorf("entry %d: unexpected %+v", i, op)
		}
	}
	if ops[3].Detail != name {
		t.Errorf("backup detail = %q, want %q", ops[3].Detail, name)
	}
	if ops[2].Parameters != "record=true" || ops[2].Detail != "checked=2 missing=0 corrupt=0" {
		t.Errorf("unexpected verify entry %+v", ops[2])
	}
}

func TestEbakupApp_VerifyCorruption(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.run(t, "create", func(a *EbakupApp) error { return a.CreateCollection() })
	e.run(t, "backup", func(a *EbakupApp) error {
		_, _, err := a.Backup(ctx)
		return err
	})

	blob := ""
	e.run(t, "show", func(a *EbakupApp) error {
		snap, err := a.ShowBackup("")
		if err != nil {
			return err
		}
		f, err := snap.Lookup("home/notes.txt")
		if err != nil {
			return err
		}
		blob = a.collection.Content().BlobPath(f.ContentID)
		return nil
	})
	if err := os.WriteFile(blob, []byte("forgotte"), 0644); err != nil {
		t.Fatal(err)
	}

	e.run(t, "verify", func(a *EbakupApp) error {
		report, err := a.Verify(ctx, false)
		if err == nil && len(report.Corrupt) != 1 {
			t.Errorf("expected one corrupt blob, got %+v", report)
		}
		return err
	})

	ops := e.history(t)
	if ops[0].Operation != "verify" || ops[0].Status != model.StatusError {
		t.Errorf("expected failed verify entry, got %+v", ops[0])
	}
	if ops[0].Detail != "checked=2 missing=0 corrupt=1" {
		t.Errorf("Detail = %q", ops[0].Detail)
	}
}

func TestEbakupApp_FailedOperationIsJournaled(t *testing.T) {
	e := newTestEnv(t)

	a := e.open(t, "backup")
	_, _, err := a.Backup(context.Background())
	if err == nil {
		t.Fatal("expected backup without a collection to fail")
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	ops := e.history(t)
	if len(ops) != 1 {
		t.Fatalf("expected 1 journal entry, got %d", len(ops))
	}
	if ops[0].Status != model.StatusError || ops[0].Detail == "" {
		t.Errorf("unexpected entry %+v", ops[0])
	}
}

func TestEbakupApp_ReadOnlyCommandsAreNotJournaled(t *testing.T) {
	e := newTestEnv(t)
	e.run(t, "create", func(a *EbakupApp) error { return a.CreateCollection() })
	e.run(t, "list", func(a *EbakupApp) error {
		_, err := a.ListBackups()
		return err
	})

	a := e.open(t, "show")
	_, err := a.ShowBackup("")
	a.Close()
	if !errors.Is(err, ebakup.ErrNotFound) {
		t.Errorf("expected ErrNotFound for an empty collection, got %v", err)
	}

	if ops := e.history(t); len(ops) != 1 {
		t.Errorf("expected only the create entry, got %d entries", len(ops))
	}
}

func TestNewEbakupApp_InvalidConfig(t *testing.T) {
	cfg := config.NewConfig(t.TempDir())
	cfg.Journal.Type = "postgres"
	if _, err := NewEbakupApp(cfg, "list", false); err == nil {
		t.Error("expected error for invalid config")
	}
}

package database

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"ebakup-go/internal/ebakup"
	"ebakup-go/internal/model"
)

// stepClock is a settable clock. testutil cannot be used here since it
// imports this package.
type stepClock struct{ now time.Time }

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time          { return c.now }
func (c *stepClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// newTestJournal creates an in-memory journal driven by clock.
func newTestJournal(t *testing.T, clock ebakup.Clock) *SQLiteJournal {
	t.Helper()

	j, err := NewSQLiteJournal(":memory:", clock)
	if err != nil {
		t.Fatalf("failed to create journal: %v", err)
	}
	t.Cleanup(func() {
		j.Close()
	})
	return j
}

func TestSQLiteJournal_StartOperation(t *testing.T) {
	clock := newStepClock()
	j := newTestJournal(t, clock)

	op, err := j.StartOperation("backup", "home,etc")
	if err != nil {
		t.Fatalf("StartOperation() error = %v", err)
	}
	if op.ID == 0 {
		t.Error("expected an assigned ID")
	}
	if op.Status != model.StatusRunning || op.Finished() {
		t.Errorf("expected running operation, got %+v", op)
	}
	if !op.StartedAt.Equal(clock.Now()) {
		t.Errorf("StartedAt = %v, want %v", op.StartedAt, clock.Now())
	}

	second, err := j.StartOperation("verify", "")
	if err != nil {
		t.Fatalf("StartOperation() error = %v", err)
	}
	if second.ID <= op.ID {
		t.Errorf("expected increasing IDs, got %d then %d", op.ID, second.ID)
	}
}

func TestSQLiteJournal_FinishOperation(t *testing.T) {
	t.Run("records status and detail", func(t *testing.T) {
		clock := newStepClock()
		j := newTestJournal(t, clock)
		op, err := j.StartOperation("backup", "")
		if err != nil {
			t.Fatal(err)
		}
		clock.Advance(90 * time.Second)

		if err := j.FinishOperation(op.ID, model.StatusSuccess, "2024/01-15T10:30"); err != nil {
			t.Fatalf("FinishOperation() error = %v", err)
		}

		ops, err := j.ListOperations(10)
		if err != nil {
			t.Fatal(err)
		}
		if len(ops) != 1 {
			t.Fatalf("expected 1 operation, got %d", len(ops))
		}
		got := ops[0]
		if got.Status != model.StatusSuccess || got.Detail != "2024/01-15T10:30" {
			t.Errorf("unexpected operation %+v", got)
		}
		if !got.Finished() || got.Duration() != 90*time.Second {
			t.Errorf("expected 90s duration, got %v", got.Duration())
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		j := newTestJournal(t, newStepClock())
		err := j.FinishOperation(42, model.StatusError, "")
		if !errors.Is(err, ebakup.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("finishing twice", func(t *testing.T) {
		j := newTestJournal(t, newStepClock())
		op, err := j.StartOperation("create", "")
		if err != nil {
			t.Fatal(err)
		}
		if err := j.FinishOperation(op.ID, model.StatusSuccess, ""); err != nil {
			t.Fatal(err)
		}
		if err := j.FinishOperation(op.ID, model.StatusError, ""); !errors.Is(err, ebakup.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestSQLiteJournal_ListOperations(t *testing.T) {
	clock := newStepClock()
	j := newTestJournal(t, clock)
	for _, name := range []string{"create", "backup", "verify"} {
		if _, err := j.StartOperation(name, ""); err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Minute)
	}

	ops, err := j.ListOperations(2)
	if err != nil {
		t.Fatalf("ListOperations() error = %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("expected 2 operations, got %d", len(ops))
	}
	if ops[0].Operation != "verify" || ops[1].Operation != "backup" {
		t.Errorf("expected newest first, got %s, %s", ops[0].Operation, ops[1].Operation)
	}
	if ops[0].Finished() {
		t.Error("expected running operation to have no finish time")
	}
}

func TestSQLiteJournal_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), JournalFileName)
	j, err := NewSQLiteJournal(path, newStepClock())
	if err != nil {
		t.Fatal(err)
	}
	op, err := j.StartOperation("backup", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := j.FinishOperation(op.ID, model.StatusSuccess, "done"); err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewSQLiteJournal(path, newStepClock())
	if err != nil {
		t.Fatalf("reopening journal: %v", err)
	}
	defer reopened.Close()
	ops, err := reopened.ListOperations(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 || ops[0].Detail != "done" {
		t.Errorf("unexpected operations after reopen: %+v", ops)
	}
}

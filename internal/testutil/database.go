package testutil

import (
	"testing"

	"ebakup-go/internal/database"
	"ebakup-go/internal/ebakup"
)

// NewTestJournal creates a new in-memory journal with schema applied.
// The journal is automatically closed when the test completes.
func NewTestJournal(t *testing.T, clock ebakup.Clock) ebakup.Journal {
	t.Helper()

	j, err := database.NewSQLiteJournal(":memory:", clock)
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}

	t.Cleanup(func() {
		j.Close()
	})

	return j
}

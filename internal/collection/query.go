package collection

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"time"

	"ebakup-go/internal/snapshot"
)

// ListBackups returns the names of all committed snapshots, oldest first.
func (c *Collection) ListBackups() ([]string, error) {
	dbDir := filepath.Join(c.root, "db")
	years, err := c.fsys.ReadDir(dbDir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dbDir, err)
	}
	var names []string
	for _, year := range years {
		if !snapshot.IsYearDir(year) {
			continue
		}
		entries, err := c.fsys.ReadDir(filepath.Join(dbDir, year))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", year, err)
		}
		for _, e := range entries {
			name := year + "/" + e
			if _, err := snapshot.ParseName(name); err == nil {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// OpenBackup reads the snapshot called name.
func (c *Collection) OpenBackup(name string) (*snapshot.Snapshot, error) {
	return snapshot.Open(c.fsys, c.root, name)
}

// MostRecentBackup returns the newest snapshot, or nil if there is none.
func (c *Collection) MostRecentBackup() (*snapshot.Snapshot, error) {
	return c.pick(func(names []string) int { return len(names) - 1 })
}

// MostRecentBackupBefore returns the newest snapshot started in a minute
// before the minute of t, or nil if there is none.
func (c *Collection) MostRecentBackupBefore(t time.Time) (*snapshot.Snapshot, error) {
	limit := snapshot.Name(t)
	return c.pick(func(names []string) int {
		return sort.SearchStrings(names, limit) - 1
	})
}

// OldestBackup returns the oldest snapshot, or nil if there is none.
func (c *Collection) OldestBackup() (*snapshot.Snapshot, error) {
	return c.pick(func([]string) int { return 0 })
}

// OldestBackupAfter returns the oldest snapshot started in a minute after
// the minute of t, or nil if there is none.
func (c *Collection) OldestBackupAfter(t time.Time) (*snapshot.Snapshot, error) {
	limit := snapshot.Name(t)
	return c.pick(func(names []string) int {
		return sort.Search(len(names), func(i int) bool { return names[i] > limit })
	})
}

// pick opens the snapshot at the index chosen from the sorted names.
func (c *Collection) pick(choose func([]string) int) (*snapshot.Snapshot, error) {
	names, err := c.ListBackups()
	if err != nil {
		return nil, err
	}
	i := choose(names)
	if i < 0 || i >= len(names) {
		return nil, nil
	}
	return c.OpenBackup(names[i])
}

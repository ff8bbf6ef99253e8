// Package snapshot reads and writes snapshot logs: one BlockFile per backup
// recording the directory tree and file metadata at the time of the backup.
package snapshot

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"ebakup-go/internal/ebakup"
)

const (
	// NameFormat names a snapshot after the minute it was started.
	// Lexical order of names is chronological order.
	NameFormat = "2006/01-02T15:04"

	// TimeFormat is the format of the start and end settings.
	TimeFormat = "2006-01-02T15:04:05"

	SettingStart = "start"
	SettingEnd   = "end"
)

// Name returns the snapshot name for a backup started at t.
func Name(t time.Time) string {
	return t.UTC().Format(NameFormat)
}

// ParseName returns the start minute encoded in a snapshot name.
func ParseName(name string) (time.Time, error) {
	t, err := time.Parse(NameFormat, name)
	if err != nil {
		return time.Time{}, ebakup.Usagef("invalid snapshot name %q", name)
	}
	return t, nil
}

// Path returns the snapshot log path for name under a collection root.
func Path(root, name string) string {
	return filepath.Join(root, "db", filepath.FromSlash(name))
}

// IsYearDir reports whether a directory entry under db/ holds snapshots.
func IsYearDir(name string) bool {
	if len(name) != 4 {
		return false
	}
	for _, c := range name {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// formatTime and parseTime handle the start and end settings.
func formatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(TimeFormat, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid timestamp %q", ebakup.ErrDataCorrupt, value)
	}
	return t, nil
}

// validName checks a directory entry name.
func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, "/\x00")
}

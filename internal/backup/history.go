package backup

import (
	"errors"
	"fmt"
	"time"

	"ebakup-go/internal/ebakup"
)

// FileVersion is one recorded state of a file.
type FileVersion struct {
	Snapshot  string
	ContentID ebakup.ContentID
	Size      uint64
	MTime     time.Time
	Changed   bool // content differs from the next older version
}

// FileHistory returns the versions of the file at path (relative to the
// snapshot root) across all snapshots, newest first. Snapshots that do not
// contain the file are left out.
func (s *Service) FileHistory(path string) ([]*FileVersion, error) {
	names, err := s.collection.ListBackups()
	if err != nil {
		return nil, err
	}

	var versions []*FileVersion
	var prev ebakup.ContentID
	for _, name := range names {
		snap, err := s.collection.OpenBackup(name)
		if err != nil {
			return nil, fmt.Errorf("reading snapshot %s: %w", name, err)
		}
		f, err := snap.Lookup(path)
		if errors.Is(err, ebakup.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		versions = append(versions, &FileVersion{
			Snapshot:  name,
			ContentID: f.ContentID,
			Size:      f.Size,
			MTime:     f.MTime,
			Changed:   len(versions) == 0 || f.ContentID != prev,
		})
		prev = f.ContentID
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("file %s has no backup history: %w", path, ebakup.ErrNotFound)
	}

	for i, j := 0, len(versions)-1; i < j; i, j = i+1, j-1 {
		versions[i], versions[j] = versions[j], versions[i]
	}
	s.logger.Debug("file history", "path", path, "versions", len(versions))
	return versions, nil
}

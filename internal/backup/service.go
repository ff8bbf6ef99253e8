package backup

import (
	"context"
	"fmt"
	iofs "io/fs"
	"path/filepath"
	"strconv"

	"ebakup-go/internal/collection"
	"ebakup-go/internal/ebakup"
	"ebakup-go/internal/snapshot"
)

// Extra attribute keys recorded for every directory and file.
const (
	ExtraOwner = "owner"
	ExtraGroup = "group"
	ExtraPerm  = "perm"
)

// Source is one tree to back up. The tree is recorded in the snapshot under
// Name, or under the base name of Path when Name is empty.
type Source struct {
	Path   string
	Name   string
	Ignore []string
}

func (s Source) snapshotName() string {
	if s.Name != "" {
		return s.Name
	}
	return filepath.Base(s.Path)
}

// Stats counts what a backup recorded.
type Stats struct {
	Directories int
	Files       int
	Special     int
	Skipped     int
	Bytes       int64
}

// StatExtractor reads ownership details from a FileInfo. The OS filesystem
// implements it; filesystems that do not are backed up without ownership.
type StatExtractor interface {
	ExtractStatData(info iofs.FileInfo) (*ebakup.StatData, error)
}

// Service backs source trees up into a collection and restores them.
type Service struct {
	collection *collection.Collection
	fsys       ebakup.FileSystem
	logger     ebakup.Logger
	clock      ebakup.Clock
}

func NewService(c *collection.Collection, fsys ebakup.FileSystem, logger ebakup.Logger, clock ebakup.Clock) *Service {
	return &Service{
		collection: c,
		fsys:       fsys,
		logger:     logger,
		clock:      clock,
	}
}

// Backup records every source in one new snapshot and returns its name.
// Source files that cannot be read, or that change while being read, are
// logged and left out. Any other failure aborts the snapshot.
func (s *Service) Backup(ctx context.Context, sources []Source) (string, Stats, error) {
	var stats Stats
	if len(sources) == 0 {
		return "", stats, ebakup.Usagef("no sources to back up")
	}
	s.logger.Info("backup started", "sources", len(sources))

	name, err := s.collection.WithBackup(s.clock.Now(), func(b *collection.Builder) error {
		for _, src := range sources {
			w, err := s.newWalker(ctx, b, src, &stats)
			if err != nil {
				return err
			}
			if err := w.backupSource(); err != nil {
				return fmt.Errorf("backing up %s: %w", src.Path, err)
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("backup failed", "error", err)
		return "", stats, err
	}

	s.logger.Info("backup complete",
		"snapshot", name,
		"directories", stats.Directories,
		"files", stats.Files,
		"special", stats.Special,
		"skipped", stats.Skipped,
		"bytes", stats.Bytes)
	return name, stats, nil
}

// extras builds the extra attributes for a source entry.
func (s *Service) extras(info iofs.FileInfo) snapshot.Extra {
	extra := snapshot.Extra{
		ExtraPerm: fmt.Sprintf("%04o", uint32(info.Mode().Perm())),
	}
	se, ok := s.fsys.(StatExtractor)
	if !ok {
		return extra
	}
	stat, err := se.ExtractStatData(info)
	if err != nil {
		s.logger.Debug("no ownership data", "name", info.Name(), "error", err)
		return extra
	}
	extra[ExtraOwner] = stat.Owner
	if stat.Owner == "" {
		extra[ExtraOwner] = strconv.FormatInt(stat.UID, 10)
	}
	extra[ExtraGroup] = stat.Group
	if stat.Group == "" {
		extra[ExtraGroup] = strconv.FormatInt(stat.GID, 10)
	}
	return extra
}

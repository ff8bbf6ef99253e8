package backup

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"path/filepath"
	"strings"

	"ebakup-go/internal/codec"
	"ebakup-go/internal/collection"
	"ebakup-go/internal/ebakup"
	"ebakup-go/internal/fs"
	"ebakup-go/internal/snapshot"
)

// walker records one source tree into a builder.
type walker struct {
	s      *Service
	ctx    context.Context
	b      *collection.Builder
	src    Source
	ignore *fs.IgnoreMatcher
	stats  *Stats
}

func (s *Service) newWalker(ctx context.Context, b *collection.Builder, src Source, stats *Stats) (*walker, error) {
	abs, err := filepath.Abs(src.Path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", src.Path, err)
	}
	src.Path = abs

	patterns := append([]string{}, src.Ignore...)
	extra, err := fs.ParseIgnoreFile(filepath.Join(abs, fs.IgnoreFileName))
	if err != nil {
		return nil, err
	}
	patterns = append(patterns, extra...)

	return &walker{
		s:      s,
		ctx:    ctx,
		b:      b,
		src:    src,
		ignore: fs.NewIgnoreMatcher(patterns),
		stats:  stats,
	}, nil
}

func (w *walker) backupSource() error {
	info, err := w.s.fsys.Stat(w.src.Path)
	if err != nil {
		return fmt.Errorf("reading source: %w", err)
	}
	if !info.IsDir() {
		return ebakup.Usagef("source %s is not a directory", w.src.Path)
	}
	id, err := w.b.AddDirectory(snapshot.RootID, w.src.snapshotName(), w.s.extras(info))
	if err != nil {
		return err
	}
	w.stats.Directories++
	return w.backupDir(id, "")
}

// backupDir records the entries of the directory at rel, relative to the
// source root, under the snapshot directory dirID.
func (w *walker) backupDir(dirID uint64, rel string) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	names, err := w.s.fsys.ReadDir(filepath.Join(w.src.Path, rel))
	if err != nil {
		if rel == "" {
			return fmt.Errorf("listing source: %w", err)
		}
		return w.skip(rel, err)
	}
	for _, name := range names {
		childRel := filepath.Join(rel, name)
		if err := w.backupEntry(dirID, name, childRel); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) backupEntry(dirID uint64, name, rel string) error {
	path := filepath.Join(w.src.Path, rel)
	info, err := w.s.fsys.Lstat(path)
	if err != nil {
		return w.skip(rel, err)
	}
	mode := info.Mode()
	if w.ignore.Match(rel, mode.IsDir()) {
		w.s.logger.Debug("ignored", "path", rel)
		return nil
	}

	switch {
	case mode.IsDir():
		id, err := w.b.AddDirectory(dirID, name, w.s.extras(info))
		if err != nil {
			return err
		}
		w.stats.Directories++
		return w.backupDir(id, rel)
	case mode.IsRegular():
		return w.backupFile(dirID, name, rel, info)
	default:
		return w.backupSpecial(dirID, name, rel, info)
	}
}

// backupFile stores the contents of a regular file and records it.
func (w *walker) backupFile(dirID uint64, name, rel string, before iofs.FileInfo) error {
	path := filepath.Join(w.src.Path, rel)
	f, err := w.s.fsys.Open(path)
	if err != nil {
		return w.skip(rel, err)
	}
	id, err := w.b.AddContent(w.ctx, f)
	f.Close()
	if err != nil {
		// Read errors on the source file carry its path; anything else is
		// a collection failure.
		var perr *iofs.PathError
		if errors.As(err, &perr) && perr.Path == path {
			return w.skip(rel, err)
		}
		return fmt.Errorf("storing %s: %w", rel, err)
	}

	after, err := w.s.fsys.Lstat(path)
	if err != nil {
		return w.skip(rel, err)
	}
	if err := validateUnchanged(before, after); err != nil {
		return w.skip(rel, fmt.Errorf("file changed during backup: %w", err))
	}

	err = w.b.AddFile(dirID, snapshot.FileEntry{
		Name:      name,
		ContentID: id,
		Size:      uint64(before.Size()),
		MTime:     before.ModTime(),
		Type:      codec.FileRegular,
		Extra:     w.s.extras(before),
	})
	if err != nil {
		return err
	}
	w.stats.Files++
	w.stats.Bytes += before.Size()
	w.s.logger.Debug("file backed up", "path", rel, "content_id", id.Hex())
	return nil
}

// backupSpecial records a symlink, pipe, socket or device. A symlink's
// target is stored as its content; the others have no content.
func (w *walker) backupSpecial(dirID uint64, name, rel string, info iofs.FileInfo) error {
	ft, ok := specialType(info.Mode())
	if !ok {
		w.s.logger.Warn("unsupported file type, not backed up", "path", rel, "mode", info.Mode().String())
		w.stats.Skipped++
		return nil
	}
	entry := snapshot.FileEntry{
		Name:  name,
		MTime: info.ModTime(),
		Type:  ft,
		Extra: w.s.extras(info),
	}
	if ft == codec.FileSymlink {
		target, err := w.s.fsys.ReadLink(filepath.Join(w.src.Path, rel))
		if err != nil {
			return w.skip(rel, err)
		}
		id, err := w.b.AddContent(w.ctx, strings.NewReader(target))
		if err != nil {
			return fmt.Errorf("storing link %s: %w", rel, err)
		}
		entry.ContentID = id
		entry.Size = uint64(len(target))
	}
	if err := w.b.AddFile(dirID, entry); err != nil {
		return err
	}
	w.stats.Special++
	return nil
}

// skip logs a source entry that could not be backed up.
func (w *walker) skip(rel string, err error) error {
	w.s.logger.Warn("file not backed up", "path", rel, "error", err)
	w.stats.Skipped++
	return nil
}

func specialType(mode iofs.FileMode) (codec.FileType, bool) {
	switch {
	case mode&iofs.ModeSymlink != 0:
		return codec.FileSymlink, true
	case mode&iofs.ModeNamedPipe != 0:
		return codec.FilePipe, true
	case mode&iofs.ModeSocket != 0:
		return codec.FileSocket, true
	case mode&iofs.ModeCharDevice != 0:
		return codec.FileCharDevice, true
	case mode&iofs.ModeDevice != 0:
		return codec.FileBlockDevice, true
	}
	return 0, false
}

// validateUnchanged checks that a file was not modified while it was read.
// Access time is ignored since reading changes it.
func validateUnchanged(before, after iofs.FileInfo) error {
	if before.Size() != after.Size() {
		return fmt.Errorf("size changed: %d -> %d", before.Size(), after.Size())
	}
	if before.Mode() != after.Mode() {
		return fmt.Errorf("mode changed: %v -> %v", before.Mode(), after.Mode())
	}
	if !before.ModTime().Equal(after.ModTime()) {
		return fmt.Errorf("mtime changed: %v -> %v", before.ModTime(), after.ModTime())
	}
	return nil
}

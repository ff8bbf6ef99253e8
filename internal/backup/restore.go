package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ebakup-go/internal/codec"
	"ebakup-go/internal/ebakup"
	"ebakup-go/internal/snapshot"
)

// Restore copies the file or directory tree at p in snapshot name into
// dest. An empty p restores the whole snapshot. Existing files are never
// overwritten. It returns the paths written.
func (s *Service) Restore(ctx context.Context, name, p, dest string) ([]string, error) {
	s.logger.Info("restore started", "snapshot", name, "path", p, "dest", dest)
	snap, err := s.collection.OpenBackup(name)
	if err != nil {
		return nil, err
	}
	p = strings.Trim(p, "/")

	if _, err := snap.LookupDir(p); err != nil {
		if !errors.Is(err, ebakup.ErrNotFound) {
			return nil, err
		}
		f, ferr := snap.Lookup(p)
		if ferr != nil {
			return nil, ferr
		}
		if err := s.fsys.MkdirAll(dest); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dest, err)
		}
		out := filepath.Join(dest, f.Name)
		if err := s.restoreFile(ctx, f, out); err != nil {
			return nil, err
		}
		return []string{out}, nil
	}

	if err := s.fsys.MkdirAll(dest); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dest, err)
	}
	var restored []string
	err = snap.Walk(func(e snapshot.Entry) error {
		rel, ok := relativeTo(p, e.Path)
		if !ok {
			if e.Dir != nil && e.Path != p && !strings.HasPrefix(p, e.Path+"/") {
				return snapshot.ErrSkipDir
			}
			return nil
		}
		out := filepath.Join(dest, filepath.FromSlash(rel))
		if e.Dir != nil {
			return s.fsys.MkdirAll(out)
		}
		if err := s.restoreFile(ctx, e.File, out); err != nil {
			return err
		}
		restored = append(restored, out)
		return nil
	})
	if err != nil {
		return restored, err
	}
	s.logger.Info("restore complete", "snapshot", name, "files", len(restored))
	return restored, nil
}

// relativeTo returns p relative to the directory base, and false when p is
// not below base.
func relativeTo(base, p string) (string, bool) {
	if base == "" {
		return p, true
	}
	if !strings.HasPrefix(p, base+"/") {
		return "", false
	}
	return strings.TrimPrefix(p, base+"/"), true
}

// restoreFile writes one snapshot file to out. Regular files are verified
// against their good checksum while they are copied.
func (s *Service) restoreFile(ctx context.Context, f *snapshot.File, out string) error {
	if s.fsys.Exists(out) {
		return fmt.Errorf("restoring %s: %w", out, ebakup.ErrExists)
	}
	switch f.Type {
	case codec.FileRegular:
		if err := s.restoreContent(ctx, f, out); err != nil {
			return err
		}
	case codec.FileSymlink:
		target, err := s.readContent(f.ContentID)
		if err != nil {
			return err
		}
		if err := os.Symlink(target, out); err != nil {
			return fmt.Errorf("creating link %s: %w", out, err)
		}
		s.logger.Debug("link restored", "path", out)
		return nil
	default:
		s.logger.Warn("special file not restored", "path", f.Path(), "type", f.Type.String())
		return nil
	}

	if perm, ok := f.Extra[ExtraPerm]; ok {
		mode, err := strconv.ParseUint(perm, 8, 32)
		if err != nil {
			return fmt.Errorf("parsing permissions of %s: %w", f.Path(), err)
		}
		if err := os.Chmod(out, os.FileMode(mode)); err != nil {
			return fmt.Errorf("setting permissions: %w", err)
		}
	}
	if err := os.Chtimes(out, f.MTime, f.MTime); err != nil {
		return fmt.Errorf("setting file times: %w", err)
	}
	s.logger.Debug("file restored", "path", out)
	return nil
}

func (s *Service) restoreContent(ctx context.Context, f *snapshot.File, out string) error {
	r, err := s.collection.Content().GetContentReader(f.ContentID)
	if err != nil {
		return fmt.Errorf("restoring %s: %w", f.Path(), err)
	}
	defer r.Close()

	w, err := s.fsys.Create(out)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	_, err = io.Copy(w, readerWithContext{ctx: ctx, r: r})
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.fsys.Remove(out)
		return fmt.Errorf("restoring %s: %w", f.Path(), err)
	}
	return nil
}

func (s *Service) readContent(id ebakup.ContentID) (string, error) {
	r, err := s.collection.Content().GetContentReader(id)
	if err != nil {
		return "", err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading content %s: %w", id, err)
	}
	return string(data), nil
}

// readerWithContext stops a copy once its context is done.
type readerWithContext struct {
	ctx context.Context
	r   io.Reader
}

func (r readerWithContext) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

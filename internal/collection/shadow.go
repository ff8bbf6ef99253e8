package collection

import (
	"fmt"
	"path/filepath"

	"ebakup-go/internal/snapshot"
)

// ShadowCopy builds a browsable tree of snapshot name under dest. Each file
// shares the bytes of its stored blob instead of copying them. It returns
// the number of files placed.
func (c *Collection) ShadowCopy(name, dest string) (int, error) {
	snap, err := c.OpenBackup(name)
	if err != nil {
		return 0, err
	}
	if err := c.fsys.MkdirAll(dest); err != nil {
		return 0, fmt.Errorf("creating %s: %w", dest, err)
	}
	n := 0
	err = snap.Walk(func(e snapshot.Entry) error {
		target := filepath.Join(dest, filepath.FromSlash(e.Path))
		if e.Dir != nil {
			return c.fsys.MkdirAll(target)
		}
		if e.File.ContentID == "" {
			return nil
		}
		if _, err := c.store.GetContentInfo(e.File.ContentID); err != nil {
			return fmt.Errorf("shadowing %s: %w", e.Path, err)
		}
		if err := c.fsys.CheapCopy(c.store.BlobPath(e.File.ContentID), target); err != nil {
			return fmt.Errorf("shadowing %s: %w", e.Path, err)
		}
		n++
		return nil
	})
	if err != nil {
		return n, err
	}
	c.logger.Info("shadow copy created", "snapshot", name, "dest", dest, "files", n)
	return n, nil
}

package collection

import (
	"context"
	"fmt"
	"io"
	"time"

	"ebakup-go/internal/ebakup"
	"ebakup-go/internal/snapshot"
)

// State is the state of a Builder.
type State int

const (
	Building State = iota
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Building:
		return "building"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

// Builder records one new snapshot. The snapshot becomes visible only when
// Commit succeeds; Abort, or a failed Commit, discards it.
type Builder struct {
	c     *Collection
	w     *snapshot.Writer
	state State
}

// StartBackup begins a snapshot started at start. Only one snapshot can
// be started per minute.
func (c *Collection) StartBackup(start time.Time) (*Builder, error) {
	w, err := snapshot.Create(c.fsys, c.root, start, c.opts)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("backup started", "snapshot", w.Name())
	return &Builder{c: c, w: w}, nil
}

// WithBackup runs fn in the scope of a new snapshot. The snapshot is
// committed with the current time as its end when fn returns nil and
// aborted otherwise. It returns the snapshot name.
func (c *Collection) WithBackup(start time.Time, fn func(*Builder) error) (string, error) {
	b, err := c.StartBackup(start)
	if err != nil {
		return "", err
	}
	defer b.Abort()
	if err := fn(b); err != nil {
		return "", err
	}
	if err := b.Commit(c.clock.Now()); err != nil {
		return "", err
	}
	return b.Name(), nil
}

// Name returns the name the snapshot will have.
func (b *Builder) Name() string { return b.w.Name() }

// State returns the current state.
func (b *Builder) State() State { return b.state }

func (b *Builder) checkBuilding() error {
	if b.state != Building {
		return ebakup.Usagef("snapshot %s is %s", b.w.Name(), b.state)
	}
	return nil
}

// AddDirectory records a directory and returns its id for use as parent.
// The root directory is snapshot.RootID.
func (b *Builder) AddDirectory(parent uint64, name string, extra snapshot.Extra) (uint64, error) {
	if err := b.checkBuilding(); err != nil {
		return 0, err
	}
	return b.w.AddDirectory(parent, name, extra)
}

// AddFile records a file whose content is already stored.
func (b *Builder) AddFile(parent uint64, f snapshot.FileEntry) error {
	if err := b.checkBuilding(); err != nil {
		return err
	}
	return b.w.AddFile(parent, f)
}

// AddContent stores the bytes of r in the content store and returns their
// content id.
func (b *Builder) AddContent(ctx context.Context, r io.Reader) (ebakup.ContentID, error) {
	if err := b.checkBuilding(); err != nil {
		return "", err
	}
	return b.c.store.AddContent(ctx, r, b.c.clock.Now())
}

// Commit finishes the snapshot with the given end time.
func (b *Builder) Commit(end time.Time) error {
	if err := b.checkBuilding(); err != nil {
		return err
	}
	if err := b.w.Commit(end); err != nil {
		b.w.Abort()
		b.state = Aborted
		return err
	}
	b.state = Committed
	b.c.logger.Info("backup committed", "snapshot", b.w.Name())
	return nil
}

// Abort discards the snapshot. It does nothing once the builder has been
// committed or aborted.
func (b *Builder) Abort() error {
	if b.state != Building {
		return nil
	}
	b.state = Aborted
	b.c.logger.Info("backup aborted", "snapshot", b.w.Name())
	if err := b.w.Abort(); err != nil {
		return fmt.Errorf("aborting snapshot %s: %w", b.w.Name(), err)
	}
	return nil
}

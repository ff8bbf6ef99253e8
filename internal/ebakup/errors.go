package ebakup

import (
	"errors"
	"fmt"
)

var (
	// ErrDataCorrupt marks stored data that failed an integrity check:
	// block checksum mismatch, malformed header, unknown item tag, item
	// overrunning a block, non-zero padding or inconsistent references.
	ErrDataCorrupt = errors.New("data corrupt")

	// ErrUsage marks a programming or integration error, such as writing
	// through a read-only handle, a lock conflict or a malformed setting.
	ErrUsage = errors.New("usage error")

	// ErrNotFound indicates a missing file, blob, snapshot or content id.
	ErrNotFound = errors.New("not found")

	// ErrExists indicates the target of a create already exists.
	ErrExists = errors.New("already exists")

	// ErrCapacity indicates an item or settings payload too large for a block.
	ErrCapacity = errors.New("capacity exceeded")
)

// CorruptError describes where corrupt data was found.
// Block is -1 when the problem is not tied to a single block.
type CorruptError struct {
	Path   string
	Block  int
	Reason string
}

func (e *CorruptError) Error() string {
	if e.Block < 0 {
		return fmt.Sprintf("%s: %s: %s", ErrDataCorrupt, e.Path, e.Reason)
	}
	return fmt.Sprintf("%s: %s block %d: %s", ErrDataCorrupt, e.Path, e.Block, e.Reason)
}

func (e *CorruptError) Unwrap() error { return ErrDataCorrupt }

// Corruptf builds a CorruptError with a formatted reason.
func Corruptf(path string, block int, format string, args ...any) error {
	return &CorruptError{Path: path, Block: block, Reason: fmt.Sprintf(format, args...)}
}

// CapacityError reports an item that does not fit into the space left in a block.
type CapacityError struct {
	Kind      string
	Size      int
	Remaining int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s: %s item of %d bytes, block has %d bytes remaining", ErrCapacity, e.Kind, e.Size, e.Remaining)
}

func (e *CapacityError) Unwrap() error { return ErrCapacity }

// Usagef returns an error wrapping ErrUsage.
func Usagef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUsage, fmt.Sprintf(format, args...))
}

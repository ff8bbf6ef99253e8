//go:build unix

package fs

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"ebakup-go/internal/ebakup"
)

// Lock takes a non-blocking flock. A lock held through another open file
// description, in this process or another one, is a conflict.
func (f *osFile) Lock(exclusive bool) error {
	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return ebakup.Usagef("%s is locked by another user", f.Name())
	}
	if err != nil {
		return fmt.Errorf("locking %s: %w", f.Name(), err)
	}
	return nil
}

func (f *osFile) Unlock() error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}

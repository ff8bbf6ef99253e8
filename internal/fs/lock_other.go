//go:build !unix

package fs

// Non-unix stub: advisory locks are not taken, so collections are not
// protected against a second process on these platforms.

func (f *osFile) Lock(bool) error { return nil }

func (f *osFile) Unlock() error { return nil }

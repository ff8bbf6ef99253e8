//go:build !unix

package fs

import (
	"io/fs"

	"ebakup-go/internal/ebakup"
)

// ExtractStatData has no ownership information to offer on this platform.
func (m *OSFileSystem) ExtractStatData(fs.FileInfo) (*ebakup.StatData, error) {
	return &ebakup.StatData{}, nil
}

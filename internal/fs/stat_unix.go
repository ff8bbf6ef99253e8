//go:build unix

package fs

import (
	"fmt"
	"io/fs"
	"os/user"
	"strconv"
	"syscall"

	"ebakup-go/internal/ebakup"
)

// ExtractStatData extracts Unix ownership from a FileInfo. Owner and group
// names are left empty when they cannot be resolved.
func (m *OSFileSystem) ExtractStatData(info fs.FileInfo) (*ebakup.StatData, error) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil, fmt.Errorf("cannot extract stat data: expected *syscall.Stat_t, got %T", info.Sys())
	}

	data := &ebakup.StatData{
		UID: int64(stat.Uid),
		GID: int64(stat.Gid),
	}
	if u, err := user.LookupId(strconv.FormatInt(data.UID, 10)); err == nil {
		data.Owner = u.Username
	}
	if g, err := user.LookupGroupId(strconv.FormatInt(data.GID, 10)); err == nil {
		data.Group = g.Name
	}
	return data, nil
}

package snapshot

import (
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"ebakup-go/internal/blockfile"
	"ebakup-go/internal/codec"
	"ebakup-go/internal/ebakup"
)

const (
	// RootID is the id of the implicit root directory.
	RootID uint64 = 0
	// FirstDirID is the first id handed out to a directory; ids below it
	// are reserved.
	FirstDirID uint64 = 8
)

// Extra holds the extra attributes of a directory or file, such as owner,
// group and permission bits.
type Extra map[string]string

// FileEntry is the metadata of one file to record.
type FileEntry struct {
	Name      string
	ContentID ebakup.ContentID
	Size      uint64
	MTime     time.Time
	Type      codec.FileType
	Extra     Extra
}

// Writer builds a new snapshot log. Nothing is visible at the final path
// until Commit.
type Writer struct {
	bf    *blockfile.BlockFile
	items *codec.ItemWriter
	name  string

	nextDir   uint64
	names     map[uint64]map[string]bool
	nextKV    uint64
	keyValues map[[2]string]uint64
	nextExtra uint64
	extras    map[string]uint64
}

// Create starts the snapshot log for a backup started at start.
func Create(fsys ebakup.FileSystem, root string, start time.Time, opts blockfile.Options) (*Writer, error) {
	name := Name(start)
	path := Path(root, name)
	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}
	bf, err := blockfile.Create(fsys, path, codec.MagicBackup, opts)
	if err != nil {
		return nil, fmt.Errorf("creating snapshot %s: %w", name, err)
	}
	if err := bf.SetSetting(SettingStart, formatTime(start)); err != nil {
		bf.Close()
		return nil, err
	}
	c, err := codec.ForMagic(codec.MagicBackup)
	if err != nil {
		bf.Close()
		return nil, err
	}
	return &Writer{
		bf:        bf,
		items:     codec.NewItemWriter(c, bf),
		name:      name,
		nextDir:   FirstDirID,
		names:     map[uint64]map[string]bool{RootID: {}},
		nextKV:    1,
		keyValues: map[[2]string]uint64{},
		nextExtra: 1,
		extras:    map[string]uint64{},
	}, nil
}

// Name returns the name of the snapshot being written.
func (w *Writer) Name() string { return w.name }

// AddDirectory records a directory under parent and returns its id.
func (w *Writer) AddDirectory(parent uint64, name string, extra Extra) (uint64, error) {
	if err := w.checkName(parent, name); err != nil {
		return 0, err
	}
	ref, err := w.extraRef(extra)
	if err != nil {
		return 0, err
	}
	id := w.nextDir
	if err := w.items.Write(codec.Directory{ID: id, Parent: parent, Name: name, ExtraRef: ref}); err != nil {
		return 0, fmt.Errorf("adding directory %q: %w", name, err)
	}
	w.nextDir++
	w.names[parent][name] = true
	w.names[id] = map[string]bool{}
	return id, nil
}

// AddFile records a file under parent.
func (w *Writer) AddFile(parent uint64, f FileEntry) error {
	if err := w.checkName(parent, f.Name); err != nil {
		return err
	}
	ref, err := w.extraRef(f.Extra)
	if err != nil {
		return err
	}
	item := codec.File{
		Parent:    parent,
		Name:      f.Name,
		ContentID: f.ContentID,
		Size:      f.Size,
		MTime:     f.MTime,
		Type:      f.Type,
		ExtraRef:  ref,
	}
	if err := w.items.Write(item); err != nil {
		return fmt.Errorf("adding file %q: %w", f.Name, err)
	}
	w.names[parent][f.Name] = true
	return nil
}

// checkName reports whether name may be added under parent. The name is
// taken only once its item has been written.
func (w *Writer) checkName(parent uint64, name string) error {
	siblings, ok := w.names[parent]
	if !ok {
		return ebakup.Usagef("snapshot %s has no directory %d", w.name, parent)
	}
	if !validName(name) {
		return ebakup.Usagef("invalid entry name %q", name)
	}
	if siblings[name] {
		return ebakup.Usagef("directory %d of snapshot %s already has an entry %q", parent, w.name, name)
	}
	return nil
}

// extraRef returns the ExtraDef id for a set of attributes, writing the
// KeyValue and ExtraDef items the first time a pair or set is used.
func (w *Writer) extraRef(extra Extra) (uint64, error) {
	if len(extra) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	ids := make([]uint64, 0, len(keys))
	for _, k := range keys {
		pair := [2]string{k, extra[k]}
		id, ok := w.keyValues[pair]
		if !ok {
			id = w.nextKV
			if err := w.items.Write(codec.KeyValue{ID: id, Key: k, Value: extra[k]}); err != nil {
				return 0, fmt.Errorf("adding attribute %s: %w", k, err)
			}
			w.nextKV++
			w.keyValues[pair] = id
		}
		ids = append(ids, id)
	}

	var set strings.Builder
	for _, id := range ids {
		set.WriteString(strconv.FormatUint(id, 10))
		set.WriteByte(',')
	}
	ref, ok := w.extras[set.String()]
	if !ok {
		ref = w.nextExtra
		if err := w.items.Write(codec.ExtraDef{ID: ref, KeyValueIDs: ids}); err != nil {
			return 0, fmt.Errorf("adding attribute set: %w", err)
		}
		w.nextExtra++
		w.extras[set.String()] = ref
	}
	return ref, nil
}

// Commit records the end time and makes the snapshot visible.
func (w *Writer) Commit(end time.Time) error {
	if err := w.items.Flush(); err != nil {
		return fmt.Errorf("committing snapshot %s: %w", w.name, err)
	}
	if err := w.bf.SetSetting(SettingEnd, formatTime(end)); err != nil {
		return fmt.Errorf("committing snapshot %s: %w", w.name, err)
	}
	if err := w.bf.Commit(); err != nil {
		return fmt.Errorf("committing snapshot %s: %w", w.name, err)
	}
	return nil
}

// Abort discards the snapshot.
func (w *Writer) Abort() error {
	return w.bf.Close()
}

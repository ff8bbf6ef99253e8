package snapshot

import (
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"ebakup-go/internal/blockfile"
	"ebakup-go/internal/codec"
	"ebakup-go/internal/ebakup"
)

// Directory is a directory of a snapshot tree. Entries keep the order in
// which they were recorded.
type Directory struct {
	ID     uint64
	Name   string
	Parent *Directory
	Extra  Extra
	Dirs   []*Directory
	Files  []*File
}

// File is a file of a snapshot tree.
type File struct {
	Name      string
	Dir       *Directory
	ContentID ebakup.ContentID
	Size      uint64
	MTime     time.Time
	Type      codec.FileType
	Extra     Extra
}

// Snapshot is a committed snapshot log replayed into memory.
type Snapshot struct {
	Name  string
	Start time.Time
	End   time.Time
	Root  *Directory
}

// Open reads and validates the snapshot called name under root.
func Open(fsys ebakup.FileSystem, root, name string) (*Snapshot, error) {
	if _, err := ParseName(name); err != nil {
		return nil, err
	}
	bf, err := blockfile.OpenRead(fsys, Path(root, name))
	if err != nil {
		return nil, fmt.Errorf("opening snapshot %s: %w", name, err)
	}
	defer bf.Close()
	if err := bf.ExpectMagic(codec.MagicBackup); err != nil {
		return nil, err
	}

	snap := &Snapshot{Name: name, Root: &Directory{ID: RootID}}
	if snap.Start, err = timeSetting(bf, SettingStart); err != nil {
		return nil, err
	}
	if snap.End, err = timeSetting(bf, SettingEnd); err != nil {
		return nil, err
	}
	if Name(snap.Start) != name {
		return nil, ebakup.Corruptf(bf.Path(), 0, "start %s does not match snapshot name", formatTime(snap.Start))
	}

	c, err := codec.ForMagic(codec.MagicBackup)
	if err != nil {
		return nil, err
	}
	rp := &replay{
		snap:      snap,
		dirs:      map[uint64]*Directory{RootID: snap.Root},
		names:     map[*Directory]map[string]bool{snap.Root: {}},
		keyValues: map[uint64][2]string{},
		extras:    map[uint64]Extra{},
	}
	r := codec.NewItemReader(c, bf)
	for {
		it, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading snapshot %s: %w", name, err)
		}
		if reason := rp.apply(it); reason != "" {
			return nil, ebakup.Corruptf(bf.Path(), r.Block(), "%s", reason)
		}
	}
	return snap, nil
}

func timeSetting(bf *blockfile.BlockFile, key string) (time.Time, error) {
	value, ok, err := bf.Setting(key)
	if err != nil {
		return time.Time{}, ebakup.Corruptf(bf.Path(), 0, "setting %s has several values", key)
	}
	if !ok {
		return time.Time{}, ebakup.Corruptf(bf.Path(), 0, "missing setting %s", key)
	}
	t, err := parseTime(value)
	if err != nil {
		return time.Time{}, ebakup.Corruptf(bf.Path(), 0, "setting %s: invalid timestamp %q", key, value)
	}
	return t, nil
}

// replay builds the tree from items in file order. apply returns a reason
// when an item is inconsistent with what came before it.
type replay struct {
	snap      *Snapshot
	dirs      map[uint64]*Directory
	names     map[*Directory]map[string]bool
	keyValues map[uint64][2]string
	extras    map[uint64]Extra
}

func (rp *replay) apply(it codec.Item) string {
	switch v := it.(type) {
	case codec.KeyValue:
		if _, ok := rp.keyValues[v.ID]; ok || v.ID == 0 {
			return fmt.Sprintf("keyvalue id %d reused", v.ID)
		}
		rp.keyValues[v.ID] = [2]string{v.Key, v.Value}
	case codec.ExtraDef:
		if _, ok := rp.extras[v.ID]; ok || v.ID == 0 {
			return fmt.Sprintf("extradef id %d reused", v.ID)
		}
		extra := Extra{}
		for _, kv := range v.KeyValueIDs {
			pair, ok := rp.keyValues[kv]
			if !ok {
				return fmt.Sprintf("extradef %d refers to unknown keyvalue %d", v.ID, kv)
			}
			extra[pair[0]] = pair[1]
		}
		rp.extras[v.ID] = extra
	case codec.Directory:
		if _, ok := rp.dirs[v.ID]; ok || v.ID < FirstDirID {
			return fmt.Sprintf("directory id %d reused or reserved", v.ID)
		}
		parent, reason := rp.parent(v.Parent, v.Name)
		if reason != "" {
			return reason
		}
		extra, reason := rp.extra(v.ExtraRef)
		if reason != "" {
			return reason
		}
		d := &Directory{ID: v.ID, Name: v.Name, Parent: parent, Extra: extra}
		parent.Dirs = append(parent.Dirs, d)
		rp.dirs[v.ID] = d
		rp.names[d] = map[string]bool{}
	case codec.File:
		parent, reason := rp.parent(v.Parent, v.Name)
		if reason != "" {
			return reason
		}
		extra, reason := rp.extra(v.ExtraRef)
		if reason != "" {
			return reason
		}
		parent.Files = append(parent.Files, &File{
			Name:      v.Name,
			Dir:       parent,
			ContentID: v.ContentID,
			Size:      v.Size,
			MTime:     v.MTime,
			Type:      v.Type,
			Extra:     extra,
		})
	default:
		return fmt.Sprintf("unexpected %s item", codec.ItemName(it))
	}
	return ""
}

func (rp *replay) parent(id uint64, name string) (*Directory, string) {
	parent, ok := rp.dirs[id]
	if !ok {
		return nil, fmt.Sprintf("entry %q refers to unknown directory %d", name, id)
	}
	if !validName(name) {
		return nil, fmt.Sprintf("invalid entry name %q", name)
	}
	if rp.names[parent][name] {
		return nil, fmt.Sprintf("directory %d has two entries named %q", id, name)
	}
	rp.names[parent][name] = true
	return parent, ""
}

func (rp *replay) extra(ref uint64) (Extra, string) {
	if ref == 0 {
		return nil, ""
	}
	extra, ok := rp.extras[ref]
	if !ok {
		return nil, fmt.Sprintf("unknown extradef %d", ref)
	}
	return extra, ""
}

// Path returns the slash-separated path of d relative to the snapshot root.
func (d *Directory) Path() string {
	if d.Parent == nil {
		return ""
	}
	return path.Join(d.Parent.Path(), d.Name)
}

// Path returns the slash-separated path of f relative to the snapshot root.
func (f *File) Path() string {
	return path.Join(f.Dir.Path(), f.Name)
}

func (d *Directory) dir(name string) *Directory {
	for _, c := range d.Dirs {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (d *Directory) file(name string) *File {
	for _, f := range d.Files {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// LookupDir returns the directory at a slash-separated path. The empty
// path is the root.
func (s *Snapshot) LookupDir(p string) (*Directory, error) {
	d := s.Root
	for _, name := range splitPath(p) {
		if d = d.dir(name); d == nil {
			return nil, fmt.Errorf("directory %s in snapshot %s: %w", p, s.Name, ebakup.ErrNotFound)
		}
	}
	return d, nil
}

// Lookup returns the file at a slash-separated path.
func (s *Snapshot) Lookup(p string) (*File, error) {
	dirPath, name := path.Split(strings.Trim(p, "/"))
	d, err := s.LookupDir(dirPath)
	if err == nil {
		if f := d.file(name); f != nil {
			return f, nil
		}
	}
	return nil, fmt.Errorf("file %s in snapshot %s: %w", p, s.Name, ebakup.ErrNotFound)
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// Entry is one node visited by Walk; exactly one of Dir and File is set.
type Entry struct {
	Path string
	Dir  *Directory
	File *File
}

// ErrSkipDir can be returned by a Walk callback for a directory to skip
// its contents.
var ErrSkipDir = errors.New("skip this directory")

// Walk visits every directory and file below the root, depth first. A
// directory is visited before its contents, and files before subdirectories.
func (s *Snapshot) Walk(fn func(Entry) error) error {
	return walk(s.Root, fn)
}

func walk(d *Directory, fn func(Entry) error) error {
	for _, f := range d.Files {
		if err := fn(Entry{Path: f.Path(), File: f}); err != nil {
			return err
		}
	}
	for _, sub := range d.Dirs {
		err := fn(Entry{Path: sub.Path(), Dir: sub})
		if errors.Is(err, ErrSkipDir) {
			continue
		}
		if err != nil {
			return err
		}
		if err := walk(sub, fn); err != nil {
			return err
		}
	}
	return nil
}

// ContentIDs returns the distinct content ids referenced by the snapshot.
func (s *Snapshot) ContentIDs() []ebakup.ContentID {
	seen := map[ebakup.ContentID]bool{}
	var ids []ebakup.ContentID
	s.Walk(func(e Entry) error {
		if e.File != nil && e.File.ContentID != "" && !seen[e.File.ContentID] {
			seen[e.File.ContentID] = true
			ids = append(ids, e.File.ContentID)
		}
		return nil
	})
	return ids
}

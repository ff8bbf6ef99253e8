package codec

import (
	"time"

	"ebakup-go/internal/ebakup"
)

// Item is one logical record of a BlockFile. The concrete types below are
// the only implementations.
type Item interface {
	itemName() string
}

// ItemName returns a short human name for the item's kind.
func ItemName(it Item) string {
	if it == nil {
		return "nil"
	}
	return it.itemName()
}

// Magic is the first line of a header block.
type Magic struct {
	Value string
}

// Setting is one key:value line of a header block.
type Setting struct {
	Key   string
	Value string
}

// Directory declares a directory of a snapshot. ExtraRef is 0 when the
// directory has no extra attributes.
type Directory struct {
	ID       uint64
	Parent   uint64
	Name     string
	ExtraRef uint64
}

// FileType distinguishes regular files from special files.
type FileType byte

const (
	FileRegular     FileType = 0
	FileSymlink     FileType = 'l'
	FileSocket      FileType = 's'
	FilePipe        FileType = 'p'
	FileCharDevice  FileType = 'c'
	FileBlockDevice FileType = 'b'
)

func (t FileType) String() string {
	switch t {
	case FileRegular:
		return "file"
	case FileSymlink:
		return "symlink"
	case FileSocket:
		return "socket"
	case FilePipe:
		return "pipe"
	case FileCharDevice:
		return "chardev"
	case FileBlockDevice:
		return "blockdev"
	}
	return "unknown"
}

func validFileType(t FileType) bool {
	switch t {
	case FileRegular, FileSymlink, FileSocket, FilePipe, FileCharDevice, FileBlockDevice:
		return true
	}
	return false
}

// File declares a file of a snapshot.
type File struct {
	Parent    uint64
	Name      string
	ContentID ebakup.ContentID
	Size      uint64
	MTime     time.Time
	Type      FileType
	ExtraRef  uint64
}

// ContentUpdate is a later checksum observation of a stored blob.
// Restored updates carry no checksum: the blob matched its good checksum.
type ContentUpdate struct {
	Restored  bool
	Checksum  []byte
	FirstSeen time.Time
	LastSeen  time.Time
}

// Content records a stored blob in the content index.
type Content struct {
	ContentID ebakup.ContentID
	Checksum  []byte
	FirstSeen time.Time
	LastSeen  time.Time
	Updates   []ContentUpdate
}

// KeyValue defines one extra attribute pair, referenced by id.
type KeyValue struct {
	ID    uint64
	Key   string
	Value string
}

// ExtraDef defines a set of KeyValue ids used together.
type ExtraDef struct {
	ID          uint64
	KeyValueIDs []uint64
}

func (Magic) itemName() string     { return "magic" }
func (Setting) itemName() string   { return "setting" }
func (Directory) itemName() string { return "directory" }
func (File) itemName() string      { return "file" }
func (Content) itemName() string   { return "content" }
func (KeyValue) itemName() string  { return "keyvalue" }
func (ExtraDef) itemName() string  { return "extradef" }

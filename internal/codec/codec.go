// Package codec translates BlockFile items to and from block payloads.
//
// Each BlockFile kind is identified by the magic string on the first line
// of its header block, and accepts only its own item tags. An item never
// spans two blocks; the rest of a block after its last item is zero.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"ebakup-go/internal/ebakup"
)

// Header magic strings.
const (
	MagicDatabase = "ebakup database v1"
	MagicContent  = "ebakup content data"
	MagicBackup   = "ebakup backup data"
)

// Item tags.
const (
	tagEnd             = 0x00
	tagKeyValue        = 0x21
	tagExtraDef        = 0x22
	tagDirectory       = 0x90
	tagFile            = 0x91
	tagDirectoryExtra  = 0x92
	tagFileExtra       = 0x93
	tagFileSpecial     = 0x94
	tagContentRestored = 0xa0
	tagContentChanged  = 0xa1
	tagContent         = 0xdd
)

// Kind is the kind of BlockFile.
type Kind int

const (
	KindDatabase Kind = iota
	KindContent
	KindBackup
)

func (k Kind) String() string {
	switch k {
	case KindDatabase:
		return "database"
	case KindContent:
		return "content"
	case KindBackup:
		return "backup"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Codec encodes and decodes the items of one BlockFile kind.
type Codec struct {
	kind  Kind
	magic string
}

// ForMagic returns the codec for the file kind named by magic.
func ForMagic(magic string) (*Codec, error) {
	switch magic {
	case MagicDatabase:
		return &Codec{kind: KindDatabase, magic: magic}, nil
	case MagicContent:
		return &Codec{kind: KindContent, magic: magic}, nil
	case MagicBackup:
		return &Codec{kind: KindBackup, magic: magic}, nil
	}
	return nil, fmt.Errorf("%w: unknown file magic %q", ebakup.ErrDataCorrupt, magic)
}

func (c *Codec) Kind() Kind    { return c.kind }
func (c *Codec) Magic() string { return c.magic }

// Encode returns the octets of a single item. Items that do not belong to
// this codec's kind are a usage error.
func (c *Codec) Encode(it Item) ([]byte, error) {
	switch v := it.(type) {
	case Directory:
		if c.kind != KindBackup {
			break
		}
		return encodeDirectory(v), nil
	case File:
		if c.kind != KindBackup {
			break
		}
		return encodeFile(v)
	case KeyValue:
		if c.kind != KindBackup {
			break
		}
		return encodeKeyValue(v)
	case ExtraDef:
		if c.kind != KindBackup {
			break
		}
		return encodeExtraDef(v), nil
	case Content:
		if c.kind != KindContent {
			break
		}
		return encodeContent(v)
	case Magic, Setting:
		return nil, ebakup.Usagef("%s items belong to the header block", ItemName(it))
	}
	return nil, ebakup.Usagef("%s item not valid in %s file", ItemName(it), c.kind)
}

// DecodeBlock decodes all items of a data block. Errors wrap
// ebakup.ErrDataCorrupt and carry the reason, not the block location.
func (c *Codec) DecodeBlock(data []byte) ([]Item, error) {
	items, _, err := c.decodeBlock(data)
	return items, err
}

// UsedSize returns the number of bytes taken by the items of a data block,
// which is where the next appended item goes.
func (c *Codec) UsedSize(data []byte) (int, error) {
	_, used, err := c.decodeBlock(data)
	return used, err
}

func (c *Codec) decodeBlock(data []byte) ([]Item, int, error) {
	var items []Item
	d := &decoder{data: data}
	for d.pos < len(d.data) {
		tag := d.data[d.pos]
		if tag == tagEnd {
			if !allZero(d.data[d.pos:]) {
				return nil, 0, corrupt("non-zero data after end of items at offset %d", d.pos)
			}
			break
		}
		start := d.pos
		d.pos++
		it, err := c.decodeItem(tag, d)
		if err != nil {
			return nil, 0, err
		}
		if d.err != nil {
			return nil, 0, corrupt("%s item at offset %d: %v", tagName(tag), start, d.err)
		}
		items = append(items, it)
	}
	return items, d.pos, nil
}

func (c *Codec) decodeItem(tag byte, d *decoder) (Item, error) {
	switch c.kind {
	case KindBackup:
		switch tag {
		case tagDirectory, tagDirectoryExtra:
			return decodeDirectory(tag, d), nil
		case tagFile, tagFileExtra, tagFileSpecial:
			return decodeFile(tag, d)
		case tagKeyValue:
			return decodeKeyValue(d)
		case tagExtraDef:
			return decodeExtraDef(d), nil
		}
	case KindContent:
		if tag == tagContent {
			return decodeContent(d), nil
		}
	}
	return nil, corrupt("unknown item tag 0x%02x at offset %d in %s file", tag, d.pos-1, c.kind)
}

func tagName(tag byte) string {
	switch tag {
	case tagDirectory, tagDirectoryExtra:
		return "directory"
	case tagFile, tagFileExtra, tagFileSpecial:
		return "file"
	case tagKeyValue:
		return "keyvalue"
	case tagExtraDef:
		return "extradef"
	case tagContent:
		return "content"
	}
	return fmt.Sprintf("0x%02x", tag)
}

// decodeError is a decode failure without location; readers that know the
// file and block wrap it into an ebakup.CorruptError.
type decodeError struct {
	reason string
}

func (e *decodeError) Error() string { return ebakup.ErrDataCorrupt.Error() + ": " + e.reason }
func (e *decodeError) Unwrap() error { return ebakup.ErrDataCorrupt }

func corrupt(format string, args ...any) error {
	return &decodeError{reason: fmt.Sprintf(format, args...)}
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// decoder reads fields from a block, recording the first overrun.
type decoder struct {
	data []byte
	pos  int
	err  error
}

func (d *decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf(format, args...)
	}
}

func (d *decoder) varuint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.data[d.pos:])
	if n <= 0 {
		d.fail("truncated or overlong varuint at offset %d", d.pos)
		return 0
	}
	d.pos += n
	return v
}

func (d *decoder) bytes(n uint64) []byte {
	if d.err != nil {
		return nil
	}
	if n > uint64(len(d.data)-d.pos) {
		d.fail("field of %d bytes overruns block at offset %d", n, d.pos)
		return nil
	}
	b := make([]byte, n)
	copy(b, d.data[d.pos:d.pos+int(n)])
	d.pos += int(n)
	return b
}

func (d *decoder) lengthPrefixed() []byte {
	return d.bytes(d.varuint())
}

func (d *decoder) uint32() uint32 {
	b := d.bytes(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *decoder) octet() byte {
	b := d.bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) peek() (byte, bool) {
	if d.err != nil || d.pos >= len(d.data) {
		return 0, false
	}
	return d.data[d.pos], true
}

// EncodeHeader builds the payload of a header block: the magic line, then
// one key:value line per setting, NUL padded to dataSize.
func EncodeHeader(magic string, settings []Setting, dataSize int) ([]byte, error) {
	if err := ValidateSettingKey(magic); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.WriteByte('\n')
	for _, s := range settings {
		if err := ValidateSetting(s.Key, s.Value); err != nil {
			return nil, err
		}
		buf.WriteString(s.Key)
		buf.WriteByte(':')
		buf.WriteString(s.Value)
		buf.WriteByte('\n')
	}
	// At least one NUL must follow the settings so readers can find their end.
	if buf.Len() >= dataSize {
		return nil, &ebakup.CapacityError{Kind: "settings", Size: buf.Len(), Remaining: dataSize - 1}
	}
	out := make([]byte, dataSize)
	copy(out, buf.Bytes())
	return out, nil
}

// DecodeHeader parses a header block payload. Errors wrap ebakup.ErrDataCorrupt.
func DecodeHeader(data []byte) (string, []Setting, error) {
	end := bytes.IndexByte(data, 0)
	if end < 0 {
		end = len(data)
	} else if !allZero(data[end:]) {
		return "", nil, corrupt("non-zero data after header settings")
	}
	text := string(data[:end])
	if !strings.HasSuffix(text, "\n") {
		return "", nil, corrupt("header does not end with a newline")
	}
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	magic := lines[0]
	if magic == "" {
		return "", nil, corrupt("header has no magic line")
	}
	settings := make([]Setting, 0, len(lines)-1)
	for _, line := range lines[1:] {
		key, value, ok := strings.Cut(line, ":")
		if !ok || key == "" {
			return "", nil, corrupt("malformed header setting %q", line)
		}
		settings = append(settings, Setting{Key: key, Value: value})
	}
	return magic, settings, nil
}

// ValidateSettingKey checks a header key. Keys may not be empty or contain
// ':', newline or NUL.
func ValidateSettingKey(key string) error {
	if key == "" || strings.ContainsAny(key, ":\n\x00") {
		return ebakup.Usagef("invalid setting key %q", key)
	}
	return nil
}

// ValidateSetting checks a header key and value. The value may contain ':'
// (timestamps do) since the line is split at its first colon, but not
// newline or NUL.
func ValidateSetting(key, value string) error {
	if err := ValidateSettingKey(key); err != nil {
		return err
	}
	if strings.ContainsAny(value, "\n\x00") {
		return ebakup.Usagef("invalid value for setting %s: %q", key, value)
	}
	return nil
}

package codec

import (
	"strings"
	"time"

	"ebakup-go/internal/ebakup"
)

func encodeDirectory(v Directory) []byte {
	tag := byte(tagDirectory)
	if v.ExtraRef != 0 {
		tag = tagDirectoryExtra
	}
	b := []byte{tag}
	b = AppendVaruint(b, v.ID)
	b = AppendVaruint(b, v.Parent)
	b = AppendVaruint(b, uint64(len(v.Name)))
	b = append(b, v.Name...)
	if v.ExtraRef != 0 {
		b = AppendVaruint(b, v.ExtraRef)
	}
	return b
}

func decodeDirectory(tag byte, d *decoder) Item {
	v := Directory{
		ID:     d.varuint(),
		Parent: d.varuint(),
		Name:   string(d.lengthPrefixed()),
	}
	if tag == tagDirectoryExtra {
		v.ExtraRef = d.varuint()
		if v.ExtraRef == 0 && d.err == nil {
			d.fail("directory extra reference is zero")
		}
	}
	return v
}

// encodeFile picks the tag from the file type: regular files use 0x91, or
// 0x93 with an extra reference; special files use 0x94, a type octet and
// an extra reference that is 0 when absent.
func encodeFile(v File) ([]byte, error) {
	if !validFileType(v.Type) {
		return nil, ebakup.Usagef("unknown file type 0x%02x for %q", byte(v.Type), v.Name)
	}
	mtime, err := PackMTime(v.MTime)
	if err != nil {
		return nil, ebakup.Usagef("file %q: %v", v.Name, err)
	}
	tag := byte(tagFile)
	switch {
	case v.Type != FileRegular:
		tag = tagFileSpecial
	case v.ExtraRef != 0:
		tag = tagFileExtra
	}
	b := []byte{tag}
	b = AppendVaruint(b, v.Parent)
	b = AppendVaruint(b, uint64(len(v.Name)))
	b = append(b, v.Name...)
	b = AppendVaruint(b, uint64(len(v.ContentID)))
	b = append(b, v.ContentID...)
	b = AppendVaruint(b, v.Size)
	b = append(b, mtime[:]...)
	switch tag {
	case tagFileExtra:
		b = AppendVaruint(b, v.ExtraRef)
	case tagFileSpecial:
		b = append(b, byte(v.Type))
		b = AppendVaruint(b, v.ExtraRef)
	}
	return b, nil
}

func decodeFile(tag byte, d *decoder) (Item, error) {
	v := File{
		Parent:    d.varuint(),
		Name:      string(d.lengthPrefixed()),
		ContentID: ebakup.ContentID(d.lengthPrefixed()),
		Size:      d.varuint(),
	}
	mtime := d.bytes(MTimeSize)
	if d.err == nil {
		t, err := UnpackMTime(mtime)
		if err != nil {
			d.fail("%v", err)
		}
		v.MTime = t
	}
	switch tag {
	case tagFileExtra:
		v.ExtraRef = d.varuint()
		if v.ExtraRef == 0 && d.err == nil {
			d.fail("file extra reference is zero")
		}
	case tagFileSpecial:
		v.Type = FileType(d.octet())
		v.ExtraRef = d.varuint()
		if d.err == nil && (v.Type == FileRegular || !validFileType(v.Type)) {
			return nil, corrupt("file %q has unknown special type 0x%02x", v.Name, byte(v.Type))
		}
	}
	return v, nil
}

func encodeKeyValue(v KeyValue) ([]byte, error) {
	if err := ValidateSetting(v.Key, v.Value); err != nil {
		return nil, err
	}
	rec := AppendVaruint(nil, v.ID)
	rec = append(rec, v.Key...)
	rec = append(rec, ':')
	rec = append(rec, v.Value...)

	b := []byte{tagKeyValue}
	b = AppendVaruint(b, uint64(len(rec)))
	return append(b, rec...), nil
}

func decodeKeyValue(d *decoder) (Item, error) {
	rec := d.lengthPrefixed()
	if d.err != nil {
		return nil, corrupt("keyvalue item: %v", d.err)
	}
	inner := &decoder{data: rec}
	id := inner.varuint()
	if inner.err != nil {
		return nil, corrupt("keyvalue item: %v", inner.err)
	}
	key, value, ok := strings.Cut(string(rec[inner.pos:]), ":")
	if !ok || key == "" {
		return nil, corrupt("keyvalue item %d has no key", id)
	}
	return KeyValue{ID: id, Key: key, Value: value}, nil
}

func encodeExtraDef(v ExtraDef) []byte {
	b := []byte{tagExtraDef}
	b = AppendVaruint(b, v.ID)
	b = AppendVaruint(b, uint64(len(v.KeyValueIDs)))
	for _, id := range v.KeyValueIDs {
		b = AppendVaruint(b, id)
	}
	return b
}

func decodeExtraDef(d *decoder) Item {
	v := ExtraDef{ID: d.varuint()}
	n := d.varuint()
	if n > uint64(len(d.data)) {
		d.fail("extradef count %d overruns block", n)
		return v
	}
	for i := uint64(0); i < n && d.err == nil; i++ {
		v.KeyValueIDs = append(v.KeyValueIDs, d.varuint())
	}
	return v
}

func encodeContent(v Content) ([]byte, error) {
	b := []byte{tagContent}
	b = AppendVaruint(b, uint64(len(v.ContentID)))
	b = append(b, v.ContentID...)
	b = AppendVaruint(b, uint64(len(v.Checksum)))
	b = append(b, v.Checksum...)
	b, err := appendSeen(b, v.FirstSeen, v.LastSeen)
	if err != nil {
		return nil, ebakup.Usagef("content %s: %v", v.ContentID, err)
	}
	for _, u := range v.Updates {
		if u.Restored {
			b = append(b, tagContentRestored)
		} else {
			b = append(b, tagContentChanged)
			b = AppendVaruint(b, uint64(len(u.Checksum)))
			b = append(b, u.Checksum...)
		}
		if b, err = appendSeen(b, u.FirstSeen, u.LastSeen); err != nil {
			return nil, ebakup.Usagef("content %s update: %v", v.ContentID, err)
		}
	}
	return b, nil
}

func appendSeen(b []byte, first, last time.Time) ([]byte, error) {
	b, err := packUnix32(b, first)
	if err != nil {
		return nil, err
	}
	return packUnix32(b, last)
}

func decodeContent(d *decoder) Item {
	v := Content{
		ContentID: ebakup.ContentID(d.lengthPrefixed()),
		Checksum:  d.lengthPrefixed(),
		FirstSeen: unixFrom32(d.uint32()),
		LastSeen:  unixFrom32(d.uint32()),
	}
	for {
		tag, ok := d.peek()
		if !ok || (tag != tagContentRestored && tag != tagContentChanged) {
			break
		}
		d.pos++
		u := ContentUpdate{Restored: tag == tagContentRestored}
		if !u.Restored {
			u.Checksum = d.lengthPrefixed()
		}
		u.FirstSeen = unixFrom32(d.uint32())
		u.LastSeen = unixFrom32(d.uint32())
		v.Updates = append(v.Updates, u)
	}
	return v
}

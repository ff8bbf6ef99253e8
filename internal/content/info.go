package content

import (
	"bytes"
	"time"

	"ebakup-go/internal/codec"
	"ebakup-go/internal/ebakup"
)

// ChecksumEntry is one span of the checksum timeline: the checksum that was
// observed for a blob between FirstSeen and LastSeen. Restored entries carry
// the good checksum.
type ChecksumEntry struct {
	Checksum  []byte
	FirstSeen time.Time
	LastSeen  time.Time
	Restored  bool
}

// Info describes a stored blob. The first timeline entry always holds the
// good checksum and is marked restored.
type Info struct {
	ID           ebakup.ContentID
	GoodChecksum []byte
	Timeline     []ChecksumEntry
}

// FirstSeen returns when the content was first added.
func (i *Info) FirstSeen() time.Time { return i.Timeline[0].FirstSeen }

// LastChecksum returns the checksum most recently observed for the blob.
func (i *Info) LastChecksum() []byte { return i.Timeline[len(i.Timeline)-1].Checksum }

func (i *Info) clone() *Info {
	c := &Info{ID: i.ID, GoodChecksum: i.GoodChecksum}
	c.Timeline = append([]ChecksumEntry(nil), i.Timeline...)
	return c
}

func infoFromItem(it codec.Content) *Info {
	info := &Info{
		ID:           it.ContentID,
		GoodChecksum: it.Checksum,
		Timeline: []ChecksumEntry{{
			Checksum:  it.Checksum,
			FirstSeen: it.FirstSeen,
			LastSeen:  it.LastSeen,
			Restored:  true,
		}},
	}
	for _, u := range it.Updates {
		e := ChecksumEntry{Checksum: u.Checksum, FirstSeen: u.FirstSeen, LastSeen: u.LastSeen, Restored: u.Restored}
		if u.Restored {
			e.Checksum = it.Checksum
		}
		info.Timeline = append(info.Timeline, e)
	}
	return info
}

func (i *Info) item() codec.Content {
	first := i.Timeline[0]
	it := codec.Content{
		ContentID: i.ID,
		Checksum:  i.GoodChecksum,
		FirstSeen: first.FirstSeen,
		LastSeen:  first.LastSeen,
	}
	for _, e := range i.Timeline[1:] {
		u := codec.ContentUpdate{Restored: e.Restored, FirstSeen: e.FirstSeen, LastSeen: e.LastSeen}
		if !e.Restored {
			u.Checksum = e.Checksum
		}
		it.Updates = append(it.Updates, u)
	}
	return it
}

// validate checks a timeline read from disk.
func (i *Info) validate(path string) error {
	var prev time.Time
	for n, e := range i.Timeline {
		if e.LastSeen.Before(e.FirstSeen) {
			return ebakup.Corruptf(path, -1, "content %s: timeline entry %d ends before it starts", i.ID, n)
		}
		if n > 0 && !e.FirstSeen.After(prev) {
			return ebakup.Corruptf(path, -1, "content %s: timeline entry %d overlaps its predecessor", i.ID, n)
		}
		if e.Restored && !bytes.Equal(e.Checksum, i.GoodChecksum) {
			return ebakup.Corruptf(path, -1, "content %s: restored entry %d has a bad checksum", i.ID, n)
		}
		prev = e.LastSeen
	}
	return nil
}

// Package content implements the content-addressed blob store of a backup
// collection: blobs are identified by their checksum, stored once and
// tracked in a content index BlockFile together with a checksum timeline.
package content

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"path/filepath"
	"time"

	"ebakup-go/internal/blockfile"
	"ebakup-go/internal/checksum"
	"ebakup-go/internal/codec"
	"ebakup-go/internal/ebakup"
)

var (
	// ErrContentMissing reports a known content id whose blob file is gone.
	ErrContentMissing = fmt.Errorf("content missing: %w", ebakup.ErrNotFound)

	// ErrContentCorrupt reports a blob whose bytes no longer match its
	// good checksum.
	ErrContentCorrupt = fmt.Errorf("content corrupt: %w", ebakup.ErrDataCorrupt)
)

const (
	// copyChunk is the window used when hashing and copying sources.
	copyChunk = 4 << 20
	// compareChunk is the window used when comparing a new blob with an
	// existing one.
	compareChunk = 1 << 20
)

// Store is the content store of one collection. It keeps the content
// index in memory and opens the index file only while changing it.
// It is not safe for concurrent use.
type Store struct {
	fsys   ebakup.FileSystem
	root   string
	algo   *checksum.Algorithm
	codec  *codec.Codec
	ids    ebakup.IDGenerator
	logger ebakup.Logger

	infos      map[ebakup.ContentID]*Info
	order      []ebakup.ContentID
	byChecksum map[string][]ebakup.ContentID
}

// IndexPath returns the path of the content index of a collection.
func IndexPath(root string) string { return filepath.Join(root, "db", "content") }

// Create creates an empty content index and the blob directories under
// the collection root.
func Create(fsys ebakup.FileSystem, root string, opts blockfile.Options) error {
	for _, dir := range []string{filepath.Join(root, "db"), filepath.Join(root, "content"), filepath.Join(root, "tmp")} {
		if err := fsys.MkdirAll(dir); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	bf, err := blockfile.Create(fsys, IndexPath(root), codec.MagicContent, opts)
	if err != nil {
		return fmt.Errorf("creating content index: %w", err)
	}
	if err := bf.Commit(); err != nil {
		return fmt.Errorf("creating content index: %w", err)
	}
	return nil
}

// Open loads the content index of the collection at root. Blobs are hashed
// with the algorithm that protects the index.
func Open(fsys ebakup.FileSystem, root string, ids ebakup.IDGenerator, logger ebakup.Logger) (*Store, error) {
	bf, err := blockfile.OpenRead(fsys, IndexPath(root))
	if err != nil {
		return nil, fmt.Errorf("opening content index: %w", err)
	}
	defer bf.Close()
	if err := bf.ExpectMagic(codec.MagicContent); err != nil {
		return nil, err
	}
	c, err := codec.ForMagic(codec.MagicContent)
	if err != nil {
		return nil, err
	}

	s := &Store{
		fsys:       fsys,
		root:       root,
		algo:       bf.Checksum(),
		codec:      c,
		ids:        ids,
		logger:     logger,
		infos:      map[ebakup.ContentID]*Info{},
		byChecksum: map[string][]ebakup.ContentID{},
	}
	r := codec.NewItemReader(c, bf)
	for {
		it, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading content index: %w", err)
		}
		item := it.(codec.Content)
		if _, ok := s.infos[item.ContentID]; ok {
			return nil, ebakup.Corruptf(bf.Path(), r.Block(), "content %s listed twice", item.ContentID)
		}
		if len(item.ContentID) < checksum.MinSize {
			return nil, ebakup.Corruptf(bf.Path(), r.Block(), "content id %s too short", item.ContentID)
		}
		info := infoFromItem(item)
		if err := info.validate(bf.Path()); err != nil {
			return nil, err
		}
		s.register(info)
	}
	return s, nil
}

func (s *Store) register(info *Info) {
	s.infos[info.ID] = info
	s.order = append(s.order, info.ID)
	key := string(info.GoodChecksum)
	s.byChecksum[key] = append(s.byChecksum[key], info.ID)
}

// Algorithm returns the checksum algorithm used for content ids.
func (s *Store) Algorithm() *checksum.Algorithm { return s.algo }

// BlobPath returns where the blob of id is stored:
// content/hex(id[0])/hex(id[1])/hex(id[2:]).
func (s *Store) BlobPath(id ebakup.ContentID) string {
	return filepath.Join(s.root, "content",
		hex.EncodeToString([]byte(id[:1])),
		hex.EncodeToString([]byte(id[1:2])),
		hex.EncodeToString([]byte(id[2:])))
}

// ContentIDs returns all content ids in the order they were added.
func (s *Store) ContentIDs() []ebakup.ContentID {
	return append([]ebakup.ContentID(nil), s.order...)
}

// Len returns the number of stored blobs.
func (s *Store) Len() int { return len(s.order) }

// GetContentInfo returns a copy of the info for id.
func (s *Store) GetContentInfo(id ebakup.ContentID) (*Info, error) {
	info, ok := s.infos[id]
	if !ok {
		return nil, fmt.Errorf("content %s: %w", id, ebakup.ErrNotFound)
	}
	return info.clone(), nil
}

// AddContent stores the bytes of r and returns their content id. If a blob
// with the same bytes is already stored, its id is returned and nothing is
// written. now is recorded as the first time the content was seen. The blob
// is in place before the index lists it. Adding bytes whose stored blob has
// gone missing fails with ErrContentMissing.
func (s *Store) AddContent(ctx context.Context, r io.Reader, now time.Time) (ebakup.ContentID, error) {
	tmpDir := filepath.Join(s.root, "tmp")
	if err := s.fsys.MkdirAll(tmpDir); err != nil {
		return "", fmt.Errorf("creating %s: %w", tmpDir, err)
	}
	tmpPath := filepath.Join(tmpDir, s.ids.New())
	sum, size, err := s.copyToTemp(ctx, r, tmpPath)
	if err != nil {
		s.fsys.Remove(tmpPath)
		return "", err
	}

	for _, candidate := range s.byChecksum[string(sum)] {
		same, err := s.sameBytes(ctx, tmpPath, size, candidate)
		if err != nil {
			s.fsys.Remove(tmpPath)
			return "", err
		}
		if same {
			s.fsys.Remove(tmpPath)
			s.logger.Debug("content deduplicated", "content_id", candidate.Hex(), "size", size)
			return candidate, nil
		}
	}

	id := s.newID(sum)
	blob := s.BlobPath(id)
	if err := s.storeBlob(ctx, tmpPath, size, blob); err != nil {
		s.fsys.Remove(tmpPath)
		return "", fmt.Errorf("storing content %s: %w", id, err)
	}

	now = now.UTC().Truncate(time.Second)
	info := &Info{
		ID:           id,
		GoodChecksum: sum,
		Timeline:     []ChecksumEntry{{Checksum: sum, FirstSeen: now, LastSeen: now, Restored: true}},
	}
	if err := s.appendToIndex(info); err != nil {
		s.fsys.Remove(blob)
		return "", err
	}
	s.register(info)
	s.logger.Debug("content added", "content_id", id.Hex(), "size", size)
	return id, nil
}

// storeBlob moves the temp file at tmpPath to blob. A blob left behind by an
// interrupted add is kept when it holds the same bytes.
func (s *Store) storeBlob(ctx context.Context, tmpPath string, size int64, blob string) error {
	if err := s.fsys.MkdirAll(filepath.Dir(blob)); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(blob), err)
	}
	err := s.fsys.RenameNoReplace(tmpPath, blob)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ebakup.ErrExists) {
		return err
	}
	same, err := s.sameFile(ctx, tmpPath, size, blob)
	if err != nil {
		return err
	}
	if !same {
		return ebakup.Corruptf(blob, -1, "unindexed blob holds different bytes")
	}
	s.logger.Warn("reusing unindexed blob", "path", blob)
	return s.fsys.Remove(tmpPath)
}

// copyToTemp copies r into a new file at path and returns the checksum and
// size of the copied bytes.
func (s *Store) copyToTemp(ctx context.Context, r io.Reader, path string) ([]byte, int64, error) {
	f, err := s.fsys.Create(path)
	if err != nil {
		return nil, 0, fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	if err := f.Truncate(0); err != nil {
		return nil, 0, fmt.Errorf("truncating %s: %w", path, err)
	}

	h := s.algo.New()
	buf := make([]byte, copyChunk)
	var size int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		n, rerr := io.ReadFull(r, buf)
		if n > 0 {
			h.Write(buf[:n])
			if _, err := f.Write(buf[:n]); err != nil {
				return nil, 0, fmt.Errorf("writing %s: %w", path, err)
			}
			size += int64(n)
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return nil, 0, fmt.Errorf("reading content source: %w", rerr)
		}
	}
	if err := f.Sync(); err != nil {
		return nil, 0, fmt.Errorf("syncing %s: %w", path, err)
	}
	return h.Sum(nil), size, nil
}

// sameBytes compares the file at path with the blob of id. A known id
// whose blob is gone is reported as ErrContentMissing.
func (s *Store) sameBytes(ctx context.Context, path string, size int64, id ebakup.ContentID) (bool, error) {
	same, err := s.sameFile(ctx, path, size, s.BlobPath(id))
	if errors.Is(err, iofs.ErrNotExist) {
		return false, fmt.Errorf("content %s: %w", id, ErrContentMissing)
	}
	return same, err
}

func (s *Store) sameFile(ctx context.Context, path string, size int64, blob string) (bool, error) {
	b, err := s.fsys.Open(blob)
	if err != nil {
		return false, err
	}
	defer b.Close()
	if bsize, err := b.Size(); err != nil || bsize != size {
		return false, err
	}

	f, err := s.fsys.Open(path)
	if err != nil {
		return false, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	left := make([]byte, compareChunk)
	right := make([]byte, compareChunk)
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		n, lerr := io.ReadFull(f, left)
		m, rerr := io.ReadFull(b, right)
		if n != m || !bytes.Equal(left[:n], right[:m]) {
			return false, nil
		}
		ldone := lerr == io.EOF || lerr == io.ErrUnexpectedEOF
		rdone := rerr == io.EOF || rerr == io.ErrUnexpectedEOF
		if lerr != nil && !ldone {
			return false, fmt.Errorf("reading %s: %w", path, lerr)
		}
		if rerr != nil && !rdone {
			return false, fmt.Errorf("reading %s: %w", blob, rerr)
		}
		if ldone || rdone {
			return ldone && rdone, nil
		}
	}
}

// newID derives the content id for a checksum. Blobs with different bytes
// but the same checksum get the checksum followed by the first unused
// counter suffix.
func (s *Store) newID(sum []byte) ebakup.ContentID {
	id := ebakup.ContentID(sum)
	if _, taken := s.infos[id]; !taken {
		return id
	}
	for n := uint64(0); ; n++ {
		id = ebakup.ContentID(binary.AppendUvarint(append([]byte(nil), sum...), n))
		if _, taken := s.infos[id]; !taken {
			return id
		}
	}
}

// appendToIndex adds one content item after the last item of the index.
func (s *Store) appendToIndex(info *Info) error {
	bf, err := blockfile.OpenInPlace(s.fsys, IndexPath(s.root))
	if err != nil {
		return fmt.Errorf("opening content index: %w", err)
	}
	defer bf.Close()

	var w *codec.ItemWriter
	last := bf.BlockCount() - 1
	if last < 1 {
		w = codec.NewItemWriter(s.codec, bf)
	} else {
		data, err := bf.Block(last)
		if err != nil {
			return err
		}
		used, err := s.codec.UsedSize(data)
		if err != nil {
			return ebakup.Corruptf(bf.Path(), last, "%v", err)
		}
		w = codec.NewItemWriterAt(s.codec, bf, last, data[:used])
	}
	if err := w.Write(info.item()); err != nil {
		return fmt.Errorf("recording content %s: %w", info.ID, err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("recording content %s: %w", info.ID, err)
	}
	return bf.Commit()
}

// UpdateContentChecksum appends an observation of sum at time when to the
// checksum timeline of id. An observation of the same checksum as the last
// entry extends that entry; a different checksum starts a new entry and must
// be observed strictly after the last one. restored marks the content as recovered and
// requires sum to be the good checksum.
func (s *Store) UpdateContentChecksum(id ebakup.ContentID, when time.Time, sum []byte, restored bool) error {
	current, ok := s.infos[id]
	if !ok {
		return fmt.Errorf("content %s: %w", id, ebakup.ErrNotFound)
	}
	good := bytes.Equal(sum, current.GoodChecksum)
	if restored && !good {
		return ebakup.Usagef("content %s cannot be restored to a checksum other than its good checksum", id)
	}
	when = when.UTC().Truncate(time.Second)
	info := current.clone()
	last := &info.Timeline[len(info.Timeline)-1]
	if when.Before(last.LastSeen) {
		return ebakup.Usagef("content %s: checksum observed at %s, before the last observation at %s",
			id, when.Format(time.RFC3339), last.LastSeen.Format(time.RFC3339))
	}
	switch {
	case bytes.Equal(last.Checksum, sum):
		last.LastSeen = when
	case !when.After(last.LastSeen):
		return ebakup.Usagef("content %s: a different checksum cannot be observed at %s, when %s was last seen",
			id, when.Format(time.RFC3339), hex.EncodeToString(last.Checksum))
	default:
		info.Timeline = append(info.Timeline, ChecksumEntry{
			Checksum:  append([]byte(nil), sum...),
			FirstSeen: when,
			LastSeen:  when,
			Restored:  good,
		})
	}
	if err := s.rewriteIndex(info); err != nil {
		return err
	}
	s.infos[id] = info
	return nil
}

// rewriteIndex rewrites the whole content index with the item for
// changed.ID replaced.
func (s *Store) rewriteIndex(changed *Info) error {
	bf, err := blockfile.OpenRewrite(s.fsys, IndexPath(s.root))
	if err != nil {
		return fmt.Errorf("opening content index: %w", err)
	}
	defer bf.Close()

	r := codec.NewItemReader(s.codec, bf)
	w := codec.NewItemWriter(s.codec, bf)
	for {
		it, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading content index: %w", err)
		}
		if it.(codec.Content).ContentID == changed.ID {
			it = changed.item()
		}
		if err := w.Write(it); err != nil {
			return fmt.Errorf("rewriting content index: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("rewriting content index: %w", err)
	}
	return bf.Commit()
}

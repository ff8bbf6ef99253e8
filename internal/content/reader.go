package content

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"

	"ebakup-go/internal/ebakup"
)

// Reader gives read-only access to a stored blob. Reading it sequentially
// to the end verifies the bytes: a mismatch with the good checksum is
// reported as ErrContentCorrupt instead of io.EOF. ReadAt does not verify.
type Reader struct {
	id   ebakup.ContentID
	f    ebakup.File
	size int64
	want []byte
	h    hash.Hash
}

// GetContentReader opens the blob of id for reading.
func (s *Store) GetContentReader(id ebakup.ContentID) (*Reader, error) {
	info, ok := s.infos[id]
	if !ok {
		return nil, fmt.Errorf("content %s: %w", id, ebakup.ErrNotFound)
	}
	f, err := s.openBlob(id)
	if err != nil {
		return nil, err
	}
	size, err := f.Size()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("reading content %s: %w", id, err)
	}
	return &Reader{id: id, f: f, size: size, want: info.GoodChecksum, h: s.algo.New()}, nil
}

func (s *Store) openBlob(id ebakup.ContentID) (ebakup.File, error) {
	f, err := s.fsys.Open(s.BlobPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrContentMissing, id)
	}
	if err != nil {
		return nil, fmt.Errorf("opening content %s: %w", id, err)
	}
	return f, nil
}

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.f.Read(p)
	r.h.Write(p[:n])
	if err == io.EOF && !bytes.Equal(r.h.Sum(nil), r.want) {
		return n, fmt.Errorf("%w: %s", ErrContentCorrupt, r.id)
	}
	return n, err
}

func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	return r.f.ReadAt(p, off)
}

// Size returns the size of the blob.
func (r *Reader) Size() int64 { return r.size }

func (r *Reader) Close() error { return r.f.Close() }

// Checksum computes the current checksum of the blob of id.
func (s *Store) Checksum(ctx context.Context, id ebakup.ContentID) ([]byte, error) {
	if _, ok := s.infos[id]; !ok {
		return nil, fmt.Errorf("content %s: %w", id, ebakup.ErrNotFound)
	}
	f, err := s.openBlob(id)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := s.algo.New()
	buf := make([]byte, copyChunk)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := f.Read(buf)
		h.Write(buf[:n])
		if err == io.EOF {
			return h.Sum(nil), nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading content %s: %w", id, err)
		}
	}
}

// VerifyContent reads the blob of id and compares it with the good
// checksum. It returns nil, ErrContentMissing or ErrContentCorrupt.
func (s *Store) VerifyContent(ctx context.Context, id ebakup.ContentID) error {
	sum, err := s.Checksum(ctx, id)
	if err != nil {
		return err
	}
	if !bytes.Equal(sum, s.infos[id].GoodChecksum) {
		return fmt.Errorf("%w: %s", ErrContentCorrupt, id)
	}
	return nil
}

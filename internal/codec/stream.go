package codec

import (
	"errors"
	"io"

	"ebakup-go/internal/ebakup"
)

// BlockSource is the read side of a BlockFile as seen by an ItemReader.
// Block returns nil data and no error past the end of the file.
type BlockSource interface {
	Block(index int) ([]byte, error)
	Path() string
}

// BlockSink is the write side of a BlockFile as seen by an ItemWriter.
type BlockSink interface {
	SetBlock(index int, data []byte) error
	DataSize() int
}

// ItemReader yields the items of a BlockFile in file order, starting with
// block 1.
type ItemReader struct {
	codec *Codec
	src   BlockSource
	block int
	items []Item
	done  bool
}

func NewItemReader(c *Codec, src BlockSource) *ItemReader {
	return &ItemReader{codec: c, src: src}
}

// Next returns the next item, or io.EOF after the last one.
func (r *ItemReader) Next() (Item, error) {
	for len(r.items) == 0 {
		if r.done {
			return nil, io.EOF
		}
		r.block++
		data, err := r.src.Block(r.block)
		if err != nil {
			return nil, err
		}
		if data == nil {
			r.done = true
			return nil, io.EOF
		}
		items, err := r.codec.DecodeBlock(data)
		if err != nil {
			return nil, locate(err, r.src.Path(), r.block)
		}
		r.items = items
	}
	it := r.items[0]
	r.items = r.items[1:]
	return it, nil
}

// Block returns the index of the block the last item came from.
func (r *ItemReader) Block() int { return r.block }

// locate attaches a file path and block index to a decode failure.
func locate(err error, path string, block int) error {
	var de *decodeError
	if errors.As(err, &de) {
		return &ebakup.CorruptError{Path: path, Block: block, Reason: de.reason}
	}
	return err
}

// ItemWriter packs items into consecutive blocks. Items are never split;
// when an item does not fit in the space left, the block is written and
// the item starts a new one.
type ItemWriter struct {
	codec *Codec
	sink  BlockSink
	block int
	buf   []byte
	dirty bool
}

// NewItemWriter starts writing at block 1 of an empty file.
func NewItemWriter(c *Codec, sink BlockSink) *ItemWriter {
	return &ItemWriter{codec: c, sink: sink, block: 1}
}

// NewItemWriterAt continues writing into block, which already holds used
// bytes of item data.
func NewItemWriterAt(c *Codec, sink BlockSink, block int, used []byte) *ItemWriter {
	return &ItemWriter{codec: c, sink: sink, block: block, buf: append([]byte(nil), used...)}
}

// Write encodes it and appends it to the current block.
func (w *ItemWriter) Write(it Item) error {
	enc, err := w.codec.Encode(it)
	if err != nil {
		return err
	}
	size := w.sink.DataSize()
	if len(enc) > size {
		return &ebakup.CapacityError{Kind: ItemName(it), Size: len(enc), Remaining: size}
	}
	if len(w.buf)+len(enc) > size {
		if err := w.Flush(); err != nil {
			return err
		}
		w.block++
		w.buf = w.buf[:0]
	}
	w.buf = append(w.buf, enc...)
	w.dirty = true
	return nil
}

// Flush writes the current partial block. Later writes keep filling it.
func (w *ItemWriter) Flush() error {
	if !w.dirty {
		return nil
	}
	if err := w.sink.SetBlock(w.block, w.buf); err != nil {
		return err
	}
	w.dirty = false
	return nil
}

// Block returns the index of the block currently being filled.
func (w *ItemWriter) Block() int { return w.block }

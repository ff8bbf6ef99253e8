// Package blockfile implements the checksummed fixed-size block container
// that every ebakup database file is stored in.
//
// Block 0 is the header: a magic line followed by key:value settings. Every
// block holds DataSize bytes of payload followed by a checksum of that
// payload. Item encoding is left to the codec package.
package blockfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"

	"ebakup-go/internal/checksum"
	"ebakup-go/internal/codec"
	"ebakup-go/internal/ebakup"
)

const (
	DefaultBlockSize = 4096
	MinBlockSize     = 256
	MaxBlockSize     = 1 << 20

	// SettingBlockSize and SettingBlockSum are reserved header keys
	// describing the container itself.
	SettingBlockSize = "edb-blocksize"
	SettingBlockSum  = "edb-blocksum"

	// NewSuffix names the replacement file used while creating or
	// rewriting a file.
	NewSuffix = ".new"
)

type mode int

const (
	modeRead mode = iota
	modeInPlace
	modeCreate
	modeRewrite
)

func (m mode) String() string {
	switch m {
	case modeRead:
		return "read"
	case modeInPlace:
		return "in-place"
	case modeCreate:
		return "create"
	case modeRewrite:
		return "rewrite"
	}
	return "unknown"
}

// Options configures a newly created file.
type Options struct {
	BlockSize int
	Checksum  string
}

func (o Options) withDefaults() Options {
	if o.BlockSize == 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.Checksum == "" {
		o.Checksum = checksum.Default
	}
	return o
}

// BlockFile is an open block container. It is not safe for concurrent use.
type BlockFile struct {
	fsys ebakup.FileSystem
	path string
	mode mode

	// file is the existing file; it is nil while creating.
	file ebakup.File
	// next receives all writes while creating or rewriting.
	next ebakup.File

	magic     string
	settings  []codec.Setting
	blockSize int
	algo      *checksum.Algorithm

	// blocks counts the blocks of the file reads come from, header
	// included. written counts the blocks of the file writes go to.
	blocks  int
	written int
	cache   map[int][]byte

	closed bool
}

// Create starts a new file at path. All writes go to path+".new" until
// Commit renames it into place. Create fails with ebakup.ErrExists if path
// already exists.
//
// Only the ".new" file is locked: path does not exist yet, so there is no
// file to take a second lock on. A concurrent creator fails on that lock,
// and Commit will not replace a path that appeared in the meantime.
func Create(fsys ebakup.FileSystem, path, magic string, opts Options) (*BlockFile, error) {
	opts = opts.withDefaults()
	if opts.BlockSize < MinBlockSize || opts.BlockSize > MaxBlockSize {
		return nil, ebakup.Usagef("block size %d outside [%d, %d]", opts.BlockSize, MinBlockSize, MaxBlockSize)
	}
	algo, err := checksum.Lookup(opts.Checksum)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ebakup.ErrUsage, err)
	}
	if algo.Size*2 >= opts.BlockSize {
		return nil, ebakup.Usagef("block size %d too small for %s", opts.BlockSize, algo.Name)
	}
	if fsys.Exists(path) {
		return nil, fmt.Errorf("creating %s: %w", path, ebakup.ErrExists)
	}

	next, err := openNext(fsys, path)
	if err != nil {
		return nil, err
	}
	bf := &BlockFile{
		fsys:      fsys,
		path:      path,
		mode:      modeCreate,
		next:      next,
		magic:     magic,
		blockSize: opts.BlockSize,
		algo:      algo,
		cache:     map[int][]byte{},
		settings: []codec.Setting{
			{Key: SettingBlockSize, Value: strconv.Itoa(opts.BlockSize)},
			{Key: SettingBlockSum, Value: algo.Name},
		},
	}
	if err := bf.writeHeader(); err != nil {
		bf.discardNext()
		return nil, err
	}
	bf.blocks = 1
	return bf, nil
}

// OpenRead opens an existing file for reading under a shared lock.
func OpenRead(fsys ebakup.FileSystem, path string) (*BlockFile, error) {
	return open(fsys, path, modeRead)
}

// OpenInPlace opens an existing file for reading and writing under an
// exclusive lock. Writes are visible immediately; Commit and Close only
// release the lock.
func OpenInPlace(fsys ebakup.FileSystem, path string) (*BlockFile, error) {
	return open(fsys, path, modeInPlace)
}

// OpenRewrite opens an existing file for a full rewrite. Reads come from
// the existing file; writes go to a fresh copy that starts with the same
// header and replaces the existing file on Commit.
func OpenRewrite(fsys ebakup.FileSystem, path string) (*BlockFile, error) {
	bf, err := open(fsys, path, modeRewrite)
	if err != nil {
		return nil, err
	}
	next, err := openNext(fsys, path)
	if err != nil {
		bf.release()
		return nil, err
	}
	bf.next = next
	if err := bf.writeHeader(); err != nil {
		bf.discardNext()
		bf.release()
		return nil, err
	}
	return bf, nil
}

func open(fsys ebakup.FileSystem, path string, m mode) (*BlockFile, error) {
	var (
		f   ebakup.File
		err error
	)
	if m == modeInPlace {
		f, err = fsys.OpenReadWrite(path)
	} else {
		f, err = fsys.Open(path)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("opening %s: %w", path, ebakup.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	if err := f.Lock(m != modeRead); err != nil {
		f.Close()
		return nil, err
	}
	bf := &BlockFile{fsys: fsys, path: path, mode: m, file: f, cache: map[int][]byte{}}
	if err := bf.readHeader(); err != nil {
		bf.release()
		return nil, err
	}
	return bf, nil
}

// openNext opens the replacement file for path under an exclusive lock.
// A leftover replacement file from an aborted writer is taken over when
// nobody holds its lock.
func openNext(fsys ebakup.FileSystem, path string) (ebakup.File, error) {
	next, err := fsys.Create(path + NewSuffix)
	if err != nil {
		return nil, fmt.Errorf("creating %s%s: %w", path, NewSuffix, err)
	}
	if err := next.Lock(true); err != nil {
		next.Close()
		return nil, err
	}
	if err := next.Truncate(0); err != nil {
		next.Unlock()
		next.Close()
		return nil, fmt.Errorf("truncating %s: %w", next.Name(), err)
	}
	return next, nil
}

func (bf *BlockFile) readHeader() error {
	size, err := bf.file.Size()
	if err != nil {
		return fmt.Errorf("reading %s: %w", bf.path, err)
	}
	if size == 0 {
		return ebakup.Corruptf(bf.path, 0, "empty file")
	}

	// The header text ends at the first NUL; the block size is only known
	// once it has been parsed.
	prefix, err := bf.readPrefix(size)
	if err != nil {
		return err
	}
	end := bytes.IndexByte(prefix, 0)
	if end < 0 {
		return ebakup.Corruptf(bf.path, 0, "header is not terminated")
	}
	_, settings, err := codec.DecodeHeader(prefix[:end])
	if err != nil {
		return bf.locate(err, 0)
	}
	blockSize, algo, err := containerSettings(settings)
	if err != nil {
		return bf.locate(err, 0)
	}
	bf.blockSize = blockSize
	bf.algo = algo
	if size < int64(blockSize) {
		return ebakup.Corruptf(bf.path, 0, "file shorter than one block")
	}

	data, err := bf.readBlock(bf.file, 0)
	if err != nil {
		return err
	}
	magic, settings, err := codec.DecodeHeader(data)
	if err != nil {
		return bf.locate(err, 0)
	}
	bf.magic = magic
	bf.settings = settings
	bf.blocks = int((size + int64(blockSize) - 1) / int64(blockSize))
	bf.cache[0] = data
	return nil
}

func (bf *BlockFile) readPrefix(size int64) ([]byte, error) {
	n := min(size, DefaultBlockSize)
	for {
		buf := make([]byte, n)
		if _, err := bf.file.ReadAt(buf, 0); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("reading %s: %w", bf.path, err)
		}
		if bytes.IndexByte(buf, 0) >= 0 || n == size || n >= MaxBlockSize {
			return buf, nil
		}
		n = min(size, MaxBlockSize)
	}
}

func containerSettings(settings []codec.Setting) (int, *checksum.Algorithm, error) {
	var sizeText, sumName string
	for _, s := range settings {
		switch s.Key {
		case SettingBlockSize:
			sizeText = s.Value
		case SettingBlockSum:
			sumName = s.Value
		}
	}
	blockSize, err := strconv.Atoi(sizeText)
	if err != nil || blockSize < MinBlockSize || blockSize > MaxBlockSize {
		return 0, nil, fmt.Errorf("%w: invalid %s %q", ebakup.ErrDataCorrupt, SettingBlockSize, sizeText)
	}
	algo, err := checksum.Lookup(sumName)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ebakup.ErrDataCorrupt, err)
	}
	if algo.Size*2 >= blockSize {
		return 0, nil, fmt.Errorf("%w: block size %d too small for %s", ebakup.ErrDataCorrupt, blockSize, algo.Name)
	}
	return blockSize, algo, nil
}

// locate turns a header decoding failure into a CorruptError.
func (bf *BlockFile) locate(err error, block int) error {
	var ce *ebakup.CorruptError
	if errors.As(err, &ce) || !errors.Is(err, ebakup.ErrDataCorrupt) {
		return err
	}
	reason := strings.TrimPrefix(err.Error(), ebakup.ErrDataCorrupt.Error()+": ")
	return ebakup.Corruptf(bf.path, block, "%s", reason)
}

// readBlock reads and verifies one block, returning its payload.
func (bf *BlockFile) readBlock(f ebakup.File, index int) ([]byte, error) {
	buf := make([]byte, bf.blockSize)
	n, err := f.ReadAt(buf, int64(index)*int64(bf.blockSize))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading %s block %d: %w", bf.path, index, err)
	}
	if n < bf.blockSize {
		return nil, ebakup.Corruptf(bf.path, index, "truncated block of %d bytes", n)
	}
	data, sum := buf[:bf.DataSize()], buf[bf.DataSize():]
	if !bytes.Equal(bf.algo.Sum(data), sum) {
		return nil, ebakup.Corruptf(bf.path, index, "checksum mismatch")
	}
	return data, nil
}

// Block returns the verified payload of block index, DataSize bytes long.
// It returns nil and no error past the end of the file. The returned slice
// must not be modified.
func (bf *BlockFile) Block(index int) ([]byte, error) {
	if bf.closed {
		return nil, ebakup.Usagef("%s is closed", bf.path)
	}
	if index < 0 {
		return nil, ebakup.Usagef("negative block index %d", index)
	}
	if data, ok := bf.cache[index]; ok {
		return data, nil
	}
	if index >= bf.blocks {
		return nil, nil
	}
	data, err := bf.readBlock(bf.source(), index)
	if err != nil {
		return nil, err
	}
	bf.cache[index] = data
	return data, nil
}

// source is the file reads are served from.
func (bf *BlockFile) source() ebakup.File {
	if bf.mode == modeCreate {
		return bf.next
	}
	return bf.file
}

// target is the file writes go to.
func (bf *BlockFile) target() ebakup.File {
	if bf.mode == modeInPlace {
		return bf.file
	}
	return bf.next
}

// SetBlock writes the payload of a data block. data is padded with zeros
// to DataSize. Blocks can be overwritten or appended, but not skipped.
func (bf *BlockFile) SetBlock(index int, data []byte) error {
	if err := bf.checkWritable(); err != nil {
		return err
	}
	if index < 1 {
		return ebakup.Usagef("block %d of %s cannot be written directly", index, bf.path)
	}
	if len(data) > bf.DataSize() {
		return &ebakup.CapacityError{Kind: "block", Size: len(data), Remaining: bf.DataSize()}
	}
	if index > bf.writtenBlocks() {
		return ebakup.Usagef("block %d of %s written before block %d", index, bf.path, bf.writtenBlocks())
	}
	payload := make([]byte, bf.DataSize())
	copy(payload, data)
	if err := bf.writeBlock(index, payload); err != nil {
		return err
	}
	if bf.mode != modeRewrite {
		bf.cache[index] = payload
		bf.blocks = max(bf.blocks, index+1)
	}
	bf.written = max(bf.written, index+1)
	return nil
}

func (bf *BlockFile) writtenBlocks() int {
	if bf.mode == modeInPlace {
		return bf.blocks
	}
	return bf.written
}

func (bf *BlockFile) writeBlock(index int, payload []byte) error {
	block := append(payload[:len(payload):len(payload)], bf.algo.Sum(payload)...)
	if _, err := bf.target().WriteAt(block, int64(index)*int64(bf.blockSize)); err != nil {
		return fmt.Errorf("writing %s block %d: %w", bf.path, index, err)
	}
	return nil
}

func (bf *BlockFile) writeHeader() error {
	payload, err := codec.EncodeHeader(bf.magic, bf.settings, bf.DataSize())
	if err != nil {
		return err
	}
	if err := bf.writeBlock(0, payload); err != nil {
		return err
	}
	if bf.mode != modeRewrite {
		bf.cache[0] = payload
	}
	bf.written = max(bf.written, 1)
	return nil
}

func (bf *BlockFile) checkWritable() error {
	if bf.closed {
		return ebakup.Usagef("%s is closed", bf.path)
	}
	if bf.mode == modeRead {
		return ebakup.Usagef("%s is open read-only", bf.path)
	}
	return nil
}

// Setting returns the single value of a header setting. It fails with
// ebakup.ErrUsage if the key has more than one value.
func (bf *BlockFile) Setting(key string) (string, bool, error) {
	values := bf.MultiSetting(key)
	switch len(values) {
	case 0:
		return "", false, nil
	case 1:
		return values[0], true, nil
	}
	return "", false, ebakup.Usagef("setting %s of %s has %d values", key, bf.path, len(values))
}

// MultiSetting returns all values of a header setting in header order.
func (bf *BlockFile) MultiSetting(key string) []string {
	var values []string
	for _, s := range bf.settings {
		if s.Key == key {
			values = append(values, s.Value)
		}
	}
	return values
}

// Settings returns all header settings in header order.
func (bf *BlockFile) Settings() []codec.Setting {
	return append([]codec.Setting(nil), bf.settings...)
}

// SetSetting replaces all values of key with value and rewrites the header.
func (bf *BlockFile) SetSetting(key, value string) error {
	return bf.updateSettings(key, value, func(settings []codec.Setting) []codec.Setting {
		out := make([]codec.Setting, 0, len(settings)+1)
		replaced := false
		for _, s := range settings {
			if s.Key != key {
				out = append(out, s)
			} else if !replaced {
				out = append(out, codec.Setting{Key: key, Value: value})
				replaced = true
			}
		}
		if !replaced {
			out = append(out, codec.Setting{Key: key, Value: value})
		}
		return out
	})
}

// AppendSetting adds another value for key and rewrites the header.
func (bf *BlockFile) AppendSetting(key, value string) error {
	return bf.updateSettings(key, value, func(settings []codec.Setting) []codec.Setting {
		return append(append([]codec.Setting(nil), settings...), codec.Setting{Key: key, Value: value})
	})
}

func (bf *BlockFile) updateSettings(key, value string, update func([]codec.Setting) []codec.Setting) error {
	if err := bf.checkWritable(); err != nil {
		return err
	}
	if err := codec.ValidateSetting(key, value); err != nil {
		return err
	}
	if key == SettingBlockSize || key == SettingBlockSum {
		return ebakup.Usagef("setting %s is reserved", key)
	}
	old := bf.settings
	bf.settings = update(old)
	if err := bf.writeHeader(); err != nil {
		bf.settings = old
		return err
	}
	return nil
}

// Commit makes all writes durable and releases the file. A created file
// appears at its final path; a rewritten file replaces the original.
func (bf *BlockFile) Commit() error {
	if err := bf.checkWritable(); err != nil {
		return err
	}
	if err := bf.target().Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", bf.path, err)
	}
	switch bf.mode {
	case modeCreate:
		if err := bf.fsys.RenameNoReplace(bf.path+NewSuffix, bf.path); err != nil {
			bf.Close()
			return fmt.Errorf("committing %s: %w", bf.path, err)
		}
	case modeRewrite:
		if err := bf.fsys.Rename(bf.path+NewSuffix, bf.path); err != nil {
			bf.Close()
			return fmt.Errorf("committing %s: %w", bf.path, err)
		}
	}
	bf.closeNext()
	bf.release()
	return nil
}

// Close releases the file. Uncommitted creates and rewrites are discarded.
// Close is a no-op on a closed file.
func (bf *BlockFile) Close() error {
	if bf.closed {
		return nil
	}
	if bf.next != nil {
		bf.discardNext()
	}
	bf.release()
	return nil
}

func (bf *BlockFile) discardNext() {
	bf.fsys.Remove(bf.path + NewSuffix)
	bf.closeNext()
}

func (bf *BlockFile) closeNext() {
	if bf.next == nil {
		return
	}
	bf.next.Unlock()
	bf.next.Close()
	bf.next = nil
}

func (bf *BlockFile) release() {
	if bf.file != nil {
		bf.file.Unlock()
		bf.file.Close()
		bf.file = nil
	}
	bf.cache = nil
	bf.closed = true
}

// Path returns the final path of the file.
func (bf *BlockFile) Path() string { return bf.path }

// Magic returns the first header line.
func (bf *BlockFile) Magic() string { return bf.magic }

// ExpectMagic fails with a CorruptError if the file has a different magic.
func (bf *BlockFile) ExpectMagic(magic string) error {
	if bf.magic != magic {
		return ebakup.Corruptf(bf.path, 0, "magic %q, expected %q", bf.magic, magic)
	}
	return nil
}

// BlockSize returns the size of a block including its checksum.
func (bf *BlockFile) BlockSize() int { return bf.blockSize }

// DataSize returns the payload size of a block.
func (bf *BlockFile) DataSize() int { return bf.blockSize - bf.algo.Size }

// Checksum returns the algorithm protecting the blocks.
func (bf *BlockFile) Checksum() *checksum.Algorithm { return bf.algo }

// BlockCount returns the number of blocks, header included, visible to reads.
func (bf *BlockFile) BlockCount() int { return bf.blocks }

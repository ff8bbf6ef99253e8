// Package collection ties the content store and the snapshot logs of one
// backup collection together behind a single handle.
package collection

import (
	"fmt"
	"path/filepath"
	"strconv"

	"ebakup-go/internal/blockfile"
	"ebakup-go/internal/codec"
	"ebakup-go/internal/content"
	"ebakup-go/internal/ebakup"
)

const (
	settingChecksum  = "checksum"
	settingBlockSize = "blocksize"
)

// Collection is an open backup collection. It is not safe for concurrent
// use, and only one process may change a collection at a time.
type Collection struct {
	fsys   ebakup.FileSystem
	root   string
	clock  ebakup.Clock
	logger ebakup.Logger
	opts   blockfile.Options
	store  *content.Store
}

// MainPath returns the path of the collection settings file.
func MainPath(root string) string { return filepath.Join(root, "db", "main") }

// Create creates a new, empty collection at root and opens it. root must
// not exist or be an empty directory.
func Create(fsys ebakup.FileSystem, root string, opts blockfile.Options, clock ebakup.Clock, ids ebakup.IDGenerator, logger ebakup.Logger) (*Collection, error) {
	if fsys.Exists(root) {
		entries, err := fsys.ReadDir(root)
		if err != nil {
			return nil, fmt.Errorf("checking %s: %w", root, err)
		}
		if len(entries) > 0 {
			return nil, fmt.Errorf("creating collection at %s: %w", root, ebakup.ErrExists)
		}
	}
	if opts.BlockSize == 0 {
		opts.BlockSize = blockfile.DefaultBlockSize
	}
	if err := fsys.MkdirAll(filepath.Join(root, "db")); err != nil {
		return nil, fmt.Errorf("creating %s: %w", root, err)
	}

	main, err := blockfile.Create(fsys, MainPath(root), codec.MagicDatabase, opts)
	if err != nil {
		return nil, fmt.Errorf("creating collection settings: %w", err)
	}
	defer main.Close()
	algo := main.Checksum().Name
	if err := main.SetSetting(settingChecksum, algo); err != nil {
		return nil, err
	}
	if err := main.SetSetting(settingBlockSize, strconv.Itoa(main.BlockSize())); err != nil {
		return nil, err
	}
	if err := content.Create(fsys, root, opts); err != nil {
		return nil, err
	}
	// The settings file appears last; its presence marks a complete collection.
	if err := main.Commit(); err != nil {
		return nil, fmt.Errorf("creating collection settings: %w", err)
	}
	logger.Info("collection created", "root", root, "checksum", algo, "block_size", opts.BlockSize)
	return Open(fsys, root, clock, ids, logger)
}

// Open opens the collection at root.
func Open(fsys ebakup.FileSystem, root string, clock ebakup.Clock, ids ebakup.IDGenerator, logger ebakup.Logger) (*Collection, error) {
	main, err := blockfile.OpenRead(fsys, MainPath(root))
	if err != nil {
		return nil, fmt.Errorf("opening collection at %s: %w", root, err)
	}
	defer main.Close()
	if err := main.ExpectMagic(codec.MagicDatabase); err != nil {
		return nil, err
	}
	sum, ok, err := main.Setting(settingChecksum)
	if err != nil || !ok {
		return nil, ebakup.Corruptf(main.Path(), 0, "missing setting %s", settingChecksum)
	}
	sizeText, ok, err := main.Setting(settingBlockSize)
	if err != nil || !ok {
		return nil, ebakup.Corruptf(main.Path(), 0, "missing setting %s", settingBlockSize)
	}
	size, err := strconv.Atoi(sizeText)
	if err != nil {
		return nil, ebakup.Corruptf(main.Path(), 0, "invalid %s %q", settingBlockSize, sizeText)
	}

	store, err := content.Open(fsys, root, ids, logger)
	if err != nil {
		return nil, err
	}
	if store.Algorithm().Name != sum {
		return nil, ebakup.Corruptf(content.IndexPath(root), 0, "content index uses %s, collection uses %s", store.Algorithm().Name, sum)
	}
	logger.Debug("collection opened", "root", root, "contents", store.Len())
	return &Collection{
		fsys:   fsys,
		root:   root,
		clock:  clock,
		logger: logger,
		opts:   blockfile.Options{BlockSize: size, Checksum: sum},
		store:  store,
	}, nil
}

// Root returns the collection directory.
func (c *Collection) Root() string { return c.root }

// Content returns the content store.
func (c *Collection) Content() *content.Store { return c.store }

// Options returns the block size and checksum algorithm of the collection.
func (c *Collection) Options() blockfile.Options { return c.opts }

package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"ebakup-go/internal/backup"
	"ebakup-go/internal/blockfile"
	"ebakup-go/internal/collection"
	"ebakup-go/internal/config"
	"ebakup-go/internal/content"
	"ebakup-go/internal/database"
	"ebakup-go/internal/ebakup"
	"ebakup-go/internal/fs"
	"ebakup-go/internal/model"
	"ebakup-go/internal/snapshot"
)

// EbakupApp is the application layer between the CLI and the collection.
// It constructs all dependencies from config, exposes high-level operations
// and records each operation that touches the collection in the journal.
type EbakupApp struct {
	cfg        *config.Config
	fsys       *fs.OSFileSystem
	journal    ebakup.Journal
	clock      ebakup.Clock
	ids        ebakup.IDGenerator
	logger     ebakup.Logger
	collection *collection.Collection
	op         *Operation
	logFile    *os.File
}

// deps are the dependencies NewEbakupApp builds and tests replace.
type deps struct {
	journal ebakup.Journal
	clock   ebakup.Clock
	ids     ebakup.IDGenerator
	logger  ebakup.Logger
}

// NewEbakupApp creates a fully wired EbakupApp from the given config.
// operation identifies the CLI command being run (e.g. "backup", "verify").
// The caller must call Close when done.
func NewEbakupApp(cfg *config.Config, operation string, verbose bool) (*EbakupApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	clock := ebakup.RealClock{}

	journal, err := database.NewJournalFromConfig(cfg.Journal, clock)
	if err != nil {
		return nil, fmt.Errorf("creating journal: %w", err)
	}

	ids := ebakup.UUIDGenerator{}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opID := ids.New()[:8]
	logger, logFile, err := newLogger(cfg.LogDir, opID, level)
	if err != nil {
		journal.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	a := newEbakupApp(cfg, operation, deps{
		journal: journal,
		clock:   clock,
		ids:     ids,
		logger:  &slogAdapter{l: logger},
	})
	a.logFile = logFile
	return a, nil
}

func newEbakupApp(cfg *config.Config, operation string, d deps) *EbakupApp {
	return &EbakupApp{
		cfg:     cfg,
		fsys:    fs.NewOSFileSystem(),
		journal: d.journal,
		clock:   d.clock,
		ids:     d.ids,
		logger:  d.logger,
		op:      NewOperation(operation, ""),
	}
}

// persistOperation saves the operation to the journal, giving it an ID.
// This should only be called for commands that touch the collection.
func (a *EbakupApp) persistOperation(parameters string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.Parameters = parameters
	rec, err := a.journal.StartOperation(a.op.Name, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = rec.ID
	return nil
}

// finish records the outcome of the current operation and passes err on.
func (a *EbakupApp) finish(detail string, err error) error {
	if err != nil {
		a.op.Fail(err)
		return err
	}
	a.op.Detail = detail
	return nil
}

// openCollection opens the configured collection once per app.
func (a *EbakupApp) openCollection() (*collection.Collection, error) {
	if a.collection != nil {
		return a.collection, nil
	}
	c, err := collection.Open(a.fsys, a.cfg.Collection.Path, a.clock, a.ids, a.logger)
	if err != nil {
		return nil, err
	}
	a.collection = c
	return c, nil
}

// CreateCollection creates an empty collection at the configured path.
func (a *EbakupApp) CreateCollection() error {
	if err := a.persistOperation(a.cfg.Collection.Path); err != nil {
		return err
	}
	opts := blockfile.Options{
		BlockSize: a.cfg.Collection.BlockSize,
		Checksum:  a.cfg.Collection.Checksum,
	}
	c, err := collection.Create(a.fsys, a.cfg.Collection.Path, opts, a.clock, a.ids, a.logger)
	if err != nil {
		return a.finish("", err)
	}
	a.collection = c
	return a.finish(c.Options().Checksum, nil)
}

// Backup records every configured source in a new snapshot.
func (a *EbakupApp) Backup(ctx context.Context) (string, backup.Stats, error) {
	sources := make([]backup.Source, len(a.cfg.Sources))
	names := make([]string, len(a.cfg.Sources))
	for i, s := range a.cfg.Sources {
		sources[i] = backup.Source{Path: s.Path, Name: s.Name, Ignore: s.Ignore}
		names[i] = s.Path
	}
	if err := a.persistOperation(strings.Join(names, ",")); err != nil {
		return "", backup.Stats{}, err
	}
	c, err := a.openCollection()
	if err != nil {
		return "", backup.Stats{}, a.finish("", err)
	}
	svc := backup.NewService(c, a.fsys, a.logger, a.clock)
	name, stats, err := svc.Backup(ctx, sources)
	return name, stats, a.finish(name, err)
}

// ListBackups returns the names of all snapshots, oldest first.
func (a *EbakupApp) ListBackups() ([]string, error) {
	c, err := a.openCollection()
	if err != nil {
		return nil, err
	}
	return c.ListBackups()
}

// ShowBackup opens the snapshot called name, or the most recent snapshot
// when name is empty.
func (a *EbakupApp) ShowBackup(name string) (*snapshot.Snapshot, error) {
	c, err := a.openCollection()
	if err != nil {
		return nil, err
	}
	if name != "" {
		return c.OpenBackup(name)
	}
	snap, err := c.MostRecentBackup()
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("no snapshots in %s: %w", c.Root(), ebakup.ErrNotFound)
	}
	return snap, nil
}

// ContentInfo returns the stored details of a hex-encoded content id.
func (a *EbakupApp) ContentInfo(hexID string) (*content.Info, error) {
	id, err := ebakup.ParseContentID(hexID)
	if err != nil {
		return nil, err
	}
	c, err := a.openCollection()
	if err != nil {
		return nil, err
	}
	return c.Content().GetContentInfo(id)
}

// Verify reads every stored blob and compares it with its good checksum.
// With record set, the computed checksums are added to the checksum
// timelines. A report with missing or corrupt blobs marks the operation
// as failed.
func (a *EbakupApp) Verify(ctx context.Context, record bool) (*collection.CheckReport, error) {
	if err := a.persistOperation(fmt.Sprintf("record=%t", record)); err != nil {
		return nil, err
	}
	c, err := a.openCollection()
	if err != nil {
		return nil, a.finish("", err)
	}
	report, err := collection.NewContentDataChecker(c).Check(ctx)
	if err != nil {
		return nil, a.finish("", err)
	}
	if record {
		if err := c.RecordChecksums(report, a.clock.Now()); err != nil {
			return report, a.finish("", fmt.Errorf("recording checksums: %w", err))
		}
	}
	summary := fmt.Sprintf("checked=%d missing=%d corrupt=%d", report.Checked, len(report.Missing), len(report.Corrupt))
	if !report.OK() {
		a.op.Status = model.StatusError
		a.op.Detail = summary
		return report, nil
	}
	return report, a.finish(summary, nil)
}

// Shadow builds a browsable tree of snapshot name under dest.
func (a *EbakupApp) Shadow(name, dest string) (int, error) {
	if err := a.persistOperation(name + " " + dest); err != nil {
		return 0, err
	}
	c, err := a.openCollection()
	if err != nil {
		return 0, a.finish("", err)
	}
	n, err := c.ShadowCopy(name, dest)
	return n, a.finish(fmt.Sprintf("files=%d", n), err)
}

// Restore copies the file or tree at path in snapshot name into dest.
func (a *EbakupApp) Restore(ctx context.Context, name, path, dest string) ([]string, error) {
	if err := a.persistOperation(name + ":" + path + " " + dest); err != nil {
		return nil, err
	}
	c, err := a.openCollection()
	if err != nil {
		return nil, a.finish("", err)
	}
	svc := backup.NewService(c, a.fsys, a.logger, a.clock)
	written, err := svc.Restore(ctx, name, path, dest)
	return written, a.finish(fmt.Sprintf("files=%d", len(written)), err)
}

// FileHistory returns the versions of a snapshot path, newest first.
func (a *EbakupApp) FileHistory(path string) ([]*backup.FileVersion, error) {
	c, err := a.openCollection()
	if err != nil {
		return nil, err
	}
	return backup.NewService(c, a.fsys, a.logger, a.clock).FileHistory(path)
}

// History returns the most recent journal entries.
func (a *EbakupApp) History(limit int) ([]*model.Operation, error) {
	return a.journal.ListOperations(limit)
}

// Close finalizes the operation and closes all resources.
func (a *EbakupApp) Close() error {
	var firstErr error

	if a.op.Persisted() {
		if err := a.journal.FinishOperation(a.op.ID, a.op.Status, a.op.Detail); err != nil {
			firstErr = fmt.Errorf("finishing operation: %w", err)
		}
	}
	if err := a.journal.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing journal: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

package collection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"ebakup-go/internal/content"
	"ebakup-go/internal/ebakup"
)

// CheckStatus is the outcome of checking one blob.
type CheckStatus int

const (
	StatusOK CheckStatus = iota
	StatusMissing
	StatusCorrupt
)

func (s CheckStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusMissing:
		return "missing"
	case StatusCorrupt:
		return "corrupt"
	}
	return "unknown"
}

// CheckResult is the outcome for one content id. Checksum is the checksum
// computed from the blob; it is nil for missing blobs.
type CheckResult struct {
	ID       ebakup.ContentID
	Status   CheckStatus
	Checksum []byte
}

// CheckReport summarizes a content check.
type CheckReport struct {
	Checked int
	Missing []ebakup.ContentID
	Corrupt []ebakup.ContentID
	Results []CheckResult
}

// OK reports whether every blob was present and intact.
func (r *CheckReport) OK() bool { return len(r.Missing) == 0 && len(r.Corrupt) == 0 }

// ContentDataChecker reads every stored blob and compares it with its good
// checksum. It never changes the collection.
type ContentDataChecker struct {
	store  *content.Store
	logger ebakup.Logger
}

func NewContentDataChecker(c *Collection) *ContentDataChecker {
	return &ContentDataChecker{store: c.store, logger: c.logger}
}

// Check verifies all blobs. Only problems other than missing or corrupt
// blobs are returned as errors.
func (ch *ContentDataChecker) Check(ctx context.Context) (*CheckReport, error) {
	report := &CheckReport{}
	for _, id := range ch.store.ContentIDs() {
		info, err := ch.store.GetContentInfo(id)
		if err != nil {
			return nil, err
		}
		result := CheckResult{ID: id}
		sum, err := ch.store.Checksum(ctx, id)
		switch {
		case errors.Is(err, content.ErrContentMissing):
			result.Status = StatusMissing
			report.Missing = append(report.Missing, id)
			ch.logger.Warn("content missing", "content_id", id.Hex())
		case err != nil:
			return nil, fmt.Errorf("checking content %s: %w", id, err)
		case !bytes.Equal(sum, info.GoodChecksum):
			result.Status = StatusCorrupt
			result.Checksum = sum
			report.Corrupt = append(report.Corrupt, id)
			ch.logger.Warn("content corrupt", "content_id", id.Hex())
		default:
			result.Checksum = sum
		}
		report.Checked++
		report.Results = append(report.Results, result)
	}
	ch.logger.Info("content check finished", "checked", report.Checked, "missing", len(report.Missing), "corrupt", len(report.Corrupt))
	return report, nil
}

// RecordChecksums adds the checksums computed by a check to the checksum
// timelines of the checked blobs. Missing blobs are skipped.
func (c *Collection) RecordChecksums(report *CheckReport, when time.Time) error {
	for _, r := range report.Results {
		if r.Checksum == nil {
			continue
		}
		if err := c.store.UpdateContentChecksum(r.ID, when, r.Checksum, false); err != nil {
			return err
		}
	}
	return nil
}

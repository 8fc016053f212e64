package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/alanyoungcy/celomarket/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	defaultBatchSize = 1000
	stampLayout      = "20060102T150405Z"
)

// ArchiveConfig controls retention and layout of archived journal files.
type ArchiveConfig struct {
	Prefix        string
	RetentionDays int
	BatchSize     int
}

// Archiver moves finished intents older than the retention window from the
// journal into JSONL objects. Rows are deleted only after their batch is
// uploaded.
type Archiver struct {
	journal domain.IntentJournal
	writer  domain.BlobWriter
	cfg     ArchiveConfig
	now     func() time.Time
	logger  *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(journal domain.IntentJournal, writer domain.BlobWriter, cfg ArchiveConfig, logger *slog.Logger) *Archiver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "archive"
	}
	return &Archiver{
		journal: journal,
		writer:  writer,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "journal_archiver")),
	}
}

// Run archives everything older than the retention cutoff.
func (a *Archiver) Run(ctx context.Context) (int64, error) {
	cutoff := a.now().UTC().Add(-time.Duration(a.cfg.RetentionDays) * 24 * time.Hour)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.cfg.RetentionDays),
	)

	n, err := a.Archive(ctx, cutoff)
	if err != nil {
		return n, err
	}
	a.logger.InfoContext(ctx, "archive run complete", slog.Int64("archived", n))
	return n, nil
}

// Archive uploads and deletes journal entries finished before the cutoff,
// one batch at a time. It returns the number of rows removed.
func (a *Archiver) Archive(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for {
		recs, err := a.journal.ListBefore(ctx, before, a.cfg.BatchSize+1)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive query: %w", err)
		}
		if len(recs) == 0 {
			return total, nil
		}

		// With more rows pending, cut the batch at the first row past it so
		// rows sharing a timestamp are never split across delete calls.
		bound, last := before, len(recs) <= a.cfg.BatchSize
		if !last {
			bound = recs[a.cfg.BatchSize].FinishedAt
			recs = recs[:a.cfg.BatchSize]
			for len(recs) > 0 && !recs[len(recs)-1].FinishedAt.Before(bound) {
				recs = recs[:len(recs)-1]
			}
			if len(recs) == 0 {
				a.logger.WarnContext(ctx, "archive batch shares one timestamp, increase batch size",
					slog.Time("finished_at", bound))
				return total, nil
			}
		}

		buf, err := marshalJSONL(recs)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive marshal: %w", err)
		}

		key := a.objectKey(recs[0].FinishedAt, recs[len(recs)-1].FinishedAt)
		if err := a.writer.Put(ctx, key, buf, jsonlContentType); err != nil {
			return total, fmt.Errorf("s3blob: archive upload: %w", err)
		}

		deleted, err := a.journal.DeleteBefore(ctx, bound)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive delete: %w", err)
		}
		total += deleted

		a.logger.InfoContext(ctx, "archived intents",
			slog.String("path", key),
			slog.Int("uploaded", len(recs)),
			slog.Int64("deleted", deleted),
		)
		if last || deleted == 0 {
			return total, nil
		}
	}
}

// RunEvery runs the archiver on a fixed interval until ctx is done.
func (a *Archiver) RunEvery(ctx context.Context, interval time.Duration) error {
	a.logger.InfoContext(ctx, "archiver started", slog.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// objectKey partitions archive files by the month of their first entry.
//
//	archive/intents/2026-01/20260103T101500Z_20260131T220000Z.jsonl
func (a *Archiver) objectKey(first, last time.Time) string {
	first, last = first.UTC(), last.UTC()
	name := fmt.Sprintf("%s_%s.jsonl", first.Format(stampLayout), last.Format(stampLayout))
	return path.Join(a.cfg.Prefix, "intents", first.Format("2006-01"), name)
}

// marshalJSONL encodes each record as one compact JSON line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alanyoungcy/crosstrade/internal/domain"
)

// IntentSource is the read side of the intent store the archiver needs.
type IntentSource interface {
	ListTerminal(ctx context.Context, opts domain.ListOpts) ([]domain.TradeIntent, error)
	ListEvents(ctx context.Context, intentID string) ([]domain.IntentEvent, error)
}

// ArchiverConfig tunes IntentArchiver.
type ArchiverConfig struct {
	// Window is the span of UpdatedAt covered by one archive file, ending at
	// the cutoff passed to ArchiveIntents.
	Window time.Duration

	BatchSize int

	// MaxCatchUp caps how many missed windows one Run tick archives.
	MaxCatchUp int
}

// DefaultArchiverConfig archives one day per file in batches of 500 and
// catches up at most a week per tick.
func DefaultArchiverConfig() ArchiverConfig {
	return ArchiverConfig{Window: 24 * time.Hour, BatchSize: 500, MaxCatchUp: 7}
}

const (
	archiveContentType = "application/x-ndjson"
	auditArchiveEvent  = "archive.intents"
)

// archivedIntent is one JSONL line.
type archivedIntent struct {
	Intent domain.TradeIntent   `json:"intent"`
	Events []domain.IntentEvent `json:"events"`
}

// IntentArchiver implements domain.Archiver. It exports terminal intents and
// their audit trail to JSONL in object storage.
//
// Archived rows are not deleted from the primary store here; pruning is a
// separate, explicit step once the archive has been verified.
type IntentArchiver struct {
	source IntentSource
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	cfg    ArchiverConfig
	logger *slog.Logger
}

// NewArchiver creates an IntentArchiver. reader may be nil; when set, a
// window whose file already exists is skipped and every upload is checked
// against what the bucket reports.
func NewArchiver(
	source IntentSource,
	writer domain.BlobWriter,
	reader domain.BlobReader,
	audit domain.AuditStore,
	cfg ArchiverConfig,
	logger *slog.Logger,
) *IntentArchiver {
	def := DefaultArchiverConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxCatchUp <= 0 {
		cfg.MaxCatchUp = def.MaxCatchUp
	}
	return &IntentArchiver{
		source: source,
		writer: writer,
		reader: reader,
		audit:  audit,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveIntents uploads every terminal intent last updated in
// [before-Window, before) to intents/YYYY-MM-DD.jsonl and returns the number
// of intents written. Each processed window is recorded in the audit log,
// including empty ones.
func (a *IntentArchiver) ArchiveIntents(ctx context.Context, before time.Time) (int64, error) {
	before = before.UTC()
	since := before.Add(-a.cfg.Window)
	path := archivePath("intents", since)

	if a.reader != nil {
		info, err := a.reader.Stat(ctx, path)
		switch {
		case err == nil:
			if info.ContentType != archiveContentType {
				return 0, fmt.Errorf("s3blob: %s holds %q, not an intent archive", path, info.ContentType)
			}
			a.logger.InfoContext(ctx, "archive already present",
				slog.String("path", path),
				slog.String("records", info.Metadata["records"]),
			)
			return 0, nil
		case !errors.Is(err, domain.ErrNotFound):
			return 0, fmt.Errorf("s3blob: archive intents stat %s: %w", path, err)
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	var count int64
	for offset := 0; ; offset += a.cfg.BatchSize {
		batch, err := a.source.ListTerminal(ctx, domain.ListOpts{
			Since:  &since,
			Until:  &before,
			Limit:  a.cfg.BatchSize,
			Offset: offset,
		})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive intents query: %w", err)
		}
		for _, in := range batch {
			events, err := a.source.ListEvents(ctx, in.ID)
			if err != nil {
				return 0, fmt.Errorf("s3blob: archive intents events %s: %w", in.ID, err)
			}
			if err := enc.Encode(archivedIntent{Intent: in, Events: events}); err != nil {
				return 0, fmt.Errorf("s3blob: archive intents encode %s: %w", in.ID, err)
			}
			count++
		}
		if len(batch) < a.cfg.BatchSize {
			break
		}
	}

	detail := map[string]any{
		"count":  count,
		"since":  since.Format(time.RFC3339),
		"before": before.Format(time.RFC3339),
	}
	if count > 0 {
		size := int64(buf.Len())
		err := a.writer.Put(ctx, domain.BlobObject{
			Path:        path,
			Body:        bytes.NewReader(buf.Bytes()),
			Size:        size,
			ContentType: archiveContentType,
			Metadata: map[string]string{
				"records":      strconv.FormatInt(count, 10),
				"window-start": since.Format(time.RFC3339),
				"window-end":   before.Format(time.RFC3339),
			},
		})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive intents upload: %w", err)
		}
		if err := a.verify(ctx, path, size); err != nil {
			return 0, err
		}
		detail["path"] = path
		detail["bytes"] = size
		a.logger.InfoContext(ctx, "intents archived",
			slog.String("path", path),
			slog.Int64("count", count),
			slog.Int64("bytes", size),
		)
	}

	if err := a.audit.Log(ctx, auditArchiveEvent, detail); err != nil {
		return count, fmt.Errorf("s3blob: archive intents audit log: %w", err)
	}
	return count, nil
}

// verify checks the stored object against the uploaded size.
func (a *IntentArchiver) verify(ctx context.Context, path string, size int64) error {
	if a.reader == nil {
		return nil
	}
	info, err := a.reader.Stat(ctx, path)
	if err != nil {
		return fmt.Errorf("s3blob: verify %s: %w", path, err)
	}
	if info.Size != size {
		return fmt.Errorf("s3blob: verify %s: stored %d bytes, uploaded %d", path, info.Size, size)
	}
	return nil
}

// ArchiveDue archives every window from the last audited one up to cutoff,
// at most MaxCatchUp windows. Without audit history only the cutoff window
// is archived.
func (a *IntentArchiver) ArchiveDue(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoff = cutoff.UTC()
	start := cutoff

	last, ok, err := a.lastArchived(ctx)
	if err != nil {
		return 0, err
	}
	if ok {
		start = last.Add(a.cfg.Window)
		earliest := cutoff.Add(-time.Duration(a.cfg.MaxCatchUp-1) * a.cfg.Window)
		if start.Before(earliest) {
			start = earliest
		}
	}

	var total int64
	for end := start; !end.After(cutoff); end = end.Add(a.cfg.Window) {
		n, err := a.ArchiveIntents(ctx, end)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (a *IntentArchiver) lastArchived(ctx context.Context) (time.Time, bool, error) {
	entry, err := a.audit.Latest(ctx, auditArchiveEvent)
	if errors.Is(err, domain.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("s3blob: last archive run: %w", err)
	}
	raw, _ := entry.Detail["before"].(string)
	before, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		a.logger.WarnContext(ctx, "unreadable archive audit entry", slog.Int64("id", entry.ID))
		return time.Time{}, false, nil
	}
	return before.UTC(), true, nil
}

// Run archives the windows due by retention once per interval until ctx is
// done. The cutoff is truncated to the day so reruns hit the same file.
func (a *IntentArchiver) Run(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		cutoff := time.Now().UTC().Add(-retention).Truncate(24 * time.Hour)
		if _, err := a.ArchiveDue(ctx, cutoff); err != nil && ctx.Err() == nil {
			a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// archivePath names an archive file by the start day of its window. The
// client prepends its key prefix.
//
//	intents/2025-01-31.jsonl
func archivePath(kind string, day time.Time) string {
	return fmt.Sprintf("%s/%s.jsonl", kind, day.Format("2006-01-02"))
}

var _ domain.Archiver = (*IntentArchiver)(nil)

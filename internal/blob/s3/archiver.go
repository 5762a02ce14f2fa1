package s3blob

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/perpkeeper/internal/domain"
)

const (
	archiveBatchSize = 5000
	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 64 * 1024 * 1024
)

// Archiver implements domain.ReportArchiver. Cycle reports go to
// reports/YYYY/MM/DD/<id>.json, aged execution rows to gzipped JSONL under
// executions/ and are then deleted from the primary store.
type Archiver struct {
	writer     domain.BlobWriter
	executions domain.ExecutionStore
	audit      domain.AuditStore
	logger     *slog.Logger
}

// NewArchiver creates an Archiver. executions and audit may be nil when no
// database is configured; only reports are archived then.
func NewArchiver(writer domain.BlobWriter, executions domain.ExecutionStore, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:     writer,
		executions: executions,
		audit:      audit,
		logger:     logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveReport uploads one cycle report and returns its path.
func (a *Archiver) ArchiveReport(ctx context.Context, report domain.CycleReport) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal report %s: %w", report.ID, err)
	}
	path := reportPath(report)
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
		return "", err
	}
	return path, nil
}

// Report archives cycles that submitted anything, aborted or dropped tasks.
func (a *Archiver) Report(ctx context.Context, report domain.CycleReport) {
	if len(report.Batches) == 0 && report.Outcome != domain.OutcomeAborted && len(report.Failures) == 0 {
		return
	}
	path, err := a.ArchiveReport(ctx, report)
	if err != nil {
		a.logger.WarnContext(ctx, "archive report failed",
			slog.String("cycle_id", report.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	a.logger.DebugContext(ctx, "report archived", slog.String("path", path))
}

// ArchiveExecutions moves execution rows created before the cutoff to
// object storage in chunks. A chunk is deleted only after it is uploaded.
// A full chunk is deleted up to its newest timestamp, exclusive, so rows
// sharing that timestamp are uploaded again with the next chunk rather than
// lost.
func (a *Archiver) ArchiveExecutions(ctx context.Context, before time.Time) (int64, error) {
	if a.executions == nil {
		return 0, nil
	}

	var (
		total   int64
		deleted int64
		part    int
	)
	for {
		recs, err := a.executions.ListBefore(ctx, before, archiveBatchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive executions query: %w", err)
		}
		if len(recs) == 0 {
			break
		}

		cutoff := before
		full := len(recs) == archiveBatchSize
		if full {
			cutoff = recs[len(recs)-1].CreatedAt
			if !cutoff.After(recs[0].CreatedAt) {
				return total, fmt.Errorf("s3blob: archive executions: more than %d rows at %s", archiveBatchSize, cutoff.Format(time.RFC3339Nano))
			}
		}

		buf, err := gzipJSONL(recs)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive executions marshal: %w", err)
		}
		if err := a.upload(ctx, executionsPath(before, part), buf); err != nil {
			return total, fmt.Errorf("s3blob: archive executions upload: %w", err)
		}
		n, err := a.executions.DeleteBefore(ctx, cutoff)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive executions delete: %w", err)
		}

		total += int64(len(recs))
		deleted += n
		part++
		if !full {
			break
		}
	}
	if total == 0 {
		return 0, nil
	}

	a.logger.InfoContext(ctx, "executions archived",
		slog.Int64("count", total),
		slog.Int("parts", part),
	)
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.executions", map[string]any{
			"count":   total,
			"deleted": deleted,
			"parts":   part,
			"before":  before.Format(time.RFC3339),
		}); err != nil {
			return total, fmt.Errorf("s3blob: archive executions audit log: %w", err)
		}
	}
	return total, nil
}

func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	if len(buf) > multipartThreshold {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), 0)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), "application/gzip")
}

func reportPath(r domain.CycleReport) string {
	return fmt.Sprintf("reports/%s/%s.json", r.StartedAt.UTC().Format("2006/01/02"), r.ID)
}

func executionsPath(before time.Time, part int) string {
	return fmt.Sprintf("executions/%s/part-%04d.jsonl.gz", before.UTC().Format("2006-01-02"), part)
}

// gzipJSONL writes records as gzip-compressed newline-delimited JSON.
func gzipJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	enc := json.NewEncoder(zw)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var _ domain.ReportArchiver = (*Archiver)(nil)

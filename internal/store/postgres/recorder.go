package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/perpkeeper/internal/domain"
)

// Audit events written by the Recorder.
const (
	AuditBalanceLow   = "balance_low"
	AuditCycleAborted = "cycle_aborted"
	AuditTaskFailed   = "task_failed"
	AuditBatchFailed  = "batch_failed"
)

// Recorder persists cycle reports and relay submissions. Storage errors are
// logged and never fail the cycle.
type Recorder struct {
	cycles     domain.CycleStore
	executions domain.ExecutionStore
	audit      domain.AuditStore
	logger     *slog.Logger
}

// NewRecorder creates a Recorder over the given stores.
func NewRecorder(cycles domain.CycleStore, executions domain.ExecutionStore, audit domain.AuditStore, logger *slog.Logger) *Recorder {
	return &Recorder{
		cycles:     cycles,
		executions: executions,
		audit:      audit,
		logger:     logger.With(slog.String("component", "recorder")),
	}
}

// Report stores a finished cycle, its batches and any audit events. Cycles
// that found nothing to do are not stored.
func (r *Recorder) Report(ctx context.Context, report domain.CycleReport) {
	if report.Outcome == domain.OutcomeSkipped || report.Outcome == domain.OutcomeNoOp {
		return
	}
	if err := r.cycles.Save(ctx, report); err != nil {
		r.warn(ctx, "save cycle", err)
	}
	for _, rec := range executionRecords(report) {
		if err := r.executions.Insert(ctx, rec); err != nil {
			r.warn(ctx, "save execution", err)
		}
	}
	for _, ev := range auditEvents(report) {
		if err := r.audit.Log(ctx, ev.event, ev.detail); err != nil {
			r.warn(ctx, "audit", err)
		}
	}
}

// ReportBatch stores one relay submission.
func (r *Recorder) ReportBatch(ctx context.Context, b domain.BatchResult) {
	if err := r.executions.Insert(ctx, executionRecord("", b)); err != nil {
		r.warn(ctx, "save execution", err)
	}
}

func (r *Recorder) warn(ctx context.Context, what string, err error) {
	r.logger.WarnContext(ctx, what+" failed", slog.String("error", err.Error()))
}

// executionRecords maps the batches of a cycle to rows.
func executionRecords(report domain.CycleReport) []domain.ExecutionRecord {
	recs := make([]domain.ExecutionRecord, 0, len(report.Batches))
	for _, b := range report.Batches {
		recs = append(recs, executionRecord(report.ID, b))
	}
	return recs
}

func executionRecord(cycleID string, b domain.BatchResult) domain.ExecutionRecord {
	created := b.SubmittedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return domain.ExecutionRecord{
		ID:           uuid.NewString(),
		CycleID:      cycleID,
		Category:     b.Category,
		Instructions: b.Instructions,
		Positions:    b.Positions,
		TxHash:       b.TxHash,
		Height:       b.Height,
		GasUsed:      b.GasUsed,
		Error:        b.Error,
		Fallback:     b.Fallback,
		CreatedAt:    created,
	}
}

type auditEvent struct {
	event  string
	detail map[string]any
}

// auditEvents lists the alert-worthy facts of a cycle.
func auditEvents(report domain.CycleReport) []auditEvent {
	var out []auditEvent
	if report.BalanceLow {
		out = append(out, auditEvent{AuditBalanceLow, map[string]any{
			"cycle_id": report.ID, "address": report.Address, "error": report.Error,
		}})
	} else if report.Outcome == domain.OutcomeAborted {
		out = append(out, auditEvent{AuditCycleAborted, map[string]any{
			"cycle_id": report.ID, "error": report.Error,
		}})
	}
	for _, f := range report.Failures {
		out = append(out, auditEvent{AuditTaskFailed, map[string]any{
			"cycle_id": report.ID, "vamm": f.Vamm, "side": string(f.Side), "task": string(f.Task), "error": f.Error,
		}})
	}
	for _, b := range report.Batches {
		if b.Succeeded() {
			continue
		}
		out = append(out, auditEvent{AuditBatchFailed, map[string]any{
			"cycle_id": report.ID, "category": string(b.Category), "positions": b.Positions, "error": b.Error,
		}})
	}
	return out
}

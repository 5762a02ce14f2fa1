package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ExecutionRecord is one submitted (or attempted) batch persisted for audit.
type ExecutionRecord struct {
	ID           string
	CycleID      string
	Category     Category
	Instructions int
	Positions    []uint64
	TxHash       string
	Height       int64
	GasUsed      int64
	Error        string
	Fallback     bool
	CreatedAt    time.Time
}

// ExecutionStore persists submitted batches.
type ExecutionStore interface {
	Insert(ctx context.Context, rec ExecutionRecord) error
	ListRecent(ctx context.Context, opts ListOpts) ([]ExecutionRecord, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]ExecutionRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// CycleStore persists finished cycle reports.
type CycleStore interface {
	Save(ctx context.Context, report CycleReport) error
	ListRecent(ctx context.Context, opts ListOpts) ([]CycleReport, error)
}

// AuditEntry is one row of the audit log.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore provides an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/perpkeeper/internal/domain"
)

// CycleStore implements domain.CycleStore. The full report is kept as JSONB
// next to the columns operators filter on.
type CycleStore struct {
	db DBTX
}

// NewCycleStore creates a CycleStore.
func NewCycleStore(db DBTX) *CycleStore {
	return &CycleStore{db: db}
}

// Save inserts a finished cycle. Saving the same cycle twice is a no-op.
func (s *CycleStore) Save(ctx context.Context, report domain.CycleReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("postgres: marshal cycle %s: %w", report.ID, err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO keeper_cycles (id, address, outcome, dry_run, markets, submitted, failed_tasks, error, report, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		report.ID, report.Address, string(report.Outcome), report.DryRun, report.Markets,
		report.Submitted(), len(report.Failures), report.Error, data,
		report.StartedAt, report.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert cycle %s: %w", report.ID, err)
	}
	return nil
}

// ListRecent returns cycle reports newest first.
func (s *CycleStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.CycleReport, error) {
	query, args := appendRange(`SELECT report FROM keeper_cycles WHERE 1=1`, nil, "started_at", opts)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list cycles: %w", err)
	}
	defer rows.Close()

	var list []domain.CycleReport
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("postgres: scan cycle: %w", err)
		}
		var r domain.CycleReport
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal cycle: %w", err)
		}
		list = append(list, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list cycles rows: %w", err)
	}
	return list, nil
}

var _ domain.CycleStore = (*CycleStore)(nil)

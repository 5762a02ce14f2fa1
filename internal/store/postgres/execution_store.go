package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/perpkeeper/internal/domain"
)

const (
	executionColumns = `id, cycle_id, category, instructions, positions, tx_hash, height, gas_used, error, fallback, created_at`
	executionSelect  = `id::text, cycle_id::text, category, instructions, positions, tx_hash, height, gas_used, error, fallback, created_at`
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	db DBTX
}

// NewExecutionStore creates an ExecutionStore.
func NewExecutionStore(db DBTX) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// Insert records one submitted or failed batch.
func (s *ExecutionStore) Insert(ctx context.Context, rec domain.ExecutionRecord) error {
	positions := make([]int64, len(rec.Positions))
	for i, id := range rec.Positions {
		positions[i] = int64(id)
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO keeper_executions (`+executionColumns+`)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, NULLIF($6, ''), $7, $8, NULLIF($9, ''), $10, $11)`,
		rec.ID, rec.CycleID, string(rec.Category), rec.Instructions, positions,
		rec.TxHash, rec.Height, rec.GasUsed, rec.Error, rec.Fallback, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", rec.ID, err)
	}
	return nil
}

// ListRecent returns executions newest first.
func (s *ExecutionStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.ExecutionRecord, error) {
	query, args := appendRange(`SELECT `+executionSelect+` FROM keeper_executions WHERE 1=1`, nil, "created_at", opts)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	return collectExecutions(rows)
}

// ListBefore returns up to limit executions created before the cutoff,
// oldest first, for archiving.
func (s *ExecutionStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+executionSelect+` FROM keeper_executions
		WHERE created_at < $1 ORDER BY created_at ASC LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions before %s: %w", before.Format(time.RFC3339), err)
	}
	return collectExecutions(rows)
}

// DeleteBefore removes executions created before the cutoff.
func (s *ExecutionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM keeper_executions WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete executions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectExecutions(rows pgx.Rows) ([]domain.ExecutionRecord, error) {
	defer rows.Close()
	var list []domain.ExecutionRecord
	for rows.Next() {
		var (
			rec                   domain.ExecutionRecord
			cycleID, txHash, errS *string
			category              string
			positions             []int64
			height, gasUsed       *int64
		)
		if err := rows.Scan(&rec.ID, &cycleID, &category, &rec.Instructions, &positions,
			&txHash, &height, &gasUsed, &errS, &rec.Fallback, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		rec.Category = domain.Category(category)
		rec.CycleID = deref(cycleID)
		rec.TxHash = deref(txHash)
		rec.Error = deref(errS)
		if height != nil {
			rec.Height = *height
		}
		if gasUsed != nil {
			rec.GasUsed = *gasUsed
		}
		for _, id := range positions {
			rec.Positions = append(rec.Positions, uint64(id))
		}
		list = append(list, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list executions rows: %w", err)
	}
	return list, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)

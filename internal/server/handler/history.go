package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/perpkeeper/internal/domain"
)

// HistoryHandler serves persisted cycles and submitted batches.
type HistoryHandler struct {
	executions domain.ExecutionStore
	cycles     domain.CycleStore
	logger     *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(executions domain.ExecutionStore, cycles domain.CycleStore, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{
		executions: executions,
		cycles:     cycles,
		logger:     logger.With(slog.String("handler", "history")),
	}
}

type executionJSON struct {
	ID           string   `json:"id"`
	CycleID      string   `json:"cycle_id,omitempty"`
	Category     string   `json:"category"`
	Instructions int      `json:"instructions"`
	Positions    []uint64 `json:"positions,omitempty"`
	TxHash       string   `json:"tx_hash,omitempty"`
	Height       int64    `json:"height,omitempty"`
	GasUsed      int64    `json:"gas_used,omitempty"`
	Error        string   `json:"error,omitempty"`
	Fallback     bool     `json:"fallback,omitempty"`
	CreatedAt    string   `json:"created_at"`
}

// ListExecutions returns recent batches newest first.
// GET /api/executions?limit=&offset=&since=
func (h *HistoryHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	recs, err := h.executions.ListRecent(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list executions", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	out := make([]executionJSON, 0, len(recs))
	for _, rec := range recs {
		out = append(out, executionJSON{
			ID:           rec.ID,
			CycleID:      rec.CycleID,
			Category:     string(rec.Category),
			Instructions: rec.Instructions,
			Positions:    rec.Positions,
			TxHash:       rec.TxHash,
			Height:       rec.Height,
			GasUsed:      rec.GasUsed,
			Error:        rec.Error,
			Fallback:     rec.Fallback,
			CreatedAt:    rec.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": out})
}

// ListCycles returns recent cycle reports newest first.
// GET /api/cycles?limit=&offset=&since=
func (h *HistoryHandler) ListCycles(w http.ResponseWriter, r *http.Request) {
	reports, err := h.cycles.ListRecent(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list cycles", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list cycles")
		return
	}
	if reports == nil {
		reports = []domain.CycleReport{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycles": reports})
}

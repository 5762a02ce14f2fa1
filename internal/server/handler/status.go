package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/perpkeeper/internal/domain"
)

// CycleSource is the local keeper loop.
type CycleSource interface {
	Address() string
	DryRun() bool
	State() domain.CycleState
	LastReport() (domain.CycleReport, bool)
}

// StatusHandler serves the keeper status.
type StatusHandler struct {
	mode   string
	cycles CycleSource
	shared domain.StatusCache
	logger *slog.Logger
}

// NewStatusHandler creates a StatusHandler. cycles is nil when this process
// runs no keeper loop, shared is nil without redis.
func NewStatusHandler(mode string, cycles CycleSource, shared domain.StatusCache, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		mode:   mode,
		cycles: cycles,
		shared: shared,
		logger: logger.With(slog.String("handler", "status")),
	}
}

type statusResponse struct {
	Mode       string              `json:"mode"`
	Address    string              `json:"address,omitempty"`
	DryRun     bool                `json:"dry_run"`
	State      domain.CycleState   `json:"state,omitempty"`
	LastReport *domain.CycleReport `json:"last_report,omitempty"`
	// Source says where last_report came from: local or shared.
	Source string `json:"source,omitempty"`
}

// GetStatus returns the mode, the current cycle state and the last report.
// The shared cache answers when this process has not finished a cycle.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Mode: h.mode}
	if h.cycles != nil {
		resp.Address = h.cycles.Address()
		resp.DryRun = h.cycles.DryRun()
		resp.State = h.cycles.State()
		if rep, ok := h.cycles.LastReport(); ok {
			resp.LastReport, resp.Source = &rep, "local"
		}
	}
	if resp.LastReport == nil && h.shared != nil {
		rep, err := h.shared.LastReport(r.Context())
		switch {
		case err == nil:
			resp.LastReport, resp.Source = &rep, "shared"
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, context.Canceled):
		default:
			h.logger.WarnContext(r.Context(), "shared status unavailable", slog.String("error", err.Error()))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

package keeper

import (
	"time"

	"github.com/alanyoungcy/perpkeeper/internal/domain"
)

// Metrics receives keeper measurements. internal/metrics implements it with
// prometheus collectors.
type Metrics interface {
	TaskFailed(task domain.TaskKind)
	InstructionsPlanned(kind domain.MsgKind, n int)
	BatchSubmitted(category domain.Category, instructions int, err error, took time.Duration)
	CycleFinished(outcome domain.CycleOutcome, took time.Duration)
}

// NopMetrics discards every measurement.
type NopMetrics struct{}

func (NopMetrics) TaskFailed(domain.TaskKind)                                {}
func (NopMetrics) InstructionsPlanned(domain.MsgKind, int)                   {}
func (NopMetrics) BatchSubmitted(domain.Category, int, error, time.Duration) {}
func (NopMetrics) CycleFinished(domain.CycleOutcome, time.Duration)          {}

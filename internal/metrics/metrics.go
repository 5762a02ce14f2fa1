// Package metrics exposes keeper measurements as Prometheus collectors.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/alanyoungcy/perpkeeper/internal/domain"
	"github.com/alanyoungcy/perpkeeper/internal/keeper"
)

const namespace = "perpkeeper"

// Metrics holds every collector the keeper and the price relay update.
type Metrics struct {
	CyclesTotal              *prometheus.CounterVec
	CycleDuration            prometheus.Histogram
	LastCycleTimestamp       prometheus.Gauge
	TasksFailed              *prometheus.CounterVec
	InstructionsPlannedTotal *prometheus.CounterVec
	BatchesTotal             *prometheus.CounterVec
	InstructionsSent         *prometheus.CounterVec
	BatchDuration            *prometheus.HistogramVec
	OracleRetries            prometheus.Counter
	RelayBatches             *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	txBuckets := []float64{0.5, 1, 2, 3, 5, 8, 13, 21, 34}

	return &Metrics{
		CyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Finished keeper cycles by outcome",
		}, []string{"outcome"}),

		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a keeper cycle",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),

		LastCycleTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time the last cycle finished",
		}),

		TasksFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_failed_total",
			Help:      "Evaluation tasks dropped from a cycle",
		}, []string{"task"}),

		InstructionsPlannedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instructions_planned_total",
			Help:      "Execute messages planned by kind",
		}, []string{"kind"}),

		BatchesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Submitted batches by category and result",
		}, []string{"category", "result"}),

		InstructionsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instructions_submitted_total",
			Help:      "Execute messages included on chain by category",
		}, []string{"category"}),

		BatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Time from signing to inclusion",
			Buckets:   txBuckets,
		}, []string{"category"}),

		OracleRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_retries_total",
			Help:      "Retried oracle price requests",
		}),

		RelayBatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricefeed_batches_total",
			Help:      "Price relay submissions by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) TaskFailed(task domain.TaskKind) {
	m.TasksFailed.WithLabelValues(string(task)).Inc()
}

func (m *Metrics) InstructionsPlanned(kind domain.MsgKind, n int) {
	m.InstructionsPlannedTotal.WithLabelValues(string(kind)).Add(float64(n))
}

func (m *Metrics) BatchSubmitted(category domain.Category, instructions int, err error, took time.Duration) {
	m.BatchesTotal.WithLabelValues(string(category), result(err == nil)).Inc()
	if err == nil {
		m.InstructionsSent.WithLabelValues(string(category)).Add(float64(instructions))
	}
	m.BatchDuration.WithLabelValues(string(category)).Observe(took.Seconds())
}

func (m *Metrics) CycleFinished(outcome domain.CycleOutcome, took time.Duration) {
	m.CyclesTotal.WithLabelValues(string(outcome)).Inc()
	if outcome == domain.OutcomeSkipped {
		return
	}
	m.CycleDuration.Observe(took.Seconds())
	m.LastCycleTimestamp.SetToCurrentTime()
}

// OracleRetry matches retry.OnRetry.
func (m *Metrics) OracleRetry(int, error, time.Duration) {
	m.OracleRetries.Inc()
}

// ReportBatch counts a price relay submission.
func (m *Metrics) ReportBatch(_ context.Context, b domain.BatchResult) {
	m.RelayBatches.WithLabelValues(result(b.Succeeded())).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

var _ keeper.Metrics = (*Metrics)(nil)

package domain

import "time"

// CycleState is the position of a keeper cycle in its state machine.
type CycleState string

const (
	CycleIdle                 CycleState = "idle"
	CycleFetchingMarkets      CycleState = "fetching_markets"
	CycleEvaluatingTriggers   CycleState = "evaluating_triggers"
	CycleBatchingInstructions CycleState = "batching_instructions"
	CycleSubmitting           CycleState = "submitting"
)

// CycleOutcome is the terminal result of a keeper cycle.
type CycleOutcome string

const (
	OutcomeSuccess        CycleOutcome = "success"
	OutcomePartialFailure CycleOutcome = "partial_failure"
	OutcomeNoOp           CycleOutcome = "noop"
	OutcomeAborted        CycleOutcome = "aborted"
	OutcomeSkipped        CycleOutcome = "skipped"
)

// Category groups instructions that are submitted together.
type Category string

const (
	CategoryTpSl       Category = "tp_sl"
	CategoryLiquidate  Category = "liquidate"
	CategoryPayFunding Category = "pay_funding"
	CategoryCombined   Category = "combined"
	CategoryPriceFeed  Category = "price_feed"
)

// TaskKind names an evaluation task of the engine fan-out.
type TaskKind string

const (
	TaskTpSl      TaskKind = "tp_sl"
	TaskLiquidate TaskKind = "liquidate"
	TaskFunding   TaskKind = "funding"
)

// TaskFailure records an evaluation task that was dropped from a cycle.
type TaskFailure struct {
	Vamm  string   `json:"vamm"`
	Side  Side     `json:"side,omitempty"`
	Task  TaskKind `json:"task"`
	Error string   `json:"error"`
}

// BatchResult is the outcome of submitting one batch of instructions.
type BatchResult struct {
	Category     Category  `json:"category"`
	Instructions int       `json:"instructions"`
	Positions    []uint64  `json:"positions,omitempty"`
	TxHash       string    `json:"tx_hash,omitempty"`
	Height       int64     `json:"height,omitempty"`
	GasUsed      int64     `json:"gas_used,omitempty"`
	Error        string    `json:"error,omitempty"`
	Fallback     bool      `json:"fallback,omitempty"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// Succeeded reports whether the batch made it on chain.
func (b BatchResult) Succeeded() bool {
	return b.Error == "" && b.TxHash != ""
}

// CycleReport summarises one keeper cycle.
type CycleReport struct {
	ID         string          `json:"id"`
	Address    string          `json:"address"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	State      CycleState      `json:"state"`
	Outcome    CycleOutcome    `json:"outcome"`
	DryRun     bool            `json:"dry_run,omitempty"`
	Markets    int             `json:"markets"`
	Planned    map[MsgKind]int `json:"planned"`
	Failures   []TaskFailure   `json:"failures,omitempty"`
	Batches    []BatchResult   `json:"batches,omitempty"`
	Error      string          `json:"error,omitempty"`
	// BalanceLow is set when the cycle was aborted by the fee balance guard.
	BalanceLow bool `json:"balance_low,omitempty"`
}

// Duration is the wall time the cycle took.
func (r CycleReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Submitted counts the instructions that landed on chain.
func (r CycleReport) Submitted() int {
	n := 0
	for _, b := range r.Batches {
		if b.Succeeded() {
			n += b.Instructions
		}
	}
	return n
}

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/perpkeeper/internal/domain"
)

// Report alerts on a finished cycle: the balance guard, aborted cycles,
// dropped evaluation tasks and every submitted or failed batch.
func (n *Notifier) Report(ctx context.Context, report domain.CycleReport) {
	switch {
	case report.BalanceLow:
		n.send(ctx, EventBalanceLow, report.Address, "Keeper balance low", report.Error)
		return
	case report.Outcome == domain.OutcomeAborted:
		n.send(ctx, EventCycleFailed, "", "Keeper cycle aborted",
			fmt.Sprintf("cycle %s: %s", report.ID, report.Error))
		return
	}

	for _, f := range report.Failures {
		title := fmt.Sprintf("Keeper task failed: %s", f.Task)
		n.send(ctx, EventTaskFailed, f.Vamm+":"+string(f.Task), title, formatFailure(f))
	}
	for _, b := range report.Batches {
		n.ReportBatch(ctx, b)
	}
}

// ReportBatch alerts on a single submission.
func (n *Notifier) ReportBatch(ctx context.Context, b domain.BatchResult) {
	if b.Succeeded() {
		n.send(ctx, EventTxSubmitted, "", fmt.Sprintf("Submitted %s", b.Category), formatBatch(b))
		return
	}
	n.send(ctx, EventTxFailed, string(b.Category), fmt.Sprintf("Failed %s", b.Category), formatBatch(b))
}

func (n *Notifier) send(ctx context.Context, event, key, title, message string) {
	if !n.Enabled() {
		return
	}
	if err := n.Notify(ctx, event, key, title, message); err != nil {
		n.logger.WarnContext(ctx, "alert not delivered",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func formatFailure(f domain.TaskFailure) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "vamm: %s\n", f.Vamm)
	if f.Side != "" {
		fmt.Fprintf(&sb, "side: %s\n", f.Side)
	}
	fmt.Fprintf(&sb, "error: %s", f.Error)
	return sb.String()
}

func formatBatch(b domain.BatchResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "instructions: %d", b.Instructions)
	if len(b.Positions) > 0 {
		ids := make([]string, len(b.Positions))
		for i, id := range b.Positions {
			ids[i] = fmt.Sprint(id)
		}
		fmt.Fprintf(&sb, "\npositions: %s", strings.Join(ids, ", "))
	}
	if b.Fallback {
		sb.WriteString("\nretried alone")
	}
	if b.TxHash != "" {
		fmt.Fprintf(&sb, "\ntx: %s", b.TxHash)
	}
	if b.Height > 0 {
		fmt.Fprintf(&sb, "\nheight: %d", b.Height)
	}
	if b.Error != "" {
		fmt.Fprintf(&sb, "\nerror: %s", b.Error)
	}
	return sb.String()
}

package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nbenliogludev/go-page-pilot/internal/llm"
	"github.com/nbenliogludev/go-page-pilot/internal/page"
	"github.com/nbenliogludev/go-page-pilot/internal/prefs"
)

// RunRecorder persists finished runs.
type RunRecorder interface {
	RecordRun(ctx context.Context, r prefs.RunRecord) error
}

// Reporter collects the step trace of one run and records it when the run
// ends.
type Reporter struct {
	task   string
	start  time.Time
	trace  []string
	logger *zap.Logger

	finalURL string
}

func NewReporter(task string, start time.Time, logger *zap.Logger) *Reporter {
	return &Reporter{task: task, start: start, logger: logger}
}

// LogStep records one executed action.
func (r *Reporter) LogStep(step int, url string, action llm.Action, res page.Result) {
	status := "ok"
	if !res.Resolved {
		status = "skipped: " + res.Skipped
	}
	r.finalURL = url

	r.logger.Info("step executed",
		zap.Int("step", step),
		zap.String("url", url),
		zap.Stringer("action", action),
		zap.String("status", status),
	)
	r.trace = append(r.trace, fmt.Sprintf("STEP %d | URL=%s | ACTION=%s | %s", step, url, action, status))
}

// Note appends a free-form line (loop notes, translation results).
func (r *Reporter) Note(line string) {
	r.trace = append(r.trace, line)
}

// Finish logs the outcome and hands the run to rec, which may be nil.
// Recording failures are logged, never returned.
func (r *Reporter) Finish(ctx context.Context, rec RunRecorder, out Outcome, end time.Time, finalURL string) prefs.RunRecord {
	if finalURL != "" {
		r.finalURL = finalURL
	}
	if out.LoopNotes > 0 {
		r.trace = append(r.trace, fmt.Sprintf("LOOP NOTES | %d repetition warnings sent", out.LoopNotes))
	}
	run := prefs.RunRecord{
		StartedAt: r.start,
		Duration:  end.Sub(r.start).Truncate(time.Millisecond),
		Task:      r.task,
		State:     out.State.String(),
		Reason:    out.Reason,
		Steps:     out.Steps,
		FinalURL:  r.finalURL,
		Trace:     append([]string(nil), r.trace...),
	}

	r.logger.Info("run finished",
		zap.String("task", r.task),
		zap.Stringer("state", out.State),
		zap.String("reason", humanizeReason(out.Reason)),
		zap.Int("steps", out.Steps),
		zap.Int("loop_notes", out.LoopNotes),
		zap.Duration("duration", run.Duration),
	)

	if rec != nil {
		// The run context may already be cancelled by Stop.
		if err := rec.RecordRun(context.WithoutCancel(ctx), run); err != nil {
			r.logger.Warn("failed to record run", zap.Error(err))
		}
	}
	return run
}

// FormatReport renders a stored run for the terminal.
func FormatReport(run prefs.RunRecord) string {
	var b strings.Builder
	b.WriteString("===== EXECUTION REPORT =====\n")
	fmt.Fprintf(&b, "Task: %s\n", run.Task)
	fmt.Fprintf(&b, "Started: %s\n", run.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Duration: %s\n", run.Duration)
	fmt.Fprintf(&b, "Outcome: %s (%s)\n", run.State, humanizeReason(run.Reason))
	fmt.Fprintf(&b, "Steps: %d\n", run.Steps)
	if run.FinalURL != "" {
		fmt.Fprintf(&b, "Final URL: %s\n", run.FinalURL)
	}
	if len(run.Trace) > 0 {
		b.WriteString("--- STEP TRACE ---\n")
		for _, line := range run.Trace {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	b.WriteString("===== END OF REPORT =====")
	return b.String()
}

// Package notify delivers fire-and-forget operator notifications.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dandantas/boarding/internal/model"
)

// Event is one notification
type Event struct {
	Kind     string                 `json:"kind"`
	Text     string                 `json:"text"`
	Severity string                 `json:"severity"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Notifier sends events without reporting failures to the caller
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// LogNotifier writes events to the default logger
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, event Event) {
	slog.Info("Notification",
		"kind", event.Kind,
		"severity", event.Severity,
		"text", event.Text,
	)
}

// Nop discards every event
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

// RunEvent formats a job run summary
func RunEvent(run *model.JobRun) Event {
	var b strings.Builder
	fmt.Fprintf(&b, "%s run %s: %s", run.Job, run.RunID, run.Outcome)
	if run.Reason != "" {
		fmt.Fprintf(&b, " (%s)", run.Reason)
	}
	if run.Error != "" {
		fmt.Fprintf(&b, " error: %s", run.Error)
	}

	if len(run.Counters) > 0 {
		names := make([]string, 0, len(run.Counters))
		for name := range run.Counters {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%d", name, run.Counters[name]))
		}
		fmt.Fprintf(&b, " [%s]", strings.Join(parts, " "))
	}

	for _, g := range run.Groups {
		if g.Removed == 0 && g.Error == "" {
			continue
		}
		fmt.Fprintf(&b, "\n- %s: %d -> %d (removed %d)", g.Identity, g.MembersBefore, g.MembersAfter, g.Removed)
		if g.Error != "" {
			fmt.Fprintf(&b, " error: %s", g.Error)
		}
	}

	return Event{
		Kind:     run.Job,
		Text:     b.String(),
		Severity: severityOf(run),
		Metadata: map[string]interface{}{
			"run_id":      run.RunID,
			"job":         run.Job,
			"trigger":     run.Trigger,
			"outcome":     string(run.Outcome),
			"duration_ms": run.DurationMs,
			"finished_at": run.FinishedAt.UTC().Format(time.RFC3339),
		},
	}
}

func severityOf(run *model.JobRun) string {
	if run.Outcome == model.OutcomeFailed {
		return "error"
	}
	for _, g := range run.Groups {
		if g.Error != "" {
			return "warning"
		}
	}
	return "info"
}

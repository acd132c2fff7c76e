package scheduler

import (
	"strings"
	"testing"
	"time"

	"github.com/conciergehq/concierge/pkg/concierge/pending"
)

func TestRenderDigest(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	stats := pending.Statistics{
		Total:        3,
		ActiveTimers: 2,
		ByStatus: map[pending.Status]int{
			pending.StatusPending:  2,
			pending.StatusExecuted: 1,
		},
		ByUser: map[string]int{"op1": 2, "op2": 1},
		Oldest: &pending.OperationSummary{
			ID:        "a",
			Type:      "workspace.archive_page",
			Status:    pending.StatusExecuted,
			CreatedAt: now.Add(-2 * time.Hour),
		},
		Newest: &pending.OperationSummary{
			ID:        "b",
			Type:      "broadcast.announce",
			Status:    pending.StatusPending,
			CreatedAt: now.Add(-30 * time.Second),
		},
	}

	got := renderDigest(stats, now)

	for _, want := range []string{
		"Total operations: 3",
		"expiry timers: 2",
		"PENDING: 2",
		"EXECUTED: 1",
		"op1: 2",
		"op2: 1",
		"Oldest: workspace.archive_page",
		"Newest: broadcast.announce",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("digest missing %q:\n%s", want, got)
		}
	}
}

func TestRenderDigestEmpty(t *testing.T) {
	got := renderDigest(pending.Statistics{}, time.Now())
	if !strings.Contains(got, "Total operations: 0") {
		t.Errorf("digest = %q", got)
	}
	if strings.Contains(got, "Oldest") {
		t.Error("empty digest should not mention oldest operation")
	}
}

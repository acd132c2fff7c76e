package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/conciergehq/concierge/pkg/concierge/pending"
)

// DigestHandler returns a JobHandler that renders a pending-operation
// statistics summary for posting.
func DigestHandler(store *pending.Store) JobHandler {
	return func(ctx context.Context, job *Job) (string, error) {
		if store == nil {
			return "", fmt.Errorf("no operation store configured")
		}
		return renderDigest(store.GetStatistics(), time.Now()), nil
	}
}

// renderDigest formats statistics as a chat message.
func renderDigest(stats pending.Statistics, now time.Time) string {
	var b strings.Builder
	b.WriteString("*Operations Digest*\n\n")
	b.WriteString(fmt.Sprintf("Total operations: %d (expiry timers: %d)\n",
		stats.Total, stats.ActiveTimers))

	if len(stats.ByStatus) > 0 {
		statuses := make([]string, 0, len(stats.ByStatus))
		for st := range stats.ByStatus {
			statuses = append(statuses, string(st))
		}
		sort.Strings(statuses)
		for _, st := range statuses {
			b.WriteString(fmt.Sprintf("  %s: %d\n", st, stats.ByStatus[pending.Status(st)]))
		}
	}

	if len(stats.ByUser) > 0 {
		b.WriteString("\nBy operator:\n")
		users := make([]string, 0, len(stats.ByUser))
		for u := range stats.ByUser {
			users = append(users, u)
		}
		sort.Strings(users)
		for _, u := range users {
			b.WriteString(fmt.Sprintf("  %s: %d\n", u, stats.ByUser[u]))
		}
	}

	if stats.Oldest != nil {
		b.WriteString(fmt.Sprintf("\nOldest: %s (%s, created %s ago)\n",
			stats.Oldest.Type, stats.Oldest.Status,
			pending.FormatDuration(now.Sub(stats.Oldest.CreatedAt))))
	}
	if stats.Newest != nil && (stats.Oldest == nil || stats.Newest.ID != stats.Oldest.ID) {
		b.WriteString(fmt.Sprintf("Newest: %s (%s, created %s ago)\n",
			stats.Newest.Type, stats.Newest.Status,
			pending.FormatDuration(now.Sub(stats.Newest.CreatedAt))))
	}

	return strings.TrimRight(b.String(), "\n")
}

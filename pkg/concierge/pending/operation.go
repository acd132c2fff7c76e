// Package pending implements the deferred-operation confirmation cache for
// Concierge. An operator proposes an action (archive a workspace page, send
// a broadcast, ...), the cache holds it in a pending state for a hold
// window, optionally streams a live countdown to a chat card, and, unless
// explicitly confirmed or cancelled in time, applies the operation's
// default resolution exactly once.
package pending

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an operation.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
	StatusExecuted  Status = "EXECUTED"
)

// Terminal reports whether the status admits no further transitions.
// CONFIRMED is not terminal in the strict sense (it may still become
// EXECUTED), but for cleanup purposes it counts as resolved.
func (s Status) Terminal() bool {
	switch s {
	case StatusCancelled, StatusExpired, StatusExecuted, StatusConfirmed:
		return true
	}
	return false
}

// DefaultAction is the resolution applied automatically when the hold
// window elapses, or when an operation is evicted by admission control.
type DefaultAction string

const (
	DefaultConfirm DefaultAction = "confirm"
	DefaultCancel  DefaultAction = "cancel"
)

// Operation is one proposed action awaiting confirmation, cancellation, or
// timeout-based resolution. Fields other than Data, Status, CardRef,
// UpdateCount, and LastUpdateAt are immutable after creation.
type Operation struct {
	// ID uniquely identifies the operation; derived from type, user, and
	// creation time.
	ID string

	// UserID is the owning operator.
	UserID string

	// Type selects the Executor invoked at confirmation time.
	Type string

	// Data is the opaque payload consumed by the Executor and the card
	// updater. Mutable only while PENDING.
	Data map[string]any

	// AdminInput is the original raw request text, kept for audit.
	AdminInput string

	// CreatedAt and ExpiresAt bound the hold window.
	CreatedAt time.Time
	ExpiresAt time.Time

	// HoldLabel is the precomputed human-readable hold duration.
	HoldLabel string

	// Status is the current lifecycle state.
	Status Status

	// Default is the resolution applied at expiry or forced eviction.
	Default DefaultAction

	// CardRef identifies the external display surface showing the live
	// countdown (e.g. "discord:channelID:messageID"). Set at most once.
	CardRef string

	// UpdateCount and LastUpdateAt are bookkeeping for the live-update
	// loop.
	UpdateCount  int
	LastUpdateAt time.Time
}

// Remaining returns the time left in the hold window at now, floored at
// zero once the window has elapsed.
func (o *Operation) Remaining(now time.Time) time.Duration {
	d := o.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// RemainingLabel renders the remaining hold time the way cards display it.
func (o *Operation) RemainingLabel(now time.Time) string {
	return FormatDuration(o.Remaining(now))
}

// Clone returns a deep-enough copy safe to hand to executors and card
// callbacks outside the store lock. Data is copied one level deep; nested
// values are shared, callers must not mutate them.
func (o *Operation) Clone() *Operation {
	c := *o
	if o.Data != nil {
		c.Data = make(map[string]any, len(o.Data))
		for k, v := range o.Data {
			c.Data[k] = v
		}
	}
	return &c
}

// newOperationID derives an identifier from the operation type, owner, and
// creation time, with a short random suffix to disambiguate same-instant
// creations.
func newOperationID(opType, userID string, createdAt time.Time) string {
	return fmt.Sprintf("%s-%s-%d-%s", opType, userID, createdAt.UnixMilli(), uuid.NewString()[:8])
}

// FormatDuration renders a duration as a compact human label ("45s",
// "2m30s", "1h05m"). Used for both the hold label and countdown cards.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

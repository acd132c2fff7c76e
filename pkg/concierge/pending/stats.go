package pending

import "time"

// OperationSummary is a compact view of one operation for statistics
// output.
type OperationSummary struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Statistics is the operational-visibility surface of the store. It feeds
// dashboards and the digest scheduler, never business logic.
type Statistics struct {
	Total        int            `json:"total"`
	ByStatus     map[Status]int `json:"by_status"`
	ByUser       map[string]int `json:"by_user"`
	ByAge        map[string]int `json:"by_age"`
	ActiveTimers int            `json:"active_timers"`

	Oldest *OperationSummary `json:"oldest,omitempty"`
	Newest *OperationSummary `json:"newest,omitempty"`
}

// ServiceStatus describes the cache's moving parts for health reporting.
type ServiceStatus struct {
	Operations     int           `json:"operations"`
	ActiveTimers   int           `json:"active_timers"`
	AutoUpdate     bool          `json:"auto_update"`
	UpdateInterval time.Duration `json:"update_interval"`
	MaxCardUpdates int           `json:"max_card_updates"`
	MaxPerUser     int           `json:"max_per_user"`
	SnapshotPath   string        `json:"snapshot_path,omitempty"`
}

// Age bucket labels, youngest to oldest.
const (
	ageUnderMinute = "<1m"
	ageUnderFive   = "1-5m"
	ageUnderHour   = "5m-1h"
	ageOverHour    = ">1h"
)

// GetStatistics computes counts by status, user, and age bucket plus
// oldest/newest summaries.
func (s *Store) GetStatistics() Statistics {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Statistics{
		Total:        len(s.ops),
		ByStatus:     make(map[Status]int),
		ByUser:       make(map[string]int),
		ByAge:        make(map[string]int),
		ActiveTimers: len(s.timers),
	}

	var oldest, newest *Operation
	for _, op := range s.ops {
		stats.ByStatus[op.Status]++
		stats.ByUser[op.UserID]++
		stats.ByAge[ageBucket(now.Sub(op.CreatedAt))]++

		if oldest == nil || op.CreatedAt.Before(oldest.CreatedAt) {
			oldest = op
		}
		if newest == nil || op.CreatedAt.After(newest.CreatedAt) {
			newest = op
		}
	}
	stats.Oldest = summarize(oldest)
	stats.Newest = summarize(newest)
	return stats
}

// GetServiceStatus reports the cache's configuration and worker state.
func (s *Store) GetServiceStatus() ServiceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := ServiceStatus{
		Operations:     len(s.ops),
		ActiveTimers:   len(s.timers),
		AutoUpdate:     s.updEnabled,
		UpdateInterval: s.updInterval,
		MaxCardUpdates: s.updMax,
		MaxPerUser:     s.opts.MaxPerUser,
	}
	if s.persister != nil {
		st.SnapshotPath = s.persister.Path()
	}
	return st
}

func ageBucket(age time.Duration) string {
	switch {
	case age < time.Minute:
		return ageUnderMinute
	case age < 5*time.Minute:
		return ageUnderFive
	case age < time.Hour:
		return ageUnderHour
	default:
		return ageOverHour
	}
}

func summarize(op *Operation) *OperationSummary {
	if op == nil {
		return nil
	}
	return &OperationSummary{
		ID:        op.ID,
		UserID:    op.UserID,
		Type:      op.Type,
		Status:    op.Status,
		CreatedAt: op.CreatedAt,
		ExpiresAt: op.ExpiresAt,
	}
}

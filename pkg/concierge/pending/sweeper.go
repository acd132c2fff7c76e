package pending

import "time"

const (
	// completedRetention is how long resolved operations stay visible
	// before the sweeper evicts them.
	completedRetention = time.Hour

	// hardAgeLimit removes any operation regardless of state. Safety valve
	// against records that somehow never resolved.
	hardAgeLimit = 24 * time.Hour
)

// CleanupResult reports how many operations a cleanup pass removed, by
// reason.
type CleanupResult struct {
	// Expired counts PENDING operations already past their window that the
	// expiry trigger had not yet processed (marked EXPIRED, then removed).
	Expired int

	// Completed counts terminal operations older than the retention period.
	Completed int

	// Stale counts operations past the hard age limit regardless of state.
	Stale int
}

// Total returns the number of operations removed in the pass.
func (r CleanupResult) Total() int { return r.Expired + r.Completed + r.Stale }

// sweepLoop runs cleanup passes on a load-adaptive interval: the fuller
// the store, the more often it sweeps.
func (s *Store) sweepLoop() {
	defer close(s.sweepDone)

	for {
		interval := s.sweepInterval()
		select {
		case <-s.sweepStop:
			return
		case <-time.After(interval):
			if res := s.cleanup(); res.Total() > 0 {
				s.logger.Info("cleanup pass",
					"expired", res.Expired,
					"completed", res.Completed,
					"stale", res.Stale,
				)
			}
		}
	}
}

// sweepInterval picks the next sweep delay from the current record count.
func (s *Store) sweepInterval() time.Duration {
	s.mu.Lock()
	n := len(s.ops)
	s.mu.Unlock()

	switch {
	case n > 50:
		return 5 * time.Minute
	case n > 10:
		return 15 * time.Minute
	default:
		return 30 * time.Minute
	}
}

// ForceCleanup runs a cleanup pass synchronously and returns the removal
// counts. Administrative use.
func (s *Store) ForceCleanup() CleanupResult {
	res := s.cleanup()
	s.logger.Info("forced cleanup",
		"expired", res.Expired,
		"completed", res.Completed,
		"stale", res.Stale,
	)
	return res
}

// cleanup performs one sweep. The expired-pending case is a safety net for
// a missed or delayed expiry trigger: the operation is marked EXPIRED (no
// default action; the trigger path owns that) and evicted.
func (s *Store) cleanup() CleanupResult {
	now := s.now()
	var res CleanupResult

	s.mu.Lock()
	for id, op := range s.ops {
		age := now.Sub(op.CreatedAt)
		switch {
		case age > hardAgeLimit:
			res.Stale++
		case op.Status == StatusPending && now.After(op.ExpiresAt):
			op.Status = StatusExpired
			res.Expired++
		case op.Status.Terminal() && age > completedRetention:
			res.Completed++
		default:
			continue
		}
		s.stopTimerLocked(id)
		s.unindexLocked(op)
		delete(s.ops, id)
	}
	var snap []*Operation
	if res.Total() > 0 {
		snap = s.snapshotLocked()
	}
	s.mu.Unlock()

	if res.Total() > 0 {
		s.persist(snap)
	}
	return res
}

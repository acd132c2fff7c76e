package pending

import (
	"context"
	"fmt"
	"time"
)

// stopAwaitTimeout bounds how long StopAutoUpdate waits for the loop
// goroutine to acknowledge the stop signal.
const stopAwaitTimeout = 5 * time.Second

// ConfigureAutoUpdate starts, reconfigures, or disables the live-update
// loop. The loop is a single worker that ticks at interval and, for every
// PENDING operation that has a bound card, has not hit its update ceiling,
// and has not been refreshed within the last interval, recomputes the
// remaining-time label and invokes the registered CardUpdater.
//
// Calling it while a loop is running restarts the loop with the new
// parameters.
func (s *Store) ConfigureAutoUpdate(enabled bool, interval time.Duration, maxUpdates int) {
	s.StopAutoUpdate()

	if interval <= 0 {
		interval = DefaultUpdateInterval
	}
	if maxUpdates <= 0 {
		maxUpdates = DefaultMaxCardUpdates
	}

	s.mu.Lock()
	s.updEnabled = enabled
	s.updInterval = interval
	s.updMax = maxUpdates
	if !enabled {
		s.mu.Unlock()
		s.logger.Info("live updates disabled")
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.updStop = stop
	s.updDone = done
	s.mu.Unlock()

	go s.updateLoop(interval, maxUpdates, stop, done)
	s.logger.Info("live updates enabled", "interval", interval, "max_updates", maxUpdates)
}

// StopAutoUpdate signals the live-update loop to stop and waits (bounded)
// for it to finish, so callers can rely on no further card refreshes after
// it returns.
func (s *Store) StopAutoUpdate() {
	s.mu.Lock()
	stop := s.updStop
	done := s.updDone
	s.updStop = nil
	s.updDone = nil
	s.updEnabled = false
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	select {
	case <-done:
	case <-time.After(stopAwaitTimeout):
		s.logger.Warn("live-update loop did not stop in time")
	}
}

func (s *Store) updateLoop(interval time.Duration, maxUpdates int, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.updateTick(interval, maxUpdates)
		}
	}
}

// updateTick performs one pass over the store. Candidates are copied out
// under the lock; the callback runs without it, so one slow card cannot
// block confirm/cancel/expiry processing. Bookkeeping is written back only
// if the operation is still PENDING when the callback returns.
func (s *Store) updateTick(interval time.Duration, maxUpdates int) {
	now := s.now()

	s.mu.Lock()
	updater := s.cardUpdater
	var due []*Operation
	for _, op := range s.ops {
		if op.Status != StatusPending || op.CardRef == "" {
			continue
		}
		if op.UpdateCount >= maxUpdates {
			continue
		}
		if !op.LastUpdateAt.IsZero() && now.Sub(op.LastUpdateAt) < interval {
			continue
		}
		due = append(due, op.Clone())
	}
	s.mu.Unlock()

	if updater == nil || len(due) == 0 {
		return
	}

	for _, op := range due {
		err := s.runCardUpdate(updater, op)
		if err != nil {
			// Callback failures do not consume the update ceiling and do
			// not affect the operation.
			s.logger.Warn("card update failed",
				"id", op.ID, "card", op.CardRef, "error", err)
			continue
		}

		s.mu.Lock()
		if cur, ok := s.ops[op.ID]; ok && cur.Status == StatusPending {
			cur.UpdateCount++
			cur.LastUpdateAt = s.now().Truncate(time.Millisecond)
		}
		s.mu.Unlock()
	}
}

// runCardUpdate invokes the card updater with a bounded context and panic
// isolation. The operation copy carries the freshly computed label in
// Data["remaining_label"].
func (s *Store) runCardUpdate(updater CardUpdater, op *Operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("card updater panic: %v", r)
		}
	}()

	op.Data["remaining_label"] = op.RemainingLabel(s.now())

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.CallbackTimeout)
	defer cancel()
	return updater.Update(ctx, op)
}

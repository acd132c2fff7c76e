package pending

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultMaxPerUser is the default per-user cap on simultaneously
	// pending operations.
	DefaultMaxPerUser = 2

	// DefaultUpdateInterval is the default live-update tick.
	DefaultUpdateInterval = time.Second

	// DefaultMaxCardUpdates is the default per-operation ceiling on card
	// refreshes.
	DefaultMaxCardUpdates = 60

	// DefaultCallbackTimeout bounds a single executor or card-updater call
	// so a stalled external service cannot starve the workers.
	DefaultCallbackTimeout = 10 * time.Second
)

// Options configures a Store.
type Options struct {
	// MaxPerUser caps simultaneously pending operations per user. Exceeding
	// the cap auto-resolves the user's oldest pending operation via its own
	// default action. Zero means DefaultMaxPerUser.
	MaxPerUser int

	// SnapshotPath is the file that receives the whole-store snapshot on
	// every mutation and is restored at start-up. Empty disables
	// persistence.
	SnapshotPath string

	// UpdateInterval is the live-update tick. Zero means
	// DefaultUpdateInterval.
	UpdateInterval time.Duration

	// MaxCardUpdates is the per-operation card refresh ceiling. Zero means
	// DefaultMaxCardUpdates.
	MaxCardUpdates int

	// AutoUpdate starts the live-update loop immediately. It can be
	// reconfigured or stopped later via ConfigureAutoUpdate /
	// StopAutoUpdate.
	AutoUpdate bool

	// CallbackTimeout bounds executor and card-updater calls. Zero means
	// DefaultCallbackTimeout.
	CallbackTimeout time.Duration
}

// Store is the in-memory keyed collection of pending operations. It owns
// all state transitions: every resolving action (confirm, cancel, expiry
// trigger, forced eviction) is a check-and-set on Status under one mutex,
// which is what guarantees each operation resolves exactly once even when
// those paths race.
type Store struct {
	mu     sync.Mutex
	ops    map[string]*Operation
	byUser map[string]map[string]struct{}
	timers map[string]*time.Timer

	executors   map[string]Executor
	cardUpdater CardUpdater
	onResolve   ResolutionHook

	opts      Options
	persister *Snapshotter
	logger    *slog.Logger

	// now is swappable for tests.
	now func() time.Time

	// live-update loop state (updater.go).
	updEnabled  bool
	updInterval time.Duration
	updMax      int
	updStop     chan struct{}
	updDone     chan struct{}

	// cleanup sweeper state (sweeper.go).
	sweepStop chan struct{}
	sweepDone chan struct{}

	closed bool
}

// NewStore creates a Store, restores the snapshot from disk (if
// configured), reschedules expiry timers for operations still inside their
// hold window, and starts the cleanup sweeper.
func NewStore(opts Options, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxPerUser <= 0 {
		opts.MaxPerUser = DefaultMaxPerUser
	}
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = DefaultUpdateInterval
	}
	if opts.MaxCardUpdates <= 0 {
		opts.MaxCardUpdates = DefaultMaxCardUpdates
	}
	if opts.CallbackTimeout <= 0 {
		opts.CallbackTimeout = DefaultCallbackTimeout
	}

	s := &Store{
		ops:         make(map[string]*Operation),
		byUser:      make(map[string]map[string]struct{}),
		timers:      make(map[string]*time.Timer),
		executors:   make(map[string]Executor),
		opts:        opts,
		logger:      logger.With("component", "pending"),
		now:         time.Now,
		updInterval: opts.UpdateInterval,
		updMax:      opts.MaxCardUpdates,
		sweepStop:   make(chan struct{}),
		sweepDone:   make(chan struct{}),
	}

	if opts.SnapshotPath != "" {
		s.persister = NewSnapshotter(opts.SnapshotPath, s.logger)
		s.restore()
	}

	go s.sweepLoop()

	if opts.AutoUpdate {
		s.ConfigureAutoUpdate(true, opts.UpdateInterval, opts.MaxCardUpdates)
	}

	return s
}

// Close stops the live-update loop and sweeper, cancels all expiry timers,
// and writes a final snapshot. Operations still pending simply reappear as
// pending after the next start (or as EXPIRED if their window passed).
func (s *Store) Close() {
	s.StopAutoUpdate()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	close(s.sweepStop)
	select {
	case <-s.sweepDone:
	case <-time.After(5 * time.Second):
		s.logger.Warn("cleanup sweeper did not stop in time")
	}

	s.persist(snap)
	s.logger.Info("pending store closed")
}

// ---------- Create & admission ----------

// Create registers a new pending operation for userID and schedules its
// expiry trigger. The operation type does not need a registered executor
// yet; lookup is deferred to confirmation time. If the user is already at
// the pending cap, their oldest pending operations are resolved via their
// own default actions until admission is possible.
func (s *Store) Create(userID, opType string, data map[string]any, adminInput string, hold time.Duration, def DefaultAction) (string, error) {
	if userID == "" || opType == "" {
		return "", fmt.Errorf("pending: user and type are required")
	}
	if hold <= 0 {
		return "", fmt.Errorf("pending: hold window must be positive, got %v", hold)
	}
	switch def {
	case DefaultConfirm, DefaultCancel:
	case "":
		def = DefaultCancel
	default:
		return "", fmt.Errorf("pending: unknown default action %q", def)
	}

	// Millisecond precision throughout: the snapshot stores UnixMilli, so
	// anything finer would not survive a restore intact.
	now := s.now().Truncate(time.Millisecond)
	op := &Operation{
		ID:         newOperationID(opType, userID, now),
		UserID:     userID,
		Type:       opType,
		Data:       data,
		AdminInput: adminInput,
		CreatedAt:  now,
		ExpiresAt:  now.Add(hold).Truncate(time.Millisecond),
		HoldLabel:  FormatDuration(hold),
		Status:     StatusPending,
		Default:    def,
	}
	if op.Data == nil {
		op.Data = make(map[string]any)
	}

	// Admission control: evict oldest-first until below the cap, then
	// insert under the same lock as the final count check. Dropping the
	// lock between the check and the insert would let concurrent Creates
	// for one user all pass the check and breach the cap together. Each
	// eviction is a real resolution through the operation's own default
	// action, not a silent drop.
	var snap []*Operation
	for {
		s.mu.Lock()
		count, oldest := s.pendingForUserLocked(userID)
		if count < s.opts.MaxPerUser {
			s.ops[op.ID] = op
			s.indexLocked(op)
			s.scheduleExpiryLocked(op.ID, hold)
			snap = s.snapshotLocked()
			s.mu.Unlock()
			break
		}
		s.mu.Unlock()
		s.logger.Info("pending cap reached, auto-resolving oldest",
			"user", userID, "pending", count, "evicting", oldest)
		s.applyDefault(oldest, "admission")
	}
	s.persist(snap)

	s.logger.Info("operation created",
		"id", op.ID,
		"user", userID,
		"type", opType,
		"hold", op.HoldLabel,
		"default", string(def),
	)
	return op.ID, nil
}

// pendingForUserLocked counts the user's PENDING operations and returns
// the ID of the oldest one by creation time.
func (s *Store) pendingForUserLocked(userID string) (count int, oldest string) {
	var oldestAt time.Time
	for id := range s.byUser[userID] {
		op := s.ops[id]
		if op == nil || op.Status != StatusPending {
			continue
		}
		count++
		if oldest == "" || op.CreatedAt.Before(oldestAt) {
			oldest = id
			oldestAt = op.CreatedAt
		}
	}
	return count, oldest
}

func (s *Store) indexLocked(op *Operation) {
	set := s.byUser[op.UserID]
	if set == nil {
		set = make(map[string]struct{})
		s.byUser[op.UserID] = set
	}
	set[op.ID] = struct{}{}
}

func (s *Store) unindexLocked(op *Operation) {
	if set := s.byUser[op.UserID]; set != nil {
		delete(set, op.ID)
		if len(set) == 0 {
			delete(s.byUser, op.UserID)
		}
	}
}

// ---------- Expiry scheduling ----------

// scheduleExpiryLocked arms the single expiry trigger for an operation.
// Any previous timer for the same ID is stopped first, preserving the
// at-most-one-outstanding-trigger invariant.
func (s *Store) scheduleExpiryLocked(id string, in time.Duration) {
	if t := s.timers[id]; t != nil {
		t.Stop()
	}
	if in < 0 {
		in = 0
	}
	s.timers[id] = time.AfterFunc(in, func() { s.expire(id) })
}

func (s *Store) stopTimerLocked(id string) {
	if t := s.timers[id]; t != nil {
		t.Stop()
		delete(s.timers, id)
	}
}

// expire fires when an operation's hold window elapses. Stopping a timer
// is best-effort, so this re-checks the status under the lock; if the
// operation already resolved through another path this is a no-op.
func (s *Store) expire(id string) {
	s.mu.Lock()
	op, ok := s.ops[id]
	if !ok || op.Status != StatusPending {
		delete(s.timers, id)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.logger.Info("hold window elapsed, applying default action",
		"id", id, "default", string(op.Default))
	s.applyDefault(id, "expiry")
}

// applyDefault resolves an operation through its own default action, using
// the same paths as an explicit confirm or cancel.
func (s *Store) applyDefault(id, trigger string) {
	s.mu.Lock()
	op, ok := s.ops[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	def := op.Default
	s.mu.Unlock()

	switch def {
	case DefaultConfirm:
		s.confirm(id, trigger)
	default:
		s.cancel(id, trigger)
	}
}

// ---------- Resolution ----------

// Confirm resolves a pending operation by running its executor.
//
// It returns true only when the executor ran and succeeded (status
// EXECUTED). A missing or failing executor leaves the operation CONFIRMED
// and Confirm returns false: confirmation is durable even when the effect
// failed, so an operator can observe the partial failure and retry the
// effect manually. Calling Confirm on a non-pending operation is an
// idempotent failure with no side effects; the executor never runs twice.
func (s *Store) Confirm(id string) bool {
	return s.confirm(id, "operator")
}

const triggerOperator = "operator"

func (s *Store) confirm(id, trigger string) bool {
	s.mu.Lock()
	op, ok := s.ops[id]
	if !ok || op.Status != StatusPending {
		s.mu.Unlock()
		return false
	}

	// An operator confirming after the window closed loses the race to the
	// expiry trigger: mark EXPIRED and report failure. The trigger itself
	// (and admission eviction) is exempt, since it fires at the boundary.
	if trigger == triggerOperator && s.now().After(op.ExpiresAt) {
		op.Status = StatusExpired
		s.stopTimerLocked(id)
		opCopy := op.Clone()
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.persist(snap)
		s.logger.Warn("confirm after expiry, marking expired", "id", id)
		s.notifyResolved(opCopy, trigger)
		return false
	}

	op.Status = StatusConfirmed
	s.stopTimerLocked(id)
	opCopy := op.Clone()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.persist(snap)

	exec, ok := s.executorFor(opCopy.Type)
	if !ok {
		s.logger.Error("no executor registered, operation left confirmed",
			"id", id, "type", opCopy.Type, "trigger", trigger)
		s.notifyResolved(opCopy, trigger)
		return false
	}

	if err := s.runExecutor(exec, opCopy); err != nil {
		s.logger.Error("executor failed, operation left confirmed",
			"id", id, "type", opCopy.Type, "trigger", trigger, "error", err)
		s.notifyResolved(opCopy, trigger)
		return false
	}

	s.mu.Lock()
	if cur, ok := s.ops[id]; ok && cur.Status == StatusConfirmed {
		cur.Status = StatusExecuted
	}
	snap = s.snapshotLocked()
	s.mu.Unlock()
	s.persist(snap)

	s.logger.Info("operation executed", "id", id, "type", opCopy.Type, "trigger", trigger)
	opCopy.Status = StatusExecuted
	s.notifyResolved(opCopy, trigger)
	return true
}

// runExecutor invokes an executor with a bounded context, converting a
// panic into an error so one bad handler cannot take the store down.
func (s *Store) runExecutor(exec Executor, op *Operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.CallbackTimeout)
	defer cancel()
	return exec.Execute(ctx, op)
}

// Cancel resolves a pending operation without running its executor.
// Idempotent: cancelling a non-pending operation returns false with no
// side effects.
func (s *Store) Cancel(id string) bool {
	return s.cancel(id, "operator")
}

func (s *Store) cancel(id, trigger string) bool {
	s.mu.Lock()
	op, ok := s.ops[id]
	if !ok || op.Status != StatusPending {
		s.mu.Unlock()
		return false
	}
	op.Status = StatusCancelled
	s.stopTimerLocked(id)
	opCopy := op.Clone()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.persist(snap)

	s.logger.Info("operation cancelled", "id", id, "trigger", trigger)
	s.notifyResolved(opCopy, trigger)
	return true
}

// ---------- Reads & field mutation ----------

// Get returns a copy of the operation, or false if unknown.
func (s *Store) Get(id string) (*Operation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[id]
	if !ok {
		return nil, false
	}
	return op.Clone(), true
}

// GetForUser returns copies of the user's operations, oldest first. A
// non-empty status filters the result.
func (s *Store) GetForUser(userID string, status Status) []*Operation {
	s.mu.Lock()
	var out []*Operation
	for id := range s.byUser[userID] {
		op := s.ops[id]
		if op == nil {
			continue
		}
		if status != "" && op.Status != status {
			continue
		}
		out = append(out, op.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// UpdateData merges patch into the operation's payload. Allowed only while
// PENDING.
func (s *Store) UpdateData(id string, patch map[string]any) bool {
	s.mu.Lock()
	op, ok := s.ops[id]
	if !ok || op.Status != StatusPending {
		s.mu.Unlock()
		return false
	}
	for k, v := range patch {
		op.Data[k] = v
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.persist(snap)
	return true
}

// BindCard attaches the display-surface reference that the live-update
// loop will refresh, and resets the update clock so the first refresh
// happens on the next tick. The reference is set at most once; rebinding
// to a different surface fails.
func (s *Store) BindCard(id, cardRef string) bool {
	if cardRef == "" {
		return false
	}
	s.mu.Lock()
	op, ok := s.ops[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if op.CardRef != "" && op.CardRef != cardRef {
		s.mu.Unlock()
		s.logger.Warn("card already bound", "id", id, "card", op.CardRef)
		return false
	}
	op.CardRef = cardRef
	op.LastUpdateAt = time.Time{}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.persist(snap)
	return true
}

// ---------- Persistence plumbing ----------

// snapshotLocked captures a copy of every operation for serialization.
func (s *Store) snapshotLocked() []*Operation {
	out := make([]*Operation, 0, len(s.ops))
	for _, op := range s.ops {
		out = append(out, op.Clone())
	}
	return out
}

// persist writes a snapshot to disk. Failures are logged and otherwise
// ignored: in-memory state stays authoritative and the next successful
// mutation re-attempts the write.
func (s *Store) persist(snap []*Operation) {
	if s.persister == nil {
		return
	}
	if err := s.persister.Save(snap); err != nil {
		s.logger.Error("snapshot write failed", "error", err)
	}
}

// restore loads the snapshot at start-up. Operations whose window passed
// during the downtime are marked EXPIRED without invoking an executor:
// after an outage of unknown duration, retroactively firing default
// confirms could re-trigger business effects, so the stale default is
// deliberately skipped. Operations still inside their window get a fresh
// timer for the remaining delta.
func (s *Store) restore() {
	ops, err := s.persister.Load()
	if err != nil {
		s.logger.Warn("snapshot restore failed, starting empty", "error", err)
		return
	}
	if len(ops) == 0 {
		return
	}

	now := s.now()
	var restored, expired int

	s.mu.Lock()
	for _, op := range ops {
		s.ops[op.ID] = op
		s.indexLocked(op)
		if op.Status != StatusPending {
			continue
		}
		if !op.ExpiresAt.After(now) {
			op.Status = StatusExpired
			expired++
			continue
		}
		s.scheduleExpiryLocked(op.ID, op.ExpiresAt.Sub(now))
		restored++
	}
	s.mu.Unlock()

	s.logger.Info("snapshot restored",
		"total", len(ops),
		"rescheduled", restored,
		"expired_during_downtime", expired,
	)
}

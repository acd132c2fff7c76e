package pending

import "context"

// Executor performs the real business effect of a confirmed operation.
// Implementations are registered per operation type and are expected to be
// fast; long-running effects should be delegated asynchronously by the
// executor itself.
type Executor interface {
	Execute(ctx context.Context, op *Operation) error
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, op *Operation) error

func (f ExecutorFunc) Execute(ctx context.Context, op *Operation) error {
	return f(ctx, op)
}

// CardUpdater pushes a refreshed countdown to whatever display surface an
// operation's CardRef identifies. Invoked by the live-update loop; a
// returned error counts as a failed update (logged, not retried, the
// update ceiling is not consumed).
type CardUpdater interface {
	Update(ctx context.Context, op *Operation) error
}

// CardUpdaterFunc adapts a plain function to the CardUpdater interface.
type CardUpdaterFunc func(ctx context.Context, op *Operation) error

func (f CardUpdaterFunc) Update(ctx context.Context, op *Operation) error {
	return f(ctx, op)
}

// ResolutionHook observes an operation leaving the PENDING state. It
// receives a copy of the record with its settled status and the trigger
// that resolved it ("operator", "expiry", "admission"). Runs outside the
// store lock; panics are contained.
type ResolutionHook func(op *Operation, trigger string)

// RegisterExecutor binds an executor to an operation type. Registration may
// happen after operations of that type were created; the lookup is deferred
// to confirmation time. Re-registering a type replaces the handler.
func (s *Store) RegisterExecutor(opType string, exec Executor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executors[opType] = exec
	s.logger.Info("executor registered", "type", opType)
}

// SetCardUpdater installs the callback invoked by the live-update loop for
// operations bound to a card.
func (s *Store) SetCardUpdater(u CardUpdater) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cardUpdater = u
}

// SetResolutionHook installs the hook notified whenever an operation
// resolves, regardless of path. Used to retire display cards.
func (s *Store) SetResolutionHook(h ResolutionHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onResolve = h
}

// notifyResolved invokes the resolution hook, if set, with a settled copy.
func (s *Store) notifyResolved(op *Operation, trigger string) {
	s.mu.Lock()
	hook := s.onResolve
	s.mu.Unlock()
	if hook == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("resolution hook panic", "id", op.ID, "error", r)
		}
	}()
	hook(op, trigger)
}

// executorFor returns the executor registered for the given type, if any.
func (s *Store) executorFor(opType string) (Executor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executors[opType]
	return exec, ok
}

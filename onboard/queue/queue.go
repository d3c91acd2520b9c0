package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

type EmergencyState int

const (
	EMERGENCY_NONE EmergencyState = iota
	EMERGENCY_WAITING_FOR_RESET
	EMERGENCY_RESETTING
)

func (s EmergencyState) String() string {
	switch s {
	case EMERGENCY_WAITING_FOR_RESET:
		return "waiting_for_reset"
	case EMERGENCY_RESETTING:
		return "resetting"
	}
	return "none"
}

func (s EmergencyState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	ERR_STOPPING    = errors.New("queue is stopping")
	ERR_NOT_RUNNING = errors.New("action is not running")
)

// Queue executes actions one at a time on a single worker. All fields below
// lock are guarded by it and every mutation broadcasts on cond.
type Queue struct {
	store   *Store
	robot   Robot
	journal Journal
	log     *zap.Logger

	lock sync.Mutex
	cond *sync.Cond

	pending   []Action
	current   Action
	progress  Progress
	lastError error
	paused    bool

	emergency       EmergencyState
	emergencyAction Action

	// stepping is the action whose Step is in flight, if any.
	stepping   Action
	generation uint64
	started    bool
	stopping   bool
	ctx        context.Context

	done     chan struct{}
	doneOnce sync.Once
}

// New builds a queue from the actions persisted in store. A persisted
// emergency action puts the queue straight into the waiting for reset state.
func New(store *Store, robot Robot, journal Journal, log *zap.Logger) (*Queue, error) {
	if journal == nil {
		journal = nopJournal{}
	}

	q := &Queue{
		store:   store,
		robot:   robot,
		journal: journal,
		log:     log,
		done:    make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.lock)

	actions, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("restore queue: %w", err)
	}
	for _, a := range actions {
		if _, ok := a.(*EmergencyAction); ok {
			if q.emergencyAction != nil {
				// one reset covers every interrupted emergency
				q.store.Remove(a)
				continue
			}
			q.emergencyAction = a
			q.emergency = EMERGENCY_WAITING_FOR_RESET
			continue
		}
		q.pending = append(q.pending, a)
	}

	log.Info("queue restored",
		zap.Int("pending", len(q.pending)),
		zap.Stringer("emergency", q.emergency),
	)
	return q, nil
}

// Start launches the worker. Actions are stepped with ctx.
func (q *Queue) Start(ctx context.Context) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.started {
		return
	}
	q.started = true
	q.ctx = ctx
	go q.run(q.generation)
}

func (q *Queue) run(gen uint64) {
	for {
		action, ok := q.next(gen)
		if !ok {
			return
		}

		q.log.Debug("stepping action", zap.Uint64("id", uint64(action.ID())), zap.String("type", action.TypeName()))
		result := action.Step(q.ctx, q.robot)

		if !q.complete(gen, action, result) {
			return
		}
	}
}

// next blocks until there is an action to step. It returns false once the
// worker should exit.
func (q *Queue) next(gen uint64) (Action, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	for {
		if q.generation != gen {
			return nil, false
		}
		if q.stopping {
			q.finish()
			return nil, false
		}

		if q.emergency == EMERGENCY_WAITING_FOR_RESET {
			q.emergency = EMERGENCY_RESETTING
			q.stepping = q.emergencyAction
			q.cond.Broadcast()
			return q.stepping, true
		}

		// a paused action stays current, out of the FIFO, and resumes first
		if q.paused {
			q.cond.Wait()
			continue
		}

		if q.current == nil && len(q.pending) > 0 {
			q.current = q.pending[0]
			q.pending = q.pending[1:]
		}
		if q.current != nil {
			q.stepping = q.current
			q.cond.Broadcast()
			return q.current, true
		}

		q.cond.Wait()
	}
}

// complete applies the result of a step. A result from an abandoned worker
// is discarded and the worker exits.
func (q *Queue) complete(gen uint64, action Action, result StepResult) bool {
	q.lock.Lock()
	defer q.lock.Unlock()
	defer q.cond.Broadcast()

	if q.generation != gen {
		q.log.Warn("discarding result of killed action", zap.Uint64("id", uint64(action.ID())))
		return false
	}
	q.stepping = nil

	fields := []zap.Field{
		zap.Uint64("id", uint64(action.ID())),
		zap.String("type", action.TypeName()),
	}

	switch result.Kind {
	case STEP_FINISHED:
		if err := q.store.Remove(action); err != nil {
			q.log.Error("failed to remove finished action", append(fields, zap.Error(err))...)
		}

		outcome := OUTCOME_FINISHED
		if result.Err != nil {
			outcome = OUTCOME_FAILED
			q.lastError = result.Err
			q.log.Warn("action finished with error", append(fields, zap.Error(result.Err))...)
		}
		q.record(action, outcome, result.Err)

		if action == q.emergencyAction {
			q.emergencyAction = nil
			q.emergency = EMERGENCY_NONE
		} else if action == q.current {
			q.current = nil
			q.progress = Progress{}
		}
		q.log.Info("action finished", fields...)

	case STEP_RUNNING:
		q.save(action)
		if action == q.current {
			q.progress = result.Progress
		}

	case STEP_RUNNING_ERROR:
		q.save(action)
		q.lastError = result.Err
		q.log.Warn("action step failed", append(fields, zap.Error(result.Err))...)
	}

	return true
}

func (q *Queue) save(action Action) {
	if err := q.store.Save(action); err != nil {
		q.log.Error("failed to persist action", zap.Uint64("id", uint64(action.ID())), zap.Error(err))
	}
}

func (q *Queue) record(action Action, outcome Outcome, err error) {
	e := Entry{
		ActionID: action.ID(),
		Type:     action.TypeName(),
		Outcome:  outcome,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if jerr := q.journal.Record(e); jerr != nil {
		q.log.Warn("failed to journal action", zap.Uint64("id", uint64(action.ID())), zap.Error(jerr))
	}
}

// finish marks the worker as gone. Callers hold q.lock.
func (q *Queue) finish() {
	q.doneOnce.Do(func() {
		close(q.done)
	})
}

// AddAction persists a and appends it to the queue.
func (q *Queue) AddAction(a Action) error {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.stopping {
		return ERR_STOPPING
	}
	if err := q.store.Save(a); err != nil {
		return fmt.Errorf("persist action %d: %w", a.ID(), err)
	}

	q.pending = append(q.pending, a)
	q.cond.Broadcast()
	return nil
}

func (q *Queue) Pause() {
	q.lock.Lock()
	defer q.lock.Unlock()
	q.paused = true
	q.cond.Broadcast()
}

func (q *Queue) Unpause() {
	q.lock.Lock()
	defer q.lock.Unlock()
	q.paused = false
	q.cond.Broadcast()
}

// Clear drops every pending action. The current action is left alone.
func (q *Queue) Clear() int {
	q.lock.Lock()
	defer q.lock.Unlock()

	n := len(q.pending)
	for _, a := range q.pending {
		if err := q.store.Remove(a); err != nil {
			q.log.Error("failed to remove cleared action", zap.Uint64("id", uint64(a.ID())), zap.Error(err))
		}
		q.record(a, OUTCOME_CLEARED, nil)
	}
	q.pending = nil
	q.cond.Broadcast()
	return n
}

// Emergency makes the worker run an emergency action at its next decision
// point, ahead of everything else. The interrupted action is kept and resumes
// afterwards.
func (q *Queue) Emergency() error {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.emergency != EMERGENCY_NONE {
		return nil
	}

	a := NewEmergencyAction()
	if err := q.store.Save(a); err != nil {
		return fmt.Errorf("persist emergency: %w", err)
	}
	q.emergencyAction = a
	q.emergency = EMERGENCY_WAITING_FOR_RESET
	q.log.Warn("emergency triggered", zap.Uint64("id", uint64(a.ID())))
	q.cond.Broadcast()
	return nil
}

// KillRunningAction removes the current action even if its step is still in
// flight. With keepInQueue a copy reloaded from disk goes back to the front of
// the queue instead.
func (q *Queue) KillRunningAction(id ActionID, keepInQueue bool) error {
	q.lock.Lock()
	defer q.lock.Unlock()

	target := q.stepping
	if target == nil {
		target = q.current
	}
	if target == nil || target.ID() != id {
		return fmt.Errorf("%w: %d", ERR_NOT_RUNNING, id)
	}

	if keepInQueue {
		fresh, err := q.store.Read(target.ID(), target.TypeName())
		if err != nil {
			return err
		}
		q.pending = append([]Action{fresh}, q.pending...)
	} else {
		if err := q.store.Remove(target); err != nil {
			return err
		}
		q.record(target, OUTCOME_KILLED, nil)
	}

	q.detach(target)
	q.log.Warn("killed running action",
		zap.Uint64("id", uint64(id)),
		zap.Bool("kept", keepInQueue),
	)
	q.cond.Broadcast()
	return nil
}

// ForceKill abandons whatever step is in flight and drops that action. A new
// worker takes over unless the queue is stopping, in which case Done closes.
func (q *Queue) ForceKill() {
	q.lock.Lock()
	defer q.lock.Unlock()

	if target := q.stepping; target != nil {
		if err := q.store.Remove(target); err != nil {
			q.log.Error("failed to remove killed action", zap.Uint64("id", uint64(target.ID())), zap.Error(err))
		}
		q.record(target, OUTCOME_KILLED, nil)
		q.log.Warn("force killed action", zap.Uint64("id", uint64(target.ID())))
		q.detach(target)
	} else if q.stopping {
		q.generation++
		q.finish()
	}
	q.cond.Broadcast()
}

// detach forgets target and, when its step is in flight, hands the queue to
// a fresh worker. Callers hold q.lock.
func (q *Queue) detach(target Action) {
	if target == q.emergencyAction {
		q.emergencyAction = nil
		q.emergency = EMERGENCY_NONE
	}
	if target == q.current {
		q.current = nil
		q.progress = Progress{}
	}

	if target != q.stepping {
		return
	}
	q.stepping = nil
	q.generation++

	if q.stopping || !q.started {
		q.finish()
		return
	}
	go q.run(q.generation)
}

// Stop lets the current step return, then exits the worker. Actions stay on
// disk and resume on the next start.
func (q *Queue) Stop() {
	q.lock.Lock()
	defer q.lock.Unlock()

	q.stopping = true
	if !q.started {
		q.finish()
	}
	q.cond.Broadcast()
}

// Done is closed once the worker has exited after Stop or ForceKill.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

type ActionInfo struct {
	ID       ActionID  `json:"id"`
	Type     string    `json:"type"`
	Progress *Progress `json:"progress,omitempty"`
}

type Snapshot struct {
	Paused    bool           `json:"paused"`
	Stopping  bool           `json:"stopping"`
	Emergency EmergencyState `json:"emergency"`
	Current   *ActionInfo    `json:"current"`
	Pending   []ActionInfo   `json:"pending"`
	LastError string         `json:"last_error,omitempty"`
}

// State returns a copy of the queue bookkeeping; action internals are never
// read outside the worker.
func (q *Queue) State() Snapshot {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.snapshot()
}

func (q *Queue) snapshot() Snapshot {
	s := Snapshot{
		Paused:    q.paused,
		Stopping:  q.stopping,
		Emergency: q.emergency,
		Pending:   make([]ActionInfo, 0, len(q.pending)),
	}

	switch {
	case q.emergency == EMERGENCY_RESETTING && q.emergencyAction != nil:
		s.Current = &ActionInfo{ID: q.emergencyAction.ID(), Type: q.emergencyAction.TypeName()}
	case q.current != nil:
		p := q.progress
		s.Current = &ActionInfo{ID: q.current.ID(), Type: q.current.TypeName(), Progress: &p}
	}

	for _, a := range q.pending {
		s.Pending = append(s.Pending, ActionInfo{ID: a.ID(), Type: a.TypeName()})
	}
	if q.lastError != nil {
		s.LastError = q.lastError.Error()
	}
	return s
}

// WaitFor blocks until cond holds for the queue state or ctx is done.
func (q *Queue) WaitFor(ctx context.Context, cond func(Snapshot) bool) error {
	stop := context.AfterFunc(ctx, func() {
		q.lock.Lock()
		q.cond.Broadcast()
		q.lock.Unlock()
	})
	defer stop()

	q.lock.Lock()
	defer q.lock.Unlock()

	for {
		if cond(q.snapshot()) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		q.cond.Wait()
	}
}

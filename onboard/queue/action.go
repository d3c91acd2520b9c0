// Package queue runs long running robot actions one at a time, persisting each
// one to disk so the queue survives a restart.
package queue

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// Robot is the set of operations actions may perform. Every call may block
// for as long as the physical work takes.
type Robot interface {
	MoveTo(ctx context.Context, pos mgl64.Vec3) error
	Home(ctx context.Context) error
	Reset(ctx context.Context) error
	Retract(ctx context.Context) error
	Water(ctx context.Context, d time.Duration) error
	Lights(ctx context.Context, d time.Duration) error
	Pump(ctx context.Context, d time.Duration) error
	Plow(ctx context.Context, wait time.Duration) error
	SetLed(ctx context.Context, led uint8) error
	Emergency(ctx context.Context) error
}

type ActionID uint64

var lastActionID uint64

// NextActionID returns a process wide unique, increasing id.
func NextActionID() ActionID {
	return ActionID(atomic.AddUint64(&lastActionID, 1))
}

// observeActionID makes sure ids handed out later are greater than id.
func observeActionID(id ActionID) {
	for {
		cur := atomic.LoadUint64(&lastActionID)
		if uint64(id) <= cur || atomic.CompareAndSwapUint64(&lastActionID, cur, uint64(id)) {
			return
		}
	}
}

// Action is a resumable unit of robot work. Step is only ever called by the
// queue worker and is the only place an action mutates itself; the JSON
// encoding of an action is its persisted state.
type Action interface {
	ID() ActionID
	TypeName() string
	Step(ctx context.Context, robot Robot) StepResult
}

// Progress is advisory. An unknown progress has Known unset.
type Progress struct {
	Ratio float64
	Known bool
}

func ProgressRatio(done, total int) Progress {
	if total <= 0 {
		return Progress{}
	}
	return Progress{Ratio: float64(done) / float64(total), Known: true}
}

func (p Progress) MarshalJSON() ([]byte, error) {
	if !p.Known {
		return []byte("null"), nil
	}
	return json.Marshal(p.Ratio)
}

type StepKind int

const (
	STEP_FINISHED StepKind = iota
	STEP_RUNNING
	STEP_RUNNING_ERROR
)

type StepResult struct {
	Kind     StepKind
	Progress Progress
	Err      error
}

func Finished() StepResult {
	return StepResult{Kind: STEP_FINISHED}
}

// FinishedWithError ends the action but still reports err to operators.
func FinishedWithError(err error) StepResult {
	return StepResult{Kind: STEP_FINISHED, Err: err}
}

func Running(p Progress) StepResult {
	return StepResult{Kind: STEP_RUNNING, Progress: p}
}

// RunningError keeps the action current; it is stepped again next cycle.
func RunningError(err error) StepResult {
	return StepResult{Kind: STEP_RUNNING_ERROR, Err: err}
}

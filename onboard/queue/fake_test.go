package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"
)

// fakeRobot records every call. With block set each call except Emergency
// announces itself on entered and waits for release.
type fakeRobot struct {
	lock    sync.Mutex
	calls   []string
	block   bool
	moveErr error

	entered chan string
	release chan struct{}
}

func newFakeRobot(block bool) *fakeRobot {
	return &fakeRobot{
		block:   block,
		entered: make(chan string, 16),
		release: make(chan struct{}),
	}
}

func (r *fakeRobot) Calls() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *fakeRobot) do(ctx context.Context, op string) error {
	r.lock.Lock()
	r.calls = append(r.calls, op)
	block := r.block
	r.lock.Unlock()

	if !block {
		return nil
	}
	r.entered <- op
	select {
	case <-r.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *fakeRobot) MoveTo(ctx context.Context, pos mgl64.Vec3) error {
	r.lock.Lock()
	err := r.moveErr
	r.moveErr = nil
	r.lock.Unlock()

	if derr := r.do(ctx, fmt.Sprintf("move %g", pos.X())); derr != nil {
		return derr
	}
	return err
}

func (r *fakeRobot) Home(ctx context.Context) error    { return r.do(ctx, "home") }
func (r *fakeRobot) Reset(ctx context.Context) error   { return r.do(ctx, "reset") }
func (r *fakeRobot) Retract(ctx context.Context) error { return r.do(ctx, "retract") }

func (r *fakeRobot) Water(ctx context.Context, d time.Duration) error {
	return r.do(ctx, fmt.Sprintf("water %s", d))
}

func (r *fakeRobot) Lights(ctx context.Context, d time.Duration) error {
	return r.do(ctx, fmt.Sprintf("lights %s", d))
}

func (r *fakeRobot) Pump(ctx context.Context, d time.Duration) error {
	return r.do(ctx, fmt.Sprintf("pump %s", d))
}

func (r *fakeRobot) Plow(ctx context.Context, wait time.Duration) error {
	return r.do(ctx, fmt.Sprintf("plow %s", wait))
}

func (r *fakeRobot) SetLed(ctx context.Context, led uint8) error {
	return r.do(ctx, fmt.Sprintf("led %d", led))
}

func (r *fakeRobot) Emergency(context.Context) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.calls = append(r.calls, "emergency")
	return nil
}

type fakeJournal struct {
	lock    sync.Mutex
	entries []Entry
}

func (j *fakeJournal) Record(e Entry) error {
	j.lock.Lock()
	defer j.lock.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

func (j *fakeJournal) Outcomes() []Outcome {
	j.lock.Lock()
	defer j.lock.Unlock()
	var out []Outcome
	for _, e := range j.entries {
		out = append(out, e.Outcome)
	}
	return out
}

func moves(xs ...float64) *CommandListAction {
	var cmds []Instruction
	for _, x := range xs {
		cmds = append(cmds, Move(mgl64.Vec3{x, 0, 0}))
	}
	a, err := NewCommandListAction(cmds)
	if err != nil {
		panic(err)
	}
	return a
}

func newTestQueue(dir string, robot Robot, journal Journal) *Queue {
	store, err := OpenStore(dir)
	if err != nil {
		panic(err)
	}
	q, err := New(store, robot, journal, zap.NewNop())
	if err != nil {
		panic(err)
	}
	return q
}

func within(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}

// expectEntered waits for the robot to start op and lets it finish.
func expectEntered(r *fakeRobot) string {
	select {
	case op := <-r.entered:
		r.release <- struct{}{}
		return op
	case <-time.After(2 * time.Second):
		return "timeout"
	}
}

func idle(s Snapshot) bool {
	return s.Current == nil && len(s.Pending) == 0 && s.Emergency == EMERGENCY_NONE
}

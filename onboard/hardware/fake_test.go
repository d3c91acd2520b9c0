package hardware

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/CodedInternet/gogarden/onboard/serialbus"
)

// fakeNode answers with canned responses and counts how often each command ran.
type fakeNode struct {
	NopHandler

	lock  sync.Mutex
	calls map[string]int

	onMove  Response
	onPoll  Response
	onWater Response
	state   State
}

func newFakeNode() *fakeNode {
	return &fakeNode{calls: map[string]int{}}
}

func (n *fakeNode) count(name string) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.calls[name]++
}

func (n *fakeNode) Calls(name string) int {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.calls[name]
}

func (n *fakeNode) MoveMotor(_ context.Context, x int32) Response {
	n.count("move")
	n.lock.Lock()
	n.state.Position = x
	n.lock.Unlock()
	return n.onMove
}

func (n *fakeNode) Poll(context.Context) Response {
	n.count("poll")
	return n.onPoll
}

func (n *fakeNode) State(context.Context) Response {
	n.count("state")
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.state
}

func (n *fakeNode) Water(_ context.Context, ms uint32) Response {
	n.count("water")
	return n.onWater
}

// startNode serves handler on one end of a pipe and returns a master for the
// other end.
func startNode(handler Handler, config MasterConfig, opts ...serialbus.PipeOption) (*Master, *serialbus.PipeEnd, context.CancelFunc) {
	a, b := serialbus.NewPipe(serialbus.DEFAULT_PIPE_CAPACITY, opts...)
	ctx, cancel := context.WithCancel(context.Background())

	slave := NewSlave(NewComm(b, zap.NewNop()), NameOf("axis_x"), Version{1, 0, 3}, handler, zap.NewNop())
	go slave.Serve(ctx)

	return NewMaster(NewComm(a, zap.NewNop()), config, zap.NewNop()), a, cancel
}

func writeFrame(ctx context.Context, t serialbus.Transport, id uint8, payload []byte) error {
	frame, err := serialbus.Encode(id, payload)
	if err != nil {
		return err
	}
	for _, b := range frame {
		if err := t.WriteByte(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

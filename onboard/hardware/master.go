package hardware

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	CMD_MAX_RETRIES = 5
	CMD_TIMEOUT     = 200 * time.Millisecond
)

var (
	ERR_MAX_RETRIES         = errors.New("CMD_MAX_RETRIES reached while attempting to send")
	ERR_UNSUPPORTED         = errors.New("command not supported by node")
	ERR_UNEXPECTED_RESPONSE = errors.New("unexpected response from node")
)

// RemoteError is returned when a node answers a command with an Error response.
type RemoteError struct {
	Command string
	Payload []byte
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("node rejected %s: %q", e.Command, e.Payload)
}

type MasterConfig struct {
	// ResendTimes is the number of send attempts made for each exchange.
	ResendTimes int
	// Timeout bounds the wait for a response to a single attempt.
	Timeout time.Duration
}

func DefaultMasterConfig() MasterConfig {
	return MasterConfig{
		ResendTimes: CMD_MAX_RETRIES,
		Timeout:     CMD_TIMEOUT,
	}
}

// Master drives a single node. Calls are single flight: at most one command is
// outstanding on the link at any time.
type Master struct {
	lock   sync.Mutex
	comm   *Comm
	config MasterConfig
	lastID uint8
	log    *zap.Logger
}

func NewMaster(comm *Comm, config MasterConfig, log *zap.Logger) *Master {
	if config.ResendTimes < 1 {
		config.ResendTimes = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = CMD_TIMEOUT
	}
	return &Master{
		comm:   comm,
		config: config,
		log:    log,
	}
}

// LastID returns the frame id used by the most recent send attempt.
func (m *Master) LastID() uint8 {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.lastID
}

func (m *Master) WhoAreYou(ctx context.Context) (iam Iam, err error) {
	resp, err := m.call(ctx, WhoAreYou{})
	if err != nil {
		return
	}
	iam, ok := resp.(Iam)
	if !ok {
		err = unexpected(WhoAreYou{}, resp)
	}
	return
}

func (m *Master) GetState(ctx context.Context) (state State, err error) {
	resp, err := m.call(ctx, GetState{})
	if err != nil {
		return
	}
	state, ok := resp.(State)
	if !ok {
		err = unexpected(GetState{}, resp)
	}
	return
}

// MoveTo moves the motor to the absolute step position x and returns once
// the node reports the move complete.
func (m *Master) MoveTo(ctx context.Context, x int32) error {
	return m.expectDone(ctx, MoveMotor{X: x})
}

func (m *Master) Reset(ctx context.Context) error {
	return m.expectDone(ctx, ResetMotor{})
}

// Water runs the water valve for d. A zero duration switches it off.
func (m *Master) Water(ctx context.Context, d time.Duration) error {
	return m.expectDone(ctx, Water{DurationMs: millis(d)})
}

func (m *Master) Lights(ctx context.Context, d time.Duration) error {
	return m.expectDone(ctx, Lights{DurationMs: millis(d)})
}

func (m *Master) Pump(ctx context.Context, d time.Duration) error {
	return m.expectDone(ctx, Pump{DurationMs: millis(d)})
}

func (m *Master) Plow(ctx context.Context, wait time.Duration) error {
	return m.expectDone(ctx, Plow{WaitMs: millis(wait)})
}

func (m *Master) SetLed(ctx context.Context, led uint8) error {
	return m.expectDone(ctx, SetLed{Led: led})
}

func (m *Master) expectDone(ctx context.Context, cmd Command) error {
	resp, err := m.call(ctx, cmd)
	if err != nil {
		return err
	}
	if _, ok := resp.(Done); !ok {
		return unexpected(cmd, resp)
	}
	return nil
}

// call performs cmd and follows Wait responses with Poll exchanges until the
// node gives a final answer.
func (m *Master) call(ctx context.Context, cmd Command) (Response, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	resp, err := m.exchange(ctx, cmd)
	for err == nil {
		switch r := resp.(type) {
		case Wait:
			select {
			case <-time.After(time.Duration(r.Ms) * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			resp, err = m.exchange(ctx, Poll{})

		case Unsupported:
			return nil, fmt.Errorf("%s: %w", commandName(cmd), ERR_UNSUPPORTED)

		case ErrorReply:
			return nil, &RemoteError{Command: commandName(cmd), Payload: r.Payload}

		default:
			return resp, nil
		}
	}
	return nil, err
}

// exchange sends cmd under a fresh id for each attempt until a matching
// response arrives or the attempts run out. Callers hold m.lock.
func (m *Master) exchange(ctx context.Context, cmd Command) (Response, error) {
	var lastErr error
	for attempt := 1; attempt <= m.config.ResendTimes; attempt++ {
		m.lastID++
		id := m.lastID

		actx, cancel := context.WithTimeout(ctx, m.config.Timeout)
		resp, err := m.attempt(actx, id, cmd)
		cancel()

		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, ERR_ENCODE) {
			return nil, err
		}

		lastErr = err
		m.log.Debug("no response from node",
			zap.String("command", commandName(cmd)),
			zap.Uint8("id", id),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	return nil, fmt.Errorf("%s: %w (last error: %v)", commandName(cmd), ERR_MAX_RETRIES, lastErr)
}

func (m *Master) attempt(ctx context.Context, id uint8, cmd Command) (Response, error) {
	if err := m.comm.Send(ctx, id, cmd); err != nil {
		return nil, err
	}

	for {
		rid, resp, err := m.comm.ReceiveResponse(ctx)
		if err != nil {
			if errors.Is(err, ERR_DECODE) {
				m.log.Debug("ignoring undecodable response", zap.Uint8("id", rid), zap.Error(err))
				continue
			}
			return nil, err
		}

		if rid != id {
			m.log.Debug("discarding stale response", zap.Uint8("id", rid), zap.Uint8("want", id))
			continue
		}

		if d, ok := resp.(Debug); ok {
			m.log.Debug("node debug", zap.ByteString("data", d.Data[:]))
			continue
		}

		return resp, nil
	}
}

func unexpected(cmd Command, resp Response) error {
	return fmt.Errorf("%s: %w %T", commandName(cmd), ERR_UNEXPECTED_RESPONSE, resp)
}

func commandName(cmd Command) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", cmd), "hardware.")
}

func millis(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	if ms > 1<<32-1 {
		return 1<<32 - 1
	}
	return uint32(ms)
}

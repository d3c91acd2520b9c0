package hardware

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Slave answers commands arriving on a link on behalf of a node.
type Slave struct {
	comm    *Comm
	name    NodeName
	version Version
	handler Handler
	log     *zap.Logger
}

func NewSlave(comm *Comm, name NodeName, version Version, handler Handler, log *zap.Logger) *Slave {
	return &Slave{
		comm:    comm,
		name:    name,
		version: version,
		handler: handler,
		log:     log,
	}
}

// Serve answers commands until ctx is cancelled. WhoAreYou is always answered
// with the node identity; unknown commands get Unsupported.
func (s *Slave) Serve(ctx context.Context) error {
	for {
		id, cmd, err := s.comm.ReceiveCommand(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			var uv *UnknownVariantError
			if errors.As(err, &uv) {
				s.reply(ctx, id, Unsupported{})
				continue
			}
			if errors.Is(err, ERR_DECODE) {
				s.log.Debug("ignoring undecodable command", zap.Uint8("id", id), zap.Error(err))
				continue
			}
			return err
		}

		if resp := s.dispatch(ctx, cmd); resp != nil {
			s.reply(ctx, id, resp)
		}
	}
}

func (s *Slave) dispatch(ctx context.Context, cmd Command) Response {
	switch c := cmd.(type) {
	case WhoAreYou:
		return Iam{Name: s.name, Version: s.version}
	case MoveMotor:
		return s.handler.MoveMotor(ctx, c.X)
	case ResetMotor:
		return s.handler.ResetMotor(ctx)
	case GetState:
		return s.handler.State(ctx)
	case Poll:
		return s.handler.Poll(ctx)
	case Water:
		return s.handler.Water(ctx, c.DurationMs)
	case Lights:
		return s.handler.Lights(ctx, c.DurationMs)
	case Pump:
		return s.handler.Pump(ctx, c.DurationMs)
	case Plow:
		return s.handler.Plow(ctx, c.WaitMs)
	case SetLed:
		return s.handler.SetLed(ctx, c.Led)
	}
	return Unsupported{}
}

func (s *Slave) reply(ctx context.Context, id uint8, resp Response) {
	if err := s.comm.Send(ctx, id, resp); err != nil {
		s.log.Warn("failed to send response",
			zap.String("node", s.name.String()),
			zap.Uint8("id", id),
			zap.Error(err),
		)
	}
}

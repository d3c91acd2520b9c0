package hardware

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/CodedInternet/gogarden/onboard/serialbus"
)

// Comm is a typed message channel over a byte transport. It is not safe for
// concurrent use; Master and Slave serialise access to it.
type Comm struct {
	transport serialbus.Transport
	decoder   *serialbus.Decoder
	log       *zap.Logger
}

func NewComm(t serialbus.Transport, log *zap.Logger) *Comm {
	return &Comm{
		transport: t,
		decoder:   serialbus.NewDecoder(),
		log:       log,
	}
}

// Send frames m under id and writes it to the transport. Encoding failures
// wrap ERR_ENCODE and nothing is written.
func (c *Comm) Send(ctx context.Context, id uint8, m Message) (err error) {
	payload, err := Marshal(m)
	if err != nil {
		return
	}

	frame, err := serialbus.Encode(id, payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ERR_ENCODE, err)
	}

	for _, b := range frame {
		if err = c.transport.WriteByte(ctx, b); err != nil {
			return
		}
	}
	return nil
}

// ReceiveCommand blocks until a complete frame arrives. A frame with a valid
// checksum but an undecodable payload returns its id together with an error
// wrapping ERR_DECODE.
func (c *Comm) ReceiveCommand(ctx context.Context) (uint8, Command, error) {
	return receive(ctx, c, UnmarshalCommand)
}

// ReceiveResponse is the Response counterpart of ReceiveCommand.
func (c *Comm) ReceiveResponse(ctx context.Context) (uint8, Response, error) {
	return receive(ctx, c, UnmarshalResponse)
}

func receive[T any](ctx context.Context, c *Comm, decode func([]byte) (T, error)) (id uint8, msg T, err error) {
	for {
		b, err := c.transport.ReadByte(ctx)
		if err != nil {
			return 0, msg, err
		}

		state, err := c.decoder.Feed(b)
		if err != nil {
			var fe *serialbus.FrameError
			if errors.As(err, &fe) {
				c.log.Debug("dropped frame", zap.Stringer("kind", fe.Kind))
				continue
			}
			return 0, msg, err
		}
		if state != serialbus.DataReady {
			continue
		}

		msg, err = decode(c.decoder.Payload())
		return c.decoder.ID(), msg, err
	}
}

package hardware

import "context"

// Handler implements the node side of each command. A nil Response means the
// node stays silent and the master will time out and resend.
type Handler interface {
	MoveMotor(ctx context.Context, x int32) Response
	ResetMotor(ctx context.Context) Response
	State(ctx context.Context) Response
	Poll(ctx context.Context) Response
	Water(ctx context.Context, durationMs uint32) Response
	Lights(ctx context.Context, durationMs uint32) Response
	Pump(ctx context.Context, durationMs uint32) Response
	Plow(ctx context.Context, waitMs uint32) Response
	SetLed(ctx context.Context, led uint8) Response
}

// NopHandler answers nothing. Embed it to implement only the commands a node
// supports.
type NopHandler struct{}

func (NopHandler) MoveMotor(context.Context, int32) Response { return nil }
func (NopHandler) ResetMotor(context.Context) Response       { return nil }
func (NopHandler) State(context.Context) Response            { return nil }
func (NopHandler) Poll(context.Context) Response             { return nil }
func (NopHandler) Water(context.Context, uint32) Response    { return nil }
func (NopHandler) Lights(context.Context, uint32) Response   { return nil }
func (NopHandler) Pump(context.Context, uint32) Response     { return nil }
func (NopHandler) Plow(context.Context, uint32) Response     { return nil }
func (NopHandler) SetLed(context.Context, uint8) Response    { return nil }

// UnsupportedHandler answers Unsupported to everything.
type UnsupportedHandler struct{}

func (UnsupportedHandler) MoveMotor(context.Context, int32) Response { return Unsupported{} }
func (UnsupportedHandler) ResetMotor(context.Context) Response       { return Unsupported{} }
func (UnsupportedHandler) State(context.Context) Response            { return Unsupported{} }
func (UnsupportedHandler) Poll(context.Context) Response             { return Unsupported{} }
func (UnsupportedHandler) Water(context.Context, uint32) Response    { return Unsupported{} }
func (UnsupportedHandler) Lights(context.Context, uint32) Response   { return Unsupported{} }
func (UnsupportedHandler) Pump(context.Context, uint32) Response     { return Unsupported{} }
func (UnsupportedHandler) Plow(context.Context, uint32) Response     { return Unsupported{} }
func (UnsupportedHandler) SetLed(context.Context, uint8) Response    { return Unsupported{} }

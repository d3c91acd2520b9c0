package hardware

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/CodedInternet/gogarden/onboard/serialbus"
)

// Wire tags. Commands use the low half of the tag space and responses the high
// half, so a frame sent in the wrong direction never decodes.
const (
	CMD_WHO_ARE_YOU = 0x01
	CMD_MOVE_MOTOR  = 0x02
	CMD_RESET_MOTOR = 0x03
	CMD_STATE       = 0x04
	CMD_POLL        = 0x05
	CMD_WATER       = 0x06
	CMD_LIGHTS      = 0x07
	CMD_PUMP        = 0x08
	CMD_PLOW        = 0x09
	CMD_SET_LED     = 0x0A

	RESP_IAM         = 0x41
	RESP_WAIT        = 0x42
	RESP_DEBUG       = 0x43
	RESP_STATE       = 0x44
	RESP_DONE        = 0x45
	RESP_UNSUPPORTED = 0x46
	RESP_ERROR       = 0x47

	NAME_LENGTH  = 10
	DEBUG_LENGTH = 10

	// tag, bin8 header and length byte
	MAX_ERROR_PAYLOAD = serialbus.MAX_PAYLOAD - 3
)

var (
	ERR_DECODE = errors.New("payload could not be decoded")
	ERR_ENCODE = errors.New("message could not be encoded")
)

// UnknownVariantError is returned when a well formed frame carries a tag this
// side of the link does not know about.
type UnknownVariantError struct {
	Tag uint8
}

func (e *UnknownVariantError) Error() string {
	return fmt.Sprintf("unknown message tag 0x%02x", e.Tag)
}

func (e *UnknownVariantError) Unwrap() error {
	return ERR_DECODE
}

// Message is anything that can travel in a frame payload.
type Message interface {
	Tag() uint8
	encodeFields(enc *msgpack.Encoder) error
}

// Command is a request sent by a Master.
type Command interface {
	Message
	command()
}

// Response is a reply sent by a Slave.
type Response interface {
	Message
	response()
}

// NodeName is the fixed width identifier every node reports through Iam.
type NodeName [NAME_LENGTH]byte

// NameOf pads or truncates s into a NodeName.
func NameOf(s string) (n NodeName) {
	copy(n[:], s)
	return
}

func (n NodeName) String() string {
	return strings.TrimRight(string(n[:]), "\x00 ")
}

type Version struct {
	Major, Minor, Patch uint8
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

//---
// Commands
//---

type WhoAreYou struct{}

type MoveMotor struct {
	X int32
}

type ResetMotor struct{}

type GetState struct{}

type Poll struct{}

type Water struct {
	DurationMs uint32
}

type Lights struct {
	DurationMs uint32
}

type Pump struct {
	DurationMs uint32
}

type Plow struct {
	WaitMs uint32
}

type SetLed struct {
	Led uint8
}

func (WhoAreYou) Tag() uint8  { return CMD_WHO_ARE_YOU }
func (MoveMotor) Tag() uint8  { return CMD_MOVE_MOTOR }
func (ResetMotor) Tag() uint8 { return CMD_RESET_MOTOR }
func (GetState) Tag() uint8   { return CMD_STATE }
func (Poll) Tag() uint8       { return CMD_POLL }
func (Water) Tag() uint8      { return CMD_WATER }
func (Lights) Tag() uint8     { return CMD_LIGHTS }
func (Pump) Tag() uint8       { return CMD_PUMP }
func (Plow) Tag() uint8       { return CMD_PLOW }
func (SetLed) Tag() uint8     { return CMD_SET_LED }

func (WhoAreYou) command()  {}
func (MoveMotor) command()  {}
func (ResetMotor) command() {}
func (GetState) command()   {}
func (Poll) command()       {}
func (Water) command()      {}
func (Lights) command()     {}
func (Pump) command()       {}
func (Plow) command()       {}
func (SetLed) command()     {}

func (WhoAreYou) encodeFields(*msgpack.Encoder) error  { return nil }
func (ResetMotor) encodeFields(*msgpack.Encoder) error { return nil }
func (GetState) encodeFields(*msgpack.Encoder) error   { return nil }
func (Poll) encodeFields(*msgpack.Encoder) error       { return nil }

func (c MoveMotor) encodeFields(enc *msgpack.Encoder) error {
	return enc.EncodeInt(int64(c.X))
}

func (c Water) encodeFields(enc *msgpack.Encoder) error {
	return enc.EncodeUint(uint64(c.DurationMs))
}

func (c Lights) encodeFields(enc *msgpack.Encoder) error {
	return enc.EncodeUint(uint64(c.DurationMs))
}

func (c Pump) encodeFields(enc *msgpack.Encoder) error {
	return enc.EncodeUint(uint64(c.DurationMs))
}

func (c Plow) encodeFields(enc *msgpack.Encoder) error {
	return enc.EncodeUint(uint64(c.WaitMs))
}

func (c SetLed) encodeFields(enc *msgpack.Encoder) error {
	return enc.EncodeUint(uint64(c.Led))
}

//---
// Responses
//---

type Iam struct {
	Name    NodeName
	Version Version
}

// Wait means the command was accepted but is still running; Poll again after Ms.
type Wait struct {
	Ms uint32
}

type Debug struct {
	Data [DEBUG_LENGTH]byte
}

type State struct {
	Busy     bool
	Homed    bool
	EndStop  bool
	Water    bool
	Lights   bool
	Pump     bool
	Led      bool
	Position int32
}

type Done struct{}

type Unsupported struct{}

// ErrorReply carries a node specific failure description.
type ErrorReply struct {
	Payload []byte
}

// NewErrorReply truncates payload so the reply always fits in a frame.
func NewErrorReply(payload []byte) ErrorReply {
	if len(payload) > MAX_ERROR_PAYLOAD {
		payload = payload[:MAX_ERROR_PAYLOAD]
	}
	return ErrorReply{Payload: payload}
}

func (Iam) Tag() uint8         { return RESP_IAM }
func (Wait) Tag() uint8        { return RESP_WAIT }
func (Debug) Tag() uint8       { return RESP_DEBUG }
func (State) Tag() uint8       { return RESP_STATE }
func (Done) Tag() uint8        { return RESP_DONE }
func (Unsupported) Tag() uint8 { return RESP_UNSUPPORTED }
func (ErrorReply) Tag() uint8  { return RESP_ERROR }

func (Iam) response()         {}
func (Wait) response()        {}
func (Debug) response()       {}
func (State) response()       {}
func (Done) response()        {}
func (Unsupported) response() {}
func (ErrorReply) response()  {}

func (Done) encodeFields(*msgpack.Encoder) error        { return nil }
func (Unsupported) encodeFields(*msgpack.Encoder) error { return nil }

func (r Iam) encodeFields(enc *msgpack.Encoder) error {
	if err := enc.EncodeBytes(r.Name[:]); err != nil {
		return err
	}
	for _, v := range []uint8{r.Version.Major, r.Version.Minor, r.Version.Patch} {
		if err := enc.EncodeUint(uint64(v)); err != nil {
			return err
		}
	}
	return nil
}

func (r Wait) encodeFields(enc *msgpack.Encoder) error {
	return enc.EncodeUint(uint64(r.Ms))
}

func (r Debug) encodeFields(enc *msgpack.Encoder) error {
	return enc.EncodeBytes(r.Data[:])
}

func (r State) encodeFields(enc *msgpack.Encoder) error {
	for _, b := range []bool{r.Busy, r.Homed, r.EndStop, r.Water, r.Lights, r.Pump, r.Led} {
		if err := enc.EncodeBool(b); err != nil {
			return err
		}
	}
	return enc.EncodeInt(int64(r.Position))
}

func (r ErrorReply) encodeFields(enc *msgpack.Encoder) error {
	return enc.EncodeBytes(r.Payload)
}

//---
// Payload codec
//---

// Marshal encodes m as its tag followed by its msgpack encoded fields.
func Marshal(m Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := enc.EncodeUint(uint64(m.Tag())); err != nil {
		return nil, fmt.Errorf("%w: %v", ERR_ENCODE, err)
	}
	if err := m.encodeFields(enc); err != nil {
		return nil, fmt.Errorf("%w: %v", ERR_ENCODE, err)
	}
	if buf.Len() > serialbus.MAX_PAYLOAD {
		return nil, fmt.Errorf("%w: %T needs %d bytes", ERR_ENCODE, m, buf.Len())
	}

	return buf.Bytes(), nil
}

// fieldDecoder wraps a msgpack decoder and remembers the first failure so the
// variant decoders can read fields without checking every step.
type fieldDecoder struct {
	dec *msgpack.Decoder
	err error
}

func (f *fieldDecoder) uint(max uint64) uint64 {
	if f.err != nil {
		return 0
	}
	v, err := f.dec.DecodeUint64()
	if err == nil && v > max {
		err = fmt.Errorf("value %d out of range", v)
	}
	f.err = err
	return v
}

func (f *fieldDecoder) int32() int32 {
	if f.err != nil {
		return 0
	}
	v, err := f.dec.DecodeInt64()
	if err == nil && (v < -1<<31 || v > 1<<31-1) {
		err = fmt.Errorf("value %d out of range", v)
	}
	f.err = err
	return int32(v)
}

func (f *fieldDecoder) bool() bool {
	if f.err != nil {
		return false
	}
	v, err := f.dec.DecodeBool()
	f.err = err
	return v
}

func (f *fieldDecoder) bytes() []byte {
	if f.err != nil {
		return nil
	}
	v, err := f.dec.DecodeBytes()
	f.err = err
	return v
}

func (f *fieldDecoder) fixed(dst []byte) {
	b := f.bytes()
	if f.err == nil && len(b) != len(dst) {
		f.err = fmt.Errorf("expected %d bytes, got %d", len(dst), len(b))
	}
	copy(dst, b)
}

func newFieldDecoder(payload []byte) (f *fieldDecoder, tag uint8, err error) {
	f = &fieldDecoder{dec: msgpack.NewDecoder(bytes.NewReader(payload))}
	t := f.uint(0xFF)
	if f.err != nil {
		return nil, 0, fmt.Errorf("%w: missing tag: %v", ERR_DECODE, f.err)
	}
	return f, uint8(t), nil
}

func (f *fieldDecoder) finish(m Message) error {
	if f.err != nil {
		return fmt.Errorf("%w: %T: %v", ERR_DECODE, m, f.err)
	}
	return nil
}

// UnmarshalCommand decodes a payload produced by Marshal for a Command.
func UnmarshalCommand(payload []byte) (Command, error) {
	f, tag, err := newFieldDecoder(payload)
	if err != nil {
		return nil, err
	}

	var c Command
	switch tag {
	case CMD_WHO_ARE_YOU:
		c = WhoAreYou{}
	case CMD_MOVE_MOTOR:
		c = MoveMotor{X: f.int32()}
	case CMD_RESET_MOTOR:
		c = ResetMotor{}
	case CMD_STATE:
		c = GetState{}
	case CMD_POLL:
		c = Poll{}
	case CMD_WATER:
		c = Water{DurationMs: uint32(f.uint(1<<32 - 1))}
	case CMD_LIGHTS:
		c = Lights{DurationMs: uint32(f.uint(1<<32 - 1))}
	case CMD_PUMP:
		c = Pump{DurationMs: uint32(f.uint(1<<32 - 1))}
	case CMD_PLOW:
		c = Plow{WaitMs: uint32(f.uint(1<<32 - 1))}
	case CMD_SET_LED:
		c = SetLed{Led: uint8(f.uint(0xFF))}
	default:
		return nil, &UnknownVariantError{Tag: tag}
	}

	if err := f.finish(c); err != nil {
		return nil, err
	}
	return c, nil
}

// UnmarshalResponse decodes a payload produced by Marshal for a Response.
func UnmarshalResponse(payload []byte) (Response, error) {
	f, tag, err := newFieldDecoder(payload)
	if err != nil {
		return nil, err
	}

	var r Response
	switch tag {
	case RESP_IAM:
		var iam Iam
		f.fixed(iam.Name[:])
		iam.Version.Major = uint8(f.uint(0xFF))
		iam.Version.Minor = uint8(f.uint(0xFF))
		iam.Version.Patch = uint8(f.uint(0xFF))
		r = iam
	case RESP_WAIT:
		r = Wait{Ms: uint32(f.uint(1<<32 - 1))}
	case RESP_DEBUG:
		var d Debug
		f.fixed(d.Data[:])
		r = d
	case RESP_STATE:
		var s State
		s.Busy = f.bool()
		s.Homed = f.bool()
		s.EndStop = f.bool()
		s.Water = f.bool()
		s.Lights = f.bool()
		s.Pump = f.bool()
		s.Led = f.bool()
		s.Position = f.int32()
		r = s
	case RESP_DONE:
		r = Done{}
	case RESP_UNSUPPORTED:
		r = Unsupported{}
	case RESP_ERROR:
		r = ErrorReply{Payload: f.bytes()}
	default:
		return nil, &UnknownVariantError{Tag: tag}
	}

	if err := f.finish(r); err != nil {
		return nil, err
	}
	return r, nil
}

// Package serialbus carries framed messages over point to point byte links.
//
// A frame on the wire is
//
//	FRAME_MARKER | cobs(crc16 | id | payload) | FRAME_MARKER
//
// where crc16 is big endian and covers id and payload. Stuffing guarantees the
// marker never appears inside a frame, so a decoder that loses its place only
// has to wait for the next marker to resynchronise.
package serialbus

import (
	"errors"
	"fmt"
)

const (
	FRAME_MARKER = 0x00
	MAX_PAYLOAD  = 50

	// crc16 + id
	headerSize = 3
	maxInner   = headerSize + MAX_PAYLOAD
	// one cobs code byte per 254 bytes, plus a trailing code
	maxEncoded = maxInner + 2
)

// ERR_OVERSIZED is returned by Encode when the payload does not fit a frame.
var ERR_OVERSIZED = errors.New("payload exceeds frame capacity")

// FrameErrorKind classifies a malformed incoming frame.
type FrameErrorKind int

const (
	FrameErrorChecksum FrameErrorKind = iota
	FrameErrorOversized
	FrameErrorMissingTerminator
	FrameErrorStuffing
	FrameErrorTruncated
)

func (k FrameErrorKind) String() string {
	switch k {
	case FrameErrorChecksum:
		return "checksum mismatch"
	case FrameErrorOversized:
		return "oversized frame"
	case FrameErrorMissingTerminator:
		return "missing terminator"
	case FrameErrorStuffing:
		return "stuffing violation"
	case FrameErrorTruncated:
		return "truncated frame"
	default:
		return "unknown frame error"
	}
}

// FrameError is reported by Decoder.Feed when a frame is dropped.
type FrameError struct {
	Kind FrameErrorKind
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame dropped: %s", e.Kind)
}

// IsFrameError reports whether err is a decoder error of the given kind.
func IsFrameError(err error, kind FrameErrorKind) bool {
	var fe *FrameError
	return errors.As(err, &fe) && fe.Kind == kind
}

// Encode builds the wire form of a single frame.
func Encode(id uint8, payload []byte) (frame []byte, err error) {
	if len(payload) > MAX_PAYLOAD {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ERR_OVERSIZED, len(payload), MAX_PAYLOAD)
	}

	var scratch [maxInner]byte
	inner := append(scratch[:2], id)
	inner = append(inner, payload...)
	crc := CRC16(inner[2:])
	inner[0] = uint8(crc >> 8)
	inner[1] = uint8(crc & 0xFF)

	frame = make([]byte, 0, maxEncoded+2)
	frame = append(frame, FRAME_MARKER)
	frame = cobsEncode(frame, inner)
	frame = append(frame, FRAME_MARKER)
	return frame, nil
}

// ParseState is the outcome of feeding one byte to a Decoder.
type ParseState int

const (
	// Continue means more bytes are needed.
	Continue ParseState = iota
	// DataReady means a validated frame is available through ID and Payload
	// until the next call to Feed.
	DataReady
)

// Decoder reassembles frames one byte at a time. It is not safe for
// concurrent use; every link direction owns exactly one.
type Decoder struct {
	raw      [maxEncoded]byte
	n        int
	frame    [maxEncoded]byte
	hunting  bool
	reported bool

	id      uint8
	payload []byte
}

func NewDecoder() *Decoder {
	return &Decoder{hunting: true}
}

// Feed consumes b. Any error means the frame in progress was discarded and the
// decoder is waiting for the next marker.
func (d *Decoder) Feed(b byte) (ParseState, error) {
	if d.hunting {
		if b == FRAME_MARKER {
			d.hunting = false
			d.reported = false
			d.n = 0
			return Continue, nil
		}
		if !d.reported {
			d.reported = true
			return Continue, &FrameError{Kind: FrameErrorMissingTerminator}
		}
		return Continue, nil
	}

	if b != FRAME_MARKER {
		if d.n == len(d.raw) {
			d.resync()
			return Continue, &FrameError{Kind: FrameErrorOversized}
		}
		d.raw[d.n] = b
		d.n++
		return Continue, nil
	}

	// back to back markers: end of one frame and start of the next
	if d.n == 0 {
		return Continue, nil
	}

	raw := d.raw[:d.n]
	d.n = 0

	inner, err := cobsDecode(d.frame[:0], raw)
	if err != nil {
		return Continue, err
	}
	if len(inner) < headerSize {
		return Continue, &FrameError{Kind: FrameErrorTruncated}
	}
	if len(inner)-headerSize > MAX_PAYLOAD {
		return Continue, &FrameError{Kind: FrameErrorOversized}
	}

	want := uint16(inner[0])<<8 | uint16(inner[1])
	if CRC16(inner[2:]) != want {
		return Continue, &FrameError{Kind: FrameErrorChecksum}
	}

	d.id = inner[2]
	d.payload = inner[headerSize:]
	return DataReady, nil
}

// ID of the last ready frame.
func (d *Decoder) ID() uint8 {
	return d.id
}

// Payload of the last ready frame. The slice is reused by the next Feed.
func (d *Decoder) Payload() []byte {
	return d.payload
}

func (d *Decoder) resync() {
	d.hunting = true
	d.reported = true
	d.n = 0
}

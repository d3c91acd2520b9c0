package serialbus

import "context"

// Transport moves single bytes over a link. ReadByte blocks until a byte
// arrives and only fails when ctx is done; link level faults are retried by
// the implementation. WriteByte blocks until the link accepts the byte.
type Transport interface {
	ReadByte(ctx context.Context) (byte, error)
	WriteByte(ctx context.Context, b byte) error
}

package serialbus

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
)

const DEFAULT_PIPE_CAPACITY = 1024

// PipeOption configures the faults injected by a pipe.
type PipeOption func(*faults)

// WithErrorRate replaces each written byte with a random one with probability p.
func WithErrorRate(p float64) PipeOption {
	return func(f *faults) {
		f.errorRate = p
	}
}

// WithOmissionRate drops each written byte with probability p.
func WithOmissionRate(p float64) PipeOption {
	return func(f *faults) {
		f.omissionRate = p
	}
}

// WithDropEvery drops every nth written byte.
func WithDropEvery(n int) PipeOption {
	return func(f *faults) {
		f.dropEvery = n
	}
}

// WithSeed makes the random faults reproducible.
func WithSeed(seed int64) PipeOption {
	return func(f *faults) {
		f.seed = seed
	}
}

type faults struct {
	errorRate    float64
	omissionRate float64
	dropEvery    int
	seed         int64
}

// PipeEnd is one side of an in memory link. Bytes written to one end are read
// from the other, subject to the configured faults.
type PipeEnd struct {
	rx <-chan byte
	tx chan<- byte

	faults
	lock sync.Mutex
	rnd  *rand.Rand
	seq  int

	written   uint64
	dropped   uint64
	corrupted uint64
}

// NewPipe creates a connected pair of transports. Faults apply to both
// directions; each end draws from its own random source.
func NewPipe(capacity int, opts ...PipeOption) (a, b *PipeEnd) {
	if capacity <= 0 {
		capacity = DEFAULT_PIPE_CAPACITY
	}

	var f faults
	for _, opt := range opts {
		opt(&f)
	}

	ab := make(chan byte, capacity)
	ba := make(chan byte, capacity)

	a = &PipeEnd{rx: ba, tx: ab, faults: f, rnd: rand.New(rand.NewSource(f.seed))}
	b = &PipeEnd{rx: ab, tx: ba, faults: f, rnd: rand.New(rand.NewSource(f.seed + 1))}
	return
}

func (p *PipeEnd) ReadByte(ctx context.Context) (byte, error) {
	select {
	case b := <-p.rx:
		return b, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (p *PipeEnd) WriteByte(ctx context.Context, b byte) error {
	atomic.AddUint64(&p.written, 1)

	b, keep := p.inject(b)
	if !keep {
		atomic.AddUint64(&p.dropped, 1)
		return nil
	}

	select {
	case p.tx <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PipeEnd) inject(b byte) (byte, bool) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.seq++
	if p.dropEvery > 0 && p.seq%p.dropEvery == 0 {
		return b, false
	}
	if p.omissionRate > 0 && p.rnd.Float64() < p.omissionRate {
		return b, false
	}
	if p.errorRate > 0 && p.rnd.Float64() < p.errorRate {
		atomic.AddUint64(&p.corrupted, 1)
		return b ^ byte(1+p.rnd.Intn(255)), true
	}
	return b, true
}

// Written counts bytes handed to WriteByte, including dropped ones.
func (p *PipeEnd) Written() uint64 {
	return atomic.LoadUint64(&p.written)
}

func (p *PipeEnd) Dropped() uint64 {
	return atomic.LoadUint64(&p.dropped)
}

func (p *PipeEnd) Corrupted() uint64 {
	return atomic.LoadUint64(&p.corrupted)
}

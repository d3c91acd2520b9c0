package serialbus

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"
	"go.uber.org/zap"
)

// Link parameters are fixed for every node: 115200 baud, 8N1, no flow control.
const (
	BAUD_RATE        = 115200
	READ_TIMEOUT     = 100 * time.Millisecond
	rxBufferSize     = 512
	readErrorBackoff = 10 * time.Millisecond
)

type PortConfig struct {
	// Device path, e.g. /dev/ttyUSB0
	Device string
}

// Port is a Transport on a host serial device. A background reader drains the
// device into a ring channel so ReadByte can honour contexts.
type Port struct {
	port *serial.Port
	name string
	log  *zap.Logger

	rx   chan byte
	wmu  sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func OpenPort(cfg PortConfig, log *zap.Logger) (p *Port, err error) {
	sp, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        BAUD_RATE,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: READ_TIMEOUT,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to open serial port %s: %w", cfg.Device, err)
	}

	p = &Port{
		port: sp,
		name: cfg.Device,
		log:  log.With(zap.String("port", cfg.Device)),
		rx:   make(chan byte, rxBufferSize),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go p.readLoop()

	return p, nil
}

func (p *Port) Name() string {
	return p.name
}

func (p *Port) readLoop() {
	defer close(p.done)

	buf := make([]byte, 64)
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		n, err := p.port.Read(buf)
		if err != nil && err != io.EOF {
			p.log.Debug("serial read failed", zap.Error(err))
			time.Sleep(readErrorBackoff)
			continue
		}

		for _, b := range buf[:n] {
			select {
			case p.rx <- b:
			case <-p.stop:
				return
			}
		}
	}
}

func (p *Port) ReadByte(ctx context.Context) (byte, error) {
	select {
	case b := <-p.rx:
		return b, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// WriteByte writes b straight to the device, retrying short or failed writes
// until the byte is accepted or ctx is done.
func (p *Port) WriteByte(ctx context.Context, b byte) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()

	for {
		n, err := p.port.Write([]byte{b})
		if err == nil && n == 1 {
			return nil
		}
		if err != nil {
			p.log.Debug("serial write failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readErrorBackoff):
		}
	}
}

func (p *Port) Close() error {
	close(p.stop)
	err := p.port.Close()
	<-p.done
	return err
}

package onboard

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/CodedInternet/gogarden/onboard/hardware"
	"github.com/CodedInternet/gogarden/onboard/serialbus"
)

var SIM_VERSION = hardware.Version{Major: 1, Minor: 0, Patch: 0}

// Event is one command a simulated node received.
type Event struct {
	At      time.Time
	Command hardware.Command
}

type recorder struct {
	lock   sync.Mutex
	events []Event
}

func (r *recorder) record(cmd hardware.Command) {
	r.lock.Lock()
	r.events = append(r.events, Event{At: time.Now(), Command: cmd})
	r.lock.Unlock()
}

// Events returns every command received so far, oldest first.
func (r *recorder) Events() []Event {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]Event(nil), r.events...)
}

// SimulatedMotor is an axis node that travels at a fixed speed.
type SimulatedMotor struct {
	hardware.UnsupportedHandler
	recorder

	stepsPerSecond float64

	lock    sync.Mutex
	from    int32
	target  int32
	started time.Time
	homed   bool
}

func NewSimulatedMotor(stepsPerSecond float64) *SimulatedMotor {
	return &SimulatedMotor{stepsPerSecond: stepsPerSecond}
}

// position and remaining must be called with the lock held.
func (m *SimulatedMotor) position() int32 {
	travel := float64(m.target - m.from)
	if travel == 0 {
		return m.target
	}
	done := time.Since(m.started).Seconds() * m.stepsPerSecond
	if done >= abs(travel) {
		return m.target
	}
	if travel < 0 {
		done = -done
	}
	return m.from + int32(done)
}

func (m *SimulatedMotor) remaining() time.Duration {
	left := abs(float64(m.target - m.position()))
	return time.Duration(left / m.stepsPerSecond * float64(time.Second))
}

func (m *SimulatedMotor) MoveMotor(_ context.Context, x int32) hardware.Response {
	m.record(hardware.MoveMotor{X: x})
	m.lock.Lock()
	defer m.lock.Unlock()

	m.from = m.position()
	m.target = x
	m.started = time.Now()
	return m.progress()
}

func (m *SimulatedMotor) Poll(context.Context) hardware.Response {
	m.record(hardware.Poll{})
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.progress()
}

func (m *SimulatedMotor) progress() hardware.Response {
	left := m.remaining()
	if left <= 0 {
		return hardware.Done{}
	}
	return hardware.Wait{Ms: waitMs(left)}
}

func (m *SimulatedMotor) ResetMotor(context.Context) hardware.Response {
	m.record(hardware.ResetMotor{})
	m.lock.Lock()
	defer m.lock.Unlock()

	m.from, m.target = 0, 0
	m.homed = true
	return hardware.Done{}
}

func (m *SimulatedMotor) State(context.Context) hardware.Response {
	m.record(hardware.GetState{})
	m.lock.Lock()
	defer m.lock.Unlock()

	pos := m.position()
	return hardware.State{
		Busy:     pos != m.target,
		Homed:    m.homed,
		EndStop:  m.homed && pos == 0,
		Position: pos,
	}
}

// SimulatedPeripheral is the tool head node. Outputs switch off on their own
// once their duration runs out.
type SimulatedPeripheral struct {
	hardware.UnsupportedHandler
	recorder

	lock        sync.Mutex
	waterUntil  time.Time
	lightsUntil time.Time
	pumpUntil   time.Time
	plowUntil   time.Time
	led         uint8
}

func NewSimulatedPeripheral() *SimulatedPeripheral {
	return new(SimulatedPeripheral)
}

func until(ms uint32) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.Now().Add(time.Duration(ms) * time.Millisecond)
}

func (p *SimulatedPeripheral) Water(_ context.Context, ms uint32) hardware.Response {
	p.record(hardware.Water{DurationMs: ms})
	p.lock.Lock()
	p.waterUntil = until(ms)
	p.lock.Unlock()
	return hardware.Done{}
}

func (p *SimulatedPeripheral) Lights(_ context.Context, ms uint32) hardware.Response {
	p.record(hardware.Lights{DurationMs: ms})
	p.lock.Lock()
	p.lightsUntil = until(ms)
	p.lock.Unlock()
	return hardware.Done{}
}

func (p *SimulatedPeripheral) Pump(_ context.Context, ms uint32) hardware.Response {
	p.record(hardware.Pump{DurationMs: ms})
	p.lock.Lock()
	p.pumpUntil = until(ms)
	p.lock.Unlock()
	return hardware.Done{}
}

func (p *SimulatedPeripheral) Plow(_ context.Context, waitMs uint32) hardware.Response {
	p.record(hardware.Plow{WaitMs: waitMs})
	p.lock.Lock()
	defer p.lock.Unlock()

	p.plowUntil = until(waitMs)
	return p.plowProgress()
}

func (p *SimulatedPeripheral) Poll(context.Context) hardware.Response {
	p.record(hardware.Poll{})
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.plowProgress()
}

func (p *SimulatedPeripheral) plowProgress() hardware.Response {
	left := time.Until(p.plowUntil)
	if left <= 0 {
		return hardware.Done{}
	}
	return hardware.Wait{Ms: waitMs(left)}
}

func (p *SimulatedPeripheral) SetLed(_ context.Context, led uint8) hardware.Response {
	p.record(hardware.SetLed{Led: led})
	p.lock.Lock()
	p.led = led
	p.lock.Unlock()
	return hardware.Done{}
}

func (p *SimulatedPeripheral) State(context.Context) hardware.Response {
	p.record(hardware.GetState{})
	p.lock.Lock()
	defer p.lock.Unlock()

	now := time.Now()
	return hardware.State{
		Busy:   now.Before(p.plowUntil),
		Homed:  true,
		Water:  now.Before(p.waterUntil),
		Lights: now.Before(p.lightsUntil),
		Pump:   now.Before(p.pumpUntil),
		Led:    p.led != 0,
	}
}

// Simulator runs a full set of simulated nodes, each behind its own
// in-memory link.
type Simulator struct {
	Motors     map[string]*SimulatedMotor
	Peripheral *SimulatedPeripheral

	links []Link
	wg    sync.WaitGroup
}

// StartSimulator serves every simulated node until ctx is cancelled.
func StartSimulator(ctx context.Context, config SimulatorConfig, log *zap.Logger) *Simulator {
	sim := &Simulator{
		Motors:     make(map[string]*SimulatedMotor, len(AXES)),
		Peripheral: NewSimulatedPeripheral(),
	}

	seed := config.Seed
	serve := func(name string, handler hardware.Handler) {
		master, node := serialbus.NewPipe(serialbus.DEFAULT_PIPE_CAPACITY,
			serialbus.WithErrorRate(config.ErrorRate),
			serialbus.WithOmissionRate(config.OmissionRate),
			serialbus.WithSeed(seed),
		)
		seed += 2

		link := "sim:" + name
		sim.links = append(sim.links, Link{Name: link, Transport: master})

		nlog := log.Named(link)
		slave := hardware.NewSlave(hardware.NewComm(node, nlog), hardware.NameOf(name), SIM_VERSION, handler, nlog)

		sim.wg.Add(1)
		go func() {
			defer sim.wg.Done()
			if err := slave.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				nlog.Error("simulated node stopped", zap.Error(err))
			}
		}()
	}

	for _, name := range []string{NODE_AXIS_X, NODE_AXIS_Y, NODE_AXIS_Z} {
		motor := NewSimulatedMotor(config.StepsPerSecond)
		sim.Motors[name] = motor
		serve(name, motor)
	}
	serve(NODE_PERIPHERAL, sim.Peripheral)

	return sim
}

func (s *Simulator) Links() []Link {
	return append([]Link(nil), s.links...)
}

// Wait blocks until every simulated node has stopped.
func (s *Simulator) Wait() {
	s.wg.Wait()
}

func waitMs(d time.Duration) uint32 {
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return uint32(ms)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

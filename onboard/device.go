package onboard

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Masterminds/semver"
	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	gerrors "github.com/CodedInternet/gogarden/onboard/errors"
	"github.com/CodedInternet/gogarden/onboard/hardware"
	"github.com/CodedInternet/gogarden/onboard/serialbus"
)

const (
	AXIS_X     = "x"
	AXIS_Y     = "y"
	AXIS_Z     = "z"
	PERIPHERAL = "io"

	NODE_AXIS_X     = "axis_x"
	NODE_AXIS_Y     = "axis_y"
	NODE_AXIS_Z     = "axis_z"
	NODE_PERIPHERAL = "periph"
)

var (
	AXES = [3]string{AXIS_X, AXIS_Y, AXIS_Z}

	// NODE_ROLES maps the name a node reports through Iam to its role.
	NODE_ROLES = map[string]string{
		NODE_AXIS_X:     AXIS_X,
		NODE_AXIS_Y:     AXIS_Y,
		NODE_AXIS_Z:     AXIS_Z,
		NODE_PERIPHERAL: PERIPHERAL,
	}
)

// Motor is what an axis needs from its node.
type Motor interface {
	MoveTo(ctx context.Context, x int32) error
	Reset(ctx context.Context) error
	GetState(ctx context.Context) (hardware.State, error)
}

// Peripheral is what the tool head needs from its node.
type Peripheral interface {
	Water(ctx context.Context, d time.Duration) error
	Lights(ctx context.Context, d time.Duration) error
	Pump(ctx context.Context, d time.Duration) error
	Plow(ctx context.Context, wait time.Duration) error
	SetLed(ctx context.Context, led uint8) error
	GetState(ctx context.Context) (hardware.State, error)
}

// Link is one serial connection to a node.
type Link struct {
	Name      string
	Transport serialbus.Transport
}

// Node describes a discovered node.
type Node struct {
	Role    string `json:"role"`
	Link    string `json:"link"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

type RobotState struct {
	Position   mgl64.Vec3                `json:"position"`
	Led        uint8                     `json:"led"`
	Axes       map[string]hardware.State `json:"axes"`
	Peripheral hardware.State            `json:"peripheral"`
	Nodes      []Node                    `json:"nodes"`
	UpdatedAt  time.Time                 `json:"updated_at"`
}

// Gardenbot is the shared handle on the physical robot. It is safe for
// concurrent use; each node serialises its own calls.
type Gardenbot struct {
	mechanics Mechanics
	axes      map[string]Motor
	io        Peripheral
	nodes     []Node
	log       *zap.Logger

	lock       sync.Mutex
	position   mgl64.Vec3
	led        uint8
	axisStates map[string]hardware.State
	ioState    hardware.State
	updatedAt  time.Time
}

func NewGardenbot(mechanics Mechanics, axes map[string]Motor, io Peripheral, nodes []Node, log *zap.Logger) (*Gardenbot, error) {
	for _, name := range AXES {
		if axes[name] == nil {
			return nil, gerrors.AxisNameError{Name: name}
		}
	}
	if io == nil {
		return nil, fmt.Errorf("no peripheral node")
	}

	return &Gardenbot{
		mechanics:  mechanics,
		axes:       axes,
		io:         io,
		nodes:      nodes,
		log:        log,
		axisStates: make(map[string]hardware.State, len(AXES)),
	}, nil
}

// Discover identifies the node on every link and builds a Gardenbot from
// them. Every role must be answered by exactly one node whose version
// satisfies config.NodeVersion.
func Discover(ctx context.Context, config GardenConfig, links []Link, log *zap.Logger) (*Gardenbot, error) {
	constraint, err := semver.NewConstraint(config.NodeVersion)
	if err != nil {
		return nil, err
	}

	var lock sync.Mutex
	masters := make(map[string]*hardware.Master)
	var nodes []Node

	g, gctx := errgroup.WithContext(ctx)
	for _, link := range links {
		g.Go(func() error {
			mlog := log.Named(link.Name)
			m := hardware.NewMaster(hardware.NewComm(link.Transport, mlog), config.Master.Hardware(), mlog)

			iam, err := m.WhoAreYou(gctx)
			if err != nil {
				return fmt.Errorf("discover %s: %w", link.Name, err)
			}

			name := iam.Name.String()
			role, ok := NODE_ROLES[name]
			if !ok {
				return gerrors.NodeIdentityError{Link: link.Name, Name: name, Reason: "unknown node name"}
			}

			version, err := semver.NewVersion(iam.Version.String())
			if err != nil || !constraint.Check(version) {
				return gerrors.NodeIdentityError{
					Link:   link.Name,
					Name:   name,
					Reason: fmt.Sprintf("version %s does not satisfy %s", iam.Version, config.NodeVersion),
				}
			}

			lock.Lock()
			defer lock.Unlock()
			if _, dup := masters[role]; dup {
				return gerrors.NodeIdentityError{Link: link.Name, Name: name, Reason: "duplicate node"}
			}
			masters[role] = m
			nodes = append(nodes, Node{Role: role, Link: link.Name, Name: name, Version: iam.Version.String()})

			log.Info("discovered node",
				zap.String("link", link.Name),
				zap.String("name", name),
				zap.Stringer("version", iam.Version),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Link < nodes[j].Link })

	axes := make(map[string]Motor, len(AXES))
	for _, name := range AXES {
		m, ok := masters[name]
		if !ok {
			return nil, fmt.Errorf("no node answered as axis %s", name)
		}
		axes[name] = m
	}
	io, ok := masters[PERIPHERAL]
	if !ok {
		return nil, fmt.Errorf("no node answered as %s", NODE_PERIPHERAL)
	}

	return NewGardenbot(config.Mechanics, axes, io, nodes, log)
}

// MoveTo moves all axes in parallel to pos, clamped to the workspace.
func (b *Gardenbot) MoveTo(ctx context.Context, pos mgl64.Vec3) error {
	target := b.mechanics.Clamp(pos)
	if target != pos {
		b.log.Warn("move clamped to workspace", zap.Any("requested", pos), zap.Any("target", target))
	}
	steps := b.mechanics.Steps(target)

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range AXES {
		g.Go(func() error {
			if err := b.axes[name].MoveTo(gctx, steps[i]); err != nil {
				return fmt.Errorf("axis %s: %w", name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	b.lock.Lock()
	b.position = target
	b.lock.Unlock()
	return nil
}

func (b *Gardenbot) Home(ctx context.Context) error {
	return b.MoveTo(ctx, mgl64.Vec3{})
}

// Retract lifts the tool to the safe height without moving X or Y.
func (b *Gardenbot) Retract(ctx context.Context) error {
	z := b.mechanics.Steps(mgl64.Vec3{0, 0, b.mechanics.SafeHeight})[2]
	if err := b.axes[AXIS_Z].MoveTo(ctx, z); err != nil {
		return fmt.Errorf("axis %s: %w", AXIS_Z, err)
	}

	b.lock.Lock()
	b.position[2] = b.mechanics.SafeHeight
	b.lock.Unlock()
	return nil
}

// Reset resets every motor in parallel; the motors treat their current
// position as zero afterwards.
func (b *Gardenbot) Reset(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range AXES {
		g.Go(func() error {
			if err := b.axes[name].Reset(gctx); err != nil {
				return fmt.Errorf("axis %s: %w", name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	b.lock.Lock()
	b.position = mgl64.Vec3{}
	b.lock.Unlock()
	return nil
}

func (b *Gardenbot) Water(ctx context.Context, d time.Duration) error {
	return b.io.Water(ctx, d)
}

func (b *Gardenbot) Lights(ctx context.Context, d time.Duration) error {
	return b.io.Lights(ctx, d)
}

func (b *Gardenbot) Pump(ctx context.Context, d time.Duration) error {
	return b.io.Pump(ctx, d)
}

func (b *Gardenbot) Plow(ctx context.Context, wait time.Duration) error {
	return b.io.Plow(ctx, wait)
}

func (b *Gardenbot) SetLed(ctx context.Context, led uint8) error {
	if err := b.io.SetLed(ctx, led); err != nil {
		return err
	}

	b.lock.Lock()
	b.led = led
	b.lock.Unlock()
	return nil
}

// ToggleLed switches the status LED between off and on.
func (b *Gardenbot) ToggleLed(ctx context.Context) (led uint8, err error) {
	b.lock.Lock()
	if b.led == 0 {
		led = 1
	}
	b.lock.Unlock()

	err = b.SetLed(ctx, led)
	return
}

// Emergency switches every peripheral off and resets the motors. It carries
// on past failures and returns the first one.
func (b *Gardenbot) Emergency(ctx context.Context) error {
	var first error
	keep := func(err error) {
		if err != nil {
			b.log.Error("emergency step failed", zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}

	keep(b.io.Water(ctx, 0))
	keep(b.io.Lights(ctx, 0))
	keep(b.io.Pump(ctx, 0))
	keep(b.Reset(ctx))
	return first
}

// Refresh queries every node for its state.
func (b *Gardenbot) Refresh(ctx context.Context) error {
	var lock sync.Mutex
	axisStates := make(map[string]hardware.State, len(AXES))
	var ioState hardware.State

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range AXES {
		g.Go(func() error {
			s, err := b.axes[name].GetState(gctx)
			if err != nil {
				return fmt.Errorf("axis %s: %w", name, err)
			}
			lock.Lock()
			axisStates[name] = s
			lock.Unlock()
			return nil
		})
	}
	g.Go(func() (err error) {
		ioState, err = b.io.GetState(gctx)
		return
	})
	if err := g.Wait(); err != nil {
		return err
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	b.axisStates = axisStates
	b.ioState = ioState
	b.updatedAt = time.Now().UTC()
	return nil
}

// State returns the last known robot state without talking to the nodes.
func (b *Gardenbot) State() RobotState {
	b.lock.Lock()
	defer b.lock.Unlock()

	axes := make(map[string]hardware.State, len(b.axisStates))
	for k, v := range b.axisStates {
		axes[k] = v
	}
	return RobotState{
		Position:   b.position,
		Led:        b.led,
		Axes:       axes,
		Peripheral: b.ioState,
		Nodes:      b.Nodes(),
		UpdatedAt:  b.updatedAt,
	}
}

func (b *Gardenbot) Nodes() []Node {
	return append([]Node(nil), b.nodes...)
}

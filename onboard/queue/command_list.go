package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	gerrors "github.com/CodedInternet/gogarden/onboard/errors"
)

const COMMAND_LIST_TYPE = "command_list"

const (
	INSTR_MOVE            = "move"
	INSTR_RESET           = "reset"
	INSTR_HOME            = "home"
	INSTR_RETRACT         = "retract"
	INSTR_WAIT            = "wait"
	INSTR_WATER_COOLDOWN  = "water_cooldown"
	INSTR_WATER_WAIT      = "water_wait"
	INSTR_LIGHTS_COOLDOWN = "lights_cooldown"
	INSTR_LIGHTS_WAIT     = "lights_wait"
	INSTR_PUMP_COOLDOWN   = "pump_cooldown"
	INSTR_PUMP_WAIT       = "pump_wait"
	INSTR_PLOW            = "plow"
	INSTR_LED             = "led"
)

// Instruction is one primitive robot command of a command list.
type Instruction struct {
	Kind       string      `json:"kind"`
	Position   *mgl64.Vec3 `json:"position,omitempty"`
	DurationMs uint32      `json:"duration_ms,omitempty"`
	Led        uint8       `json:"led,omitempty"`
}

func Move(pos mgl64.Vec3) Instruction {
	return Instruction{Kind: INSTR_MOVE, Position: &pos}
}

func ResetAxes() Instruction { return Instruction{Kind: INSTR_RESET} }
func Home() Instruction      { return Instruction{Kind: INSTR_HOME} }
func Retract() Instruction   { return Instruction{Kind: INSTR_RETRACT} }

func Wait(d time.Duration) Instruction           { return timed(INSTR_WAIT, d) }
func WaterCooldown(d time.Duration) Instruction  { return timed(INSTR_WATER_COOLDOWN, d) }
func WaterWait(d time.Duration) Instruction      { return timed(INSTR_WATER_WAIT, d) }
func LightsCooldown(d time.Duration) Instruction { return timed(INSTR_LIGHTS_COOLDOWN, d) }
func LightsWait(d time.Duration) Instruction     { return timed(INSTR_LIGHTS_WAIT, d) }
func PumpCooldown(d time.Duration) Instruction   { return timed(INSTR_PUMP_COOLDOWN, d) }
func PumpWait(d time.Duration) Instruction       { return timed(INSTR_PUMP_WAIT, d) }
func Plow(wait time.Duration) Instruction        { return timed(INSTR_PLOW, wait) }

func Led(led uint8) Instruction {
	return Instruction{Kind: INSTR_LED, Led: led}
}

// timed clamps d to what DurationMs can hold; negative durations become 0.
func timed(kind string, d time.Duration) Instruction {
	ms := d.Milliseconds()
	switch {
	case ms < 0:
		ms = 0
	case ms > math.MaxUint32:
		ms = math.MaxUint32
	}
	return Instruction{Kind: kind, DurationMs: uint32(ms)}
}

func (in Instruction) Duration() time.Duration {
	return time.Duration(in.DurationMs) * time.Millisecond
}

func (in Instruction) validate(index int) error {
	switch in.Kind {
	case INSTR_MOVE:
		if in.Position == nil {
			return gerrors.InstructionError{Index: index, Kind: in.Kind, Reason: "missing position"}
		}
	case INSTR_WAIT, INSTR_WATER_COOLDOWN, INSTR_WATER_WAIT, INSTR_LIGHTS_COOLDOWN,
		INSTR_LIGHTS_WAIT, INSTR_PUMP_COOLDOWN, INSTR_PUMP_WAIT:
		if in.DurationMs == 0 {
			return gerrors.InstructionError{Index: index, Kind: in.Kind, Reason: "missing duration"}
		}
	case INSTR_RESET, INSTR_HOME, INSTR_RETRACT, INSTR_PLOW, INSTR_LED:
	default:
		return gerrors.InstructionError{Index: index, Kind: in.Kind, Reason: "unknown instruction"}
	}
	return nil
}

// Execute performs the instruction. Cooldown variants only start the device
// and leave the node to switch it off; wait variants start it, sleep for the
// duration and then stop it explicitly.
func (in Instruction) Execute(ctx context.Context, robot Robot) error {
	d := in.Duration()
	switch in.Kind {
	case INSTR_MOVE:
		return robot.MoveTo(ctx, *in.Position)
	case INSTR_RESET:
		return robot.Reset(ctx)
	case INSTR_HOME:
		return robot.Home(ctx)
	case INSTR_RETRACT:
		return robot.Retract(ctx)
	case INSTR_WAIT:
		return sleep(ctx, d)
	case INSTR_WATER_COOLDOWN:
		return robot.Water(ctx, d)
	case INSTR_WATER_WAIT:
		return runFor(ctx, d, robot.Water)
	case INSTR_LIGHTS_COOLDOWN:
		return robot.Lights(ctx, d)
	case INSTR_LIGHTS_WAIT:
		return runFor(ctx, d, robot.Lights)
	case INSTR_PUMP_COOLDOWN:
		return robot.Pump(ctx, d)
	case INSTR_PUMP_WAIT:
		return runFor(ctx, d, robot.Pump)
	case INSTR_PLOW:
		return robot.Plow(ctx, d)
	case INSTR_LED:
		return robot.SetLed(ctx, in.Led)
	}
	return fmt.Errorf("unknown instruction %q", in.Kind)
}

func runFor(ctx context.Context, d time.Duration, device func(context.Context, time.Duration) error) error {
	if err := device(ctx, d); err != nil {
		return err
	}
	if err := sleep(ctx, d); err != nil {
		return err
	}
	return device(ctx, 0)
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CommandListAction runs its instructions in order, one per step. Done is the
// number of instructions completed so far.
type CommandListAction struct {
	id       ActionID
	Commands []Instruction `json:"commands"`
	Done     int           `json:"done"`
}

func NewCommandListAction(commands []Instruction) (*CommandListAction, error) {
	a := &CommandListAction{Commands: commands}
	if err := a.validate(); err != nil {
		return nil, err
	}
	a.id = NextActionID()
	return a, nil
}

// ParseCommandList builds a new action from either a JSON list of
// instructions or an object with a "commands" list.
func ParseCommandList(data []byte) (*CommandListAction, error) {
	var commands []Instruction
	if err := json.Unmarshal(data, &commands); err != nil {
		var doc struct {
			Commands []Instruction `json:"commands"`
		}
		if derr := json.Unmarshal(data, &doc); derr != nil {
			return nil, err
		}
		commands = doc.Commands
	}
	return NewCommandListAction(commands)
}

func loadCommandList(id ActionID, data []byte) (Action, error) {
	a := &CommandListAction{id: id}
	if err := json.Unmarshal(data, a); err != nil {
		return nil, err
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *CommandListAction) validate() error {
	if len(a.Commands) == 0 {
		return fmt.Errorf("command list is empty")
	}
	if a.Done < 0 || a.Done > len(a.Commands) {
		return fmt.Errorf("cursor %d outside %d commands", a.Done, len(a.Commands))
	}
	for i, in := range a.Commands {
		if err := in.validate(i); err != nil {
			return err
		}
	}
	return nil
}

func (a *CommandListAction) ID() ActionID     { return a.id }
func (a *CommandListAction) TypeName() string { return COMMAND_LIST_TYPE }

// Step executes the instruction at the cursor and advances it on success.
func (a *CommandListAction) Step(ctx context.Context, robot Robot) StepResult {
	if a.Done >= len(a.Commands) {
		return Finished()
	}

	if err := a.Commands[a.Done].Execute(ctx, robot); err != nil {
		return RunningError(fmt.Errorf("%s: %w", a.Commands[a.Done].Kind, err))
	}
	a.Done++

	if a.Done == len(a.Commands) {
		return Finished()
	}
	return Running(ProgressRatio(a.Done, len(a.Commands)))
}

package onboard

import (
	"fmt"
	"os"
	"time"

	"github.com/Masterminds/semver"
	"github.com/go-gl/mathgl/mgl64"
	"gopkg.in/yaml.v2"

	"github.com/CodedInternet/gogarden/onboard/hardware"
)

const (
	CONFIG_VERSION = 1
	NODE_VERSION   = "~1.0.0"
)

type GardenConfig struct {
	Version     int             `yaml:"version"`
	DataDir     string          `yaml:"data_dir"`
	NodeVersion string          `yaml:"node_version"`
	Master      MasterConfig    `yaml:"master"`
	Nodes       []string        `yaml:"nodes"`
	Mechanics   Mechanics       `yaml:"mechanics"`
	Simulator   SimulatorConfig `yaml:"simulator"`
}

type MasterConfig struct {
	Resend  int           `yaml:"resend"`
	Timeout time.Duration `yaml:"timeout"`
}

func (c MasterConfig) Hardware() hardware.MasterConfig {
	return hardware.MasterConfig{ResendTimes: c.Resend, Timeout: c.Timeout}
}

// Mechanics describes the gantry: how many motor steps make a millimetre on
// each axis, the reachable workspace in millimetres and the Z height that
// clears the bed.
type Mechanics struct {
	StepsPerMM mgl64.Vec3
	Min        mgl64.Vec3
	Max        mgl64.Vec3
	SafeHeight float64
}

type YAMLMechanics struct {
	StepsPerMM []float64 `yaml:"steps_per_mm,flow"`
	Min        []float64 `yaml:"min,flow"`
	Max        []float64 `yaml:"max,flow"`
	SafeHeight float64   `yaml:"safe_height"`
}

func (m Mechanics) MarshalYAML() (interface{}, error) {
	return &YAMLMechanics{
		[]float64{m.StepsPerMM.X(), m.StepsPerMM.Y(), m.StepsPerMM.Z()},
		[]float64{m.Min.X(), m.Min.Y(), m.Min.Z()},
		[]float64{m.Max.X(), m.Max.Y(), m.Max.Z()},
		m.SafeHeight,
	}, nil
}

func (m *Mechanics) UnmarshalYAML(unmarshal func(interface{}) error) error {
	ym := YAMLMechanics{
		StepsPerMM: m.StepsPerMM[:],
		Min:        m.Min[:],
		Max:        m.Max[:],
		SafeHeight: m.SafeHeight,
	}
	if err := unmarshal(&ym); err != nil {
		return err
	}

	for name, v := range map[string][]float64{"steps_per_mm": ym.StepsPerMM, "min": ym.Min, "max": ym.Max} {
		if len(v) != 3 {
			return fmt.Errorf("mechanics.%s needs 3 values, got %d", name, len(v))
		}
	}

	m.StepsPerMM = mgl64.Vec3{ym.StepsPerMM[0], ym.StepsPerMM[1], ym.StepsPerMM[2]}
	m.Min = mgl64.Vec3{ym.Min[0], ym.Min[1], ym.Min[2]}
	m.Max = mgl64.Vec3{ym.Max[0], ym.Max[1], ym.Max[2]}
	m.SafeHeight = ym.SafeHeight
	return nil
}

// Clamp limits pos to the workspace.
func (m Mechanics) Clamp(pos mgl64.Vec3) mgl64.Vec3 {
	for i := range pos {
		pos[i] = mgl64.Clamp(pos[i], m.Min[i], m.Max[i])
	}
	return pos
}

// Steps converts a millimetre position on every axis into motor steps.
func (m Mechanics) Steps(pos mgl64.Vec3) [3]int32 {
	var steps [3]int32
	for i := range pos {
		steps[i] = int32(mgl64.Round(pos[i]*m.StepsPerMM[i], 0))
	}
	return steps
}

type SimulatorConfig struct {
	// StepsPerSecond is how fast a simulated motor travels.
	StepsPerSecond float64 `yaml:"steps_per_second"`
	ErrorRate      float64 `yaml:"error_rate"`
	OmissionRate   float64 `yaml:"omission_rate"`
	Seed           int64   `yaml:"seed"`
}

func DefaultConfig() GardenConfig {
	return GardenConfig{
		Version:     CONFIG_VERSION,
		DataDir:     "./tmp",
		NodeVersion: NODE_VERSION,
		Master: MasterConfig{
			Resend:  hardware.CMD_MAX_RETRIES,
			Timeout: hardware.CMD_TIMEOUT,
		},
		Mechanics: Mechanics{
			StepsPerMM: mgl64.Vec3{80, 80, 400},
			Min:        mgl64.Vec3{0, 0, 0},
			Max:        mgl64.Vec3{1000, 1000, 300},
			SafeHeight: 250,
		},
		Simulator: SimulatorConfig{
			StepsPerSecond: 40000,
		},
	}
}

// LoadConfig reads a YAML config file on top of DefaultConfig.
func LoadConfig(path string) (config GardenConfig, err error) {
	config = DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if err = yaml.Unmarshal(data, &config); err != nil {
		return
	}

	err = config.Validate()
	return
}

func (c GardenConfig) Validate() error {
	if c.Version != CONFIG_VERSION {
		return fmt.Errorf("unable to work with config version %d", c.Version)
	}
	if _, err := semver.NewConstraint(c.NodeVersion); err != nil {
		return fmt.Errorf("node_version %q: %w", c.NodeVersion, err)
	}
	if c.Master.Resend < 1 {
		return fmt.Errorf("master.resend must be at least 1")
	}
	if c.Master.Timeout <= 0 {
		return fmt.Errorf("master.timeout must be positive")
	}

	m := c.Mechanics
	for i := 0; i < 3; i++ {
		if m.StepsPerMM[i] <= 0 {
			return fmt.Errorf("mechanics.steps_per_mm[%d] must be positive", i)
		}
		if m.Min[i] > m.Max[i] {
			return fmt.Errorf("mechanics.min[%d] is above mechanics.max[%d]", i, i)
		}
	}
	if m.SafeHeight < m.Min.Z() || m.SafeHeight > m.Max.Z() {
		return fmt.Errorf("mechanics.safe_height %g outside the workspace", m.SafeHeight)
	}
	return nil
}

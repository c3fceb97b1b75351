// Package fusion configures the on-board sensor fusion algorithm and exposes
// its output signals.
package fusion

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/KevinKickass/OpenSensorCore/internal/board"
	"github.com/KevinKickass/OpenSensorCore/internal/signal"
	"github.com/KevinKickass/OpenSensorCore/internal/types"
)

// Sensor fusion registers
const (
	RegisterEnable        uint8 = 0x01
	RegisterMode          uint8 = 0x02
	RegisterOutputEnable  uint8 = 0x03
	RegisterCorrectedAcc  uint8 = 0x04
	RegisterCorrectedGyro uint8 = 0x05
	RegisterCorrectedMag  uint8 = 0x06
	RegisterQuaternion    uint8 = 0x07
	RegisterEulerAngles   uint8 = 0x08
	RegisterGravityVector uint8 = 0x09
	RegisterLinearAcc     uint8 = 0x0a
)

// stopOutputMask clears every output enable bit
const stopOutputMask = 0x7f

var (
	ErrInvalidMode      = errors.New("invalid sensor fusion mode")
	ErrInvalidAccRange  = errors.New("invalid accelerometer range")
	ErrInvalidGyroRange = errors.New("invalid gyroscope range")
	ErrInvalidOutput    = errors.New("invalid sensor fusion output")
)

// Mode is the fusion algorithm operation mode
type Mode uint8

const (
	ModeSleep Mode = iota
	ModeNDOF
	ModeIMUPlus
	ModeCompass
	ModeM4G
)

var modeNames = []string{"sleep", "ndof", "imu_plus", "compass", "m4g"}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

func ParseMode(name string) (Mode, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, mn := range modeNames {
		if mn == n {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMode, name)
}

// AccRange is the accelerometer data range used by the algorithm
type AccRange uint8

const (
	AccRange2G AccRange = iota
	AccRange4G
	AccRange8G
	AccRange16G
)

var accRangeG = []float64{2, 4, 8, 16}

// AccRangeForG maps a range in g to its code
func AccRangeForG(g float64) (AccRange, error) {
	for i, v := range accRangeG {
		if v == g {
			return AccRange(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %gg", ErrInvalidAccRange, g)
}

// G returns the range in g, 0 if invalid
func (r AccRange) G() float64 {
	if int(r) < len(accRangeG) {
		return accRangeG[r]
	}
	return 0
}

// GyroRange is the gyroscope data range used by the algorithm
type GyroRange uint8

const (
	GyroRange2000DPS GyroRange = iota
	GyroRange1000DPS
	GyroRange500DPS
	GyroRange250DPS
)

var gyroRangeDPS = []float64{2000, 1000, 500, 250}

// GyroRangeForDPS maps a range in degrees per second to its code
func GyroRangeForDPS(dps float64) (GyroRange, error) {
	for i, v := range gyroRangeDPS {
		if v == dps {
			return GyroRange(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %g dps", ErrInvalidGyroRange, dps)
}

// DPS returns the range in degrees per second, 0 if invalid
func (r GyroRange) DPS() float64 {
	if int(r) < len(gyroRangeDPS) {
		return gyroRangeDPS[r]
	}
	return 0
}

// Output selects one of the fusion data streams
type Output uint8

const (
	OutputCorrectedAcc Output = iota
	OutputCorrectedGyro
	OutputCorrectedMag
	OutputQuaternion
	OutputEulerAngles
	OutputGravityVector
	OutputLinearAcc
)

var outputNames = []string{
	"corrected_acc", "corrected_gyro", "corrected_mag",
	"quaternion", "euler_angles", "gravity_vector", "linear_acc",
}

func (o Output) String() string {
	if int(o) < len(outputNames) {
		return outputNames[o]
	}
	return fmt.Sprintf("output(%d)", uint8(o))
}

func ParseOutput(name string) (Output, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, on := range outputNames {
		if on == n {
			return Output(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidOutput, name)
}

func (o Output) valid() bool {
	return int(o) < len(outputNames)
}

// Register returns the data register the output is reported on.
func (o Output) Register() uint8 {
	return RegisterCorrectedAcc + uint8(o)
}

// Header returns the response header of the output's data signal.
func (o Output) Header() types.ResponseHeader {
	return types.NewResponseHeader(types.ModuleSensorFusion, o.Register())
}

// Outputs lists all fusion outputs in register order
func Outputs() []Output {
	out := make([]Output, len(outputNames))
	for i := range out {
		out[i] = Output(i)
	}
	return out
}

func outputConfig(o Output) signal.Config {
	switch o {
	case OutputCorrectedAcc:
		return correctedConfig(signal.ConverterFloatMilliG)
	case OutputCorrectedGyro, OutputCorrectedMag:
		return correctedConfig(signal.ConverterFloat)
	case OutputQuaternion:
		return compositeConfig(signal.InterpreterQuaternion, signal.ConverterFloat, 4)
	case OutputEulerAngles:
		return compositeConfig(signal.InterpreterEulerAngles, signal.ConverterFloat, 4)
	default:
		// gravity and linear acceleration arrive in m/s²
		return compositeConfig(signal.InterpreterCartesianFloat, signal.ConverterFloatMS2ToG, 3)
	}
}

// Corrected values carry a trailing accuracy byte no single axis can decode,
// so they are not split into components.
func correctedConfig(conv signal.ConverterKind) signal.Config {
	return signal.Config{
		Kind:          signal.KindSingle,
		Interpreter:   signal.InterpreterCorrectedCartesianFloat,
		Converter:     conv,
		ChannelCount:  3,
		ValueByteSize: 4,
	}
}

func compositeConfig(interp signal.InterpreterKind, conv signal.ConverterKind, channels uint8) signal.Config {
	return signal.Config{
		Kind:                 signal.KindComposite,
		Interpreter:          interp,
		Converter:            conv,
		ChannelCount:         channels,
		ValueByteSize:        4,
		ComponentInterpreter: signal.InterpreterScalar,
	}
}

// Config is the host side fusion configuration, written with WriteConfig
type Config struct {
	Mode      Mode      `json:"mode"`
	AccRange  AccRange  `json:"acc_range"`
	GyroRange GyroRange `json:"gyro_range"`
}

// Module holds the fusion configuration and output enable mask of one
// board. Use one Module per board.
type Module struct {
	mu      sync.Mutex
	config  Config
	enabled uint8
}

func New() *Module {
	return &Module{}
}

func (m *Module) ID() types.ModuleID {
	return types.ModuleSensorFusion
}

func (m *Module) Init(registry *signal.Registry, _ types.ModuleInfo) ([]types.ResponseHeader, error) {
	headers := make([]types.ResponseHeader, 0, len(outputNames))
	for _, o := range Outputs() {
		o := o
		id, err := registry.EnsureRegistered(o.Header(), func() signal.Config { return outputConfig(o) })
		if err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", o, err)
		}
		if s, _ := registry.Signal(id); s.Kind() == signal.KindComposite {
			if err := registry.EnsureComponents(id); err != nil {
				return nil, err
			}
		}
		headers = append(headers, o.Header())
	}
	return headers, nil
}

// DataSignal returns the signal of a fusion output. ok is false when the
// board has no sensor fusion.
func DataSignal(b *board.Board, o Output) (*signal.DataSignal, bool) {
	if !o.valid() {
		return nil, false
	}
	return b.GetSignal(o.Header())
}

func (m *Module) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

func checkMode(mode Mode) error {
	if int(mode) >= len(modeNames) {
		return fmt.Errorf("%w: %d", ErrInvalidMode, uint8(mode))
	}
	return nil
}

func checkAccRange(r AccRange) error {
	if int(r) >= len(accRangeG) {
		return fmt.Errorf("%w: %d", ErrInvalidAccRange, uint8(r))
	}
	return nil
}

func checkGyroRange(r GyroRange) error {
	if int(r) >= len(gyroRangeDPS) {
		return fmt.Errorf("%w: %d", ErrInvalidGyroRange, uint8(r))
	}
	return nil
}

// Validate checks mode and ranges
func (c Config) Validate() error {
	if err := checkMode(c.Mode); err != nil {
		return err
	}
	if err := checkAccRange(c.AccRange); err != nil {
		return err
	}
	return checkGyroRange(c.GyroRange)
}

func (c Config) command() board.Command {
	ranges := uint8(c.AccRange) | (uint8(c.GyroRange)+1)<<4
	return board.NewCommand(types.ModuleSensorFusion, RegisterMode, uint8(c.Mode), ranges)
}

func (m *Module) SetMode(mode Mode) error {
	if err := checkMode(mode); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.Mode = mode
	return nil
}

func (m *Module) SetAccRange(r AccRange) error {
	if err := checkAccRange(r); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.AccRange = r
	return nil
}

func (m *Module) SetGyroRange(r GyroRange) error {
	if err := checkGyroRange(r); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.GyroRange = r
	return nil
}

// WriteConfig sends mode and ranges to the board
func (m *Module) WriteConfig(b *board.Board) error {
	return b.Send(m.Config().command())
}

// Apply validates cfg and writes it to the board. The host side config is
// only replaced once the command was sent.
func (m *Module) Apply(b *board.Board, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := b.Send(cfg.command()); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = cfg
	return nil
}

// EnableData sets the enable bit of an output; sent with the next Start.
func (m *Module) EnableData(o Output) error {
	if !o.valid() {
		return fmt.Errorf("%w: %d", ErrInvalidOutput, uint8(o))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled |= 1 << o
	return nil
}

func (m *Module) ClearEnabledMask() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = 0
}

// EnabledMask returns the current output enable bits
func (m *Module) EnabledMask() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Start enables the selected outputs and starts the algorithm.
func (m *Module) Start(b *board.Board) error {
	if err := sendOutputMask(b, m.EnabledMask()); err != nil {
		return err
	}
	return sendEnable(b)
}

// StartOutputs starts the algorithm with exactly the given outputs. The
// enable mask is only replaced once the board accepted it.
func (m *Module) StartOutputs(b *board.Board, outputs ...Output) error {
	var mask uint8
	for _, o := range outputs {
		if !o.valid() {
			return fmt.Errorf("%w: %d", ErrInvalidOutput, uint8(o))
		}
		mask |= 1 << o
	}

	if err := sendOutputMask(b, mask); err != nil {
		return err
	}
	m.mu.Lock()
	m.enabled = mask
	m.mu.Unlock()

	return sendEnable(b)
}

func sendOutputMask(b *board.Board, mask uint8) error {
	return b.Send(board.NewCommand(types.ModuleSensorFusion, RegisterOutputEnable, mask, 0x00))
}

func sendEnable(b *board.Board) error {
	return b.Send(board.NewCommand(types.ModuleSensorFusion, RegisterEnable, 0x01))
}

// Stop halts the algorithm and disables all outputs.
func (m *Module) Stop(b *board.Board) error {
	if err := b.Send(board.NewCommand(types.ModuleSensorFusion, RegisterEnable, 0x00)); err != nil {
		return err
	}
	return b.Send(board.NewCommand(types.ModuleSensorFusion, RegisterOutputEnable, 0x00, stopOutputMask))
}

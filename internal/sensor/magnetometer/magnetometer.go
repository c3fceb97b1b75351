// Package magnetometer drives the BMM150 magnetometer module.
package magnetometer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/KevinKickass/OpenSensorCore/internal/board"
	"github.com/KevinKickass/OpenSensorCore/internal/signal"
	"github.com/KevinKickass/OpenSensorCore/internal/types"
)

// BMM150 registers
const (
	RegisterPowerMode           uint8 = 0x01
	RegisterDataInterruptEnable uint8 = 0x02
	RegisterDataRate            uint8 = 0x03
	RegisterDataRepetitions     uint8 = 0x04
	RegisterMagData             uint8 = 0x05
)

// BFieldHeader identifies B-field data packets
var BFieldHeader = types.NewResponseHeader(types.ModuleMagnetometer, RegisterMagData)

var (
	ErrInvalidDataRate = errors.New("invalid output data rate")
	ErrInvalidPreset   = errors.New("invalid magnetometer preset")
)

// OutputDataRate is the firmware code of a sampling frequency
type OutputDataRate uint8

const (
	ODR10Hz OutputDataRate = iota
	ODR2Hz
	ODR6Hz
	ODR8Hz
	ODR15Hz
	ODR20Hz
	ODR25Hz
	ODR30Hz
)

var odrFrequencies = [...]float64{10, 2, 6, 8, 15, 20, 25, 30}

// Hz returns the sampling frequency, 0 for unknown codes.
func (o OutputDataRate) Hz() float64 {
	if !o.Valid() {
		return 0
	}
	return odrFrequencies[o]
}

func (o OutputDataRate) Valid() bool {
	return int(o) < len(odrFrequencies)
}

func (o OutputDataRate) String() string {
	if !o.Valid() {
		return fmt.Sprintf("odr(%d)", uint8(o))
	}
	return fmt.Sprintf("%gHz", odrFrequencies[o])
}

// DataRateForHz returns the code for an exact supported frequency.
func DataRateForHz(hz float64) (OutputDataRate, error) {
	for i, f := range odrFrequencies {
		if f == hz {
			return OutputDataRate(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %g Hz", ErrInvalidDataRate, hz)
}

// Preset is a recommended repetition / data rate combination
type Preset uint8

const (
	PresetLowPower Preset = iota
	PresetRegular
	PresetEnhancedRegular
	PresetHighAccuracy
)

// PresetSettings holds the parameters applied for a preset
type PresetSettings struct {
	XYReps   uint16
	ZReps    uint16
	DataRate OutputDataRate
}

var presets = map[Preset]PresetSettings{
	PresetLowPower:        {XYReps: 3, ZReps: 3, DataRate: ODR10Hz},
	PresetRegular:         {XYReps: 9, ZReps: 15, DataRate: ODR10Hz},
	PresetEnhancedRegular: {XYReps: 15, ZReps: 27, DataRate: ODR10Hz},
	PresetHighAccuracy:    {XYReps: 47, ZReps: 83, DataRate: ODR20Hz},
}

var presetNames = map[Preset]string{
	PresetLowPower:        "low_power",
	PresetRegular:         "regular",
	PresetEnhancedRegular: "enhanced_regular",
	PresetHighAccuracy:    "high_accuracy",
}

func (p Preset) String() string {
	if name, ok := presetNames[p]; ok {
		return name
	}
	return fmt.Sprintf("preset(%d)", uint8(p))
}

// Settings returns the parameters of the preset.
func (p Preset) Settings() (PresetSettings, error) {
	s, ok := presets[p]
	if !ok {
		return PresetSettings{}, fmt.Errorf("%w: %d", ErrInvalidPreset, uint8(p))
	}
	return s, nil
}

// ParsePreset accepts the names returned by Preset.String, case-insensitive.
func ParsePreset(name string) (Preset, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for p, pn := range presetNames {
		if pn == n {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidPreset, name)
}

// Module registers the B-field signal and its per-axis components.
type Module struct{}

func New() *Module {
	return &Module{}
}

func (m *Module) ID() types.ModuleID {
	return types.ModuleMagnetometer
}

func bfieldConfig() signal.Config {
	return signal.Config{
		Kind:                 signal.KindComposite,
		Interpreter:          signal.InterpreterCartesianFloat,
		Converter:            signal.ConverterBoschMagnetometer,
		ChannelCount:         3,
		ValueByteSize:        2,
		ComponentInterpreter: signal.InterpreterScalar,
	}
}

func (m *Module) Init(registry *signal.Registry, _ types.ModuleInfo) ([]types.ResponseHeader, error) {
	id, err := registry.EnsureRegistered(BFieldHeader, bfieldConfig)
	if err != nil {
		return nil, err
	}
	if err := registry.EnsureComponents(id); err != nil {
		return nil, err
	}
	return []types.ResponseHeader{BFieldHeader}, nil
}

// BFieldSignal returns the B-field signal (µT). ok is false when the board
// has no magnetometer.
func BFieldSignal(b *board.Board) (*signal.DataSignal, bool) {
	return b.GetSignal(BFieldHeader)
}

// Configure sets the xy / z repetitions and the data rate. Repetitions are
// sent as (xy-1)/2 and z-1.
func Configure(b *board.Board, xyReps, zReps uint16, odr OutputDataRate) error {
	if !odr.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidDataRate, uint8(odr))
	}

	reps := board.NewCommand(types.ModuleMagnetometer, RegisterDataRepetitions,
		uint8((xyReps-1)/2), uint8(zReps-1))
	if err := b.Send(reps); err != nil {
		return err
	}
	return b.Send(board.NewCommand(types.ModuleMagnetometer, RegisterDataRate, uint8(odr)))
}

// SetPreset applies one of the recommended configurations.
func SetPreset(b *board.Board, preset Preset) error {
	s, err := preset.Settings()
	if err != nil {
		return err
	}
	return Configure(b, s.XYReps, s.ZReps, s.DataRate)
}

func EnableBFieldSampling(b *board.Board) error {
	return b.Send(board.NewCommand(types.ModuleMagnetometer, RegisterDataInterruptEnable, 0x01, 0x00))
}

func DisableBFieldSampling(b *board.Board) error {
	return b.Send(board.NewCommand(types.ModuleMagnetometer, RegisterDataInterruptEnable, 0x00, 0x01))
}

// Start switches the magnetometer into active mode
func Start(b *board.Board) error {
	return b.Send(board.NewCommand(types.ModuleMagnetometer, RegisterPowerMode, 0x01))
}

// Stop puts the magnetometer back into standby
func Stop(b *board.Board) error {
	return b.Send(board.NewCommand(types.ModuleMagnetometer, RegisterPowerMode, 0x00))
}

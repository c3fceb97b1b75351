package signal

import (
	"encoding/binary"
	"fmt"

	"github.com/KevinKickass/OpenSensorCore/internal/types"
)

// InterpreterKind selects how converted channel values are assembled into the
// typed value a subscriber receives.
type InterpreterKind uint8

const (
	// InterpreterScalar yields a float64 from a single channel.
	InterpreterScalar InterpreterKind = iota
	// InterpreterUnsignedScalar yields a uint32 from a single channel.
	InterpreterUnsignedScalar
	InterpreterCartesianFloat
	// InterpreterCorrectedCartesianFloat reads three channels followed by one
	// accuracy byte.
	InterpreterCorrectedCartesianFloat
	InterpreterQuaternion
	InterpreterEulerAngles
	// InterpreterBatteryState reads charge (u8) and voltage (u16 LE) from a
	// single 3 byte channel.
	InterpreterBatteryState
	InterpreterColorAdc
)

func (k InterpreterKind) String() string {
	switch k {
	case InterpreterScalar:
		return "scalar"
	case InterpreterUnsignedScalar:
		return "unsigned_scalar"
	case InterpreterCartesianFloat:
		return "cartesian_float"
	case InterpreterCorrectedCartesianFloat:
		return "corrected_cartesian_float"
	case InterpreterQuaternion:
		return "quaternion"
	case InterpreterEulerAngles:
		return "euler_angles"
	case InterpreterBatteryState:
		return "battery_state"
	case InterpreterColorAdc:
		return "color_adc"
	default:
		return fmt.Sprintf("interpreter(%d)", uint8(k))
	}
}

// channels returns the channel count the interpreter assembles.
func (k InterpreterKind) channels() int {
	switch k {
	case InterpreterScalar, InterpreterUnsignedScalar, InterpreterBatteryState:
		return 1
	case InterpreterCartesianFloat, InterpreterCorrectedCartesianFloat:
		return 3
	case InterpreterQuaternion, InterpreterEulerAngles, InterpreterColorAdc:
		return 4
	default:
		return 0
	}
}

// trailer returns the number of bytes consumed after the channel span.
func (k InterpreterKind) trailer() int {
	if k == InterpreterCorrectedCartesianFloat {
		return 1
	}
	return 0
}

// assemble builds the typed value. raw starts at the signal's byte offset and
// holds the channel span plus the interpreter trailer.
func (k InterpreterKind) assemble(raw []byte, channels, size int, conv ConverterKind) (any, error) {
	if k == InterpreterBatteryState {
		if size != 3 {
			return nil, fmt.Errorf("%w: battery state needs 3 bytes, got %d", ErrInvalidConfig, size)
		}
		return types.BatteryState{
			Charge:  raw[0],
			Voltage: binary.LittleEndian.Uint16(raw[1:3]),
		}, nil
	}

	values := make([]float64, channels)
	for i := range values {
		v, err := conv.Convert(raw[i*size : (i+1)*size])
		if err != nil {
			return nil, err
		}
		values[i] = v
	}

	switch k {
	case InterpreterScalar:
		return values[0], nil
	case InterpreterUnsignedScalar:
		return uint32(values[0]), nil
	case InterpreterCartesianFloat:
		return types.CartesianFloat{X: float32(values[0]), Y: float32(values[1]), Z: float32(values[2])}, nil
	case InterpreterCorrectedCartesianFloat:
		return types.CorrectedCartesianFloat{
			X:        float32(values[0]),
			Y:        float32(values[1]),
			Z:        float32(values[2]),
			Accuracy: raw[channels*size],
		}, nil
	case InterpreterQuaternion:
		return types.Quaternion{W: float32(values[0]), X: float32(values[1]), Y: float32(values[2]), Z: float32(values[3])}, nil
	case InterpreterEulerAngles:
		return types.EulerAngles{
			Heading: float32(values[0]),
			Pitch:   float32(values[1]),
			Roll:    float32(values[2]),
			Yaw:     float32(values[3]),
		}, nil
	case InterpreterColorAdc:
		return types.ColorAdc{
			Clear: uint16(values[0]),
			Red:   uint16(values[1]),
			Green: uint16(values[2]),
			Blue:  uint16(values[3]),
		}, nil
	}

	return nil, fmt.Errorf("%w: unknown interpreter %d", ErrInvalidConfig, uint8(k))
}

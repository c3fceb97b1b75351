package signal

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ConverterKind selects how the raw bytes of one channel are scaled into a
// number. The divisors match what the firmware assumes; packets carry no
// calibration metadata.
type ConverterKind uint8

const (
	// ConverterIdentity reads an unsigned little-endian integer, unscaled.
	ConverterIdentity ConverterKind = iota
	// ConverterSigned reads a signed little-endian integer, unscaled.
	ConverterSigned
	// ConverterBoschMagnetometer maps BMM150 signed 16-bit counts to µT.
	ConverterBoschMagnetometer
	// ConverterFloat reads an IEEE-754 float32.
	ConverterFloat
	// ConverterFloatMilliG reads a float32 in mg and converts to g.
	ConverterFloatMilliG
	// ConverterFloatMS2ToG reads a float32 in m/s² and converts to g.
	ConverterFloatMS2ToG
)

const (
	bmm150CountsPerMicroTesla = 16.0
	milliGPerG                = 1000.0
	standardGravity           = 9.80665
)

func (c ConverterKind) String() string {
	switch c {
	case ConverterIdentity:
		return "identity"
	case ConverterSigned:
		return "signed"
	case ConverterBoschMagnetometer:
		return "bosch_magnetometer"
	case ConverterFloat:
		return "float"
	case ConverterFloatMilliG:
		return "float_milli_g"
	case ConverterFloatMS2ToG:
		return "float_ms2_to_g"
	default:
		return fmt.Sprintf("converter(%d)", uint8(c))
	}
}

// validSize reports whether the converter can read a channel of size bytes.
func (c ConverterKind) validSize(size int) bool {
	switch c {
	case ConverterIdentity, ConverterSigned:
		return size >= 1 && size <= 4
	case ConverterBoschMagnetometer:
		return size == 2
	case ConverterFloat, ConverterFloatMilliG, ConverterFloatMS2ToG:
		return size == 4
	default:
		return false
	}
}

// Convert scales the raw bytes of a single channel.
func (c ConverterKind) Convert(raw []byte) (float64, error) {
	if !c.validSize(len(raw)) {
		return 0, fmt.Errorf("%w: converter %s cannot read %d bytes", ErrInvalidConfig, c, len(raw))
	}

	switch c {
	case ConverterIdentity:
		return float64(readUint(raw)), nil
	case ConverterSigned:
		return float64(readInt(raw)), nil
	case ConverterBoschMagnetometer:
		return float64(int16(binary.LittleEndian.Uint16(raw))) / bmm150CountsPerMicroTesla, nil
	case ConverterFloat:
		return float64(readFloat(raw)), nil
	case ConverterFloatMilliG:
		return float64(readFloat(raw)) / milliGPerG, nil
	case ConverterFloatMS2ToG:
		return float64(readFloat(raw)) / standardGravity, nil
	}

	return 0, fmt.Errorf("%w: unknown converter %d", ErrInvalidConfig, uint8(c))
}

func readUint(raw []byte) uint32 {
	var v uint32
	for i, b := range raw {
		v |= uint32(b) << (8 * i)
	}
	return v
}

func readInt(raw []byte) int32 {
	v := readUint(raw)
	shift := uint(32 - 8*len(raw))
	// Sign-extend from the channel width
	return int32(v<<shift) >> shift
}

func readFloat(raw []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(raw))
}

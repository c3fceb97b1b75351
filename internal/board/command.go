package board

import (
	"encoding/binary"

	"github.com/KevinKickass/OpenSensorCore/internal/types"
)

// Command is a raw configuration command: [module, register, params...].
// Multi-byte parameters are little-endian with a fixed width per register.
type Command struct {
	Module   types.ModuleID
	Register uint8
	Params   []byte
}

func NewCommand(module types.ModuleID, register uint8, params ...byte) Command {
	return Command{Module: module, Register: register, Params: params}
}

// Bytes encodes the command as sent to the board
func (c Command) Bytes() []byte {
	out := make([]byte, 2+len(c.Params))
	out[0] = uint8(c.Module)
	out[1] = c.Register
	copy(out[2:], c.Params)
	return out
}

// Uint16Param encodes a 16-bit parameter little-endian
func Uint16Param(v uint16) []byte {
	out := make([]byte, 2)
	binary.LittleEndian.PutUint16(out, v)
	return out
}

// Int8Param encodes a signed byte parameter in two's complement
func Int8Param(v int8) byte {
	return byte(v)
}

// Package ibeacon configures the iBeacon advertisement of the board. The
// module reports no data.
package ibeacon

import (
	"github.com/KevinKickass/OpenSensorCore/internal/board"
	"github.com/KevinKickass/OpenSensorCore/internal/types"
	"github.com/google/uuid"
)

const (
	RegisterEnable  uint8 = 0x01
	RegisterUUID    uint8 = 0x02
	RegisterMajor   uint8 = 0x03
	RegisterMinor   uint8 = 0x04
	RegisterRxPower uint8 = 0x05
	RegisterTxPower uint8 = 0x06
	RegisterPeriod  uint8 = 0x07
)

func command(register uint8, params ...byte) board.Command {
	return board.NewCommand(types.ModuleIBeacon, register, params...)
}

func Enable(b *board.Board) error {
	return b.Send(command(RegisterEnable, 0x01))
}

func Disable(b *board.Board) error {
	return b.Send(command(RegisterEnable, 0x00))
}

// SetUUID sets the advertised UUID. The board expects it little-endian.
func SetUUID(b *board.Board, id uuid.UUID) error {
	params := make([]byte, len(id))
	for i := range id {
		params[i] = id[len(id)-1-i]
	}
	return b.Send(command(RegisterUUID, params...))
}

func SetMajor(b *board.Board, major uint16) error {
	return b.Send(command(RegisterMajor, board.Uint16Param(major)...))
}

func SetMinor(b *board.Board, minor uint16) error {
	return b.Send(command(RegisterMinor, board.Uint16Param(minor)...))
}

// SetRxPower sets the calibrated receive power at 1 m, in dBm
func SetRxPower(b *board.Board, power int8) error {
	return b.Send(command(RegisterRxPower, board.Int8Param(power)))
}

// SetTxPower sets the transmit power, in dBm
func SetTxPower(b *board.Board, power int8) error {
	return b.Send(command(RegisterTxPower, board.Int8Param(power)))
}

// SetPeriod sets the advertisement period in milliseconds
func SetPeriod(b *board.Board, period uint16) error {
	return b.Send(command(RegisterPeriod, board.Uint16Param(period)...))
}

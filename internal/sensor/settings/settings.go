// Package settings exposes the battery state reported by the settings module.
package settings

import (
	"github.com/KevinKickass/OpenSensorCore/internal/board"
	"github.com/KevinKickass/OpenSensorCore/internal/signal"
	"github.com/KevinKickass/OpenSensorCore/internal/types"
)

const RegisterBatteryState uint8 = 0x0c

var BatteryHeader = types.NewResponseHeader(types.ModuleSettings, types.ReadRegister(RegisterBatteryState))

type Module struct{}

func New() *Module {
	return &Module{}
}

func (m *Module) ID() types.ModuleID {
	return types.ModuleSettings
}

func (m *Module) Init(registry *signal.Registry, _ types.ModuleInfo) ([]types.ResponseHeader, error) {
	// charge (u8) and voltage (u16) packed into one 3 byte channel
	_, err := registry.EnsureRegistered(BatteryHeader, func() signal.Config {
		return signal.Config{
			Kind:          signal.KindSingle,
			Interpreter:   signal.InterpreterBatteryState,
			Converter:     signal.ConverterIdentity,
			ChannelCount:  1,
			ValueByteSize: 3,
		}
	})
	if err != nil {
		return nil, err
	}
	return []types.ResponseHeader{BatteryHeader}, nil
}

func BatterySignal(b *board.Board) (*signal.DataSignal, bool) {
	return b.GetSignal(BatteryHeader)
}

// ReadBatteryCommand is the command polled by the battery poller
func ReadBatteryCommand() board.Command {
	return board.NewCommand(types.ModuleSettings, types.ReadRegister(RegisterBatteryState))
}

// ReadBatteryState requests the battery state; the value arrives on
// BatterySignal.
func ReadBatteryState(b *board.Board) error {
	return b.Send(ReadBatteryCommand())
}

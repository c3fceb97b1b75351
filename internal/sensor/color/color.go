// Package color reads the TCS34725 color detector.
package color

import (
	"github.com/KevinKickass/OpenSensorCore/internal/board"
	"github.com/KevinKickass/OpenSensorCore/internal/signal"
	"github.com/KevinKickass/OpenSensorCore/internal/types"
)

const RegisterADC uint8 = 0x01

// ADCHeader identifies ADC read responses
var ADCHeader = types.NewResponseHeader(types.ModuleColorDetector, types.ReadRegister(RegisterADC))

type Module struct{}

func New() *Module {
	return &Module{}
}

func (m *Module) ID() types.ModuleID {
	return types.ModuleColorDetector
}

func (m *Module) Init(registry *signal.Registry, _ types.ModuleInfo) ([]types.ResponseHeader, error) {
	id, err := registry.EnsureRegistered(ADCHeader, func() signal.Config {
		return signal.Config{
			Kind:                 signal.KindComposite,
			Interpreter:          signal.InterpreterColorAdc,
			Converter:            signal.ConverterIdentity,
			ChannelCount:         4,
			ValueByteSize:        2,
			ComponentInterpreter: signal.InterpreterUnsignedScalar,
		}
	})
	if err != nil {
		return nil, err
	}
	if err := registry.EnsureComponents(id); err != nil {
		return nil, err
	}
	return []types.ResponseHeader{ADCHeader}, nil
}

// ADCSignal returns the clear / red / green / blue ADC signal
func ADCSignal(b *board.Board) (*signal.DataSignal, bool) {
	return b.GetSignal(ADCHeader)
}

// ReadADC requests one ADC reading; the value arrives on ADCSignal.
func ReadADC(b *board.Board) error {
	return b.Send(board.NewCommand(types.ModuleColorDetector, types.ReadRegister(RegisterADC)))
}

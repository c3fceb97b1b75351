package fusion

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/KevinKickass/OpenSensorCore/internal/board"
	"github.com/KevinKickass/OpenSensorCore/internal/signal"
	"github.com/KevinKickass/OpenSensorCore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func floats(values ...float32) []byte {
	var out []byte
	for _, v := range values {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}

func packet(o Output, payload []byte) []byte {
	return append([]byte{byte(types.ModuleSensorFusion), o.Register()}, payload...)
}

func setup(t *testing.T) (*board.Board, *Module, *board.CommandRecorder) {
	t.Helper()
	rec := &board.CommandRecorder{}
	b := board.New("fusion", rec, board.Present(types.ModuleSensorFusion), zap.NewNop())
	m := New()
	require.NoError(t, b.Initialize(m))
	return b, m, rec
}

func TestInitRegistersAllOutputs(t *testing.T) {
	b, _, _ := setup(t)

	tests := []struct {
		output     Output
		kind       signal.Kind
		components int
	}{
		{OutputCorrectedAcc, signal.KindSingle, 0},
		{OutputCorrectedGyro, signal.KindSingle, 0},
		{OutputCorrectedMag, signal.KindSingle, 0},
		{OutputQuaternion, signal.KindComposite, 4},
		{OutputEulerAngles, signal.KindComposite, 4},
		{OutputGravityVector, signal.KindComposite, 3},
		{OutputLinearAcc, signal.KindComposite, 3},
	}

	for _, tt := range tests {
		t.Run(tt.output.String(), func(t *testing.T) {
			s, ok := DataSignal(b, tt.output)
			require.True(t, ok)
			assert.Equal(t, tt.kind, s.Kind())
			assert.Len(t, s.Components(), tt.components)
		})
	}

	_, ok := DataSignal(b, Output(12))
	assert.False(t, ok)
}

func TestWriteConfig(t *testing.T) {
	b, m, rec := setup(t)

	require.NoError(t, m.SetMode(ModeNDOF))
	require.NoError(t, m.SetAccRange(AccRange8G))
	require.NoError(t, m.SetGyroRange(GyroRange500DPS))
	require.NoError(t, m.WriteConfig(b))

	assert.Equal(t, []byte{0x19, 0x02, 0x01, 0x32}, rec.Last())
}

func TestInvalidConfigValues(t *testing.T) {
	_, m, _ := setup(t)

	assert.ErrorIs(t, m.SetMode(Mode(7)), ErrInvalidMode)
	assert.ErrorIs(t, m.SetAccRange(AccRange(4)), ErrInvalidAccRange)
	assert.ErrorIs(t, m.SetGyroRange(GyroRange(4)), ErrInvalidGyroRange)
	assert.ErrorIs(t, m.EnableData(Output(7)), ErrInvalidOutput)
	assert.Equal(t, Config{}, m.Config())
}

func TestStartStop(t *testing.T) {
	b, m, rec := setup(t)

	require.NoError(t, m.EnableData(OutputQuaternion))
	require.NoError(t, m.EnableData(OutputCorrectedAcc))
	require.NoError(t, m.Start(b))
	require.NoError(t, m.Stop(b))

	assert.Equal(t, [][]byte{
		{0x19, 0x03, 0x09, 0x00},
		{0x19, 0x01, 0x01},
		{0x19, 0x01, 0x00},
		{0x19, 0x03, 0x00, 0x7f},
	}, rec.Commands())

	m.ClearEnabledMask()
	assert.Zero(t, m.EnabledMask())
}

func TestCorrectedAccDecode(t *testing.T) {
	b, _, _ := setup(t)
	s, _ := DataSignal(b, OutputCorrectedAcc)

	payload := append(floats(1000, -500, 250), types.AccuracyHigh)
	b.OnRawPacket(packet(OutputCorrectedAcc, payload))

	last, ok := s.LastValue()
	require.True(t, ok)
	assert.Equal(t, types.CorrectedCartesianFloat{X: 1, Y: -0.5, Z: 0.25, Accuracy: types.AccuracyHigh}, last.Value)
}

func TestQuaternionComponents(t *testing.T) {
	b, _, _ := setup(t)
	s, _ := DataSignal(b, OutputQuaternion)

	var got []float64
	for _, c := range s.Components() {
		c.Subscribe(func(d signal.Data) { got = append(got, d.Value.(float64)) })
	}

	b.OnRawPacket(packet(OutputQuaternion, floats(1, 0, 0.5, -0.5)))

	last, _ := s.LastValue()
	assert.Equal(t, types.Quaternion{W: 1, X: 0, Y: 0.5, Z: -0.5}, last.Value)
	assert.Equal(t, []float64{1, 0, 0.5, -0.5}, got)
}

func TestGravityConvertedToG(t *testing.T) {
	b, _, _ := setup(t)
	s, _ := DataSignal(b, OutputGravityVector)

	b.OnRawPacket(packet(OutputGravityVector, floats(0, 0, 9.80665)))

	last, _ := s.LastValue()
	v := last.Value.(types.CartesianFloat)
	assert.InDelta(t, 0, v.X, 1e-6)
	assert.InDelta(t, 1, v.Z, 1e-6)
}

func TestAbsentFusion(t *testing.T) {
	rec := &board.CommandRecorder{}
	b := board.New("nofusion", rec, board.Present(types.ModuleMagnetometer), zap.NewNop())
	m := New()
	require.NoError(t, b.Initialize(m))

	_, ok := DataSignal(b, OutputEulerAngles)
	assert.False(t, ok)
	assert.ErrorIs(t, m.Start(b), board.ErrUnsupportedFeature)
	assert.Empty(t, rec.Commands())
}

func TestParseHelpers(t *testing.T) {
	mode, err := ParseMode("IMU_PLUS")
	require.NoError(t, err)
	assert.Equal(t, ModeIMUPlus, mode)

	o, err := ParseOutput("linear_acc")
	require.NoError(t, err)
	assert.Equal(t, OutputLinearAcc, o)
	assert.Equal(t, uint8(0x0a), o.Register())

	r, err := AccRangeForG(16)
	require.NoError(t, err)
	assert.Equal(t, AccRange16G, r)
	assert.Equal(t, 16.0, r.G())
	assert.Equal(t, 500.0, GyroRange500DPS.DPS())

	_, err = GyroRangeForDPS(125)
	assert.ErrorIs(t, err, ErrInvalidGyroRange)
}

func TestApplyKeepsConfigWhenSendFails(t *testing.T) {
	b, m, rec := setup(t)
	want := Config{Mode: ModeNDOF, AccRange: AccRange8G, GyroRange: GyroRange500DPS}

	rec.SetError(errors.New("port closed"))
	assert.Error(t, m.Apply(b, want))
	assert.Equal(t, Config{}, m.Config())

	rec.SetError(nil)
	require.NoError(t, m.Apply(b, want))
	assert.Equal(t, want, m.Config())
	assert.Equal(t, []byte{0x19, 0x02, 0x01, 0x32}, rec.Last())

	assert.ErrorIs(t, m.Apply(b, Config{Mode: Mode(9)}), ErrInvalidMode)
	assert.ErrorIs(t, m.Apply(b, Config{AccRange: AccRange(4)}), ErrInvalidAccRange)
	assert.ErrorIs(t, m.Apply(b, Config{GyroRange: GyroRange(4)}), ErrInvalidGyroRange)
	assert.Equal(t, want, m.Config())
}

func TestStartOutputs(t *testing.T) {
	b, m, rec := setup(t)

	rec.SetError(errors.New("port closed"))
	assert.Error(t, m.StartOutputs(b, OutputQuaternion))
	assert.Zero(t, m.EnabledMask())

	rec.SetError(nil)
	assert.ErrorIs(t, m.StartOutputs(b, OutputQuaternion, Output(7)), ErrInvalidOutput)
	assert.Zero(t, m.EnabledMask())
	assert.Empty(t, rec.Commands())

	require.NoError(t, m.StartOutputs(b, OutputQuaternion, OutputCorrectedAcc))
	assert.Equal(t, uint8(0x09), m.EnabledMask())
	assert.Equal(t, [][]byte{
		{0x19, 0x03, 0x09, 0x00},
		{0x19, 0x01, 0x01},
	}, rec.Commands())
}

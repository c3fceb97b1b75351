package board

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/signal"
	"github.com/KevinKickass/OpenSensorCore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(data []byte) error {
	args := m.Called(data)
	return args.Error(0)
}

var vectorHeader = types.NewResponseHeader(types.ModuleGyro, 0x05)

// vectorModule registers one composite 3 x int16 signal
type vectorModule struct {
	inits int
}

func (m *vectorModule) ID() types.ModuleID { return types.ModuleGyro }

func (m *vectorModule) Init(reg *signal.Registry, _ types.ModuleInfo) ([]types.ResponseHeader, error) {
	m.inits++
	id, err := reg.EnsureRegistered(vectorHeader, func() signal.Config {
		return signal.Config{
			Kind:                 signal.KindComposite,
			Interpreter:          signal.InterpreterCartesianFloat,
			Converter:            signal.ConverterSigned,
			ChannelCount:         3,
			ValueByteSize:        2,
			ComponentInterpreter: signal.InterpreterScalar,
		}
	})
	if err != nil {
		return nil, err
	}
	if err := reg.EnsureComponents(id); err != nil {
		return nil, err
	}
	return []types.ResponseHeader{vectorHeader}, nil
}

type failingModule struct{}

func (failingModule) ID() types.ModuleID { return types.ModuleBarometer }

func (failingModule) Init(*signal.Registry, types.ModuleInfo) ([]types.ResponseHeader, error) {
	return nil, errors.New("boom")
}

func TestInitializeSkipsAbsentModule(t *testing.T) {
	modules := ModuleTable{
		types.ModuleGyro: {ID: types.ModuleGyro, Present: false},
	}
	b := New("test", &CommandRecorder{}, modules, zap.NewNop())

	mod := &vectorModule{}
	require.NoError(t, b.Initialize(mod))

	assert.Zero(t, mod.inits)
	_, ok := b.GetSignal(vectorHeader)
	assert.False(t, ok)
	assert.Empty(t, b.Signals())
	assert.True(t, b.Initialized())
}

func TestInitializeTwiceKeepsSignalIdentity(t *testing.T) {
	b := New("test", &CommandRecorder{}, Present(types.ModuleGyro), zap.NewNop())
	mod := &vectorModule{}

	require.NoError(t, b.Initialize(mod))
	first, ok := b.GetSignal(vectorHeader)
	require.True(t, ok)
	components := first.Components()

	require.NoError(t, b.Initialize(mod))
	second, ok := b.GetSignal(vectorHeader)
	require.True(t, ok)

	assert.Equal(t, 2, mod.inits)
	assert.Same(t, first, second)
	require.Len(t, second.Components(), 3)
	for i, c := range second.Components() {
		assert.Same(t, components[i], c)
	}
}

func TestInitializePropagatesModuleError(t *testing.T) {
	b := New("test", &CommandRecorder{}, Present(types.ModuleBarometer), zap.NewNop())
	err := b.Initialize(failingModule{})
	assert.ErrorContains(t, err, "boom")
	assert.False(t, b.Initialized())
}

func TestOnPacketPublishesParentAndComponents(t *testing.T) {
	b := New("test", &CommandRecorder{}, Present(types.ModuleGyro), zap.NewNop())
	require.NoError(t, b.Initialize(&vectorModule{}))

	s, _ := b.GetSignal(vectorHeader)
	var parent int
	s.Subscribe(func(signal.Data) { parent++ })
	children := make([]int, 3)
	for i, c := range s.Components() {
		i := i
		c.Subscribe(func(signal.Data) { children[i]++ })
	}

	b.OnRawPacket([]byte{byte(types.ModuleGyro), 0x05, 0x01, 0x00, 0xff, 0xff, 0x02, 0x00})

	assert.Equal(t, 1, parent)
	assert.Equal(t, []int{1, 1, 1}, children)
	last, _ := s.LastValue()
	assert.Equal(t, types.CartesianFloat{X: 1, Y: -1, Z: 2}, last.Value)
	assert.Equal(t, Stats{Routed: 1}, b.Stats())
}

func TestOnPacketDropsUnroutableAndMalformed(t *testing.T) {
	b := New("test", &CommandRecorder{}, Present(types.ModuleGyro), zap.NewNop())
	require.NoError(t, b.Initialize(&vectorModule{}))
	s, _ := b.GetSignal(vectorHeader)

	b.OnPacket(vectorHeader, []byte{0x01, 0x00, 0x02, 0x00, 0x03, 0x00})
	before, _ := s.LastValue()

	b.OnPacket(types.NewResponseHeader(types.ModuleHumidity, 0x01), []byte{0x01})
	b.OnRawPacket([]byte{0x13})
	b.OnPacket(vectorHeader, []byte{0x01})

	after, _ := s.LastValue()
	assert.Equal(t, before, after)
	assert.Equal(t, Stats{Routed: 2, Unroutable: 2, DecodeErrors: 1}, b.Stats())
}

func TestSendRejectsAbsentModule(t *testing.T) {
	sender := &mockSender{}
	b := New("test", sender, Present(types.ModuleGyro), zap.NewNop())

	err := b.Send(NewCommand(types.ModuleMagnetometer, 0x01, 0x01))
	assert.ErrorIs(t, err, ErrUnsupportedFeature)
	sender.AssertNotCalled(t, "Send", mock.Anything)
}

func TestSendEncodesCommand(t *testing.T) {
	sender := &mockSender{}
	sender.On("Send", []byte{0x13, 0x03, 0x34, 0x12}).Return(nil).Once()
	b := New("test", sender, Present(types.ModuleGyro), zap.NewNop())

	require.NoError(t, b.Send(NewCommand(types.ModuleGyro, 0x03, Uint16Param(0x1234)...)))
	sender.AssertExpectations(t)
}

func TestSendWrapsTransportError(t *testing.T) {
	sender := &mockSender{}
	sender.On("Send", mock.Anything).Return(errors.New("port closed"))
	b := New("test", sender, Present(types.ModuleGyro), zap.NewNop())

	err := b.Send(NewCommand(types.ModuleGyro, 0x01))
	assert.ErrorContains(t, err, "port closed")
}

func TestCommandBytes(t *testing.T) {
	assert.Equal(t, []byte{0x07, 0x05, 0xc9}, NewCommand(types.ModuleIBeacon, 0x05, Int8Param(-55)).Bytes())
	assert.Equal(t, []byte{0x15, 0x01}, NewCommand(types.ModuleMagnetometer, 0x01).Bytes())
}

func TestPollerSendsCommands(t *testing.T) {
	rec := &CommandRecorder{}
	b := New("test", rec, Present(types.ModuleSettings), zap.NewNop())

	p := NewPoller(b, "battery", 5*time.Millisecond,
		[]Command{NewCommand(types.ModuleSettings, types.ReadRegister(0x0c))}, zap.NewNop())
	require.NoError(t, p.Start())
	assert.True(t, p.IsRunning())

	assert.Eventually(t, func() bool { return len(rec.Commands()) >= 2 }, time.Second, 5*time.Millisecond)
	p.Stop()
	assert.False(t, p.IsRunning())

	assert.Equal(t, []byte{0x11, 0x8c}, rec.Last())
}

func TestPollerStopRestart(t *testing.T) {
	rec := &CommandRecorder{}
	b := New("test", rec, Present(types.ModuleSettings), zap.NewNop())

	p := NewPoller(b, "battery", 5*time.Millisecond,
		[]Command{NewCommand(types.ModuleSettings, types.ReadRegister(0x0c))}, zap.NewNop())

	for round := 0; round < 3; round++ {
		require.NoError(t, p.Start())

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.Stop()
			}()
		}
		wg.Wait()
		assert.False(t, p.IsRunning())
	}

	rec.Reset()
	require.NoError(t, p.Start())
	assert.Eventually(t, func() bool { return len(rec.Commands()) > 0 }, time.Second, 5*time.Millisecond)
	p.Stop()
}

package recorder

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/board"
	"github.com/KevinKickass/OpenSensorCore/internal/config"
	"github.com/KevinKickass/OpenSensorCore/internal/sensor/magnetometer"
	"github.com/KevinKickass/OpenSensorCore/internal/storage"
	"github.com/KevinKickass/OpenSensorCore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Name() string { return "mock" }

func (m *mockSink) Write(ctx context.Context, samples []storage.Sample) error {
	args := m.Called(ctx, samples)
	return args.Error(0)
}

func magBoard(t *testing.T) *board.Board {
	t.Helper()
	b := board.New("bench", &board.CommandRecorder{}, board.Present(types.ModuleMagnetometer), zap.NewNop())
	require.NoError(t, b.Initialize(magnetometer.New()))
	return b
}

func bfield(x, y, z int16) []byte {
	return []byte{0x15, 0x05,
		byte(x), byte(uint16(x) >> 8),
		byte(y), byte(uint16(y) >> 8),
		byte(z), byte(uint16(z) >> 8)}
}

func TestRecorderFlushesToAllSinks(t *testing.T) {
	b := magBoard(t)

	failing := &mockSink{}
	failing.On("Write", mock.Anything, mock.Anything).Return(errors.New("down"))
	ok := &mockSink{}
	ok.On("Write", mock.Anything, mock.MatchedBy(func(s []storage.Sample) bool {
		return len(s) == 2 && s[0].Header == "15:05" && s[0].BoardName == "bench"
	})).Return(nil).Once()

	r := New(config.RecorderConfig{BatchSize: 10, FlushInterval: time.Hour}, []Sink{failing, ok}, zap.NewNop())
	r.Attach(b)

	b.OnRawPacket(bfield(16, 32, 48))
	b.OnRawPacket(bfield(32, 64, 96))
	r.Flush(context.Background())

	failing.AssertNumberOfCalls(t, "Write", 1)
	ok.AssertExpectations(t)

	flushed, dropped := r.Counters()
	assert.Equal(t, uint64(2), flushed)
	assert.Zero(t, dropped)
}

func TestRecorderFlushesOnBatchSize(t *testing.T) {
	b := magBoard(t)

	sink := &mockSink{}
	sink.On("Write", mock.Anything, mock.Anything).Return(nil)

	r := New(config.RecorderConfig{BatchSize: 2, FlushInterval: time.Hour}, []Sink{sink}, zap.NewNop())
	r.Attach(b)
	require.NoError(t, r.Start())
	defer r.Stop()

	b.OnRawPacket(bfield(1, 2, 3))
	b.OnRawPacket(bfield(1, 2, 3))

	assert.Eventually(t, func() bool {
		flushed, _ := r.Counters()
		return flushed == 2
	}, time.Second, 5*time.Millisecond)
}

func TestRecorderStopFlushesPending(t *testing.T) {
	b := magBoard(t)

	sink := &mockSink{}
	sink.On("Write", mock.Anything, mock.Anything).Return(nil).Once()

	r := New(config.RecorderConfig{BatchSize: 100, FlushInterval: time.Hour}, []Sink{sink}, zap.NewNop())
	r.Attach(b)
	require.NoError(t, r.Start())

	b.OnRawPacket(bfield(1, 2, 3))
	r.Stop()

	sink.AssertExpectations(t)
}

func TestRecorderRestartAfterStop(t *testing.T) {
	b := magBoard(t)

	sink := &mockSink{}
	sink.On("Write", mock.Anything, mock.Anything).Return(nil)

	r := New(config.RecorderConfig{BatchSize: 2, FlushInterval: time.Hour}, []Sink{sink}, zap.NewNop())
	r.Attach(b)
	require.NoError(t, r.Start())
	r.Stop()
	require.NoError(t, r.Start())
	defer r.Stop()

	b.OnRawPacket(bfield(1, 2, 3))
	b.OnRawPacket(bfield(1, 2, 3))

	// the restarted loop still flushes full batches
	assert.Eventually(t, func() bool {
		flushed, _ := r.Counters()
		return flushed == 2
	}, time.Second, 5*time.Millisecond)
}

func TestRecorderConcurrentStop(t *testing.T) {
	r := New(config.RecorderConfig{BatchSize: 10, FlushInterval: time.Hour}, nil, zap.NewNop())

	for round := 0; round < 3; round++ {
		require.NoError(t, r.Start())

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.Stop()
			}()
		}
		wg.Wait()
	}
}

func TestRecorderDropsOldestWhenBacklogged(t *testing.T) {
	b := magBoard(t)

	sink := &mockSink{}
	sink.On("Write", mock.Anything, mock.Anything).Return(nil)

	r := New(config.RecorderConfig{BatchSize: 1, FlushInterval: time.Hour}, []Sink{sink}, zap.NewNop())
	r.Attach(b)

	for i := 0; i < maxPendingBatches+5; i++ {
		b.OnRawPacket(bfield(int16(i), 0, 0))
	}

	_, dropped := r.Counters()
	assert.Equal(t, uint64(5), dropped)
}

func TestRecorderStats(t *testing.T) {
	b := magBoard(t)
	r := New(config.RecorderConfig{BatchSize: 10, StatsWindow: 3}, nil, zap.NewNop())
	r.Attach(b)

	// x: 1, 2, 3, 4 µT; the window keeps the last three
	for _, x := range []int16{16, 32, 48, 64} {
		b.OnRawPacket(bfield(x, 0, 0))
	}

	stats, ok := r.Stats("bench", magnetometer.BFieldHeader)
	require.True(t, ok)

	x := stats["x"]
	assert.Equal(t, 3, x.Count)
	assert.InDelta(t, 3.0, x.Mean, 1e-9)
	assert.InDelta(t, 1.0, x.StdDev, 1e-9)
	assert.Equal(t, 2.0, x.Min)
	assert.Equal(t, 4.0, x.Max)
	assert.Equal(t, 4.0, x.Last)
	assert.False(t, math.IsNaN(stats["y"].StdDev))

	_, ok = r.Stats("other", magnetometer.BFieldHeader)
	assert.False(t, ok)
}

func TestRecorderDetach(t *testing.T) {
	b := magBoard(t)
	r := New(config.RecorderConfig{BatchSize: 10}, nil, zap.NewNop())

	r.Attach(b)
	r.Attach(b)
	s, _ := magnetometer.BFieldSignal(b)
	assert.Equal(t, 1, s.SubscriberCount())

	r.Detach(b)
	assert.Zero(t, s.SubscriberCount())
}

func TestSamplePoint(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	p := samplePoint("sensor_signal", storage.Sample{
		BoardName: "bench",
		Header:    "15:05",
		Fields:    map[string]float64{"x": 1.5},
		Timestamp: ts,
	})

	assert.Equal(t, "sensor_signal", p.Name())
	assert.Equal(t, ts, p.Time())
	require.Len(t, p.TagList(), 2)
	require.Len(t, p.FieldList(), 1)
	assert.Equal(t, "x", p.FieldList()[0].Key)
	assert.Equal(t, 1.5, p.FieldList()[0].Value)
}

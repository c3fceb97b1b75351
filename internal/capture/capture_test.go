package capture

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/board"
	"github.com/KevinKickass/OpenSensorCore/internal/sensor/magnetometer"
	"github.com/KevinKickass/OpenSensorCore/internal/types"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var bfieldPacket = []byte{0x15, 0x05, 0xa0, 0x00, 0xe0, 0xff, 0x10, 0x00}

func TestWriteAndRead(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, zap.NewNop())

	ts := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	w.Tap(bfieldPacket, ts)
	w.Tap([]byte{0x11, 0x8c, 0x63, 0x0c, 0x10}, ts.Add(time.Second))
	w.Tap([]byte{0x11}, ts)
	assert.Equal(t, uint64(2), w.Written())

	r := NewReader(&buf)
	first, err := r.Next()
	require.NoError(t, err)

	want := Record{Timestamp: ts, Module: 0x15, Register: 0x05, Payload: bfieldPacket[2:]}
	if diff := cmp.Diff(want, first); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, bfieldPacket, first.Packet())

	second, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, uint8(0x8c), second.Register)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFileWriterAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.cbor")

	for i := 0; i < 2; i++ {
		w, err := CreateFile(path, zap.NewNop())
		require.NoError(t, err)
		w.Tap(bfieldPacket, time.Now())
		require.NoError(t, w.Close())
		require.NoError(t, w.Close())
	}

	r, err := OpenFile(path)
	require.NoError(t, err)
	defer r.Close()

	n, err := Replay(context.Background(), r, func([]byte) {}, ReplayOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestReplayIntoBoard(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, zap.NewNop())
	w.Tap(bfieldPacket, time.Now())
	w.Tap([]byte{0x13, 0x05, 0x00}, time.Now())

	b := board.New("replay", &board.CommandRecorder{}, board.Present(types.ModuleMagnetometer), zap.NewNop())
	require.NoError(t, b.Initialize(magnetometer.New()))

	n, err := Replay(context.Background(), NewReader(&buf), b.OnRawPacket, ReplayOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	s, _ := magnetometer.BFieldSignal(b)
	last, ok := s.LastValue()
	require.True(t, ok)
	assert.Equal(t, types.CartesianFloat{X: 10, Y: -2, Z: 1}, last.Value)
	assert.Equal(t, board.Stats{Routed: 1, Unroutable: 1}, b.Stats())
}

func TestReplayHonorsContext(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, zap.NewNop())
	start := time.Now()
	w.Tap(bfieldPacket, start)
	w.Tap(bfieldPacket, start.Add(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	n, err := Replay(ctx, NewReader(&buf), func([]byte) {}, ReplayOptions{Speed: 1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, n)
}

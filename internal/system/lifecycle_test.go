package system

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/capture"
	"github.com/KevinKickass/OpenSensorCore/internal/config"
	"github.com/KevinKickass/OpenSensorCore/internal/sensor/magnetometer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestValidateTransition(t *testing.T) {
	assert.NoError(t, ValidateTransition(StateInitializing, StateRunning))
	assert.NoError(t, ValidateTransition(StateRunning, StateStopping))
	assert.NoError(t, ValidateTransition(StateStopping, StateStopped))
	assert.NoError(t, ValidateTransition(StateError, StateStopped))

	assert.Error(t, ValidateTransition(StateStopped, StateRunning))
	assert.Error(t, ValidateTransition(StateRunning, StateInitializing))
	assert.Error(t, ValidateTransition(SystemState(42), StateRunning))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "RUNNING", StateRunning.String())
	assert.Equal(t, "UNKNOWN", SystemState(42).String())
}

func replayFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bench.cbor")
	w, err := capture.CreateFile(path, zap.NewNop())
	require.NoError(t, err)
	w.Tap([]byte{0x15, 0x05, 0xa0, 0x00, 0xe0, 0xff, 0x10, 0x00}, time.Now())
	require.NoError(t, w.Close())
	return path
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ShutdownTimeout: 5 * time.Second},
		Recorder: config.RecorderConfig{
			Enabled:       true,
			BatchSize:     10,
			FlushInterval: 50 * time.Millisecond,
			StatsWindow:   16,
		},
		BoardProfiles: config.BoardProfilesConfig{SearchPaths: []string{"../../configs/boards"}},
		Boards: []config.BoardConfig{
			{Name: "bench", Profile: "metamotion-r", Replay: replayFile(t)},
			{Name: "broken", Profile: "missing", Replay: "missing.cbor"},
		},
	}
}

func TestLifecycleStartAndShutdown(t *testing.T) {
	lm, err := NewLifecycleManager(nil, testConfig(t), zap.NewNop())
	require.NoError(t, err)

	statusCh := lm.SubscribeStatus()
	require.NoError(t, lm.Start())

	assert.Equal(t, StateRunning, lm.State())
	assert.Nil(t, lm.Storage())
	require.NotNil(t, lm.Recorder())

	// the broken board is skipped
	status := lm.GetCurrentStatus()
	assert.Equal(t, "RUNNING", status.State)
	assert.Equal(t, 1, status.BoardCount)
	assert.Equal(t, 0, status.ConnectedBoards)
	assert.Equal(t, 9, status.SignalCount)

	inst, ok := lm.BoardManager().GetBoardByName("bench")
	require.True(t, ok)
	bfield, ok := magnetometer.BFieldSignal(inst.Board)
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok := bfield.LastValue()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	// the recorder is attached before the replay starts
	assert.Eventually(t, func() bool {
		stats, ok := lm.Recorder().Stats("bench", bfield.Header())
		return ok && stats["x"].Count == 1
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, lm.Shutdown(ctx))
	assert.Equal(t, StateStopped, lm.State())

	select {
	case <-lm.Done():
	default:
		t.Fatal("Done not closed after shutdown")
	}

	var states []SystemState
	for len(statusCh) > 0 {
		states = append(states, (<-statusCh).State)
	}
	assert.Equal(t, []SystemState{StateInitializing, StateRunning, StateStopping, StateStopped}, states)

	// second shutdown is a no-op
	assert.NoError(t, lm.Shutdown(ctx))
	lm.UnsubscribeStatus(statusCh)
}

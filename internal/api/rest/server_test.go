package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/KevinKickass/OpenSensorCore/internal/api/websocket"
	"github.com/KevinKickass/OpenSensorCore/internal/auth"
	"github.com/KevinKickass/OpenSensorCore/internal/board"
	"github.com/KevinKickass/OpenSensorCore/internal/boards"
	"github.com/KevinKickass/OpenSensorCore/internal/config"
	"github.com/KevinKickass/OpenSensorCore/internal/interfaces"
	"github.com/KevinKickass/OpenSensorCore/internal/recorder"
	"github.com/KevinKickass/OpenSensorCore/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLifecycle struct {
	cfg      *config.Config
	boards   *boards.Manager
	recorder *recorder.Recorder
	shutdown chan struct{}
}

func (f *fakeLifecycle) Config() *config.Config           { return f.cfg }
func (f *fakeLifecycle) Storage() *storage.PostgresClient { return nil }
func (f *fakeLifecycle) BoardManager() *boards.Manager    { return f.boards }
func (f *fakeLifecycle) Recorder() *recorder.Recorder     { return f.recorder }

func (f *fakeLifecycle) GetCurrentStatus() interfaces.SystemStatus {
	return interfaces.SystemStatus{State: "RUNNING", BoardCount: len(f.boards.ListBoards())}
}

func (f *fakeLifecycle) Shutdown(ctx context.Context) error {
	close(f.shutdown)
	return nil
}

type testEnv struct {
	server   *Server
	commands *board.CommandRecorder
	lm       *fakeLifecycle
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	mgr, err := boards.NewManager([]string{"../../../configs/boards"}, config.TransportConfig{}, logger)
	require.NoError(t, err)
	profile, err := mgr.LoadProfile("metamotion-r")
	require.NoError(t, err)

	commands := &board.CommandRecorder{}
	inst, err := mgr.AttachBoard("bench", profile, commands)
	require.NoError(t, err)

	rec := recorder.New(config.RecorderConfig{StatsWindow: 16}, nil, logger)
	rec.Attach(inst.Board)

	authService, err := auth.NewService(config.AuthConfig{}, logger)
	require.NoError(t, err)

	lm := &fakeLifecycle{
		cfg:      &config.Config{},
		boards:   mgr,
		recorder: rec,
		shutdown: make(chan struct{}),
	}
	server := NewServer(lm.cfg, lm, logger, websocket.NewHub(logger, authService), authService)

	return &testEnv{server: server, commands: commands, lm: lm}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)

	var decoded map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded), w.Body.String())
	}
	return w, decoded
}

func errorCode(body map[string]interface{}) string {
	e, _ := body["error"].(map[string]interface{})
	code, _ := e["code"].(string)
	return code
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w, body := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestListAndGetBoards(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodGet, "/api/v1/boards", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["count"])

	w, body = env.do(t, http.MethodGet, "/api/v1/boards/bench", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MetaMotion R", body["model"])
	assert.Equal(t, true, body["initialized"])
	assert.NotContains(t, body, "transport")

	w, body = env.do(t, http.MethodGet, "/api/v1/boards/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "BOARD_404", errorCode(body))
}

func TestMagnetometerPreset(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, http.MethodPost, "/api/v1/boards/bench/magnetometer/preset", jsonBody{"preset": "high_accuracy"})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, [][]byte{{0x15, 0x04, 0x17, 0x52}, {0x15, 0x03, 0x05}}, env.commands.Commands())

	env.commands.Reset()
	w, body := env.do(t, http.MethodPost, "/api/v1/boards/bench/magnetometer/preset", jsonBody{"preset": "turbo"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "SENSOR_400", errorCode(body))
	assert.Empty(t, env.commands.Commands())
}

func TestMagnetometerConfigure(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, http.MethodPost, "/api/v1/boards/bench/magnetometer/configure",
		jsonBody{"xy_reps": 9, "z_reps": 15, "odr_hz": 10})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, [][]byte{{0x15, 0x04, 0x04, 0x0e}, {0x15, 0x03, 0x00}}, env.commands.Commands())

	w, _ = env.do(t, http.MethodPost, "/api/v1/boards/bench/magnetometer/configure",
		jsonBody{"xy_reps": 9, "z_reps": 15, "odr_hz": 11})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAbsentModuleConflict(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodPost, "/api/v1/boards/bench/color/read", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "BOARD_409", errorCode(body))
	assert.Empty(t, env.commands.Commands())
}

func TestFusionConfigAndStart(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodPut, "/api/v1/boards/bench/fusion/config",
		jsonBody{"mode": "ndof", "acc_range_g": 8, "gyro_range_dps": 500})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ndof", body["mode"])
	assert.Equal(t, []byte{0x19, 0x02, 0x01, 0x32}, env.commands.Last())

	w, _ = env.do(t, http.MethodPut, "/api/v1/boards/bench/fusion/config", jsonBody{"mode": "ndof", "acc_range_g": 3})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.commands.Reset()
	w, _ = env.do(t, http.MethodPost, "/api/v1/boards/bench/fusion/start",
		jsonBody{"outputs": []string{"corrected_acc", "quaternion"}})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, [][]byte{{0x19, 0x03, 0x09, 0x00}, {0x19, 0x01, 0x01}}, env.commands.Commands())

	w, body = env.do(t, http.MethodGet, "/api/v1/boards/bench/fusion/config", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"corrected_acc", "quaternion"}, body["outputs"])

	env.commands.Reset()
	w, _ = env.do(t, http.MethodPost, "/api/v1/boards/bench/fusion/stop", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, [][]byte{{0x19, 0x01, 0x00}, {0x19, 0x03, 0x00, 0x7f}}, env.commands.Commands())
}

func TestFusionStateUnchangedWhenSendFails(t *testing.T) {
	env := newTestEnv(t)
	env.commands.SetError(errors.New("port closed"))

	w, body := env.do(t, http.MethodPut, "/api/v1/boards/bench/fusion/config",
		jsonBody{"mode": "ndof", "acc_range_g": 8, "gyro_range_dps": 500})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "BOARD_502", errorCode(body))

	w, _ = env.do(t, http.MethodPost, "/api/v1/boards/bench/fusion/start",
		jsonBody{"outputs": []string{"quaternion"}})
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w, body = env.do(t, http.MethodGet, "/api/v1/boards/bench/fusion/config", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sleep", body["mode"])
	assert.Equal(t, 2.0, body["acc_range_g"])
	assert.Equal(t, 2000.0, body["gyro_range_dps"])
	assert.Equal(t, []interface{}{}, body["outputs"])
}

func TestInjectPacketAndReadSignal(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, http.MethodPost, "/api/v1/boards/bench/packets", jsonBody{"hex": "15 05 a0 00 e0 ff 10 00"})
	require.Equal(t, http.StatusAccepted, w.Code)

	w, body := env.do(t, http.MethodGet, "/api/v1/boards/bench/signals/15:05", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "composite", body["kind"])
	assert.Equal(t, float64(3), body["components"])

	last := body["last"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"x": 10.0, "y": -2.0, "z": 1.0}, last["fields"])

	stats := body["stats"].(map[string]interface{})
	x := stats["x"].(map[string]interface{})
	assert.Equal(t, float64(1), x["count"])

	w, _ = env.do(t, http.MethodPost, "/api/v1/boards/bench/packets", jsonBody{"hex": "15"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = env.do(t, http.MethodPost, "/api/v1/boards/bench/packets", jsonBody{"hex": "zz"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSignalLookupErrors(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, http.MethodGet, "/api/v1/boards/bench/signals/nope", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// color detector is absent on this board
	w, body := env.do(t, http.MethodGet, "/api/v1/boards/bench/signals/17:81", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "SIGNAL_404", errorCode(body))

	w, body = env.do(t, http.MethodGet, "/api/v1/boards/bench/signals", nil)
	require.Equal(t, http.StatusOK, w.Code)
	// magnetometer, battery and 7 fusion outputs
	assert.Equal(t, float64(9), body["count"])
}

func TestIBeaconConfigure(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, http.MethodPut, "/api/v1/boards/bench/ibeacon", jsonBody{"major": 78, "enabled": true})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, [][]byte{{0x07, 0x03, 0x4e, 0x00}, {0x07, 0x01, 0x01}}, env.commands.Commands())

	w, _ = env.do(t, http.MethodPut, "/api/v1/boards/bench/ibeacon", jsonBody{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = env.do(t, http.MethodPut, "/api/v1/boards/bench/ibeacon", jsonBody{"uuid": "not-a-uuid"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSamplesWithoutStorage(t *testing.T) {
	env := newTestEnv(t)
	w, body := env.do(t, http.MethodGet, "/api/v1/boards/bench/samples", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "DB_503", errorCode(body))
}

func TestProfiles(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodGet, "/api/v1/profiles", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"metamotion-r", "metawear-c"}, body["profiles"])

	w, body = env.do(t, http.MethodGet, "/api/v1/profiles/metawear-c", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MetaWear C", body["board"].(map[string]interface{})["model"])

	w, _ = env.do(t, http.MethodGet, "/api/v1/profiles/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTokenRejectedWithoutKeys(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodPost, "/api/v1/auth/token", jsonBody{"api_key": "osc_invalid"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTH_401", errorCode(body))

	w, body = env.do(t, http.MethodGet, "/api/v1/auth/me", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["auth_enabled"])
}

func TestSystemStatus(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodGet, "/api/v1/system/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "RUNNING", body["state"])
	assert.Equal(t, float64(1), body["board_count"])
}

// jsonBody is a shorthand for JSON request bodies
type jsonBody map[string]interface{}

package interfaces

import (
	"context"

	"github.com/KevinKickass/OpenSensorCore/internal/boards"
	"github.com/KevinKickass/OpenSensorCore/internal/config"
	"github.com/KevinKickass/OpenSensorCore/internal/recorder"
	"github.com/KevinKickass/OpenSensorCore/internal/storage"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State           string `json:"state"`
	BoardCount      int    `json:"board_count"`
	ConnectedBoards int    `json:"connected_boards"`
	SignalCount     int    `json:"signal_count"`
	SamplesFlushed  uint64 `json:"samples_flushed"`
	SamplesDropped  uint64 `json:"samples_dropped"`
}

type LifecycleManager interface {
	Config() *config.Config
	// Storage is nil when the database is disabled
	Storage() *storage.PostgresClient
	BoardManager() *boards.Manager
	// Recorder is nil when recording is disabled
	Recorder() *recorder.Recorder
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}

package boards

import (
	"sync"

	"github.com/KevinKickass/OpenSensorCore/internal/board"
	"github.com/KevinKickass/OpenSensorCore/internal/capture"
	"github.com/KevinKickass/OpenSensorCore/internal/discovery"
	"github.com/KevinKickass/OpenSensorCore/internal/sensor/color"
	"github.com/KevinKickass/OpenSensorCore/internal/sensor/fusion"
	"github.com/KevinKickass/OpenSensorCore/internal/sensor/magnetometer"
	"github.com/KevinKickass/OpenSensorCore/internal/sensor/settings"
	"github.com/KevinKickass/OpenSensorCore/internal/transport"
)

// Instance is one attached board with its connection and helpers
type Instance struct {
	Board   *board.Board
	Profile *discovery.Profile
	Fusion  *fusion.Module
	Source  string // serial port or replay file

	transport  *transport.Transport
	capture    *capture.Writer
	replay     *capture.Reader
	stopReplay func()

	mu     sync.Mutex
	poller *board.Poller
	start  func() error // pending packet delivery, nil once started
}

// Modules returns the sensor modules initialized on every board. Fusion
// keeps per-board configuration, so each board gets its own instance.
func Modules(f *fusion.Module) []board.Module {
	return []board.Module{
		magnetometer.New(),
		f,
		color.New(),
		settings.New(),
	}
}

// TransportStats returns the serial statistics, ok is false for replayed
// boards.
func (i *Instance) TransportStats() (transport.Stats, bool) {
	if i.transport == nil {
		return transport.Stats{}, false
	}
	return i.transport.Stats(), true
}

// Polling reports whether the battery poller runs
func (i *Instance) Polling() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.poller != nil && i.poller.IsRunning()
}

// setPoller installs p and returns the previous poller, if any
func (i *Instance) setPoller(p *board.Poller) *board.Poller {
	i.mu.Lock()
	defer i.mu.Unlock()
	old := i.poller
	i.poller = p
	return old
}

// takeStart returns the pending start function and clears it
func (i *Instance) takeStart() func() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	start := i.start
	i.start = nil
	return start
}

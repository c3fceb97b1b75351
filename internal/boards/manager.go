// Package boards manages the attached boards: profile loading, transport,
// module initialization, capture and periodic polling.
package boards

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/board"
	"github.com/KevinKickass/OpenSensorCore/internal/capture"
	"github.com/KevinKickass/OpenSensorCore/internal/config"
	"github.com/KevinKickass/OpenSensorCore/internal/discovery"
	"github.com/KevinKickass/OpenSensorCore/internal/sensor/fusion"
	"github.com/KevinKickass/OpenSensorCore/internal/sensor/settings"
	"github.com/KevinKickass/OpenSensorCore/internal/transport"
	"github.com/KevinKickass/OpenSensorCore/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Manager struct {
	loader   *discovery.ProfileLoader
	portOpts transport.PortOptions
	openPort func(path string) (*transport.Transport, error)
	boards   map[uuid.UUID]*Instance
	mu       sync.RWMutex
	wg       sync.WaitGroup
	logger   *zap.Logger
}

func NewManager(searchPaths []string, transportCfg config.TransportConfig, logger *zap.Logger) (*Manager, error) {
	loader, err := discovery.NewProfileLoader(searchPaths)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile loader: %w", err)
	}

	m := &Manager{
		loader: loader,
		portOpts: transport.PortOptions{
			BaudRate:    transportCfg.BaudRate,
			DataBits:    transportCfg.DataBits,
			StopBits:    transportCfg.StopBits,
			Parity:      transportCfg.Parity,
			ReadTimeout: transportCfg.ReadTimeout,
		},
		boards: make(map[uuid.UUID]*Instance),
		logger: logger,
	}
	m.openPort = func(path string) (*transport.Transport, error) {
		return transport.Open(path, m.portOpts, m.logger)
	}
	return m, nil
}

// LoadBoard loads the profile, opens the serial bridge (or the replay file)
// and initializes the board. The board receives no packets until StartBoard,
// so subscribers attached in between see every packet.
func (m *Manager) LoadBoard(cfg config.BoardConfig) (*Instance, error) {
	if _, exists := m.GetBoardByName(cfg.Name); exists {
		return nil, fmt.Errorf("board already loaded: %s", cfg.Name)
	}

	// Load profile (lazy)
	profile, err := m.loader.Load(cfg.Profile)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %s: %w", cfg.Profile, err)
	}

	if cfg.Replay != "" {
		return m.loadReplay(cfg, profile)
	}

	tr, err := m.openPort(cfg.Port)
	if err != nil {
		return nil, err
	}

	inst, err := m.AttachBoard(cfg.Name, profile, tr)
	if err != nil {
		tr.Stop()
		return nil, err
	}
	inst.Source = cfg.Port
	inst.transport = tr

	if cfg.CaptureFile != "" {
		w, err := capture.CreateFile(cfg.CaptureFile, m.logger)
		if err != nil {
			m.logger.Error("Failed to open capture file, capture disabled",
				zap.String("board", cfg.Name),
				zap.String("file", cfg.CaptureFile),
				zap.Error(err))
		} else {
			inst.capture = w
			tr.SetTap(w.Tap)
		}
	}

	inst.start = func() error {
		if err := tr.Start(inst.Board.OnRawPacket); err != nil {
			return fmt.Errorf("failed to start transport: %w", err)
		}

		if cfg.BatteryPollInterval > 0 {
			if err := m.StartPoller(inst.Board.ID, cfg.BatteryPollInterval); err != nil {
				m.logger.Warn("Battery polling disabled",
					zap.String("board", cfg.Name),
					zap.Error(err))
			}
		}
		return nil
	}

	m.logger.Info("Board loaded",
		zap.String("name", cfg.Name),
		zap.String("profile", cfg.Profile),
		zap.String("port", cfg.Port))

	return inst, nil
}

// loadReplay attaches a board fed from a capture file. Commands are
// recorded, nothing is transmitted.
func (m *Manager) loadReplay(cfg config.BoardConfig, profile *discovery.Profile) (*Instance, error) {
	reader, err := capture.OpenFile(cfg.Replay)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay %s: %w", cfg.Replay, err)
	}

	inst, err := m.AttachBoard(cfg.Name, profile, &board.CommandRecorder{})
	if err != nil {
		reader.Close()
		return nil, err
	}
	inst.Source = cfg.Replay
	inst.replay = reader

	ctx, cancel := context.WithCancel(context.Background())
	inst.stopReplay = cancel

	inst.start = func() error {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer reader.Close()

			n, err := capture.Replay(ctx, reader, inst.Board.OnRawPacket, capture.ReplayOptions{Speed: 1})
			if err != nil && ctx.Err() == nil {
				m.logger.Error("Replay failed",
					zap.String("board", cfg.Name),
					zap.Int("packets", n),
					zap.Error(err))
				return
			}
			m.logger.Info("Replay finished",
				zap.String("board", cfg.Name),
				zap.Int("packets", n))
		}()
		return nil
	}

	m.logger.Info("Replay board loaded",
		zap.String("name", cfg.Name),
		zap.String("profile", cfg.Profile),
		zap.String("file", cfg.Replay))

	return inst, nil
}

// StartBoard starts packet delivery of a loaded board. A board that fails to
// start is removed and its transport and capture file are closed. Boards
// created with AttachBoard and boards already started are left alone.
func (m *Manager) StartBoard(inst *Instance) error {
	start := inst.takeStart()
	if start == nil {
		return nil
	}

	if err := start(); err != nil {
		m.mu.Lock()
		delete(m.boards, inst.Board.ID)
		m.mu.Unlock()

		m.release(inst)
		return fmt.Errorf("board %s: %w", inst.Board.Name, err)
	}
	return nil
}

// AttachBoard creates and initializes a board on an existing sender. The
// caller delivers received packets to the board.
func (m *Manager) AttachBoard(name string, profile *discovery.Profile, sender board.Sender) (*Instance, error) {
	b := board.New(name, sender, profile, m.logger)
	fm := fusion.New()

	if err := b.Initialize(Modules(fm)...); err != nil {
		return nil, fmt.Errorf("failed to initialize board %s: %w", name, err)
	}

	inst := &Instance{
		Board:   b,
		Profile: profile,
		Fusion:  fm,
	}

	m.mu.Lock()
	m.boards[b.ID] = inst
	m.mu.Unlock()

	return inst, nil
}

// StartPoller starts periodic battery reads for a board
func (m *Manager) StartPoller(boardID uuid.UUID, interval time.Duration) error {
	m.mu.RLock()
	inst, exists := m.boards[boardID]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("board not found: %s", boardID)
	}
	if !inst.Board.Supports(types.ModuleSettings) {
		return fmt.Errorf("%w: %s", board.ErrUnsupportedFeature, types.ModuleSettings)
	}

	poller := board.NewPoller(inst.Board, "battery", interval,
		[]board.Command{settings.ReadBatteryCommand()}, m.logger)
	if err := poller.Start(); err != nil {
		return fmt.Errorf("failed to start poller: %w", err)
	}

	if old := inst.setPoller(poller); old != nil {
		old.Stop()
	}

	return nil
}

// ListProfiles returns the board profiles available in the search paths
func (m *Manager) ListProfiles() ([]string, error) {
	return m.loader.List()
}

// LoadProfile resolves a board profile by name
func (m *Manager) LoadProfile(name string) (*discovery.Profile, error) {
	return m.loader.Load(name)
}

// GetBoard returns board by ID
func (m *Manager) GetBoard(boardID uuid.UUID) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, exists := m.boards[boardID]
	return inst, exists
}

// GetBoardByName returns board by name
func (m *Manager) GetBoardByName(name string) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, inst := range m.boards {
		if inst.Board.Name == name {
			return inst, true
		}
	}

	return nil, false
}

// ListBoards returns all boards ordered by name
func (m *Manager) ListBoards() []*Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	boards := make([]*Instance, 0, len(m.boards))
	for _, inst := range m.boards {
		boards = append(boards, inst)
	}
	sort.Slice(boards, func(i, j int) bool {
		return boards[i].Board.Name < boards[j].Board.Name
	})

	return boards
}

// StopAll stops pollers, replays and transports and closes capture files
func (m *Manager) StopAll(ctx context.Context) error {
	for _, inst := range m.ListBoards() {
		m.release(inst)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release stops everything the instance owns. Safe to call more than once.
func (m *Manager) release(inst *Instance) {
	if p := inst.setPoller(nil); p != nil {
		p.Stop()
	}

	// a replay reader that was never started has no goroutine closing it
	notStarted := inst.takeStart() != nil
	if inst.stopReplay != nil {
		inst.stopReplay()
	}
	if notStarted && inst.replay != nil {
		inst.replay.Close()
	}

	if inst.transport != nil {
		if err := inst.transport.Stop(); err != nil {
			m.logger.Debug("Failed to close transport",
				zap.String("board", inst.Board.Name),
				zap.Error(err))
		}
	}
	if inst.capture != nil {
		inst.capture.Close()
	}
}

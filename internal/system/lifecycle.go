package system

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	apigrpc "github.com/KevinKickass/OpenSensorCore/internal/api/grpc"
	"github.com/KevinKickass/OpenSensorCore/internal/api/rest"
	"github.com/KevinKickass/OpenSensorCore/internal/api/websocket"
	"github.com/KevinKickass/OpenSensorCore/internal/auth"
	"github.com/KevinKickass/OpenSensorCore/internal/boards"
	"github.com/KevinKickass/OpenSensorCore/internal/config"
	"github.com/KevinKickass/OpenSensorCore/internal/interfaces"
	"github.com/KevinKickass/OpenSensorCore/internal/recorder"
	"github.com/KevinKickass/OpenSensorCore/internal/storage"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// board_status / system_status push interval for websocket clients
const statusInterval = 5 * time.Second

type LifecycleManager struct {
	config       *config.Config
	storage      *storage.PostgresClient
	boardManager *boards.Manager
	recorder     *recorder.Recorder
	influxSink   *recorder.InfluxSink
	authService  *auth.Service
	wsHub        *websocket.Hub
	logger       *zap.Logger

	restServer *rest.Server
	grpcServer *grpc.Server

	stateMu      sync.RWMutex
	currentState SystemState
	lastError    string

	listenersMu     sync.RWMutex
	statusListeners []chan SystemStatus

	stopStatus   chan struct{}
	statusWg     sync.WaitGroup
	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycleManager wires all components. db is nil when the database is
// disabled; samples then go to Influx only, if configured.
func NewLifecycleManager(
	db *storage.PostgresClient,
	cfg *config.Config,
	logger *zap.Logger,
) (*LifecycleManager, error) {
	boardManager, err := boards.NewManager(cfg.BoardProfiles.SearchPaths, cfg.Transport, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create board manager: %w", err)
	}

	authService, err := auth.NewService(cfg.Auth, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth service: %w", err)
	}

	lm := &LifecycleManager{
		config:          cfg,
		storage:         db,
		boardManager:    boardManager,
		authService:     authService,
		wsHub:           websocket.NewHub(logger, authService),
		logger:          logger,
		currentState:    StateInitializing,
		stopStatus:      make(chan struct{}),
		shutdownChan:    make(chan struct{}),
		statusListeners: make([]chan SystemStatus, 0),
	}

	if cfg.Recorder.Enabled {
		var sinks []recorder.Sink
		if db != nil {
			sinks = append(sinks, recorder.NewPostgresSink(db))
		}
		if cfg.Influx.Enabled {
			lm.influxSink = recorder.NewInfluxSink(cfg.Influx)
			sinks = append(sinks, lm.influxSink)
		}
		lm.recorder = recorder.New(cfg.Recorder, sinks, logger)
	}

	return lm, nil
}

// Start starts the entire system
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting OpenSensorCore")
	lm.broadcastStatus()

	if lm.storage != nil && lm.config.Database.Migrate {
		if err := lm.storage.MigrateUp(lm.logger); err != nil {
			lm.setError(fmt.Errorf("failed to migrate database: %w", err))
			return err
		}
	}

	go lm.wsHub.Run()

	if lm.recorder != nil {
		if err := lm.recorder.Start(); err != nil {
			lm.setError(fmt.Errorf("failed to start recorder: %w", err))
			return err
		}
	}

	lm.loadBoards()

	if err := lm.startGRPCServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start gRPC: %w", err))
		return err
	}

	if err := lm.startRESTServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	lm.statusWg.Add(1)
	go lm.statusLoop()

	lm.setState(StateRunning)
	lm.broadcastStatus()

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Int("boards", len(lm.boardManager.ListBoards())),
		zap.Bool("recorder_enabled", lm.recorder != nil),
		zap.Bool("auth_enabled", lm.authService.Enabled()))

	return nil
}

// loadBoards attaches all configured boards. Consumers subscribe before a
// board starts delivering packets. A board that fails to load or start is
// logged and skipped.
func (lm *LifecycleManager) loadBoards() {
	lm.logger.Info("Loading boards", zap.Int("count", len(lm.config.Boards)))

	for _, cfg := range lm.config.Boards {
		inst, err := lm.boardManager.LoadBoard(cfg)
		if err != nil {
			lm.logger.Error("Failed to load board",
				zap.String("board", cfg.Name),
				zap.String("profile", cfg.Profile),
				zap.Error(err))
			continue
		}

		if lm.recorder != nil {
			lm.recorder.Attach(inst.Board)
		}
		lm.wsHub.AttachBoard(inst.Board)

		if err := lm.boardManager.StartBoard(inst); err != nil {
			lm.logger.Error("Failed to start board",
				zap.String("board", cfg.Name),
				zap.Error(err))
			if lm.recorder != nil {
				lm.recorder.Detach(inst.Board)
			}
			lm.wsHub.DetachBoard(inst.Board)
		}
	}
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.setState(StateStopping)
		lm.broadcastStatus()

		shutdownErr = lm.gracefulShutdown(ctx)
		if shutdownErr != nil {
			lm.setError(shutdownErr)
		}

		lm.setState(StateStopped)
		lm.broadcastStatus()

		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown has completed
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	close(lm.stopStatus)
	lm.statusWg.Wait()

	var wg sync.WaitGroup
	errChan := make(chan error, 3)

	// 1. Stop boards (pollers, transports, replays)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, inst := range lm.boardManager.ListBoards() {
			lm.wsHub.DetachBoard(inst.Board)
			if lm.recorder != nil {
				lm.recorder.Detach(inst.Board)
			}
		}
		if err := lm.boardManager.StopAll(ctx); err != nil {
			errChan <- fmt.Errorf("board manager stop failed: %w", err)
		}
	}()

	// 2. REST API Server graceful shutdown
	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	// 3. gRPC Server graceful stop, open streams end with the server
	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.logger.Info("Stopping gRPC server")
			stopped := make(chan struct{})
			go func() {
				lm.grpcServer.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-ctx.Done():
				lm.grpcServer.Stop()
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		lm.logger.Info("Graceful shutdown completed")
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		err = fmt.Errorf("shutdown timeout exceeded")
	case err = <-errChan:
	}

	// Stop flushes pending samples, sinks must still be open
	if lm.recorder != nil {
		lm.recorder.Stop()
	}
	if lm.influxSink != nil {
		lm.influxSink.Close()
	}
	lm.wsHub.Stop()

	return err
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = grpc.NewServer()
	apigrpc.Register(lm.grpcServer, apigrpc.NewSignalServer(lm.boardManager, lm.logger))

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.String("address", lis.Addr().String()),
			zap.String("services", apigrpc.ServiceName))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger, lm.wsHub, lm.authService)
	return lm.restServer.Start()
}

// statusLoop pushes board counters and system status to websocket clients
func (lm *LifecycleManager) statusLoop() {
	defer lm.statusWg.Done()

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-lm.stopStatus:
			return
		case <-ticker.C:
			if lm.wsHub.GetClientCount() == 0 {
				continue
			}
			for _, inst := range lm.boardManager.ListBoards() {
				stats := inst.Board.Stats()
				lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeBoardStatus, websocket.BoardStatusData{
					Board:        inst.Board.Name,
					Initialized:  inst.Board.Initialized(),
					Routed:       stats.Routed,
					Unroutable:   stats.Unroutable,
					DecodeErrors: stats.DecodeErrors,
				}))
			}
			lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeSystemStatus, lm.GetCurrentStatus()))
		}
	}
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Unexpected state transition", zap.Error(err))
	}
	lm.currentState = state
}

func (lm *LifecycleManager) setError(err error) {
	lm.stateMu.Lock()
	lm.currentState = StateError
	lm.lastError = err.Error()
	lm.stateMu.Unlock()

	lm.logger.Error("System error", zap.Error(err))
	lm.broadcastStatus()
}

// State returns the current lifecycle state
func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	status := interfaces.SystemStatus{State: lm.State().String()}

	for _, inst := range lm.boardManager.ListBoards() {
		status.BoardCount++
		if _, live := inst.TransportStats(); live {
			status.ConnectedBoards++
		}
		status.SignalCount += len(inst.Board.Signals())
	}

	if lm.recorder != nil {
		status.SamplesFlushed, status.SamplesDropped = lm.recorder.Counters()
	}
	return status
}

func (lm *LifecycleManager) getStatusInternal() SystemStatus {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()

	return SystemStatus{
		State:     lm.currentState,
		Timestamp: time.Now().Unix(),
		Error:     lm.lastError,
	}
}

func (lm *LifecycleManager) broadcastStatus() {
	status := lm.getStatusInternal()

	lm.listenersMu.RLock()
	defer lm.listenersMu.RUnlock()

	for _, listener := range lm.statusListeners {
		select {
		case listener <- status:
		default:
			// Channel full, skip
		}
	}
}

// SubscribeStatus subscribes to status updates
func (lm *LifecycleManager) SubscribeStatus() chan SystemStatus {
	ch := make(chan SystemStatus, 10)

	lm.listenersMu.Lock()
	lm.statusListeners = append(lm.statusListeners, ch)
	lm.listenersMu.Unlock()

	return ch
}

// UnsubscribeStatus unsubscribes from status updates
func (lm *LifecycleManager) UnsubscribeStatus(ch chan SystemStatus) {
	lm.listenersMu.Lock()
	defer lm.listenersMu.Unlock()

	for i, listener := range lm.statusListeners {
		if listener == ch {
			lm.statusListeners = append(lm.statusListeners[:i], lm.statusListeners[i+1:]...)
			close(ch)
			break
		}
	}
}

// BoardManager returns the board manager
func (lm *LifecycleManager) BoardManager() *boards.Manager {
	return lm.boardManager
}

// Recorder returns the sample recorder, nil if disabled
func (lm *LifecycleManager) Recorder() *recorder.Recorder {
	return lm.recorder
}

// Storage returns the storage client
func (lm *LifecycleManager) Storage() *storage.PostgresClient {
	return lm.storage
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

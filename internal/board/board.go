package board

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/KevinKickass/OpenSensorCore/internal/signal"
	"github.com/KevinKickass/OpenSensorCore/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrUnsupportedFeature is returned for configuration calls targeting a
// module the board does not have. Nothing is sent in that case.
var ErrUnsupportedFeature = errors.New("feature not supported by board")

// Sender transmits raw command bytes to the board. Fire-and-forget;
// responses arrive later through OnPacket.
type Sender interface {
	Send(data []byte) error
}

// ModuleInfoProvider answers presence queries from board discovery.
type ModuleInfoProvider interface {
	ModuleInfo(id types.ModuleID) (types.ModuleInfo, bool)
}

// Module is implemented by each sensor module. Init registers the module's
// signals (including components) and returns the headers to route.
type Module interface {
	ID() types.ModuleID
	Init(registry *signal.Registry, info types.ModuleInfo) ([]types.ResponseHeader, error)
}

// Stats counts packet routing outcomes
type Stats struct {
	Routed       uint64 `json:"routed"`
	Unroutable   uint64 `json:"unroutable"`
	DecodeErrors uint64 `json:"decode_errors"`
}

// Board owns the signal registry and dispatch table of one physical board.
type Board struct {
	ID   uuid.UUID
	Name string

	sender   Sender
	modules  ModuleInfoProvider
	registry *signal.Registry
	dispatch *signal.Table
	logger   *zap.Logger

	// Initialize holds the write lock, packet delivery the read lock
	mu          sync.RWMutex
	initialized bool

	routed       atomic.Uint64
	unroutable   atomic.Uint64
	decodeErrors atomic.Uint64
}

func New(name string, sender Sender, modules ModuleInfoProvider, logger *zap.Logger) *Board {
	return &Board{
		ID:       uuid.New(),
		Name:     name,
		sender:   sender,
		modules:  modules,
		registry: signal.NewRegistry(),
		dispatch: signal.NewTable(),
		logger:   logger.With(zap.String("board", name)),
	}
}

// Initialize runs the initialization of every module present on the board.
// Absent modules are skipped and get no registry entries. Running it again
// is safe: existing signals and components are reused.
func (b *Board) Initialize(modules ...Module) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, m := range modules {
		info, ok := b.modules.ModuleInfo(m.ID())
		if !ok || !info.Present {
			b.logger.Info("Module not present, skipping",
				zap.String("module", m.ID().String()))
			continue
		}

		headers, err := m.Init(b.registry, info)
		if err != nil {
			return fmt.Errorf("failed to initialize module %s: %w", m.ID(), err)
		}

		// Signals and components exist now, routes may be installed
		b.dispatch.MarkReady(m.ID())

		handler := signal.NewDataHandler(b.registry)
		for _, h := range headers {
			if err := b.dispatch.Install(h, handler); err != nil {
				return fmt.Errorf("failed to route %s: %w", h, err)
			}
		}

		b.logger.Info("Module initialized",
			zap.String("module", m.ID().String()),
			zap.Uint8("revision", info.ImplementationRevision),
			zap.Int("routes", len(headers)))
	}

	b.initialized = true
	return nil
}

func (b *Board) Initialized() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.initialized
}

// OnPacket is called by the transport for every received response. Unknown
// headers are dropped; decode errors only affect this packet.
func (b *Board) OnPacket(header types.ResponseHeader, payload []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	routed, err := b.dispatch.Dispatch(header, payload)
	if !routed {
		b.unroutable.Add(1)
		b.logger.Debug("Unroutable packet dropped",
			zap.String("header", header.String()),
			zap.Int("payload_len", len(payload)))
		return
	}

	b.routed.Add(1)
	if err != nil {
		b.decodeErrors.Add(1)
		b.logger.Warn("Failed to decode packet",
			zap.String("header", header.String()),
			zap.String("payload", hex.EncodeToString(payload)),
			zap.Error(err))
	}
}

// OnRawPacket splits a raw response [module, register, payload...] and
// routes it.
func (b *Board) OnRawPacket(raw []byte) {
	if len(raw) < 2 {
		b.unroutable.Add(1)
		b.logger.Debug("Response too short, dropped", zap.Int("len", len(raw)))
		return
	}
	b.OnPacket(types.NewResponseHeader(types.ModuleID(raw[0]), raw[1]), raw[2:])
}

// GetSignal returns the subscribable signal for header. ok is false when the
// feature is not available on this board.
func (b *Board) GetSignal(header types.ResponseHeader) (*signal.DataSignal, bool) {
	return b.registry.Lookup(header)
}

// Signals returns all registered root signals ordered by header.
func (b *Board) Signals() []*signal.DataSignal {
	return b.registry.Signals()
}

// Supports reports whether the module is present on the board.
func (b *Board) Supports(module types.ModuleID) bool {
	info, ok := b.modules.ModuleInfo(module)
	return ok && info.Present
}

func (b *Board) ModuleInfo(module types.ModuleID) (types.ModuleInfo, bool) {
	return b.modules.ModuleInfo(module)
}

// Send encodes and transmits a command. Commands for absent modules are
// rejected with ErrUnsupportedFeature before anything is sent.
func (b *Board) Send(cmd Command) error {
	if !b.Supports(cmd.Module) {
		return fmt.Errorf("%w: %s", ErrUnsupportedFeature, cmd.Module)
	}

	data := cmd.Bytes()
	b.logger.Debug("Sending command", zap.String("bytes", hex.EncodeToString(data)))

	if err := b.sender.Send(data); err != nil {
		return fmt.Errorf("failed to send command to %s: %w", cmd.Module, err)
	}
	return nil
}

func (b *Board) Stats() Stats {
	return Stats{
		Routed:       b.routed.Load(),
		Unroutable:   b.unroutable.Load(),
		DecodeErrors: b.decodeErrors.Load(),
	}
}

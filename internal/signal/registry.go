package signal

import (
	"fmt"
	"sort"
	"sync"

	"github.com/KevinKickass/OpenSensorCore/internal/types"
)

// SignalID indexes a root signal in the registry arena.
type SignalID int

// Registry maps response headers to their canonical data signal. There is at
// most one signal per header and signals live as long as the registry.
type Registry struct {
	mu    sync.RWMutex
	arena []*DataSignal
	index map[types.ResponseHeader]SignalID
}

func NewRegistry() *Registry {
	return &Registry{
		index: make(map[types.ResponseHeader]SignalID),
	}
}

// EnsureRegistered returns the ID of the signal registered for header. The
// factory is only called when no signal exists yet; the header of the
// returned config is forced to header.
func (r *Registry) EnsureRegistered(header types.ResponseHeader, factory func() Config) (SignalID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.index[header]; ok {
		return id, nil
	}

	config := factory()
	config.Header = header
	if err := config.Validate(); err != nil {
		return 0, err
	}

	id := SignalID(len(r.arena))
	r.arena = append(r.arena, newDataSignal(config))
	r.index[header] = id

	return id, nil
}

// GetOrCreate is EnsureRegistered returning the signal handle.
func (r *Registry) GetOrCreate(header types.ResponseHeader, factory func() Config) (*DataSignal, error) {
	id, err := r.EnsureRegistered(header, factory)
	if err != nil {
		return nil, err
	}

	s, _ := r.Signal(id)
	return s, nil
}

// EnsureComponents populates the single-channel components of a composite
// signal. Component i decodes ValueByteSize bytes at ByteOffset+i*ValueByteSize.
// Repeated calls are no-ops once the signal is marked populated.
func (r *Registry) EnsureComponents(id SignalID) error {
	s, ok := r.Signal(id)
	if !ok {
		return fmt.Errorf("%w: id %d", ErrSignalNotFound, id)
	}
	if s.config.Kind != KindComposite {
		return fmt.Errorf("%w: %s", ErrNotComposite, s.config.Header)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.populated {
		return nil
	}

	size := s.config.ValueByteSize
	components := make([]*DataSignal, 0, s.config.ChannelCount)
	for i := uint8(0); i < s.config.ChannelCount; i++ {
		components = append(components, newDataSignal(Config{
			Header:        s.config.Header,
			Kind:          KindSingle,
			Interpreter:   s.config.ComponentInterpreter,
			Converter:     s.config.Converter,
			ChannelCount:  1,
			ValueByteSize: size,
			ByteOffset:    s.config.ByteOffset + i*size,
		}))
	}

	s.components = components
	s.populated = true

	return nil
}

// Signal returns the signal stored under id.
func (r *Registry) Signal(id SignalID) (*DataSignal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id < 0 || int(id) >= len(r.arena) {
		return nil, false
	}
	return r.arena[id], true
}

// Lookup returns the signal registered for header. A missing entry means the
// feature is unavailable on this board.
func (r *Registry) Lookup(header types.ResponseHeader) (*DataSignal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.index[header]
	if !ok {
		return nil, false
	}
	return r.arena[id], true
}

// Signals returns all root signals ordered by header.
func (r *Registry) Signals() []*DataSignal {
	r.mu.RLock()
	out := make([]*DataSignal, len(r.arena))
	copy(out, r.arena)
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].config.Header.Less(out[j].config.Header)
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.arena)
}

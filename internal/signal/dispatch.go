package signal

import (
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/types"
)

// Handler decodes a routed packet payload and notifies subscribers.
type Handler func(header types.ResponseHeader, payload []byte) error

// Table routes response headers to their handler. Entries can only be
// installed for modules marked ready, i.e. after their signals and
// components are fully constructed.
type Table struct {
	mu       sync.RWMutex
	handlers map[types.ResponseHeader]Handler
	ready    map[types.ModuleID]bool
}

func NewTable() *Table {
	return &Table{
		handlers: make(map[types.ResponseHeader]Handler),
		ready:    make(map[types.ModuleID]bool),
	}
}

// MarkReady flags a module as fully initialized.
func (t *Table) MarkReady(module types.ModuleID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ready[module] = true
}

func (t *Table) IsReady(module types.ModuleID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready[module]
}

// Install routes header to handler. Re-installing replaces the handler.
func (t *Table) Install(header types.ResponseHeader, handler Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.ready[header.Module] {
		return fmt.Errorf("%w: %s (header %s)", ErrModuleNotReady, header.Module, header)
	}
	t.handlers[header] = handler
	return nil
}

// Has reports whether header has a dispatch entry.
func (t *Table) Has(header types.ResponseHeader) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.handlers[header]
	return ok
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.handlers)
}

func (t *Table) lookup(header types.ResponseHeader) (Handler, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.handlers[header]
	return h, ok
}

// Dispatch hands the payload to the handler routed for header. Packets of
// multiplexed registers carry their sub-identifier as the first payload
// byte; they are retried under the extended header when the plain header is
// not routed. routed is false when no handler exists, which is not an error.
func (t *Table) Dispatch(header types.ResponseHeader, payload []byte) (routed bool, err error) {
	if handler, ok := t.lookup(header); ok {
		return true, handler(header, payload)
	}

	if !header.HasID && len(payload) > 0 {
		extended := header.WithID(payload[0])
		if handler, ok := t.lookup(extended); ok {
			return true, handler(extended, payload[1:])
		}
	}

	return false, nil
}

// NewDataHandler returns the standard handler: resolve the signal for the
// header, decode and publish to the signal and its components.
func NewDataHandler(registry *Registry) Handler {
	return func(header types.ResponseHeader, payload []byte) error {
		s, ok := registry.Lookup(header)
		if !ok {
			return fmt.Errorf("%w: %s", ErrSignalNotFound, header)
		}
		return s.Deliver(payload, time.Now())
	}
}

package capture

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"
)

// Writer appends records to a capture stream. Safe for concurrent use.
type Writer struct {
	closer  io.Closer
	encoder *cbor.Encoder
	logger  *zap.Logger

	mu      sync.Mutex
	closed  bool
	written uint64
}

func NewWriter(w io.Writer, logger *zap.Logger) *Writer {
	cw := &Writer{encoder: encMode.NewEncoder(w), logger: logger}
	if c, ok := w.(io.Closer); ok {
		cw.closer = c
	}
	return cw
}

// CreateFile opens path for appending, creating it if needed.
func CreateFile(path string, logger *zap.Logger) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return NewWriter(f, logger.With(zap.String("capture", path))), nil
}

// Write encodes one record. Writes after Close are ignored.
func (w *Writer) Write(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	if err := w.encoder.Encode(rec); err != nil {
		return err
	}
	w.written++
	return nil
}

// Tap records a raw packet; its signature matches the transport tap.
func (w *Writer) Tap(packet []byte, ts time.Time) {
	rec, err := NewRecord(packet, ts)
	if err == nil {
		err = w.Write(rec)
	}
	// Capture must not disturb packet delivery
	if err != nil {
		w.logger.Warn("Failed to capture packet", zap.Error(err))
	}
}

func (w *Writer) Written() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Close closes the underlying file. Safe to call multiple times.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

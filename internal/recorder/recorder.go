// Package recorder subscribes to board signals, keeps rolling statistics and
// writes the values in batches to the configured sinks.
package recorder

import (
	"context"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/board"
	"github.com/KevinKickass/OpenSensorCore/internal/config"
	"github.com/KevinKickass/OpenSensorCore/internal/signal"
	"github.com/KevinKickass/OpenSensorCore/internal/storage"
	"github.com/KevinKickass/OpenSensorCore/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// pending samples beyond batch size * maxPendingBatches are dropped
	maxPendingBatches = 10
	sinkWriteTimeout  = 10 * time.Second
)

type seriesKey struct {
	board  string
	header types.ResponseHeader
}

type subscriptionRef struct {
	signal *signal.DataSignal
	id     uuid.UUID
}

type Recorder struct {
	cfg    config.RecorderConfig
	sinks  []Sink
	logger *zap.Logger

	mu       sync.Mutex
	pending  []storage.Sample
	windows  map[seriesKey]map[string]*window
	attached map[uuid.UUID][]subscriptionRef
	dropped  uint64
	flushed  uint64

	flushChan chan struct{}
	stopChan  chan struct{}
	doneChan  chan struct{}
	running   bool
	runMu     sync.Mutex
}

func New(cfg config.RecorderConfig, sinks []Sink, logger *zap.Logger) *Recorder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.StatsWindow <= 0 {
		cfg.StatsWindow = 256
	}

	return &Recorder{
		cfg:       cfg,
		sinks:     sinks,
		logger:    logger,
		windows:   make(map[seriesKey]map[string]*window),
		attached:  make(map[uuid.UUID][]subscriptionRef),
		flushChan: make(chan struct{}, 1),
	}
}

// Attach subscribes to every root signal of the board. Attaching twice is a
// no-op.
func (r *Recorder) Attach(b *board.Board) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.attached[b.ID]; ok {
		return
	}

	var refs []subscriptionRef
	for _, s := range b.Signals() {
		id := s.Subscribe(func(d signal.Data) {
			r.record(b, d)
		})
		refs = append(refs, subscriptionRef{signal: s, id: id})
	}
	r.attached[b.ID] = refs

	r.logger.Info("Recorder attached",
		zap.String("board", b.Name),
		zap.Int("signals", len(refs)))
}

// Detach removes the board's subscriptions. Signals stay usable for other
// subscribers.
func (r *Recorder) Detach(b *board.Board) {
	r.mu.Lock()
	refs := r.attached[b.ID]
	delete(r.attached, b.ID)
	r.mu.Unlock()

	for _, ref := range refs {
		ref.signal.Unsubscribe(ref.id)
	}
}

// record runs on the packet delivery path and must not block.
func (r *Recorder) record(b *board.Board, d signal.Data) {
	fields := types.Fields(d.Value)
	if len(fields) == 0 {
		return
	}

	key := seriesKey{board: b.Name, header: d.Header}

	r.mu.Lock()
	defer r.mu.Unlock()

	series, ok := r.windows[key]
	if !ok {
		series = make(map[string]*window, len(fields))
		r.windows[key] = series
	}
	for name, v := range fields {
		w, ok := series[name]
		if !ok {
			w = newWindow(r.cfg.StatsWindow)
			series[name] = w
		}
		w.add(v)
	}

	if len(r.sinks) == 0 {
		return
	}

	r.pending = append(r.pending, storage.Sample{
		BoardID:   b.ID,
		BoardName: b.Name,
		Header:    d.Header.String(),
		Fields:    fields,
		Timestamp: d.Timestamp,
	})

	if limit := r.cfg.BatchSize * maxPendingBatches; len(r.pending) > limit {
		drop := len(r.pending) - limit
		r.pending = r.pending[drop:]
		r.dropped += uint64(drop)
	}

	if len(r.pending) >= r.cfg.BatchSize {
		select {
		case r.flushChan <- struct{}{}:
		default:
		}
	}
}

// Stats returns the rolling statistics of one signal per field.
func (r *Recorder) Stats(boardName string, header types.ResponseHeader) (map[string]FieldStats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	series, ok := r.windows[seriesKey{board: boardName, header: header}]
	if !ok {
		return nil, false
	}

	out := make(map[string]FieldStats, len(series))
	for name, w := range series {
		out[name] = w.stats()
	}
	return out, true
}

// Counters returns the number of flushed and dropped samples
func (r *Recorder) Counters() (flushed, dropped uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushed, r.dropped
}

// Start starts the flush loop
func (r *Recorder) Start() error {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	if r.running {
		return nil
	}

	r.running = true
	r.stopChan = make(chan struct{})
	r.doneChan = make(chan struct{})

	go r.flushLoop(r.stopChan, r.doneChan)

	r.logger.Info("Recorder started",
		zap.Int("sinks", len(r.sinks)),
		zap.Int("batch_size", r.cfg.BatchSize),
		zap.Duration("flush_interval", r.cfg.FlushInterval))

	return nil
}

// Stop stops the flush loop and writes what is still pending. Safe for
// concurrent use; the recorder can be started again.
func (r *Recorder) Stop() {
	r.runMu.Lock()
	if !r.running {
		r.runMu.Unlock()
		return
	}
	r.running = false
	close(r.stopChan)
	done := r.doneChan
	r.runMu.Unlock()

	<-done

	r.Flush(context.Background())
	r.logger.Info("Recorder stopped")
}

func (r *Recorder) flushLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.Flush(context.Background())
		case <-r.flushChan:
			r.Flush(context.Background())
		}
	}
}

// Flush writes all pending samples to every sink. A failing sink does not
// keep the others from receiving the batch.
func (r *Recorder) Flush(ctx context.Context) {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	for _, sink := range r.sinks {
		writeCtx, cancel := context.WithTimeout(ctx, sinkWriteTimeout)
		err := sink.Write(writeCtx, batch)
		cancel()

		if err != nil {
			r.logger.Error("Sink write failed",
				zap.String("sink", sink.Name()),
				zap.Int("samples", len(batch)),
				zap.Error(err))
		}
	}

	r.mu.Lock()
	r.flushed += uint64(len(batch))
	r.mu.Unlock()
}

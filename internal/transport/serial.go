package transport

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// PacketHandler receives every decoded response packet
type PacketHandler func(packet []byte)

// Tap observes received packets with their arrival time, e.g. for capture.
type Tap func(packet []byte, ts time.Time)

// Stats counts transport activity
type Stats struct {
	FramesSent     uint64 `json:"frames_sent"`
	FramesReceived uint64 `json:"frames_received"`
	CRCErrors      uint64 `json:"crc_errors"`
}

// Transport exchanges framed packets with a board over a serial bridge. It
// implements board.Sender.
type Transport struct {
	name   string
	port   io.ReadWriteCloser
	logger *zap.Logger

	writeMu sync.Mutex
	decoder Decoder

	handler PacketHandler
	tap     Tap

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex

	sent     atomic.Uint64
	received atomic.Uint64
	crcErrs  atomic.Uint64
}

// Open opens a serial port with the given options.
func Open(path string, opts PortOptions, logger *zap.Logger) (*Transport, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	if err := port.SetReadTimeout(opts.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", path, err)
	}

	logger.Info("Serial port opened",
		zap.String("port", path),
		zap.Int("baud_rate", opts.BaudRate))

	return New(path, port, logger), nil
}

// New wraps an already open port.
func New(name string, port io.ReadWriteCloser, logger *zap.Logger) *Transport {
	return &Transport{
		name:     name,
		port:     port,
		logger:   logger.With(zap.String("port", name)),
		stopChan: make(chan struct{}),
	}
}

// Send frames and writes one command packet.
func (t *Transport) Send(packet []byte) error {
	frame, err := EncodeFrame(packet)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.port.Write(frame); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	t.sent.Add(1)
	return nil
}

// SetTap installs an observer for received packets. Call before Start.
func (t *Transport) SetTap(tap Tap) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tap = tap
}

// Start starts the read loop delivering packets to handler.
func (t *Transport) Start(handler PacketHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return nil
	}
	if t.stopped() {
		return fmt.Errorf("transport %s is closed", t.name)
	}

	t.handler = handler
	t.running = true
	t.wg.Add(1)

	go t.readLoop()

	t.logger.Info("Transport started")
	return nil
}

// Stop ends the read loop and closes the port. A stopped transport cannot
// be started again.
func (t *Transport) Stop() error {
	t.mu.Lock()
	if t.stopped() {
		t.mu.Unlock()
		return nil
	}
	close(t.stopChan)
	wasRunning := t.running
	t.running = false
	t.mu.Unlock()

	err := t.port.Close()
	if !wasRunning {
		return err
	}
	t.wg.Wait()

	t.logger.Info("Transport stopped")
	return err
}

func (t *Transport) stopped() bool {
	select {
	case <-t.stopChan:
		return true
	default:
		return false
	}
}

func (t *Transport) readLoop() {
	defer t.wg.Done()

	buf := make([]byte, 256)
	for {
		n, err := t.port.Read(buf)
		if n > 0 {
			t.deliver(buf[:n])
		}
		if err != nil {
			if !t.stopped() && !errors.Is(err, io.EOF) {
				t.logger.Error("Read failed", zap.Error(err))
			}
			return
		}
		if t.stopped() {
			return
		}
	}
}

func (t *Transport) deliver(data []byte) {
	before := t.decoder.CRCErrors()
	packets := t.decoder.Feed(data)
	if errs := t.decoder.CRCErrors() - before; errs > 0 {
		t.crcErrs.Add(errs)
		t.logger.Warn("Frames with bad checksum dropped", zap.Uint64("count", errs))
	}

	now := time.Now()
	for _, packet := range packets {
		t.received.Add(1)
		if t.logger.Core().Enabled(zap.DebugLevel) {
			t.logger.Debug("Packet received", zap.String("bytes", hex.EncodeToString(packet)))
		}
		if t.tap != nil {
			t.tap(packet, now)
		}
		if t.handler != nil {
			t.handler(packet)
		}
	}
}

func (t *Transport) Stats() Stats {
	return Stats{
		FramesSent:     t.sent.Load(),
		FramesReceived: t.received.Load(),
		CRCErrors:      t.crcErrs.Load(),
	}
}

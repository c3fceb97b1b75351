package board

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Poller periodically sends read commands to a board. The responses arrive
// through the board's packet path like any other packet.
type Poller struct {
	board    *Board
	name     string
	interval time.Duration
	commands []Command
	logger   *zap.Logger
	stopChan chan struct{}
	doneChan chan struct{}
	running  bool
	mu       sync.Mutex
}

func NewPoller(board *Board, name string, interval time.Duration, commands []Command, logger *zap.Logger) *Poller {
	return &Poller{
		board:    board,
		name:     name,
		interval: interval,
		commands: commands,
		logger:   logger,
	}
}

// Start starts cyclic polling
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	p.running = true
	p.stopChan = make(chan struct{})
	p.doneChan = make(chan struct{})

	go p.pollLoop(p.stopChan, p.doneChan)

	p.logger.Info("Poller started",
		zap.String("board", p.board.Name),
		zap.String("poller", p.name),
		zap.Duration("interval", p.interval))

	return nil
}

// Stop stops polling and waits for the loop to exit. Safe for concurrent
// use; the poller can be started again.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopChan)
	done := p.doneChan
	p.mu.Unlock()

	<-done

	p.logger.Info("Poller stopped",
		zap.String("board", p.board.Name),
		zap.String("poller", p.name))
}

func (p *Poller) pollLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.pollBoard()
		}
	}
}

func (p *Poller) pollBoard() {
	for _, cmd := range p.commands {
		if err := p.board.Send(cmd); err != nil {
			p.logger.Error("Poll failed",
				zap.String("board", p.board.Name),
				zap.String("poller", p.name),
				zap.String("module", cmd.Module.String()),
				zap.Error(err))
		}
	}
}

// IsRunning reports whether the poller is running
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

package board

import "sync"

// CommandRecorder is a Sender that keeps every command it was given. It
// stands in for the transport when no board is attached.
type CommandRecorder struct {
	mu       sync.Mutex
	commands [][]byte
	err      error
}

func (r *CommandRecorder) Send(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}
	r.commands = append(r.commands, append([]byte(nil), data...))
	return nil
}

// SetError makes subsequent sends fail with err
func (r *CommandRecorder) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Commands returns a copy of the recorded commands
func (r *CommandRecorder) Commands() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([][]byte, len(r.commands))
	copy(out, r.commands)
	return out
}

// Last returns the most recent command, nil if none
func (r *CommandRecorder) Last() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.commands) == 0 {
		return nil
	}
	return r.commands[len(r.commands)-1]
}

func (r *CommandRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = nil
}

package signal

import "errors"

var (
	// ErrMalformedPayload is returned when a payload is too short for the
	// signal's byte offset, value size and channel count.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrNotComposite is returned when components are requested for a
	// single-channel signal.
	ErrNotComposite = errors.New("signal is not composite")

	// ErrModuleNotReady is returned when a dispatch entry is installed before
	// its module finished initialization.
	ErrModuleNotReady = errors.New("module not ready")

	ErrSignalNotFound = errors.New("signal not found")
	ErrInvalidConfig  = errors.New("invalid signal config")
)

package signal

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/types"
	"github.com/google/uuid"
)

// Kind discriminates single-channel signals from composite ones.
type Kind uint8

const (
	KindSingle Kind = iota
	// KindComposite signals decode the full multi-channel payload and own one
	// single-channel component per channel.
	KindComposite
)

func (k Kind) String() string {
	if k == KindComposite {
		return "composite"
	}
	return "single"
}

// Config is the immutable decoding configuration of a data signal.
type Config struct {
	Header        types.ResponseHeader
	Kind          Kind
	Interpreter   InterpreterKind
	Converter     ConverterKind
	ChannelCount  uint8
	ValueByteSize uint8
	ByteOffset    uint8

	// ComponentInterpreter assembles the per-channel values of a composite
	// signal's components.
	ComponentInterpreter InterpreterKind
}

// Span returns the number of payload bytes covered by the channels.
func (c Config) Span() int {
	return int(c.ChannelCount) * int(c.ValueByteSize)
}

func (c Config) Validate() error {
	if c.ChannelCount == 0 || c.ValueByteSize == 0 {
		return fmt.Errorf("%w: %s has zero channels or value size", ErrInvalidConfig, c.Header)
	}
	if want := c.Interpreter.channels(); want != int(c.ChannelCount) {
		return fmt.Errorf("%w: %s interpreter %s assembles %d channels, config has %d",
			ErrInvalidConfig, c.Header, c.Interpreter, want, c.ChannelCount)
	}
	// component offsets are uint8
	if end := int(c.ByteOffset) + c.Span() + c.Interpreter.trailer(); end > math.MaxUint8 {
		return fmt.Errorf("%w: %s covers payload bytes up to %d, limit is %d",
			ErrInvalidConfig, c.Header, end, math.MaxUint8)
	}
	if c.Interpreter != InterpreterBatteryState && !c.Converter.validSize(int(c.ValueByteSize)) {
		return fmt.Errorf("%w: %s converter %s cannot read %d byte values",
			ErrInvalidConfig, c.Header, c.Converter, c.ValueByteSize)
	}
	if c.Kind == KindComposite {
		if c.ChannelCount < 2 {
			return fmt.Errorf("%w: composite %s needs at least 2 channels", ErrInvalidConfig, c.Header)
		}
		if c.ComponentInterpreter.channels() != 1 {
			return fmt.Errorf("%w: composite %s component interpreter %s is not single-channel",
				ErrInvalidConfig, c.Header, c.ComponentInterpreter)
		}
	}
	return nil
}

// Data is one value published by a signal.
type Data struct {
	Header    types.ResponseHeader
	Value     any
	Timestamp time.Time
}

// Subscriber receives published values. It runs on the packet delivery path
// and must not block.
type Subscriber func(Data)

type subscription struct {
	id uuid.UUID
	fn Subscriber
}

// DataSignal represents one decodable, subscribable stream of device values.
type DataSignal struct {
	config Config

	mu          sync.RWMutex
	components  []*DataSignal
	populated   bool
	subscribers []subscription
	last        Data
	hasLast     bool
}

func newDataSignal(config Config) *DataSignal {
	return &DataSignal{config: config}
}

func (s *DataSignal) Header() types.ResponseHeader { return s.config.Header }
func (s *DataSignal) Kind() Kind                   { return s.config.Kind }
func (s *DataSignal) Config() Config               { return s.config }

// Components returns the component signals of a composite signal, in channel
// order. Single signals have none.
func (s *DataSignal) Components() []*DataSignal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*DataSignal, len(s.components))
	copy(out, s.components)
	return out
}

// Decode converts a full packet payload into the signal's typed value. It
// only reads the payload and the signal's immutable configuration.
func (s *DataSignal) Decode(payload []byte) (any, error) {
	start := int(s.config.ByteOffset)
	end := start + s.config.Span() + s.config.Interpreter.trailer()
	if len(payload) < end {
		return nil, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrMalformedPayload, s.config.Header, end, len(payload))
	}

	return s.config.Interpreter.assemble(
		payload[start:end],
		int(s.config.ChannelCount),
		int(s.config.ValueByteSize),
		s.config.Converter,
	)
}

// Deliver decodes the payload and publishes the value to the signal's
// subscribers, then does the same for every component using the same
// buffer. Nothing is published when the root value fails to decode.
func (s *DataSignal) Deliver(payload []byte, ts time.Time) error {
	value, err := s.Decode(payload)
	if err != nil {
		return err
	}
	s.publish(Data{Header: s.config.Header, Value: value, Timestamp: ts})

	var errs []error
	for _, component := range s.Components() {
		v, err := component.Decode(payload)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		component.publish(Data{Header: component.config.Header, Value: v, Timestamp: ts})
	}

	return errors.Join(errs...)
}

func (s *DataSignal) publish(data Data) {
	s.mu.Lock()
	s.last = data
	s.hasLast = true
	subs := make([]subscription, len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(data)
	}
}

// Subscribe registers fn for every value the signal publishes.
func (s *DataSignal) Subscribe(fn Subscriber) uuid.UUID {
	id := uuid.New()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, subscription{id: id, fn: fn})
	return id
}

// Unsubscribe removes a subscriber. Other subscribers and the signal itself
// are unaffected.
func (s *DataSignal) Unsubscribe(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subscribers {
		if sub.id == id {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			return true
		}
	}
	return false
}

func (s *DataSignal) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// LastValue returns the most recently published value.
func (s *DataSignal) LastValue() (Data, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.hasLast
}

package websocket

import (
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/signal"
	"github.com/KevinKickass/OpenSensorCore/internal/types"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Signal messages
	MessageTypeSignalData MessageType = "signal_data"

	// Board messages
	MessageTypeBoardStatus MessageType = "board_status"

	// System messages
	MessageTypeSystemStatus MessageType = "system_status"

	// Replies to client requests
	MessageTypeAuthSuccess  MessageType = "auth_success"
	MessageTypeAuthFailed   MessageType = "auth_failed"
	MessageTypeSubscribed   MessageType = "subscribed"
	MessageTypeUnsubscribed MessageType = "unsubscribed"
	MessageTypeError        MessageType = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`

	// routing for signal_data, not serialized
	board  string
	header string
}

// SignalData is one published signal value
type SignalData struct {
	Board  string             `json:"board"`
	Header string             `json:"header"`
	Value  interface{}        `json:"value"`
	Fields map[string]float64 `json:"fields,omitempty"`
}

// BoardStatusData reports board routing counters
type BoardStatusData struct {
	Board        string `json:"board"`
	Initialized  bool   `json:"initialized"`
	Routed       uint64 `json:"routed"`
	Unroutable   uint64 `json:"unroutable"`
	DecodeErrors uint64 `json:"decode_errors"`
}

// clientRequest is a message sent by the client
type clientRequest struct {
	Type    string   `json:"type"`
	Token   string   `json:"token,omitempty"`
	Board   string   `json:"board,omitempty"`
	Headers []string `json:"headers,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewSignalMessage wraps a published value. The message timestamp is the
// receive time of the packet.
func NewSignalMessage(board string, d signal.Data) Message {
	header := d.Header.String()
	return Message{
		Type:      MessageTypeSignalData,
		Timestamp: d.Timestamp,
		Data: SignalData{
			Board:  board,
			Header: header,
			Value:  d.Value,
			Fields: types.Fields(d.Value),
		},
		board:  board,
		header: header,
	}
}

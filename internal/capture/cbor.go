// Package capture records received board packets to CBOR files and replays
// them.
package capture

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Record is one captured response packet
type Record struct {
	Timestamp time.Time `cbor:"t"`
	Module    uint8     `cbor:"m"`
	Register  uint8     `cbor:"r"`
	Payload   []byte    `cbor:"p"`
}

// NewRecord splits a raw response [module, register, payload...]
func NewRecord(packet []byte, ts time.Time) (Record, error) {
	if len(packet) < 2 {
		return Record{}, fmt.Errorf("packet too short: %d bytes", len(packet))
	}
	return Record{
		Timestamp: ts,
		Module:    packet[0],
		Register:  packet[1],
		Payload:   append([]byte(nil), packet[2:]...),
	}, nil
}

// Packet rebuilds the raw response bytes
func (r Record) Packet() []byte {
	out := make([]byte, 0, len(r.Payload)+2)
	out = append(out, r.Module, r.Register)
	return append(out, r.Payload...)
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create capture CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create capture CBOR decoder mode: %v", err))
	}
}

// Package transport carries board packets over a framed serial bridge.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sigurn/crc16"
)

// Frame layout: start byte, packet length, packet, CRC-16 (little-endian)
// over the packet.
const (
	FrameStart    = 0xA5
	MaxPacketSize = 0xFF
	frameOverhead = 4
)

// CRC-16/CCITT-FALSE: poly 0x1021, init 0xFFFF
var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

var (
	ErrPacketTooLong  = errors.New("packet too long")
	ErrPacketTooShort = errors.New("packet too short")
)

// CRC16 computes the frame checksum over a packet
func CRC16(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// EncodeFrame wraps a command or response packet into a bridge frame.
// Packets need at least module and register.
func EncodeFrame(packet []byte) ([]byte, error) {
	if len(packet) < 2 {
		return nil, fmt.Errorf("%w: %d bytes", ErrPacketTooShort, len(packet))
	}
	if len(packet) > MaxPacketSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPacketTooLong, len(packet))
	}

	frame := make([]byte, 0, len(packet)+frameOverhead)
	frame = append(frame, FrameStart, byte(len(packet)))
	frame = append(frame, packet...)
	frame = binary.LittleEndian.AppendUint16(frame, CRC16(packet))

	return frame, nil
}

// Decoder splits a byte stream into packets. Bytes before a start byte and
// frames with a bad checksum are discarded.
type Decoder struct {
	buf       []byte
	crcErrors uint64
	discarded uint64
}

// Feed appends received bytes and returns every complete packet.
func (d *Decoder) Feed(data []byte) [][]byte {
	d.buf = append(d.buf, data...)

	var packets [][]byte
	for {
		// Resync auf Start-Byte
		start := 0
		for start < len(d.buf) && d.buf[start] != FrameStart {
			start++
		}
		if start > 0 {
			d.discarded += uint64(start)
			d.buf = d.buf[start:]
		}

		if len(d.buf) < 2 {
			break
		}

		length := int(d.buf[1])
		total := length + frameOverhead
		if len(d.buf) < total {
			break
		}

		packet := d.buf[2 : 2+length]
		crc := binary.LittleEndian.Uint16(d.buf[2+length : total])
		if length < 2 || CRC16(packet) != crc {
			// Drop only the start byte, a real frame may begin inside
			d.crcErrors++
			d.buf = d.buf[1:]
			continue
		}

		packets = append(packets, append([]byte(nil), packet...))
		d.buf = d.buf[total:]
	}

	// Keep the buffer from pinning old backing arrays
	if len(d.buf) == 0 {
		d.buf = nil
	}

	return packets
}

// CRCErrors returns the number of frames rejected by checksum
func (d *Decoder) CRCErrors() uint64 {
	return d.crcErrors
}

// Discarded returns the number of bytes skipped while resyncing
func (d *Decoder) Discarded() uint64 {
	return d.discarded
}

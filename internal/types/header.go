package types

import (
	"fmt"
	"strconv"
	"strings"
)

// ModuleID identifies a firmware module on the board.
type ModuleID uint8

// Module IDs as reported by the board firmware
const (
	ModuleSwitch        ModuleID = 0x01
	ModuleLED           ModuleID = 0x02
	ModuleAccelerometer ModuleID = 0x03
	ModuleTemperature   ModuleID = 0x04
	ModuleGPIO          ModuleID = 0x05
	ModuleNeoPixel      ModuleID = 0x06
	ModuleIBeacon       ModuleID = 0x07
	ModuleHaptic        ModuleID = 0x08
	ModuleDataProcessor ModuleID = 0x09
	ModuleEvent         ModuleID = 0x0a
	ModuleLogging       ModuleID = 0x0b
	ModuleTimer         ModuleID = 0x0c
	ModuleI2C           ModuleID = 0x0d
	ModuleMacro         ModuleID = 0x0f
	ModuleGSR           ModuleID = 0x10
	ModuleSettings      ModuleID = 0x11
	ModuleBarometer     ModuleID = 0x12
	ModuleGyro          ModuleID = 0x13
	ModuleAmbientLight  ModuleID = 0x14
	ModuleMagnetometer  ModuleID = 0x15
	ModuleHumidity      ModuleID = 0x16
	ModuleColorDetector ModuleID = 0x17
	ModuleProximity     ModuleID = 0x18
	ModuleSensorFusion  ModuleID = 0x19
	ModuleDebug         ModuleID = 0xfe
)

var moduleNames = map[ModuleID]string{
	ModuleSwitch:        "switch",
	ModuleLED:           "led",
	ModuleAccelerometer: "accelerometer",
	ModuleTemperature:   "temperature",
	ModuleGPIO:          "gpio",
	ModuleNeoPixel:      "neopixel",
	ModuleIBeacon:       "ibeacon",
	ModuleHaptic:        "haptic",
	ModuleDataProcessor: "data_processor",
	ModuleEvent:         "event",
	ModuleLogging:       "logging",
	ModuleTimer:         "timer",
	ModuleI2C:           "i2c",
	ModuleMacro:         "macro",
	ModuleGSR:           "gsr",
	ModuleSettings:      "settings",
	ModuleBarometer:     "barometer",
	ModuleGyro:          "gyro",
	ModuleAmbientLight:  "ambient_light",
	ModuleMagnetometer:  "magnetometer",
	ModuleHumidity:      "humidity",
	ModuleColorDetector: "color_detector",
	ModuleProximity:     "proximity",
	ModuleSensorFusion:  "sensor_fusion",
	ModuleDebug:         "debug",
}

func (m ModuleID) String() string {
	if name, ok := moduleNames[m]; ok {
		return name
	}
	return fmt.Sprintf("module_0x%02x", uint8(m))
}

// ModuleByName resolves the firmware name used in board profiles.
func ModuleByName(name string) (ModuleID, bool) {
	for id, n := range moduleNames {
		if n == name {
			return id, true
		}
	}
	return 0, false
}

// readBit marks a register address as a read response / read request
const readBit = 0x80

// ReadRegister returns the register address the board uses for read requests
// and their responses.
func ReadRegister(register uint8) uint8 {
	return readBit | register
}

// ResponseHeader identifies a class of response packets. Packets with the
// same header are decoded by the same data signal.
type ResponseHeader struct {
	Module   ModuleID
	Register uint8
	ID       uint8 // Sub-identifier for multiplexed registers, valid if HasID
	HasID    bool
}

func NewResponseHeader(module ModuleID, register uint8) ResponseHeader {
	return ResponseHeader{Module: module, Register: register}
}

// WithID returns a copy of the header extended with a sub-identifier.
func (h ResponseHeader) WithID(id uint8) ResponseHeader {
	h.ID = id
	h.HasID = true
	return h
}

// Less orders headers by module, register, then sub-identifier. Headers
// without sub-identifier sort before their multiplexed variants.
func (h ResponseHeader) Less(other ResponseHeader) bool {
	if h.Module != other.Module {
		return h.Module < other.Module
	}
	if h.Register != other.Register {
		return h.Register < other.Register
	}
	if h.HasID != other.HasID {
		return !h.HasID
	}
	return h.ID < other.ID
}

// String formats the header as hex "module:register[:id]", e.g. "15:05".
func (h ResponseHeader) String() string {
	if h.HasID {
		return fmt.Sprintf("%02x:%02x:%02x", uint8(h.Module), h.Register, h.ID)
	}
	return fmt.Sprintf("%02x:%02x", uint8(h.Module), h.Register)
}

// ParseResponseHeader parses the format produced by ResponseHeader.String.
func ParseResponseHeader(s string) (ResponseHeader, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return ResponseHeader{}, fmt.Errorf("invalid response header %q: expected module:register[:id]", s)
	}

	values := make([]uint8, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return ResponseHeader{}, fmt.Errorf("invalid response header %q: %w", s, err)
		}
		values[i] = uint8(v)
	}

	header := NewResponseHeader(ModuleID(values[0]), values[1])
	if len(values) == 3 {
		header = header.WithID(values[2])
	}
	return header, nil
}

package types

// CartesianFloat combines float data on a 3D cartesian coordinate system
type CartesianFloat struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

func (c CartesianFloat) Fields() map[string]float64 {
	return map[string]float64{"x": float64(c.X), "y": float64(c.Y), "z": float64(c.Z)}
}

// CorrectedCartesianFloat is a CartesianFloat that also reports the
// calibration accuracy of the sensor fusion algorithm.
type CorrectedCartesianFloat struct {
	X        float32 `json:"x"`
	Y        float32 `json:"y"`
	Z        float32 `json:"z"`
	Accuracy uint8   `json:"accuracy"`
}

func (c CorrectedCartesianFloat) Fields() map[string]float64 {
	return map[string]float64{
		"x":        float64(c.X),
		"y":        float64(c.Y),
		"z":        float64(c.Z),
		"accuracy": float64(c.Accuracy),
	}
}

// Calibration accuracy levels
const (
	AccuracyUnreliable uint8 = 0
	AccuracyLow        uint8 = 1
	AccuracyMedium     uint8 = 2
	AccuracyHigh       uint8 = 3
)

// Quaternion is a normalized quaternion value
type Quaternion struct {
	W float32 `json:"w"`
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

func (q Quaternion) Fields() map[string]float64 {
	return map[string]float64{"w": float64(q.W), "x": float64(q.X), "y": float64(q.Y), "z": float64(q.Z)}
}

// EulerAngles holds euler angles, all values in degrees
type EulerAngles struct {
	Heading float32 `json:"heading"`
	Pitch   float32 `json:"pitch"`
	Roll    float32 `json:"roll"`
	Yaw     float32 `json:"yaw"`
}

func (e EulerAngles) Fields() map[string]float64 {
	return map[string]float64{
		"heading": float64(e.Heading),
		"pitch":   float64(e.Pitch),
		"roll":    float64(e.Roll),
		"yaw":     float64(e.Yaw),
	}
}

// BatteryState holds battery voltage (mV) and charge (percent, 0-100)
type BatteryState struct {
	Voltage uint16 `json:"voltage"`
	Charge  uint8  `json:"charge"`
}

func (b BatteryState) Fields() map[string]float64 {
	return map[string]float64{"voltage": float64(b.Voltage), "charge": float64(b.Charge)}
}

// ColorAdc wraps the ADC values of the TCS34725 color detector
type ColorAdc struct {
	Clear uint16 `json:"clear"`
	Red   uint16 `json:"red"`
	Green uint16 `json:"green"`
	Blue  uint16 `json:"blue"`
}

func (c ColorAdc) Fields() map[string]float64 {
	return map[string]float64{
		"clear": float64(c.Clear),
		"red":   float64(c.Red),
		"green": float64(c.Green),
		"blue":  float64(c.Blue),
	}
}

// Fielder is implemented by multi-field values.
type Fielder interface {
	Fields() map[string]float64
}

// Fields flattens a decoded value into named numeric fields. Scalars map to
// the single field "value". Unknown types yield nil.
func Fields(value any) map[string]float64 {
	switch v := value.(type) {
	case Fielder:
		return v.Fields()
	case float64:
		return map[string]float64{"value": v}
	case float32:
		return map[string]float64{"value": float64(v)}
	case uint32:
		return map[string]float64{"value": float64(v)}
	case int32:
		return map[string]float64{"value": float64(v)}
	case bool:
		if v {
			return map[string]float64{"value": 1}
		}
		return map[string]float64{"value": 0}
	default:
		return nil
	}
}

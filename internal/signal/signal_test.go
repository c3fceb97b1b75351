package signal

import (
	"testing"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// x = 160, y = -32, z = 16 counts
var bfieldPayload = []byte{0xa0, 0x00, 0xe0, 0xff, 0x10, 0x00}

func newBField(t *testing.T) *DataSignal {
	t.Helper()
	reg := NewRegistry()
	id, err := reg.EnsureRegistered(magHeader, bfieldConfig)
	require.NoError(t, err)
	require.NoError(t, reg.EnsureComponents(id))
	s, _ := reg.Signal(id)
	return s
}

func TestDecodeComposite(t *testing.T) {
	s := newBField(t)

	value, err := s.Decode(bfieldPayload)
	require.NoError(t, err)
	assert.Equal(t, types.CartesianFloat{X: 10, Y: -2, Z: 1}, value)

	want := []float64{10, -2, 1}
	for i, c := range s.Components() {
		v, err := c.Decode(bfieldPayload)
		require.NoError(t, err)
		assert.Equal(t, want[i], v)
	}
}

func TestDecodeIsDeterministic(t *testing.T) {
	s := newBField(t)
	buf := append([]byte(nil), bfieldPayload...)

	first, err := s.Decode(buf)
	require.NoError(t, err)
	second, err := s.Decode(buf)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, bfieldPayload, buf, "decode must not modify the payload")
}

func TestDecodeMalformedPayload(t *testing.T) {
	s := newBField(t)

	_, err := s.Decode(bfieldPayload[:5])
	assert.ErrorIs(t, err, ErrMalformedPayload)

	var published int
	s.Subscribe(func(Data) { published++ })
	err = s.Deliver(bfieldPayload[:3], time.Now())
	assert.ErrorIs(t, err, ErrMalformedPayload)
	assert.Zero(t, published)
	_, ok := s.LastValue()
	assert.False(t, ok)
}

func TestDeliverPublishesOncePerSignal(t *testing.T) {
	s := newBField(t)

	var parent int
	s.Subscribe(func(d Data) {
		parent++
		assert.Equal(t, types.CartesianFloat{X: 10, Y: -2, Z: 1}, d.Value)
	})
	children := make([]int, 3)
	for i, c := range s.Components() {
		i := i
		c.Subscribe(func(Data) { children[i]++ })
	}

	ts := time.Unix(1700000000, 0)
	require.NoError(t, s.Deliver(bfieldPayload, ts))

	assert.Equal(t, 1, parent)
	assert.Equal(t, []int{1, 1, 1}, children)

	last, ok := s.Components()[1].LastValue()
	require.True(t, ok)
	assert.Equal(t, -2.0, last.Value)
	assert.Equal(t, ts, last.Timestamp)
}

func TestUnsubscribeLeavesOthers(t *testing.T) {
	s := newBField(t)

	var a, b int
	idA := s.Subscribe(func(Data) { a++ })
	s.Subscribe(func(Data) { b++ })

	require.NoError(t, s.Deliver(bfieldPayload, time.Now()))
	assert.True(t, s.Unsubscribe(idA))
	assert.False(t, s.Unsubscribe(idA))
	require.NoError(t, s.Deliver(bfieldPayload, time.Now()))

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
	assert.Equal(t, 1, s.SubscriberCount())
}

func TestConverters(t *testing.T) {
	tests := []struct {
		name string
		conv ConverterKind
		raw  []byte
		want float64
	}{
		{"identity u8", ConverterIdentity, []byte{0xff}, 255},
		{"identity u16", ConverterIdentity, []byte{0x34, 0x12}, 0x1234},
		{"signed i8", ConverterSigned, []byte{0xff}, -1},
		{"signed i16", ConverterSigned, []byte{0x00, 0x80}, -32768},
		{"signed i24", ConverterSigned, []byte{0xfe, 0xff, 0xff}, -2},
		{"bosch", ConverterBoschMagnetometer, []byte{0x10, 0x00}, 1},
		{"float", ConverterFloat, []byte{0x00, 0x00, 0xc0, 0x3f}, 1.5},
		{"milli g", ConverterFloatMilliG, []byte{0x00, 0x00, 0x7a, 0x44}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.conv.Convert(tt.raw)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	_, err := ConverterBoschMagnetometer.Convert([]byte{0x01})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDecodeCorrectedCartesianReadsAccuracyTrailer(t *testing.T) {
	reg := NewRegistry()
	s, err := reg.GetOrCreate(types.NewResponseHeader(types.ModuleSensorFusion, 0x04), func() Config {
		return Config{
			Interpreter:   InterpreterCorrectedCartesianFloat,
			Converter:     ConverterFloatMilliG,
			ChannelCount:  3,
			ValueByteSize: 4,
		}
	})
	require.NoError(t, err)

	payload := []byte{
		0x00, 0x00, 0x7a, 0x44, // 1000 mg
		0x00, 0x00, 0xfa, 0xc3, // -500 mg
		0x00, 0x00, 0x00, 0x00,
		types.AccuracyHigh,
	}
	value, err := s.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, types.CorrectedCartesianFloat{X: 1, Y: -0.5, Z: 0, Accuracy: types.AccuracyHigh}, value)

	_, err = s.Decode(payload[:12])
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

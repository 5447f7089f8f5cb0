package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"math"

	"github.com/vango-go/lingo-live/pkg/core"
)

// EncodeSamples converts float samples to signed 16-bit PCM.
// Input is clamped to [-1, 1]. Negative values scale by 32768 and
// non-negative values by 32767 so both extremes stay representable.
// Fractions truncate toward zero.
func EncodeSamples(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s)
		if math.IsNaN(v) {
			continue
		}
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		if v < 0 {
			out[i] = int16(v * 32768)
		} else {
			out[i] = int16(v * 32767)
		}
	}
	return out
}

// DecodeSamples converts signed 16-bit PCM to floats in [-1, 1).
func DecodeSamples(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Int16ToBytes serializes samples as little-endian bytes.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToInt16 parses little-endian PCM16 bytes.
func BytesToInt16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, core.NewDecodeError("pcm16 payload has odd byte length", nil)
	}
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out, nil
}

// BytesToTransportText encodes bytes as standard padded base64.
func BytesToTransportText(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// TransportTextToBytes decodes standard padded base64.
func TransportTextToBytes(text string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, core.NewDecodeError("invalid base64 audio payload", err)
	}
	return data, nil
}

// EncodeTransport is EncodeSamples, Int16ToBytes and BytesToTransportText in one step.
func EncodeTransport(samples []float32) string {
	return BytesToTransportText(Int16ToBytes(EncodeSamples(samples)))
}

// DecodeTransport reverses EncodeTransport.
func DecodeTransport(text string) ([]float32, error) {
	data, err := TransportTextToBytes(text)
	if err != nil {
		return nil, err
	}
	ints, err := BytesToInt16(data)
	if err != nil {
		return nil, err
	}
	return DecodeSamples(ints), nil
}

// Float32ToBytes serializes IEEE 754 samples as little-endian bytes.
func Float32ToBytes(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// BytesToFloat32 parses little-endian IEEE 754 samples. Trailing bytes that
// do not form a whole sample are ignored.
func BytesToFloat32(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

// RMS computes the root-mean-square level of the samples.
// Returns 0 for empty input.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

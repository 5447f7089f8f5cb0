package pcm

import (
	"math"
	"testing"
	"time"

	"github.com/vango-go/lingo-live/pkg/core"
)

func TestEncodeSamples_AsymmetricScaling(t *testing.T) {
	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"zero", 0, 0},
		{"full positive", 1, 32767},
		{"full negative", -1, -32768},
		{"clamp high", 1.5, 32767},
		{"clamp low", -2, -32768},
		{"half positive truncates", 0.5, 16383},
		{"half negative", -0.5, -16384},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodeSamples([]float32{tt.in})
			if got[0] != tt.want {
				t.Errorf("EncodeSamples(%v) = %d, want %d", tt.in, got[0], tt.want)
			}
		})
	}
}

func TestEncodeSamples_NaNIsSilence(t *testing.T) {
	got := EncodeSamples([]float32{float32(math.NaN())})
	if got[0] != 0 {
		t.Fatalf("EncodeSamples(NaN) = %d, want 0", got[0])
	}
}

func TestCodecRoundTrip(t *testing.T) {
	in := make([]float32, 0, 401)
	for i := -200; i <= 200; i++ {
		in = append(in, float32(i)/200)
	}

	out := DecodeSamples(EncodeSamples(in))
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	// Positive samples scale by 32767 and truncate, then decode by 32768, so
	// values near +1 can land just under 2/32768 away.
	const tolerance = 2.0 / 32768
	for i := range in {
		if diff := math.Abs(float64(out[i] - in[i])); diff > tolerance {
			t.Fatalf("sample %d: got %v, want %v (diff %v)", i, out[i], in[i], diff)
		}
	}
}

func TestInt16Bytes_LittleEndian(t *testing.T) {
	b := Int16ToBytes([]int16{1, -2, 0x1234})
	want := []byte{0x01, 0x00, 0xfe, 0xff, 0x34, 0x12}
	if string(b) != string(want) {
		t.Fatalf("Int16ToBytes = %x, want %x", b, want)
	}

	back, err := BytesToInt16(b)
	if err != nil {
		t.Fatalf("BytesToInt16 error: %v", err)
	}
	if len(back) != 3 || back[0] != 1 || back[1] != -2 || back[2] != 0x1234 {
		t.Fatalf("BytesToInt16 = %v", back)
	}
}

func TestBytesToInt16_OddLength(t *testing.T) {
	_, err := BytesToInt16([]byte{1, 2, 3})
	if err == nil {
		t.Fatal("expected error for odd-length payload")
	}
	if !core.IsType(err, core.ErrDecode) {
		t.Fatalf("error type = %v, want decode error", err)
	}
}

func TestTransportTextRoundTrip(t *testing.T) {
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	text := BytesToTransportText(data)
	back, err := TransportTextToBytes(text)
	if err != nil {
		t.Fatalf("TransportTextToBytes error: %v", err)
	}
	if string(back) != string(data) {
		t.Fatal("base64 round trip mismatch")
	}

	// Standard alphabet with padding.
	if got := BytesToTransportText([]byte{0xfb, 0xff}); got != "+/8=" {
		t.Fatalf("BytesToTransportText = %q, want %q", got, "+/8=")
	}
}

func TestTransportTextToBytes_Invalid(t *testing.T) {
	_, err := TransportTextToBytes("not base64!")
	if !core.IsType(err, core.ErrDecode) {
		t.Fatalf("error = %v, want decode error", err)
	}
}

func TestTransportRoundTrip(t *testing.T) {
	in := []float32{0, 0.25, -0.25, 1, -1}
	out, err := DecodeTransport(EncodeTransport(in))
	if err != nil {
		t.Fatalf("DecodeTransport error: %v", err)
	}
	for i := range in {
		if math.Abs(float64(out[i]-in[i])) > 2.0/32768 {
			t.Fatalf("sample %d: got %v, want %v", i, out[i], in[i])
		}
	}
}

func TestFloat32Bytes(t *testing.T) {
	in := []float32{0, 0.5, -1, 3.25}
	out := BytesToFloat32(Float32ToBytes(in))
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("sample %d: got %v, want %v", i, out[i], in[i])
		}
	}
	if got := BytesToFloat32([]byte{1, 2, 3}); len(got) != 0 {
		t.Fatalf("partial sample decoded: %v", got)
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	if got := RMS([]float32{0.5, -0.5, 0.5, -0.5}); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("RMS(square) = %v, want 0.5", got)
	}
}

func TestFormat(t *testing.T) {
	if got := L16Mono16K.MimeType(); got != "audio/pcm;rate=16000" {
		t.Errorf("MimeType = %q", got)
	}
	if got := L16Mono24K.Seconds(12000); got != 0.5 {
		t.Errorf("Seconds(12000) = %v, want 0.5", got)
	}
	if got := L16Mono16K.Duration(4096); got != 256*time.Millisecond {
		t.Errorf("Duration(4096) = %v, want 256ms", got)
	}
	if got := L16Mono16K.BytesPerSecond(); got != 32000 {
		t.Errorf("BytesPerSecond = %d, want 32000", got)
	}
}

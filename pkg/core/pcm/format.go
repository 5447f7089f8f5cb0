// Package pcm converts between float32 samples, 16-bit little-endian PCM and
// the base64 text used on the wire.
package pcm

import (
	"strconv"
	"time"
)

// Format describes a mono 16-bit PCM stream at a fixed sample rate.
type Format struct {
	SampleRate int
}

var (
	// L16Mono16K is the microphone format sent to the remote service.
	L16Mono16K = Format{SampleRate: 16000}
	// L16Mono24K is the synthesized speech format received from the remote service.
	L16Mono24K = Format{SampleRate: 24000}
)

// MimeType returns the transport MIME type, e.g. "audio/pcm;rate=16000".
func (f Format) MimeType() string {
	return "audio/pcm;rate=" + strconv.Itoa(f.SampleRate)
}

// Seconds returns the playback length of n samples in seconds.
func (f Format) Seconds(samples int) float64 {
	if f.SampleRate <= 0 {
		return 0
	}
	return float64(samples) / float64(f.SampleRate)
}

// Duration returns the playback length of n samples.
func (f Format) Duration(samples int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// BytesPerSecond returns the PCM16 byte rate.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * 2
}

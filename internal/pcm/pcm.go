// Package pcm converts between float audio samples, 16-bit little-endian PCM
// and the base64 text form used on the live transport.
package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strconv"
)

const (
	bytesPerSample = 2
	scale          = 32768.0
)

// DecodeError reports malformed PCM bytes or transport text. Decoders never
// return partial data alongside it.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("pcm %s: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// FloatToPCM16 scales each sample by 32768, truncates toward zero and writes
// it as a little-endian int16. Input is expected in [-1, 1]; samples outside
// that range are not clamped and wrap around (1.0 becomes -32768).
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		v := int16(int32(float64(s) * scale))
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(v))
	}
	return out
}

// PCM16ToFloat interprets data as interleaved little-endian int16 samples and
// returns one float slice per channel, each sample divided by 32768.
func PCM16ToFloat(data []byte, channels int) ([][]float32, error) {
	if channels < 1 {
		return nil, &DecodeError{Op: "pcm16", Err: fmt.Errorf("invalid channel count %d", channels)}
	}
	if len(data)%bytesPerSample != 0 {
		return nil, &DecodeError{Op: "pcm16", Err: fmt.Errorf("odd byte count %d", len(data))}
	}

	total := len(data) / bytesPerSample
	if total%channels != 0 {
		return nil, &DecodeError{Op: "pcm16", Err: fmt.Errorf("%d samples not divisible by %d channels", total, channels)}
	}

	frames := total / channels
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * bytesPerSample
			v := int16(binary.LittleEndian.Uint16(data[off:]))
			out[ch][i] = float32(v) / scale
		}
	}
	return out, nil
}

// Encode maps raw bytes to standard base64.
func Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Decode reverses Encode.
func Decode(text string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, &DecodeError{Op: "base64", Err: err}
	}
	return data, nil
}

// Duration returns the playback length in seconds of sampleCount frames.
func Duration(sampleCount, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(sampleCount) / float64(sampleRate)
}

// MIMEType is the transport tag for PCM16 audio at the given rate.
func MIMEType(sampleRate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(sampleRate)
}

package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrMalformedAudio is returned when audio bytes or their transport text cannot be decoded
var ErrMalformedAudio = errors.New("malformed audio")

// FloatToPCM16 converts float samples in [-1, 1] to 16-bit signed little-endian PCM
// Samples outside the range are clamped first, so 2.0 encodes the same as 1.0
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

// floatToInt16 scales asymmetrically: 32768 below zero, 32767 at or above zero
// The conversion to int16 truncates toward zero
func floatToInt16(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	if v < 0 {
		return int16(v * 0x8000)
	}
	return int16(v * 0x7FFF)
}

// BytesToPCM16Samples reinterprets byte pairs as little-endian signed 16-bit samples
func BytesToPCM16Samples(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: PCM data length must be even (16-bit samples), got %d bytes", ErrMalformedAudio, len(data))
	}

	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples, nil
}

// PCM16ToFloat converts 16-bit samples to floats for the output device
func PCM16ToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// ApplyGain scales samples in place by gain and clamps the result to [-1, 1]
func ApplyGain(samples []float32, gain float64) {
	if gain == 1 {
		return
	}
	g := float32(gain)
	for i, s := range samples {
		v := s * g
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		samples[i] = v
	}
}

// EncodeTransport encodes raw bytes into the text form carried by the wire protocol
func EncodeTransport(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeTransport reverses EncodeTransport
func DecodeTransport(text string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAudio, err)
	}
	return data, nil
}

// DecodeFragment turns one transport-encoded fragment into playable float samples
func DecodeFragment(text string) ([]float32, error) {
	raw, err := DecodeTransport(text)
	if err != nil {
		return nil, err
	}
	samples, err := BytesToPCM16Samples(raw)
	if err != nil {
		return nil, err
	}
	return PCM16ToFloat(samples), nil
}

// FloatRMS calculates the root mean square of float samples in [-1, 1]
func FloatRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

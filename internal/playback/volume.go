package playback

import (
	"math"
	"sync/atomic"
)

// DefaultGain is the output volume before the user changes it
const DefaultGain = 0.8

// Volume is a shared gain scalar in [0, 1], read when each fragment starts
type Volume struct {
	bits atomic.Uint64
}

// NewVolume creates a volume set to gain
func NewVolume(gain float64) *Volume {
	v := &Volume{}
	v.Set(gain)
	return v
}

// Set clamps gain to [0, 1], stores it and returns the stored value
func (v *Volume) Set(gain float64) float64 {
	if math.IsNaN(gain) || gain < 0 {
		gain = 0
	} else if gain > 1 {
		gain = 1
	}
	v.bits.Store(math.Float64bits(gain))
	return gain
}

// Get returns the current gain
func (v *Volume) Get() float64 {
	return math.Float64frombits(v.bits.Load())
}

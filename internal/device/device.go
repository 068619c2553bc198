// Package device adapts the local audio hardware to the capture and playback pipelines.
// Capture and output both go through ffmpeg tools so the client needs no cgo audio stack.
package device

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrBusy is returned when a microphone is opened twice
	ErrBusy = errors.New("device already in use")

	// ErrStopped is reported by a Playback that was stopped before it finished
	ErrStopped = errors.New("playback stopped")
)

// FrameHandler receives one captured frame of float samples in [-1, 1].
// It is called from the device's reader goroutine, one frame at a time, in capture order.
type FrameHandler func(samples []float32)

// Microphone is a push source of fixed-size frames
type Microphone interface {
	// Open acquires the device exclusively and starts delivering frames of frameSize samples
	Open(frameSize int, handler FrameHandler) error
	// Close releases the device; no frames are delivered after it returns
	Close() error
}

// Playback is one fragment in flight on a Speaker
type Playback interface {
	// Done is closed when the fragment finished playing or was stopped
	Done() <-chan struct{}
	// Stop halts the fragment immediately; safe to call more than once
	Stop()
	// Err is nil after natural completion and ErrStopped after Stop
	Err() error
}

// Speaker plays float sample fragments on the output device
type Speaker interface {
	Play(samples []float32) (Playback, error)
	// Flush discards audio the device has accepted but not yet played
	Flush()
	Close() error
}

// timedPlayback completes after the fragment's wall-clock duration
type timedPlayback struct {
	done    chan struct{}
	once    sync.Once
	timer   *time.Timer
	stopped bool
	onStop  func()
}

func newTimedPlayback(d time.Duration, onStop func()) *timedPlayback {
	p := &timedPlayback{
		done:   make(chan struct{}),
		onStop: onStop,
	}
	p.timer = time.AfterFunc(d, func() { p.complete(false) })
	return p
}

// complete closes done exactly once and reports whether this call did it
func (p *timedPlayback) complete(stopped bool) bool {
	fired := false
	p.once.Do(func() {
		p.stopped = stopped
		close(p.done)
		fired = true
	})
	return fired
}

func (p *timedPlayback) Done() <-chan struct{} {
	return p.done
}

func (p *timedPlayback) Stop() {
	p.timer.Stop()
	if p.complete(true) && p.onStop != nil {
		p.onStop()
	}
}

func (p *timedPlayback) Err() error {
	select {
	case <-p.done:
		if p.stopped {
			return ErrStopped
		}
		return nil
	default:
		return nil
	}
}

// fragmentDuration is the wall-clock length of n mono samples
func fragmentDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}

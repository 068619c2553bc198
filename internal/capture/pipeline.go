package capture

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lexiqai/voice-chat/internal/audio"
	"github.com/lexiqai/voice-chat/internal/device"
	"github.com/lexiqai/voice-chat/internal/observability"
	"github.com/rs/zerolog"
)

// DefaultFrameSize is the number of samples per captured frame
const DefaultFrameSize = 4096

// ErrDeviceUnavailable is returned when the microphone cannot be acquired
var ErrDeviceUnavailable = errors.New("audio input device unavailable")

// Sink receives encoded frames for transmission
type Sink interface {
	Connected() bool
	AppendAudio(encoded string) error
}

// Pipeline turns microphone frames into outbound audio-append commands
type Pipeline struct {
	mic       device.Microphone
	frameSize int
	logger    zerolog.Logger

	mu     sync.Mutex
	active *Handle
}

// NewPipeline creates a capture pipeline over mic
func NewPipeline(mic device.Microphone, frameSize int, logger zerolog.Logger) *Pipeline {
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}
	return &Pipeline{
		mic:       mic,
		frameSize: frameSize,
		logger:    logger.With().Str("component", "capture").Logger(),
	}
}

// Handle controls one running capture
type Handle struct {
	pipeline *Pipeline
	sink     Sink
	running  atomic.Bool
	stopOnce sync.Once

	sent    atomic.Int64
	dropped atomic.Int64
}

// Start acquires the microphone and forwards frames to sink while it is connected
func (p *Pipeline) Start(sink Sink) (*Handle, error) {
	if sink == nil {
		return nil, errors.New("capture sink must not be nil")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, device.ErrBusy)
	}

	h := &Handle{pipeline: p, sink: sink}
	h.running.Store(true)

	if err := p.mic.Open(p.frameSize, h.onFrame); err != nil {
		h.running.Store(false)
		observability.RecordComponentError("device_unavailable", "capture")
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	p.active = h
	p.logger.Info().Int("frame_size", p.frameSize).Msg("Capture started")
	return h, nil
}

// onFrame runs on the microphone's reader goroutine
func (h *Handle) onFrame(samples []float32) {
	if !h.running.Load() || !h.sink.Connected() {
		h.dropped.Add(1)
		observability.RecordCaptureFrame("dropped")
		return
	}

	observability.SetInputLevel(audio.FloatRMS(samples))

	pcm := audio.FloatToPCM16(samples)
	if err := h.sink.AppendAudio(audio.EncodeTransport(pcm)); err != nil {
		h.dropped.Add(1)
		observability.RecordCaptureFrame("error")
		h.pipeline.logger.Debug().Err(err).Msg("Failed to send audio frame")
		return
	}

	h.sent.Add(1)
	observability.RecordCaptureFrame("sent")
	observability.RecordAudioBytes("in", int64(len(pcm)))
}

// Stop releases the microphone. It is idempotent and safe on a nil handle.
func (h *Handle) Stop() {
	if h == nil {
		return
	}
	h.stopOnce.Do(func() {
		h.running.Store(false)

		p := h.pipeline
		if err := p.mic.Close(); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to close microphone")
		}

		p.mu.Lock()
		if p.active == h {
			p.active = nil
		}
		p.mu.Unlock()

		p.logger.Info().
			Int64("frames_sent", h.sent.Load()).
			Int64("frames_dropped", h.dropped.Load()).
			Msg("Capture stopped")
	})
}

// Running reports whether the handle still forwards frames
func (h *Handle) Running() bool {
	return h != nil && h.running.Load()
}

// FramesSent returns the number of frames handed to the sink
func (h *Handle) FramesSent() int64 {
	if h == nil {
		return 0
	}
	return h.sent.Load()
}

// FramesDropped returns the number of frames discarded
func (h *Handle) FramesDropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"runtime"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
)

// FFmpegMicrophoneConfig configures the ffmpeg capture process
type FFmpegMicrophoneConfig struct {
	Path        string // ffmpeg binary
	InputFormat string // pulse, avfoundation, dshow; empty picks per OS
	InputDevice string // device name for InputFormat; empty picks per OS
	SampleRate  int
}

// FFmpegMicrophone captures mono float32 frames from ffmpeg's stdout
type FFmpegMicrophone struct {
	cfg    FFmpegMicrophoneConfig
	logger zerolog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout io.ReadCloser
	done   chan struct{}
}

// NewFFmpegMicrophone creates a microphone; the device is not touched until Open
func NewFFmpegMicrophone(cfg FFmpegMicrophoneConfig, logger zerolog.Logger) *FFmpegMicrophone {
	if cfg.Path == "" {
		cfg.Path = "ffmpeg"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	return &FFmpegMicrophone{
		cfg:    cfg,
		logger: logger.With().Str("component", "microphone").Logger(),
	}
}

// Open starts ffmpeg and the frame reader goroutine
func (m *FFmpegMicrophone) Open(frameSize int, handler FrameHandler) error {
	if frameSize <= 0 {
		return fmt.Errorf("frame size must be positive, got %d", frameSize)
	}
	if handler == nil {
		return errors.New("frame handler must not be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cmd != nil {
		return ErrBusy
	}

	if _, err := exec.LookPath(m.cfg.Path); err != nil {
		return fmt.Errorf("ffmpeg not found (install ffmpeg and ensure it is in PATH): %w", err)
	}

	args, err := ffmpegCaptureArgs(runtime.GOOS, m.cfg)
	if err != nil {
		return err
	}

	cmd := exec.Command(m.cfg.Path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg mic capture: %w", err)
	}

	m.cmd = cmd
	m.stdout = stdout
	m.done = make(chan struct{})

	m.logger.Info().
		Int("sample_rate", m.cfg.SampleRate).
		Int("frame_size", frameSize).
		Msg("Microphone opened")

	go m.readFrames(stdout, frameSize, handler, m.done)
	return nil
}

func (m *FFmpegMicrophone) readFrames(r io.Reader, frameSize int, handler FrameHandler, done chan struct{}) {
	defer close(done)

	buf := make([]byte, frameSize*4)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.ErrClosedPipe) {
				m.logger.Debug().Err(err).Msg("Microphone reader stopped")
			}
			return
		}
		handler(decodeFloat32LE(buf))
	}
}

// Close kills ffmpeg and waits for the reader to exit
func (m *FFmpegMicrophone) Close() error {
	m.mu.Lock()
	cmd := m.cmd
	done := m.done
	m.cmd = nil
	m.stdout = nil
	m.done = nil
	m.mu.Unlock()

	if cmd == nil {
		return nil
	}
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	_ = cmd.Wait()
	if done != nil {
		<-done
	}

	m.logger.Info().Msg("Microphone closed")
	return nil
}

// ffmpegCaptureArgs builds the capture command line for goos
func ffmpegCaptureArgs(goos string, cfg FFmpegMicrophoneConfig) ([]string, error) {
	format, input := cfg.InputFormat, cfg.InputDevice
	if format == "" {
		switch goos {
		case "darwin":
			format = "avfoundation"
		case "linux":
			format = "pulse"
		case "windows":
			format = "dshow"
		default:
			return nil, fmt.Errorf("mic capture is not implemented for %s; set MIC_INPUT_FORMAT", goos)
		}
	}
	if input == "" {
		switch format {
		case "avfoundation":
			input = ":0"
		case "dshow":
			return nil, errors.New("MIC_INPUT_DEVICE is required for dshow capture")
		default:
			input = "default"
		}
	}

	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", format, "-i", input,
		"-ac", "1", "-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "f32le", "-",
	}, nil
}

func decodeFloat32LE(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}

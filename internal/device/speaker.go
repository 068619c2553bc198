package device

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"

	"github.com/lexiqai/voice-chat/internal/audio"
	"github.com/rs/zerolog"
)

// FFplaySpeakerConfig configures the ffplay output process
type FFplaySpeakerConfig struct {
	Path       string // ffplay binary
	SampleRate int
}

// FFplaySpeaker streams PCM16 into one long-lived ffplay process.
// A Playback completes after the fragment's duration; stopping one restarts
// ffplay so audio already buffered in the pipe is discarded.
type FFplaySpeaker struct {
	cfg    FFplaySpeakerConfig
	logger zerolog.Logger

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
	// dirty is set once audio is written after the last restart
	dirty bool
}

// NewFFplaySpeaker starts ffplay and returns a speaker writing to it
func NewFFplaySpeaker(cfg FFplaySpeakerConfig, logger zerolog.Logger) (*FFplaySpeaker, error) {
	if cfg.Path == "" {
		cfg.Path = "ffplay"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	if _, err := exec.LookPath(cfg.Path); err != nil {
		return nil, fmt.Errorf("ffplay not found (install ffmpeg/ffplay and ensure it is in PATH): %w", err)
	}

	s := &FFplaySpeaker{
		cfg:    cfg,
		logger: logger.With().Str("component", "speaker").Logger(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.startLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FFplaySpeaker) startLocked() error {
	cmd := exec.Command(s.cfg.Path, ffplayArgs(s.cfg.SampleRate)...)
	if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
		// SDL may pick a dummy backend on macOS
		cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open ffplay stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start ffplay: %w", err)
	}

	s.cmd = cmd
	s.stdin = stdin
	return nil
}

func (s *FFplaySpeaker) closeLocked() {
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	s.cmd = nil
	s.stdin = nil
}

// Play writes the fragment to ffplay and returns a handle timed to its duration
func (s *FFplaySpeaker) Play(samples []float32) (Playback, error) {
	pcm := audio.FloatToPCM16(samples)

	s.mu.Lock()
	if s.stdin == nil {
		if err := s.startLocked(); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	_, err := s.stdin.Write(pcm)
	s.dirty = true
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("write to ffplay: %w", err)
	}

	return newTimedPlayback(fragmentDuration(len(samples), s.cfg.SampleRate), s.Flush), nil
}

// Flush drops whatever ffplay has buffered by restarting it.
// It is a no-op if nothing was written since the last restart.
func (s *FFplaySpeaker) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil || !s.dirty {
		return
	}
	s.dirty = false
	s.closeLocked()
	if err := s.startLocked(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to restart ffplay after stop")
	}
}

// Close stops ffplay
func (s *FFplaySpeaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func ffplayArgs(sampleRate int) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-nodisp",
		"-f", "s16le",
		"-ch_layout", "mono",
		"-ar", strconv.Itoa(sampleRate),
		"-i", "-",
	}
}

// SilentSpeaker keeps fragment timing without producing sound.
// It backs --no-speaker runs and headless environments.
type SilentSpeaker struct {
	SampleRate int

	mu     sync.Mutex
	closed bool
}

// NewSilentSpeaker creates a speaker that only waits out each fragment
func NewSilentSpeaker(sampleRate int) *SilentSpeaker {
	return &SilentSpeaker{SampleRate: sampleRate}
}

func (s *SilentSpeaker) Play(samples []float32) (Playback, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, errors.New("speaker closed")
	}
	return newTimedPlayback(fragmentDuration(len(samples), s.SampleRate), nil), nil
}

// Flush has nothing to discard
func (s *SilentSpeaker) Flush() {}

func (s *SilentSpeaker) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

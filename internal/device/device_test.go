package device

import (
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func TestFFmpegCaptureArgs_Linux(t *testing.T) {
	args, err := ffmpegCaptureArgs("linux", FFmpegMicrophoneConfig{SampleRate: 24000})
	if err != nil {
		t.Fatalf("ffmpegCaptureArgs failed: %v", err)
	}

	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-f pulse -i default") {
		t.Errorf("Expected pulse input, got %s", joined)
	}
	if !strings.Contains(joined, "-ar 24000") {
		t.Errorf("Expected 24000 Hz output, got %s", joined)
	}
	if !strings.HasSuffix(joined, "-f f32le -") {
		t.Errorf("Expected f32le on stdout, got %s", joined)
	}
}

func TestFFmpegCaptureArgs_Darwin(t *testing.T) {
	args, err := ffmpegCaptureArgs("darwin", FFmpegMicrophoneConfig{SampleRate: 24000})
	if err != nil {
		t.Fatalf("ffmpegCaptureArgs failed: %v", err)
	}

	if !strings.Contains(strings.Join(args, " "), "-f avfoundation -i :0") {
		t.Errorf("Expected avfoundation input, got %v", args)
	}
}

func TestFFmpegCaptureArgs_Override(t *testing.T) {
	cfg := FFmpegMicrophoneConfig{InputFormat: "alsa", InputDevice: "hw:1", SampleRate: 16000}
	args, err := ffmpegCaptureArgs("linux", cfg)
	if err != nil {
		t.Fatalf("ffmpegCaptureArgs failed: %v", err)
	}

	if !strings.Contains(strings.Join(args, " "), "-f alsa -i hw:1") {
		t.Errorf("Expected configured input, got %v", args)
	}
}

func TestFFmpegCaptureArgs_Unsupported(t *testing.T) {
	if _, err := ffmpegCaptureArgs("plan9", FFmpegMicrophoneConfig{SampleRate: 24000}); err == nil {
		t.Error("Expected error for unsupported platform")
	}

	if _, err := ffmpegCaptureArgs("windows", FFmpegMicrophoneConfig{SampleRate: 24000}); err == nil {
		t.Error("Expected error for dshow without a device name")
	}
}

func TestDecodeFloat32LE(t *testing.T) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(0.25))
	binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(-1))

	samples := decodeFloat32LE(buf)
	if len(samples) != 2 || samples[0] != 0.25 || samples[1] != -1 {
		t.Errorf("Unexpected samples: %v", samples)
	}
}

func TestFragmentDuration(t *testing.T) {
	if d := fragmentDuration(24000, 24000); d != time.Second {
		t.Errorf("Expected 1s, got %v", d)
	}
	if d := fragmentDuration(240, 24000); d != 10*time.Millisecond {
		t.Errorf("Expected 10ms, got %v", d)
	}
	if d := fragmentDuration(100, 0); d != 0 {
		t.Errorf("Expected 0 for invalid rate, got %v", d)
	}
}

func TestSilentSpeaker_Completes(t *testing.T) {
	speaker := NewSilentSpeaker(24000)
	pb, err := speaker.Play(make([]float32, 240))
	if err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	select {
	case <-pb.Done():
	case <-time.After(time.Second):
		t.Fatal("Expected playback to complete")
	}

	if pb.Err() != nil {
		t.Errorf("Expected nil error after natural completion, got %v", pb.Err())
	}
}

func TestSilentSpeaker_Stop(t *testing.T) {
	speaker := NewSilentSpeaker(24000)
	pb, err := speaker.Play(make([]float32, 24000*10))
	if err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	pb.Stop()
	pb.Stop()

	select {
	case <-pb.Done():
	default:
		t.Fatal("Expected Done to be closed after Stop")
	}

	if !errors.Is(pb.Err(), ErrStopped) {
		t.Errorf("Expected ErrStopped, got %v", pb.Err())
	}
}

func TestSilentSpeaker_Closed(t *testing.T) {
	speaker := NewSilentSpeaker(24000)
	speaker.Close()

	if _, err := speaker.Play(make([]float32, 10)); err == nil {
		t.Error("Expected error playing on closed speaker")
	}
}

func TestFFmpegMicrophone_CloseWithoutOpen(t *testing.T) {
	mic := NewFFmpegMicrophone(FFmpegMicrophoneConfig{}, testLogger())
	if err := mic.Close(); err != nil {
		t.Errorf("Expected Close without Open to succeed, got %v", err)
	}
}

func TestFFmpegMicrophone_MissingBinary(t *testing.T) {
	mic := NewFFmpegMicrophone(FFmpegMicrophoneConfig{Path: "/nonexistent/ffmpeg"}, testLogger())
	if err := mic.Open(4096, func([]float32) {}); err == nil {
		t.Error("Expected error for missing ffmpeg binary")
	}
}

package playback

import (
	"encoding/binary"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lexiqai/voice-chat/internal/audio"
	"github.com/lexiqai/voice-chat/internal/device"
	"github.com/rs/zerolog"
)

type fakePlayback struct {
	speaker *fakeSpeaker
	done    chan struct{}
	once    sync.Once
	stopped atomic.Bool
}

func (p *fakePlayback) finish(stopped bool) {
	p.once.Do(func() {
		p.stopped.Store(stopped)
		p.speaker.playing.Add(-1)
		close(p.done)
	})
}

func (p *fakePlayback) Done() <-chan struct{} { return p.done }
func (p *fakePlayback) Stop()                 { p.finish(true) }

func (p *fakePlayback) Err() error {
	if p.stopped.Load() {
		return device.ErrStopped
	}
	return nil
}

// fakeSpeaker records what was played. With autoComplete set each fragment
// finishes on its own after that delay; otherwise the test finishes it.
type fakeSpeaker struct {
	autoComplete time.Duration

	mu         sync.Mutex
	played     [][]float32
	handles    []*fakePlayback
	playing    atomic.Int32
	maxPlaying atomic.Int32
	flushes    atomic.Int32
}

func (s *fakeSpeaker) Play(samples []float32) (device.Playback, error) {
	pb := &fakePlayback{speaker: s, done: make(chan struct{})}

	n := s.playing.Add(1)
	for {
		max := s.maxPlaying.Load()
		if n <= max || s.maxPlaying.CompareAndSwap(max, n) {
			break
		}
	}

	s.mu.Lock()
	s.played = append(s.played, append([]float32(nil), samples...))
	s.handles = append(s.handles, pb)
	s.mu.Unlock()

	if s.autoComplete > 0 {
		time.AfterFunc(s.autoComplete, func() { pb.finish(false) })
	}
	return pb, nil
}

func (s *fakeSpeaker) Flush()       { s.flushes.Add(1) }
func (s *fakeSpeaker) Close() error { return nil }

func (s *fakeSpeaker) playedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.played)
}

func (s *fakeSpeaker) handle(i int) *fakePlayback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[i]
}

func (s *fakeSpeaker) firstSamples() []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float32, len(s.played))
	for i, p := range s.played {
		out[i] = p[0]
	}
	return out
}

// fragment encodes n samples of value v the way the service sends them
func fragment(v int16, n int) string {
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return audio.EncodeTransport(buf)
}

func newTestQueue(speaker device.Speaker, gain float64) *Queue {
	return NewQueue(speaker, Options{
		Volume: NewVolume(gain),
		Gap:    time.Millisecond,
		Logger: zerolog.New(io.Discard),
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestQueue_PlaysInArrivalOrder(t *testing.T) {
	speaker := &fakeSpeaker{autoComplete: 2 * time.Millisecond}
	q := newTestQueue(speaker, 1)

	values := []int16{1024, 2048, 4096, 8192, 16384}
	for _, v := range values {
		q.Enqueue(fragment(v, 8))
	}

	waitFor(t, "all fragments to play", func() bool {
		return speaker.playedCount() == len(values) && !q.Draining()
	})

	got := speaker.firstSamples()
	for i, v := range values {
		want := float32(v) / 32768.0
		if got[i] != want {
			t.Errorf("Fragment %d: expected %f, got %f", i, want, got[i])
		}
	}

	if speaker.maxPlaying.Load() != 1 {
		t.Errorf("Expected at most one fragment playing at a time, got %d", speaker.maxPlaying.Load())
	}
}

func TestQueue_WaitsForCompletion(t *testing.T) {
	speaker := &fakeSpeaker{}
	q := newTestQueue(speaker, 1)

	q.Enqueue(fragment(100, 4))
	q.Enqueue(fragment(200, 4))

	waitFor(t, "first fragment to start", func() bool { return speaker.playedCount() == 1 })

	time.Sleep(20 * time.Millisecond)
	if speaker.playedCount() != 1 {
		t.Fatalf("Expected second fragment to wait, got %d started", speaker.playedCount())
	}
	if q.Pending() != 1 || q.Active() != 1 {
		t.Errorf("Expected 1 pending and 1 active, got %d and %d", q.Pending(), q.Active())
	}

	speaker.handle(0).finish(false)

	waitFor(t, "second fragment to start", func() bool { return speaker.playedCount() == 2 })
	speaker.handle(1).finish(false)

	waitFor(t, "drain to finish", func() bool { return !q.Draining() })
	if q.Active() != 0 {
		t.Errorf("Expected no active handles, got %d", q.Active())
	}
}

func TestQueue_StopAllDuringPlayback(t *testing.T) {
	speaker := &fakeSpeaker{}
	q := newTestQueue(speaker, 1)

	q.Enqueue(fragment(100, 4))
	q.Enqueue(fragment(200, 4))
	q.Enqueue(fragment(300, 4))

	waitFor(t, "first fragment to start", func() bool { return speaker.playedCount() == 1 })

	q.StopAll()

	if q.Pending() != 0 {
		t.Errorf("Expected empty queue after StopAll, got %d", q.Pending())
	}
	if q.Active() != 0 {
		t.Errorf("Expected no active handles after StopAll, got %d", q.Active())
	}
	if q.Draining() {
		t.Error("Expected draining to be reset after StopAll")
	}
	if !speaker.handle(0).stopped.Load() {
		t.Error("Expected the playing fragment to be stopped")
	}

	time.Sleep(30 * time.Millisecond)
	if speaker.playedCount() != 1 {
		t.Errorf("Expected no further audio after StopAll, got %d fragments", speaker.playedCount())
	}
}

func TestQueue_FreshDrainAfterStopAll(t *testing.T) {
	speaker := &fakeSpeaker{autoComplete: time.Hour}
	q := newTestQueue(speaker, 1)

	q.Enqueue(fragment(100, 4))
	q.Enqueue(fragment(200, 4))
	waitFor(t, "first fragment to start", func() bool { return speaker.playedCount() == 1 })

	q.StopAll()

	speaker.autoComplete = 0
	q.Enqueue(fragment(300, 4))
	waitFor(t, "new fragment to start", func() bool { return speaker.playedCount() == 2 })

	got := speaker.firstSamples()
	if got[1] != float32(300)/32768.0 {
		t.Errorf("Expected the new fragment to play next, got %f", got[1])
	}
	if !q.Draining() {
		t.Error("Expected a fresh drain to be running")
	}

	speaker.handle(1).finish(false)
	waitFor(t, "drain to finish", func() bool { return !q.Draining() })
}

func TestQueue_StopAllWhenIdle(t *testing.T) {
	speaker := &fakeSpeaker{}
	q := newTestQueue(speaker, 1)

	q.StopAll()
	q.StopAll()

	if q.Pending() != 0 || q.Active() != 0 || q.Draining() {
		t.Error("Expected idle queue to stay empty")
	}
	if speaker.flushes.Load() != 2 {
		t.Errorf("Expected the speaker to be flushed on every StopAll, got %d", speaker.flushes.Load())
	}
}

func TestQueue_StopAllBetweenFragmentsFlushesSpeaker(t *testing.T) {
	speaker := &fakeSpeaker{autoComplete: time.Millisecond}
	q := NewQueue(speaker, Options{
		Volume: NewVolume(1),
		Gap:    time.Hour,
		Logger: zerolog.New(io.Discard),
	})

	q.Enqueue(fragment(100, 4))
	q.Enqueue(fragment(200, 4))
	waitFor(t, "first fragment to complete", func() bool {
		return speaker.playedCount() == 1 && q.Active() == 0
	})

	q.StopAll()

	if speaker.flushes.Load() != 1 {
		t.Errorf("Expected one speaker flush with no active fragment, got %d", speaker.flushes.Load())
	}
	if q.Pending() != 0 {
		t.Errorf("Expected pending fragment dropped, got %d", q.Pending())
	}
	time.Sleep(20 * time.Millisecond)
	if speaker.playedCount() != 1 {
		t.Errorf("Expected no further audio after StopAll, got %d fragments", speaker.playedCount())
	}
}

func TestQueue_SkipsMalformedFragments(t *testing.T) {
	speaker := &fakeSpeaker{autoComplete: time.Millisecond}
	q := newTestQueue(speaker, 1)

	q.Enqueue("%%% not base64 %%%")
	q.Enqueue(fragment(1000, 4))
	q.Enqueue(audio.EncodeTransport([]byte{1, 2, 3}))
	q.Enqueue(fragment(2000, 4))

	waitFor(t, "drain to finish", func() bool { return !q.Draining() && q.Pending() == 0 })

	got := speaker.firstSamples()
	if len(got) != 2 {
		t.Fatalf("Expected 2 valid fragments to play, got %d", len(got))
	}
	if got[0] != float32(1000)/32768.0 || got[1] != float32(2000)/32768.0 {
		t.Errorf("Unexpected playback order: %v", got)
	}
}

func TestQueue_AppliesVolumeAtPlayTime(t *testing.T) {
	speaker := &fakeSpeaker{}
	q := newTestQueue(speaker, 0.5)

	q.Enqueue(fragment(16384, 4))
	q.Enqueue(fragment(16384, 4))
	waitFor(t, "first fragment to start", func() bool { return speaker.playedCount() == 1 })

	q.Volume().Set(1)
	speaker.handle(0).finish(false)
	waitFor(t, "second fragment to start", func() bool { return speaker.playedCount() == 2 })
	speaker.handle(1).finish(false)

	got := speaker.firstSamples()
	if got[0] != 0.25 {
		t.Errorf("Expected first fragment at gain 0.5 (0.25), got %f", got[0])
	}
	if got[1] != 0.5 {
		t.Errorf("Expected second fragment at gain 1.0 (0.5), got %f", got[1])
	}
}

func TestQueue_ConcurrentEnqueueAndStop(t *testing.T) {
	speaker := &fakeSpeaker{autoComplete: 100 * time.Microsecond}
	q := newTestQueue(speaker, 1)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				q.Enqueue(fragment(int16(j), 2))
				if j%10 == 0 {
					q.StopAll()
				}
			}
		}()
	}
	wg.Wait()
	q.StopAll()

	if q.Pending() != 0 || q.Active() != 0 {
		t.Errorf("Expected empty queue, got %d pending and %d active", q.Pending(), q.Active())
	}
	if speaker.maxPlaying.Load() > 1 {
		t.Errorf("Expected no overlapping playback, got %d concurrent", speaker.maxPlaying.Load())
	}
}

func TestVolume_Clamps(t *testing.T) {
	v := NewVolume(0.8)
	if v.Get() != 0.8 {
		t.Errorf("Expected 0.8, got %f", v.Get())
	}

	if got := v.Set(1.7); got != 1 {
		t.Errorf("Expected clamp to 1, got %f", got)
	}
	if got := v.Set(-0.2); got != 0 {
		t.Errorf("Expected clamp to 0, got %f", got)
	}
	if v.Get() != 0 {
		t.Errorf("Expected stored 0, got %f", v.Get())
	}
}

package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lexiqai/voice-chat/internal/audio"
	"github.com/lexiqai/voice-chat/internal/device"
	"github.com/lexiqai/voice-chat/internal/observability"
	"github.com/rs/zerolog"
)

// DefaultGap is the pause inserted between consecutive fragments
const DefaultGap = 10 * time.Millisecond

// ErrOperationAborted reports a fragment stopped before it finished playing.
// The drain loop treats it as a normal completion.
var ErrOperationAborted = errors.New("playback operation aborted")

// Options configures a Queue
type Options struct {
	Volume *Volume
	Gap    time.Duration
	Logger zerolog.Logger
}

// Queue plays transport-encoded audio fragments strictly in arrival order,
// one at a time, and can drop everything at once for barge-in.
type Queue struct {
	speaker device.Speaker
	volume  *Volume
	gap     time.Duration
	logger  zerolog.Logger

	mu         sync.Mutex
	pending    []string
	draining   bool
	generation uint64
	cancel     context.CancelFunc
	active     map[uint64]device.Playback
	nextID     uint64
}

// NewQueue creates a playback queue on speaker
func NewQueue(speaker device.Speaker, opts Options) *Queue {
	if opts.Volume == nil {
		opts.Volume = NewVolume(DefaultGain)
	}
	if opts.Gap < 0 {
		opts.Gap = 0
	}
	return &Queue{
		speaker: speaker,
		volume:  opts.Volume,
		gap:     opts.Gap,
		logger:  opts.Logger.With().Str("component", "playback").Logger(),
		active:  make(map[uint64]device.Playback),
	}
}

// Volume returns the gain shared by every fragment of this queue
func (q *Queue) Volume() *Volume {
	return q.volume
}

// Enqueue appends a fragment and starts a drain if none is running
func (q *Queue) Enqueue(fragment string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = append(q.pending, fragment)
	observability.SetPlaybackQueueDepth(len(q.pending))

	if q.draining {
		return
	}

	q.draining = true
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	go q.drain(ctx, q.generation)
}

// drain is the only code that starts playback. One instance runs per generation.
func (q *Queue) drain(ctx context.Context, gen uint64) {
	for {
		q.mu.Lock()
		if q.generation != gen {
			q.mu.Unlock()
			return
		}
		if len(q.pending) == 0 {
			q.draining = false
			q.cancel()
			q.cancel = nil
			q.mu.Unlock()
			return
		}
		fragment := q.pending[0]
		q.pending[0] = ""
		q.pending = q.pending[1:]
		observability.SetPlaybackQueueDepth(len(q.pending))
		q.mu.Unlock()

		samples, err := audio.DecodeFragment(fragment)
		if err != nil {
			q.logger.Warn().Err(err).Int("length", len(fragment)).Msg("Skipping undecodable audio fragment")
			observability.RecordPlaybackFragment("decode_error")
			continue
		}
		audio.ApplyGain(samples, q.volume.Get())

		id, pb, ok := q.start(gen, samples)
		if !ok {
			return
		}
		if pb == nil {
			continue
		}

		err = q.await(ctx, pb)
		q.mu.Lock()
		delete(q.active, id)
		q.mu.Unlock()

		if errors.Is(err, ErrOperationAborted) {
			observability.RecordPlaybackFragment("stopped")
		} else {
			observability.RecordPlaybackFragment("played")
			observability.RecordAudioBytes("out", int64(len(samples)*2))
		}

		if ctx.Err() != nil {
			return
		}
		if q.gap > 0 {
			t := time.NewTimer(q.gap)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return
			}
		}
	}
}

// start begins playback unless StopAll ran since the fragment was popped.
// ok is false when the drain for gen must exit; pb is nil when the device refused the fragment.
func (q *Queue) start(gen uint64, samples []float32) (id uint64, pb device.Playback, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.generation != gen {
		return 0, nil, false
	}

	pb, err := q.speaker.Play(samples)
	if err != nil {
		q.logger.Error().Err(err).Msg("Failed to start fragment playback")
		observability.RecordPlaybackFragment("device_error")
		return 0, nil, true
	}

	q.nextID++
	id = q.nextID
	q.active[id] = pb
	return id, pb, true
}

// await blocks until pb ends. A stop or cancellation yields ErrOperationAborted.
func (q *Queue) await(ctx context.Context, pb device.Playback) error {
	select {
	case <-pb.Done():
	case <-ctx.Done():
		pb.Stop()
		return ErrOperationAborted
	}

	if err := pb.Err(); err != nil {
		if errors.Is(err, device.ErrStopped) {
			return ErrOperationAborted
		}
		return err
	}
	return nil
}

// StopAll halts every active fragment, drops everything pending and flushes the speaker.
// No audio is started by this queue's current drain after it returns.
func (q *Queue) StopAll() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.generation++
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}

	stopped := len(q.active)
	for id, pb := range q.active {
		pb.Stop()
		delete(q.active, id)
	}
	// The device may still hold audio from fragments whose handles already completed
	q.speaker.Flush()

	dropped := len(q.pending)
	q.pending = nil
	q.draining = false
	observability.SetPlaybackQueueDepth(0)

	if stopped > 0 || dropped > 0 {
		q.logger.Debug().
			Int("stopped", stopped).
			Int("dropped", dropped).
			Msg("Playback cleared")
	}
}

// Pending returns the number of fragments waiting to play
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Active returns the number of fragments currently playing
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

// Draining reports whether a drain loop is running
func (q *Queue) Draining() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.draining
}

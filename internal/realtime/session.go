package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/lexiqai/voice-chat/internal/capture"
	"github.com/lexiqai/voice-chat/internal/observability"
	"github.com/rs/zerolog"
)

// Player is the playback side a voice session drives
type Player interface {
	Enqueue(fragment string)
	StopAll()
	Active() int
	Pending() int
}

// Capturer starts microphone capture feeding a session
type Capturer interface {
	Start(sink capture.Sink) (*capture.Handle, error)
}

// Options configures a Session
type Options struct {
	Mode     Mode
	Endpoint string
	Dialer   Dialer
	Renderer Renderer

	// Voice mode only
	Playback Player
	Capture  Capturer

	// Sent with every text-mode response.create
	TextResponseInstructions string

	Logger zerolog.Logger
	// OnClose runs once after teardown
	OnClose func(*Session)
}

// Session owns one protocol connection from connect to teardown. It is not reusable.
type Session struct {
	id       string
	mode     Mode
	endpoint string
	dialer   Dialer
	renderer Renderer
	playback Player
	capturer Capturer

	textInstructions string

	logger  zerolog.Logger
	metrics *observability.Metrics
	onClose func(*Session)

	mu            sync.Mutex
	snap          Snapshot
	conn          Conn
	captureHandle *capture.Handle
	started       bool
	closed        bool
	done          chan struct{}
}

// NewSession creates an idle session
func NewSession(opts Options) *Session {
	id := observability.NewCorrelationID()
	logger := observability.WithSession(opts.Logger, id, opts.Mode.String())

	return &Session{
		id:               id,
		mode:             opts.Mode,
		endpoint:         opts.Endpoint,
		dialer:           opts.Dialer,
		renderer:         opts.Renderer,
		playback:         opts.Playback,
		capturer:         opts.Capture,
		textInstructions: opts.TextResponseInstructions,
		logger:           logger,
		metrics:          observability.NewSessionMetrics(id, opts.Mode.String()),
		onClose:          opts.OnClose,
		snap:             Snapshot{Mode: opts.Mode, State: StateIdle},
		done:             make(chan struct{}),
	}
}

// ID returns the session's correlation id
func (s *Session) ID() string { return s.id }

// Mode returns the session's mode
func (s *Session) Mode() Mode { return s.mode }

// Done is closed after teardown
func (s *Session) Done() <-chan struct{} { return s.done }

// Snapshot returns a copy of the current protocol state
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Connected reports whether commands can be sent. Part of capture.Sink.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.snap.State == StateConnected
}

// AppendAudio sends one encoded capture frame. Part of capture.Sink.
func (s *Session) AppendAudio(encoded string) error {
	return s.send(AppendAudio(encoded))
}

// Connect dials the endpoint and, in voice mode, starts capture.
// A capture failure tears the session down and returns an error wrapping capture.ErrDeviceUnavailable.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("session %s already started", s.id)
	}
	s.started = true
	s.snap.State = StateConnecting
	s.mu.Unlock()

	s.setStatus(StatusConnecting, SeverityConnecting)
	s.logger.Info().Str("endpoint", s.endpoint).Msg("Connecting")

	conn, err := s.dialer.Dial(ctx, s.endpoint)
	if err != nil {
		s.logger.Error().Err(err).Msg("Connection failed")
		s.metrics.RecordError("dial", "session")
		s.setStatus(StatusConnectFailed, SeverityDisconnected)
		s.finish()
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrSessionClosed
	}
	s.conn = conn
	s.snap.State = StateConnected
	s.snap.Phase = PhaseListening
	s.mu.Unlock()

	s.metrics.RecordSessionStart()
	s.setStatus(StatusConnected, SeverityConnected)
	s.logger.Info().Msg("Connected")

	go s.readLoop(conn)

	if s.mode == ModeVoice && s.capturer != nil {
		h, err := s.capturer.Start(s)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to start capture")
			s.metrics.RecordError("device_unavailable", "capture")
			s.teardown(err, StatusMicUnavailable)
			return err
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			h.Stop()
			return ErrSessionClosed
		}
		s.captureHandle = h
		s.mu.Unlock()

		s.setStatus(StatusStartSpeaking, SeverityConnected)
	}

	return nil
}

// readLoop is the only reader of conn and the only caller of dispatch
func (s *Session) readLoop(conn Conn) {
	for {
		ev, err := conn.ReadEvent()
		if err != nil {
			if IsUnexpectedClose(err) {
				s.logger.Warn().Err(err).Msg("Connection closed unexpectedly")
			} else {
				s.logger.Debug().Err(err).Msg("Read loop ended")
			}
			s.teardown(fmt.Errorf("%w: %v", ErrTransport, err), StatusDisconnected)
			return
		}
		if ev.Type == "" {
			s.logger.Debug().Msg("Ignoring undecodable message")
			continue
		}
		s.dispatch(ev)
	}
}

// dispatch runs Transition under the lock and applies its effects outside it, in order
func (s *Session) dispatch(ev ServerEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	prev := s.snap
	next, effects := Transition(prev, ev)
	s.snap = next
	s.mu.Unlock()

	s.logger.Debug().
		Str("event", ev.Type).
		Str("phase", next.Phase.String()).
		Bool("response_active", next.ResponseActive).
		Msg("Event received")

	switch ev.Type {
	case EventResponseCreated:
		s.metrics.RecordResponseStart()
	case EventResponseDone:
		s.metrics.RecordResponseEnd(false)
	case EventTranscriptionCompleted:
		if prev.ResponseActive && next.ResponseActive {
			s.logger.Info().Msg("Cancelling active response for new transcript")
		}
	}

	s.apply(effects)
}

func (s *Session) apply(effects []Effect) {
	for _, e := range effects {
		switch e.Kind {
		case EffectRenderUser:
			s.renderer.RenderUserMessage(e.Text, s.mode)

		case EffectAppendAssistant:
			s.renderer.AppendAssistantDelta(e.Text, s.mode)

		case EffectFinalizeAssistant:
			s.renderer.FinalizeAssistantMessage(s.mode)

		case EffectSend:
			if err := s.send(e.Command); err != nil {
				s.logger.Error().Err(err).Str("command", e.Command.Type).Msg("Failed to send command")
				s.teardown(err, StatusDisconnected)
				return
			}

		case EffectEnqueueAudio:
			if s.playback != nil && !s.enqueue(e.Text) {
				s.logger.Debug().Msg("Dropping audio for closed session")
				return
			}

		case EffectStopPlayback:
			if s.playback != nil {
				if s.playback.Active() > 0 || s.playback.Pending() > 0 {
					observability.RecordBargeIn()
					s.logger.Info().Msg("User speech interrupted playback")
				}
				s.playback.StopAll()
			}

		case EffectStatus:
			s.setStatus(e.Text, e.Severity)

		case EffectReportError:
			observability.RecordProtocolError(e.Err.Code)
			s.logger.Warn().
				Str("code", e.Err.Code).
				Str("message", e.Err.Message).
				Msg("Service reported an error")
		}
	}
}

// enqueue hands a fragment to playback unless the session is closed.
// It holds mu so a concurrent teardown's StopAll always runs after the fragment is queued.
func (s *Session) enqueue(fragment string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.playback.Enqueue(fragment)
	return true
}

// send writes one command if the session is connected
func (s *Session) send(cmd ClientCommand) error {
	s.mu.Lock()
	conn := s.conn
	ok := !s.closed && s.snap.State == StateConnected
	s.mu.Unlock()

	if !ok || conn == nil {
		return ErrNotConnected
	}
	if err := conn.WriteCommand(cmd); err != nil {
		s.metrics.RecordError("write", "session")
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

// SendText renders a typed user message and asks for a response.
// Text mode requests a text-only response with the configured instructions.
func (s *Session) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	if s.closed || s.snap.State != StateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	var opts *ResponseOptions
	if s.mode == ModeText {
		opts = &ResponseOptions{
			Modalities:   []string{"text"},
			Instructions: s.textInstructions,
		}
	}
	next := s.snap
	commands := requestResponse(&next, opts)
	s.snap = next
	s.mu.Unlock()

	s.renderer.RenderUserMessage(text, s.mode)

	effects := append([]Effect{send(UserMessage(text))}, commands...)
	for _, e := range effects {
		if err := s.send(e.Command); err != nil {
			s.logger.Error().Err(err).Str("command", e.Command.Type).Msg("Failed to send text message")
			if errors.Is(err, ErrTransport) {
				s.teardown(err, StatusDisconnected)
			}
			return err
		}
	}
	return nil
}

// EndCall cancels any active response, stops capture and playback, then closes the connection
func (s *Session) EndCall() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	active := s.snap.ResponseActive && s.snap.State == StateConnected
	h := s.captureHandle
	s.captureHandle = nil
	s.mu.Unlock()

	if active {
		if err := s.send(CancelResponse()); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to cancel active response")
		} else {
			s.metrics.RecordResponseEnd(true)
		}
	}

	h.Stop()
	if s.playback != nil {
		s.playback.StopAll()
	}

	s.teardown(nil, StatusCallEnded)
}

// Close tears the session down without cancelling; used when leaving the text tab
func (s *Session) Close() {
	s.teardown(nil, StatusDisconnected)
}

// teardown returns the session to Idle and releases everything it owns. Idempotent.
func (s *Session) teardown(cause error, statusMsg string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	wasConnected := s.snap.State == StateConnected
	s.snap = Snapshot{Mode: s.mode, State: StateIdle}
	conn := s.conn
	h := s.captureHandle
	s.captureHandle = nil
	s.mu.Unlock()

	h.Stop()
	if s.playback != nil {
		s.playback.StopAll()
	}
	if conn != nil {
		_ = conn.Close()
	}

	if wasConnected {
		s.metrics.RecordSessionEnd()
	}
	if cause != nil {
		s.logger.Info().Err(cause).Msg("Session torn down")
	} else {
		s.logger.Info().Msg("Session closed")
	}

	s.setStatus(statusMsg, SeverityDisconnected)
	s.notifyClosed()
}

// finish marks a session that never connected as closed
func (s *Session) finish() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.snap = Snapshot{Mode: s.mode, State: StateIdle}
	s.mu.Unlock()
	s.notifyClosed()
}

// notifyClosed closes done and notifies the owner; closed must already be set
func (s *Session) notifyClosed() {
	close(s.done)
	if s.onClose != nil {
		s.onClose(s)
	}
}

func (s *Session) setStatus(msg string, sev Severity) {
	if s.renderer == nil {
		return
	}
	if s.mode == ModeText {
		msg = "Text mode: " + msg
	}
	s.renderer.SetStatus(msg, sev)
}

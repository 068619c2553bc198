package manager

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/lexiqai/voice-chat/internal/playback"
	"github.com/lexiqai/voice-chat/internal/realtime"
	"github.com/rs/zerolog"
)

// ErrCallActive is returned by StartCall while a voice session exists
var ErrCallActive = errors.New("voice call already active")

// Clearer is implemented by renderers that can reset one conversation
type Clearer interface {
	ClearChat(mode realtime.Mode)
}

// Options configures a Manager
type Options struct {
	VoiceEndpoint string
	TextEndpoint  string
	Dialer        realtime.Dialer
	Renderer      realtime.Renderer

	Playback realtime.Player
	Volume   *playback.Volume
	Capture  realtime.Capturer

	TextResponseInstructions string
	Logger                   zerolog.Logger
}

// Manager keeps at most one voice and one text session and routes user actions to them
type Manager struct {
	opts   Options
	logger zerolog.Logger

	mu    sync.Mutex
	tab   realtime.Mode
	voice *realtime.Session
	text  *realtime.Session

	// serializes text connects so concurrent sends share one session
	textConnectMu sync.Mutex
}

// New creates a manager on the voice tab with no sessions
func New(opts Options) *Manager {
	return &Manager{
		opts:   opts,
		logger: opts.Logger.With().Str("component", "manager").Logger(),
		tab:    realtime.ModeVoice,
	}
}

// Tab returns the active tab
func (m *Manager) Tab() realtime.Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tab
}

// Voice returns the current voice session, if any
func (m *Manager) Voice() *realtime.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.voice
}

// Text returns the current text session, if any
func (m *Manager) Text() *realtime.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text
}

// InCall reports whether a voice session exists
func (m *Manager) InCall() bool {
	return m.Voice() != nil
}

func (m *Manager) newSession(mode realtime.Mode) *realtime.Session {
	opts := realtime.Options{
		Mode:     mode,
		Endpoint: m.opts.TextEndpoint,
		Dialer:   m.opts.Dialer,
		Renderer: m.opts.Renderer,
		Logger:   m.opts.Logger,
		OnClose:  m.sessionClosed,
	}
	if mode == realtime.ModeVoice {
		opts.Endpoint = m.opts.VoiceEndpoint
		opts.Playback = m.opts.Playback
		opts.Capture = m.opts.Capture
	} else {
		opts.TextResponseInstructions = m.opts.TextResponseInstructions
	}
	return realtime.NewSession(opts)
}

// sessionClosed runs from a session's teardown; it must not call back into the session
func (m *Manager) sessionClosed(s *realtime.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.voice == s:
		m.voice = nil
	case m.text == s:
		m.text = nil
	}
	m.logger.Debug().Str("session_id", s.ID()).Str("mode", s.Mode().String()).Msg("Session released")
}

// StartCall connects a voice session and starts capture
func (m *Manager) StartCall(ctx context.Context) error {
	m.mu.Lock()
	if m.voice != nil {
		m.mu.Unlock()
		return ErrCallActive
	}
	s := m.newSession(realtime.ModeVoice)
	m.voice = s
	m.mu.Unlock()

	m.logger.Info().Str("session_id", s.ID()).Msg("Starting call")
	if err := s.Connect(ctx); err != nil {
		m.release(s)
		return err
	}
	return nil
}

// EndCall ends the voice session if there is one
func (m *Manager) EndCall() {
	s := m.Voice()
	if s == nil {
		return
	}
	m.logger.Info().Str("session_id", s.ID()).Msg("Ending call")
	s.EndCall()
	m.release(s)
}

// ToggleCall starts a call when idle and ends it otherwise
func (m *Manager) ToggleCall(ctx context.Context) error {
	if m.InCall() {
		m.EndCall()
		return nil
	}
	return m.StartCall(ctx)
}

// SwitchTab changes the active tab. Leaving the text tab closes the text session;
// leaving the voice tab keeps the call running.
func (m *Manager) SwitchTab(tab realtime.Mode) {
	m.mu.Lock()
	prev := m.tab
	m.tab = tab
	text := m.text
	m.mu.Unlock()

	if prev == tab {
		return
	}
	m.logger.Debug().Str("from", prev.String()).Str("to", tab.String()).Msg("Switching tab")

	if prev == realtime.ModeText && text != nil {
		text.Close()
		m.release(text)
	}
}

// ConnectText establishes the text session if it is not already connected
func (m *Manager) ConnectText(ctx context.Context) error {
	_, err := m.ensureText(ctx)
	return err
}

// DisconnectText closes the text session if there is one
func (m *Manager) DisconnectText() {
	s := m.Text()
	if s == nil {
		return
	}
	s.Close()
	m.release(s)
}

// ensureText returns a connected text session, dialing at most once across concurrent callers
func (m *Manager) ensureText(ctx context.Context) (*realtime.Session, error) {
	m.textConnectMu.Lock()
	defer m.textConnectMu.Unlock()

	m.mu.Lock()
	s := m.text
	m.mu.Unlock()
	if s != nil && s.Connected() {
		return s, nil
	}

	s = m.newSession(realtime.ModeText)
	m.mu.Lock()
	m.text = s
	m.mu.Unlock()

	if err := s.Connect(ctx); err != nil {
		m.release(s)
		return nil, err
	}
	return s, nil
}

// SendText sends a typed message on the active tab. On the voice tab it needs a connected call.
// On the text tab it connects first when needed; if that fails the message is dropped.
func (m *Manager) SendText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if m.Tab() == realtime.ModeVoice {
		s := m.Voice()
		if s == nil || !s.Connected() {
			return realtime.ErrNotConnected
		}
		return s.SendText(text)
	}

	s, err := m.ensureText(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Text message dropped, connection failed")
		return err
	}
	return s.SendText(text)
}

// ClearChat resets one conversation on screen; clearing voice also silences playback
func (m *Manager) ClearChat(mode realtime.Mode) {
	if c, ok := m.opts.Renderer.(Clearer); ok {
		c.ClearChat(mode)
	}
	if mode == realtime.ModeVoice && m.opts.Playback != nil {
		m.opts.Playback.StopAll()
	}
}

// SetVolume sets the playback gain and returns the stored value
func (m *Manager) SetVolume(v float64) float64 {
	if m.opts.Volume == nil {
		return 0
	}
	return m.opts.Volume.Set(v)
}

// Shutdown ends the call, closes the text session and clears playback
func (m *Manager) Shutdown() {
	m.EndCall()
	m.DisconnectText()
	if m.opts.Playback != nil {
		m.opts.Playback.StopAll()
	}
	m.logger.Info().Msg("Manager shut down")
}

// release forgets s if it is still the current session for its mode
func (m *Manager) release(s *realtime.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.voice == s {
		m.voice = nil
	}
	if m.text == s {
		m.text = nil
	}
}

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/voice-chat/internal/config"
	"github.com/lexiqai/voice-chat/internal/observability"
	"github.com/lexiqai/voice-chat/internal/realtime"
	"github.com/lexiqai/voice-chat/internal/resilience"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	VoicePath = "/realtime-voice"
	TextPath  = "/text-chat"

	upstreamHandshakeTimeout = 15 * time.Second
	writeTimeout             = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	// Local clients only; no origin policy
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// errorEvent is what the client sees when the upstream cannot be reached
type errorEvent struct {
	Type  string               `json:"type"`
	Error realtime.ErrorDetail `json:"error"`
}

// typeProbe reads only the event type of a relayed message
type typeProbe struct {
	Type  string                `json:"type"`
	Error *realtime.ErrorDetail `json:"error,omitempty"`
}

// Server relays client websockets to the upstream realtime API,
// configuring each upstream session for its mode first.
type Server struct {
	cfg     *config.Config
	dialer  *websocket.Dialer
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// NewServer creates a relay for cfg
func NewServer(cfg *config.Config, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "relay").Logger()
	return &Server{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: upstreamHandshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		breaker: resilience.NewCircuitBreaker("upstream", 5, 30*time.Second, logger),
		logger:  logger,
	}
}

// Register adds the relay endpoints to mux
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc(VoicePath, s.Handler(realtime.ModeVoice))
	mux.HandleFunc(TextPath, s.Handler(realtime.ModeText))
}

// UpstreamCheck reports whether the upstream is configured and not tripped
func (s *Server) UpstreamCheck(ctx context.Context) (bool, error) {
	if err := s.cfg.ValidateRelay(); err != nil {
		return false, err
	}
	return s.breaker.HealthCheck(ctx)
}

// SessionConfig builds the session.update body for mode
func (s *Server) SessionConfig(mode realtime.Mode) realtime.SessionConfig {
	if mode == realtime.ModeText {
		return realtime.SessionConfig{
			Modalities:              []string{"text"},
			Instructions:            s.cfg.TextInstructions,
			Temperature:             s.cfg.TextTemperature,
			MaxResponseOutputTokens: s.cfg.TextMaxOutputTokens,
			Tools:                   []any{},
			ToolChoice:              "none",
		}
	}

	return realtime.SessionConfig{
		Modalities:        []string{"text", "audio"},
		Instructions:      s.cfg.VoiceInstructions,
		Voice:             s.cfg.VoiceName,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		InputAudioTranscription: &realtime.TranscriptionConfig{
			Model:    s.cfg.TranscriptionModel,
			Language: s.cfg.TranscriptionLanguage,
		},
		TurnDetection: &realtime.TurnDetection{
			Type:              "server_vad",
			Threshold:         s.cfg.VADThreshold,
			PrefixPaddingMs:   s.cfg.VADPrefixPaddingMs,
			SilenceDurationMs: s.cfg.VADSilenceDurationMs,
		},
		Temperature:             s.cfg.VoiceTemperature,
		MaxResponseOutputTokens: s.cfg.VoiceMaxOutputTokens,
		Tools:                   []any{},
		ToolChoice:              "none",
	}
}

// Handler serves one relay endpoint
func (s *Server) Handler(mode realtime.Mode) http.HandlerFunc {
	endpoint := mode.String()

	return func(w http.ResponseWriter, r *http.Request) {
		client, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Error().Err(err).Str("endpoint", endpoint).Msg("Failed to upgrade connection to WebSocket")
			observability.RecordComponentError("upgrade", "relay")
			return
		}
		defer client.Close()

		logger := observability.WithCorrelationID(s.logger, "").With().
			Str("endpoint", endpoint).
			Logger()

		observability.RecordRelayConnection(endpoint, 1)
		defer observability.RecordRelayConnection(endpoint, -1)
		logger.Info().Msg("Client connected")

		upstream, err := s.dialUpstream(r.Context())
		if err != nil {
			state, requests, failures, rate := s.breaker.GetStats()
			logger.Error().
				Err(err).
				Str("breaker_state", state.String()).
				Int64("upstream_dials", requests).
				Int64("upstream_failures", failures).
				Float64("failure_rate", rate).
				Msg("Upstream connection failed")
			observability.RecordComponentError("upstream_dial", "relay")
			s.sendError(client, err)
			return
		}
		defer upstream.Close()
		logger.Info().Msg("Connected to upstream")

		update := realtime.UpdateSession(s.SessionConfig(mode))
		_ = upstream.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := upstream.WriteJSON(update); err != nil {
			logger.Error().Err(err).Msg("Failed to send session configuration")
			s.sendError(client, fmt.Errorf("configure upstream session: %w", err))
			return
		}
		logger.Info().Msg("Session configuration sent")

		err = s.pump(r.Context(), client, upstream, endpoint, logger)
		if err != nil && !isClose(err) {
			logger.Warn().Err(err).Msg("Relay ended with error")
		}
		logger.Info().Msg("Client disconnected")
	}
}

// dialUpstream connects to the realtime API through the circuit breaker
func (s *Server) dialUpstream(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.cfg.OpenAIAPIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	var conn *websocket.Conn
	err := s.breaker.Call(func() error {
		c, resp, err := s.dialer.DialContext(ctx, s.cfg.UpstreamURL(), header)
		if err != nil {
			if resp != nil {
				return fmt.Errorf("upstream connection failed: HTTP %d", resp.StatusCode)
			}
			return fmt.Errorf("upstream connection error: %w", err)
		}
		conn = c
		return nil
	})
	return conn, err
}

// pump forwards messages both ways until either side closes
func (s *Server) pump(ctx context.Context, client, upstream *websocket.Conn, endpoint string, logger zerolog.Logger) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return forward(client, upstream, func(msg []byte) {
			observability.RecordRelayMessage(endpoint, "upstream")
			if logger.GetLevel() <= zerolog.DebugLevel {
				logger.Debug().Str("event", probe(msg).Type).Msg("Client -> upstream")
			}
		})
	})

	g.Go(func() error {
		return forward(upstream, client, func(msg []byte) {
			observability.RecordRelayMessage(endpoint, "downstream")
			p := probe(msg)
			switch p.Type {
			case realtime.EventSessionCreated:
				logger.Info().Msg("Upstream session created")
			case realtime.EventError:
				ev := logger.Error()
				if p.Error != nil {
					ev = ev.Str("code", p.Error.Code).Str("message", p.Error.Message)
				}
				ev.Msg("Upstream reported an error")
			default:
				logger.Debug().Str("event", p.Type).Msg("Upstream -> client")
			}
		})
	})

	// Closing both sockets unblocks whichever reader is still waiting
	g.Go(func() error {
		<-ctx.Done()
		client.Close()
		upstream.Close()
		return nil
	})

	return g.Wait()
}

// forward copies text messages from src to dst; dst has no other writer
func forward(src, dst *websocket.Conn, observe func([]byte)) error {
	for {
		msgType, msg, err := src.ReadMessage()
		if err != nil {
			return err
		}
		observe(msg)

		_ = dst.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := dst.WriteMessage(msgType, msg); err != nil {
			return err
		}
	}
}

func (s *Server) sendError(client *websocket.Conn, err error) {
	msg := err.Error()
	if errors.Is(err, resilience.ErrCircuitOpen) {
		msg = "upstream temporarily unavailable"
	}
	_ = client.SetWriteDeadline(time.Now().Add(writeTimeout))
	if werr := client.WriteJSON(errorEvent{
		Type:  realtime.EventError,
		Error: realtime.ErrorDetail{Type: "relay_error", Message: msg},
	}); werr != nil {
		s.logger.Debug().Err(werr).Msg("Failed to report error to client")
	}
}

func probe(msg []byte) typeProbe {
	var p typeProbe
	_ = json.Unmarshal(msg, &p)
	return p
}

func isClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, context.Canceled)
}

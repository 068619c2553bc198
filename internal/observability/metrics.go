package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_chat_active_sessions",
		Help: "Number of connected realtime sessions",
	}, []string{"mode"})

	totalSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_chat_sessions_total",
		Help: "Total number of realtime sessions opened",
	}, []string{"mode"})

	sessionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_chat_session_duration_seconds",
		Help:    "Duration of realtime sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"mode"})

	// Response metrics
	responsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_chat_responses_total",
		Help: "Total number of assistant responses by outcome",
	}, []string{"mode", "status"})

	responseLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_chat_response_duration_seconds",
		Help:    "Time from response.created to response.done in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"mode"})

	bargeIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_chat_barge_ins_total",
		Help: "Total number of times user speech interrupted playback",
	})

	protocolErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_chat_protocol_errors_total",
		Help: "Total number of service-reported protocol errors",
	}, []string{"code"})

	// Capture metrics
	captureFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_chat_capture_frames_total",
		Help: "Total number of microphone frames by outcome",
	}, []string{"status"}) // status: "sent", "dropped", "error"

	inputLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_chat_input_level_rms",
		Help: "RMS level of the most recent microphone frame",
	})

	// Playback metrics
	playbackFragments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_chat_playback_fragments_total",
		Help: "Total number of audio fragments by outcome",
	}, []string{"status"}) // status: "played", "stopped", "decode_error", "device_error"

	playbackQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_chat_playback_queue_depth",
		Help: "Number of fragments waiting to be played",
	})

	// Relay metrics
	relayConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_chat_relay_active_connections",
		Help: "Number of relayed client connections",
	}, []string{"endpoint"})

	relayMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_chat_relay_messages_total",
		Help: "Total number of relayed websocket messages",
	}, []string{"endpoint", "direction"}) // direction: "upstream" or "downstream"

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_chat_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_chat_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// Metrics tracks metrics for a single session
type Metrics struct {
	sessionID         string
	mode              string
	startTime         time.Time
	responseStartTime time.Time
	mu                sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID, mode string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		mode:      mode,
		startTime: time.Now(),
	}
}

// RecordSessionStart records a session reaching Connected
func (m *Metrics) RecordSessionStart() {
	m.mu.Lock()
	m.startTime = time.Now()
	m.mu.Unlock()

	activeSessions.WithLabelValues(m.mode).Inc()
	totalSessions.WithLabelValues(m.mode).Inc()
}

// RecordSessionEnd records the end of a connected session
func (m *Metrics) RecordSessionEnd() {
	m.mu.Lock()
	start := m.startTime
	m.mu.Unlock()

	activeSessions.WithLabelValues(m.mode).Dec()
	sessionDuration.WithLabelValues(m.mode).Observe(time.Since(start).Seconds())
}

// RecordResponseStart records response.created
func (m *Metrics) RecordResponseStart() {
	m.mu.Lock()
	m.responseStartTime = time.Now()
	m.mu.Unlock()
}

// RecordResponseEnd records response.done or a cancelled response
func (m *Metrics) RecordResponseEnd(cancelled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.responseStartTime.IsZero() {
		responseLatency.WithLabelValues(m.mode).Observe(time.Since(m.responseStartTime).Seconds())
		m.responseStartTime = time.Time{}
	}

	status := "completed"
	if cancelled {
		status = "cancelled"
	}
	responsesTotal.WithLabelValues(m.mode, status).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordBargeIn counts a playback interruption caused by user speech
func RecordBargeIn() {
	bargeIns.Inc()
}

// RecordProtocolError counts an error event reported by the service
func RecordProtocolError(code string) {
	if code == "" {
		code = "unknown"
	}
	protocolErrors.WithLabelValues(code).Inc()
}

// RecordCaptureFrame counts a microphone frame by outcome
func RecordCaptureFrame(status string) {
	captureFrames.WithLabelValues(status).Inc()
}

// SetInputLevel updates the microphone level gauge
func SetInputLevel(rms float64) {
	inputLevel.Set(rms)
}

// RecordPlaybackFragment counts a fragment leaving the playback queue
func RecordPlaybackFragment(status string) {
	playbackFragments.WithLabelValues(status).Inc()
}

// SetPlaybackQueueDepth updates the pending fragment gauge
func SetPlaybackQueueDepth(depth int) {
	playbackQueueDepth.Set(float64(depth))
}

// RecordRelayConnection adjusts the relayed connection gauge by delta
func RecordRelayConnection(endpoint string, delta int) {
	relayConnections.WithLabelValues(endpoint).Add(float64(delta))
}

// RecordRelayMessage counts one relayed websocket message
func RecordRelayMessage(endpoint, direction string) {
	relayMessages.WithLabelValues(endpoint, direction).Inc()
}

// RecordComponentError records an error outside of a session scope
func RecordComponentError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed outside of a session scope
func RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

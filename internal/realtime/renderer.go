package realtime

// Mode selects which endpoint and conversation a session belongs to
type Mode int

const (
	ModeVoice Mode = iota
	ModeText
)

func (m Mode) String() string {
	switch m {
	case ModeVoice:
		return "voice"
	case ModeText:
		return "text"
	default:
		return "unknown"
	}
}

// Severity classifies a status message
type Severity int

const (
	SeverityConnecting Severity = iota
	SeverityConnected
	SeverityDisconnected
)

func (s Severity) String() string {
	switch s {
	case SeverityConnecting:
		return "connecting"
	case SeverityConnected:
		return "connected"
	case SeverityDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Renderer displays the conversation. Calls for one session arrive in protocol order.
type Renderer interface {
	RenderUserMessage(text string, mode Mode)
	AppendAssistantDelta(text string, mode Mode)
	FinalizeAssistantMessage(mode Mode)
	SetStatus(message string, severity Severity)
}

// Status messages shown along a session's life
const (
	StatusConnecting     = "Connecting..."
	StatusConnected      = "Connected"
	StatusConnectFailed  = "Connection failed"
	StatusDisconnected   = "Disconnected"
	StatusCallEnded      = "Call ended"
	StatusReady          = "Conversation ready"
	StatusTextReady      = "Text mode ready"
	StatusStartSpeaking  = "Listening, start speaking"
	StatusMicUnavailable = "Microphone unavailable"
	StatusListening      = "Listening..."
	StatusTranscribing   = "Transcribing..."
	StatusThinking       = "Thinking..."
	StatusInConversation = "In conversation"
	StatusError          = "An error occurred"
)

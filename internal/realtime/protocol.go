package realtime

// Inbound event types
const (
	EventSessionCreated          = "session.created"
	EventSessionUpdated          = "session.updated"
	EventTranscriptionCompleted  = "conversation.item.input_audio_transcription.completed"
	EventResponseCreated         = "response.created"
	EventResponseAudioTranscript = "response.audio_transcript.delta"
	EventResponseTextDelta       = "response.text.delta"
	EventResponseAudioDelta      = "response.audio.delta"
	EventResponseDone            = "response.done"
	EventSpeechStarted           = "input_audio_buffer.speech_started"
	EventSpeechStopped           = "input_audio_buffer.speech_stopped"
	EventError                   = "error"
)

// Outbound command types
const (
	CommandAudioAppend    = "input_audio_buffer.append"
	CommandAudioCommit    = "input_audio_buffer.commit"
	CommandResponseCreate = "response.create"
	CommandResponseCancel = "response.cancel"
	CommandItemCreate     = "conversation.item.create"
	CommandSessionUpdate  = "session.update"
)

// ErrorCodeCancelNotActive is reported when response.cancel finds nothing to cancel
const ErrorCodeCancelNotActive = "response_cancel_not_active"

// ServerEvent is one inbound protocol message. Only the fields this client reads are decoded.
type ServerEvent struct {
	Type       string       `json:"type"`
	EventID    string       `json:"event_id,omitempty"`
	Transcript string       `json:"transcript,omitempty"`
	Delta      string       `json:"delta,omitempty"`
	Error      *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail is the payload of an error event
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Param   string `json:"param,omitempty"`
}

// ClientCommand is one outbound protocol message
type ClientCommand struct {
	Type     string            `json:"type"`
	Audio    string            `json:"audio,omitempty"`
	Item     *ConversationItem `json:"item,omitempty"`
	Response *ResponseOptions  `json:"response,omitempty"`
	Session  *SessionConfig    `json:"session,omitempty"`
}

// ConversationItem is a message added to the conversation
type ConversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart is one piece of a conversation item
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ResponseOptions overrides session defaults for one response
type ResponseOptions struct {
	Modalities   []string `json:"modalities,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
}

// SessionConfig is the body of session.update
type SessionConfig struct {
	Modalities              []string             `json:"modalities"`
	Instructions            string               `json:"instructions,omitempty"`
	Voice                   string               `json:"voice,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string               `json:"output_audio_format,omitempty"`
	InputAudioTranscription *TranscriptionConfig `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection       `json:"turn_detection,omitempty"`
	Temperature             float64              `json:"temperature,omitempty"`
	MaxResponseOutputTokens int                  `json:"max_response_output_tokens,omitempty"`
	Tools                   []any                `json:"tools"`
	ToolChoice              string               `json:"tool_choice,omitempty"`
}

// TranscriptionConfig enables transcription of input audio
type TranscriptionConfig struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

// TurnDetection configures server-side voice activity detection
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

// AppendAudio builds input_audio_buffer.append
func AppendAudio(encoded string) ClientCommand {
	return ClientCommand{Type: CommandAudioAppend, Audio: encoded}
}

// CommitAudio builds input_audio_buffer.commit
func CommitAudio() ClientCommand {
	return ClientCommand{Type: CommandAudioCommit}
}

// CreateResponse builds response.create; opts may be nil
func CreateResponse(opts *ResponseOptions) ClientCommand {
	return ClientCommand{Type: CommandResponseCreate, Response: opts}
}

// CancelResponse builds response.cancel
func CancelResponse() ClientCommand {
	return ClientCommand{Type: CommandResponseCancel}
}

// UserMessage builds conversation.item.create carrying user text
func UserMessage(text string) ClientCommand {
	return ClientCommand{
		Type: CommandItemCreate,
		Item: &ConversationItem{
			Type:    "message",
			Role:    "user",
			Content: []ContentPart{{Type: "input_text", Text: text}},
		},
	}
}

// UpdateSession builds session.update
func UpdateSession(cfg SessionConfig) ClientCommand {
	return ClientCommand{Type: CommandSessionUpdate, Session: &cfg}
}

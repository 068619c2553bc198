package realtime

import "strings"

// State is the connection state of a session
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Phase is the position in the conversation turn while connected
type Phase int

const (
	PhaseListening Phase = iota
	PhaseTranscribing
	PhaseResponding
)

func (p Phase) String() string {
	switch p {
	case PhaseListening:
		return "listening"
	case PhaseTranscribing:
		return "transcribing"
	case PhaseResponding:
		return "responding"
	default:
		return "unknown"
	}
}

// Snapshot is the complete protocol state of one session
type Snapshot struct {
	Mode           Mode
	State          State
	Phase          Phase
	ResponseActive bool
	// AssistantOpen is set while an assistant message is receiving deltas
	AssistantOpen bool
}

// EffectKind names a side effect produced by Transition
type EffectKind int

const (
	EffectRenderUser EffectKind = iota
	EffectAppendAssistant
	EffectFinalizeAssistant
	EffectSend
	EffectEnqueueAudio
	EffectStopPlayback
	EffectStatus
	EffectReportError
)

// Effect is one action the session performs after a transition, in order
type Effect struct {
	Kind     EffectKind
	Text     string
	Command  ClientCommand
	Severity Severity
	Err      *ProtocolError
}

func render(text string) Effect { return Effect{Kind: EffectRenderUser, Text: text} }
func send(cmd ClientCommand) Effect { return Effect{Kind: EffectSend, Command: cmd} }

func status(msg string, sev Severity) Effect {
	return Effect{Kind: EffectStatus, Text: msg, Severity: sev}
}

// requestResponse emits response.create, cancelling first if a response is still active
func requestResponse(s *Snapshot, opts *ResponseOptions) []Effect {
	var effects []Effect
	if s.ResponseActive {
		effects = append(effects, send(CancelResponse()))
	}
	effects = append(effects, send(CreateResponse(opts)))
	s.ResponseActive = true
	s.Phase = PhaseResponding
	return effects
}

// Transition maps an inbound event to the next snapshot and the effects to run.
// It is pure: all I/O happens when the session applies the effects.
func Transition(s Snapshot, ev ServerEvent) (Snapshot, []Effect) {
	if s.State != StateConnected {
		return s, nil
	}

	voice := s.Mode == ModeVoice

	switch ev.Type {
	case EventSessionCreated:
		if voice {
			return s, []Effect{status(StatusReady, SeverityConnected)}
		}
		return s, []Effect{status(StatusTextReady, SeverityConnected)}

	case EventTranscriptionCompleted:
		if strings.TrimSpace(ev.Transcript) == "" {
			return s, nil
		}
		effects := []Effect{
			render(ev.Transcript),
			status(StatusThinking, SeverityConnecting),
		}
		effects = append(effects, requestResponse(&s, nil)...)
		return s, effects

	case EventResponseCreated:
		s.ResponseActive = true
		s.Phase = PhaseResponding
		return s, nil

	case EventResponseAudioTranscript, EventResponseTextDelta:
		if ev.Delta == "" {
			return s, nil
		}
		s.AssistantOpen = true
		return s, []Effect{{Kind: EffectAppendAssistant, Text: ev.Delta}}

	case EventResponseAudioDelta:
		if !voice || ev.Delta == "" {
			return s, nil
		}
		return s, []Effect{{Kind: EffectEnqueueAudio, Text: ev.Delta}}

	case EventResponseDone:
		effects := []Effect{{Kind: EffectFinalizeAssistant}}
		if s.AssistantOpen {
			effects = append(effects, status(StatusInConversation, SeverityConnected))
		}
		s.ResponseActive = false
		s.AssistantOpen = false
		s.Phase = PhaseListening
		return s, effects

	case EventSpeechStarted:
		if !voice {
			return s, nil
		}
		s.Phase = PhaseListening
		return s, []Effect{
			{Kind: EffectStopPlayback},
			status(StatusListening, SeverityConnecting),
		}

	case EventSpeechStopped:
		if !voice {
			return s, nil
		}
		s.Phase = PhaseTranscribing
		return s, []Effect{
			status(StatusTranscribing, SeverityConnecting),
			send(CommitAudio()),
		}

	case EventError:
		perr := protocolErrorFrom(ev.Error)
		if perr.Benign() {
			return s, nil
		}
		return s, []Effect{
			{Kind: EffectReportError, Err: perr},
			status(StatusError+": "+perr.Message, SeverityDisconnected),
		}
	}

	return s, nil
}

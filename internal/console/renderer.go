package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/lexiqai/voice-chat/internal/realtime"
)

// Message is one finished or streaming line of a conversation
type Message struct {
	Role string
	Text string
}

type styles struct {
	tag       lipgloss.Style
	user      lipgloss.Style
	assistant lipgloss.Style
	info      lipgloss.Style
	ok        lipgloss.Style
	bad       lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		tag:       r.NewStyle().Faint(true),
		user:      r.NewStyle().Foreground(lipgloss.Color("#268BD2")).Bold(true),
		assistant: r.NewStyle().Foreground(lipgloss.Color("#859900")).Bold(true),
		info:      r.NewStyle().Foreground(lipgloss.Color("#B58900")),
		ok:        r.NewStyle().Foreground(lipgloss.Color("#25A065")),
		bad:       r.NewStyle().Foreground(lipgloss.Color("#DC322F")),
	}
}

// Renderer prints both conversations to a terminal stream. Assistant replies
// stream inline as deltas arrive.
type Renderer struct {
	out    io.Writer
	styles styles

	mu         sync.Mutex
	history    map[realtime.Mode][]Message
	streaming  map[realtime.Mode]bool
	openLine   realtime.Mode
	lineIsOpen bool
	status     string
	severity   realtime.Severity
}

// NewRenderer creates a renderer writing to out
func NewRenderer(out io.Writer) *Renderer {
	return &Renderer{
		out:       out,
		styles:    newStyles(lipgloss.NewRenderer(out)),
		history:   make(map[realtime.Mode][]Message),
		streaming: make(map[realtime.Mode]bool),
	}
}

// RenderUserMessage prints a finished user line
func (r *Renderer) RenderUserMessage(text string, mode realtime.Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.breakLine()
	r.history[mode] = append(r.history[mode], Message{Role: "user", Text: text})
	fmt.Fprintf(r.out, "%s %s %s\n", r.tag(mode), r.styles.user.Render("You:"), text)
}

// AppendAssistantDelta streams text into the open assistant message for mode
func (r *Renderer) AppendAssistantDelta(text string, mode realtime.Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.streaming[mode] {
		r.breakLine()
		r.streaming[mode] = true
		r.history[mode] = append(r.history[mode], Message{Role: "assistant"})
		fmt.Fprintf(r.out, "%s %s ", r.tag(mode), r.styles.assistant.Render("Assistant:"))
		r.openLine, r.lineIsOpen = mode, true
	} else if !r.lineIsOpen || r.openLine != mode {
		// another conversation printed in between
		r.breakLine()
		fmt.Fprintf(r.out, "%s %s ", r.tag(mode), r.styles.assistant.Render("..."))
		r.openLine, r.lineIsOpen = mode, true
	}

	msgs := r.history[mode]
	msgs[len(msgs)-1].Text += text
	io.WriteString(r.out, text)
}

// FinalizeAssistantMessage closes the open assistant message for mode
func (r *Renderer) FinalizeAssistantMessage(mode realtime.Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.streaming[mode] {
		return
	}
	r.streaming[mode] = false
	if r.lineIsOpen && r.openLine == mode {
		r.breakLine()
	}
}

// SetStatus prints a status line colored by severity
func (r *Renderer) SetStatus(message string, severity realtime.Severity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.status, r.severity = message, severity

	style := r.styles.info
	switch severity {
	case realtime.SeverityConnected:
		style = r.styles.ok
	case realtime.SeverityDisconnected:
		style = r.styles.bad
	}

	r.breakLine()
	fmt.Fprintf(r.out, "%s\n", style.Render("* "+message))
}

// ClearChat forgets the history of one conversation
func (r *Renderer) ClearChat(mode realtime.Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.history, mode)
	r.streaming[mode] = false
	if r.lineIsOpen && r.openLine == mode {
		r.breakLine()
	}
	fmt.Fprintf(r.out, "%s %s\n", r.tag(mode), r.styles.info.Render("chat cleared"))
}

// Messages returns a copy of one conversation
func (r *Renderer) Messages(mode realtime.Mode) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.history[mode]...)
}

// Status returns the last status and its severity
func (r *Renderer) Status() (string, realtime.Severity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.severity
}

// Info prints a local notice that is not part of any conversation
func (r *Renderer) Info(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.breakLine()
	fmt.Fprintln(r.out, r.styles.info.Render(strings.TrimRight(fmt.Sprintf(format, args...), "\n")))
}

func (r *Renderer) tag(mode realtime.Mode) string {
	return r.styles.tag.Render("[" + mode.String() + "]")
}

// breakLine ends a streaming line so the next output starts clean; caller holds mu
func (r *Renderer) breakLine() {
	if r.lineIsOpen {
		io.WriteString(r.out, "\n")
		r.lineIsOpen = false
	}
}

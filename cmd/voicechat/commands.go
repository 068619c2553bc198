package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lexiqai/voice-chat/internal/realtime"
)

type action int

const (
	actionSend action = iota
	actionCall
	actionEnd
	actionTab
	actionConnect
	actionDisconnect
	actionVolume
	actionClear
	actionStatus
	actionHelp
	actionQuit
)

// command is one parsed line of user input
type command struct {
	action action
	text   string
	mode   realtime.Mode
	hasArg bool
	volume float64
}

const helpText = `Commands:
  /call              start or end the voice call
  /end               end the voice call
  /tab voice|text    switch tab (leaving text closes the text connection)
  /connect           connect the text conversation
  /disconnect        close the text conversation
  /volume 0-100      set playback volume
  /clear [voice|text] clear a conversation (default: current tab)
  /status            show connection state
  /help              show this help
  /quit              exit
Anything else is sent as a message on the current tab.`

func parseMode(s string) (realtime.Mode, error) {
	switch strings.ToLower(s) {
	case "voice", "v":
		return realtime.ModeVoice, nil
	case "text", "t":
		return realtime.ModeText, nil
	default:
		return 0, fmt.Errorf("unknown tab %q, expected voice or text", s)
	}
}

// parseCommand turns an input line into a command. Lines not starting with a slash are messages.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{action: actionSend, text: line}, nil
	}

	fields := strings.Fields(line)
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "/call":
		return command{action: actionCall}, nil
	case "/end", "/hangup":
		return command{action: actionEnd}, nil
	case "/connect":
		return command{action: actionConnect}, nil
	case "/disconnect":
		return command{action: actionDisconnect}, nil
	case "/status":
		return command{action: actionStatus}, nil
	case "/help", "/?":
		return command{action: actionHelp}, nil
	case "/quit", "/exit":
		return command{action: actionQuit}, nil

	case "/tab":
		if len(args) != 1 {
			return command{}, fmt.Errorf("usage: /tab voice|text")
		}
		mode, err := parseMode(args[0])
		if err != nil {
			return command{}, err
		}
		return command{action: actionTab, mode: mode, hasArg: true}, nil

	case "/clear":
		if len(args) == 0 {
			return command{action: actionClear}, nil
		}
		mode, err := parseMode(args[0])
		if err != nil {
			return command{}, err
		}
		return command{action: actionClear, mode: mode, hasArg: true}, nil

	case "/volume", "/vol":
		if len(args) != 1 {
			return command{}, fmt.Errorf("usage: /volume 0-100")
		}
		pct, err := strconv.ParseFloat(strings.TrimSuffix(args[0], "%"), 64)
		if err != nil {
			return command{}, fmt.Errorf("invalid volume %q", args[0])
		}
		return command{action: actionVolume, volume: pct / 100}, nil
	}

	return command{}, fmt.Errorf("unknown command %s, try /help", name)
}

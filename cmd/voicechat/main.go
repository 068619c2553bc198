package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lexiqai/voice-chat/internal/capture"
	"github.com/lexiqai/voice-chat/internal/config"
	"github.com/lexiqai/voice-chat/internal/console"
	"github.com/lexiqai/voice-chat/internal/device"
	"github.com/lexiqai/voice-chat/internal/manager"
	"github.com/lexiqai/voice-chat/internal/observability"
	"github.com/lexiqai/voice-chat/internal/playback"
	"github.com/lexiqai/voice-chat/internal/realtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	noSpeaker     bool
	logFile       string
	voiceEndpoint string
	textEndpoint  string
	metricsAddr   string
	startTab      string
	startCall     bool
)

var rootCmd = &cobra.Command{
	Use:   "voicechat",
	Short: "Talk or type to a realtime assistant through the relay",
	Long: `voicechat connects to the relay's voice and text endpoints. The voice tab
streams the microphone (via ffmpeg) and plays replies (via ffplay), stopping
playback as soon as you start speaking. The text tab connects on the first
message you send. Type /help once running for the list of commands.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	flags := rootCmd.Flags()
	flags.BoolVar(&noSpeaker, "no-speaker", false, "discard assistant audio instead of playing it")
	flags.StringVar(&logFile, "log-file", "", "append logs to this file instead of stderr")
	flags.StringVar(&voiceEndpoint, "voice-endpoint", "", "voice websocket endpoint (overrides VOICE_ENDPOINT)")
	flags.StringVar(&textEndpoint, "text-endpoint", "", "text websocket endpoint (overrides TEXT_ENDPOINT)")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	flags.StringVar(&startTab, "tab", "voice", "tab to start on: voice or text")
	flags.BoolVar(&startCall, "call", false, "start the voice call immediately")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if voiceEndpoint != "" {
		cfg.VoiceEndpoint = voiceEndpoint
	}
	if textEndpoint != "" {
		cfg.TextEndpoint = textEndpoint
	}
	tab, err := parseMode(startTab)
	if err != nil {
		return err
	}

	// Logs never share the terminal stream with the conversation
	var logOut io.Writer = os.Stderr
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	observability.InitLoggerWithWriter(cfg.LogLevel, cfg.LogPretty, logOut)
	logger := observability.GetLogger()

	logger.Info().
		Str("voice_endpoint", cfg.VoiceEndpoint).
		Str("text_endpoint", cfg.TextEndpoint).
		Int("sample_rate", cfg.SampleRate).
		Bool("speaker", !noSpeaker).
		Msg("Voice chat client starting")

	renderer := console.NewRenderer(cmd.OutOrStdout())

	speaker := newSpeaker(cfg, logger, renderer)
	defer speaker.Close()

	queue := playback.NewQueue(speaker, playback.Options{
		Volume: playback.NewVolume(cfg.PlaybackGain),
		Gap:    cfg.PlaybackGap(),
		Logger: logger,
	})

	mic := device.NewFFmpegMicrophone(device.FFmpegMicrophoneConfig{
		Path:        cfg.FFmpegPath,
		InputFormat: cfg.MicInputFormat,
		InputDevice: cfg.MicInputDevice,
		SampleRate:  cfg.SampleRate,
	}, logger)

	mgr := manager.New(manager.Options{
		VoiceEndpoint:            cfg.VoiceEndpoint,
		TextEndpoint:             cfg.TextEndpoint,
		Dialer:                   realtime.NewWebsocketDialer(nil),
		Renderer:                 renderer,
		Playback:                 queue,
		Volume:                   queue.Volume(),
		Capture:                  capture.NewPipeline(mic, cfg.CaptureFrameSize, logger),
		TextResponseInstructions: cfg.TextResponseInstructions,
		Logger:                   logger,
	})
	defer mgr.Shutdown()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		srv := serveMetrics(metricsAddr, logger)
		defer shutdownMetrics(srv)
	}

	mgr.SwitchTab(tab)
	renderer.Info("Type /help for commands. Current tab: %s", tab)
	if startCall {
		if err := mgr.StartCall(ctx); err != nil {
			renderer.Info("Could not start call: %v", err)
		}
	}

	lines := readLines(cmd.InOrStdin())
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Interrupted, shutting down")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, mgr, renderer, line); quit {
				return nil
			}
		}
	}
}

// newSpeaker opens ffplay, falling back to timed silence when it is unavailable
func newSpeaker(cfg *config.Config, logger zerolog.Logger, renderer *console.Renderer) device.Speaker {
	if noSpeaker {
		return device.NewSilentSpeaker(cfg.SampleRate)
	}
	speaker, err := device.NewFFplaySpeaker(device.FFplaySpeakerConfig{
		Path:       cfg.FFplayPath,
		SampleRate: cfg.SampleRate,
	}, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Audio output unavailable, replies will not be played")
		renderer.Info("Audio output unavailable (%v); replies will be shown as text only", err)
		return device.NewSilentSpeaker(cfg.SampleRate)
	}
	return speaker
}

func handleLine(ctx context.Context, mgr *manager.Manager, renderer *console.Renderer, line string) (quit bool) {
	c, err := parseCommand(line)
	if err != nil {
		renderer.Info("%v", err)
		return false
	}

	switch c.action {
	case actionSend:
		if c.text == "" {
			return false
		}
		if err := mgr.SendText(ctx, c.text); err != nil {
			if errors.Is(err, realtime.ErrNotConnected) && mgr.Tab() == realtime.ModeVoice {
				renderer.Info("Start a call with /call before sending messages on the voice tab")
			} else {
				renderer.Info("Message not sent: %v", err)
			}
		}

	case actionCall:
		if err := mgr.ToggleCall(ctx); err != nil {
			renderer.Info("Could not start call: %v", err)
		}

	case actionEnd:
		mgr.EndCall()

	case actionTab:
		mgr.SwitchTab(c.mode)
		renderer.Info("Switched to %s tab", c.mode)

	case actionConnect:
		if err := mgr.ConnectText(ctx); err != nil {
			renderer.Info("Could not connect text mode: %v", err)
		}

	case actionDisconnect:
		mgr.DisconnectText()

	case actionVolume:
		v := mgr.SetVolume(c.volume)
		renderer.Info("Volume %.0f%%", v*100)

	case actionClear:
		mode := mgr.Tab()
		if c.hasArg {
			mode = c.mode
		}
		mgr.ClearChat(mode)

	case actionStatus:
		status, _ := renderer.Status()
		renderer.Info("Tab: %s | call: %t | text connected: %t | last status: %s",
			mgr.Tab(), mgr.InCall(), mgr.Text() != nil, status)

	case actionHelp:
		renderer.Info("%s", helpText)

	case actionQuit:
		return true
	}
	return false
}

// readLines delivers stdin lines until EOF
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

func serveMetrics(addr string, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", addr).Msg("Prometheus metrics enabled at /metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	return srv
}

func shutdownMetrics(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

package speech

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// sayBaseRate is the words per minute macOS speaks at rate 1.
const sayBaseRate = 175

var sayVoiceLine = regexp.MustCompile(`^(.+?)\s+([a-z]{2,3}[_-][A-Za-z0-9]+)\s+#`)

// SayEngine speaks through the macOS 'say' command.
type SayEngine struct {
	logger  zerolog.Logger
	command func(ctx context.Context, name string, args ...string) *exec.Cmd

	mu      sync.Mutex
	voices  []Voice
	handler func(Event)
	cancel  context.CancelFunc
}

// NewSayEngine creates the engine.
func NewSayEngine(logger zerolog.Logger) *SayEngine {
	return &SayEngine{
		logger:  logger.With().Str("provider", "macos-say").Logger(),
		command: exec.CommandContext,
	}
}

// IsAvailable checks if this is macOS and 'say' command exists
func (e *SayEngine) IsAvailable() bool {
	if runtime.GOOS != "darwin" {
		return false
	}
	_, err := exec.LookPath("say")
	return err == nil
}

// SetEventHandler implements Engine.
func (e *SayEngine) SetEventHandler(h func(Event)) {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
}

// Voices lists the system voices once and caches them. An empty result is
// retried on the next call.
func (e *SayEngine) Voices() []Voice {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.voices) > 0 {
		return e.voices
	}

	output, err := e.command(context.Background(), "say", "-v", "?").Output()
	if err != nil {
		e.logger.Debug().Err(err).Msg("Listing voices failed")
		return nil
	}
	e.voices = parseSayVoices(string(output))
	return e.voices
}

// parseSayVoices reads `say -v ?` output, one voice per line:
// "Luciana             pt_BR    # Olá! Meu nome é Luciana."
func parseSayVoices(output string) []Voice {
	var voices []Voice
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		m := sayVoiceLine.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		voices = append(voices, Voice{
			Name: strings.TrimSpace(m[1]),
			Lang: strings.ReplaceAll(m[2], "_", "-"),
		})
	}
	return voices
}

// Speak starts the utterance in the background and reports start and end.
// Pitch is not supported by 'say'.
func (e *SayEngine) Speak(u Utterance) error {
	args := []string{}
	if u.Voice != "" {
		args = append(args, "-v", u.Voice)
	}
	if u.Rate > 0 && u.Rate != 1 {
		args = append(args, "-r", fmt.Sprintf("%d", int(sayBaseRate*u.Rate)))
	}
	// Text starting with a dash must not be read as a flag.
	args = append(args, "--", u.Text)

	ctx, cancel := context.WithCancel(context.Background())
	cmd := e.command(ctx, "say", args...)
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("say command failed: %w", err)
	}

	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.cancel = cancel
	e.mu.Unlock()

	e.logger.Debug().Str("voice", u.Voice).Int("textLen", len(u.Text)).Msg("Speaking with macOS say")
	e.emit(Event{Kind: EventStart, Utterance: u.ID})

	go func() {
		err := cmd.Wait()
		if ctx.Err() != nil {
			return
		}
		cancel()
		if err != nil {
			e.emit(Event{Kind: EventError, Utterance: u.ID, Error: err.Error()})
			return
		}
		e.emit(Event{Kind: EventEnd, Utterance: u.ID})
	}()
	return nil
}

// Cancel kills the running utterance without reporting it.
func (e *SayEngine) Cancel() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (e *SayEngine) emit(ev Event) {
	e.mu.Lock()
	h := e.handler
	e.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// Package speech holds the two host-capability wrappers: the recognizer
// state machine and the synthesis queue. The host capabilities themselves
// (a browser session, a microphone pipeline) live behind the engine
// interfaces; this package owns restart, backoff, and queue discipline.
package speech

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"voicehome/config"
	"voicehome/internal/bus"
	"voicehome/internal/domain"
)

// EventKind distinguishes the three things a recognition engine can report.
type EventKind int

const (
	EventResult EventKind = iota
	EventEnd
	EventError
)

// Engine error codes, matching the Web Speech API error names the browser
// bridge forwards.
const (
	ErrNoSpeech     = "no-speech"
	ErrAudioCapture = "audio-capture"
	ErrNotAllowed   = "not-allowed"
	ErrNetwork      = "network"
)

// EngineEvent is one event from a recognition engine. Result carries a
// final transcript; Code is set for EventError.
type EngineEvent struct {
	Kind   EventKind
	Result domain.RecognitionResult
	Code   string
}

// RecognitionEngine is the host speech-to-text capability. One session at a
// time; events arrive on the Events channel until the engine is closed.
type RecognitionEngine interface {
	Start(ctx context.Context) error
	Stop() error
	Events() <-chan EngineEvent
	SetLanguage(language string)
}

// State of the recognizer machine.
type State string

const (
	StateIdle        State = "idle"
	StateRecognizing State = "recognizing"
	StateBackoff     State = "backoff"
	StateFatal       State = "fatal"
)

// Backoff delays fixed by error class.
const (
	noSpeechBackoff = 1 * time.Second
	networkBackoff  = 5 * time.Second
)

type Recognizer struct {
	engine RecognitionEngine
	events *bus.Bus
	cfg    *config.Config
	clock  Clock
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	errorCount  int
	timer       Timer
	loopRunning bool
	loopCancel  context.CancelFunc
	baseCtx     context.Context
}

// NewRecognizer fails fast when no engine is available, mirroring an
// initialization against a missing host capability.
func NewRecognizer(engine RecognitionEngine, events *bus.Bus, cfg *config.Config, clock Clock, logger *slog.Logger) (*Recognizer, error) {
	if engine == nil {
		return nil, fmt.Errorf("speech recognition capability not available")
	}
	if clock == nil {
		clock = SystemClock()
	}
	r := &Recognizer{
		engine: engine,
		events: events,
		cfg:    cfg,
		clock:  clock,
		logger: logger,
		state:  StateIdle,
	}
	r.engine.SetLanguage(cfg.Recognition.Language)
	return r, nil
}

// Start begins a recognition session. It is a no-op while already
// recognizing, and an error once the recognizer has gone fatal.
func (r *Recognizer) Start(ctx context.Context) error {
	r.mu.Lock()
	switch r.state {
	case StateRecognizing:
		r.mu.Unlock()
		return nil
	case StateFatal:
		r.mu.Unlock()
		return fmt.Errorf("recognizer has failed permanently")
	}
	r.baseCtx = ctx
	r.mu.Unlock()

	if err := r.engine.Start(ctx); err != nil {
		return fmt.Errorf("starting recognition: %w", err)
	}

	r.mu.Lock()
	r.state = StateRecognizing
	// a successful start repays the whole error budget
	r.errorCount = 0
	if !r.loopRunning {
		loopCtx, cancel := context.WithCancel(ctx)
		r.loopRunning = true
		r.loopCancel = cancel
		go r.consume(loopCtx)
	}
	r.mu.Unlock()

	r.logger.Info("speech recognition started", "language", r.cfg.Recognition.Language)
	return nil
}

// Stop ends the session and cancels any pending restart. Safe to call
// repeatedly.
func (r *Recognizer) Stop() {
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if r.loopCancel != nil {
		r.loopCancel()
		r.loopCancel = nil
	}
	r.loopRunning = false
	wasIdle := r.state == StateIdle
	if r.state != StateFatal {
		r.state = StateIdle
	}
	r.mu.Unlock()

	if err := r.engine.Stop(); err != nil {
		r.logger.Warn("stopping recognition engine", "error", err)
	}
	if !wasIdle {
		r.logger.Info("speech recognition stopped")
	}
}

// IsRecognizing reports whether a session is active.
func (r *Recognizer) IsRecognizing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == StateRecognizing
}

// State returns the current machine state.
func (r *Recognizer) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SetLanguage switches the engine language and persists the choice.
func (r *Recognizer) SetLanguage(language string) {
	r.engine.SetLanguage(language)
	r.mu.Lock()
	r.cfg.Recognition.Language = language
	r.mu.Unlock()
	r.logger.Info("recognition language changed", "language", language)
}

func (r *Recognizer) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.engine.Events():
			if !ok {
				return
			}
			r.handle(ev)
		}
	}
}

func (r *Recognizer) handle(ev EngineEvent) {
	switch ev.Kind {
	case EventResult:
		r.logger.Debug("speech recognized",
			"command", ev.Result.Command,
			"confidence", ev.Result.Confidence,
		)
		r.events.Publish(bus.SpeechRecognized{Result: ev.Result})
	case EventEnd:
		r.handleEnd()
	case EventError:
		r.handleError(ev.Code)
	}
}

// handleEnd fires when the engine's session terminates on its own.
func (r *Recognizer) handleEnd() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRecognizing {
		return
	}
	if r.cfg.Recognition.AutoRestart && r.errorCount < r.maxErrors() {
		delay := config.Duration(r.cfg.Recognition.RestartDelay, time.Second)
		r.scheduleRestartLocked(delay)
		return
	}
	r.state = StateIdle
}

func (r *Recognizer) handleError(code string) {
	r.mu.Lock()

	r.logger.Warn("recognition error", "code", code, "errorCount", r.errorCount+1)

	fatal := false
	switch code {
	case ErrAudioCapture, ErrNotAllowed:
		// permission-class errors never retry
		fatal = true
	case ErrNoSpeech:
		r.errorCount++
		if r.errorCount >= r.maxErrors() {
			fatal = true
			break
		}
		r.scheduleRestartLocked(noSpeechBackoff)
	case ErrNetwork:
		r.errorCount++
		if r.errorCount >= r.maxErrors() {
			fatal = true
			break
		}
		r.scheduleRestartLocked(networkBackoff)
	default:
		r.errorCount++
		if r.errorCount >= r.maxErrors() {
			fatal = true
			break
		}
		r.scheduleRestartLocked(config.Duration(r.cfg.Recognition.RestartDelay, time.Second))
	}

	if fatal {
		r.goFatalLocked(code)
	}
	r.mu.Unlock()

	if fatal {
		// published outside the lock so a subscriber may call back in
		r.events.Publish(bus.RecognitionFault{Code: code, Fatal: true})
	}
}

func (r *Recognizer) maxErrors() int {
	if r.cfg.Recognition.MaxErrors > 0 {
		return r.cfg.Recognition.MaxErrors
	}
	return 5
}

func (r *Recognizer) goFatalLocked(code string) {
	r.state = StateFatal
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.logger.Error("recognition failed permanently", "code", code)
}

func (r *Recognizer) scheduleRestartLocked(delay time.Duration) {
	r.state = StateBackoff
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = r.clock.AfterFunc(delay, r.restart)
	r.logger.Debug("recognition restart scheduled", "delay", delay)
}

func (r *Recognizer) restart() {
	r.mu.Lock()
	if r.state != StateBackoff {
		r.mu.Unlock()
		return
	}
	ctx := r.baseCtx
	r.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	if err := r.engine.Start(ctx); err != nil {
		r.logger.Warn("recognition restart failed", "error", err)
		r.handleError("restart-failed")
		return
	}

	r.mu.Lock()
	r.state = StateRecognizing
	r.errorCount = 0
	r.mu.Unlock()
	r.logger.Info("speech recognition restarted")
}

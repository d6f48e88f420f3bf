package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"voicehome/internal/domain"
	"voicehome/internal/speech"
)

// transcribedConfidence is attached to every transcription result. The API
// reports no per-utterance confidence, so the downstream threshold is
// effectively bypassed for this engine.
const transcribedConfidence = 1.0

// Engine drives an audio source through a transcriber and emits recognition
// events, so a microphone pipeline can stand in for the browser bridge.
type Engine struct {
	source AudioSource
	stt    Transcriber
	logger *slog.Logger
	events chan speech.EngineEvent

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

func NewEngine(source AudioSource, stt Transcriber, logger *slog.Logger) *Engine {
	return &Engine{
		source: source,
		stt:    stt,
		logger: logger,
		events: make(chan speech.EngineEvent, 16),
	}
}

func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}
	if err := e.source.Start(ctx); err != nil {
		return fmt.Errorf("starting %s source: %w", e.source.Name(), err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.wg.Add(1)
	go e.run(runCtx)
	return nil
}

func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	err := e.source.Stop()
	e.wg.Wait()
	return err
}

func (e *Engine) Events() <-chan speech.EngineEvent {
	return e.events
}

// SetLanguage is a no-op: the transcription language is fixed by
// configuration, not negotiated per session.
func (e *Engine) SetLanguage(language string) {
	e.logger.Debug("ignoring language change for transcription engine", "language", language)
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	for {
		wav, err := e.source.NextCommand(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				e.emit(speech.EngineEvent{Kind: speech.EventEnd})
				return
			}
			e.logger.Error("audio source failed", "source", e.source.Name(), "error", err)
			e.emit(speech.EngineEvent{Kind: speech.EventError, Code: speech.ErrAudioCapture})
			return
		}

		text, err := e.stt.Transcribe(ctx, wav)
		if err != nil {
			e.logger.Error("transcription failed", "error", err)
			e.emit(speech.EngineEvent{Kind: speech.EventError, Code: speech.ErrNetwork})
			continue
		}

		text = strings.TrimSpace(text)
		if text == "" {
			e.emit(speech.EngineEvent{Kind: speech.EventError, Code: speech.ErrNoSpeech})
			continue
		}

		e.emit(speech.EngineEvent{
			Kind: speech.EventResult,
			Result: domain.RecognitionResult{
				Command:    text,
				Confidence: transcribedConfidence,
			},
		})
	}
}

func (e *Engine) emit(ev speech.EngineEvent) {
	select {
	case e.events <- ev:
	default:
		e.logger.Warn("dropping engine event, consumer is behind")
	}
}

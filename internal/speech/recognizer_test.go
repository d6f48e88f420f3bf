package speech_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicehome/config"
	"voicehome/internal/bus"
	"voicehome/internal/domain"
	"voicehome/internal/speech"
)

type fakeEngine struct {
	mu       sync.Mutex
	events   chan speech.EngineEvent
	starts   int
	startErr error
	language string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{events: make(chan speech.EngineEvent, 16)}
}

func (e *fakeEngine) Start(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startErr != nil {
		return e.startErr
	}
	e.starts++
	return nil
}

func (e *fakeEngine) Stop() error { return nil }
func (e *fakeEngine) Events() <-chan speech.EngineEvent { return e.events }
func (e *fakeEngine) SetLanguage(lang string) { e.mu.Lock(); e.language = lang; e.mu.Unlock() }

func (e *fakeEngine) startCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts
}

type fakeTimer struct{ stopped bool }

func (t *fakeTimer) Stop() bool { t.stopped = true; return true }

// fakeClock records scheduled callbacks so tests fire them by hand.
type fakeClock struct {
	mu        sync.Mutex
	scheduled []struct {
		delay time.Duration
		fn    func()
	}
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) speech.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheduled = append(c.scheduled, struct {
		delay time.Duration
		fn    func()
	}{d, fn})
	return &fakeTimer{}
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.scheduled)
}

func (c *fakeClock) lastDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scheduled[len(c.scheduled)-1].delay
}

func (c *fakeClock) fireLast() {
	c.mu.Lock()
	fn := c.scheduled[len(c.scheduled)-1].fn
	c.mu.Unlock()
	fn()
}

func newRecognizer(t *testing.T, engine speech.RecognitionEngine, clock speech.Clock) (*speech.Recognizer, *bus.Bus, *config.Config) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	events := bus.New(logger)
	cfg := config.Default()
	r, err := speech.NewRecognizer(engine, events, cfg, clock, logger)
	require.NoError(t, err)
	return r, events, cfg
}

func TestNewRecognizerRequiresEngine(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := speech.NewRecognizer(nil, bus.New(logger), config.Default(), nil, logger)
	assert.Error(t, err)
}

func TestFinalResultIsPublished(t *testing.T) {
	engine := newFakeEngine()
	r, events, _ := newRecognizer(t, engine, &fakeClock{})

	got := make(chan domain.RecognitionResult, 1)
	events.Subscribe(func(e bus.Event) {
		if sr, ok := e.(bus.SpeechRecognized); ok {
			got <- sr.Result
		}
	})

	require.NoError(t, r.Start(context.Background()))
	engine.events <- speech.EngineEvent{
		Kind:   speech.EventResult,
		Result: domain.RecognitionResult{Command: "turn on the lights", Confidence: 0.93},
	}

	select {
	case result := <-got:
		assert.Equal(t, "turn on the lights", result.Command)
		assert.Equal(t, 0.93, result.Confidence)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for recognition result")
	}
}

func TestStartWhileRecognizingIsNoop(t *testing.T) {
	engine := newFakeEngine()
	r, _, _ := newRecognizer(t, engine, &fakeClock{})

	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Start(context.Background()))

	assert.Equal(t, 1, engine.startCount())
}

func TestStopIsIdempotent(t *testing.T) {
	engine := newFakeEngine()
	r, _, _ := newRecognizer(t, engine, &fakeClock{})

	require.NoError(t, r.Start(context.Background()))
	r.Stop()
	assert.False(t, r.IsRecognizing())
	r.Stop()
	assert.False(t, r.IsRecognizing())
}

func TestNoSpeechSchedulesOneSecondRestart(t *testing.T) {
	engine := newFakeEngine()
	clock := &fakeClock{}
	r, _, _ := newRecognizer(t, engine, clock)

	require.NoError(t, r.Start(context.Background()))
	engine.events <- speech.EngineEvent{Kind: speech.EventError, Code: speech.ErrNoSpeech}

	require.Eventually(t, func() bool { return clock.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, time.Second, clock.lastDelay())
	assert.Equal(t, speech.StateBackoff, r.State())

	clock.fireLast()
	assert.Equal(t, speech.StateRecognizing, r.State())
	assert.Equal(t, 2, engine.startCount())
}

func TestNetworkErrorBacksOffFiveSeconds(t *testing.T) {
	engine := newFakeEngine()
	clock := &fakeClock{}
	r, _, _ := newRecognizer(t, engine, clock)

	require.NoError(t, r.Start(context.Background()))
	engine.events <- speech.EngineEvent{Kind: speech.EventError, Code: speech.ErrNetwork}

	require.Eventually(t, func() bool { return clock.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 5*time.Second, clock.lastDelay())
}

func TestPermissionErrorIsFatal(t *testing.T) {
	engine := newFakeEngine()
	r, events, _ := newRecognizer(t, engine, &fakeClock{})

	faults := make(chan bus.RecognitionFault, 1)
	events.Subscribe(func(e bus.Event) {
		if f, ok := e.(bus.RecognitionFault); ok {
			faults <- f
		}
	})

	require.NoError(t, r.Start(context.Background()))
	engine.events <- speech.EngineEvent{Kind: speech.EventError, Code: speech.ErrNotAllowed}

	select {
	case f := <-faults:
		assert.True(t, f.Fatal)
		assert.Equal(t, speech.ErrNotAllowed, f.Code)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for fatal fault")
	}

	assert.Equal(t, speech.StateFatal, r.State())
	assert.Error(t, r.Start(context.Background()))
}

func TestErrorBudgetExhaustionGoesFatal(t *testing.T) {
	engine := newFakeEngine()
	clock := &fakeClock{}
	r, events, cfg := newRecognizer(t, engine, clock)
	cfg.Recognition.MaxErrors = 2

	faults := make(chan bus.RecognitionFault, 1)
	events.Subscribe(func(e bus.Event) {
		if f, ok := e.(bus.RecognitionFault); ok {
			faults <- f
		}
	})

	require.NoError(t, r.Start(context.Background()))
	// two network errors without a successful restart in between
	engine.events <- speech.EngineEvent{Kind: speech.EventError, Code: speech.ErrNetwork}
	engine.events <- speech.EngineEvent{Kind: speech.EventError, Code: speech.ErrNetwork}

	select {
	case f := <-faults:
		assert.True(t, f.Fatal)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for fatal fault")
	}
	assert.Equal(t, speech.StateFatal, r.State())
}

func TestSuccessfulRestartResetsErrorBudget(t *testing.T) {
	engine := newFakeEngine()
	clock := &fakeClock{}
	r, _, cfg := newRecognizer(t, engine, clock)
	cfg.Recognition.MaxErrors = 2

	require.NoError(t, r.Start(context.Background()))
	engine.events <- speech.EngineEvent{Kind: speech.EventError, Code: speech.ErrNetwork}
	require.Eventually(t, func() bool { return clock.count() == 1 }, time.Second, time.Millisecond)
	clock.fireLast()
	require.Equal(t, speech.StateRecognizing, r.State())

	// the restarted session gets a fresh budget, so one more error backs off
	// instead of going fatal
	engine.events <- speech.EngineEvent{Kind: speech.EventError, Code: speech.ErrNetwork}
	require.Eventually(t, func() bool { return clock.count() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, speech.StateBackoff, r.State())
}

func TestEngineEndAutoRestarts(t *testing.T) {
	engine := newFakeEngine()
	clock := &fakeClock{}
	r, _, cfg := newRecognizer(t, engine, clock)
	require.True(t, cfg.Recognition.AutoRestart)

	require.NoError(t, r.Start(context.Background()))
	engine.events <- speech.EngineEvent{Kind: speech.EventEnd}

	require.Eventually(t, func() bool { return clock.count() == 1 }, time.Second, time.Millisecond)
	clock.fireLast()
	assert.Equal(t, 2, engine.startCount())
}

func TestEngineEndWithoutAutoRestartGoesIdle(t *testing.T) {
	engine := newFakeEngine()
	r, _, cfg := newRecognizer(t, engine, &fakeClock{})
	cfg.Recognition.AutoRestart = false

	require.NoError(t, r.Start(context.Background()))
	engine.events <- speech.EngineEvent{Kind: speech.EventEnd}

	require.Eventually(t, func() bool { return r.State() == speech.StateIdle }, time.Second, time.Millisecond)
}

func TestSetLanguagePersistsIntoConfig(t *testing.T) {
	engine := newFakeEngine()
	r, _, cfg := newRecognizer(t, engine, &fakeClock{})

	r.SetLanguage("es-AR")

	assert.Equal(t, "es-AR", cfg.Recognition.Language)
	assert.Equal(t, "es-AR", engine.language)
}

func TestFailedRestartConsumesBudget(t *testing.T) {
	engine := newFakeEngine()
	clock := &fakeClock{}
	r, _, cfg := newRecognizer(t, engine, clock)
	cfg.Recognition.MaxErrors = 2

	require.NoError(t, r.Start(context.Background()))
	engine.events <- speech.EngineEvent{Kind: speech.EventError, Code: speech.ErrNetwork}
	require.Eventually(t, func() bool { return clock.count() == 1 }, time.Second, time.Millisecond)

	engine.mu.Lock()
	engine.startErr = errors.New("engine gone")
	engine.mu.Unlock()

	clock.fireLast()

	require.Eventually(t, func() bool { return r.State() == speech.StateFatal }, time.Second, time.Millisecond)
}

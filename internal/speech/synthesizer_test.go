package speech

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
)

type recordingEngine struct {
	mu      sync.Mutex
	spoken  []string
	failOn  string
	release chan struct{} // when set, Speak blocks until it is closed
}

func (e *recordingEngine) Speak(ctx context.Context, u domain.Utterance) error {
	if e.release != nil {
		select {
		case <-e.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	e.mu.Lock()
	e.spoken = append(e.spoken, u.Text)
	e.mu.Unlock()
	if u.Text == e.failOn {
		return errors.New("synthesis failed")
	}
	return nil
}

func (e *recordingEngine) Voices() []domain.Voice { return nil }
func (e *recordingEngine) Cancel() {}

func (e *recordingEngine) Spoken() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.spoken...)
}

func newSynthesizer(engine SynthesisEngine) *Synthesizer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewSynthesizer(engine, bus.New(logger), config.SynthesisConfig{
		Language: "en-US", Rate: 1, Pitch: 1, Volume: 1,
	}, logger)
	s.yield = time.Millisecond
	return s
}

func TestInsertByPriority(t *testing.T) {
	var q []domain.Utterance
	add := func(text string, priority int) {
		q = insertByPriority(q, domain.Utterance{Text: text, Priority: priority})
	}

	add("low", 1)
	add("high", 5)
	add("mid", 3)
	add("low-2", 1)
	add("high-2", 5)

	var texts []string
	for _, u := range q {
		texts = append(texts, u.Text)
	}
	// strict priority order, FIFO among equal priorities
	assert.Equal(t, []string{"high", "high-2", "mid", "low", "low-2"}, texts)
}

func TestHigherPriorityPlaysFirst(t *testing.T) {
	release := make(chan struct{})
	engine := &recordingEngine{release: release}
	s := newSynthesizer(engine)

	// the first utterance starts playing and blocks; the rest queue behind it
	s.Speak("blocker", "", 1)
	require.Eventually(t, func() bool { return s.QueueLen() == 0 }, time.Second, time.Millisecond)

	s.Speak("low", "", 1)
	s.Speak("high", "", 5)
	close(release)

	require.Eventually(t, func() bool { return len(engine.Spoken()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"blocker", "high", "low"}, engine.Spoken())
}

func TestEmptyTextIsDropped(t *testing.T) {
	engine := &recordingEngine{}
	s := newSynthesizer(engine)

	s.Speak("", "", 1)

	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, engine.Spoken())
	assert.Zero(t, s.QueueLen())
}

func TestNilEngineDegradesToNoop(t *testing.T) {
	s := newSynthesizer(nil)

	s.Speak("anyone listening", "", 1)

	assert.Zero(t, s.QueueLen())
}

func TestPlaybackErrorDoesNotStopDraining(t *testing.T) {
	engine := &recordingEngine{failOn: "bad"}
	s := newSynthesizer(engine)

	s.Speak("bad", "", 2)
	s.Speak("good", "", 1)

	require.Eventually(t, func() bool { return len(engine.Spoken()) == 2 }, time.Second, time.Millisecond)
	assert.Contains(t, engine.Spoken(), "good")
}

func TestStopClearsQueueAndCancelsPlayback(t *testing.T) {
	release := make(chan struct{})
	engine := &recordingEngine{release: release}
	s := newSynthesizer(engine)

	s.Speak("in flight", "", 1)
	s.Speak("pending", "", 1)

	s.Stop()

	assert.Zero(t, s.QueueLen())
	// the blocked utterance was cancelled, the pending one discarded
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return !s.playing
	}, time.Second, time.Millisecond)
	assert.NotContains(t, engine.Spoken(), "pending")
}

func TestSelectVoice(t *testing.T) {
	voices := []domain.Voice{
		{Name: "remote-es", Language: "es-ES", Local: false},
		{Name: "local-es-ar", Language: "es-AR", Local: true},
		{Name: "local-en", Language: "en-US", Local: true},
		{Name: "remote-en", Language: "en-US", Local: false},
	}

	v, ok := SelectVoice(voices, "en-US")
	require.True(t, ok)
	assert.Equal(t, "local-en", v.Name)

	// no exact es-MX voice: fall back to the primary subtag, prefer local
	v, ok = SelectVoice(voices, "es-MX")
	require.True(t, ok)
	assert.Equal(t, "local-es-ar", v.Name)

	_, ok = SelectVoice(voices, "fr-FR")
	assert.False(t, ok)
}

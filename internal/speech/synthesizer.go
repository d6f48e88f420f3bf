package speech

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"voicehome/config"
	"voicehome/internal/bus"
	"voicehome/internal/domain"
)

// playbackYield is the pause between utterances so queue mutations and
// cancellation get a chance to land between plays.
const playbackYield = 100 * time.Millisecond

// SynthesisEngine is the host text-to-speech capability. Speak blocks until
// the utterance finishes or fails; Cancel aborts the in-flight utterance.
type SynthesisEngine interface {
	Speak(ctx context.Context, u domain.Utterance) error
	Voices() []domain.Voice
	Cancel()
}

type Synthesizer struct {
	engine   SynthesisEngine
	events   *bus.Bus
	defaults config.SynthesisConfig
	logger   *slog.Logger
	yield    time.Duration

	mu      sync.Mutex
	queue   []domain.Utterance
	playing bool
	cancel  context.CancelFunc
	stopped bool
}

// NewSynthesizer accepts a nil engine: speaking then degrades to a logged
// no-op instead of failing.
func NewSynthesizer(engine SynthesisEngine, events *bus.Bus, defaults config.SynthesisConfig, logger *slog.Logger) *Synthesizer {
	return &Synthesizer{
		engine:   engine,
		events:   events,
		defaults: defaults,
		logger:   logger,
		yield:    playbackYield,
	}
}

// Speak queues one utterance. The queue stays sorted by descending priority;
// a new utterance goes after existing entries of the same priority, so equal
// priorities play first-in first-out.
func (s *Synthesizer) Speak(text, language string, priority int) {
	if text == "" {
		s.logger.Warn("dropping empty utterance")
		return
	}
	if s.engine == nil {
		s.logger.Warn("speech synthesis unavailable, dropping utterance", "text", text)
		return
	}
	if language == "" {
		language = s.defaults.Language
	}

	u := domain.Utterance{
		Text:     text,
		Language: language,
		Priority: priority,
		Rate:     s.defaults.Rate,
		Pitch:    s.defaults.Pitch,
		Volume:   s.defaults.Volume,
	}

	s.mu.Lock()
	s.stopped = false
	s.queue = insertByPriority(s.queue, u)
	start := !s.playing
	if start {
		s.playing = true
	}
	s.mu.Unlock()

	s.logger.Debug("utterance queued", "text", text, "priority", priority)

	if start {
		go s.drain()
	}
}

func insertByPriority(queue []domain.Utterance, u domain.Utterance) []domain.Utterance {
	at := len(queue)
	for i := range queue {
		if queue[i].Priority < u.Priority {
			at = i
			break
		}
	}
	queue = append(queue, domain.Utterance{})
	copy(queue[at+1:], queue[at:])
	queue[at] = u
	return queue
}

// drain plays utterances one at a time until the queue empties. Playback
// failures are logged and draining continues with the next entry.
func (s *Synthesizer) drain() {
	for {
		s.mu.Lock()
		if s.stopped || len(s.queue) == 0 {
			s.playing = false
			s.mu.Unlock()
			return
		}
		u := s.queue[0]
		s.queue = s.queue[1:]
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.mu.Unlock()

		if v, ok := SelectVoice(s.engine.Voices(), u.Language); ok {
			u.Voice = v.Name
		}

		err := s.engine.Speak(ctx, u)
		cancel()

		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()

		if err != nil {
			s.logger.Warn("utterance playback failed", "text", u.Text, "error", err)
		} else {
			s.events.Publish(bus.UtteranceSpoken{Text: u.Text})
		}

		time.Sleep(s.yield)
	}
}

// Stop cancels the in-flight utterance and discards everything pending.
func (s *Synthesizer) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.queue = nil
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s.engine != nil {
		s.engine.Cancel()
	}
	s.logger.Info("speech synthesis stopped, queue cleared")
}

// QueueLen reports pending utterances, not counting the one playing.
func (s *Synthesizer) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// SelectVoice picks the best voice for a language tag: exact tag match
// beats a primary-subtag match, and local voices beat remote ones within
// each class.
func SelectVoice(voices []domain.Voice, language string) (domain.Voice, bool) {
	primary, _, _ := strings.Cut(language, "-")

	var exact, subtag *domain.Voice
	for i := range voices {
		v := &voices[i]
		switch {
		case v.Language == language:
			if exact == nil || (v.Local && !exact.Local) {
				exact = v
			}
		case voicePrimary(v.Language) == primary:
			if subtag == nil || (v.Local && !subtag.Local) {
				subtag = v
			}
		}
	}

	if exact != nil {
		return *exact, true
	}
	if subtag != nil {
		return *subtag, true
	}
	return domain.Voice{}, false
}

func voicePrimary(tag string) string {
	primary, _, _ := strings.Cut(tag, "-")
	return primary
}

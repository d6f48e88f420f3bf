// Package bus is the in-process event channel between the assistant's
// components. Events form a closed union; delivery is synchronous, in
// subscription order, and a panicking handler never stops delivery to the
// handlers after it.
package bus

import (
	"log/slog"
	"sort"
	"sync"

	"voicehome/internal/domain"
)

// Event is the closed union of everything published on the bus.
type Event interface {
	isEvent()
}

// SpeechRecognized carries one final recognition result.
type SpeechRecognized struct {
	Result domain.RecognitionResult
}

// RecognitionFault reports a recognition error. Fatal faults mean the
// recognizer gave up and will not restart on its own.
type RecognitionFault struct {
	Code  string
	Fatal bool
}

// DeviceControlled reports the outcome of one device command, successful
// or not.
type DeviceControlled struct {
	DeviceID string
	Success  bool
	Message  string
}

// UtteranceSpoken reports that one utterance finished playing.
type UtteranceSpoken struct {
	Text string
}

// AssistantStopping announces a clean shutdown of the assistant.
type AssistantStopping struct {
	Reason string
}

func (SpeechRecognized) isEvent()  {}
func (RecognitionFault) isEvent()  {}
func (DeviceControlled) isEvent()  {}
func (UtteranceSpoken) isEvent()   {}
func (AssistantStopping) isEvent() {}

// Handler receives every published event; subscribers dispatch on the
// concrete type.
type Handler func(Event)

type subscription struct {
	id      int
	handler Handler
	once    bool
}

type Bus struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[int]*subscription
	nextID int
}

func New(logger *slog.Logger) *Bus {
	return &Bus{
		logger: logger,
		subs:   make(map[int]*subscription),
	}
}

// Subscribe registers a handler for all events and returns its id.
func (b *Bus) Subscribe(h Handler) int {
	return b.add(h, false)
}

// SubscribeOnce registers a handler that is removed after its first delivery.
func (b *Bus) SubscribeOnce(h Handler) int {
	return b.add(h, true)
}

func (b *Bus) add(h Handler, once bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[id] = &subscription{id: id, handler: h, once: once}
	return id
}

// Unsubscribe removes a handler. Removing an unknown id is a no-op, so
// calling it twice is safe.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Publish delivers the event synchronously to every current subscriber in
// subscription order. The subscriber set is snapshotted first, so handlers
// may subscribe or unsubscribe during delivery without affecting this event.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	snapshot := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		snapshot = append(snapshot, s)
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].id < snapshot[j].id })
	for _, s := range snapshot {
		if s.once {
			delete(b.subs, s.id)
		}
	}
	b.mu.Unlock()

	for _, s := range snapshot {
		b.deliver(s, e)
	}
}

func (b *Bus) deliver(s *subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "event", eventName(e), "panic", r)
		}
	}()
	s.handler(e)
}

func eventName(e Event) string {
	switch e.(type) {
	case SpeechRecognized:
		return "speechRecognized"
	case RecognitionFault:
		return "recognitionFault"
	case DeviceControlled:
		return "deviceControlled"
	case UtteranceSpoken:
		return "utteranceSpoken"
	case AssistantStopping:
		return "assistantStopping"
	default:
		return "unknown"
	}
}

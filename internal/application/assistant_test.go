package application_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"voicehome/config"
	"voicehome/internal/application"
	"voicehome/internal/bus"
	"voicehome/internal/domain"
	"voicehome/internal/nlu"
)

type mockDevices struct {
	mu        sync.Mutex
	fleet     map[string]domain.Device
	controls  []domain.Command
	respondOK bool
	panicOn   string
}

func newMockDevices() *mockDevices {
	return &mockDevices{
		fleet: map[string]domain.Device{
			"living_room-light": {ID: "living_room-light", Name: "Living Room Light", Type: domain.DeviceTypeLight, Status: domain.StatusOnline},
		},
		respondOK: true,
	}
}

func (m *mockDevices) Control(deviceID string, action domain.Action, parameters map[string]any) *domain.Response {
	if deviceID == m.panicOn {
		panic("device exploded")
	}
	m.mu.Lock()
	m.controls = append(m.controls, domain.Command{DeviceID: deviceID, Action: action, Parameters: parameters})
	m.mu.Unlock()
	if m.respondOK {
		return &domain.Response{Success: true, Message: "done"}
	}
	return &domain.Response{Success: false, Message: "refused"}
}

func (m *mockDevices) Find(query string) (domain.Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.fleet[query]
	return d, ok
}

func (m *mockDevices) StartDiscovery(_ context.Context, _ time.Duration) {}
func (m *mockDevices) StopDiscovery() {}
func (m *mockDevices) OnlineCount() int { return 1 }

func (m *mockDevices) controlled() []domain.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Command(nil), m.controls...)
}

type mockListener struct {
	mu          sync.Mutex
	recognizing bool
}

func (l *mockListener) Start(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recognizing = true
	return nil
}

func (l *mockListener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recognizing = false
}

func (l *mockListener) IsRecognizing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recognizing
}

type mockSpeaker struct {
	mu     sync.Mutex
	spoken []string
}

func (s *mockSpeaker) Speak(text, _ string, _ int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, text)
}

func (s *mockSpeaker) Stop() {}
func (s *mockSpeaker) QueueLen() int { return 0 }

func (s *mockSpeaker) lastSaid() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.spoken) == 0 {
		return ""
	}
	return s.spoken[len(s.spoken)-1]
}

func newTestAssistant(t *testing.T, devices *mockDevices) (*application.Assistant, *bus.Bus, *mockSpeaker) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	events := bus.New(logger)
	speaker := &mockSpeaker{}

	assistant := application.NewAssistant(
		config.Default(),
		events,
		nlu.NewProcessor(logger),
		devices,
		&mockListener{},
		speaker,
		&application.NoopNotifier{},
		nil,
		nil,
		logger,
	)

	if err := assistant.Start(context.Background()); err != nil {
		t.Fatalf("starting assistant: %v", err)
	}
	t.Cleanup(assistant.Stop)

	return assistant, events, speaker
}

func recognize(events *bus.Bus, command string, confidence float64) {
	events.Publish(bus.SpeechRecognized{Result: domain.RecognitionResult{
		Command:    command,
		Confidence: confidence,
	}})
}

func TestAssistantExecutesDeviceCommand(t *testing.T) {
	devices := newMockDevices()
	_, events, speaker := newTestAssistant(t, devices)

	recognize(events, "turn on the living room lights", 0.95)

	controls := devices.controlled()
	if len(controls) != 1 {
		t.Fatalf("expected 1 device command, got %d", len(controls))
	}
	if controls[0].DeviceID != "living_room-light" {
		t.Errorf("expected living_room-light, got %s", controls[0].DeviceID)
	}
	if controls[0].Action != domain.ActionTurnOn {
		t.Errorf("expected turn_on, got %s", controls[0].Action)
	}
	if got := speaker.lastSaid(); got != "Done. Done." {
		t.Errorf("unexpected reply: %q", got)
	}
}

func TestAssistantLowConfidenceAsksForClarification(t *testing.T) {
	devices := newMockDevices()
	_, events, speaker := newTestAssistant(t, devices)

	recognize(events, "turn on the living room lights", 0.3)

	if len(devices.controlled()) != 0 {
		t.Fatal("no device command expected below the confidence threshold")
	}
	if got := speaker.lastSaid(); got != "Sorry, I didn't catch that. Could you say it again?" {
		t.Errorf("unexpected reply: %q", got)
	}
}

func TestAssistantGreeting(t *testing.T) {
	devices := newMockDevices()
	_, events, speaker := newTestAssistant(t, devices)

	recognize(events, "hello", 0.95)

	if got := speaker.lastSaid(); got != "Hello! How can I help?" {
		t.Errorf("unexpected greeting reply: %q", got)
	}
}

func TestAssistantUnknownCommandSpokenNotCrashed(t *testing.T) {
	devices := newMockDevices()
	_, events, speaker := newTestAssistant(t, devices)

	recognize(events, "xyz random command", 0.95)

	if len(devices.controlled()) != 0 {
		t.Fatal("no device command expected for an unknown intent")
	}
	if got := speaker.lastSaid(); got != "Sorry, I didn't understand that command." {
		t.Errorf("unexpected reply: %q", got)
	}
}

func TestAssistantPanicBecomesSpokenApology(t *testing.T) {
	devices := newMockDevices()
	devices.panicOn = "living_room-light"
	_, events, speaker := newTestAssistant(t, devices)

	recognize(events, "turn on the living room lights", 0.95)

	if got := speaker.lastSaid(); got != "Sorry, something went wrong handling that request." {
		t.Errorf("expected a spoken apology, got %q", got)
	}
}

func TestAssistantMissingDevice(t *testing.T) {
	devices := newMockDevices()
	devices.fleet = map[string]domain.Device{}
	_, events, speaker := newTestAssistant(t, devices)

	recognize(events, "turn on the living room lights", 0.95)

	if got := speaker.lastSaid(); got != "I couldn't find that device." {
		t.Errorf("unexpected reply: %q", got)
	}
}

func TestAssistantVoiceStopCommand(t *testing.T) {
	devices := newMockDevices()
	assistant, events, _ := newTestAssistant(t, devices)

	recognize(events, "stop listening", 0.95)

	if assistant.Running() {
		t.Fatal("assistant should have stopped")
	}
	// a second stop must be harmless
	assistant.Stop()
}

func TestAssistantStartIsIdempotent(t *testing.T) {
	devices := newMockDevices()
	assistant, _, _ := newTestAssistant(t, devices)

	if err := assistant.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if !assistant.Running() {
		t.Fatal("assistant should be running")
	}
}

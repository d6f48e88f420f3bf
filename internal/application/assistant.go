package application

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"voicehome/config"
	"voicehome/internal/bus"
	"voicehome/internal/domain"
	"voicehome/internal/monitor"
)

// Utterance priorities. Error-class replies jump the queue.
const (
	priorityNormal = 1
	priorityHigh   = 2
)

// Spoken replies. The information branch is a stub: there is no data source
// to answer from.
const (
	replyReady        = "Voice assistant ready."
	replyClarify      = "Sorry, I didn't catch that. Could you say it again?"
	replyApology      = "Sorry, something went wrong handling that request."
	replyUnknown      = "Sorry, I didn't understand that command."
	replyNoDevice     = "I couldn't find that device."
	replyInfoStub     = "I'm not able to look that up yet."
	replyGreeting     = "Hello! How can I help?"
	replyFarewell     = "Goodbye!"
	replyHelp         = "You can ask me to control the lights, thermostat, tv, or speaker."
	replyMicBroken    = "Speech recognition is unavailable. Check the microphone and permissions."
	replySysUnhandled = "Sorry, I can't do that."
)

// Assistant is the composition root: it owns every component and translates
// recognized speech into device commands and spoken replies.
type Assistant struct {
	cfg      *config.Config
	events   *bus.Bus
	parser   IntentParser
	devices  DeviceController
	listener Listener
	speaker  Speaker
	notifier Notifier
	perf     *monitor.Performance
	tasks    *monitor.TaskPool
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	baseCtx context.Context
	subID   int
}

func NewAssistant(
	cfg *config.Config,
	events *bus.Bus,
	parser IntentParser,
	devices DeviceController,
	listener Listener,
	speaker Speaker,
	notifier Notifier,
	perf *monitor.Performance,
	tasks *monitor.TaskPool,
	logger *slog.Logger,
) *Assistant {
	return &Assistant{
		cfg:      cfg,
		events:   events,
		parser:   parser,
		devices:  devices,
		listener: listener,
		speaker:  speaker,
		notifier: notifier,
		perf:     perf,
		tasks:    tasks,
		logger:   logger,
	}
}

// Start wires the bus subscription, discovery, recognition, and monitoring.
// Starting a running assistant is a no-op.
func (a *Assistant) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = true
	a.baseCtx = ctx
	a.subID = a.events.Subscribe(a.onEvent)
	a.mu.Unlock()

	a.devices.StartDiscovery(ctx, config.Duration(a.cfg.Devices.DiscoveryInterval, 30*time.Second))

	if a.perf != nil {
		a.perf.Register("speech.queue_depth", func() float64 { return float64(a.speaker.QueueLen()) })
		a.perf.Register("devices.online", func() float64 { return float64(a.devices.OnlineCount()) })
		if a.tasks != nil {
			a.perf.Register("tasks.backlog", func() float64 { return float64(a.tasks.Backlog()) })
		}
		a.perf.Start(ctx, config.Duration(a.cfg.Monitor.Interval, 10*time.Second))
	}
	if a.tasks != nil {
		a.tasks.Start(ctx)
	}

	if err := a.listener.Start(ctx); err != nil {
		a.stop("listener failed")
		return fmt.Errorf("starting assistant: %w", err)
	}

	a.logger.Info("assistant started", "minConfidence", a.cfg.MinConfidence)
	a.speaker.Speak(replyReady, "", priorityNormal)
	return nil
}

// Stop halts recognition, discovery, and monitoring. The synthesis queue is
// left to drain so an already queued farewell can still play; callers that
// want silence call the speaker's Stop themselves. Idempotent.
func (a *Assistant) Stop() {
	a.stop("requested")
}

func (a *Assistant) stop(reason string) {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	subID := a.subID
	a.mu.Unlock()

	a.events.Publish(bus.AssistantStopping{Reason: reason})
	a.events.Unsubscribe(subID)
	a.listener.Stop()
	a.devices.StopDiscovery()
	if a.perf != nil {
		a.perf.Stop()
	}
	if a.tasks != nil {
		a.tasks.Stop()
	}

	a.logger.Info("assistant stopped", "reason", reason)
}

// Running reports whether the assistant is started.
func (a *Assistant) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

func (a *Assistant) onEvent(e bus.Event) {
	switch ev := e.(type) {
	case bus.SpeechRecognized:
		a.handleTurn(ev.Result)
	case bus.RecognitionFault:
		if ev.Fatal {
			a.speaker.Speak(replyMicBroken, "", priorityHigh)
			a.notify(fmt.Sprintf("Recognition failed permanently: %s", ev.Code))
		}
	case bus.DeviceControlled:
		if !ev.Success {
			a.notify(fmt.Sprintf("Device command failed on %s: %s", ev.DeviceID, ev.Message))
		}
	}
}

// handleTurn runs one utterance through the pipeline. Whatever goes wrong,
// the turn ends in a spoken reply, never a crash.
func (a *Assistant) handleTurn(result domain.RecognitionResult) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("turn panicked", "command", result.Command, "panic", r)
			a.speaker.Speak(replyApology, "", priorityHigh)
		}
	}()

	a.logger.Info("handling utterance", "command", result.Command, "confidence", result.Confidence)

	if result.Confidence < a.cfg.MinConfidence {
		a.speaker.Speak(replyClarify, "", priorityHigh)
		return
	}

	ctx := a.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	processed, err := a.parser.Process(ctx, result.Command)
	if err != nil {
		a.logger.Error("processing command", "error", err)
		a.speaker.Speak(replyApology, "", priorityHigh)
		return
	}

	switch processed.Intent.Name {
	case domain.IntentDeviceControl:
		a.handleDeviceCommand(processed)
	case domain.IntentInfoRequest:
		a.speaker.Speak(replyInfoStub, "", priorityNormal)
	case domain.IntentSystemControl:
		a.handleSystemCommand(processed)
	case domain.IntentGreeting:
		a.speaker.Speak(replyGreeting, "", priorityNormal)
	case domain.IntentGoodbye:
		a.speaker.Speak(replyFarewell, "", priorityNormal)
	default:
		a.speaker.Speak(replyUnknown, "", priorityNormal)
	}
}

func (a *Assistant) handleDeviceCommand(processed *domain.ProcessingResult) {
	device, ok := a.resolveDevice(processed.Intent)
	if !ok {
		a.speaker.Speak(replyNoDevice, "", priorityNormal)
		return
	}

	action := processed.Action
	params := map[string]any{}
	if number, ok := processed.Intent.EntityValue(domain.EntityNumber); ok {
		if n, err := strconv.Atoi(number); err == nil {
			params["value"] = n
		}
		// a bare "control" with a number means "set it to that"
		if action == domain.ActionControl {
			action = domain.ActionSetValue
		}
	}

	resp := a.devices.Control(device.ID, action, params)
	if resp.Success {
		a.speaker.Speak(fmt.Sprintf("Done. %s.", capitalize(resp.Message)), "", priorityNormal)
	} else {
		a.speaker.Speak(fmt.Sprintf("I couldn't do that. %s.", capitalize(resp.Message)), "", priorityNormal)
	}
}

func (a *Assistant) handleSystemCommand(processed *domain.ProcessingResult) {
	switch processed.Action {
	case domain.ActionStop:
		a.speaker.Speak(replyFarewell, "", priorityHigh)
		a.stop("voice command")
	case domain.ActionRestart:
		a.logger.Info("restarting by voice command")
		ctx := a.baseCtx
		a.stop("restart")
		if err := a.Start(ctx); err != nil {
			a.logger.Error("restarting assistant", "error", err)
			a.speaker.Speak(replyApology, "", priorityHigh)
		}
	case domain.ActionHelp:
		a.speaker.Speak(replyHelp, "", priorityNormal)
	default:
		a.speaker.Speak(replySysUnhandled, "", priorityNormal)
	}
}

// resolveDevice turns device and room entities into a registry hit, trying
// the "{room}-{device}" composite id first and degrading to looser matches.
func (a *Assistant) resolveDevice(intent domain.Intent) (domain.Device, bool) {
	deviceValue, ok := intent.EntityValue(domain.EntityDevice)
	if !ok {
		return domain.Device{}, false
	}
	singular := strings.TrimSuffix(deviceValue, "s")

	var queries []string
	if room, ok := intent.EntityValue(domain.EntityRoom); ok {
		queries = append(queries, room+"-"+deviceValue, room+"-"+singular)
	}
	queries = append(queries, deviceValue, singular)

	for _, q := range queries {
		if d, ok := a.devices.Find(q); ok {
			return d, true
		}
	}
	return domain.Device{}, false
}

// notify pushes a message in the background so a slow notification channel
// never holds up a turn.
func (a *Assistant) notify(message string) {
	if a.tasks == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.notifier.Notify(ctx, message); err != nil {
			a.logger.Error("notifying", "error", err)
		}
		return
	}
	a.tasks.Submit(priorityNormal, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return a.notifier.Notify(ctx, message)
	})
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

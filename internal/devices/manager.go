// Package devices is an in-memory registry of simulated devices. Discovery
// is a periodic coin flip standing in for real network probing; command
// execution mutates per-device property maps under type-specific bounds.
package devices

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"voicehome/internal/bus"
	"voicehome/internal/domain"
)

// onlineProbability is the per-device chance of being seen online on each
// discovery tick.
const onlineProbability = 0.9

type Manager struct {
	logger *slog.Logger
	events *bus.Bus
	rand   func() float64

	mu      sync.RWMutex
	devices map[string]*domain.Device
	states  map[string]*domain.DeviceState

	cancelDiscovery context.CancelFunc
	wg              sync.WaitGroup
	destroyOnce     sync.Once
}

// New seeds the mock fleet. Discovery does not run until StartDiscovery.
func New(events *bus.Bus, logger *slog.Logger) *Manager {
	m := &Manager{
		logger:  logger,
		events:  events,
		rand:    rand.Float64,
		devices: make(map[string]*domain.Device),
		states:  make(map[string]*domain.DeviceState),
	}
	m.seed()
	return m
}

func (m *Manager) seed() {
	add := func(id, name string, deviceType domain.DeviceType, room string, props map[string]any) {
		m.devices[id] = &domain.Device{
			ID:     id,
			Name:   name,
			Type:   deviceType,
			Room:   room,
			Status: domain.StatusOffline,
		}
		m.states[id] = &domain.DeviceState{
			Status:     domain.StatusOffline,
			Properties: props,
		}
	}

	add("living_room-light", "Living Room Light", domain.DeviceTypeLight, "living_room",
		map[string]any{"power": false, "brightness": 100, "color": "white"})
	add("bedroom-light", "Bedroom Light", domain.DeviceTypeLight, "bedroom",
		map[string]any{"power": false, "brightness": 100, "color": "white"})
	add("hallway-thermostat", "Hallway Thermostat", domain.DeviceTypeThermostat, "hallway",
		map[string]any{"target": 70, "mode": "auto"})
	add("living_room-tv", "Living Room TV", domain.DeviceTypeTV, "living_room",
		map[string]any{"power": false, "volume": 30})
	add("kitchen-speaker", "Kitchen Speaker", domain.DeviceTypeSpeaker, "kitchen",
		map[string]any{"playing": false, "volume": 50})
	add("office-plug", "Office Plug", domain.DeviceTypeGeneric, "office",
		map[string]any{"power": false})
}

// StartDiscovery runs an immediate pass, then one per interval until the
// context is cancelled or Destroy is called.
func (m *Manager) StartDiscovery(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	if m.cancelDiscovery != nil {
		m.mu.Unlock()
		cancel()
		return
	}
	m.cancelDiscovery = cancel
	m.mu.Unlock()

	m.discover()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.discover()
			}
		}
	}()
}

// StopDiscovery halts the discovery loop. The registry stays usable and
// discovery may be started again.
func (m *Manager) StopDiscovery() {
	m.mu.Lock()
	cancel := m.cancelDiscovery
	m.cancelDiscovery = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// discover flips each device online with a fixed probability. LastSeen is
// only refreshed for devices seen online.
func (m *Manager) discover() {
	m.mu.Lock()
	defer m.mu.Unlock()

	online := 0
	now := time.Now()
	for id, device := range m.devices {
		state := m.states[id]
		if m.rand() < onlineProbability {
			device.Status = domain.StatusOnline
			state.Status = domain.StatusOnline
			state.LastSeen = now
			online++
		} else {
			device.Status = domain.StatusOffline
			state.Status = domain.StatusOffline
		}
	}

	m.logger.Debug("discovery pass complete", "devices", len(m.devices), "online", online)
}

// Control executes one action against one device. Unknown or non-online
// devices fail without touching any state; everything else dispatches to the
// per-type handler and reports the outcome on the bus either way.
func (m *Manager) Control(deviceID string, action domain.Action, parameters map[string]any) *domain.Response {
	m.mu.Lock()
	defer m.mu.Unlock()

	device, ok := m.devices[deviceID]
	if !ok {
		m.logger.Warn("control of unknown device", "deviceID", deviceID)
		return &domain.Response{Success: false, Message: fmt.Sprintf("device %s not found", deviceID)}
	}
	if device.Status != domain.StatusOnline {
		m.logger.Warn("control of unavailable device", "deviceID", deviceID, "status", device.Status)
		return &domain.Response{Success: false, Message: fmt.Sprintf("%s is not available", device.Name)}
	}

	cmd := domain.Command{
		ID:         uuid.NewString(),
		DeviceID:   deviceID,
		Action:     action,
		Parameters: parameters,
	}

	response := dispatch(device.Type, m.states[deviceID], cmd)

	m.logger.Info("device command executed",
		"commandID", cmd.ID,
		"deviceID", deviceID,
		"action", action,
		"success", response.Success,
	)

	m.events.Publish(bus.DeviceControlled{
		DeviceID: deviceID,
		Success:  response.Success,
		Message:  response.Message,
	})

	return response
}

// Add registers a device with the given initial properties.
func (m *Manager) Add(device domain.Device, properties map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if properties == nil {
		properties = make(map[string]any)
	}
	d := device
	m.devices[d.ID] = &d
	m.states[d.ID] = &domain.DeviceState{
		Status:     d.Status,
		Properties: properties,
	}
}

// Remove deletes a device and its state. Removing an unknown id is a no-op.
func (m *Manager) Remove(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.devices, deviceID)
	delete(m.states, deviceID)
}

// Get returns a copy of one device.
func (m *Manager) Get(deviceID string) (domain.Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[deviceID]
	if !ok {
		return domain.Device{}, false
	}
	return *d, true
}

// State returns a copy of one device's state.
func (m *Manager) State(deviceID string) (domain.DeviceState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[deviceID]
	if !ok {
		return domain.DeviceState{}, false
	}
	copied := *s
	copied.Properties = make(map[string]any, len(s.Properties))
	for k, v := range s.Properties {
		copied.Properties[k] = v
	}
	return copied, true
}

// List returns a copy of every device.
func (m *Manager) List() []domain.Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, *d)
	}
	return out
}

// Find resolves a device by exact id first, then by substring of the id or
// name. The first substring hit wins.
func (m *Manager) Find(query string) (domain.Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := strings.ToLower(strings.TrimSpace(query))
	if d, ok := m.devices[key]; ok {
		return *d, true
	}

	for _, d := range m.devices {
		if strings.Contains(strings.ToLower(d.ID), key) || strings.Contains(strings.ToLower(d.Name), key) {
			return *d, true
		}
	}

	return domain.Device{}, false
}

// OnlineCount reports how many devices the last discovery pass saw online.
func (m *Manager) OnlineCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, d := range m.devices {
		if d.Status == domain.StatusOnline {
			count++
		}
	}
	return count
}

// SetStatus forces one device's status, refreshing LastSeen when it comes
// online.
func (m *Manager) SetStatus(deviceID string, status domain.DeviceStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[deviceID]; ok {
		d.Status = status
		state := m.states[deviceID]
		state.Status = status
		if status == domain.StatusOnline {
			state.LastSeen = time.Now()
		}
	}
}

// Destroy stops discovery and clears both maps. The manager is unusable
// afterwards; calling Destroy again is a no-op.
func (m *Manager) Destroy() {
	m.destroyOnce.Do(func() {
		m.StopDiscovery()

		m.mu.Lock()
		m.devices = make(map[string]*domain.Device)
		m.states = make(map[string]*domain.DeviceState)
		m.mu.Unlock()

		m.logger.Info("device manager destroyed")
	})
}

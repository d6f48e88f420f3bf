package application

import (
	"context"
	"time"

	"voicehome/internal/domain"
)

type DeviceController interface {
	Control(deviceID string, action domain.Action, parameters map[string]any) *domain.Response
	Find(query string) (domain.Device, bool)
	StartDiscovery(ctx context.Context, interval time.Duration)
	StopDiscovery()
	OnlineCount() int
}

// Listener is the recognition side of the speech stack.
type Listener interface {
	Start(ctx context.Context) error
	Stop()
	IsRecognizing() bool
}

// Speaker is the synthesis side. Speak queues and returns immediately.
type Speaker interface {
	Speak(text, language string, priority int)
	Stop()
	QueueLen() int
}

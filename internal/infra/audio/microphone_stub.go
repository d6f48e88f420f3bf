//go:build !portaudio
// +build !portaudio

// Package audio captures microphone utterances as WAV, for builds that talk
// to a local microphone instead of the browser bridge.
package audio

import (
	"context"
	"fmt"
	"log/slog"
)

// MicrophoneSource stub for builds without the portaudio tag.
type MicrophoneSource struct {
	logger *slog.Logger
}

func NewMicrophoneSource(_ int, logger *slog.Logger) *MicrophoneSource {
	return &MicrophoneSource{logger: logger}
}

func (m *MicrophoneSource) Name() string {
	return "microphone"
}

func (m *MicrophoneSource) Start(_ context.Context) error {
	return fmt.Errorf("microphone source not available: rebuild with -tags portaudio")
}

func (m *MicrophoneSource) Stop() error {
	return nil
}

func (m *MicrophoneSource) NextCommand(_ context.Context) ([]byte, error) {
	return nil, fmt.Errorf("microphone source not available")
}

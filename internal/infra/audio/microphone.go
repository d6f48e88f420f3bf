//go:build portaudio
// +build portaudio

// Package audio captures microphone utterances as WAV, for builds that talk
// to a local microphone instead of the browser bridge.
package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

const (
	framesPerBuffer  = 1024
	silenceThreshold = int16(500)
	maxUtteranceSecs = 10
)

// MicrophoneSource records one utterance per NextCommand call: it captures
// until a second of trailing silence, trims the silence, and returns the
// samples as a WAV file.
type MicrophoneSource struct {
	sampleRate int
	logger     *slog.Logger

	mu     sync.Mutex
	stream *portaudio.Stream
}

func NewMicrophoneSource(sampleRate int, logger *slog.Logger) *MicrophoneSource {
	return &MicrophoneSource{
		sampleRate: sampleRate,
		logger:     logger,
	}
}

func (m *MicrophoneSource) Name() string {
	return "microphone"
}

func (m *MicrophoneSource) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream != nil {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initializing portaudio: %w", err)
	}

	buffer := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.sampleRate), framesPerBuffer, buffer)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("opening stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("starting stream: %w", err)
	}

	m.stream = stream
	m.logger.Info("microphone started", "sampleRate", m.sampleRate)
	return nil
}

func (m *MicrophoneSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream != nil {
		m.stream.Stop()
		m.stream.Close()
		m.stream = nil
	}
	portaudio.Terminate()
	return nil
}

func (m *MicrophoneSource) NextCommand(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	stream := m.stream
	m.mu.Unlock()
	if stream == nil {
		return nil, fmt.Errorf("microphone not started")
	}

	samples := make([]int16, 0, m.sampleRate*5)
	buffer := make([]int16, framesPerBuffer)
	silentSamples := 0

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if err := stream.Read(); err != nil {
			return nil, fmt.Errorf("reading from stream: %w", err)
		}
		samples = append(samples, buffer...)

		if isSilent(buffer) {
			silentSamples += len(buffer)
		} else {
			silentSamples = 0
		}

		// a second of trailing silence ends the utterance, once we have
		// at least a second of audio
		if silentSamples > m.sampleRate && len(samples) > m.sampleRate {
			break
		}
		if len(samples) > m.sampleRate*maxUtteranceSecs {
			break
		}
	}

	trimmed := trimSilence(samples)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("utterance was pure silence")
	}
	return encodeWAV(trimmed, m.sampleRate), nil
}

func isSilent(buffer []int16) bool {
	for _, sample := range buffer {
		if sample > silenceThreshold || sample < -silenceThreshold {
			return false
		}
	}
	return true
}

// trimSilence drops leading and trailing sub-threshold samples so the
// transcriber sees only speech.
func trimSilence(samples []int16) []int16 {
	start := 0
	for start < len(samples) && samples[start] <= silenceThreshold && samples[start] >= -silenceThreshold {
		start++
	}
	end := len(samples)
	for end > start && samples[end-1] <= silenceThreshold && samples[end-1] >= -silenceThreshold {
		end--
	}
	return samples[start:end]
}

// encodeWAV wraps 16-bit mono PCM samples in a RIFF/WAVE header.
func encodeWAV(samples []int16, sampleRate int) []byte {
	var buf bytes.Buffer

	dataSize := len(samples) * 2
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, int32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, int32(16))
	binary.Write(&buf, binary.LittleEndian, int16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, int16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, int32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, int32(sampleRate*2))
	binary.Write(&buf, binary.LittleEndian, int16(2))
	binary.Write(&buf, binary.LittleEndian, int16(16))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, int32(dataSize))
	for _, sample := range samples {
		binary.Write(&buf, binary.LittleEndian, sample)
	}

	return buf.Bytes()
}

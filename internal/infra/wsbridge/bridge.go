// Package wsbridge exposes a browser page's speech capabilities to the
// assistant over a websocket. The page does the actual recognition and
// synthesis; this side speaks a small JSON frame protocol and adapts it to
// the speech engine interfaces.
package wsbridge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voicehome/internal/domain"
	"voicehome/internal/speech"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	sendBuffer  = 64
	eventBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the bridge serves a local page
	},
}

// frame is the wire format in both directions. Unused fields stay empty.
type frame struct {
	Type       string       `json:"type"`
	Transcript string       `json:"transcript,omitempty"`
	Confidence float64      `json:"confidence,omitempty"`
	Final      bool         `json:"final,omitempty"`
	Code       string       `json:"code,omitempty"`
	Voices     []voiceFrame `json:"voices,omitempty"`
	ID         string       `json:"id,omitempty"`
	Text       string       `json:"text,omitempty"`
	Lang       string       `json:"lang,omitempty"`
	Voice      string       `json:"voice,omitempty"`
	Rate       float64      `json:"rate,omitempty"`
	Pitch      float64      `json:"pitch,omitempty"`
	Volume     float64      `json:"volume,omitempty"`
}

type voiceFrame struct {
	Name  string `json:"name"`
	Lang  string `json:"lang"`
	Local bool   `json:"local"`
}

// Bridge is an http.Handler for the speech websocket. It implements both
// speech.RecognitionEngine and speech.SynthesisEngine over a single browser
// session; a second concurrent client is rejected.
type Bridge struct {
	logger *slog.Logger
	events chan speech.EngineEvent

	mu        sync.Mutex
	session   *session
	language  string
	listening bool
	voices    []domain.Voice
	pending   map[string]chan error
}

func New(logger *slog.Logger) *Bridge {
	return &Bridge{
		logger:  logger,
		events:  make(chan speech.EngineEvent, eventBuffer),
		pending: make(map[string]chan error),
	}
}

// ServeHTTP upgrades the connection and runs the session until the client
// disconnects. While one session is live, further clients get 409.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	if b.session != nil {
		b.mu.Unlock()
		http.Error(w, "a speech session is already connected", http.StatusConflict)
		return
	}
	b.mu.Unlock()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Error("websocket upgrade", "error", err)
		return
	}

	s := &session{
		conn: conn,
		send: make(chan frame, sendBuffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	// a client may have won the race between the check and the upgrade
	if b.session != nil {
		b.mu.Unlock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session already connected"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	b.session = s
	resume := b.listening
	language := b.language
	b.mu.Unlock()

	b.logger.Info("browser speech session connected", "remote", r.RemoteAddr)

	go s.writePump(b.logger)
	if resume {
		s.enqueue(frame{Type: "listen", Lang: language})
	}

	b.readLoop(s)
	b.detach(s)
}

// readLoop dispatches client frames until the connection drops.
func (b *Bridge) readLoop(s *session) {
	s.conn.SetReadLimit(512 * 1024)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var f frame
		if err := s.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.Warn("websocket read", "error", err)
			}
			return
		}
		b.handleFrame(f)
	}
}

func (b *Bridge) handleFrame(f frame) {
	switch f.Type {
	case "result":
		if !f.Final {
			return
		}
		b.emit(speech.EngineEvent{
			Kind: speech.EventResult,
			Result: domain.RecognitionResult{
				Command:    f.Transcript,
				Confidence: f.Confidence,
			},
		})
	case "end":
		b.emit(speech.EngineEvent{Kind: speech.EventEnd})
	case "error":
		b.emit(speech.EngineEvent{Kind: speech.EventError, Code: f.Code})
	case "voices":
		voices := make([]domain.Voice, 0, len(f.Voices))
		for _, v := range f.Voices {
			voices = append(voices, domain.Voice{Name: v.Name, Language: v.Lang, Local: v.Local})
		}
		b.mu.Lock()
		b.voices = voices
		b.mu.Unlock()
	case "spoken":
		b.resolveSpeak(f.ID, nil)
	case "speechError":
		b.resolveSpeak(f.ID, fmt.Errorf("synthesis failed: %s", f.Code))
	default:
		b.logger.Warn("unknown frame from browser", "type", f.Type)
	}
}

// detach tears the session down: in-flight speaks fail, and the recognizer
// sees an engine end so its restart logic takes over.
func (b *Bridge) detach(s *session) {
	b.mu.Lock()
	if b.session != s {
		b.mu.Unlock()
		return
	}
	b.session = nil
	wasListening := b.listening
	pending := b.pending
	b.pending = make(map[string]chan error)
	b.mu.Unlock()

	s.close()
	for _, ch := range pending {
		ch <- fmt.Errorf("browser session disconnected")
	}
	if wasListening {
		b.emit(speech.EngineEvent{Kind: speech.EventEnd})
	}
	b.logger.Info("browser speech session disconnected")
}

func (b *Bridge) emit(e speech.EngineEvent) {
	select {
	case b.events <- e:
	default:
		b.logger.Warn("dropping engine event, consumer is behind", "kind", e.Kind)
	}
}

func (b *Bridge) resolveSpeak(id string, err error) {
	b.mu.Lock()
	ch, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	if ok {
		ch <- err
	}
}

// Start asks the browser to begin recognizing. Without a connected session
// there is nothing to start; the caller's restart logic retries later.
func (b *Bridge) Start(_ context.Context) error {
	b.mu.Lock()
	b.listening = true
	s := b.session
	language := b.language
	b.mu.Unlock()

	if s == nil {
		return fmt.Errorf("no browser session connected")
	}
	s.enqueue(frame{Type: "listen", Lang: language})
	return nil
}

// Stop asks the browser to stop recognizing.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	b.listening = false
	s := b.session
	b.mu.Unlock()

	if s != nil {
		s.enqueue(frame{Type: "stopListen"})
	}
	return nil
}

// Events is the recognition event stream, shared across sessions.
func (b *Bridge) Events() <-chan speech.EngineEvent {
	return b.events
}

// SetLanguage takes effect on the next listen frame.
func (b *Bridge) SetLanguage(language string) {
	b.mu.Lock()
	b.language = language
	b.mu.Unlock()
}

// Speak sends one utterance to the browser and blocks until the page reports
// it spoken or failed, the context is cancelled, or the session drops.
func (b *Bridge) Speak(ctx context.Context, u domain.Utterance) error {
	b.mu.Lock()
	s := b.session
	if s == nil {
		b.mu.Unlock()
		return fmt.Errorf("no browser session connected")
	}
	id := uuid.NewString()
	result := make(chan error, 1)
	b.pending[id] = result
	b.mu.Unlock()

	s.enqueue(frame{
		Type:   "speak",
		ID:     id,
		Text:   u.Text,
		Lang:   u.Language,
		Voice:  u.Voice,
		Rate:   u.Rate,
		Pitch:  u.Pitch,
		Volume: u.Volume,
	})

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		b.resolveSpeak(id, nil) // discard, nobody reads it now
		s.enqueue(frame{Type: "cancelSpeech"})
		return ctx.Err()
	}
}

// Voices returns the voice list the page announced on connect.
func (b *Bridge) Voices() []domain.Voice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Voice(nil), b.voices...)
}

// Cancel aborts whatever the page is currently speaking.
func (b *Bridge) Cancel() {
	b.mu.Lock()
	s := b.session
	b.mu.Unlock()
	if s != nil {
		s.enqueue(frame{Type: "cancelSpeech"})
	}
}

// Connected reports whether a browser session is live.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session != nil
}

type session struct {
	conn *websocket.Conn
	send chan frame

	once sync.Once
	done chan struct{}
}

func (s *session) enqueue(f frame) {
	select {
	case s.send <- f:
	case <-s.done:
	}
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *session) writePump(logger *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case <-s.done:
			return
		case f := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(f); err != nil {
				logger.Warn("websocket write", "error", err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

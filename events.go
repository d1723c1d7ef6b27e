package authkeeper

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"
)

// EventType names a session state change.
type EventType string

const (
	EventLogin           EventType = "login"
	EventLoginFailed     EventType = "login_failed"
	EventLogout          EventType = "logged_out"
	EventStateCleared    EventType = "state_cleared"
	EventSessionExpired  EventType = "session_expired"
	EventInitialized     EventType = "initialized"
	EventInitFailed      EventType = "init_failed"
	EventTokenExtended   EventType = "token_extended"
	EventProfileUpdated  EventType = "profile_updated"
	EventRestored        EventType = "restored"
	EventPasswordChanged EventType = "password_changed"
)

// Event describes one state change. Seq increases by one per delivered
// event, so a subscriber that sees a gap knows it missed something.
type Event struct {
	Seq        uint64            `json:"seq"`
	Timestamp  time.Time         `json:"timestamp"`
	Type       EventType         `json:"type"`
	UserID     string            `json:"user_id,omitempty"`
	Username   string            `json:"username,omitempty"`
	Phase      string            `json:"phase"`
	InstanceID string            `json:"instance_id,omitempty"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// EventSink receives events on the bus goroutine, one at a time and in Seq
// order. A slow sink delays subscribers; a panicking one is logged and skipped.
type EventSink interface {
	Emit(ctx context.Context, event Event)
}

type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// SlogSink logs each event. Failed events go out at warn level.
type SlogSink struct {
	Logger *slog.Logger
	Level  slog.Level
}

func (s SlogSink) Emit(ctx context.Context, ev Event) {
	if s.Logger == nil {
		return
	}
	level := s.Level
	if !ev.Success && ev.Error != "" {
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{
		slog.Uint64("seq", ev.Seq),
		slog.String("type", string(ev.Type)),
		slog.String("phase", ev.Phase),
	}
	if ev.Username != "" {
		attrs = append(attrs, slog.String("user", ev.Username))
	}
	if ev.Error != "" {
		attrs = append(attrs, slog.String("error", ev.Error))
	}
	s.Logger.LogAttrs(ctx, level, "authkeeper: session event", attrs...)
}

// JSONWriterSink writes events as JSON lines. The first write error stops
// further output and is kept for Err.
type JSONWriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
	err error
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{enc: json.NewEncoder(w)}
}

func (s *JSONWriterSink) Emit(_ context.Context, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	s.err = s.enc.Encode(ev)
}

func (s *JSONWriterSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/good-listener/backend/platform/internal/contextmgr"
)

// Message is the wire shape for every event kind, a single tagged struct
// following the same pattern as contextmgr.Event itself, generalizing
// internal/server/server.go's separate TranscriptMessage/AutoStartMessage/
// AutoChunkMessage/AutoDoneMessage family into one envelope.
type Message struct {
	Type string `json:"type"`

	Text       string  `json:"text,omitempty"`
	Source     string  `json:"source,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	SequenceID uint64  `json:"sequence_id,omitempty"`

	SourceChanged string `json:"source_changed,omitempty"`
	SourceActive  bool   `json:"source_active,omitempty"`

	OldModel string `json:"old_model,omitempty"`
	NewModel string `json:"new_model,omitempty"`

	ErrSource      string `json:"error_source,omitempty"`
	ErrMessage     string `json:"error_message,omitempty"`
	ErrRecoverable bool   `json:"error_recoverable,omitempty"`

	Status *contextmgr.Status `json:"status,omitempty"`
}

func toMessage(evt contextmgr.Event) Message {
	switch evt.Kind {
	case contextmgr.EventTranscriptionReady:
		return Message{
			Type:       "transcript",
			Text:       evt.Transcription.Transcription.Text,
			Source:     evt.Transcription.Source,
			Confidence: evt.Transcription.Transcription.Confidence,
			SequenceID: evt.Transcription.SequenceID,
		}
	case contextmgr.EventAudioSourceChanged:
		return Message{Type: "source_changed", SourceChanged: evt.SourceChanged, SourceActive: evt.SourceActive}
	case contextmgr.EventModelChanged:
		return Message{Type: "model_changed", OldModel: evt.OldModel, NewModel: evt.NewModel}
	case contextmgr.EventProcessingError:
		return Message{Type: "error", ErrSource: evt.ErrSource, ErrMessage: evt.ErrMessage, ErrRecoverable: evt.ErrRecoverable}
	case contextmgr.EventStatusUpdate:
		return Message{Type: "status", Status: evt.Status}
	default:
		return Message{Type: "unknown"}
	}
}

// Hub broadcasts a contextmgr.Manager's event stream to WebSocket
// subscribers and maintains a short transcript History, grounded on
// server.go's broadcastTranscripts/broadcastAutoAnswers goroutines
// collapsed into a single generic loop.
type Hub struct {
	mgr     *contextmgr.Manager
	history *History

	mu    sync.RWMutex
	conns map[*websocket.Conn]struct{}
}

// NewHub wires a Hub around an already-constructed Manager. Call Run to
// start forwarding events.
func NewHub(mgr *contextmgr.Manager, historySize int) *Hub {
	return &Hub{
		mgr:     mgr,
		history: NewHistory(historySize),
		conns:   make(map[*websocket.Conn]struct{}),
	}
}

// Run subscribes to the manager's event stream and forwards every event to
// all registered connections until ctx is cancelled or the stream closes.
func (h *Hub) Run(ctx context.Context) error {
	events, err := h.mgr.Subscribe()
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if entry, ok := fromEvent(evt); ok {
				h.history.Add(entry.Text, entry.Source)
			}
			h.broadcast(toMessage(evt))
		}
	}
}

func (h *Hub) broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.conns {
		go func(c *websocket.Conn) {
			wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := wsjson.Write(wctx, c, msg); err != nil {
				slog.Debug("eventbus broadcast failed", "error", err)
			}
		}(conn)
	}
}

// Register adds a connection to the broadcast set.
func (h *Hub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

// Unregister removes a connection from the broadcast set.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}

// Recent renders transcript history from the last N seconds.
func (h *Hub) Recent(seconds int) string { return h.history.Recent(seconds) }

// Status returns the manager's current status snapshot.
func (h *Hub) Status() contextmgr.Status { return h.mgr.Status() }

// Manager exposes the underlying context manager for start/stop control.
func (h *Hub) Manager() *contextmgr.Manager { return h.mgr }

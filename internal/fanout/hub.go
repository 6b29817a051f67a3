// Package fanout pushes scan events to every connected listener.
//
// Delivery is fire-and-forget: no acknowledgements, no replay for
// listeners that connect later. Listeners are added when they connect and
// removed only by their own close notification; a broadcast skips any
// listener that reports itself closed.
package fanout

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/logging"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/metrics"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/queue"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/scan"
)

// ErrListenerBusy is returned by listeners that cannot take another message.
var ErrListenerBusy = errors.New("listener busy")

// Message is the wire form pushed to listeners.
type Message struct {
	Type   string      `json:"type"`
	ID     string      `json:"id"`
	Source scan.Source `json:"source"`
}

// NewMessage builds the push message for evt.
func NewMessage(evt scan.Event) Message {
	return Message{Type: "scan", ID: evt.Token, Source: evt.Source}
}

// Listener receives broadcasts until it is closed.
type Listener interface {
	Open() bool
	Send(msg Message) error
}

// Hub tracks connected listeners.
type Hub struct {
	mu        sync.RWMutex
	listeners map[Listener]struct{}

	// sendMu serialises broadcasts so each listener sees them in order.
	sendMu sync.Mutex

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewHub creates an empty hub. Both arguments may be nil.
func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		listeners: make(map[Listener]struct{}),
		logger:    logging.OrDiscard(logger),
		metrics:   m,
	}
}

// Add registers a newly connected listener.
func (h *Hub) Add(l Listener) {
	h.mu.Lock()
	h.listeners[l] = struct{}{}
	n := len(h.listeners)
	h.mu.Unlock()
	h.metrics.SetListeners(n)
}

// Remove drops a listener after it has closed.
func (h *Hub) Remove(l Listener) {
	h.mu.Lock()
	delete(h.listeners, l)
	n := len(h.listeners)
	h.mu.Unlock()
	h.metrics.SetListeners(n)
}

// Len reports the number of registered listeners, open or not.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Broadcast sends evt to every open listener and returns how many accepted it.
// Closed or failing listeners are skipped without error.
func (h *Hub) Broadcast(evt scan.Event) int {
	msg := NewMessage(evt)

	h.mu.RLock()
	snapshot := make([]Listener, 0, len(h.listeners))
	for l := range h.listeners {
		snapshot = append(snapshot, l)
	}
	h.mu.RUnlock()

	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	delivered, skipped := 0, 0
	for _, l := range snapshot {
		if !l.Open() {
			skipped++
			continue
		}
		if err := l.Send(msg); err != nil {
			skipped++
			h.logger.Debug("scan delivery skipped", "error", err)
			continue
		}
		delivered++
	}
	h.metrics.Broadcast(skipped)
	return delivered
}

// Relay broadcasts queued scan events in arrival order until msgs closes or
// ctx ends. Messages that are not scans are logged and dropped.
func Relay(ctx context.Context, msgs <-chan queue.Message, hub *Hub) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			evt, err := msg.Scan()
			if err != nil {
				hub.logger.WarnContext(ctx, "dropping queue message", "type", msg.Type, "error", err)
				continue
			}
			hub.metrics.TokenFramed(string(evt.Source))
			n := hub.Broadcast(evt)
			hub.logger.DebugContext(ctx, "scan broadcast", "source", evt.Source, "listeners", n)
		}
	}
}

package fanout

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

// ChanListener delivers messages to an in-process consumer.
type ChanListener struct {
	ch     chan Message
	closed atomic.Bool
	once   sync.Once
	hub    *Hub
}

// Subscribe registers a channel listener with room for buffer pending messages.
func (h *Hub) Subscribe(buffer int) *ChanListener {
	if buffer <= 0 {
		buffer = 1
	}
	l := &ChanListener{ch: make(chan Message, buffer), hub: h}
	h.Add(l)
	return l
}

// C returns the delivery channel. It is never closed.
func (l *ChanListener) C() <-chan Message { return l.ch }

// Open reports whether Close has not been called.
func (l *ChanListener) Open() bool { return !l.closed.Load() }

// Send enqueues msg without blocking.
func (l *ChanListener) Send(msg Message) error {
	select {
	case l.ch <- msg:
		return nil
	default:
		return ErrListenerBusy
	}
}

// Close stops delivery and unregisters the listener.
func (l *ChanListener) Close() {
	l.once.Do(func() {
		l.closed.Store(true)
		l.hub.Remove(l)
	})
}

// wsListener is one websocket client. Writes happen on its own goroutine so
// a slow client never stalls a broadcast.
type wsListener struct {
	conn   *websocket.Conn
	send   chan Message
	closed atomic.Bool
	once   sync.Once
	done   chan struct{}
}

func (l *wsListener) Open() bool { return !l.closed.Load() }

func (l *wsListener) Send(msg Message) error {
	select {
	case l.send <- msg:
		return nil
	default:
		return ErrListenerBusy
	}
}

func (l *wsListener) close(h *Hub) {
	l.once.Do(func() {
		l.closed.Store(true)
		close(l.done)
		h.Remove(l)
		_ = l.conn.Close()
	})
}

// Upgrader accepts websocket connections. CheckOrigin defaults to allowing
// every origin; callers may replace it.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ServeWS upgrades the request and registers the connection as a listener
// until the client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	l := &wsListener{
		conn: conn,
		send: make(chan Message, sendBuffer),
		done: make(chan struct{}),
	}
	h.Add(l)
	h.logger.Info("scan listener connected", "remote", r.RemoteAddr)

	go l.writePump(h)
	go l.readPump(h)
}

// readPump discards client frames and turns any read error into the close
// notification that removes the listener.
func (l *wsListener) readPump(h *Hub) {
	defer l.close(h)
	l.conn.SetReadLimit(512)
	_ = l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		return l.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := l.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (l *wsListener) writePump(h *Hub) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		l.close(h)
	}()
	for {
		select {
		case <-l.done:
			return
		case msg := <-l.send:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

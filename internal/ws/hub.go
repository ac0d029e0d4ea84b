package ws

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/aflahtk001/hospital-booking-system/internal/events"
	"github.com/aflahtk001/hospital-booking-system/pkg/logging"
)

// sendBuffer bounds the per-connection outbox. A subscriber that falls this
// far behind is dropped rather than allowed to block the queue.
const sendBuffer = 32

// Hub fans queue events out to websocket subscribers. Connections join the
// room of one doctor (?doctor=<id>) or, with no doctor parameter, observe all
// doctors. Delivery is best-effort; per-doctor ordering is preserved by the
// per-connection FIFO channel fed synchronously from Publish.
type Hub struct {
	log      *logging.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	doctorID uuid.UUID // uuid.Nil observes every room
	send     chan events.QueueEvent
}

func NewHub(log *logging.Logger) *Hub {
	if log == nil {
		log = logging.Default()
	}
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// dashboards are served from other origins in dev
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Publish implements events.Publisher. It never blocks and never returns an
// error: slow subscribers are disconnected instead.
func (h *Hub) Publish(ev events.QueueEvent) {
	var stalled []*client

	h.mu.RLock()
	for c := range h.clients {
		if c.doctorID != uuid.Nil && c.doctorID != ev.DoctorID {
			continue
		}
		select {
		case c.send <- ev:
		default:
			stalled = append(stalled, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stalled {
		h.log.Warn("dropping stalled queue subscriber", "doctor_id", c.doctorID.String())
		h.remove(c)
	}
}

// SubscriberCount reports how many connections are registered.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleQueueSocket upgrades the request and streams queue events until the
// peer goes away.
func (h *Hub) HandleQueueSocket(w http.ResponseWriter, r *http.Request) {
	doctorID := uuid.Nil
	if param := r.URL.Query().Get("doctor"); param != "" {
		id, err := uuid.Parse(param)
		if err != nil {
			http.Error(w, "doctor must be a valid UUID", http.StatusBadRequest)
			return
		}
		doctorID = id
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err.Error())
		return
	}

	c := &client{
		doctorID: doctorID,
		send:     make(chan events.QueueEvent, sendBuffer),
	}
	h.add(c)

	go h.writeLoop(conn, c)

	// Subscribers only listen; reads just detect the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
	_ = conn.Close()
}

func (h *Hub) writeLoop(conn *websocket.Conn, c *client) {
	for ev := range c.send {
		if err := conn.WriteJSON(ev); err != nil {
			h.remove(c)
			_ = conn.Close()
			return
		}
	}
	_ = conn.Close()
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

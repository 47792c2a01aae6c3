package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/curbz/yamka/internal/geolocation"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	defaultSendBuffer = 16
	writeWait         = 10 * time.Second
	commandTimeout    = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type inbound struct {
	RequestID int64           `json:"req_id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
}

type result struct {
	RequestID int64  `json:"req_id"`
	Type      string `json:"type"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

type searchResults struct {
	RequestID int64       `json:"req_id"`
	Type      string      `json:"type"`
	Data      []PlaceView `json:"data"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// queue hands v to the writer goroutine. A client that cannot keep up loses
// messages rather than holding up the broadcast.
func (c *client) queue(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Errorf("server: marshal error: %v", err)
		return
	}
	select {
	case c.send <- b:
	case <-c.done:
	default:
		log.Warnf("server: client %s send buffer full, dropping message", c.id)
	}
}

func (c *client) writePump() {
	defer c.close()
	for {
		select {
		case b := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				log.Debugf("server: write error for client %s: %v", c.id, err)
				return
			}
		case <-c.done:
			return
		}
	}
}

type hub struct {
	mu      sync.Mutex
	clients map[string]*client
	buffer  int
}

func newHub(buffer int) *hub {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	return &hub{clients: make(map[string]*client), buffer: buffer}
}

func (h *hub) add(conn *websocket.Conn) *client {
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.buffer),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	return c
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
}

func (h *hub) broadcast(v interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		c.queue(v)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: websocket upgrade error: %v", err)
		return
	}
	c := s.hub.add(conn)
	defer s.hub.remove(c)
	log.Debugf("server: client %s connected", c.id)

	go c.writePump()
	c.queue(s.view())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnf("server: client %s read error: %v", c.id, err)
			} else {
				log.Debugf("server: client %s disconnected", c.id)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		s.processMessage(ctx, c, msg)
	}
}

func (s *Server) processMessage(ctx context.Context, c *client, message []byte) {
	var in inbound
	if err := json.Unmarshal(message, &in); err != nil {
		log.Printf("server: invalid JSON from client %s: %v", c.id, err)
		c.queue(result{Type: "error", Error: "invalid JSON"})
		return
	}

	reply := func(err error) {
		if err != nil {
			c.queue(result{RequestID: in.RequestID, Type: "error", Error: err.Error()})
			return
		}
		c.queue(result{RequestID: in.RequestID, Type: "result", Success: true})
	}
	decode := func(v interface{}) bool {
		if len(in.Data) == 0 {
			return true
		}
		if err := json.Unmarshal(in.Data, v); err != nil {
			reply(err)
			return false
		}
		return true
	}

	switch in.Type {
	case "position":
		var p geolocation.Position
		if !decode(&p) {
			return
		}
		// positions are frequent, only failures are answered
		if err := s.position(p); err != nil {
			reply(err)
		}

	case "position_error":
		var cmd positionErrorCommand
		if !decode(&cmd) {
			return
		}
		s.positionError(cmd)

	case "route":
		var cmd routeCommand
		if !decode(&cmd) {
			return
		}
		// planning waits on the provider, keep reading positions meanwhile
		go func() {
			rctx, cancel := context.WithTimeout(ctx, commandTimeout)
			defer cancel()
			reply(s.planRoute(rctx, cmd))
		}()

	case "search":
		var cmd struct {
			Query string `json:"query"`
		}
		if !decode(&cmd) {
			return
		}
		go func() {
			sctx, cancel := context.WithTimeout(ctx, commandTimeout)
			defer cancel()
			places, err := s.search(sctx, cmd.Query)
			if err != nil {
				reply(err)
				return
			}
			c.queue(searchResults{RequestID: in.RequestID, Type: "search_results", Data: places})
		}()

	case "start":
		reply(s.nav.Start())

	case "cancel":
		reply(s.nav.Cancel())

	case "dismiss_arrival":
		reply(s.nav.DismissArrival())

	case "resume":
		var cmd resumeCommand
		if !decode(&cmd) {
			return
		}
		reply(s.nav.Resume(cmd.Continue))

	case "mute":
		var cmd struct {
			Muted bool `json:"muted"`
		}
		if !decode(&cmd) {
			return
		}
		reply(s.nav.SetMuted(cmd.Muted))

	case "settings":
		var cmd settingsCommand
		if !decode(&cmd) {
			return
		}
		reply(s.settings(cmd))

	default:
		log.Printf("server: received unknown ws type=%q msg=%s", in.Type, string(message))
		c.queue(result{RequestID: in.RequestID, Type: "error", Error: "unknown message type " + in.Type})
	}
}

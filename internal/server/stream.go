package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"z88-quant/internal/analysis/scoring"
	"z88-quant/internal/models"
	"z88-quant/internal/runner"
)

const (
	writeWait      = 2 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 16
)

// BatchEvent is pushed to stream clients when a batch is published.
type BatchEvent struct {
	Type       string          `json:"type"`
	BatchID    string          `json:"batch_id"`
	FinishedAt time.Time       `json:"finished_at"`
	Symbols    int             `json:"symbols"`
	Failures   int             `json:"failures"`
	Setups     []scoring.Setup `json:"setups"`
}

func newBatchEvent(batch *runner.Batch) *BatchEvent {
	setups := batch.Setups()
	if setups == nil {
		setups = []scoring.Setup{}
	}
	return &BatchEvent{
		Type:       "batch",
		BatchID:    batch.ID,
		FinishedAt: batch.FinishedAt,
		Symbols:    len(batch.Results),
		Failures:   len(batch.Failures),
		Setups:     setups,
	}
}

// filter keeps only setups for the given symbols. No symbols keeps everything.
func (e *BatchEvent) filter(symbols map[string]bool) *BatchEvent {
	if len(symbols) == 0 {
		return e
	}
	out := *e
	out.Setups = make([]scoring.Setup, 0, len(e.Setups))
	for _, s := range e.Setups {
		if symbols[s.Symbol] {
			out.Setups = append(out.Setups, s)
		}
	}
	return &out
}

// subscribeCommand narrows the setups a client receives.
type subscribeCommand struct {
	Command string   `json:"command"`
	Symbols []string `json:"symbols"`
}

type streamClient struct {
	hub  *hub
	conn *websocket.Conn
	send chan *BatchEvent

	mu      sync.Mutex
	symbols map[string]bool
}

func (c *streamClient) setSymbols(symbols []string) {
	set := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		if s = models.NormalizeSymbol(s); s != "" {
			set[s] = true
		}
	}
	c.mu.Lock()
	c.symbols = set
	c.mu.Unlock()
}

func (c *streamClient) view(e *BatchEvent) *BatchEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return e.filter(c.symbols)
}

// hub fans batch events out to websocket clients. Slow clients are dropped.
type hub struct {
	logger zerolog.Logger

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	latest  *BatchEvent
	closed  bool
}

func newHub(logger zerolog.Logger) *hub {
	return &hub{
		logger:  logger,
		clients: make(map[*streamClient]struct{}),
	}
}

func (h *hub) register(c *streamClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	if h.latest != nil {
		c.send <- c.view(h.latest)
	}
	return true
}

func (h *hub) unregister(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *hub) broadcast(e *BatchEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = e
	for c := range h.clients {
		select {
		case c.send <- c.view(e):
		default:
			h.logger.Warn().Str("remote", c.conn.RemoteAddr().String()).Msg("Dropping slow stream client")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// close disconnects every client and refuses new ones.
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) getStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}

	client := &streamClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan *BatchEvent, sendBuffer),
	}
	if symbols := c.Query("symbols"); symbols != "" {
		client.setSymbols(strings.Split(symbols, ","))
	}
	if !s.hub.register(client) {
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *streamClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug().Err(err).Msg("Stream client error")
			}
			return
		}
		var cmd subscribeCommand
		if err := json.Unmarshal(message, &cmd); err != nil || cmd.Command != "subscribe" {
			continue
		}
		c.setSymbols(cmd.Symbols)
	}
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

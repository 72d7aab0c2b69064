// Package webapi exposes the supervisor's printers to an external
// frontend: JSON snapshots, paginated response logs, command submission,
// and a WebSocket feed of response-log pushes.
package webapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Gfermoto/Repetier-Server/printer"
	"github.com/Gfermoto/Repetier-Server/supervisor"
)

func marshalEntries(entries []printer.Response) ([]byte, error) {
	return json.Marshal(gin.H{"responses": entries})
}

// Server wires the supervisor's printers to a gin router.
type Server struct {
	sup    *supervisor.Supervisor
	router *gin.Engine
	hub    *hub
}

// New builds a Server and registers its routes. Call Run to serve.
func New(sup *supervisor.Supervisor) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	s := &Server{sup: sup, router: router, hub: newHub()}
	go s.hub.run()
	s.routes()
	return s
}

// Run starts the HTTP server on addr, e.g. ":3344".
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// Router exposes the underlying gin.Engine for tests (httptest.Server).
func (s *Server) Router() *gin.Engine { return s.router }

func (s *Server) routes() {
	s.router.GET("/printers", s.listPrintersHandler)

	printers := s.router.Group("/printers/:slug")
	{
		printers.GET("/snapshot", s.snapshotHandler)
		printers.GET("/responses", s.responsesHandler)
		printers.POST("/manual", s.manualHandler)
		printers.POST("/pause", s.pauseHandler)
	}
	s.router.GET("/ws/:slug", s.websocketHandler)
}

func (s *Server) lookup(c *gin.Context) *printer.FlowController {
	slug := c.Param("slug")
	fc := s.sup.Printer(slug)
	if fc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown printer " + slug})
		return nil
	}
	return fc
}

// listPrintersHandler answers GET /printers with every configured slug
// and whether its transport is currently connected.
func (s *Server) listPrintersHandler(c *gin.Context) {
	slugs := s.sup.Slugs()
	out := make([]gin.H, 0, len(slugs))
	for _, slug := range slugs {
		fc := s.sup.Printer(slug)
		online := fc != nil && fc.Snapshot().Online
		out = append(out, gin.H{"slug": slug, "online": online})
	}
	c.JSON(http.StatusOK, gin.H{"printers": out})
}

func (s *Server) snapshotHandler(c *gin.Context) {
	fc := s.lookup(c)
	if fc == nil {
		return
	}
	c.JSON(http.StatusOK, fc.Snapshot())
}

// responsesHandler answers GET /printers/:slug/responses?since=<cursor>&mask=<bits>,
// the polling form of the response-log query contract; the WebSocket
// handler serves the same data as a push.
func (s *Server) responsesHandler(c *gin.Context) {
	fc := s.lookup(c)
	if fc == nil {
		return
	}

	cursor, _ := strconv.ParseUint(c.DefaultQuery("since", "0"), 10, 32)
	mask, _ := strconv.ParseUint(c.DefaultQuery("mask", "255"), 10, 8)

	entries, newCursor := fc.ResponsesSince(uint32(cursor), uint8(mask))
	c.JSON(http.StatusOK, gin.H{
		"responses": entries,
		"cursor":    newCursor,
	})
}

func (s *Server) manualHandler(c *gin.Context) {
	fc := s.lookup(c)
	if fc == nil {
		return
	}

	var req struct {
		Line string `json:"line" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fc.EnqueueManual(req.Line)
	c.JSON(http.StatusOK, gin.H{"message": "queued"})
}

func (s *Server) pauseHandler(c *gin.Context) {
	fc := s.lookup(c)
	if fc == nil {
		return
	}

	var req struct {
		Paused bool `json:"paused"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fc.Pause(req.Paused)
	c.JSON(http.StatusOK, gin.H{"paused": req.Paused})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocketHandler upgrades to a WebSocket and polls the printer's
// response log every 500ms, pushing any entries newer than the client's
// cursor. There is no teacher precedent for a server-side poll-then-push
// bridge reading a non-channel source, so this loop (rather than a
// broadcast hub fed by the printer itself) is the adaptation here.
func (s *Server) websocketHandler(c *gin.Context) {
	fc := s.lookup(c)
	if fc == nil {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 64), done: make(chan struct{})}
	s.hub.register <- client
	defer func() {
		s.hub.unregister <- client
		client.closeOnce()
	}()

	go client.writePump()
	go pollResponseLog(fc, client)
	client.readPump()
}

// pollResponseLog pushes newly appended response-log entries to client
// every 500ms. It selects on client.done rather than writing to send
// unconditionally, since writePump stops draining send once done is
// closed and a send on the full buffer would then block forever.
func pollResponseLog(fc *printer.FlowController, client *wsClient) {
	var cursor uint32
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-client.done:
			return
		case <-ticker.C:
			entries, newCursor := fc.ResponsesSince(cursor, 0xFF)
			if len(entries) == 0 {
				continue
			}
			cursor = newCursor
			data, err := marshalEntries(entries)
			if err != nil {
				continue
			}
			select {
			case client.send <- data:
			case <-client.done:
				return
			}
		}
	}
}

// hub tracks connected WebSocket clients so a future broadcast source
// (e.g. a shared alert feed) has somewhere to register; today only the
// per-connection poller in websocketHandler writes to a client's send
// channel.
type hub struct {
	mu      sync.Mutex
	clients map[*wsClient]bool

	register   chan *wsClient
	unregister chan *wsClient
}

func newHub() *hub {
	return &hub{
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
	}
}

func (h *hub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			delete(h.clients, c)
			h.mu.Unlock()
		}
	}
}

type wsClient struct {
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	doneOnce sync.Once
}

func (c *wsClient) closeOnce() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *wsClient) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	defer c.conn.Close()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

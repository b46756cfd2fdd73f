package api

import (
	"net/http"
	"sync"
	"time"

	"bonus_system/internal/middleware"
	"bonus_system/internal/model"
	"bonus_system/internal/service"
	"bonus_system/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxClientFrame = 512
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type subscriber struct {
	projectID uuid.UUID
	conn      *websocket.Conn
	send      chan []byte
}

// Hub fans notifications out to the websocket subscribers of their project.
type Hub struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]map[*subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[uuid.UUID]map[*subscriber]struct{}),
	}
}

// Publish never blocks. A subscriber whose buffer is full misses the event.
func (h *Hub) Publish(n model.Notification) {
	data, err := json.Marshal(Message{Type: "notification", Payload: n})
	if err != nil {
		logger.Logger().Error("failed to marshal event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs[n.ProjectID] {
		select {
		case s.send <- data:
		default:
			logger.Logger().Warn("event subscriber is too slow, dropping event",
				zap.String("project_id", n.ProjectID.String()))
		}
	}
}

func (h *Hub) Subscribers(projectID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[projectID])
}

func (h *Hub) add(s *subscriber) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[s.projectID] == nil {
		h.subs[s.projectID] = make(map[*subscriber]struct{})
	}
	h.subs[s.projectID][s] = struct{}{}
	return len(h.subs[s.projectID])
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(s)
}

func (h *Hub) drop(s *subscriber) {
	subs := h.subs[s.projectID]
	if _, ok := subs[s]; !ok {
		return
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(h.subs, s.projectID)
	}
	close(s.send)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, subs := range h.subs {
		for s := range subs {
			h.drop(s)
		}
	}
}

func (h *Hub) writeLoop(s *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Logger().Info("failed to send event", zap.Error(err))
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

// readLoop only watches for the client going away.
func (h *Hub) readLoop(s *subscriber) {
	defer func() {
		h.remove(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxClientFrame)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Logger().Info("event subscriber closed unexpectedly", zap.Error(err))
			}
			return
		}
	}
}

type eventRoutes struct {
	hub *Hub
	ps  service.ProjectServiceI
}

func NewEventRoutes(handler *gin.RouterGroup, hub *Hub, ps service.ProjectServiceI, a *middleware.Authorization) {
	r := &eventRoutes{hub: hub, ps: ps}
	h := handler.Group("/projects")
	h.Use(a.AdminOnly())
	h.GET("/:id/events", r.Subscribe)
}

func (r *eventRoutes) Subscribe(c *gin.Context) {
	log := logger.Logger()

	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if _, err := r.ps.GetProject(c.Request.Context(), id); err != nil {
		writeError(c, "failed to get project for event feed", err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Info("websocket upgrade failed", zap.Error(err))
		return
	}

	s := &subscriber{
		projectID: id,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
	}
	n := r.hub.add(s)
	log.Info("event subscriber connected",
		zap.String("project_id", id.String()),
		zap.Int("subscribers", n))

	go r.hub.writeLoop(s)
	go r.hub.readLoop(s)
}

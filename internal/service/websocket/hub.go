package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"roadsafety/internal/alert"
	"roadsafety/internal/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

// AlertMessage is the JSON pushed to clients when a camera's alert changes.
type AlertMessage struct {
	Camera int       `json:"camera"`
	Alert  string    `json:"alert"`
	Time   time.Time `json:"time"`
}

type HubService struct {
	clients    map[*websocket.Conn]uuid.UUID
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logger.Logger
}

func NewHubService(logger *logger.Logger) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]uuid.UUID),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves register, unregister and broadcast requests until ctx is done,
// then closes every client connection.
func (h *HubService) Run(ctx context.Context) error {
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return nil

		case client := <-h.register:
			id := uuid.New()
			h.mutex.Lock()
			h.clients[client] = id
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Client %s connected. Total: %d", id, count)

		case client := <-h.unregister:
			h.mutex.Lock()
			id, ok := h.clients[client]
			if ok {
				delete(h.clients, client)
				client.Close()
			}
			count := len(h.clients)
			h.mutex.Unlock()
			if ok {
				h.logger.Info("Client %s disconnected. Total: %d", id, count)
			}

		case message := <-h.broadcast:
			h.send(message)
		}
	}
}

func (h *HubService) send(message []byte) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for client, id := range h.clients {
		client.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
			h.logger.Error("Error sending message to %s: %v", id, err)
			delete(h.clients, client)
			client.Close()
		}
	}
}

func (h *HubService) closeAll() {
	close(h.done)

	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		client.Close()
		delete(h.clients, client)
	}
}

// Register adds a client. After Run has returned the connection is closed instead.
func (h *HubService) Register(client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues message for every client. It never blocks once Run has returned.
func (h *HubService) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// ForwardAlerts broadcasts every change published on board until ctx is done.
func (h *HubService) ForwardAlerts(ctx context.Context, board *alert.Board) error {
	id, events := board.Subscribe()
	defer board.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			message, err := json.Marshal(AlertMessage{
				Camera: event.Camera,
				Alert:  event.Text,
				Time:   event.UpdatedAt,
			})
			if err != nil {
				h.logger.Error("Failed to encode alert event: %v", err)
				continue
			}
			h.Broadcast(message)
		}
	}
}

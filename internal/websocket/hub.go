package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/makeasinger/studio/internal/model"
)

const (
	sendBuffer   = 256
	pingInterval = 30 * time.Second
)

// Client is one socket subscribed to a generation job
type Client struct {
	JobID string
	Conn  *websocket.Conn
	Send  chan []byte
}

type broadcastMessage struct {
	jobID   string
	payload []byte
}

// Hub fans generation progress out to the sockets watching each job
type Hub struct {
	clients    map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastMessage

	mu sync.RWMutex
}

// NewHub creates a new Hub. Call Run before broadcasting.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastMessage, sendBuffer),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]bool)
			}
			h.clients[client.JobID][client] = true
			h.mu.Unlock()
			log.Printf("[Hub] Client registered for job %s", client.JobID)

		case client := <-h.unregister:
			h.mu.Lock()
			h.drop(client)
			h.mu.Unlock()
			log.Printf("[Hub] Client unregistered from job %s", client.JobID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients[msg.jobID] {
				select {
				case client.Send <- msg.payload:
				default:
					log.Printf("[Hub] Slow client on job %s, update skipped", msg.jobID)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// drop removes a client and closes its send channel. Only the
// unregister path calls it, after the reader has stopped. Caller holds mu.
func (h *Hub) drop(client *Client) {
	clients, ok := h.clients[client.JobID]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.clients, client.JobID)
	}
}

// Subscribers returns the number of sockets watching jobID
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[jobID])
}

// BroadcastProgress sends a progress update to all job subscribers
func (h *Hub) BroadcastProgress(jobID string, progress int, status model.JobStatus, step string) {
	h.publish(jobID, model.WSProgressMessage{
		Type:        model.WSMessageTypeProgress,
		JobID:       jobID,
		Progress:    progress,
		Status:      status,
		CurrentStep: step,
	})
}

// BroadcastComplete sends the finished generation to all job subscribers
func (h *Hub) BroadcastComplete(jobID string, result *model.GenerateResultResponse) {
	h.publish(jobID, model.WSCompleteMessage{
		Type:   model.WSMessageTypeComplete,
		JobID:  jobID,
		Result: result,
	})
}

// BroadcastError reports a failed generation and whether its credits were
// returned
func (h *Hub) BroadcastError(jobID, code, message string, refunded bool) {
	h.publish(jobID, model.WSErrorMessage{
		Type:     model.WSMessageTypeError,
		JobID:    jobID,
		Error:    model.WSError{Code: code, Message: message},
		Refunded: refunded,
	})
}

func (h *Hub) publish(jobID string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[Hub] Failed to marshal message for job %s: %v", jobID, err)
		return
	}

	select {
	case h.broadcast <- broadcastMessage{jobID: jobID, payload: data}:
	default:
		log.Printf("[Hub] Broadcast queue full, dropping update for job %s", jobID)
	}
}

// HandleConnection serves one socket until the peer goes away
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string) {
	client := &Client{
		JobID: jobID,
		Conn:  c,
		Send:  make(chan []byte, sendBuffer),
	}

	h.register <- client
	defer func() { h.unregister <- client }()

	go writePump(client)

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[Hub] WebSocket error on job %s: %v", jobID, err)
			}
			return
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == model.WSMessageTypePing {
			pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			select {
			case client.Send <- pong:
			default:
			}
		}
	}
}

func writePump(client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.Send:
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

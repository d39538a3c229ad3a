package api

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// Hub pushes state snapshots to every connected kiosk screen. Snapshots queued
// while a write is in progress collapse into the newest one.
type Hub struct {
	clients map[*websocket.Conn]bool
	mutex   sync.RWMutex

	pendingMu sync.Mutex
	pending   []byte
	wake      chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
		wake:    make(chan struct{}, 1),
	}
}

// Run forwards broadcast messages until ctx is done
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-h.wake:
			msg := h.takePending()
			if msg == nil {
				continue
			}
			for _, client := range h.snapshotClients() {
				client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(websocket.TextMessage, msg); err != nil {
					h.RemoveClient(client)
				}
			}
		}
	}
}

func (h *Hub) snapshotClients() []*websocket.Conn {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

func (h *Hub) AddClient(conn *websocket.Conn) {
	h.mutex.Lock()
	h.clients[conn] = true
	h.mutex.Unlock()
}

func (h *Hub) RemoveClient(conn *websocket.Conn) {
	h.mutex.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	h.mutex.Unlock()
}

// BroadcastMessage queues a message for every client, replacing one that was not sent yet
func (h *Hub) BroadcastMessage(message []byte) {
	h.pendingMu.Lock()
	h.pending = message
	h.pendingMu.Unlock()
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *Hub) takePending() []byte {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	msg := h.pending
	h.pending = nil
	return msg
}

func (h *Hub) GetClientsCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	for c := range h.clients {
		c.Close()
		delete(h.clients, c)
	}
	h.mutex.Unlock()
}

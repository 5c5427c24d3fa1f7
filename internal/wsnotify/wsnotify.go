package wsnotify

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"zapdesk/internal/models"
)

// WebSocketManager broadcasts domain events to subscribed frontend clients.
// Clients join rooms ("status:open", "ticket:42", "sector:3"); events are
// delivered to every client in any of the event's rooms.
type WebSocketManager struct {
	clients map[*websocket.Conn]map[string]bool
	lock    sync.RWMutex
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func Upgrader() *websocket.Upgrader {
	return &upgrader
}

var Manager = &WebSocketManager{
	clients: make(map[*websocket.Conn]map[string]bool),
}

func (m *WebSocketManager) AddClient(conn *websocket.Conn) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.clients[conn] = make(map[string]bool)
}

func (m *WebSocketManager) RemoveClient(conn *websocket.Conn) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.clients, conn)
}

func (m *WebSocketManager) JoinRoom(conn *websocket.Conn, room string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if rooms, ok := m.clients[conn]; ok {
		rooms[room] = true
	}
}

func (m *WebSocketManager) LeaveRoom(conn *websocket.Conn, room string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if rooms, ok := m.clients[conn]; ok {
		delete(rooms, room)
	}
}

// Broadcast sends the event to every client subscribed to at least one of
// the given rooms. Write failures drop the client.
func (m *WebSocketManager) Broadcast(rooms []string, event interface{}) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	for client, joined := range m.clients {
		if !inAny(joined, rooms) {
			continue
		}
		client.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := client.WriteJSON(event); err != nil {
			client.Close()
			go m.RemoveClient(client)
		}
	}
}

func inAny(joined map[string]bool, rooms []string) bool {
	for _, r := range rooms {
		if joined[r] {
			return true
		}
	}
	return false
}

type Event struct {
	Type    string      `json:"type"`
	Action  string      `json:"action,omitempty"`
	Payload interface{} `json:"payload"`
}

// Notifier is the slice of the manager the services need; split out so tests
// can capture events.
type Notifier interface {
	TicketEvent(action string, ticket *models.Ticket)
	MessageEvent(action string, message *models.Message)
}

func (m *WebSocketManager) TicketEvent(action string, ticket *models.Ticket) {
	rooms := []string{
		"status:" + ticket.Status,
		roomTicket(ticket.ID),
		roomSector(ticket.SectorID),
	}
	m.Broadcast(rooms, Event{Type: "ticket", Action: action, Payload: ticket})
}

func (m *WebSocketManager) MessageEvent(action string, message *models.Message) {
	rooms := []string{
		roomTicket(message.TicketID),
		roomSector(message.SectorID),
	}
	m.Broadcast(rooms, Event{Type: "message", Action: action, Payload: message})
}

func roomTicket(id int) string {
	return "ticket:" + strconv.Itoa(id)
}

func roomSector(id int) string {
	return "sector:" + strconv.Itoa(id)
}

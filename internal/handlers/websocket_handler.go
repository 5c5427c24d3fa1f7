package handlers

import (
	"encoding/json"
	"net/http"

	"zapdesk/internal/wsnotify"
)

// wsCommand is what the frontend sends over the socket to manage its room
// subscriptions.
type wsCommand struct {
	Action string `json:"action"`
	Room   string `json:"room"`
}

// WebSocketHandler upgrades the connection and serves join/leave commands
// until the client goes away. Rooms look like "sector:3", "ticket:42" or
// "status:open".
func WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := wsnotify.Upgrader().Upgrade(w, r, nil)
	if err != nil {
		return
	}
	wsnotify.Manager.AddClient(conn)
	defer func() {
		wsnotify.Manager.RemoveClient(conn)
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil || cmd.Room == "" {
			continue
		}
		switch cmd.Action {
		case "join":
			wsnotify.Manager.JoinRoom(conn, cmd.Room)
		case "leave":
			wsnotify.Manager.LeaveRoom(conn, cmd.Room)
		}
	}
}

// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the built-in test page.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
)

// errBadPath is returned for non-numeric or non-positive route IDs.
var errBadPath = errors.New("room_id and user_id must be positive integers")

func (r *Relay) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     r.checkOrigin,
	}
}

func (r *Relay) checkOrigin(req *http.Request) bool {
	if r.origins.allows(req) {
		return true
	}
	r.logger.Warn("blocked WebSocket connection from disallowed origin", "origin", req.Header.Get("Origin"))
	return false
}

func parseSessionPath(req *http.Request) (roomID, userID int64, err error) {
	roomID, err = strconv.ParseInt(req.PathValue("room_id"), 10, 64)
	if err != nil || roomID <= 0 {
		return 0, 0, errBadPath
	}
	userID, err = strconv.ParseInt(req.PathValue("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		return 0, 0, errBadPath
	}
	return roomID, userID, nil
}

// ServeWS handles GET /ws/{room_id}/{user_id}. The pair is checked against the
// membership collaborator before the upgrade; once upgraded the connection is
// bound to a Session and served until it closes.
func (r *Relay) ServeWS(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	roomID, userID, err := parseSessionPath(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if r.members != nil {
		ok, err := r.members.IsMember(req.Context(), userID, roomID)
		if err != nil {
			r.logger.Error("membership check failed", "user_id", userID, "room_id", roomID, "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	conn, err := r.upgrader().Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, req.RemoteAddr, r.cfg, r.logger)
	session := r.Accept(client, userID, roomID)
	if !r.serve(client, session) {
		session.Close()
		_ = client.Close()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
	}
}

// HealthHandler reports that the relay is up along with live counters.
func (r *Relay) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	body := map[string]any{
		"status":  "ok",
		"clients": r.Clients(),
		"rooms":   r.rooms.Rooms(),
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		r.logger.Warn("error writing health response", "error", err)
	}
}

// RootHandler provides a simple liveness endpoint that returns plain text.
func RootHandler(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" {
		http.NotFound(w, req)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "roomrelay server is running!")
}

// TestPageHandler serves an HTML page for trying a room from the browser.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprint(w, testPage)
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>roomrelay test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; margin: 10px 0; }
        input[type="number"] { width: 80px; }
        input[type="text"] { width: 300px; }
    </style>
</head>
<body>
    <h1>roomrelay test</h1>
    <div>
        Room <input type="number" id="room" value="1" min="1">
        User <input type="number" id="user" value="1" min="1">
        <button id="connect" onclick="toggle()">Connect</button>
    </div>
    <div>
        <input type="text" id="input" placeholder="Type a message..." disabled>
        <button id="send" onclick="send()" disabled>Send</button>
    </div>
    <div id="messages"></div>
    <script>
        let ws = null;
        const messages = document.getElementById('messages');
        const input = document.getElementById('input');

        function add(text) {
            const el = document.createElement('div');
            el.textContent = text;
            messages.appendChild(el);
            messages.scrollTop = messages.scrollHeight;
        }

        function setConnected(on) {
            input.disabled = !on;
            document.getElementById('send').disabled = !on;
            document.getElementById('connect').textContent = on ? 'Disconnect' : 'Connect';
        }

        function toggle() {
            if (ws) { ws.close(); return; }
            const room = document.getElementById('room').value;
            const user = document.getElementById('user').value;
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws/' + room + '/' + user);
            ws.onopen = () => setConnected(true);
            ws.onmessage = (e) => add(e.data);
            ws.onclose = () => { add('-- disconnected --'); setConnected(false); ws = null; };
        }

        function send() {
            const text = input.value;
            if (text && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(text);
                add('You: ' + text);
                input.value = '';
            }
        }

        input.addEventListener('keypress', (e) => { if (e.key === 'Enter') send(); });
    </script>
</body>
</html>`

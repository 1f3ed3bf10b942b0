package game

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ClientConn is one websocket subscriber to a game's state stream.
type ClientConn struct {
	ws   *websocket.Conn
	send chan []byte

	closeOnce sync.Once
}

func (c *ClientConn) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

// Subscribe registers the connection and immediately pushes the current
// state to it.
func (g *Game) Subscribe(cc *ClientConn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subs[cc] = struct{}{}
	g.sendToLocked(cc)
}

func (g *Game) Unsubscribe(cc *ClientConn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.subs, cc)
}

func (g *Game) broadcastStateLocked() {
	if len(g.subs) == 0 {
		return
	}
	for cc := range g.subs {
		g.sendToLocked(cc)
	}
}

func (g *Game) sendToLocked(cc *ClientConn) {
	env := Envelope{Type: "state", Payload: mustJSON(g.stateLocked())}
	b, _ := json.Marshal(env)
	select {
	case cc.send <- b:
	default:
		// slow reader, drop the frame; the next state push catches up
	}
}

// handleWS streams game state to a client: GET /ws/match?matchId=xxx
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	matchID := r.URL.Query().Get("matchId")
	if matchID == "" {
		http.Error(w, "missing matchId", http.StatusBadRequest)
		return
	}

	g, ok, err := s.games.GetOrLoad(r.Context(), matchID)
	if err != nil {
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "match not found", http.StatusNotFound)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	cc := &ClientConn{
		ws:   ws,
		send: make(chan []byte, 64),
	}
	g.Subscribe(cc)

	// writer loop
	go func() {
		ticker := time.NewTicker(25 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case msg, ok := <-cc.send:
				if !ok {
					return
				}
				_ = ws.WriteMessage(websocket.TextMessage, msg)
			case <-ticker.C:
				_ = ws.WriteMessage(websocket.PingMessage, []byte{})
			}
		}
	}()

	// the stream is push-only; drain reads until the peer goes away
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}

	g.Unsubscribe(cc)
	cc.Close()
}

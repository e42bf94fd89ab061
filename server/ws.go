package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/veloxity343/ft-transcendence-sub001/ponggame"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients connect from the game origin; the reverse proxy in
	// front of this service enforces the origin policy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades one HTTP request to a player connection. Identity
// comes from query parameters; an absent playerId gets a generated one
// so anonymous quick-play works.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	id := ponggame.PlayerID(r.URL.Query().Get("playerId"))
	if id == "" {
		anon, err := gonanoid.New(12)
		if err != nil {
			http.Error(w, "id generation failed", http.StatusInternalServerError)
			return
		}
		id = ponggame.PlayerID("anon-" + anon)
	}
	nick := r.URL.Query().Get("nick")
	if nick == "" {
		nick = string(id)
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("upgrade failed for %s: %v", id, err)
		return
	}

	c := s.Register(id, nick)
	go s.writeLoop(c, conn)
	s.readLoop(c, conn)
}

// readLoop decodes inbound envelopes until the connection drops, then
// starts the reconnect grace window via Unregister.
func (s *Server) readLoop(c *Client, conn *websocket.Conn) {
	defer func() {
		s.Unregister(c)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debugf("client %s read error: %v", c.ID, err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			s.sendError(c, "", ponggame.NewError(ponggame.KindInvalidState, "malformed envelope: %v", err))
			continue
		}
		s.HandleCommand(c, env)
	}
}

// writeLoop drains the client's outbox onto the socket and keeps the
// connection alive with pings. Exits when the client is displaced or the
// write side fails.
func (s *Server) writeLoop(c *Client, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case env := <-c.out:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "replaced"))
			return
		}
	}
}

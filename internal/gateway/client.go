package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Client is one websocket connection. Reads and writes run on dedicated
// pumps; the hub only ever touches the buffered send channel.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	log  *logrus.Entry

	mu       sync.Mutex
	agentID  string // set after auth:agent succeeds
	rooms    map[string]bool
	lastSeen time.Time
	closed   bool // send has been closed; no further enqueues
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	id := uuid.New().String()
	return &Client{
		id:       id,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 64),
		log:      hub.log.WithField("client", id),
		rooms:    make(map[string]bool),
		lastSeen: time.Now(),
	}
}

// AgentID returns the authenticated agent id, empty when unauthenticated.
func (c *Client) AgentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentID
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *Client) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// enqueue drops the message when the client's buffer is full. A slow reader
// must never stall fan-out to the rest of the room. The closed flag is
// checked under the same lock closeSend takes, so a broadcast racing a
// disconnect can never send on the closed channel.
func (c *Client) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		messagesDropped.Inc()
		return
	}
	select {
	case c.send <- data:
		messagesSent.Inc()
	default:
		messagesDropped.Inc()
	}
}

// closeSend closes the send channel exactly once and fences out any
// concurrent enqueue.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) sendMessage(msg *ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.WithError(err).Warn("Failed to marshal server message")
		return
	}
	c.enqueue(data)
}

func (c *Client) sendError(text string) {
	c.sendMessage(&ServerMessage{Type: MsgError, Error: text})
}

// readPump consumes client frames until the connection drops. Pongs extend
// the read deadline; a missed pong closes the connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	cfg := c.hub.cfg
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Debug("Websocket read failed")
			}
			return
		}
		c.touch()

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("malformed message")
			continue
		}
		c.handle(&msg)
	}
}

// writePump flushes the send channel and keeps the connection alive with
// periodic pings.
func (c *Client) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handle(msg *ClientMessage) {
	switch msg.Type {
	case MsgAuthAgent:
		c.handleAuth(msg.Token)
	case MsgSubscribeQuestion:
		if msg.QuestionID == "" {
			c.sendError("question_id is required")
			return
		}
		c.hub.join(c, QuestionRoom(msg.QuestionID))
		c.sendMessage(&ServerMessage{Type: MsgSubscribed, Room: QuestionRoom(msg.QuestionID)})
	case MsgUnsubscribeQuestion:
		if msg.QuestionID == "" {
			c.sendError("question_id is required")
			return
		}
		c.hub.leave(c, QuestionRoom(msg.QuestionID))
	case MsgSubscribeAgent:
		c.handleSubscribeAgent(msg.AgentID)
	case MsgSubscribeLeaderboard:
		c.hub.join(c, RoomLeaderboard)
		c.sendMessage(&ServerMessage{Type: MsgSubscribed, Room: RoomLeaderboard})
	case MsgSubscribeGlobal:
		c.hub.join(c, RoomGlobal)
		c.sendMessage(&ServerMessage{Type: MsgSubscribed, Room: RoomGlobal})
	case MsgAnswerSubmit:
		c.handleAnswerSubmit(msg.Payload)
	default:
		c.sendError("unknown message type: " + msg.Type)
	}
}

func (c *Client) handleAuth(token string) {
	agentID, err := verifyAgentToken(c.hub.jwtSecret, token)
	if err != nil {
		c.log.WithError(err).Debug("Agent auth rejected")
		c.sendMessage(&ServerMessage{Type: MsgAuthFailed, Error: "authentication failed"})
		return
	}
	c.mu.Lock()
	c.agentID = agentID
	c.mu.Unlock()
	c.sendMessage(&ServerMessage{Type: MsgAuthSuccess, Data: map[string]string{"agent_id": agentID}})
}

// handleSubscribeAgent admits a client to an agent room only when its
// authenticated subject matches the requested agent.
func (c *Client) handleSubscribeAgent(agentID string) {
	if agentID == "" {
		c.sendError("agent_id is required")
		return
	}
	if c.AgentID() != agentID {
		c.sendMessage(&ServerMessage{Type: MsgAuthFailed, Error: "not authenticated for agent room"})
		return
	}
	c.hub.join(c, AgentRoom(agentID))
	c.sendMessage(&ServerMessage{Type: MsgSubscribed, Room: AgentRoom(agentID)})
}

func (c *Client) handleAnswerSubmit(payload json.RawMessage) {
	if c.hub.submit == nil {
		c.sendError("answer submission is not available")
		return
	}
	var req SubmitAnswerRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError("malformed answer payload")
		return
	}
	if agentID := c.AgentID(); agentID != "" {
		req.AgentID = agentID
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.hub.submit(ctx, req); err != nil {
		c.sendError(err.Error())
	}
}

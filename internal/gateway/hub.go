// Package gateway fans swarm events out to websocket subscribers. Clients
// join rooms (per question, per agent, leaderboard, global); high-frequency
// updates are coalesced into short batch windows while consensus outcomes
// bypass batching and deliver immediately.
package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dev.swarm.consensus/internal/config"
	"dev.swarm.consensus/internal/events"
)

// SubmitFunc is the answer:submit passthrough into the service layer.
type SubmitFunc func(ctx context.Context, req SubmitAnswerRequest) error

// Stats is a point-in-time view of gateway load.
type Stats struct {
	ActiveConnections int     `json:"active_connections"`
	AuthedConnections int     `json:"authed_connections"`
	Rooms             int     `json:"rooms"`
	MessagesPerSecond float64 `json:"messages_per_second"`
}

// Hub owns all websocket clients and their room membership.
type Hub struct {
	cfg       config.GatewayConfig
	jwtSecret string
	bus       events.Bus
	submit    SubmitFunc
	log       *logrus.Logger

	mu      sync.RWMutex
	clients map[*Client]bool
	rooms   map[string]map[*Client]bool
	byRoom  map[*Client]map[string]bool // reverse index for unregister

	batch *batcher

	statsMu   sync.Mutex
	sentTotal int64
	statsAt   time.Time
	statsSent int64

	unsubscribe func()
	closeOnce   sync.Once
}

// NewHub wires a hub to the event bus. submit may be nil when answer
// passthrough is disabled.
func NewHub(cfg config.GatewayConfig, security config.SecurityConfig, bus events.Bus, submit SubmitFunc, log *logrus.Logger) *Hub {
	if log == nil {
		log = logrus.New()
	}
	h := &Hub{
		cfg:       cfg,
		jwtSecret: security.JWTSecret,
		bus:       bus,
		submit:    submit,
		log:       log,
		clients:   make(map[*Client]bool),
		rooms:     make(map[string]map[*Client]bool),
		byRoom:    make(map[*Client]map[string]bool),
		statsAt:   time.Now(),
	}
	h.batch = newBatcher(cfg.BatchWindow, h.broadcastRoom)
	return h
}

// Start subscribes to the event bus and launches the stale-client janitor.
func (h *Hub) Start(ctx context.Context) error {
	unsub, err := h.bus.Subscribe(events.Topic, h.dispatch)
	if err != nil {
		return err
	}
	h.unsubscribe = unsub

	go h.janitor(ctx)
	h.log.Info("Websocket gateway started")
	return nil
}

// Shutdown notifies all clients and closes their connections.
func (h *Hub) Shutdown() {
	h.closeOnce.Do(func() {
		if h.unsubscribe != nil {
			h.unsubscribe()
		}
		h.batch.Close()

		notice, _ := json.Marshal(&ServerMessage{Type: MsgServerShutdown})
		h.mu.Lock()
		for c := range h.clients {
			c.enqueue(notice)
			c.closeSend()
			delete(h.clients, c)
		}
		h.rooms = make(map[string]map[*Client]bool)
		h.byRoom = make(map[*Client]map[string]bool)
		h.mu.Unlock()

		h.log.Info("Websocket gateway stopped")
	})
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	connectionsGauge.Set(float64(n))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for room := range h.byRoom[c] {
		h.leaveLocked(c, room)
	}
	delete(h.byRoom, c)
	n := len(h.clients)
	h.mu.Unlock()

	c.closeSend()
	connectionsGauge.Set(float64(n))
}

func (h *Hub) join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][c] = true
	if h.byRoom[c] == nil {
		h.byRoom[c] = make(map[string]bool)
	}
	h.byRoom[c][room] = true
	roomsGauge.Set(float64(len(h.rooms)))
}

func (h *Hub) leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
	delete(h.byRoom[c], room)
}

func (h *Hub) leaveLocked(c *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	roomsGauge.Set(float64(len(h.rooms)))
}

// broadcastRoom marshals once and fans out to every room member.
func (h *Hub) broadcastRoom(room string, msg *ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.WithError(err).Warn("Failed to marshal broadcast")
		return
	}

	h.mu.RLock()
	members := h.rooms[room]
	targets := make([]*Client, 0, len(members))
	for c := range members {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(data)
	}
	h.countSent(int64(len(targets)))
}

// dispatch routes one bus event to rooms. Consensus outcomes and failures
// bypass the batcher and deliver to the question room and the global room
// immediately; everything else is coalesced.
func (h *Hub) dispatch(e *events.Envelope) {
	switch e.Type {
	case events.TypeConsensusCalculated:
		msg := &ServerMessage{Type: MsgConsensusReached, Data: e.Payload}
		h.broadcastRoom(QuestionRoom(e.QuestionID), msg)
		h.broadcastRoom(RoomGlobal, msg)

	case events.TypeConsensusFailed:
		msg := &ServerMessage{Type: MsgConsensusFailed, Data: e.Payload}
		h.broadcastRoom(QuestionRoom(e.QuestionID), msg)
		h.broadcastRoom(RoomGlobal, msg)

	case events.TypeAnswerSubmitted:
		var p events.AnswerSubmittedPayload
		if err := e.Decode(&p); err != nil {
			return
		}
		h.batch.Add(QuestionRoom(e.QuestionID), MsgAnswerSubmitted, p.AnswerID, p)

	case events.TypeQuestionCreated:
		var p events.QuestionCreatedPayload
		if err := e.Decode(&p); err != nil {
			return
		}
		h.batch.Add(RoomGlobal, MsgQuestionNew, p.QuestionID, p)

	case events.TypeReputationUpdated:
		var p events.ReputationUpdatedPayload
		if err := e.Decode(&p); err != nil {
			return
		}
		h.batch.Add(AgentRoom(e.AgentID), MsgReputationUpdated, p.AgentID, p)

	case events.TypeLeaderboardUpdated:
		var p events.LeaderboardUpdatedPayload
		if err := e.Decode(&p); err != nil {
			return
		}
		// One leaderboard; latest state wins within a window.
		h.batch.Add(RoomLeaderboard, MsgLeaderboardUpdate, "global", p)
	}
}

// janitor evicts clients that have gone silent past the stale TTL. The pong
// deadline catches dead TCP paths; this catches connections that pong but
// never interact.
func (h *Hub) janitor(ctx context.Context) {
	if h.cfg.StaleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(h.cfg.StaleTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-h.cfg.StaleTTL)
			h.mu.RLock()
			stale := make([]*Client, 0)
			for c := range h.clients {
				if c.idleSince().Before(cutoff) && len(h.byRoom[c]) == 0 {
					stale = append(stale, c)
				}
			}
			h.mu.RUnlock()

			for _, c := range stale {
				h.log.WithField("client", c.id).Debug("Evicting stale client")
				c.conn.Close()
			}
		}
	}
}

func (h *Hub) countSent(n int64) {
	h.statsMu.Lock()
	h.sentTotal += n
	h.statsMu.Unlock()
}

// Stats reports load counters. The message rate is averaged since the
// previous Stats call.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	active := len(h.clients)
	authed := 0
	for c := range h.clients {
		if c.AgentID() != "" {
			authed++
		}
	}
	rooms := len(h.rooms)
	h.mu.RUnlock()

	h.statsMu.Lock()
	now := time.Now()
	elapsed := now.Sub(h.statsAt).Seconds()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(h.sentTotal-h.statsSent) / elapsed
	}
	h.statsAt = now
	h.statsSent = h.sentTotal
	h.statsMu.Unlock()

	return Stats{
		ActiveConnections: active,
		AuthedConnections: authed,
		Rooms:             rooms,
		MessagesPerSecond: rate,
	}
}

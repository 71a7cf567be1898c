// Package events defines the swarm event bus port: fire-and-forget pub/sub
// on the swarm:events topic, with in-process and Redis transports.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Topic is the single logical topic all swarm events travel on.
const Topic = "swarm:events"

// Type identifies the kind of event carried by an envelope.
type Type string

// Event types published by the engine and consumed by the gateway.
const (
	TypeAnswerSubmitted     Type = "answer:submitted"
	TypeConsensusCalculated Type = "consensus:calculated"
	TypeConsensusFailed     Type = "consensus:failed"
	TypeQuestionCreated     Type = "question:created"
	TypeLeaderboardUpdated  Type = "leaderboard:updated"
	TypeReputationUpdated   Type = "agent:reputation:updated"
)

// Envelope is the wire form of one event. Payload carries a type-specific
// JSON document; QuestionID and AgentID are routing hints for the gateway.
type Envelope struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	Source     string          `json:"source"`
	QuestionID string          `json:"question_id,omitempty"`
	AgentID    string          `json:"agent_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// NewEnvelope builds an envelope around the given payload. Marshal failures
// produce an envelope with an empty payload; event publishing is best-effort
// by contract and never blocks the engine.
func NewEnvelope(t Type, source string, payload interface{}) *Envelope {
	e := &Envelope{
		ID:        uuid.New().String(),
		Type:      t,
		Source:    source,
		Timestamp: time.Now(),
	}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			e.Payload = data
		}
	}
	return e
}

// WithQuestion sets the question routing hint and returns the envelope.
func (e *Envelope) WithQuestion(questionID string) *Envelope {
	e.QuestionID = questionID
	return e
}

// WithAgent sets the agent routing hint and returns the envelope.
func (e *Envelope) WithAgent(agentID string) *Envelope {
	e.AgentID = agentID
	return e
}

// Decode unmarshals the payload into v.
func (e *Envelope) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Handler consumes one event. Handlers must not block: slow consumers cause
// events to be dropped, not delivery to stall.
type Handler func(*Envelope)

// Bus is the pub/sub port. Delivery is at-most-once and unordered across
// event types.
type Bus interface {
	// Publish sends the envelope to all subscribers of the topic.
	Publish(ctx context.Context, topic string, e *Envelope) error
	// Subscribe registers a handler for the topic and returns a function
	// that cancels the subscription.
	Subscribe(topic string, h Handler) (func(), error)
	// Close shuts down the bus and all subscriptions.
	Close() error
}

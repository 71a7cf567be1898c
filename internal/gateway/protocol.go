package gateway

import "encoding/json"

// Room name builders. Rooms are plain strings; question and agent rooms are
// parameterized, leaderboard and global are singletons.
const (
	RoomLeaderboard = "leaderboard"
	RoomGlobal      = "global"
)

// QuestionRoom returns the room carrying updates for one question.
func QuestionRoom(questionID string) string {
	return "question:" + questionID
}

// AgentRoom returns the private room for one agent. Joining requires a JWT
// whose subject matches the agent id.
func AgentRoom(agentID string) string {
	return "agent:" + agentID
}

// Client-to-server message types.
const (
	MsgAuthAgent            = "auth:agent"
	MsgSubscribeQuestion    = "subscribe:question"
	MsgUnsubscribeQuestion  = "unsubscribe:question"
	MsgSubscribeAgent       = "subscribe:agent"
	MsgSubscribeLeaderboard = "subscribe:leaderboard"
	MsgSubscribeGlobal      = "subscribe:global"
	MsgAnswerSubmit         = "answer:submit"
)

// Server-to-client message types.
const (
	MsgAuthSuccess       = "auth:success"
	MsgAuthFailed        = "auth:failed"
	MsgSubscribed        = "subscribed"
	MsgError             = "error"
	MsgAnswerSubmitted   = "answer:submitted"
	MsgConsensusReached  = "consensus:reached"
	MsgConsensusFailed   = "consensus:failed"
	MsgQuestionNew       = "question:new"
	MsgReputationUpdated = "reputation:updated"
	MsgLeaderboardUpdate = "leaderboard:updated"
	MsgBatchUpdate       = "batch_update"
	MsgServerShutdown    = "server:shutdown"
)

// ClientMessage is the envelope for everything a client sends.
type ClientMessage struct {
	Type       string          `json:"type"`
	Token      string          `json:"token,omitempty"`
	QuestionID string          `json:"question_id,omitempty"`
	AgentID    string          `json:"agent_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// ServerMessage is the envelope for everything the gateway sends.
type ServerMessage struct {
	Type    string      `json:"type"`
	Room    string      `json:"room,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Updates []Update    `json:"updates,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Update is one entry inside a batch_update frame.
type Update struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubmitAnswerRequest is the answer:submit passthrough payload. The gateway
// validates nothing beyond the envelope; the service owns the semantics.
type SubmitAnswerRequest struct {
	QuestionID string  `json:"question_id"`
	AgentID    string  `json:"agent_id"`
	Content    string  `json:"content"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
}

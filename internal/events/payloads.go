package events

import (
	"time"

	"dev.swarm.consensus/internal/models"
)

// RankedAnswer is one entry of a consensus outcome, highest weight first.
type RankedAnswer struct {
	AnswerID    string  `json:"answer_id"`
	AgentID     string  `json:"agent_id"`
	FinalWeight float64 `json:"final_weight"`
	Rank        int     `json:"rank"`
}

// ConsensusCalculatedPayload announces a committed consensus run.
type ConsensusCalculatedPayload struct {
	QuestionID        string           `json:"question_id"`
	Algorithm         models.Algorithm `json:"algorithm"`
	ConsensusReached  bool             `json:"consensus_reached"`
	ConsensusStrength float64          `json:"consensus_strength"`
	ConfidenceLevel   float64          `json:"confidence_level"`
	ParticipantCount  int              `json:"participant_count"`
	WinningAnswerID   *string          `json:"winning_answer_id,omitempty"`
	Rankings          []RankedAnswer   `json:"rankings"`
	CalculationTimeMs int64            `json:"calculation_time_ms"`
}

// ConsensusFailedPayload announces a terminally failed consensus job.
type ConsensusFailedPayload struct {
	QuestionID string `json:"question_id"`
	Reason     string `json:"reason"`
	Kind       string `json:"kind"`
	Attempts   int    `json:"attempts"`
}

// AnswerSubmittedPayload announces a new answer on a question.
type AnswerSubmittedPayload struct {
	QuestionID  string    `json:"question_id"`
	AnswerID    string    `json:"answer_id"`
	AgentID     string    `json:"agent_id"`
	Confidence  float64   `json:"confidence"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// QuestionCreatedPayload announces a newly opened question.
type QuestionCreatedPayload struct {
	QuestionID string                  `json:"question_id"`
	Category   models.QuestionCategory `json:"category"`
	MinAnswers int                     `json:"min_answers"`
}

// ReputationUpdatedPayload announces an agent's adjusted standing.
type ReputationUpdatedPayload struct {
	AgentID         string  `json:"agent_id"`
	ReputationScore float64 `json:"reputation_score"`
	AccuracyRate    float64 `json:"accuracy_rate"`
}

// LeaderboardEntry is one row of the agent leaderboard.
type LeaderboardEntry struct {
	AgentID         string  `json:"agent_id"`
	Name            string  `json:"name"`
	ReputationScore float64 `json:"reputation_score"`
	AccuracyRate    float64 `json:"accuracy_rate"`
	Rank            int     `json:"rank"`
}

// LeaderboardUpdatedPayload carries the refreshed top agents.
type LeaderboardUpdatedPayload struct {
	Entries []LeaderboardEntry `json:"entries"`
}

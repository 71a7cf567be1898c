// Package models defines the persistent entities of the swarm consensus
// service. The store owns the authoritative copies; everything here is a
// plain value shuttled between the store, the engine and the gateway.
package models

import "time"

// QuestionCategory classifies what kind of reasoning a question demands.
type QuestionCategory string

const (
	CategoryFactual    QuestionCategory = "FACTUAL"
	CategoryPredictive QuestionCategory = "PREDICTIVE"
	CategoryAnalytical QuestionCategory = "ANALYTICAL"
	CategoryTechnical  QuestionCategory = "TECHNICAL"
	CategoryCreative   QuestionCategory = "CREATIVE"
)

// QuestionStatus is the lifecycle state of a question. Transitions are
// monotonic along OPEN -> DEBATING -> CONSENSUS -> VERIFIED; CLOSED is
// reachable from any non-terminal state.
type QuestionStatus string

const (
	StatusOpen      QuestionStatus = "OPEN"
	StatusDebating  QuestionStatus = "DEBATING"
	StatusConsensus QuestionStatus = "CONSENSUS"
	StatusVerified  QuestionStatus = "VERIFIED"
	StatusClosed    QuestionStatus = "CLOSED"
)

// statusOrder maps each status to its position on the monotonic track.
var statusOrder = map[QuestionStatus]int{
	StatusOpen:      0,
	StatusDebating:  1,
	StatusConsensus: 2,
	StatusVerified:  3,
}

// CanTransition reports whether moving from s to next respects monotonicity.
// CLOSED is terminal and reachable from every other state.
func (s QuestionStatus) CanTransition(next QuestionStatus) bool {
	if s == StatusClosed {
		return false
	}
	if next == StatusClosed {
		return true
	}
	return statusOrder[next] >= statusOrder[s]
}

// StakeStatus tracks the settlement state of a stake.
type StakeStatus string

const (
	StakeActive StakeStatus = "ACTIVE"
	StakeWon    StakeStatus = "WON"
	StakeLost   StakeStatus = "LOST"
)

// CritiqueType identifies the nature of a critique raised during debate.
type CritiqueType string

const (
	CritiqueFactualError   CritiqueType = "FACTUAL_ERROR"
	CritiqueLogicalFlaw    CritiqueType = "LOGICAL_FLAW"
	CritiqueMissingContext CritiqueType = "MISSING_CONTEXT"
	CritiqueImprovement    CritiqueType = "IMPROVEMENT"
)

// Algorithm names a consensus voting algorithm.
type Algorithm string

const (
	AlgorithmBFT    Algorithm = "BFT"
	AlgorithmDPoR   Algorithm = "DPOR"
	AlgorithmHybrid Algorithm = "HYBRID"
)

// Question is a shared question posed to the swarm.
type Question struct {
	ID                 string           `json:"id" db:"id"`
	Content            string           `json:"content" db:"content"`
	Category           QuestionCategory `json:"category" db:"category"`
	Status             QuestionStatus   `json:"status" db:"status"`
	MinAnswers         int              `json:"min_answers" db:"min_answers"`
	ConsensusThreshold float64          `json:"consensus_threshold" db:"consensus_threshold"`
	OpenUntil          *time.Time       `json:"open_until,omitempty" db:"open_until"`
	ConsensusReachedAt *time.Time       `json:"consensus_reached_at,omitempty" db:"consensus_reached_at"`
	CreatedAt          time.Time        `json:"created_at" db:"created_at"`
}

// Agent is an autonomous scoring agent participating in the swarm.
type Agent struct {
	ID              string    `json:"id" db:"id"`
	Name            string    `json:"name" db:"name"`
	ReputationScore float64   `json:"reputation_score" db:"reputation_score"`
	AccuracyRate    float64   `json:"accuracy_rate" db:"accuracy_rate"`
	TotalAnswers    int       `json:"total_answers" db:"total_answers"`
	CorrectAnswers  int       `json:"correct_answers" db:"correct_answers"`
	Capabilities    []string  `json:"capabilities" db:"capabilities"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// Answer is an agent's answer to a question. Unique on (QuestionID, AgentID).
type Answer struct {
	ID            string    `json:"id" db:"id"`
	QuestionID    string    `json:"question_id" db:"question_id"`
	AgentID       string    `json:"agent_id" db:"agent_id"`
	Content       string    `json:"content" db:"content"`
	Reasoning     string    `json:"reasoning" db:"reasoning"`
	Confidence    float64   `json:"confidence" db:"confidence"`
	FinalWeight   *float64  `json:"final_weight,omitempty" db:"final_weight"`
	ConsensusRank *int      `json:"consensus_rank,omitempty" db:"consensus_rank"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Stake is reputation currency an agent puts behind an answer.
type Stake struct {
	ID        string      `json:"id" db:"id"`
	AnswerID  string      `json:"answer_id" db:"answer_id"`
	AgentID   string      `json:"agent_id" db:"agent_id"`
	Amount    float64     `json:"amount" db:"amount"`
	Status    StakeStatus `json:"status" db:"status"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}

// DebateRound groups the critiques of one debate iteration.
// Unique on (QuestionID, RoundNumber).
type DebateRound struct {
	ID          string     `json:"id" db:"id"`
	QuestionID  string     `json:"question_id" db:"question_id"`
	RoundNumber int        `json:"round_number" db:"round_number"`
	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

// Critique is an agent's objection to (or endorsement of) another answer.
// An agent may not critique its own answer.
type Critique struct {
	ID             string       `json:"id" db:"id"`
	DebateRoundID  string       `json:"debate_round_id" db:"debate_round_id"`
	CriticAgentID  string       `json:"critic_agent_id" db:"critic_agent_id"`
	TargetAnswerID string       `json:"target_answer_id" db:"target_answer_id"`
	Type           CritiqueType `json:"type" db:"type"`
	Content        string       `json:"content" db:"content"`
	Impact         float64      `json:"impact" db:"impact"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
}

// ConsensusWeight is the current ranked weight of one answer. Rows for a
// question are fully replaced on each successful run.
type ConsensusWeight struct {
	QuestionID  string    `json:"question_id" db:"question_id"`
	AnswerID    string    `json:"answer_id" db:"answer_id"`
	AgentID     string    `json:"agent_id" db:"agent_id"`
	FinalWeight float64   `json:"final_weight" db:"final_weight"`
	Rank        int       `json:"rank" db:"rank"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ConsensusLog is one append-only audit row per consensus run.
type ConsensusLog struct {
	ID                string    `json:"id" db:"id"`
	QuestionID        string    `json:"question_id" db:"question_id"`
	Algorithm         Algorithm `json:"algorithm" db:"algorithm"`
	ParticipantCount  int       `json:"participant_count" db:"participant_count"`
	ConfidenceLevel   float64   `json:"confidence_level" db:"confidence_level"`
	WinningAnswerID   *string   `json:"winning_answer_id,omitempty" db:"winning_answer_id"`
	ConsensusStrength float64   `json:"consensus_strength" db:"consensus_strength"`
	CalculationTimeMs int64     `json:"calculation_time_ms" db:"calculation_time_ms"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

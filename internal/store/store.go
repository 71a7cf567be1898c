// Package store defines the persistence port of the consensus engine and its
// PostgreSQL and in-memory implementations.
package store

import (
	"context"
	"errors"
	"time"

	"dev.swarm.consensus/internal/models"
)

// Sentinel errors shared by all implementations.
var (
	// ErrNotFound is returned when the requested question does not exist.
	ErrNotFound = errors.New("store: question not found")
	// ErrStatusConflict is returned when a commit would regress the question
	// status. The transaction is aborted and no state changes.
	ErrStatusConflict = errors.New("store: status transition conflict")
	// ErrDuplicateAnswer is returned when an agent answers the same question
	// twice.
	ErrDuplicateAnswer = errors.New("store: agent already answered this question")
)

// RoundEvidence is one debate round with its critiques, critiques ordered by
// creation time ascending.
type RoundEvidence struct {
	Round     models.DebateRound
	Critiques []models.Critique
}

// Evidence is the full evidence graph of a question, read in one consistent
// transaction. It is a value: the engine computes over it without touching
// the store again.
type Evidence struct {
	Question models.Question
	Answers  []models.Answer           // ordered by submission time ascending
	Agents   map[string]models.Agent   // authoring and staking agents, by id
	Stakes   map[string][]models.Stake // by answer id
	Rounds   []RoundEvidence           // ordered by round number descending
}

// RankedWeight pairs an answer with its final weight and dense rank.
type RankedWeight struct {
	AnswerID    string
	AgentID     string
	FinalWeight float64
	Rank        int
}

// Commit is the all-or-nothing write set of one successful consensus run:
// replace the question's consensus weights, update the answers, upgrade the
// question status when consensus was reached, settle stakes, and append one
// audit log row.
type Commit struct {
	QuestionID       string
	Weights          []RankedWeight
	Log              models.ConsensusLog
	ConsensusReached bool
	ReachedAt        time.Time
	SettleStakes     bool // ACTIVE stakes become WON on the winner, LOST elsewhere
}

// ReputationDelta adjusts one agent's standing after a consensus-reached run.
type ReputationDelta struct {
	AgentID   string
	Delta     float64
	WonAnswer bool // counts toward the agent's accuracy rate
}

// QuestionState is the lightweight status projection used by GetStatus.
type QuestionState struct {
	Question    models.Question
	AnswerCount int
}

// Store is the persistence port consumed by the engine and the service
// facade.
type Store interface {
	// CreateQuestion persists a new question in OPEN status.
	CreateQuestion(ctx context.Context, q models.Question) error

	// InsertAnswer persists a new answer and bumps the author's answer count.
	// The question must be OPEN or DEBATING; a second answer from the same
	// agent returns ErrDuplicateAnswer.
	InsertAnswer(ctx context.Context, a models.Answer) error

	// LoadEvidence materializes the question's evidence graph in one
	// read-consistent transaction. Returns ErrNotFound for unknown ids.
	LoadEvidence(ctx context.Context, questionID string) (*Evidence, error)

	// CommitResult atomically applies the write set of a successful run.
	// Returns ErrStatusConflict without side effects when the status
	// transition would regress.
	CommitResult(ctx context.Context, c Commit) error

	// ApplyReputationDeltas adjusts agent reputations and accuracy rates and
	// returns the updated agents. Reputation never drops below zero.
	ApplyReputationDeltas(ctx context.Context, deltas []ReputationDelta) ([]models.Agent, error)

	// TopAgents returns the n highest-reputation agents, reputation
	// descending, ties by id.
	TopAgents(ctx context.Context, n int) ([]models.Agent, error)

	// MarkDebating moves an OPEN question to DEBATING. A question already at
	// DEBATING or beyond is left untouched.
	MarkDebating(ctx context.Context, questionID string) error

	// LatestConsensus returns the most recent audit log row and the current
	// ranked weights for the question. The log is nil when no run has
	// committed yet.
	LatestConsensus(ctx context.Context, questionID string) (*models.ConsensusLog, []models.ConsensusWeight, error)

	// QuestionState returns the question and its answer count.
	QuestionState(ctx context.Context, questionID string) (*QuestionState, error)

	// Close releases the underlying connections.
	Close() error
}

// Package service is the application facade over the consensus engine, job
// queue and store. The websocket gateway and any future HTTP API call into
// it; it owns request validation and event emission for write operations.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dev.swarm.consensus/internal/engine"
	"dev.swarm.consensus/internal/events"
	"dev.swarm.consensus/internal/models"
	"dev.swarm.consensus/internal/queue"
	"dev.swarm.consensus/internal/store"
)

const eventSource = "consensus-service"

// Service exposes the consensus operations.
type Service struct {
	store store.Store
	queue *queue.Queue
	bus   events.Bus
	log   *logrus.Logger
}

// New creates the service facade.
func New(st store.Store, q *queue.Queue, bus events.Bus, log *logrus.Logger) *Service {
	if log == nil {
		log = logrus.New()
	}
	return &Service{store: st, queue: q, bus: bus, log: log}
}

// TriggerOptions tune one consensus trigger.
type TriggerOptions struct {
	ForceAlgorithm models.Algorithm
	Priority       int
	RequestedBy    string
}

// TriggerResult reports the scheduled (or completed, in inline mode) job.
type TriggerResult struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	EstimatedMs int64  `json:"estimated_ms"`
}

// TriggerConsensus schedules a consensus run for the question. Duplicate
// triggers while a job is waiting or active return the existing job.
func (s *Service) TriggerConsensus(ctx context.Context, questionID string, opts TriggerOptions) (*TriggerResult, error) {
	if questionID == "" {
		return nil, fmt.Errorf("question id is required")
	}
	if _, err := s.store.QuestionState(ctx, questionID); err != nil {
		return nil, err
	}

	res, err := s.queue.Enqueue(ctx, engine.Request{
		QuestionID:     questionID,
		ForceAlgorithm: opts.ForceAlgorithm,
		RequestedBy:    opts.RequestedBy,
	}, opts.Priority)
	if err != nil {
		return nil, err
	}
	return &TriggerResult{
		JobID:       res.JobID,
		Status:      string(res.State),
		EstimatedMs: res.EstimatedMs,
	}, nil
}

// ConsensusView is the committed consensus state of a question.
type ConsensusView struct {
	QuestionID string                   `json:"question_id"`
	Log        *models.ConsensusLog     `json:"log"`
	Weights    []models.ConsensusWeight `json:"weights"` // rank ascending
}

// GetConsensus returns the latest committed consensus for the question, or a
// view with a nil log when no run has committed yet.
func (s *Service) GetConsensus(ctx context.Context, questionID string) (*ConsensusView, error) {
	if _, err := s.store.QuestionState(ctx, questionID); err != nil {
		return nil, err
	}
	log, weights, err := s.store.LatestConsensus(ctx, questionID)
	if err != nil {
		return nil, err
	}
	return &ConsensusView{QuestionID: questionID, Log: log, Weights: weights}, nil
}

// StatusView combines the question lifecycle state with the job queue state.
type StatusView struct {
	QuestionID         string                `json:"question_id"`
	Calculation        string                `json:"calculation"` // idle|queued|active|completed|failed
	QuestionStatus     models.QuestionStatus `json:"question_status"`
	AnswerCount        int                   `json:"answer_count"`
	ConsensusReachedAt *time.Time            `json:"consensus_reached_at,omitempty"`
	HasConsensus       bool                  `json:"has_consensus"`
	Progress           float64               `json:"progress"` // answers gathered vs required, capped at 1
}

// GetStatus reports where a question stands.
func (s *Service) GetStatus(ctx context.Context, questionID string) (*StatusView, error) {
	state, err := s.store.QuestionState(ctx, questionID)
	if err != nil {
		return nil, err
	}

	progress := 1.0
	if state.Question.MinAnswers > 0 {
		progress = float64(state.AnswerCount) / float64(state.Question.MinAnswers)
		if progress > 1 {
			progress = 1
		}
	}

	return &StatusView{
		QuestionID:         questionID,
		Calculation:        string(s.queue.Status(questionID).State),
		QuestionStatus:     state.Question.Status,
		AnswerCount:        state.AnswerCount,
		ConsensusReachedAt: state.Question.ConsensusReachedAt,
		HasConsensus:       state.Question.ConsensusReachedAt != nil,
		Progress:           progress,
	}, nil
}

// CreateQuestionParams describe a new question.
type CreateQuestionParams struct {
	Content            string
	Category           models.QuestionCategory
	MinAnswers         int
	ConsensusThreshold float64
	OpenUntil          *time.Time
}

// CreateQuestion opens a new question and announces it on the bus.
func (s *Service) CreateQuestion(ctx context.Context, p CreateQuestionParams) (*models.Question, error) {
	if p.Content == "" {
		return nil, fmt.Errorf("question content is required")
	}
	if p.MinAnswers <= 0 {
		p.MinAnswers = 3
	}
	if p.ConsensusThreshold <= 0 || p.ConsensusThreshold > 1 {
		p.ConsensusThreshold = 0.66
	}

	q := models.Question{
		ID:                 uuid.New().String(),
		Content:            p.Content,
		Category:           p.Category,
		Status:             models.StatusOpen,
		MinAnswers:         p.MinAnswers,
		ConsensusThreshold: p.ConsensusThreshold,
		OpenUntil:          p.OpenUntil,
		CreatedAt:          time.Now(),
	}
	if err := s.store.CreateQuestion(ctx, q); err != nil {
		return nil, err
	}

	env := events.NewEnvelope(events.TypeQuestionCreated, eventSource, events.QuestionCreatedPayload{
		QuestionID: q.ID,
		Category:   q.Category,
		MinAnswers: q.MinAnswers,
	}).WithQuestion(q.ID)
	if err := s.bus.Publish(ctx, events.Topic, env); err != nil {
		s.log.WithError(err).Warn("Failed to publish question:created")
	}

	return &q, nil
}

// SubmitAnswerParams describe one agent answer.
type SubmitAnswerParams struct {
	QuestionID string
	AgentID    string
	Content    string
	Reasoning  string
	Confidence float64
}

// SubmitAnswer records an answer and announces it on the bus. The question
// must still be accepting answers; a second answer from the same agent is
// rejected.
func (s *Service) SubmitAnswer(ctx context.Context, p SubmitAnswerParams) (*models.Answer, error) {
	if p.QuestionID == "" || p.AgentID == "" {
		return nil, fmt.Errorf("question id and agent id are required")
	}
	if p.Content == "" {
		return nil, fmt.Errorf("answer content is required")
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return nil, fmt.Errorf("confidence must be in [0, 1]")
	}

	a := models.Answer{
		ID:         uuid.New().String(),
		QuestionID: p.QuestionID,
		AgentID:    p.AgentID,
		Content:    p.Content,
		Reasoning:  p.Reasoning,
		Confidence: p.Confidence,
		CreatedAt:  time.Now(),
	}
	if err := s.store.InsertAnswer(ctx, a); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("question %s not found: %w", p.QuestionID, err)
		case errors.Is(err, store.ErrDuplicateAnswer):
			return nil, fmt.Errorf("agent %s already answered: %w", p.AgentID, err)
		case errors.Is(err, store.ErrStatusConflict):
			return nil, fmt.Errorf("question %s is no longer accepting answers: %w", p.QuestionID, err)
		default:
			return nil, err
		}
	}

	env := events.NewEnvelope(events.TypeAnswerSubmitted, eventSource, events.AnswerSubmittedPayload{
		QuestionID:  a.QuestionID,
		AnswerID:    a.ID,
		AgentID:     a.AgentID,
		Confidence:  a.Confidence,
		SubmittedAt: a.CreatedAt,
	}).WithQuestion(a.QuestionID).WithAgent(a.AgentID)
	if err := s.bus.Publish(ctx, events.Topic, env); err != nil {
		s.log.WithError(err).Warn("Failed to publish answer:submitted")
	}

	return &a, nil
}

// MarkDebating moves an OPEN question into the DEBATING phase. Questions
// already past OPEN are left untouched.
func (s *Service) MarkDebating(ctx context.Context, questionID string) error {
	return s.store.MarkDebating(ctx, questionID)
}

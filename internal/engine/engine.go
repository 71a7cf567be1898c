// Package engine implements the consensus pipeline: load an evidence
// snapshot, compute four weight vectors in parallel, run the selected voting
// algorithm, commit the ranked outcome, and publish the result.
package engine

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dev.swarm.consensus/internal/config"
	"dev.swarm.consensus/internal/embedding"
	"dev.swarm.consensus/internal/events"
	"dev.swarm.consensus/internal/models"
	"dev.swarm.consensus/internal/store"
)

const eventSource = "consensus-engine"

// Request describes one consensus run.
type Request struct {
	QuestionID     string
	ForceAlgorithm models.Algorithm // empty uses the selection rule
	RequestedBy    string
}

// Engine orchestrates consensus runs over constructor-injected ports so it
// can be driven by the job queue or invoked inline, and tested against
// in-memory doubles.
type Engine struct {
	store     store.Store
	embedder  embedding.Embedder
	bus       events.Bus
	clock     Clock
	engineCfg config.EngineConfig
	embedCfg  config.EmbeddingConfig
	log       *logrus.Logger
}

// New creates an engine. A nil clock defaults to the system clock; a nil
// logger to a fresh logrus logger.
func New(st store.Store, embedder embedding.Embedder, bus events.Bus, clock Clock, engineCfg config.EngineConfig, embedCfg config.EmbeddingConfig, log *logrus.Logger) *Engine {
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = logrus.New()
	}
	return &Engine{
		store:     st,
		embedder:  embedder,
		bus:       bus,
		clock:     clock,
		engineCfg: engineCfg,
		embedCfg:  embedCfg,
		log:       log,
	}
}

// Run executes one consensus run end to end. Errors are classified per the
// failure taxonomy; the caller decides on retries. The consensus:calculated
// event is published only after the commit completes.
func (e *Engine) Run(ctx context.Context, req Request) (*Outcome, error) {
	start := e.clock.Monotonic()

	// Cancellation point: before loading.
	if err := ctx.Err(); err != nil {
		return nil, newError(KindCancelled, ReasonCancelled, err)
	}

	ev, err := e.store.LoadEvidence(ctx, req.QuestionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindValidation, ReasonNotFound, err)
		}
		return nil, newError(KindTransient, ReasonStoreFailure, err)
	}

	snap, err := BuildSnapshot(ev)
	if err != nil {
		return nil, err
	}

	// Per-job budget: the configured timeout covers up to 100 answers and
	// scales linearly beyond that.
	budget := e.engineCfg.JobTimeout
	if n := snap.Len(); n > 100 {
		budget = budget * time.Duration(int(math.Ceil(float64(n)/100)))
	}
	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	ws, err := computeWeights(runCtx, e.embedder, snap, e.embedCfg.Timeout, e.log)
	if err != nil {
		return nil, e.classifyCtx(ctx, err)
	}

	alg := selectAlgorithm(snap, req.ForceAlgorithm)
	weights := runAlgorithm(alg, snap, ws, e.engineCfg.SimilarityGate)
	outcome, err := finalize(alg, snap, ws, weights)
	if err != nil {
		runsTotal.WithLabelValues(string(alg), "no_valid_answers").Inc()
		return nil, err
	}
	if outcome.SemanticFallback {
		semanticFallbacks.Inc()
	}

	// Cancellation point: before committing.
	if err := runCtx.Err(); err != nil {
		return nil, e.classifyCtx(ctx, err)
	}

	elapsed := e.clock.Monotonic().Sub(start)
	reachedAt := e.clock.Wall()
	logRow := models.ConsensusLog{
		ID:                uuid.New().String(),
		QuestionID:        req.QuestionID,
		Algorithm:         alg,
		ParticipantCount:  snap.Len(),
		ConfidenceLevel:   outcome.ConfidenceLevel,
		WinningAnswerID:   outcome.WinningAnswerID,
		ConsensusStrength: outcome.ConsensusStrength,
		CalculationTimeMs: elapsed.Milliseconds(),
		CreatedAt:         reachedAt,
	}

	commit := store.Commit{
		QuestionID:       req.QuestionID,
		Weights:          outcome.Ranked,
		Log:              logRow,
		ConsensusReached: outcome.ConsensusReached,
		ReachedAt:        reachedAt,
		SettleStakes:     e.engineCfg.SettlementEnabled,
	}
	if err := e.store.CommitResult(ctx, commit); err != nil {
		switch {
		case errors.Is(err, store.ErrStatusConflict):
			runsTotal.WithLabelValues(string(alg), "conflict").Inc()
			return nil, newError(KindConflict, ReasonStatusConflict, err)
		case errors.Is(err, store.ErrNotFound):
			return nil, newError(KindValidation, ReasonNotFound, err)
		default:
			return nil, newError(KindTransient, ReasonStoreFailure, err)
		}
	}

	runsTotal.WithLabelValues(string(alg), "committed").Inc()
	runDuration.Observe(elapsed.Seconds())

	e.publishCalculated(ctx, req.QuestionID, logRow, outcome)

	if e.engineCfg.SettlementEnabled && outcome.ConsensusReached {
		e.settleReputation(ctx, snap, outcome)
	}

	e.log.WithFields(logrus.Fields{
		"question":  req.QuestionID,
		"algorithm": alg,
		"reached":   outcome.ConsensusReached,
		"strength":  outcome.ConsensusStrength,
		"elapsed":   elapsed,
	}).Info("Consensus run committed")

	return outcome, nil
}

// classifyCtx distinguishes caller cancellation from budget exhaustion.
func (e *Engine) classifyCtx(parent context.Context, err error) error {
	if parent.Err() != nil && errors.Is(parent.Err(), context.Canceled) {
		return newError(KindCancelled, ReasonCancelled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindTransient, ReasonTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return newError(KindCancelled, ReasonCancelled, err)
	}
	return newError(KindTransient, ReasonStoreFailure, err)
}

func (e *Engine) publishCalculated(ctx context.Context, questionID string, logRow models.ConsensusLog, outcome *Outcome) {
	payload := events.ConsensusCalculatedPayload{
		QuestionID:        questionID,
		Algorithm:         outcome.Algorithm,
		ConsensusReached:  outcome.ConsensusReached,
		ConsensusStrength: outcome.ConsensusStrength,
		ConfidenceLevel:   outcome.ConfidenceLevel,
		ParticipantCount:  logRow.ParticipantCount,
		WinningAnswerID:   outcome.WinningAnswerID,
		CalculationTimeMs: logRow.CalculationTimeMs,
	}
	for _, r := range outcome.Ranked {
		payload.Rankings = append(payload.Rankings, events.RankedAnswer{
			AnswerID:    r.AnswerID,
			AgentID:     r.AgentID,
			FinalWeight: r.FinalWeight,
			Rank:        r.Rank,
		})
	}

	env := events.NewEnvelope(events.TypeConsensusCalculated, eventSource, payload).
		WithQuestion(questionID)
	if err := e.bus.Publish(ctx, events.Topic, env); err != nil {
		e.log.WithError(err).Warn("Failed to publish consensus:calculated")
	}
}

// settleReputation applies post-consensus reputation deltas and refreshes
// the leaderboard. Failures here are logged but never fail the run: the
// consensus itself is already committed.
func (e *Engine) settleReputation(ctx context.Context, snap *Snapshot, outcome *Outcome) {
	deltas := make([]store.ReputationDelta, 0, len(outcome.Ranked))
	for _, r := range outcome.Ranked {
		switch {
		case outcome.WinningAnswerID != nil && r.AnswerID == *outcome.WinningAnswerID:
			deltas = append(deltas, store.ReputationDelta{
				AgentID:   r.AgentID,
				Delta:     e.engineCfg.WinnerReputation,
				WonAnswer: true,
			})
		case r.FinalWeight == 0:
			deltas = append(deltas, store.ReputationDelta{
				AgentID: r.AgentID,
				Delta:   e.engineCfg.LoserReputation,
			})
		}
	}

	updated, err := e.store.ApplyReputationDeltas(ctx, deltas)
	if err != nil {
		e.log.WithError(err).Warn("Failed to apply reputation deltas")
		return
	}
	for _, g := range updated {
		env := events.NewEnvelope(events.TypeReputationUpdated, eventSource, events.ReputationUpdatedPayload{
			AgentID:         g.ID,
			ReputationScore: g.ReputationScore,
			AccuracyRate:    g.AccuracyRate,
		}).WithAgent(g.ID)
		if err := e.bus.Publish(ctx, events.Topic, env); err != nil {
			e.log.WithError(err).Warn("Failed to publish agent:reputation:updated")
		}
	}

	top, err := e.store.TopAgents(ctx, e.engineCfg.LeaderboardSize)
	if err != nil {
		e.log.WithError(err).Warn("Failed to refresh leaderboard")
		return
	}
	payload := events.LeaderboardUpdatedPayload{}
	for i, g := range top {
		payload.Entries = append(payload.Entries, events.LeaderboardEntry{
			AgentID:         g.ID,
			Name:            g.Name,
			ReputationScore: g.ReputationScore,
			AccuracyRate:    g.AccuracyRate,
			Rank:            i + 1,
		})
	}
	env := events.NewEnvelope(events.TypeLeaderboardUpdated, eventSource, payload)
	if err := e.bus.Publish(ctx, events.Topic, env); err != nil {
		e.log.WithError(err).Warn("Failed to publish leaderboard:updated")
	}
}

// PublishFailure emits the consensus:failed event for a terminally failed
// job. The queue calls this once retries are exhausted or the failure is
// not retryable.
func (e *Engine) PublishFailure(ctx context.Context, questionID string, runErr error, attempts int) {
	env := events.NewEnvelope(events.TypeConsensusFailed, eventSource, events.ConsensusFailedPayload{
		QuestionID: questionID,
		Reason:     Reason(runErr),
		Kind:       Classify(runErr).String(),
		Attempts:   attempts,
	}).WithQuestion(questionID)
	if err := e.bus.Publish(ctx, events.Topic, env); err != nil {
		e.log.WithError(err).Warn("Failed to publish consensus:failed")
	}
}

package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.swarm.consensus/internal/config"
	"dev.swarm.consensus/internal/embedding"
	"dev.swarm.consensus/internal/events"
	"dev.swarm.consensus/internal/models"
	"dev.swarm.consensus/internal/store"
)

// fakeClock pins wall time and advances monotonic readings by a fixed step
// per call, so CalculationTimeMs is deterministic.
type fakeClock struct {
	mu   sync.Mutex
	wall time.Time
	mono time.Time
	step time.Duration
}

func newFakeClock() *fakeClock {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &fakeClock{wall: base, mono: base, step: 25 * time.Millisecond}
}

func (c *fakeClock) Wall() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wall
}

func (c *fakeClock) Monotonic() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.mono
	c.mono = c.mono.Add(c.step)
	return t
}

type engineFixture struct {
	store    *store.MemoryStore
	embedder *embedding.StaticEmbedder
	bus      *events.MemoryBus
	engine   *Engine

	mu     sync.Mutex
	events []*events.Envelope
}

func newEngineFixture(t *testing.T, engineCfg config.EngineConfig) *engineFixture {
	t.Helper()

	f := &engineFixture{
		store:    store.NewMemoryStore(),
		embedder: embedding.NewStaticEmbedder(2),
		bus:      events.NewMemoryBus(nil),
	}
	unsub, err := f.bus.Subscribe(events.Topic, func(e *events.Envelope) {
		f.mu.Lock()
		f.events = append(f.events, e)
		f.mu.Unlock()
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		unsub()
		f.bus.Close()
	})

	if engineCfg.JobTimeout == 0 {
		engineCfg.JobTimeout = 5 * time.Second
	}
	if engineCfg.SimilarityGate == 0 {
		engineCfg.SimilarityGate = 0.7
	}
	embedCfg := config.EmbeddingConfig{Timeout: time.Second}
	f.engine = New(f.store, f.embedder, f.bus, newFakeClock(), engineCfg, embedCfg, nil)
	return f
}

func (f *engineFixture) eventsOfType(t events.Type) []*events.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*events.Envelope, 0)
	for _, e := range f.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// seedHybridPair seeds the two-answer analytical fixture: answer a1 is
// backed by the stronger agent and should win under HYBRID.
func (f *engineFixture) seedHybridPair(threshold float64) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f.store.PutQuestion(models.Question{
		ID: "q1", Content: "which approach scales better",
		Category: models.CategoryAnalytical, Status: models.StatusOpen,
		MinAnswers: 2, ConsensusThreshold: threshold, CreatedAt: now,
	})
	f.store.PutAgent(models.Agent{ID: "g1", Name: "alpha", ReputationScore: 100, AccuracyRate: 0.5})
	f.store.PutAgent(models.Agent{ID: "g2", Name: "beta", ReputationScore: 50})
	f.store.PutAnswer(models.Answer{
		ID: "a1", QuestionID: "q1", AgentID: "g1",
		Content: "sharding", Reasoning: "splits load", Confidence: 0.8,
		CreatedAt: now.Add(time.Minute),
	})
	f.store.PutAnswer(models.Answer{
		ID: "a2", QuestionID: "q1", AgentID: "g2",
		Content: "caching", Reasoning: "absorbs reads", Confidence: 0.4,
		CreatedAt: now.Add(2 * time.Minute),
	})
	f.store.PutDebateRound(models.DebateRound{ID: "r1", QuestionID: "q1", RoundNumber: 1})
	f.store.PutCritique(models.Critique{
		ID: "c1", DebateRoundID: "r1", CriticAgentID: "g2", TargetAnswerID: "a1",
		Type: models.CritiqueFactualError, Impact: 0, CreatedAt: now.Add(3 * time.Minute),
	})

	// cos = 0.5 between the two answers.
	f.embedder.Set("sharding splits load", []float64{1, 0})
	f.embedder.Set("caching absorbs reads", []float64{0.5, 0.8660254037844386})
}

func TestEngineRunHybrid(t *testing.T) {
	f := newEngineFixture(t, config.EngineConfig{})
	f.seedHybridPair(0.5)

	out, err := f.engine.Run(context.Background(), Request{
		QuestionID:     "q1",
		ForceAlgorithm: models.AlgorithmHybrid,
	})
	require.NoError(t, err)

	assert.Equal(t, models.AlgorithmHybrid, out.Algorithm)
	require.Len(t, out.Ranked, 2)
	assert.Equal(t, "a1", out.Ranked[0].AnswerID)
	assert.Equal(t, 1, out.Ranked[0].Rank)
	assert.Equal(t, "a2", out.Ranked[1].AnswerID)
	assert.Equal(t, 2, out.Ranked[1].Rank)

	// W_rep: a1 = 100/150 + 0.25, a2 = 50/150. Stakes are zero; avg
	// similarity is 0.5; the zero-impact critique leaves the debate factor
	// at 1.0.
	wantA := (0.2*0.8 + 0.3*(100.0/150+0.25) + 0.2*0.5) * 1.0
	wantB := (0.2*0.4 + 0.3*(50.0/150) + 0.2*0.5) * 1.0
	assert.InDelta(t, wantA, out.Ranked[0].FinalWeight, 1e-9)
	assert.InDelta(t, wantB, out.Ranked[1].FinalWeight, 1e-9)
	assert.False(t, out.SemanticFallback)

	assert.True(t, out.ConsensusReached)
	require.NotNil(t, out.WinningAnswerID)
	assert.Equal(t, "a1", *out.WinningAnswerID)
	assert.InDelta(t, wantA/(wantA+wantB), out.ConsensusStrength, 1e-9)
	assert.InDelta(t, (wantA-wantB)/wantA, out.ConfidenceLevel, 1e-9)

	q, ok := f.store.Question("q1")
	require.True(t, ok)
	assert.Equal(t, models.StatusConsensus, q.Status)
	require.NotNil(t, q.ConsensusReachedAt)

	logs := f.store.Logs("q1")
	require.Len(t, logs, 1)
	assert.Equal(t, 2, logs[0].ParticipantCount)
	assert.Equal(t, int64(25), logs[0].CalculationTimeMs)

	require.Eventually(t, func() bool {
		return len(f.eventsOfType(events.TypeConsensusCalculated)) == 1
	}, time.Second, 5*time.Millisecond)

	var payload events.ConsensusCalculatedPayload
	require.NoError(t, f.eventsOfType(events.TypeConsensusCalculated)[0].Decode(&payload))
	assert.Equal(t, "q1", payload.QuestionID)
	assert.True(t, payload.ConsensusReached)
	require.Len(t, payload.Rankings, 2)
}

func TestEngineRunIdempotent(t *testing.T) {
	f := newEngineFixture(t, config.EngineConfig{})
	f.seedHybridPair(0.5)

	first, err := f.engine.Run(context.Background(), Request{QuestionID: "q1", ForceAlgorithm: models.AlgorithmHybrid})
	require.NoError(t, err)
	second, err := f.engine.Run(context.Background(), Request{QuestionID: "q1", ForceAlgorithm: models.AlgorithmHybrid})
	require.NoError(t, err)

	require.Equal(t, len(first.Ranked), len(second.Ranked))
	for i := range first.Ranked {
		assert.Equal(t, first.Ranked[i], second.Ranked[i])
	}
	assert.Len(t, f.store.Logs("q1"), 2)

	// The question reached CONSENSUS on the first run; the second must not
	// regress it.
	q, _ := f.store.Question("q1")
	assert.Equal(t, models.StatusConsensus, q.Status)
}

func TestEngineRunSemanticFallback(t *testing.T) {
	f := newEngineFixture(t, config.EngineConfig{})
	f.seedHybridPair(0.99)
	f.embedder.Fail(fmt.Errorf("provider down"))

	out, err := f.engine.Run(context.Background(), Request{QuestionID: "q1", ForceAlgorithm: models.AlgorithmHybrid})
	require.NoError(t, err)
	assert.True(t, out.SemanticFallback)
	assert.False(t, out.ConsensusReached)
	assert.Nil(t, out.WinningAnswerID)

	// Below threshold the status must stay where it was.
	q, _ := f.store.Question("q1")
	assert.Equal(t, models.StatusOpen, q.Status)
}

func TestEngineRunValidation(t *testing.T) {
	t.Run("unknown question", func(t *testing.T) {
		f := newEngineFixture(t, config.EngineConfig{})
		_, err := f.engine.Run(context.Background(), Request{QuestionID: "missing"})
		require.Error(t, err)
		assert.Equal(t, KindValidation, Classify(err))
		assert.Equal(t, ReasonNotFound, Reason(err))
		assert.False(t, Retryable(err))
	})

	t.Run("insufficient evidence writes no log", func(t *testing.T) {
		f := newEngineFixture(t, config.EngineConfig{})
		f.seedHybridPair(0.5)
		q, _ := f.store.Question("q1")
		q.MinAnswers = 3
		f.store.PutQuestion(q)

		_, err := f.engine.Run(context.Background(), Request{QuestionID: "q1"})
		require.Error(t, err)
		assert.Equal(t, KindValidation, Classify(err))
		assert.Equal(t, ReasonInsufficientEvidence, Reason(err))

		var ie *InsufficientEvidenceError
		require.ErrorAs(t, err, &ie)
		assert.Equal(t, 2, ie.Have)
		assert.Equal(t, 3, ie.Need)
		assert.Empty(t, f.store.Logs("q1"))
	})

	t.Run("closed question is not open", func(t *testing.T) {
		f := newEngineFixture(t, config.EngineConfig{})
		f.seedHybridPair(0.5)
		q, _ := f.store.Question("q1")
		q.Status = models.StatusClosed
		f.store.PutQuestion(q)

		_, err := f.engine.Run(context.Background(), Request{QuestionID: "q1"})
		require.Error(t, err)
		assert.Equal(t, KindValidation, Classify(err))
		assert.Equal(t, ReasonNotOpen, Reason(err))
	})

	t.Run("cancelled context", func(t *testing.T) {
		f := newEngineFixture(t, config.EngineConfig{})
		f.seedHybridPair(0.5)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := f.engine.Run(ctx, Request{QuestionID: "q1"})
		require.Error(t, err)
		assert.Equal(t, KindCancelled, Classify(err))
		assert.False(t, Retryable(err))
	})
}

func TestEngineSettlement(t *testing.T) {
	f := newEngineFixture(t, config.EngineConfig{
		SettlementEnabled: true,
		WinnerReputation:  10,
		LoserReputation:   -2,
		LeaderboardSize:   5,
	})
	f.seedHybridPair(0.5)
	f.store.PutStake(models.Stake{
		ID: "s1", AnswerID: "a1", AgentID: "g1", Amount: 20, Status: models.StakeActive,
	})
	f.store.PutStake(models.Stake{
		ID: "s2", AnswerID: "a2", AgentID: "g2", Amount: 10, Status: models.StakeActive,
	})

	_, err := f.engine.Run(context.Background(), Request{QuestionID: "q1", ForceAlgorithm: models.AlgorithmHybrid})
	require.NoError(t, err)

	s1, _ := f.store.Stake("s1")
	assert.Equal(t, models.StakeWon, s1.Status)
	s2, _ := f.store.Stake("s2")
	assert.Equal(t, models.StakeLost, s2.Status)

	g1, _ := f.store.Agent("g1")
	assert.Equal(t, 110.0, g1.ReputationScore)
	assert.Equal(t, 1, g1.CorrectAnswers)

	// The runner-up's weight is positive, so no loser penalty applies.
	g2, _ := f.store.Agent("g2")
	assert.Equal(t, 50.0, g2.ReputationScore)

	require.Eventually(t, func() bool {
		return len(f.eventsOfType(events.TypeReputationUpdated)) == 1 &&
			len(f.eventsOfType(events.TypeLeaderboardUpdated)) == 1
	}, time.Second, 5*time.Millisecond)

	var lb events.LeaderboardUpdatedPayload
	require.NoError(t, f.eventsOfType(events.TypeLeaderboardUpdated)[0].Decode(&lb))
	require.NotEmpty(t, lb.Entries)
	assert.Equal(t, "g1", lb.Entries[0].AgentID)
	assert.Equal(t, 1, lb.Entries[0].Rank)
}

func TestEnginePublishFailure(t *testing.T) {
	f := newEngineFixture(t, config.EngineConfig{})

	runErr := newError(KindTransient, ReasonTimeout, context.DeadlineExceeded)
	f.engine.PublishFailure(context.Background(), "q9", runErr, 3)

	require.Eventually(t, func() bool {
		return len(f.eventsOfType(events.TypeConsensusFailed)) == 1
	}, time.Second, 5*time.Millisecond)

	var payload events.ConsensusFailedPayload
	require.NoError(t, f.eventsOfType(events.TypeConsensusFailed)[0].Decode(&payload))
	assert.Equal(t, "q9", payload.QuestionID)
	assert.Equal(t, ReasonTimeout, payload.Reason)
	assert.Equal(t, "transient", payload.Kind)
	assert.Equal(t, 3, payload.Attempts)
}

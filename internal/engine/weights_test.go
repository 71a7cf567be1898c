package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.swarm.consensus/internal/models"
	"dev.swarm.consensus/internal/store"
)

func evidenceFixture(question models.Question, answers []models.Answer, agents []models.Agent) *store.Evidence {
	ev := &store.Evidence{
		Question: question,
		Answers:  answers,
		Agents:   make(map[string]models.Agent),
		Stakes:   make(map[string][]models.Stake),
	}
	for _, g := range agents {
		ev.Agents[g.ID] = g
	}
	return ev
}

func openQuestion(minAnswers int) models.Question {
	return models.Question{
		ID:                 "q1",
		Content:            "test question",
		Category:           models.CategoryAnalytical,
		Status:             models.StatusOpen,
		MinAnswers:         minAnswers,
		ConsensusThreshold: 0.5,
		CreatedAt:          time.Now(),
	}
}

func TestBuildSnapshotStatusPreconditions(t *testing.T) {
	answers := []models.Answer{{ID: "a1", QuestionID: "q1", AgentID: "g1", Content: "x"}}
	agents := []models.Agent{{ID: "g1", ReputationScore: 10}}

	// CONSENSUS stays recomputable; the committer guards against regression.
	for _, status := range []models.QuestionStatus{models.StatusOpen, models.StatusDebating, models.StatusConsensus} {
		q := openQuestion(1)
		q.Status = status
		_, err := BuildSnapshot(evidenceFixture(q, answers, agents))
		assert.NoError(t, err, "status %s", status)
	}

	for _, status := range []models.QuestionStatus{models.StatusVerified, models.StatusClosed} {
		q := openQuestion(1)
		q.Status = status
		_, err := BuildSnapshot(evidenceFixture(q, answers, agents))
		require.Error(t, err, "status %s", status)
		assert.Equal(t, KindValidation, Classify(err))
		assert.Equal(t, ReasonNotOpen, Reason(err))
	}
}

func TestReputationWeights(t *testing.T) {
	t.Run("combines base accuracy and experience", func(t *testing.T) {
		ev := evidenceFixture(openQuestion(1),
			[]models.Answer{
				{ID: "a1", QuestionID: "q1", AgentID: "g1", Content: "x"},
				{ID: "a2", QuestionID: "q1", AgentID: "g2", Content: "y"},
			},
			[]models.Agent{
				{ID: "g1", ReputationScore: 100, AccuracyRate: 0.5},
				{ID: "g2", ReputationScore: 50},
			})
		snap, err := BuildSnapshot(ev)
		require.NoError(t, err)

		w := reputationWeights(snap)
		assert.InDelta(t, 100.0/150+0.25, w["g1"], 1e-9)
		assert.InDelta(t, 50.0/150, w["g2"], 1e-9)
	})

	t.Run("experience bonus caps at 0.3", func(t *testing.T) {
		ev := evidenceFixture(openQuestion(1),
			[]models.Answer{{ID: "a1", QuestionID: "q1", AgentID: "g1", Content: "x"}},
			[]models.Agent{{ID: "g1", ReputationScore: 10, TotalAnswers: 500}})
		snap, err := BuildSnapshot(ev)
		require.NoError(t, err)

		w := reputationWeights(snap)
		assert.InDelta(t, 1.0+0.3, w["g1"], 1e-9)
	})

	t.Run("weight caps at 2.0", func(t *testing.T) {
		ev := evidenceFixture(openQuestion(1),
			[]models.Answer{{ID: "a1", QuestionID: "q1", AgentID: "g1", Content: "x"}},
			[]models.Agent{{ID: "g1", ReputationScore: 10, AccuracyRate: 3.0, TotalAnswers: 500}})
		snap, err := BuildSnapshot(ev)
		require.NoError(t, err)

		w := reputationWeights(snap)
		assert.Equal(t, 2.0, w["g1"])
	})

	t.Run("zero total reputation zeroes every weight", func(t *testing.T) {
		ev := evidenceFixture(openQuestion(1),
			[]models.Answer{
				{ID: "a1", QuestionID: "q1", AgentID: "g1", Content: "x"},
				{ID: "a2", QuestionID: "q1", AgentID: "g2", Content: "y"},
			},
			[]models.Agent{
				{ID: "g1", ReputationScore: 0, AccuracyRate: 0.9, TotalAnswers: 200},
				{ID: "g2", ReputationScore: 0},
			})
		snap, err := BuildSnapshot(ev)
		require.NoError(t, err)

		w := reputationWeights(snap)
		assert.Zero(t, w["g1"])
		assert.Zero(t, w["g2"])
	})
}

func TestStakeWeights(t *testing.T) {
	t.Run("normalizes active stakes", func(t *testing.T) {
		ev := evidenceFixture(openQuestion(1),
			[]models.Answer{
				{ID: "a1", QuestionID: "q1", AgentID: "g1", Content: "x"},
				{ID: "a2", QuestionID: "q1", AgentID: "g2", Content: "y"},
			},
			[]models.Agent{{ID: "g1"}, {ID: "g2"}})
		ev.Stakes["a1"] = []models.Stake{
			{ID: "s1", AnswerID: "a1", Amount: 30, Status: models.StakeActive},
			{ID: "s2", AnswerID: "a1", Amount: 10, Status: models.StakeLost},
		}
		ev.Stakes["a2"] = []models.Stake{
			{ID: "s3", AnswerID: "a2", Amount: 10, Status: models.StakeActive},
		}
		snap, err := BuildSnapshot(ev)
		require.NoError(t, err)

		w := stakeWeights(snap)
		assert.InDelta(t, 0.75, w[0], 1e-9)
		assert.InDelta(t, 0.25, w[1], 1e-9)
	})

	t.Run("zero total stake zeroes every weight", func(t *testing.T) {
		ev := evidenceFixture(openQuestion(1),
			[]models.Answer{{ID: "a1", QuestionID: "q1", AgentID: "g1", Content: "x"}},
			[]models.Agent{{ID: "g1"}})
		snap, err := BuildSnapshot(ev)
		require.NoError(t, err)

		w := stakeWeights(snap)
		assert.Zero(t, w[0])
	})
}

func TestDebateWeights(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	critique := func(id string, typ models.CritiqueType, impact float64, offset time.Duration) models.Critique {
		return models.Critique{
			ID:             id,
			DebateRoundID:  "r1",
			TargetAnswerID: "a1",
			Type:           typ,
			Impact:         impact,
			CreatedAt:      base.Add(offset),
		}
	}

	newSnap := func(critiques ...models.Critique) *Snapshot {
		ev := evidenceFixture(openQuestion(1),
			[]models.Answer{{ID: "a1", QuestionID: "q1", AgentID: "g1", Content: "x"}},
			[]models.Agent{{ID: "g1"}})
		ev.Rounds = []store.RoundEvidence{{
			Round:     models.DebateRound{ID: "r1", QuestionID: "q1", RoundNumber: 1},
			Critiques: critiques,
		}}
		snap, err := BuildSnapshot(ev)
		if err != nil {
			panic(err)
		}
		return snap
	}

	t.Run("factual error then improvement", func(t *testing.T) {
		snap := newSnap(
			critique("c1", models.CritiqueFactualError, 0.5, 0),
			critique("c2", models.CritiqueImprovement, 1.0, time.Second),
		)
		w := debateWeights(snap)
		// 1.0 * (1 - 0.8*0.5) = 0.6, then 0.6 * (1 + 0.2*1.0) = 0.72.
		assert.InDelta(t, 0.72, w[0], 1e-9)
	})

	t.Run("order follows creation time not round order", func(t *testing.T) {
		snap := newSnap(
			critique("c2", models.CritiqueImprovement, 1.0, time.Second),
			critique("c1", models.CritiqueFactualError, 0.5, 0),
		)
		w := debateWeights(snap)
		assert.InDelta(t, 0.72, w[0], 1e-9)
	})

	t.Run("zero impact improvements leave weight unchanged", func(t *testing.T) {
		snap := newSnap(
			critique("c1", models.CritiqueImprovement, 0, 0),
			critique("c2", models.CritiqueImprovement, 0, time.Second),
		)
		w := debateWeights(snap)
		assert.Equal(t, 1.0, w[0])
	})

	t.Run("weight floors at zero", func(t *testing.T) {
		snap := newSnap(
			critique("c1", models.CritiqueFactualError, 1.0, 0),
			critique("c2", models.CritiqueLogicalFlaw, 1.0, time.Second),
		)
		w := debateWeights(snap)
		// (1 - 0.8) * (1 - 0.6) = 0.08, still positive; add another hit.
		assert.InDelta(t, 0.08, w[0], 1e-9)

		snap = newSnap(critique("c1", models.CritiqueFactualError, 2.0, 0))
		w = debateWeights(snap)
		assert.Zero(t, w[0])
	})
}

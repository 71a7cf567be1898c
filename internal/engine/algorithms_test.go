package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.swarm.consensus/internal/models"
)

func snapshotOf(category models.QuestionCategory, n int, agents []models.Agent) *Snapshot {
	answers := make([]models.Answer, n)
	for i := range answers {
		answers[i] = models.Answer{
			ID:         fmt.Sprintf("a%d", i+1),
			QuestionID: "q1",
			AgentID:    agents[i].ID,
			Content:    fmt.Sprintf("answer %d", i+1),
		}
	}
	q := openQuestion(1)
	q.Category = category
	ev := evidenceFixture(q, answers, agents)
	snap, err := BuildSnapshot(ev)
	if err != nil {
		panic(err)
	}
	return snap
}

func uniformAgents(n int, rep float64) []models.Agent {
	agents := make([]models.Agent, n)
	for i := range agents {
		agents[i] = models.Agent{ID: fmt.Sprintf("g%d", i+1), ReputationScore: rep}
	}
	return agents
}

func TestSelectAlgorithm(t *testing.T) {
	tests := []struct {
		name     string
		category models.QuestionCategory
		n        int
		force    models.Algorithm
		want     models.Algorithm
	}{
		{"factual crowd picks BFT", models.CategoryFactual, 21, "", models.AlgorithmBFT},
		{"factual small stays hybrid", models.CategoryFactual, 20, "", models.AlgorithmHybrid},
		{"analytical small picks DPoR", models.CategoryAnalytical, 10, "", models.AlgorithmDPoR},
		{"analytical crowd stays hybrid", models.CategoryAnalytical, 11, "", models.AlgorithmHybrid},
		{"predictive defaults to hybrid", models.CategoryPredictive, 5, "", models.AlgorithmHybrid},
		{"force overrides selection", models.CategoryFactual, 30, models.AlgorithmHybrid, models.AlgorithmHybrid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := snapshotOf(tt.category, tt.n, uniformAgents(tt.n, 10))
			assert.Equal(t, tt.want, selectAlgorithm(snap, tt.force))
		})
	}
}

func TestRunBFT(t *testing.T) {
	t.Run("supermajority cluster keeps weight", func(t *testing.T) {
		// 21 answers: 15 agree pairwise, 6 outliers agree only among
		// themselves. Cluster support is 14/20 > 2/3; outlier support is
		// 5/20.
		n := 21
		snap := snapshotOf(models.CategoryFactual, n, uniformAgents(n, 10))

		sim := newMatrix(n)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				if i == j {
					continue
				}
				inCluster := i < 15 && j < 15
				bothOut := i >= 15 && j >= 15
				if inCluster || bothOut {
					sim[i][j] = 1.0
				}
			}
		}
		ws := &WeightSet{
			Semantic:   &SemanticScores{Sim: sim},
			Reputation: reputationWeights(snap),
		}

		weights := runBFT(snap, ws, 0.7)
		for i := 0; i < 15; i++ {
			assert.Greater(t, weights[i], 0.0, "cluster member %d", i)
		}
		for i := 15; i < n; i++ {
			assert.Zero(t, weights[i], "outlier %d", i)
		}
	})

	t.Run("below supermajority collapses to zero", func(t *testing.T) {
		n := 3
		snap := snapshotOf(models.CategoryFactual, n, uniformAgents(n, 10))
		sim := newMatrix(n)
		// Only a1~a2 agree: support 1/3 each, below the 2/3 gate.
		sim[0][1], sim[1][0] = 1.0, 1.0
		ws := &WeightSet{
			Semantic:   &SemanticScores{Sim: sim},
			Reputation: reputationWeights(snap),
		}
		weights := runBFT(snap, ws, 0.7)
		assert.Zero(t, weights[0])
		assert.Zero(t, weights[1])
		assert.Zero(t, weights[2])
	})

	t.Run("exactly two thirds of peers is not enough", func(t *testing.T) {
		n := 4
		snap := snapshotOf(models.CategoryFactual, n, uniformAgents(n, 10))
		sim := newMatrix(n)
		// a1 agrees with 2 of its 3 peers: support is exactly 2/3, and the
		// gate requires strictly more.
		for _, j := range []int{1, 2} {
			sim[0][j], sim[j][0] = 1.0, 1.0
		}
		ws := &WeightSet{
			Semantic:   &SemanticScores{Sim: sim},
			Reputation: reputationWeights(snap),
		}
		weights := runBFT(snap, ws, 0.7)
		assert.Zero(t, weights[0])
	})

	t.Run("single answer has no peers to divide by", func(t *testing.T) {
		snap := snapshotOf(models.CategoryFactual, 1, uniformAgents(1, 10))
		ws := &WeightSet{
			Semantic:   &SemanticScores{Sim: newMatrix(1)},
			Reputation: reputationWeights(snap),
		}
		weights := runBFT(snap, ws, 0.7)
		assert.Zero(t, weights[0])
	})
}

func TestRunDPoR(t *testing.T) {
	t.Run("only the top thirty percent vote", func(t *testing.T) {
		n := 10
		agents := make([]models.Agent, n)
		for i := range agents {
			agents[i] = models.Agent{
				ID:              fmt.Sprintf("g%d", i+1),
				ReputationScore: float64(100 - 10*i), // 100, 90, ... 10
			}
		}
		snap := snapshotOf(models.CategoryAnalytical, n, agents)
		for i := range snap.Answers {
			snap.Answers[i].Answer.Confidence = 0.9
		}
		ws := &WeightSet{
			Semantic:   &SemanticScores{Sim: newMatrix(n)},
			Reputation: reputationWeights(snap),
			Stake:      make([]float64, n),
		}

		weights := runDPoR(snap, ws)
		for i := 0; i < 3; i++ {
			assert.Greater(t, weights[i], 0.0, "eligible answer %d", i)
		}
		for i := 3; i < n; i++ {
			assert.Zero(t, weights[i], "truncated answer %d", i)
		}
		// Eligible weights follow 0.6*rep + 0.3*stake + 0.1*confidence.
		rep := ws.Reputation["g1"]
		assert.InDelta(t, 0.6*rep+0.1*0.9, weights[0], 1e-9)
	})

	t.Run("reputation ties break toward earlier submission", func(t *testing.T) {
		n := 4
		snap := snapshotOf(models.CategoryAnalytical, n, uniformAgents(n, 50))
		ws := &WeightSet{
			Semantic:   &SemanticScores{Sim: newMatrix(n)},
			Reputation: reputationWeights(snap),
			Stake:      make([]float64, n),
		}

		// ceil(0.3*4) = 2 eligible; all reputations equal, so the first
		// two submissions are eligible.
		weights := runDPoR(snap, ws)
		assert.Greater(t, weights[0], 0.0)
		assert.Greater(t, weights[1], 0.0)
		assert.Zero(t, weights[2])
		assert.Zero(t, weights[3])
	})
}

func TestRunHybrid(t *testing.T) {
	t.Run("debate factor multiplies the base", func(t *testing.T) {
		n := 1
		snap := snapshotOf(models.CategoryPredictive, n, uniformAgents(n, 10))
		snap.Answers[0].Answer.Confidence = 1.0
		ws := &WeightSet{
			Semantic:   &SemanticScores{Sim: newMatrix(n)},
			Reputation: map[string]float64{"g1": 1.0},
			Stake:      []float64{0.5},
			Debate:     []float64{0.72},
		}

		weights := runHybrid(snap, ws)
		base := 0.2*1.0 + 0.3*1.0 + 0.2*0.5 + 0.2*0
		assert.InDelta(t, base*(0.1*0.72+0.9), weights[0], 1e-9)
	})
}

func TestFinalize(t *testing.T) {
	t.Run("dense ranks with weakly decreasing weights", func(t *testing.T) {
		n := 4
		snap := snapshotOf(models.CategoryPredictive, n, uniformAgents(n, 10))
		ws := &WeightSet{Semantic: &SemanticScores{Sim: newMatrix(n)}}

		out, err := finalize(models.AlgorithmHybrid, snap, ws, []float64{0.2, 0.8, 0.5, 0.5})
		require.NoError(t, err)
		require.Len(t, out.Ranked, n)

		seen := make(map[int]bool)
		prev := out.Ranked[0].FinalWeight
		for i, r := range out.Ranked {
			assert.Equal(t, i+1, r.Rank)
			assert.False(t, seen[r.Rank])
			seen[r.Rank] = true
			assert.LessOrEqual(t, r.FinalWeight, prev)
			prev = r.FinalWeight
		}
		assert.Equal(t, "a2", out.Ranked[0].AnswerID)
		// Equal weights keep submission order.
		assert.Equal(t, "a3", out.Ranked[1].AnswerID)
		assert.Equal(t, "a4", out.Ranked[2].AnswerID)
	})

	t.Run("single answer has full strength and confidence", func(t *testing.T) {
		snap := snapshotOf(models.CategoryPredictive, 1, uniformAgents(1, 10))
		ws := &WeightSet{Semantic: &SemanticScores{Sim: newMatrix(1)}}

		out, err := finalize(models.AlgorithmHybrid, snap, ws, []float64{0.4})
		require.NoError(t, err)
		assert.Equal(t, 1.0, out.ConsensusStrength)
		assert.Equal(t, 1.0, out.ConfidenceLevel)
		assert.True(t, out.ConsensusReached)
		require.NotNil(t, out.WinningAnswerID)
		assert.Equal(t, "a1", *out.WinningAnswerID)
	})

	t.Run("all zero weights is a logic failure", func(t *testing.T) {
		snap := snapshotOf(models.CategoryPredictive, 2, uniformAgents(2, 10))
		ws := &WeightSet{Semantic: &SemanticScores{Sim: newMatrix(2)}}

		_, err := finalize(models.AlgorithmHybrid, snap, ws, []float64{0, 0})
		require.Error(t, err)
		assert.Equal(t, KindLogic, Classify(err))
		assert.Equal(t, ReasonNoValidAnswers, Reason(err))
	})

	t.Run("winning answer is nil below threshold", func(t *testing.T) {
		snap := snapshotOf(models.CategoryPredictive, 2, uniformAgents(2, 10))
		snap.Question.ConsensusThreshold = 0.9
		ws := &WeightSet{Semantic: &SemanticScores{Sim: newMatrix(2)}}

		out, err := finalize(models.AlgorithmHybrid, snap, ws, []float64{0.5, 0.4})
		require.NoError(t, err)
		assert.False(t, out.ConsensusReached)
		assert.Nil(t, out.WinningAnswerID)
		assert.InDelta(t, 0.5/0.9, out.ConsensusStrength, 1e-9)
	})
}

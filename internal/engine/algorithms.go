package engine

import (
	"math"
	"sort"

	"dev.swarm.consensus/internal/models"
	"dev.swarm.consensus/internal/store"
)

// bftIterations is the number of stability passes the BFT scorer runs. The
// passes do not feed back into each other; the last pass wins.
const bftIterations = 3

// selectAlgorithm applies the deterministic selection rule, or the forced
// override when one is present on the job.
func selectAlgorithm(snap *Snapshot, force models.Algorithm) models.Algorithm {
	if force != "" {
		return force
	}
	n := snap.Len()
	switch {
	case snap.Question.Category == models.CategoryFactual && n > 20:
		return models.AlgorithmBFT
	case snap.Question.Category == models.CategoryAnalytical && n <= 10:
		return models.AlgorithmDPoR
	default:
		return models.AlgorithmHybrid
	}
}

// runAlgorithm produces the per-answer final weights for the selected
// algorithm, indexed by answer position.
func runAlgorithm(alg models.Algorithm, snap *Snapshot, ws *WeightSet, similarityGate float64) []float64 {
	switch alg {
	case models.AlgorithmBFT:
		return runBFT(snap, ws, similarityGate)
	case models.AlgorithmDPoR:
		return runDPoR(snap, ws)
	default:
		return runHybrid(snap, ws)
	}
}

// runBFT is the reputation-weighted agreement heuristic: an answer keeps the
// similarity-weighted reputation of its agreeing peers only when more than
// two thirds of the other answers corroborate it.
func runBFT(snap *Snapshot, ws *WeightSet, similarityGate float64) []float64 {
	n := snap.Len()
	weights := make([]float64, n)

	for iter := 0; iter < bftIterations; iter++ {
		for i := 0; i < n; i++ {
			acc := 0.0
			peers := 0
			for j := 0; j < n; j++ {
				if j == i {
					continue
				}
				sim := ws.Semantic.Sim[i][j]
				if sim > similarityGate {
					acc += sim * ws.Reputation[snap.Answers[j].Agent.ID]
					peers++
				}
			}
			support := 0.0
			if n > 1 {
				support = float64(peers) / float64(n-1)
			}
			if support > 2.0/3.0 {
				weights[i] = acc
			} else {
				weights[i] = 0
			}
		}
	}
	return weights
}

// runDPoR restricts voting to the top 30% of answers by author reputation
// and blends reputation, stake and confidence for the eligible set.
func runDPoR(snap *Snapshot, ws *WeightSet) []float64 {
	n := snap.Len()
	weights := make([]float64, n)

	eligibleCount := int(math.Ceil(0.3 * float64(n)))
	if eligibleCount > n {
		eligibleCount = n
	}

	// Answers are in submission order, so a stable sort by reputation
	// breaks ties toward the earliest submission.
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ra := ws.Reputation[snap.Answers[order[a]].Agent.ID]
		rb := ws.Reputation[snap.Answers[order[b]].Agent.ID]
		return ra > rb
	})

	for _, i := range order[:eligibleCount] {
		rep := ws.Reputation[snap.Answers[i].Agent.ID]
		weights[i] = 0.6*rep + 0.3*ws.Stake[i] + 0.1*snap.Answers[i].Answer.Confidence
	}
	return weights
}

// runHybrid blends confidence, reputation, stake and mean similarity, then
// applies the debate factor: base * (0.1*W_deb + 0.9).
func runHybrid(snap *Snapshot, ws *WeightSet) []float64 {
	n := snap.Len()
	weights := make([]float64, n)

	for i := 0; i < n; i++ {
		v := snap.Answers[i]
		base := 0.2*v.Answer.Confidence +
			0.3*ws.Reputation[v.Agent.ID] +
			0.2*ws.Stake[i] +
			0.2*ws.Semantic.AvgSim(i)
		w := base * (0.1*ws.Debate[i] + 0.9)
		if w < 0 {
			w = 0
		}
		weights[i] = w
	}
	return weights
}

// Outcome is the finalized result of one consensus run.
type Outcome struct {
	Algorithm         models.Algorithm
	Ranked            []store.RankedWeight // rank ascending
	ConsensusStrength float64
	ConfidenceLevel   float64
	ConsensusReached  bool
	WinningAnswerID   *string // rank-1 answer iff consensus was reached
	SemanticFallback  bool
}

// finalize sorts the weights into a dense 1-based ranking and derives the
// outcome statistics. Ties break toward the earliest submission, then by
// answer id; both orderings are already encoded in snapshot positions.
func finalize(alg models.Algorithm, snap *Snapshot, ws *WeightSet, weights []float64) (*Outcome, error) {
	n := snap.Len()
	if n == 0 {
		return nil, newError(KindLogic, ReasonNoValidAnswers, nil)
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return weights[order[a]] > weights[order[b]]
	})

	out := &Outcome{
		Algorithm:        alg,
		Ranked:           make([]store.RankedWeight, 0, n),
		SemanticFallback: ws.Semantic.Fallback,
	}

	total := 0.0
	for rank, i := range order {
		v := snap.Answers[i]
		out.Ranked = append(out.Ranked, store.RankedWeight{
			AnswerID:    v.Answer.ID,
			AgentID:     v.Agent.ID,
			FinalWeight: weights[i],
			Rank:        rank + 1,
		})
		total += weights[i]
	}

	top := out.Ranked[0].FinalWeight
	if top <= 0 {
		return nil, newError(KindLogic, ReasonNoValidAnswers, nil)
	}

	if total > 0 {
		out.ConsensusStrength = top / total
	}
	if n >= 2 {
		out.ConfidenceLevel = (top - out.Ranked[1].FinalWeight) / top
	} else {
		out.ConfidenceLevel = 1.0
	}
	out.ConsensusReached = out.ConsensusStrength >= snap.Question.ConsensusThreshold
	if out.ConsensusReached {
		id := out.Ranked[0].AnswerID
		out.WinningAnswerID = &id
	}
	return out, nil
}

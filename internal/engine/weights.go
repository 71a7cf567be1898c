package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"dev.swarm.consensus/internal/embedding"
	"dev.swarm.consensus/internal/models"
)

// WeightSet holds the four independent weight vectors computed from a
// snapshot. Reputation is keyed by agent id; Stake and Debate are indexed
// by answer position.
type WeightSet struct {
	Semantic   *SemanticScores
	Reputation map[string]float64
	Stake      []float64
	Debate     []float64
}

// computeWeights runs the four calculators concurrently and joins their
// results. Only the semantic calculator touches the network; it is bounded
// by embedTimeout and degrades to the lexical fallback rather than failing.
func computeWeights(ctx context.Context, embedder embedding.Embedder, snap *Snapshot, embedTimeout time.Duration, log *logrus.Logger) (*WeightSet, error) {
	ws := &WeightSet{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		embedCtx, cancel := context.WithTimeout(gctx, embedTimeout)
		defer cancel()
		ws.Semantic = computeSemantic(embedCtx, embedder, snap, log)
		return nil
	})
	g.Go(func() error {
		ws.Reputation = reputationWeights(snap)
		return nil
	})
	g.Go(func() error {
		ws.Stake = stakeWeights(snap)
		return nil
	})
	g.Go(func() error {
		ws.Debate = debateWeights(snap)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ws, nil
}

// reputationWeights computes W_rep per answering agent:
// min(rep/totalRep + accuracy*0.5 + min(totalAnswers/100, 0.3), 2.0).
// Zero total reputation zeroes every weight, bonuses included.
func reputationWeights(snap *Snapshot) map[string]float64 {
	weights := make(map[string]float64, snap.Len())

	total := 0.0
	for _, v := range snap.Answers {
		total += v.Agent.ReputationScore
	}
	if total == 0 {
		for _, v := range snap.Answers {
			weights[v.Agent.ID] = 0
		}
		return weights
	}

	for _, v := range snap.Answers {
		base := v.Agent.ReputationScore / total
		accuracyBonus := v.Agent.AccuracyRate * 0.5
		experienceBonus := float64(v.Agent.TotalAnswers) / 100
		if experienceBonus > 0.3 {
			experienceBonus = 0.3
		}
		w := base + accuracyBonus + experienceBonus
		if w > 2.0 {
			w = 2.0
		}
		weights[v.Agent.ID] = w
	}
	return weights
}

// stakeWeights computes W_stk per answer: its ACTIVE stake total normalized
// by the question-wide ACTIVE stake total. Zero total stake zeroes every
// weight.
func stakeWeights(snap *Snapshot) []float64 {
	weights := make([]float64, snap.Len())

	total := 0.0
	for _, v := range snap.Answers {
		total += v.ActiveStake
	}
	if total == 0 {
		return weights
	}

	for i, v := range snap.Answers {
		weights[i] = v.ActiveStake / total
	}
	return weights
}

// debateWeights computes W_deb per answer: a multiplicative factor starting
// at 1.0, adjusted by each critique targeting the answer in creation order.
func debateWeights(snap *Snapshot) []float64 {
	weights := make([]float64, snap.Len())

	for i, v := range snap.Answers {
		w := 1.0
		for _, c := range snap.CritiquesOf(v.Answer.ID) {
			switch c.Type {
			case models.CritiqueFactualError:
				w *= 1 - 0.8*c.Impact
			case models.CritiqueLogicalFlaw:
				w *= 1 - 0.6*c.Impact
			case models.CritiqueMissingContext:
				w *= 1 - 0.3*c.Impact
			case models.CritiqueImprovement:
				w *= 1 + 0.2*c.Impact
			}
		}
		if w < 0 {
			w = 0
		}
		weights[i] = w
	}
	return weights
}

package engine

import (
	"sort"

	"dev.swarm.consensus/internal/models"
	"dev.swarm.consensus/internal/store"
)

// AnswerView is one answer joined with its authoring agent and its active
// stake total. Views are plain values: everything downstream of the loader
// is pure computation over the snapshot.
type AnswerView struct {
	Answer      models.Answer
	Agent       models.Agent
	ActiveStake float64
}

// Snapshot is the immutable in-memory projection of all data needed to
// score a question. Answers are in submission order (earliest first, ties by
// id); Critiques are flattened across all debate rounds in creation order.
type Snapshot struct {
	Question  models.Question
	Answers   []AnswerView
	Critiques []models.Critique

	// byTarget indexes critiques by the answer they target, preserving
	// creation order.
	byTarget map[string][]models.Critique
}

// BuildSnapshot validates the evidence preconditions and flattens the graph
// into a snapshot. A question that already reached CONSENSUS may still be
// recomputed (the committer never regresses status); only VERIFIED and CLOSED
// questions are rejected, along with questions below their answer minimum.
func BuildSnapshot(ev *store.Evidence) (*Snapshot, error) {
	q := ev.Question
	if q.Status == models.StatusVerified || q.Status == models.StatusClosed {
		return nil, newError(KindValidation, ReasonNotOpen, nil)
	}
	if len(ev.Answers) < q.MinAnswers {
		return nil, newError(KindValidation, ReasonInsufficientEvidence,
			&InsufficientEvidenceError{Have: len(ev.Answers), Need: q.MinAnswers})
	}

	snap := &Snapshot{
		Question: q,
		Answers:  make([]AnswerView, 0, len(ev.Answers)),
		byTarget: make(map[string][]models.Critique),
	}

	for _, a := range ev.Answers {
		view := AnswerView{
			Answer: a,
			Agent:  ev.Agents[a.AgentID],
		}
		for _, s := range ev.Stakes[a.ID] {
			if s.Status == models.StakeActive {
				view.ActiveStake += s.Amount
			}
		}
		snap.Answers = append(snap.Answers, view)
	}

	for _, r := range ev.Rounds {
		snap.Critiques = append(snap.Critiques, r.Critiques...)
	}
	sort.SliceStable(snap.Critiques, func(i, j int) bool {
		a, b := snap.Critiques[i], snap.Critiques[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	for _, c := range snap.Critiques {
		snap.byTarget[c.TargetAnswerID] = append(snap.byTarget[c.TargetAnswerID], c)
	}

	return snap, nil
}

// CritiquesOf returns the critiques targeting the given answer in creation
// order.
func (s *Snapshot) CritiquesOf(answerID string) []models.Critique {
	return s.byTarget[answerID]
}

// Len returns the participant count.
func (s *Snapshot) Len() int {
	return len(s.Answers)
}

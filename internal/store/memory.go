package store

import (
	"context"
	"sort"
	"sync"

	"dev.swarm.consensus/internal/models"
)

// MemoryStore is an in-memory Store used in tests and for running the
// service without PostgreSQL. It applies the same transition rules as the
// Postgres implementation.
type MemoryStore struct {
	mu        sync.RWMutex
	questions map[string]models.Question
	agents    map[string]models.Agent
	answers   map[string]models.Answer
	stakes    map[string]models.Stake
	rounds    map[string]models.DebateRound
	critiques map[string]models.Critique
	weights   map[string][]models.ConsensusWeight
	logs      []models.ConsensusLog
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		questions: make(map[string]models.Question),
		agents:    make(map[string]models.Agent),
		answers:   make(map[string]models.Answer),
		stakes:    make(map[string]models.Stake),
		rounds:    make(map[string]models.DebateRound),
		critiques: make(map[string]models.Critique),
		weights:   make(map[string][]models.ConsensusWeight),
	}
}

// Seed helpers. Each upserts by id.

func (m *MemoryStore) PutQuestion(q models.Question) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.questions[q.ID] = q
}

func (m *MemoryStore) PutAgent(g models.Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[g.ID] = g
}

func (m *MemoryStore) PutAnswer(a models.Answer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers[a.ID] = a
}

func (m *MemoryStore) PutStake(s models.Stake) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stakes[s.ID] = s
}

func (m *MemoryStore) PutDebateRound(r models.DebateRound) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds[r.ID] = r
}

func (m *MemoryStore) PutCritique(c models.Critique) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.critiques[c.ID] = c
}

// Question returns the current state of a question, for assertions.
func (m *MemoryStore) Question(id string) (models.Question, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.questions[id]
	return q, ok
}

// Agent returns the current state of an agent, for assertions.
func (m *MemoryStore) Agent(id string) (models.Agent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.agents[id]
	return g, ok
}

// Stake returns the current state of a stake, for assertions.
func (m *MemoryStore) Stake(id string) (models.Stake, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stakes[id]
	return s, ok
}

// Logs returns all audit rows appended for a question, oldest first.
func (m *MemoryStore) Logs(questionID string) []models.ConsensusLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ConsensusLog, 0)
	for _, l := range m.logs {
		if l.QuestionID == questionID {
			out = append(out, l)
		}
	}
	return out
}

// CreateQuestion implements Store.
func (m *MemoryStore) CreateQuestion(_ context.Context, q models.Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q.Status = models.StatusOpen
	m.questions[q.ID] = q
	return nil
}

// InsertAnswer implements Store.
func (m *MemoryStore) InsertAnswer(_ context.Context, a models.Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.questions[a.QuestionID]
	if !ok {
		return ErrNotFound
	}
	if q.Status != models.StatusOpen && q.Status != models.StatusDebating {
		return ErrStatusConflict
	}
	for _, existing := range m.answers {
		if existing.QuestionID == a.QuestionID && existing.AgentID == a.AgentID {
			return ErrDuplicateAnswer
		}
	}
	m.answers[a.ID] = a
	if g, ok := m.agents[a.AgentID]; ok {
		g.TotalAnswers++
		m.agents[a.AgentID] = g
	}
	return nil
}

// LoadEvidence implements Store.
func (m *MemoryStore) LoadEvidence(_ context.Context, questionID string) (*Evidence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q, ok := m.questions[questionID]
	if !ok {
		return nil, ErrNotFound
	}

	ev := &Evidence{
		Question: q,
		Agents:   make(map[string]models.Agent),
		Stakes:   make(map[string][]models.Stake),
	}

	for _, a := range m.answers {
		if a.QuestionID == questionID {
			ev.Answers = append(ev.Answers, a)
		}
	}
	sort.Slice(ev.Answers, func(i, j int) bool {
		if !ev.Answers[i].CreatedAt.Equal(ev.Answers[j].CreatedAt) {
			return ev.Answers[i].CreatedAt.Before(ev.Answers[j].CreatedAt)
		}
		return ev.Answers[i].ID < ev.Answers[j].ID
	})

	answerSet := make(map[string]bool, len(ev.Answers))
	for _, a := range ev.Answers {
		answerSet[a.ID] = true
		if g, ok := m.agents[a.AgentID]; ok {
			ev.Agents[g.ID] = g
		}
	}

	for _, s := range m.stakes {
		if answerSet[s.AnswerID] {
			ev.Stakes[s.AnswerID] = append(ev.Stakes[s.AnswerID], s)
		}
	}
	for id := range ev.Stakes {
		sts := ev.Stakes[id]
		sort.Slice(sts, func(i, j int) bool { return sts[i].CreatedAt.Before(sts[j].CreatedAt) })
	}

	roundIdx := make(map[string]int)
	for _, r := range m.rounds {
		if r.QuestionID == questionID {
			ev.Rounds = append(ev.Rounds, RoundEvidence{Round: r})
		}
	}
	sort.Slice(ev.Rounds, func(i, j int) bool {
		return ev.Rounds[i].Round.RoundNumber > ev.Rounds[j].Round.RoundNumber
	})
	for i, r := range ev.Rounds {
		roundIdx[r.Round.ID] = i
	}

	for _, c := range m.critiques {
		if i, ok := roundIdx[c.DebateRoundID]; ok {
			ev.Rounds[i].Critiques = append(ev.Rounds[i].Critiques, c)
		}
	}
	for i := range ev.Rounds {
		cs := ev.Rounds[i].Critiques
		sort.Slice(cs, func(a, b int) bool {
			if !cs[a].CreatedAt.Equal(cs[b].CreatedAt) {
				return cs[a].CreatedAt.Before(cs[b].CreatedAt)
			}
			return cs[a].ID < cs[b].ID
		})
	}

	return ev, nil
}

// CommitResult implements Store.
func (m *MemoryStore) CommitResult(_ context.Context, c Commit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.questions[c.QuestionID]
	if !ok {
		return ErrNotFound
	}
	if c.ConsensusReached && !q.Status.CanTransition(models.StatusConsensus) &&
		q.Status != models.StatusVerified {
		return ErrStatusConflict
	}

	rows := make([]models.ConsensusWeight, 0, len(c.Weights))
	for _, w := range c.Weights {
		rows = append(rows, models.ConsensusWeight{
			QuestionID:  c.QuestionID,
			AnswerID:    w.AnswerID,
			AgentID:     w.AgentID,
			FinalWeight: w.FinalWeight,
			Rank:        w.Rank,
			CreatedAt:   c.ReachedAt,
		})
		if a, ok := m.answers[w.AnswerID]; ok {
			fw, rank := w.FinalWeight, w.Rank
			a.FinalWeight = &fw
			a.ConsensusRank = &rank
			m.answers[w.AnswerID] = a
		}
	}
	m.weights[c.QuestionID] = rows

	if c.ConsensusReached && q.Status.CanTransition(models.StatusConsensus) {
		q.Status = models.StatusConsensus
		if q.ConsensusReachedAt == nil {
			at := c.ReachedAt
			q.ConsensusReachedAt = &at
		}
		m.questions[c.QuestionID] = q
	}

	if c.SettleStakes && c.ConsensusReached && c.Log.WinningAnswerID != nil {
		winner := *c.Log.WinningAnswerID
		for id, s := range m.stakes {
			a, ok := m.answers[s.AnswerID]
			if !ok || a.QuestionID != c.QuestionID || s.Status != models.StakeActive {
				continue
			}
			if s.AnswerID == winner {
				s.Status = models.StakeWon
			} else {
				s.Status = models.StakeLost
			}
			m.stakes[id] = s
		}
	}

	m.logs = append(m.logs, c.Log)
	return nil
}

// ApplyReputationDeltas implements Store.
func (m *MemoryStore) ApplyReputationDeltas(_ context.Context, deltas []ReputationDelta) ([]models.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	updated := make([]models.Agent, 0, len(deltas))
	for _, d := range deltas {
		g, ok := m.agents[d.AgentID]
		if !ok {
			continue
		}
		g.ReputationScore += d.Delta
		if g.ReputationScore < 0 {
			g.ReputationScore = 0
		}
		if d.WonAnswer {
			g.CorrectAnswers++
		}
		if g.TotalAnswers > 0 {
			g.AccuracyRate = float64(g.CorrectAnswers) / float64(g.TotalAnswers)
			if g.AccuracyRate > 1 {
				g.AccuracyRate = 1
			}
		}
		m.agents[d.AgentID] = g
		updated = append(updated, g)
	}
	return updated, nil
}

// TopAgents implements Store.
func (m *MemoryStore) TopAgents(_ context.Context, n int) ([]models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agents := make([]models.Agent, 0, len(m.agents))
	for _, g := range m.agents {
		agents = append(agents, g)
	}
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].ReputationScore != agents[j].ReputationScore {
			return agents[i].ReputationScore > agents[j].ReputationScore
		}
		return agents[i].ID < agents[j].ID
	})
	if n < len(agents) {
		agents = agents[:n]
	}
	return agents, nil
}

// MarkDebating implements Store.
func (m *MemoryStore) MarkDebating(_ context.Context, questionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.questions[questionID]
	if !ok {
		return ErrNotFound
	}
	if q.Status == models.StatusOpen {
		q.Status = models.StatusDebating
		m.questions[questionID] = q
	}
	return nil
}

// LatestConsensus implements Store.
func (m *MemoryStore) LatestConsensus(_ context.Context, questionID string) (*models.ConsensusLog, []models.ConsensusWeight, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *models.ConsensusLog
	for i := len(m.logs) - 1; i >= 0; i-- {
		if m.logs[i].QuestionID == questionID {
			l := m.logs[i]
			latest = &l
			break
		}
	}
	if latest == nil {
		return nil, nil, nil
	}

	rows := m.weights[questionID]
	weights := make([]models.ConsensusWeight, len(rows))
	copy(weights, rows)
	sort.Slice(weights, func(i, j int) bool { return weights[i].Rank < weights[j].Rank })
	return latest, weights, nil
}

// QuestionState implements Store.
func (m *MemoryStore) QuestionState(_ context.Context, questionID string) (*QuestionState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q, ok := m.questions[questionID]
	if !ok {
		return nil, ErrNotFound
	}
	count := 0
	for _, a := range m.answers {
		if a.QuestionID == questionID {
			count++
		}
	}
	return &QuestionState{Question: q, AnswerCount: count}, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*PostgresStore)(nil)

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"dev.swarm.consensus/internal/config"
	"dev.swarm.consensus/internal/models"
)

// PostgresStore implements Store on top of PostgreSQL via pgxpool.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *logrus.Logger
}

// NewPostgresStore connects to PostgreSQL using the given configuration.
func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig, log *logrus.Logger) (*PostgresStore, error) {
	if log == nil {
		log = logrus.New()
	}

	connString := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name, cfg.SSLMode)

	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.WithField("database", cfg.Name).Info("Connected to PostgreSQL")
	return &PostgresStore{pool: pool, log: log}, nil
}

// Pool exposes the underlying connection pool for health checks.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// CreateSchema creates the consensus tables if they do not exist.
func (s *PostgresStore) CreateSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS agents (
			id VARCHAR(255) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			reputation_score DECIMAL(12,4) NOT NULL DEFAULT 0,
			accuracy_rate DECIMAL(5,4) NOT NULL DEFAULT 0,
			total_answers INT NOT NULL DEFAULT 0,
			correct_answers INT NOT NULL DEFAULT 0,
			capabilities TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS questions (
			id VARCHAR(255) PRIMARY KEY,
			content TEXT NOT NULL,
			category VARCHAR(50) NOT NULL,
			status VARCHAR(50) NOT NULL DEFAULT 'OPEN',
			min_answers INT NOT NULL DEFAULT 3,
			consensus_threshold DECIMAL(5,4) NOT NULL DEFAULT 0.66,
			open_until TIMESTAMP WITH TIME ZONE,
			consensus_reached_at TIMESTAMP WITH TIME ZONE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS answers (
			id VARCHAR(255) PRIMARY KEY,
			question_id VARCHAR(255) NOT NULL REFERENCES questions(id),
			agent_id VARCHAR(255) NOT NULL REFERENCES agents(id),
			content TEXT NOT NULL,
			reasoning TEXT,
			confidence DECIMAL(5,4) NOT NULL DEFAULT 0,
			final_weight DECIMAL(12,6),
			consensus_rank INT,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			UNIQUE (question_id, agent_id)
		);

		CREATE TABLE IF NOT EXISTS stakes (
			id VARCHAR(255) PRIMARY KEY,
			answer_id VARCHAR(255) NOT NULL REFERENCES answers(id),
			agent_id VARCHAR(255) NOT NULL REFERENCES agents(id),
			amount DECIMAL(12,4) NOT NULL CHECK (amount > 0),
			status VARCHAR(20) NOT NULL DEFAULT 'ACTIVE',
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS debate_rounds (
			id VARCHAR(255) PRIMARY KEY,
			question_id VARCHAR(255) NOT NULL REFERENCES questions(id),
			round_number INT NOT NULL,
			started_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			ended_at TIMESTAMP WITH TIME ZONE,
			UNIQUE (question_id, round_number)
		);

		CREATE TABLE IF NOT EXISTS critiques (
			id VARCHAR(255) PRIMARY KEY,
			debate_round_id VARCHAR(255) NOT NULL REFERENCES debate_rounds(id),
			critic_agent_id VARCHAR(255) NOT NULL REFERENCES agents(id),
			target_answer_id VARCHAR(255) NOT NULL REFERENCES answers(id),
			type VARCHAR(50) NOT NULL,
			content TEXT,
			impact DECIMAL(5,4) NOT NULL DEFAULT 0,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS consensus_weights (
			question_id VARCHAR(255) NOT NULL REFERENCES questions(id),
			answer_id VARCHAR(255) NOT NULL REFERENCES answers(id),
			agent_id VARCHAR(255) NOT NULL REFERENCES agents(id),
			final_weight DECIMAL(12,6) NOT NULL,
			rank INT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			PRIMARY KEY (question_id, answer_id)
		);

		CREATE TABLE IF NOT EXISTS consensus_logs (
			id VARCHAR(255) PRIMARY KEY,
			question_id VARCHAR(255) NOT NULL REFERENCES questions(id),
			algorithm VARCHAR(20) NOT NULL,
			participant_count INT NOT NULL,
			confidence_level DECIMAL(5,4) NOT NULL,
			winning_answer_id VARCHAR(255),
			consensus_strength DECIMAL(5,4) NOT NULL,
			calculation_time_ms BIGINT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_answers_question_id ON answers(question_id);
		CREATE INDEX IF NOT EXISTS idx_stakes_answer_id ON stakes(answer_id);
		CREATE INDEX IF NOT EXISTS idx_debate_rounds_question_id ON debate_rounds(question_id);
		CREATE INDEX IF NOT EXISTS idx_critiques_debate_round_id ON critiques(debate_round_id);
		CREATE INDEX IF NOT EXISTS idx_consensus_logs_question_id ON consensus_logs(question_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_agents_reputation ON agents(reputation_score DESC);
	`

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create consensus schema: %w", err)
	}
	return nil
}

// CreateQuestion implements Store.
func (s *PostgresStore) CreateQuestion(ctx context.Context, q models.Question) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO questions (id, content, category, status, min_answers,
			consensus_threshold, open_until, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		q.ID, q.Content, q.Category, models.StatusOpen, q.MinAnswers,
		q.ConsensusThreshold, q.OpenUntil, q.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create question: %w", err)
	}
	return nil
}

// InsertAnswer implements Store.
func (s *PostgresStore) InsertAnswer(ctx context.Context, a models.Answer) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin answer transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status models.QuestionStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM questions WHERE id = $1 FOR SHARE`, a.QuestionID).
		Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to check question %s: %w", a.QuestionID, err)
	}
	if status != models.StatusOpen && status != models.StatusDebating {
		return ErrStatusConflict
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO answers (id, question_id, agent_id, content, reasoning, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (question_id, agent_id) DO NOTHING`,
		a.ID, a.QuestionID, a.AgentID, a.Content, a.Reasoning, a.Confidence, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert answer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateAnswer
	}

	if _, err := tx.Exec(ctx,
		`UPDATE agents SET total_answers = total_answers + 1 WHERE id = $1`, a.AgentID); err != nil {
		return fmt.Errorf("failed to bump agent answer count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit answer: %w", err)
	}
	return nil
}

// LoadEvidence implements Store.
func (s *PostgresStore) LoadEvidence(ctx context.Context, questionID string) (*Evidence, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin evidence transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ev := &Evidence{
		Agents: make(map[string]models.Agent),
		Stakes: make(map[string][]models.Stake),
	}

	q := &ev.Question
	err = tx.QueryRow(ctx, `
		SELECT id, content, category, status, min_answers, consensus_threshold,
		       open_until, consensus_reached_at, created_at
		FROM questions WHERE id = $1`, questionID).
		Scan(&q.ID, &q.Content, &q.Category, &q.Status, &q.MinAnswers,
			&q.ConsensusThreshold, &q.OpenUntil, &q.ConsensusReachedAt, &q.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load question %s: %w", questionID, err)
	}

	rows, err := tx.Query(ctx, `
		SELECT id, question_id, agent_id, content, reasoning, confidence,
		       final_weight, consensus_rank, created_at
		FROM answers WHERE question_id = $1
		ORDER BY created_at ASC, id ASC`, questionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load answers: %w", err)
	}
	answerIDs := make([]string, 0)
	agentIDs := make([]string, 0)
	for rows.Next() {
		var a models.Answer
		if err := rows.Scan(&a.ID, &a.QuestionID, &a.AgentID, &a.Content, &a.Reasoning,
			&a.Confidence, &a.FinalWeight, &a.ConsensusRank, &a.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan answer: %w", err)
		}
		ev.Answers = append(ev.Answers, a)
		answerIDs = append(answerIDs, a.ID)
		agentIDs = append(agentIDs, a.AgentID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate answers: %w", err)
	}

	if len(agentIDs) > 0 {
		rows, err = tx.Query(ctx, `
			SELECT id, name, reputation_score, accuracy_rate, total_answers,
			       correct_answers, capabilities, created_at
			FROM agents WHERE id = ANY($1)`, agentIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to load agents: %w", err)
		}
		for rows.Next() {
			var g models.Agent
			if err := rows.Scan(&g.ID, &g.Name, &g.ReputationScore, &g.AccuracyRate,
				&g.TotalAnswers, &g.CorrectAnswers, &g.Capabilities, &g.CreatedAt); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan agent: %w", err)
			}
			ev.Agents[g.ID] = g
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to iterate agents: %w", err)
		}
	}

	if len(answerIDs) > 0 {
		rows, err = tx.Query(ctx, `
			SELECT id, answer_id, agent_id, amount, status, created_at
			FROM stakes WHERE answer_id = ANY($1)
			ORDER BY created_at ASC`, answerIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to load stakes: %w", err)
		}
		for rows.Next() {
			var st models.Stake
			if err := rows.Scan(&st.ID, &st.AnswerID, &st.AgentID, &st.Amount,
				&st.Status, &st.CreatedAt); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan stake: %w", err)
			}
			ev.Stakes[st.AnswerID] = append(ev.Stakes[st.AnswerID], st)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to iterate stakes: %w", err)
		}
	}

	rows, err = tx.Query(ctx, `
		SELECT id, question_id, round_number, started_at, ended_at
		FROM debate_rounds WHERE question_id = $1
		ORDER BY round_number DESC`, questionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load debate rounds: %w", err)
	}
	roundIdx := make(map[string]int)
	for rows.Next() {
		var r models.DebateRound
		if err := rows.Scan(&r.ID, &r.QuestionID, &r.RoundNumber, &r.StartedAt, &r.EndedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan debate round: %w", err)
		}
		roundIdx[r.ID] = len(ev.Rounds)
		ev.Rounds = append(ev.Rounds, RoundEvidence{Round: r})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate debate rounds: %w", err)
	}

	if len(roundIdx) > 0 {
		roundIDs := make([]string, 0, len(roundIdx))
		for id := range roundIdx {
			roundIDs = append(roundIDs, id)
		}
		rows, err = tx.Query(ctx, `
			SELECT id, debate_round_id, critic_agent_id, target_answer_id,
			       type, content, impact, created_at
			FROM critiques WHERE debate_round_id = ANY($1)
			ORDER BY created_at ASC, id ASC`, roundIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to load critiques: %w", err)
		}
		for rows.Next() {
			var c models.Critique
			if err := rows.Scan(&c.ID, &c.DebateRoundID, &c.CriticAgentID, &c.TargetAnswerID,
				&c.Type, &c.Content, &c.Impact, &c.CreatedAt); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan critique: %w", err)
			}
			if i, ok := roundIdx[c.DebateRoundID]; ok {
				ev.Rounds[i].Critiques = append(ev.Rounds[i].Critiques, c)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to iterate critiques: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit evidence transaction: %w", err)
	}
	return ev, nil
}

// CommitResult implements Store.
func (s *PostgresStore) CommitResult(ctx context.Context, c Commit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin commit transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status models.QuestionStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM questions WHERE id = $1 FOR UPDATE`, c.QuestionID).
		Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to lock question %s: %w", c.QuestionID, err)
	}

	if c.ConsensusReached && !status.CanTransition(models.StatusConsensus) &&
		status != models.StatusVerified {
		return ErrStatusConflict
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM consensus_weights WHERE question_id = $1`, c.QuestionID); err != nil {
		return fmt.Errorf("failed to clear consensus weights: %w", err)
	}

	for _, w := range c.Weights {
		if _, err := tx.Exec(ctx, `
			INSERT INTO consensus_weights (question_id, answer_id, agent_id, final_weight, rank, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			c.QuestionID, w.AnswerID, w.AgentID, w.FinalWeight, w.Rank, c.ReachedAt); err != nil {
			return fmt.Errorf("failed to insert consensus weight: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE answers SET final_weight = $1, consensus_rank = $2 WHERE id = $3`,
			w.FinalWeight, w.Rank, w.AnswerID); err != nil {
			return fmt.Errorf("failed to update answer %s: %w", w.AnswerID, err)
		}
	}

	if c.ConsensusReached && status.CanTransition(models.StatusConsensus) {
		if _, err := tx.Exec(ctx, `
			UPDATE questions
			SET status = $1, consensus_reached_at = COALESCE(consensus_reached_at, $2)
			WHERE id = $3`,
			models.StatusConsensus, c.ReachedAt, c.QuestionID); err != nil {
			return fmt.Errorf("failed to update question status: %w", err)
		}
	}

	if c.SettleStakes && c.ConsensusReached && c.Log.WinningAnswerID != nil {
		if _, err := tx.Exec(ctx, `
			UPDATE stakes SET status = $1
			WHERE answer_id = $2 AND status = $3`,
			models.StakeWon, *c.Log.WinningAnswerID, models.StakeActive); err != nil {
			return fmt.Errorf("failed to settle winning stakes: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE stakes SET status = $1
			WHERE status = $2 AND answer_id IN (
				SELECT id FROM answers WHERE question_id = $3 AND id <> $4
			)`,
			models.StakeLost, models.StakeActive, c.QuestionID, *c.Log.WinningAnswerID); err != nil {
			return fmt.Errorf("failed to settle losing stakes: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO consensus_logs (id, question_id, algorithm, participant_count,
			confidence_level, winning_answer_id, consensus_strength, calculation_time_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.Log.ID, c.Log.QuestionID, c.Log.Algorithm, c.Log.ParticipantCount,
		c.Log.ConfidenceLevel, c.Log.WinningAnswerID, c.Log.ConsensusStrength,
		c.Log.CalculationTimeMs, c.Log.CreatedAt); err != nil {
		return fmt.Errorf("failed to append consensus log: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit consensus result: %w", err)
	}
	return nil
}

// ApplyReputationDeltas implements Store.
func (s *PostgresStore) ApplyReputationDeltas(ctx context.Context, deltas []ReputationDelta) ([]models.Agent, error) {
	if len(deltas) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin reputation transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	updated := make([]models.Agent, 0, len(deltas))
	for _, d := range deltas {
		var g models.Agent
		err := tx.QueryRow(ctx, `
			UPDATE agents
			SET reputation_score = GREATEST(0, reputation_score + $1),
			    correct_answers = correct_answers + $2,
			    accuracy_rate = CASE WHEN total_answers > 0
			        THEN LEAST(1.0, (correct_answers + $2)::decimal / total_answers)
			        ELSE accuracy_rate END
			WHERE id = $3
			RETURNING id, name, reputation_score, accuracy_rate, total_answers,
			          correct_answers, capabilities, created_at`,
			d.Delta, boolToInt(d.WonAnswer), d.AgentID).
			Scan(&g.ID, &g.Name, &g.ReputationScore, &g.AccuracyRate,
				&g.TotalAnswers, &g.CorrectAnswers, &g.Capabilities, &g.CreatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			return nil, fmt.Errorf("failed to update agent %s: %w", d.AgentID, err)
		}
		updated = append(updated, g)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit reputation updates: %w", err)
	}
	return updated, nil
}

// TopAgents implements Store.
func (s *PostgresStore) TopAgents(ctx context.Context, n int) ([]models.Agent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, reputation_score, accuracy_rate, total_answers,
		       correct_answers, capabilities, created_at
		FROM agents
		ORDER BY reputation_score DESC, id ASC
		LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to load leaderboard: %w", err)
	}
	defer rows.Close()

	agents := make([]models.Agent, 0, n)
	for rows.Next() {
		var g models.Agent
		if err := rows.Scan(&g.ID, &g.Name, &g.ReputationScore, &g.AccuracyRate,
			&g.TotalAnswers, &g.CorrectAnswers, &g.Capabilities, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, g)
	}
	return agents, rows.Err()
}

// MarkDebating implements Store.
func (s *PostgresStore) MarkDebating(ctx context.Context, questionID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE questions SET status = $1 WHERE id = $2 AND status = $3`,
		models.StatusDebating, questionID, models.StatusOpen)
	if err != nil {
		return fmt.Errorf("failed to mark question debating: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM questions WHERE id = $1)`, questionID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check question existence: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

// LatestConsensus implements Store.
func (s *PostgresStore) LatestConsensus(ctx context.Context, questionID string) (*models.ConsensusLog, []models.ConsensusWeight, error) {
	var l models.ConsensusLog
	err := s.pool.QueryRow(ctx, `
		SELECT id, question_id, algorithm, participant_count, confidence_level,
		       winning_answer_id, consensus_strength, calculation_time_ms, created_at
		FROM consensus_logs WHERE question_id = $1
		ORDER BY created_at DESC LIMIT 1`, questionID).
		Scan(&l.ID, &l.QuestionID, &l.Algorithm, &l.ParticipantCount, &l.ConfidenceLevel,
			&l.WinningAnswerID, &l.ConsensusStrength, &l.CalculationTimeMs, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to load latest consensus log: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT question_id, answer_id, agent_id, final_weight, rank, created_at
		FROM consensus_weights WHERE question_id = $1
		ORDER BY rank ASC`, questionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load consensus weights: %w", err)
	}
	defer rows.Close()

	var weights []models.ConsensusWeight
	for rows.Next() {
		var w models.ConsensusWeight
		if err := rows.Scan(&w.QuestionID, &w.AnswerID, &w.AgentID,
			&w.FinalWeight, &w.Rank, &w.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("failed to scan consensus weight: %w", err)
		}
		weights = append(weights, w)
	}
	return &l, weights, rows.Err()
}

// QuestionState implements Store.
func (s *PostgresStore) QuestionState(ctx context.Context, questionID string) (*QuestionState, error) {
	st := &QuestionState{}
	q := &st.Question
	err := s.pool.QueryRow(ctx, `
		SELECT q.id, q.content, q.category, q.status, q.min_answers, q.consensus_threshold,
		       q.open_until, q.consensus_reached_at, q.created_at,
		       (SELECT COUNT(*) FROM answers a WHERE a.question_id = q.id)
		FROM questions q WHERE q.id = $1`, questionID).
		Scan(&q.ID, &q.Content, &q.Category, &q.Status, &q.MinAnswers, &q.ConsensusThreshold,
			&q.OpenUntil, &q.ConsensusReachedAt, &q.CreatedAt, &st.AnswerCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load question state: %w", err)
	}
	return st, nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

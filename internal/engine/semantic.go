package engine

import (
	"context"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"dev.swarm.consensus/internal/embedding"
)

// SemanticScores is a symmetric pairwise similarity matrix over the
// snapshot's answers, indexed by answer position. Values are in [0,1].
// Fallback reports whether the lexical fallback was used instead of
// embeddings.
type SemanticScores struct {
	Sim      [][]float64
	Fallback bool
}

// AvgSim returns the mean similarity of answer i to all other answers, 0
// when there is only one answer.
func (s *SemanticScores) AvgSim(i int) float64 {
	n := len(s.Sim)
	if n <= 1 {
		return 0
	}
	sum := 0.0
	for j := 0; j < n; j++ {
		if j != i {
			sum += s.Sim[i][j]
		}
	}
	return sum / float64(n-1)
}

// computeSemantic embeds all answers in one batch call and builds the
// pairwise cosine similarity matrix. Any embedding failure or timeout
// degrades to token Jaccard similarity; degradation is logged but is never
// an error.
func computeSemantic(ctx context.Context, embedder embedding.Embedder, snap *Snapshot, log *logrus.Logger) *SemanticScores {
	n := snap.Len()
	texts := make([]string, n)
	for i, v := range snap.Answers {
		texts[i] = v.Answer.Content + " " + v.Answer.Reasoning
	}

	vectors, err := embedder.EmbedBatch(ctx, texts)
	if err == nil {
		if scores := cosineMatrix(vectors, n); scores != nil {
			return scores
		}
		log.Warn("Embedding provider returned unusable vectors, using lexical fallback")
	} else {
		log.WithError(err).WithField("provider", embedder.Name()).
			Warn("Embedding unavailable, using lexical fallback")
	}

	return jaccardMatrix(texts)
}

// cosineMatrix builds the similarity matrix from embedding vectors. Returns
// nil when the vectors are missing or inconsistent.
func cosineMatrix(vectors [][]float64, n int) *SemanticScores {
	if len(vectors) != n {
		return nil
	}
	for _, v := range vectors {
		if len(v) == 0 {
			return nil
		}
	}

	sim := newMatrix(n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			s := cosineSimilarity(vectors[i], vectors[j])
			sim[i][j] = s
			sim[j][i] = s
		}
	}
	return &SemanticScores{Sim: sim}
}

// cosineSimilarity returns cos(a,b) clamped to [0,1].
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	s := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// jaccardMatrix is the lexical fallback: token Jaccard over
// whitespace-split lowercased words.
func jaccardMatrix(texts []string) *SemanticScores {
	n := len(texts)
	tokens := make([]map[string]bool, n)
	for i, t := range texts {
		tokens[i] = tokenSet(t)
	}

	sim := newMatrix(n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			s := jaccard(tokens[i], tokens[j])
			sim[i][j] = s
			sim[j][i] = s
		}
	}
	return &SemanticScores{Sim: sim, Fallback: true}
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		set[w] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func newMatrix(n int) [][]float64 {
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
	}
	return m
}

package embedding

import (
	"context"
	"fmt"
	"sync"
)

// StaticEmbedder returns preconfigured vectors keyed by exact text. It is a
// deterministic double for engine tests: similarity outcomes are fully
// controlled by the vectors the test seeds.
type StaticEmbedder struct {
	mu        sync.RWMutex
	vectors   map[string][]float64
	dimension int
	err       error
	calls     int
}

// NewStaticEmbedder creates an empty static embedder of the given dimension.
func NewStaticEmbedder(dimension int) *StaticEmbedder {
	return &StaticEmbedder{
		vectors:   make(map[string][]float64),
		dimension: dimension,
	}
}

// Set registers the vector returned for the given text.
func (e *StaticEmbedder) Set(text string, vector []float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vectors[text] = vector
}

// Fail makes every subsequent call return err, exercising the fallback path.
func (e *StaticEmbedder) Fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

// Calls reports how many EmbedBatch calls were made, for batching asserts.
func (e *StaticEmbedder) Calls() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.calls
}

// EmbedBatch implements Embedder.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.calls++
	err := e.err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, ok := e.vectors[t]
		if !ok {
			return nil, fmt.Errorf("no vector registered for text %q", t)
		}
		out[i] = v
	}
	return out, nil
}

// Dimension implements Embedder.
func (e *StaticEmbedder) Dimension() int {
	return e.dimension
}

// Name implements Embedder.
func (e *StaticEmbedder) Name() string {
	return "static"
}

var _ Embedder = (*StaticEmbedder)(nil)

// ABOUTME: In-memory vector index using cosine similarity
// ABOUTME: Default index driver; vectors live only for the process lifetime

package retrieval

import (
	"context"
	"math"
	"sort"
	"sync"
)

type memoryEntry struct {
	content   string
	sourceURL string
	vector    []float32
}

// MemoryIndex stores vectors per source id and ranks queries by cosine
// similarity.
type MemoryIndex struct {
	mu      sync.RWMutex
	sources map[string][]memoryEntry
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{sources: make(map[string][]memoryEntry)}
}

// Upsert implements Index.
func (m *MemoryIndex) Upsert(ctx context.Context, sourceID, sourceURL string, chunks []string, vectors [][]float32) error {
	entries := make([]memoryEntry, 0, len(chunks))
	for i, chunk := range chunks {
		entries = append(entries, memoryEntry{content: chunk, sourceURL: sourceURL, vector: vectors[i]})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[sourceID] = entries
	return nil
}

// Query implements Index.
func (m *MemoryIndex) Query(ctx context.Context, sourceID string, vector []float32, k int) ([]Snippet, error) {
	m.mu.RLock()
	entries := m.sources[sourceID]
	m.mu.RUnlock()

	if len(entries) == 0 {
		return nil, nil
	}

	snippets := make([]Snippet, 0, len(entries))
	for _, e := range entries {
		snippets = append(snippets, Snippet{
			Content:   e.content,
			SourceURL: e.sourceURL,
			Score:     cosine(vector, e.vector),
		})
	}
	sort.SliceStable(snippets, func(i, j int) bool { return snippets[i].Score > snippets[j].Score })

	if k > 0 && len(snippets) > k {
		snippets = snippets[:k]
	}
	return snippets, nil
}

// Delete implements Index.
func (m *MemoryIndex) Delete(ctx context.Context, sourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sources, sourceID)
	return nil
}

// Close implements Index.
func (m *MemoryIndex) Close() error { return nil }

// cosine returns the cosine similarity of two vectors, 0 when either
// has zero magnitude or the lengths disagree.
func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

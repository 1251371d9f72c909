// ABOUTME: Retrieval context manager: ingest a URL into a vector index, query it per turn
// ABOUTME: Pipeline is fetch, extract, chunk, embed, upsert; handles scope each ingested source

package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/voxleaf/concierge-gateway/internal/config"
)

// embedConcurrency bounds parallel chunk embedding during ingest.
const embedConcurrency = 4

// Snippet is one retrieved chunk with its relevance score.
type Snippet struct {
	Content   string
	SourceURL string
	Score     float32
}

// IngestError is a user-visible ingest failure: bad URL, unreachable
// server, non-text content, or embedding failure.
type IngestError struct {
	URL string
	Err error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingesting %s: %v", e.URL, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index stores and searches chunk vectors scoped by source id.
type Index interface {
	Upsert(ctx context.Context, sourceID, sourceURL string, chunks []string, vectors [][]float32) error
	Query(ctx context.Context, sourceID string, vector []float32, k int) ([]Snippet, error)
	Delete(ctx context.Context, sourceID string) error
	Close() error
}

// Manager runs the ingest pipeline and answers per-turn context queries.
type Manager struct {
	fetcher  *fetcher
	embedder Embedder
	index    Index

	chunkSize    int
	chunkOverlap int
	topK         int

	logger *slog.Logger
}

// New wires the manager from config: embedder (ollama or gemini) and
// index driver (memory or qdrant).
func New(ctx context.Context, cfg config.RetrievalConfig, geminiAPIKey string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var embedder Embedder
	var err error
	switch cfg.Embedder {
	case "", "ollama":
		embedder = NewOllamaEmbedder("", cfg.EmbeddingModel, nil)
	case "gemini":
		embedder, err = NewGeminiEmbedder(ctx, geminiAPIKey, cfg.EmbeddingModel)
		if err != nil {
			return nil, fmt.Errorf("creating gemini embedder: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown embedder %q", cfg.Embedder)
	}

	var index Index
	switch cfg.Index {
	case "", "memory":
		index = NewMemoryIndex()
	case "qdrant":
		index, err = NewQdrantIndex(cfg.Qdrant, logger)
		if err != nil {
			return nil, fmt.Errorf("creating qdrant index: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown index driver %q", cfg.Index)
	}

	return NewManager(cfg, embedder, index, logger), nil
}

// NewManager assembles a manager over explicit embedder and index
// implementations.
func NewManager(cfg config.RetrievalConfig, embedder Embedder, index Index, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	chunkOverlap := cfg.ChunkOverlap
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 200
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 3
	}
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = 30 * time.Second
	}

	return &Manager{
		fetcher:      newFetcher(&http.Client{Timeout: fetchTimeout}),
		embedder:     embedder,
		index:        index,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		topK:         topK,
		logger:       logger.With("component", "retrieval"),
	}
}

// Ingest fetches the URL, splits its text, embeds every chunk, and
// stores the vectors under a fresh handle. Failures return *IngestError.
func (m *Manager) Ingest(ctx context.Context, url string) (string, error) {
	text, err := m.fetcher.Fetch(ctx, url)
	if err != nil {
		return "", &IngestError{URL: url, Err: err}
	}

	chunks := splitChunks(text, m.chunkSize, m.chunkOverlap)
	if len(chunks) == 0 {
		return "", &IngestError{URL: url, Err: fmt.Errorf("page has no extractable text")}
	}

	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			vec, err := m.embedder.Embed(gctx, chunk)
			if err != nil {
				return fmt.Errorf("embedding chunk %d: %w", i, err)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", &IngestError{URL: url, Err: err}
	}

	handle := uuid.NewString()
	if err := m.index.Upsert(ctx, handle, url, chunks, vectors); err != nil {
		return "", &IngestError{URL: url, Err: fmt.Errorf("indexing: %w", err)}
	}

	m.logger.Info("source ingested", "url", url, "handle", handle, "chunks", len(chunks))
	return handle, nil
}

// Query embeds the text and returns the top-k snippets from the handle's
// source. k <= 0 uses the configured default.
func (m *Manager) Query(ctx context.Context, handle, text string, k int) ([]Snippet, error) {
	if handle == "" {
		return nil, nil
	}
	if k <= 0 {
		k = m.topK
	}

	vec, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	snippets, err := m.index.Query(ctx, handle, vec, k)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}
	return snippets, nil
}

// Release drops all vectors stored under the handle.
func (m *Manager) Release(ctx context.Context, handle string) error {
	if handle == "" {
		return nil
	}
	if err := m.index.Delete(ctx, handle); err != nil {
		return fmt.Errorf("releasing handle %s: %w", handle, err)
	}
	m.logger.Debug("handle released", "handle", handle)
	return nil
}

// Close releases the underlying index.
func (m *Manager) Close() error {
	return m.index.Close()
}

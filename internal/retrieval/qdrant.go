// ABOUTME: Qdrant vector index driver for the retrieval pipeline
// ABOUTME: Vectors carry content/source_url/source_id payload; queries filter by source_id

package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/voxleaf/concierge-gateway/internal/config"
)

// QdrantIndex stores chunk vectors in a Qdrant collection shared by all
// sources, with per-source filtering on the source_id payload field.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	logger     *slog.Logger

	// The collection is created lazily on first upsert, once the
	// embedder's dimensionality is known.
	ensureOnce sync.Once
	ensureErr  error
}

// NewQdrantIndex connects to the configured Qdrant server.
func NewQdrantIndex(cfg config.QdrantConfig, logger *slog.Logger) (*QdrantIndex, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("qdrant host is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}

	return &QdrantIndex{
		client:     client,
		collection: cfg.Collection,
		logger:     logger.With("component", "qdrant-index"),
	}, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context, dims int) error {
	q.ensureOnce.Do(func() {
		exists, err := q.client.CollectionExists(ctx, q.collection)
		if err != nil {
			q.ensureErr = fmt.Errorf("checking collection: %w", err)
			return
		}
		if exists {
			return
		}

		err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dims),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			q.ensureErr = fmt.Errorf("creating collection: %w", err)
			return
		}
		q.logger.Info("collection created", "collection", q.collection, "dims", dims)
	})
	return q.ensureErr
}

// Upsert implements Index.
func (q *QdrantIndex) Upsert(ctx context.Context, sourceID, sourceURL string, chunks []string, vectors [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := q.ensureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for i, chunk := range chunks {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(uuid.NewString()),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(map[string]any{
				"content":    chunk,
				"source_url": sourceURL,
				"source_id":  sourceID,
			}),
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upserting points: %w", err)
	}
	return nil
}

// Query implements Index.
func (q *QdrantIndex) Query(ctx context.Context, sourceID string, vector []float32, k int) ([]Snippet, error) {
	limit := uint64(k)
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("source_id", sourceID),
			},
		},
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("querying points: %w", err)
	}

	snippets := make([]Snippet, 0, len(points))
	for _, point := range points {
		s := Snippet{Score: point.Score}
		if point.Payload != nil {
			if v, ok := point.Payload["content"]; ok {
				s.Content = v.GetStringValue()
			}
			if v, ok := point.Payload["source_url"]; ok {
				s.SourceURL = v.GetStringValue()
			}
		}
		if s.Content == "" {
			continue
		}
		snippets = append(snippets, s)
	}
	return snippets, nil
}

// Delete implements Index.
func (q *QdrantIndex) Delete(ctx context.Context, sourceID string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("source_id", sourceID),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("deleting points: %w", err)
	}
	return nil
}

// Close implements Index.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

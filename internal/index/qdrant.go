package index

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/loomchat/knowledge/internal/embedder"
	"github.com/loomchat/knowledge/internal/reranker"
)

// Payload field names.
const (
	payloadContent = "content"
	payloadSource  = "source"
	payloadTime    = "modified_at"
)

// searchCandidateFactor over-fetches candidates so threshold filtering and
// reranking still have enough material to fill the result cap.
const searchCandidateFactor = 3

// QdrantIndex implements Client using Qdrant for vector storage. Embedding
// and rerank providers are constructed per Params and cached by identity,
// since every index carries its own provider config.
type QdrantIndex struct {
	client *qdrant.Client
	logger *slog.Logger

	mu        sync.Mutex
	embedders map[string]embedder.Embedder
	rerankers map[string]reranker.Reranker
}

// NewQdrantIndex creates a Qdrant-backed index client.
// url should be in format "host:port" (e.g., "localhost:6334").
func NewQdrantIndex(url string, logger *slog.Logger) (*QdrantIndex, error) {
	host, portStr, err := net.SplitHostPort(url)
	if err != nil {
		// If no port specified, assume default
		host = url
		portStr = "6334"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant url: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &QdrantIndex{
		client:    client,
		logger:    logger,
		embedders: make(map[string]embedder.Embedder),
		rerankers: make(map[string]reranker.Reranker),
	}, nil
}

// Close closes the Qdrant client connection.
func (s *QdrantIndex) Close() error {
	return s.client.Close()
}

// collectionName returns the collection name for an index id.
func (s *QdrantIndex) collectionName(indexID string) string {
	return fmt.Sprintf("kb_%s", indexID)
}

func (s *QdrantIndex) embedderFor(cfg embedder.Config) (embedder.Embedder, error) {
	key := cfg.Fingerprint() + "@" + cfg.BaseURL

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.embedders[key]; ok {
		return e, nil
	}

	e, err := embedder.New(cfg)
	if err != nil {
		return nil, err
	}
	s.embedders[key] = e
	return e, nil
}

func (s *QdrantIndex) rerankerFor(cfg reranker.Config) (reranker.Reranker, error) {
	key := cfg.Fingerprint() + "@" + cfg.BaseURL

	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.rerankers[key]; ok {
		return r, nil
	}

	r, err := reranker.New(cfg)
	if err != nil {
		return nil, err
	}
	s.rerankers[key] = r
	return r, nil
}

func (s *QdrantIndex) dimension(params Params) uint64 {
	if params.Embedding.Dimension > 0 {
		return uint64(params.Embedding.Dimension)
	}
	return embedder.DefaultOllamaDimension
}

// Create provisions a new collection for the index.
func (s *QdrantIndex) Create(ctx context.Context, params Params) error {
	name := s.collectionName(params.ID)

	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.dimension(params),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

// Reset clears the index by dropping and recreating its collection.
// Resetting an index that was never populated is a no-op in effect.
func (s *QdrantIndex) Reset(ctx context.Context, params Params) error {
	name := s.collectionName(params.ID)

	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if exists {
		if err := s.client.DeleteCollection(ctx, name); err != nil {
			return fmt.Errorf("failed to drop collection: %w", err)
		}
	}

	return s.Create(ctx, params)
}

// Add chunks, embeds and upserts one document.
func (s *QdrantIndex) Add(ctx context.Context, params Params, doc Document) error {
	pieces := splitChunks(doc.Content, params.ChunkSize, params.ChunkOverlap)
	if len(pieces) == 0 {
		return nil
	}

	embed, err := s.embedderFor(params.Embedding)
	if err != nil {
		return fmt.Errorf("failed to build embedder: %w", err)
	}

	vectors, err := embed.EmbedBatch(ctx, pieces)
	if err != nil {
		return fmt.Errorf("failed to embed document: %w", err)
	}

	points := make([]*qdrant.PointStruct, len(pieces))
	for i, piece := range pieces {
		payload := map[string]*qdrant.Value{
			payloadContent: qdrant.NewValueString(piece),
			payloadSource:  qdrant.NewValueString(doc.SourceTag),
		}
		if !doc.Timestamp.IsZero() {
			payload[payloadTime] = qdrant.NewValueString(doc.Timestamp.Format(time.RFC3339))
		}

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(uuid.NewString()),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: payload,
		}
	}

	name := s.collectionName(params.ID)
	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Points:         points,
	}); err != nil {
		if gone := s.checkGone(ctx, name); gone != nil {
			return gone
		}
		return fmt.Errorf("failed to upsert points: %w", err)
	}

	return nil
}

// Search embeds the query and returns candidate chunks, most similar first.
// It over-fetches relative to the result cap; threshold filtering and the
// final cap are the caller's concern.
func (s *QdrantIndex) Search(ctx context.Context, params Params, query string) ([]Chunk, error) {
	embed, err := s.embedderFor(params.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to build embedder: %w", err)
	}

	vector, err := embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	name := s.collectionName(params.ID)
	limit := uint64(params.Limit() * searchCandidateFactor)

	response, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		if gone := s.checkGone(ctx, name); gone != nil {
			return nil, gone
		}
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	chunks := make([]Chunk, 0, len(response))
	for _, point := range response {
		chunk := Chunk{
			ID:    point.Id.GetUuid(),
			Score: point.Score,
		}

		if payload := point.Payload; payload != nil {
			if content, ok := payload[payloadContent]; ok {
				chunk.Content = content.GetStringValue()
			}
			if source, ok := payload[payloadSource]; ok {
				chunk.SourceLocator = source.GetStringValue()
			}
			if ts, ok := payload[payloadTime]; ok {
				if t, err := time.Parse(time.RFC3339, ts.GetStringValue()); err == nil {
					chunk.Timestamp = t
				}
			}
		}

		chunks = append(chunks, chunk)
	}

	return chunks, nil
}

// Rerank re-scores chunks against the query using the params' rerank config.
func (s *QdrantIndex) Rerank(ctx context.Context, params Params, query string, chunks []Chunk) ([]Chunk, error) {
	if params.Rerank == nil || len(chunks) == 0 {
		return chunks, nil
	}

	rr, err := s.rerankerFor(*params.Rerank)
	if err != nil {
		return nil, fmt.Errorf("failed to build reranker: %w", err)
	}

	docs := make([]reranker.Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = reranker.Document{Content: chunk.Content, Score: chunk.Score}
	}

	scored, err := rr.Rerank(ctx, query, docs, len(chunks))
	if err != nil {
		return nil, fmt.Errorf("rerank failed: %w", err)
	}

	reranked := make([]Chunk, 0, len(scored))
	for _, sc := range scored {
		chunk := chunks[sc.Index]
		chunk.Score = sc.Score
		reranked = append(reranked, chunk)
	}

	return reranked, nil
}

// Delete tears down the collection backing the index.
func (s *QdrantIndex) Delete(ctx context.Context, indexID string) error {
	name := s.collectionName(indexID)

	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}

	return nil
}

// checkGone reports ErrGone when the collection is confirmed missing,
// nil when it exists or its state cannot be determined.
func (s *QdrantIndex) checkGone(ctx context.Context, name string) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil || exists {
		return nil
	}
	return fmt.Errorf("collection %s: %w", name, ErrGone)
}

// Ensure QdrantIndex implements Client.
var _ Client = (*QdrantIndex)(nil)

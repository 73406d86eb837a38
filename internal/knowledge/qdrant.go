// Package knowledge implements the incident knowledge base: a Qdrant-backed
// vector store over past incidents used for best-effort similarity context
// during root cause analysis.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sevigo/goframe/embeddings"
	"github.com/sevigo/goframe/schema"
	"github.com/sevigo/goframe/vectorstores"
	"github.com/sevigo/goframe/vectorstores/qdrant"

	"github.com/yushao2/sre-agent/internal/core"
)

// qdrantKnowledgeBase implements core.KnowledgeBase using Qdrant as the
// backend. All incidents live in a single collection.
type qdrantKnowledgeBase struct {
	host       string
	collection string
	embedder   embeddings.Embedder
	logger     *slog.Logger
}

// NewQdrantKnowledgeBase creates a knowledge base over the given collection.
func NewQdrantKnowledgeBase(host, collection string, embedder embeddings.Embedder, logger *slog.Logger) core.KnowledgeBase {
	return &qdrantKnowledgeBase{
		host:       host,
		collection: collection,
		embedder:   embedder,
		logger:     logger,
	}
}

func (q *qdrantKnowledgeBase) store() (vectorstores.VectorStore, error) {
	if strings.TrimSpace(q.collection) == "" {
		return nil, fmt.Errorf("collection name cannot be empty")
	}
	return qdrant.New(
		qdrant.WithHost(q.host),
		qdrant.WithEmbedder(q.embedder),
		qdrant.WithCollectionName(q.collection),
		qdrant.WithLogger(q.logger),
	)
}

// AddIncident embeds and stores one incident document.
func (q *qdrantKnowledgeBase) AddIncident(ctx context.Context, inc core.Incident) error {
	if inc.Key == "" || inc.Summary == "" {
		return fmt.Errorf("incident requires a key and a summary")
	}

	store, err := q.store()
	if err != nil {
		return fmt.Errorf("failed to open qdrant collection %s: %w", q.collection, err)
	}

	content := inc.Summary
	if inc.Resolution != "" {
		content += "\n\nResolution: " + inc.Resolution
	}

	doc := schema.Document{
		PageContent: content,
		Metadata: map[string]any{
			"key": inc.Key,
		},
	}
	if _, err := store.AddDocuments(ctx, []schema.Document{doc}); err != nil {
		return fmt.Errorf("failed to add incident %s to collection %s: %w", inc.Key, q.collection, err)
	}
	return nil
}

// Search returns up to k past incidents most similar to the query.
func (q *qdrantKnowledgeBase) Search(ctx context.Context, query string, k int) ([]core.IncidentMatch, error) {
	store, err := q.store()
	if err != nil {
		return nil, fmt.Errorf("failed to open qdrant collection %s: %w", q.collection, err)
	}

	docs, err := store.SimilaritySearch(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("similarity search in collection %s failed: %w", q.collection, err)
	}

	matches := make([]core.IncidentMatch, 0, len(docs))
	for _, doc := range docs {
		match := core.IncidentMatch{Content: doc.PageContent}
		if key, ok := doc.Metadata["key"].(string); ok {
			match.Key = key
		}
		matches = append(matches, match)
	}
	return matches, nil
}

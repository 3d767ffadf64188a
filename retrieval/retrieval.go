// Package retrieval defines the search collaborator consumed by
// workflow node handlers, plus an in-memory implementation for tests
// and small deployments.
package retrieval

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Document is one retrievable unit of text.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SearchResult is a document with its relevance score.
type SearchResult struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

// Store is the retrieval collaborator contract.
type Store interface {
	AddDocuments(ctx context.Context, docs []Document) error
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
	DocumentCount(ctx context.Context) (int, error)
}

// MemoryStore is a term-overlap scored in-memory Store.
type MemoryStore struct {
	mu        sync.RWMutex
	documents []Document
	logger    *zap.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		logger: logger.With(zap.String("component", "retrieval_store")),
	}
}

// AddDocuments stores docs, assigning IDs to documents without one.
func (s *MemoryStore) AddDocuments(ctx context.Context, docs []Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range docs {
		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}
		s.documents = append(s.documents, doc)
	}

	s.logger.Debug("documents added",
		zap.Int("count", len(docs)),
		zap.Int("total", len(s.documents)),
	)
	return nil
}

// Search ranks documents by term overlap with the query and returns the
// top limit results. Documents with no overlapping terms are omitted.
func (s *MemoryStore) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terms := tokenize(query)
	if len(terms) == 0 || limit <= 0 {
		return []SearchResult{}, nil
	}

	results := make([]SearchResult, 0, len(s.documents))
	for _, doc := range s.documents {
		score := overlapScore(terms, tokenize(doc.Content))
		if score > 0 {
			results = append(results, SearchResult{Document: doc, Score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// DocumentCount returns the number of stored documents.
func (s *MemoryStore) DocumentCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents), nil
}

func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, field := range strings.Fields(strings.ToLower(text)) {
		token := strings.Trim(field, ".,;:!?\"'()[]")
		if token != "" {
			tokens[token] = struct{}{}
		}
	}
	return tokens
}

// overlapScore is the fraction of query terms present in the document.
func overlapScore(query, doc map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	matched := 0
	for term := range query {
		if _, ok := doc[term]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(query))
}

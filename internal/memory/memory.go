// Package memory layers typed, namespace-aware helpers over a MemoryIndex:
// reusable tools, seen errors, authored fixes, reference docs, and code
// patterns each get their own namespace and metadata conventions.
package memory

import (
	"context"
	"fmt"
	"sort"

	"neuroforge/internal/domain"
)

const (
	defaultToolsTopK = 4
	defaultFixesTopK = 2

	// successWeight and recencyBonus shape tool re-ranking: proven tools beat
	// marginally closer embeddings, and dated records get a slight edge.
	successWeight = 0.2
	recencyBonus  = 0.05

	// Embed-text code prefixes: tools carry more source than fixes, where the
	// signature does most of the matching.
	toolEmbedCodeLimit = 8192
	fixEmbedCodeLimit  = 2048
)

// hybridQuerier is satisfied by indexes that support combined vector and
// keyword retrieval; doc lookups use it when available.
type hybridQuerier interface {
	HybridQuery(ctx context.Context, namespace, text string, topK int) ([]domain.MemoryMatch, error)
}

// Store wraps a MemoryIndex with the per-namespace conventions.
type Store struct {
	index domain.MemoryIndex
}

// NewStore returns a Store over index.
func NewStore(index domain.MemoryIndex) *Store {
	return &Store{index: index}
}

// AddTool records a working program so later tasks can be primed with it.
// An empty name is allowed; metadata may carry a success_count.
func (s *Store) AddTool(ctx context.Context, name string, language domain.Language, code string, metadata map[string]any) (string, error) {
	if code == "" {
		return "", fmt.Errorf("memory: tool code must not be empty")
	}
	meta := cloneMeta(metadata)
	meta["language"] = string(language)
	meta["code"] = code
	if name != "" {
		meta["name"] = name
	}
	return s.index.Upsert(ctx, domain.NamespaceTools, name+"\n"+prefix(code, toolEmbedCodeLimit), meta)
}

// RetrieveTools returns the topK tools most relevant to query, re-ranked so
// repeatedly successful tools rise above raw-similarity neighbors.
func (s *Store) RetrieveTools(ctx context.Context, query string, topK int) ([]domain.MemoryMatch, error) {
	if topK <= 0 {
		topK = defaultToolsTopK
	}
	// Over-fetch so re-ranking has candidates to promote.
	matches, err := s.index.Query(ctx, domain.NamespaceTools, query, topK*3)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return rankTool(matches[i]) > rankTool(matches[j])
	})
	if topK > len(matches) {
		topK = len(matches)
	}
	return matches[:topK], nil
}

// rankTool scores one tool match: similarity plus a success-count weight plus
// a small bonus when the record carries a timestamp.
func rankTool(m domain.MemoryMatch) float64 {
	rank := m.Score + successWeight*metaFloat(m.Metadata, "success_count")
	if v, ok := m.Metadata["created_at"]; ok && v != nil && v != "" {
		rank += recencyBonus
	}
	return rank
}

// AddError records a runtime failure keyed by its message, with the failing
// source attached for later inspection.
func (s *Store) AddError(ctx context.Context, errText, stderr, code string) (string, error) {
	if errText == "" {
		return "", fmt.Errorf("memory: error text must not be empty")
	}
	meta := map[string]any{"stderr": stderr, "context": code}
	return s.index.Upsert(ctx, domain.NamespaceErrors, errText+"\n"+code, meta)
}

// RetrieveSimilarErrors returns previously seen errors close to errText.
func (s *Store) RetrieveSimilarErrors(ctx context.Context, errText string, topK int) ([]domain.MemoryMatch, error) {
	if topK <= 0 {
		topK = defaultToolsTopK
	}
	return s.index.Query(ctx, domain.NamespaceErrors, errText, topK)
}

// AddFix records a repaired program keyed by the error signature it resolves.
func (s *Store) AddFix(ctx context.Context, signature string, language domain.Language, fixedCode string, metadata map[string]any) (string, error) {
	if signature == "" {
		return "", fmt.Errorf("memory: fix signature must not be empty")
	}
	meta := cloneMeta(metadata)
	meta["language"] = string(language)
	meta["signature"] = signature
	meta["code"] = fixedCode
	return s.index.Upsert(ctx, domain.NamespaceFixes, signature+"\n"+prefix(fixedCode, fixEmbedCodeLimit), meta)
}

// RetrieveFixes returns fixes matching an error signature or raw error text.
func (s *Store) RetrieveFixes(ctx context.Context, signatureOrText string, topK int) ([]domain.MemoryMatch, error) {
	if topK <= 0 {
		topK = defaultFixesTopK
	}
	return s.index.Query(ctx, domain.NamespaceFixes, signatureOrText, topK)
}

// AddDoc stores reference documentation under title.
func (s *Store) AddDoc(ctx context.Context, title, content string, metadata map[string]any) (string, error) {
	if content == "" {
		return "", fmt.Errorf("memory: doc content must not be empty")
	}
	meta := cloneMeta(metadata)
	meta["title"] = title
	meta["content"] = content
	return s.index.Upsert(ctx, domain.NamespaceDocs, title+"\n"+content, meta)
}

// RetrieveDocs returns docs relevant to query, using hybrid keyword+vector
// retrieval when the index supports it.
func (s *Store) RetrieveDocs(ctx context.Context, query string, topK int) ([]domain.MemoryMatch, error) {
	if topK <= 0 {
		topK = defaultToolsTopK
	}
	if h, ok := s.index.(hybridQuerier); ok {
		return h.HybridQuery(ctx, domain.NamespaceDocs, query, topK)
	}
	return s.index.Query(ctx, domain.NamespaceDocs, query, topK)
}

// AddPattern stores a reusable code pattern.
func (s *Store) AddPattern(ctx context.Context, description, code string, metadata map[string]any) (string, error) {
	if description == "" {
		return "", fmt.Errorf("memory: pattern description must not be empty")
	}
	meta := cloneMeta(metadata)
	meta["code"] = code
	return s.index.Upsert(ctx, domain.NamespacePatterns, description, meta)
}

// RetrievePatterns returns patterns relevant to query.
func (s *Store) RetrievePatterns(ctx context.Context, query string, topK int) ([]domain.MemoryMatch, error) {
	if topK <= 0 {
		topK = defaultToolsTopK
	}
	return s.index.Query(ctx, domain.NamespacePatterns, query, topK)
}

// prefix bounds s to n bytes for embed text.
func prefix(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// cloneMeta copies metadata so callers' maps are never mutated.
func cloneMeta(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata)+3)
	for k, v := range metadata {
		out[k] = v
	}
	return out
}

// metaFloat reads a numeric metadata value, tolerating the types JSON
// round-trips produce.
func metaFloat(metadata map[string]any, key string) float64 {
	switch v := metadata[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

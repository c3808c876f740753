// Package memory provides similarity search over previously successful
// prompts and lyrics. Lookups never fail the caller: any embedding or store
// error degrades to an empty result.
package memory

import (
	"context"
	"log"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Content types
const (
	ContentLyrics      = "lyrics"
	ContentAudioPrompt = "audio_prompt"
)

// Defaults used by the lyricist lookup
const (
	DefaultLimit     = 3
	DefaultThreshold = 0.5
)

// Item is one indexed piece of content
type Item struct {
	ID          string            `json:"id"`
	Content     string            `json:"content"`
	ContentType string            `json:"type"`
	Embedding   []float32         `json:"embedding"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// Query selects similar content of one type
type Query struct {
	Text        string
	ContentType string
	Limit       int
	Threshold   float64
}

// Result is a matched item, ordered by descending similarity
type Result struct {
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// Searcher is the read side used by agents
type Searcher interface {
	Search(ctx context.Context, q Query) []Result
}

// Embedder turns text into vectors
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Store persists items and lists them by content type
type Store interface {
	Put(ctx context.Context, item Item) error
	List(ctx context.Context, contentType string) ([]Item, error)
}

// Engine combines an embedder and a store
type Engine struct {
	embedder Embedder
	store    Store
}

// NewEngine creates a memory engine
func NewEngine(embedder Embedder, store Store) *Engine {
	return &Engine{embedder: embedder, store: store}
}

// Index embeds content and stores it. Returns false when indexing failed.
func (e *Engine) Index(ctx context.Context, content, contentType string, metadata map[string]string) bool {
	if content == "" {
		return false
	}

	vecs, err := e.embedder.Embed(ctx, []string{content})
	if err != nil || len(vecs) == 0 {
		log.Printf("[Memory] Index failed: %v", err)
		return false
	}

	item := Item{
		ID:          uuid.New().String(),
		Content:     content,
		ContentType: contentType,
		Embedding:   vecs[0],
		Metadata:    metadata,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.store.Put(ctx, item); err != nil {
		log.Printf("[Memory] Index failed: %v", err)
		return false
	}

	log.Printf("[Memory] Indexed %s: %s...", contentType, truncate(content, 30))
	return true
}

// Search returns up to q.Limit items of q.ContentType whose cosine
// similarity to q.Text is at least q.Threshold
func (e *Engine) Search(ctx context.Context, q Query) []Result {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}

	items, err := e.store.List(ctx, q.ContentType)
	if err != nil {
		log.Printf("[Memory] Search failed: %v", err)
		return nil
	}
	if len(items) == 0 {
		return nil
	}

	vecs, err := e.embedder.Embed(ctx, []string{q.Text})
	if err != nil || len(vecs) == 0 {
		log.Printf("[Memory] Search failed: %v", err)
		return nil
	}
	queryVec := vecs[0]

	var results []Result
	for _, item := range items {
		score := cosineSimilarity(queryVec, item.Embedding)
		if score < q.Threshold {
			continue
		}
		results = append(results, Result{Content: item.Content, Similarity: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results
}

// Memory is a searchable index that also accepts new items
type Memory interface {
	Searcher
	Index(ctx context.Context, content, contentType string, metadata map[string]string) bool
}

// Tuned replaces the limit and threshold of every query with configured
// values. Zero fields leave the query unchanged.
type Tuned struct {
	Memory
	Limit     int
	Threshold float64
}

func (t Tuned) Search(ctx context.Context, q Query) []Result {
	if t.Limit > 0 {
		q.Limit = t.Limit
	}
	if t.Threshold > 0 {
		q.Threshold = t.Threshold
	}
	return t.Memory.Search(ctx, q)
}

// Noop is used when no memory backend is configured
type Noop struct{}

func (Noop) Search(ctx context.Context, q Query) []Result { return nil }

func (Noop) Index(ctx context.Context, content, contentType string, metadata map[string]string) bool {
	return false
}

func cosineSimilarity(a, b []float32) float64 {
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
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

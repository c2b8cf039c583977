// Package qdrant adapts a langchaingo Qdrant vector store with OpenAI
// embeddings to retrieval.Searcher.
package qdrant

import (
	"context"
	"fmt"
	"net/url"

	"github.com/tmc/langchaingo/embeddings"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
	lcqdrant "github.com/tmc/langchaingo/vectorstores/qdrant"

	"github.com/hupe1980/convoflow/retrieval"
)

// Options configures the Qdrant searcher.
type Options struct {
	URL            string
	Collection     string
	APIKey         string
	OpenAIKey      string
	EmbeddingModel string
	// ContentKey is the payload key holding the page content.
	ContentKey string
	// ScoreThreshold drops weaker matches. Zero keeps everything.
	ScoreThreshold float32
}

type similaritySearcher interface {
	SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error)
}

// Searcher runs similarity searches against a Qdrant collection.
type Searcher struct {
	store     similaritySearcher
	threshold float32
}

// New connects the embedder and the vector store.
func New(optFns ...func(o *Options)) (*Searcher, error) {
	opts := Options{EmbeddingModel: "text-embedding-3-large", ContentKey: "content"}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.URL == "" || opts.Collection == "" {
		return nil, fmt.Errorf("qdrant url and collection are required")
	}

	qdrantURL, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid qdrant url: %w", err)
	}

	llmOpts := []lcopenai.Option{lcopenai.WithEmbeddingModel(opts.EmbeddingModel)}
	if opts.OpenAIKey != "" {
		llmOpts = append(llmOpts, lcopenai.WithToken(opts.OpenAIKey))
	}
	llm, err := lcopenai.New(llmOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	storeOpts := []lcqdrant.Option{
		lcqdrant.WithURL(*qdrantURL),
		lcqdrant.WithCollectionName(opts.Collection),
		lcqdrant.WithEmbedder(embedder),
		lcqdrant.WithContentKey(opts.ContentKey),
	}
	if opts.APIKey != "" {
		storeOpts = append(storeOpts, lcqdrant.WithAPIKey(opts.APIKey))
	}
	store, err := lcqdrant.New(storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant store: %w", err)
	}

	return &Searcher{store: &store, threshold: opts.ScoreThreshold}, nil
}

// Search implements retrieval.Searcher.
func (s *Searcher) Search(ctx context.Context, query string, k int) ([]retrieval.Document, error) {
	var opts []vectorstores.Option
	if s.threshold > 0 {
		opts = append(opts, vectorstores.WithScoreThreshold(s.threshold))
	}

	docs, err := s.store.SimilaritySearch(ctx, query, k, opts...)
	if err != nil {
		return nil, fmt.Errorf("qdrant similarity search: %w", err)
	}

	out := make([]retrieval.Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, toDocument(d))
	}
	return out, nil
}

// toDocument flattens a nested "metadata" payload, as written by other
// Qdrant clients, into top-level metadata.
func toDocument(d schema.Document) retrieval.Document {
	md := make(map[string]any, len(d.Metadata))
	for k, v := range d.Metadata {
		if k == "metadata" {
			if nested, ok := v.(map[string]any); ok {
				for nk, nv := range nested {
					md[nk] = nv
				}
				continue
			}
		}
		md[k] = v
	}

	id, _ := md["id"].(string)
	return retrieval.Document{
		ID:       id,
		Content:  d.PageContent,
		Metadata: md,
		Score:    float64(d.Score),
	}
}

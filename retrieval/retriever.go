// Package retrieval implements the FAQ retrieval subsystem: multi-query
// expansion, per-query similarity search, de-duplication and ranking, and the
// SearchFAQs tool that surfaces the top hit as a bestAnswer event.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/logging"
)

// Document is one indexed FAQ entry returned by a similarity search.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]any
	Score    float64
}

// Searcher runs a similarity search against a vector index.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]Document, error)
}

// SearcherFunc adapts a function to Searcher.
type SearcherFunc func(ctx context.Context, query string, k int) ([]Document, error)

// Search implements Searcher.
func (f SearcherFunc) Search(ctx context.Context, query string, k int) ([]Document, error) {
	return f(ctx, query, k)
}

// Expander rewrites a query into several phrasings. Implementations must
// include the original query.
type Expander interface {
	Expand(ctx context.Context, query string) ([]string, error)
}

// Options configures a Retriever.
type Options struct {
	// TopK is the number of documents requested per query and returned overall.
	TopK int
	// Expander enables multi-query expansion. Nil searches the query only.
	Expander Expander
	Logger   logging.Logger
}

// Retriever combines expansion, search and ranking.
type Retriever struct {
	searcher Searcher
	opts     Options
}

// NewRetriever creates a Retriever on top of searcher.
func NewRetriever(searcher Searcher, optFns ...func(o *Options)) *Retriever {
	opts := Options{TopK: 4, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.TopK <= 0 {
		opts.TopK = 4
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Retriever{searcher: searcher, opts: opts}
}

// Retrieve returns the de-duplicated documents for query ranked by score.
// Expansion failures fall back to the original query; the call fails only
// when every search fails.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]Document, error) {
	queries := []string{query}
	if r.opts.Expander != nil {
		expanded, err := r.opts.Expander.Expand(ctx, query)
		if err != nil {
			r.opts.Logger.Warn("retrieval.expand.failed", "query", query, "error", err)
		} else if len(expanded) > 0 {
			queries = expanded
		}
	}

	results := make([][]Document, len(queries))
	errs := make([]error, len(queries))

	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			results[i], errs[i] = r.searcher.Search(ctx, q, r.opts.TopK)
		}(i, q)
	}
	wg.Wait()

	failed := 0
	for i, err := range errs {
		if err != nil {
			failed++
			r.opts.Logger.Warn("retrieval.search.failed", "query", queries[i], "error", err)
		}
	}
	if failed == len(queries) {
		return nil, fmt.Errorf("similarity search failed: %w", errors.Join(errs...))
	}

	r.opts.Logger.Debug("retrieval.search.done", "queries", len(queries), "failed", failed)
	return Rank(results, r.opts.TopK), nil
}

// Rank merges per-query results, keeping the best score per document, and
// returns at most k documents ordered by descending score. Ties keep first
// seen order.
func Rank(results [][]Document, k int) []Document {
	type ranked struct {
		doc   Document
		order int
	}
	byKey := map[string]*ranked{}
	order := 0
	for _, docs := range results {
		for _, d := range docs {
			key := d.ID
			if key == "" {
				key = d.Content
			}
			if existing, ok := byKey[key]; ok {
				if d.Score > existing.doc.Score {
					existing.doc = d
				}
				continue
			}
			byKey[key] = &ranked{doc: d, order: order}
			order++
		}
	}

	all := make([]*ranked, 0, len(byKey))
	for _, r := range byKey {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].doc.Score != all[j].doc.Score {
			return all[i].doc.Score > all[j].doc.Score
		}
		return all[i].order < all[j].order
	})

	if k > 0 && len(all) > k {
		all = all[:k]
	}
	out := make([]Document, len(all))
	for i, r := range all {
		out[i] = r.doc
	}
	return out
}

// answerNamespace scopes derived best answer ids.
var answerNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("convoflow/faq"))

// BestAnswerFor builds the provenance of a document. The id is the metadata
// id, then the document id, then a UUIDv5 of the content.
func BestAnswerFor(d Document) core.BestAnswer {
	id := metaString(d.Metadata, "id")
	if id == "" {
		id = d.ID
	}
	if id == "" {
		id = uuid.NewSHA1(answerNamespace, []byte(d.Content)).String()
	}
	return core.BestAnswer{
		ID:      id,
		Intent:  metaString(d.Metadata, "intent"),
		Content: metaString(d.Metadata, "response"),
	}
}

func metaString(md map[string]any, key string) string {
	v, ok := md[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

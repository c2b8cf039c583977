package qdrant

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

type fakeStore struct {
	docs  []schema.Document
	err   error
	k     int
	query string
}

func (f *fakeStore) SimilaritySearch(_ context.Context, query string, k int, _ ...vectorstores.Option) ([]schema.Document, error) {
	f.query, f.k = query, k
	return f.docs, f.err
}

func TestSearch_FlattensMetadata(t *testing.T) {
	store := &fakeStore{docs: []schema.Document{{
		PageContent: "¿Precio del X70? Desde USD 25000",
		Metadata: map[string]any{
			"metadata": map[string]any{"intent": "precio_x70", "response": "Desde USD 25000", "id": "faq-7"},
			"source":   "faq.csv",
		},
		Score: 0.91,
	}}}
	s := &Searcher{store: store}

	docs, err := s.Search(context.Background(), "precio x70", 3)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "faq-7", docs[0].ID)
	assert.Equal(t, "precio_x70", docs[0].Metadata["intent"])
	assert.Equal(t, "faq.csv", docs[0].Metadata["source"])
	assert.InDelta(t, 0.91, docs[0].Score, 1e-6)
	assert.Equal(t, 3, store.k)
}

func TestSearch_WrapsErrors(t *testing.T) {
	s := &Searcher{store: &fakeStore{err: errors.New("connection refused")}}
	_, err := s.Search(context.Background(), "x", 1)
	assert.ErrorContains(t, err, "connection refused")
}

func TestNew_RequiresCollection(t *testing.T) {
	_, err := New(func(o *Options) { o.URL = "http://localhost:6333" })
	assert.Error(t, err)
}

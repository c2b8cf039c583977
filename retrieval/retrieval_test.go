package retrieval

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/logging"
	"github.com/hupe1980/convoflow/model"
	"github.com/hupe1980/convoflow/tool"
)

type staticExpander []string

func (s staticExpander) Expand(context.Context, string) ([]string, error) { return s, nil }

func faq(id, intent, response string, score float64) Document {
	return Document{
		ID:       id,
		Content:  intent + ": " + response,
		Metadata: map[string]any{"intent": intent, "response": response},
		Score:    score,
	}
}

func TestRank_DedupesKeepingBestScore(t *testing.T) {
	results := [][]Document{
		{faq("a", "precio_x70", "Desde USD 25000", 0.7), faq("b", "garantia", "5 años", 0.6)},
		{faq("a", "precio_x70", "Desde USD 25000", 0.9), faq("c", "colores", "Blanco, Negro", 0.6)},
	}
	ranked := Rank(results, 10)
	require.Len(t, ranked, 3)
	assert.Equal(t, "a", ranked[0].ID)
	assert.Equal(t, 0.9, ranked[0].Score)
	assert.Equal(t, "b", ranked[1].ID, "ties keep first seen order")
	assert.Equal(t, "c", ranked[2].ID)

	assert.Len(t, Rank(results, 2), 2)
}

func TestRank_DedupesByContentWithoutID(t *testing.T) {
	d := Document{Content: "same", Score: 0.5}
	assert.Len(t, Rank([][]Document{{d}, {d}}, 5), 1)
}

func TestRetriever_SearchesEveryExpandedQuery(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	searcher := SearcherFunc(func(_ context.Context, q string, k int) ([]Document, error) {
		mu.Lock()
		seen = append(seen, q)
		mu.Unlock()
		assert.Equal(t, 2, k)
		if q == "precio x70" {
			return []Document{faq("a", "precio_x70", "Desde USD 25000", 0.8)}, nil
		}
		return []Document{faq("a", "precio_x70", "Desde USD 25000", 0.95)}, nil
	})

	r := NewRetriever(searcher, func(o *Options) {
		o.TopK = 2
		o.Expander = staticExpander{"precio x70", "cuánto cuesta el x70"}
	})
	docs, err := r.Retrieve(context.Background(), "precio x70")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, 0.95, docs[0].Score)
	assert.ElementsMatch(t, []string{"precio x70", "cuánto cuesta el x70"}, seen)
}

func TestRetriever_PartialFailureTolerated(t *testing.T) {
	searcher := SearcherFunc(func(_ context.Context, q string, _ int) ([]Document, error) {
		if q == "bad" {
			return nil, errors.New("timeout")
		}
		return []Document{faq("a", "i", "r", 0.5)}, nil
	})
	r := NewRetriever(searcher, func(o *Options) { o.Expander = staticExpander{"good", "bad"} })
	docs, err := r.Retrieve(context.Background(), "good")
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestRetriever_AllFailures(t *testing.T) {
	searcher := SearcherFunc(func(context.Context, string, int) ([]Document, error) {
		return nil, errors.New("connection refused")
	})
	_, err := NewRetriever(searcher).Retrieve(context.Background(), "x")
	assert.ErrorContains(t, err, "connection refused")
}

func TestModelExpander(t *testing.T) {
	m := model.NewScriptedModel(model.TextTurn("1. ¿Cuánto cuesta el X70?\n- precio x70\n\nValor del Jetour X70\nExtra"))
	e := NewModelExpander(m, 2)

	queries, err := e.Expand(context.Background(), "precio x70")
	require.NoError(t, err)
	assert.Equal(t, []string{"precio x70", "¿Cuánto cuesta el X70?", "Valor del Jetour X70"}, queries)

	reqs := m.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Contents[0].Text(), "generate 2 different versions")
	assert.Contains(t, reqs[0].Contents[0].Text(), "precio x70")
}

func TestBestAnswerFor(t *testing.T) {
	ba := BestAnswerFor(Document{ID: "doc-1", Metadata: map[string]any{"intent": "precio_x70", "response": "Desde USD 25000", "id": "faq-9"}})
	assert.Equal(t, core.BestAnswer{ID: "faq-9", Intent: "precio_x70", Content: "Desde USD 25000"}, ba)

	assert.Equal(t, "doc-1", BestAnswerFor(Document{ID: "doc-1"}).ID)

	a := BestAnswerFor(Document{Content: "x"})
	b := BestAnswerFor(Document{Content: "x"})
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, a.ID, b.ID, "derived ids are deterministic")
}

func TestSearchTool_EmitsBestAnswer(t *testing.T) {
	searcher := SearcherFunc(func(context.Context, string, int) ([]Document, error) {
		return []Document{faq("a", "precio_x70", "Desde USD 25000", 0.9), faq("b", "garantia", "5 años", 0.4)}, nil
	})
	reg := tool.NewRegistry()
	reg.MustRegister(NewSearchTool(NewRetriever(searcher)))

	var events []core.StreamEvent
	emit := func(_ context.Context, ev core.StreamEvent) error {
		events = append(events, ev)
		return nil
	}
	call := core.ToolCall{ID: "c1", Name: SearchToolName, Arguments: `{"query":"precio x70"}`}
	tc := core.NewToolContext(context.Background(), "t1", "r1", call, emit, logging.NoOpLogger{})

	res, err := reg.Invoke(tc, call)
	require.NoError(t, err)
	assert.Equal(t, "precio_x70: Desde USD 25000\n\ngarantia: 5 años", res.Text())

	require.Len(t, events, 1)
	assert.Equal(t, core.EventBestAnswer, events[0].Type)
	assert.Equal(t, "precio_x70", events[0].BestAnswer.Intent)
	assert.Equal(t, "Desde USD 25000", events[0].BestAnswer.Content)
}

func TestSearchTool_NoResults(t *testing.T) {
	searcher := SearcherFunc(func(context.Context, string, int) ([]Document, error) { return nil, nil })
	reg := tool.NewRegistry()
	reg.MustRegister(NewSearchTool(NewRetriever(searcher)))

	emitted := 0
	emit := func(context.Context, core.StreamEvent) error { emitted++; return nil }
	call := core.ToolCall{ID: "c1", Name: SearchToolName, Arguments: `{"query":"nada"}`}
	res, err := reg.Invoke(core.NewToolContext(context.Background(), "t1", "r1", call, emit, nil), call)
	require.NoError(t, err)
	assert.Equal(t, noResults, res.Text())
	assert.Zero(t, emitted)
}

package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/internal/util"
	"github.com/hupe1980/convoflow/model"
)

const expansionPrompt = `You are an AI language model assistant. Your task is to generate {{.N}} different versions of the given user question to retrieve relevant documents from a vector database. By generating multiple perspectives on the user question, your goal is to help the user overcome some of the limitations of distance-based similarity search. Keep the language of the original question. Provide these alternative questions separated by newlines, without numbering or any other text.
Original question: {{.Query}}`

var listMarker = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s*`)

// ModelExpander asks a model for alternative phrasings of a query.
type ModelExpander struct {
	model model.Model
	n     int
}

// NewModelExpander creates an expander requesting n phrasings.
func NewModelExpander(m model.Model, n int) *ModelExpander {
	if n <= 0 {
		n = 3
	}
	return &ModelExpander{model: m, n: n}
}

// Expand returns the original query followed by up to n distinct phrasings.
func (e *ModelExpander) Expand(ctx context.Context, query string) ([]string, error) {
	prompt, err := util.RenderTemplate(expansionPrompt, map[string]any{"N": e.n, "Query": query})
	if err != nil {
		return nil, fmt.Errorf("render expansion prompt: %w", err)
	}

	content, err := model.Complete(ctx, e.model, model.Request{
		Contents: []core.Content{core.NewUserMessage(prompt).Content},
	})
	if err != nil {
		return nil, fmt.Errorf("query expansion: %w", err)
	}

	return parseExpansion(query, content.Text(), e.n), nil
}

// parseExpansion splits the model output into queries, always keeping the
// original first.
func parseExpansion(original, output string, n int) []string {
	queries := []string{original}
	seen := map[string]bool{strings.ToLower(strings.TrimSpace(original)): true}
	for _, line := range strings.Split(output, "\n") {
		if len(queries) > n {
			break
		}
		q := strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		key := strings.ToLower(q)
		if q == "" || seen[key] {
			continue
		}
		seen[key] = true
		queries = append(queries, q)
	}
	return queries
}

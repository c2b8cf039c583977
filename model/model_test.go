package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/convoflow/core"
)

func TestScriptedModel_Streaming(t *testing.T) {
	m := NewScriptedModel(TextTurn("Ho", "la"))
	respCh, errCh := m.Generate(context.Background(), Request{Stream: true})

	var partials []string
	var final Response
	for r := range respCh {
		if r.Partial {
			partials = append(partials, r.Content.Text())
			continue
		}
		final = r
	}
	require.NoError(t, <-errCh)
	assert.Equal(t, []string{"Ho", "la"}, partials)
	assert.Equal(t, "Hola", final.Content.Text())
	assert.Equal(t, "stop", final.FinishReason)
	assert.Equal(t, 0, m.Remaining())
}

func TestScriptedModel_ToolTurn(t *testing.T) {
	call := core.ToolCall{ID: "c1", Name: "SearchFAQs", Arguments: `{"query":"x70"}`}
	m := NewScriptedModel(ToolTurn(call))
	content, err := Complete(context.Background(), m, Request{})
	require.NoError(t, err)
	assert.Equal(t, []core.ToolCall{call}, content.ToolCalls())
	assert.Len(t, m.Requests(), 1)
}

func TestScriptedModel_Errors(t *testing.T) {
	boom := errors.New("upstream down")
	m := NewScriptedModel(ErrorTurn(boom))
	_, err := Complete(context.Background(), m, Request{})
	assert.ErrorIs(t, err, boom)

	_, err = Complete(context.Background(), m, Request{})
	assert.Error(t, err, "exhausted script")
}

func TestScriptedModel_BlockHonorsContext(t *testing.T) {
	block := make(chan struct{})
	m := NewScriptedModel(Turn{Tokens: []string{"x"}, Block: block})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Complete(ctx, m, Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

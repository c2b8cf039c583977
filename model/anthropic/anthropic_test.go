package anthropic

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/model"
)

func TestBuildMessages_MergesToolResults(t *testing.T) {
	c1 := core.ToolCall{ID: "c1", Name: "SearchFAQs", Arguments: `{"query":"x70"}`}
	c2 := core.ToolCall{ID: "c2", Name: "SearchFAQs", Arguments: `{"query":"t2"}`}
	contents := []core.Content{
		core.NewSystemMessage("extra").Content,
		core.NewUserMessage("comparar").Content,
		core.NewAssistantMessage("", c1, c2).Content,
		core.NewToolMessage(core.NewToolResult(c1, "a")).Content,
		core.NewToolMessage(core.NewToolErrorResult(c2, "b")).Content,
		core.NewAssistantMessage("listo").Content,
	}

	msgs := buildMessages(contents)
	require.Len(t, msgs, 4)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[1].Role)
	assert.Len(t, msgs[1].Content, 2)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[2].Role)
	assert.Len(t, msgs[2].Content, 2)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[3].Role)
}

func TestExtractSystem(t *testing.T) {
	req := model.Request{
		Instructions: "Sos JetourAI",
		Contents:     []core.Content{core.NewSystemMessage("Formato JSON").Content},
	}
	blocks := extractSystem(req)
	require.Len(t, blocks, 2)
	assert.Equal(t, "Sos JetourAI", blocks[0].Text)
	assert.Equal(t, "Formato JSON", blocks[1].Text)
}

func TestBuildTools(t *testing.T) {
	tools := buildTools([]model.ToolDefinition{{
		Type: "function",
		Function: model.FunctionDefinition{
			Name:        "createLead",
			Description: "Crea un lead",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"name": map[string]any{"type": "string"}},
				"required":   []any{"name"},
			},
		},
	}})
	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "createLead", tools[0].OfTool.Name)
	assert.Equal(t, []string{"name"}, tools[0].OfTool.InputSchema.Required)
}

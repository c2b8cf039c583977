package retrieval

import (
	"strings"

	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/tool"
)

// SearchToolName is the name the model uses to query the FAQ index.
const SearchToolName = "SearchFAQs"

const searchDescription = "Busca información respecto consultas frecuentes sobre modelos de vehiculos, detalles técnicos, precios, links de imagenes por modelo y demás. Usa esta herramienta para responder preguntas de los clientes."

const noResults = "No se encontró información relacionada."

type searchArgs struct {
	Query string `json:"query" description:"Consulta a buscar en las preguntas frecuentes" minLength:"1"`
}

// NewSearchTool returns the SearchFAQs tool. The top hit is emitted as a
// bestAnswer event; the model receives the ranked contents.
func NewSearchTool(r *Retriever) *tool.FunctionTool {
	return tool.NewFunctionToolFromStruct(SearchToolName, searchDescription, searchArgs{},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			query, _ := args["query"].(string)

			docs, err := r.Retrieve(tc.Context(), query)
			if err != nil {
				return nil, err
			}
			if len(docs) == 0 {
				return noResults, nil
			}

			if err := tc.Emit(core.NewBestAnswerEvent(BestAnswerFor(docs[0]))); err != nil {
				tc.Logger().Warn("retrieval.best_answer.emit_failed", "error", err)
			}

			contents := make([]string, 0, len(docs))
			for _, d := range docs {
				contents = append(contents, d.Content)
			}
			return strings.Join(contents, "\n\n"), nil
		})
}

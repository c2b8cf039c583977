package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/crm"
)

// LeadToolName is the name the model uses to create a CRM lead.
const LeadToolName = "createLead"

const leadDescription = "Crea un nuevo lead en el sistema CRM. Usa esta herramienta cuando quieras crear un lead nuevo. Debes proporcionar el nombre, email y teléfono del lead."

// Result payloads handed back to the model.
const (
	leadSentFmt   = "Prospecto enviado correctamente. Status: %d"
	leadFailedMsg = "Error al enviar el prospecto"
)

// ProspectSender submits leads to a CRM.
type ProspectSender interface {
	SendProspect(ctx context.Context, lead crm.Lead) (int, error)
}

type leadArgs struct {
	Name    string `json:"name" description:"Nombre del cliente" minLength:"1"`
	Email   string `json:"email" description:"Email del cliente, sino tiene envia uno generico" format:"email"`
	Phone   string `json:"phone" description:"Teléfono del cliente" minLength:"7"`
	Comment string `json:"comment,omitempty" description:"Resumen de la conversación con el cliente"`
}

// NewLeadTool returns the createLead tool posting prospects through sender.
// Remote failures become an error result, never a fault of the run.
func NewLeadTool(sender ProspectSender) *FunctionTool {
	return NewFunctionToolFromStruct(LeadToolName, leadDescription, leadArgs{},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			lead := crm.Lead{
				Name:    stringArg(args, "name"),
				Email:   stringArg(args, "email"),
				Phone:   stringArg(args, "phone"),
				Comment: stringArg(args, "comment"),
			}

			status, err := sender.SendProspect(tc.Context(), lead)
			if err != nil {
				tc.Logger().Warn("tool.lead.send_failed", "error", err)
				return nil, &ToolError{Tool: LeadToolName, Message: leadFailedMsg, Code: CodeExecution, Details: err}
			}

			return fmt.Sprintf(leadSentFmt, status), nil
		})
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/internal/util"
	"github.com/hupe1980/convoflow/runner"
)

// StructuredRequest is the body of POST /api/whatsapp.
type StructuredRequest struct {
	Input          string `json:"input"`
	ConversationID string `json:"conversationId"`
	PhoneNumber    string `json:"phoneNumber"`
	UserName       string `json:"userName"`
}

// StructuredResponse carries the parsed message array produced by the model.
type StructuredResponse struct {
	Messages any `json:"messages"`
}

func (s *Server) whatsapp(w http.ResponseWriter, r *http.Request) {
	var req StructuredRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		writeError(w, http.StatusBadRequest, "input is required")
		return
	}

	vars := map[string]any{
		"Input":       req.Input,
		"UserName":    req.UserName,
		"PhoneNumber": req.PhoneNumber,
	}
	framed, err := util.RenderTemplate(runner.StructuredTurnTemplate, vars)
	if err != nil {
		s.logger.Error("whatsapp.template.failed", "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}

	res, err := s.structured.InvokeSync(r.Context(), req.ConversationID, runner.Input{
		Text: framed,
		Role: core.RoleSystem,
		Vars: vars,
	})
	if err != nil {
		status, msg := statusFor(err)
		s.logger.Warn("whatsapp.run.failed", "thread_id", req.ConversationID, "error", err)
		writeError(w, status, msg)
		return
	}
	if res.Status != runner.StatusDone {
		s.logger.Warn("whatsapp.run.incomplete", "thread_id", req.ConversationID, "status", res.Status)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}

	parsed, err := ParseStructured(res.FinalContent)
	if err != nil {
		s.logger.Warn("whatsapp.output.invalid", "thread_id", req.ConversationID, "error", err)
		writeError(w, http.StatusInternalServerError, msgOutputFormat)
		return
	}

	writeJSON(w, http.StatusOK, StructuredResponse{Messages: parsed})
}

// ParseStructured strips a surrounding markdown code fence and decodes the
// model output as strict JSON.
func ParseStructured(content string) (any, error) {
	cleaned := strings.TrimSpace(content)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var parsed any
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrOutputFormat, err)
	}
	return parsed, nil
}

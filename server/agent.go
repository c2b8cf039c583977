package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/runner"
	"github.com/hupe1980/convoflow/stream"
)

// AgentRequest is the body of POST /api/agent. A resume may be sent to the
// same endpoint instead of /api/agent/resume.
type AgentRequest struct {
	Input          string         `json:"input"`
	ConversationID string         `json:"conversationId"`
	ThreadID       string         `json:"thread_id"`
	Resume         *runner.Resume `json:"resume,omitempty"`
}

func (r AgentRequest) threadID() string {
	if r.ConversationID != "" {
		return r.ConversationID
	}
	return r.ThreadID
}

// ResumeRequest is the body of POST /api/agent/resume.
type ResumeRequest struct {
	ThreadID   string `json:"thread_id"`
	EditedText string `json:"edited_text"`
}

func (s *Server) agent(w http.ResponseWriter, r *http.Request) {
	var req AgentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	in := runner.UserText(req.Input)
	if req.Resume != nil {
		in = runner.Input{Resume: req.Resume}
	}

	s.stream(w, r, s.runner, req.threadID(), in)
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	var req ResumeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.stream(w, r, s.runner, req.ThreadID, runner.ResumeWith(req.EditedText))
}

// stream starts a run and relays its events as NDJSON. Rejections are
// answered with a JSON error before any event is written. The handler
// returns as soon as the event stream closes.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, rn *runner.Runner, threadID string, in runner.Input) {
	ctx := r.Context()

	runID, events, errs, err := rn.Run(ctx, threadID, in)
	if err != nil {
		status, msg := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("agent.run.rejected", "thread_id", threadID, "error", err)
		}
		writeError(w, status, msg)
		return
	}

	w.Header().Set("Content-Type", stream.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Run-Id", runID)
	w.WriteHeader(http.StatusOK)

	if err := stream.Pipe(ctx, stream.NewNDJSONWriter(w), events); err != nil {
		s.logger.Warn("agent.stream.aborted", "thread_id", threadID, "run_id", runID, "error", err)
		_ = rn.Cancel(runID)
		for range events {
		}
	}

	// The response ends with the stream; the run may still be handing its
	// transcript to the dispatcher.
	go func() {
		if err := <-errs; err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("agent.run.failed", "thread_id", threadID, "run_id", runID, "error", err)
		}
	}()
}

// ThreadResponse is the body of GET /api/threads/{id}.
type ThreadResponse struct {
	ID         string                 `json:"id"`
	Messages   []MessageView          `json:"messages"`
	Interrupt  *core.InterruptPayload `json:"interrupt,omitempty"`
	Checkpoint core.Checkpoint        `json:"checkpoint"`
}

// MessageView is a flattened thread message.
type MessageView struct {
	ID        string          `json:"id"`
	Role      core.Role       `json:"role"`
	Text      string          `json:"text,omitempty"`
	ToolCalls []core.ToolCall `json:"toolCalls,omitempty"`
}

func (s *Server) thread(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "thread id is required")
		return
	}

	thread, err := s.runner.Store().Load(r.Context(), id)
	if err != nil {
		s.logger.Error("thread.load.failed", "thread_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	if len(thread.Messages) == 0 && !thread.Suspended() {
		writeError(w, http.StatusNotFound, fmt.Sprintf("thread %s not found", id))
		return
	}

	resp := ThreadResponse{
		ID:         thread.ID,
		Messages:   make([]MessageView, 0, len(thread.Messages)),
		Checkpoint: thread.Checkpoint,
	}
	for _, m := range thread.Messages {
		resp.Messages = append(resp.Messages, MessageView{
			ID:        m.ID,
			Role:      m.Role(),
			Text:      m.Text(),
			ToolCalls: m.ToolCalls(),
		})
	}
	if thread.Interrupt != nil {
		payload := thread.Interrupt.Payload
		resp.Interrupt = &payload
	}

	writeJSON(w, http.StatusOK, resp)
}

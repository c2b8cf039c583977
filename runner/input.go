package runner

import (
	"fmt"
	"strings"

	"github.com/hupe1980/convoflow/core"
)

// Resume carries the reviewer's edit of a suspended step.
type Resume struct {
	EditedText string `json:"edited_text"`
}

// Input starts a run. Exactly one of Text and Resume is set.
type Input struct {
	// Text is the new turn's message.
	Text string
	// Role of the new turn's message. Defaults to core.RoleUser.
	Role core.Role
	// Resume continues a suspended thread.
	Resume *Resume
	// Vars are exposed to the instructions template.
	Vars map[string]any
}

// UserText builds a new-turn input.
func UserText(text string) Input { return Input{Text: text, Role: core.RoleUser} }

// ResumeWith builds a resume input.
func ResumeWith(editedText string) Input {
	return Input{Resume: &Resume{EditedText: editedText}}
}

// IsResume reports whether the input continues a suspended thread.
func (in Input) IsResume() bool { return in.Resume != nil }

func (in Input) validate() error {
	if in.Resume != nil {
		if in.Text != "" {
			return fmt.Errorf("%w: input carries both text and resume", core.ErrValidation)
		}
		if strings.TrimSpace(in.Resume.EditedText) == "" {
			return fmt.Errorf("%w: resume edited_text is empty", core.ErrValidation)
		}
		return nil
	}
	if strings.TrimSpace(in.Text) == "" {
		return fmt.Errorf("%w: input is empty", core.ErrValidation)
	}
	switch in.Role {
	case "", core.RoleUser, core.RoleSystem:
		return nil
	default:
		return fmt.Errorf("%w: unsupported input role %q", core.ErrValidation, in.Role)
	}
}

func (in Input) message() core.Message {
	if in.Role == core.RoleSystem {
		return core.NewSystemMessage(in.Text)
	}
	return core.NewUserMessage(in.Text)
}

// Status is the outcome of a run.
type Status string

const (
	// StatusDone means the run reached DONE.
	StatusDone Status = "done"
	// StatusInterrupted means the thread awaits a resume.
	StatusInterrupted Status = "interrupted"
	// StatusFailed means the run ended with an error event.
	StatusFailed Status = "failed"
)

// Result is the drained outcome of a run.
type Result struct {
	RunID  string
	Status Status
	Events []core.StreamEvent
	// Transcript concatenates the message events.
	Transcript string
	// FinalContent is the last assistant text for a completed run, or the
	// text under review for an interrupted one.
	FinalContent string
	// Interrupt is set for interrupted runs.
	Interrupt *core.InterruptPayload
}

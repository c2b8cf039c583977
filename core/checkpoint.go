package core

import "time"

// NodeState is the executor position recorded in a checkpoint.
type NodeState string

const (
	// StateAgent is a model reasoning step.
	StateAgent NodeState = "agent"
	// StateReview is the human checkpoint visited after every model step.
	StateReview NodeState = "review"
	// StateInterrupted suspends the thread until a resume arrives.
	StateInterrupted NodeState = "interrupted"
	// StateTools executes the requested tool calls.
	StateTools NodeState = "tools"
	// StateDone is terminal for a run.
	StateDone NodeState = "done"
)

// Terminal reports whether the state ends a run.
func (s NodeState) Terminal() bool { return s == StateDone || s == StateInterrupted }

// Checkpoint is a serializable snapshot of the executor position.
type Checkpoint struct {
	State        NodeState `json:"state"`
	RunID        string    `json:"run_id,omitempty"`
	Step         int       `json:"step"`
	MessageCount int       `json:"message_count"` // committed messages at this position
	UpdatedAt    time.Time `json:"updated_at"`
}

// InterruptTask is the human-readable review task attached to interrupts.
const InterruptTask = "Revisar la respuesta generada por el agente."

// InterruptPayload is the content presented to a human reviewer.
type InterruptPayload struct {
	Task      string     `json:"task"`
	Generated string     `json:"generated"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
}

// PendingInterrupt exists only while a thread is suspended in review. The
// assistant message under review is held here and is appended to the thread
// only after approval.
type PendingInterrupt struct {
	Reason    string           `json:"reason"`
	Payload   InterruptPayload `json:"payload"`
	Pending   Message          `json:"pending"`
	RunID     string           `json:"run_id,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// NewPendingInterrupt creates the interrupt for an assistant message awaiting review.
func NewPendingInterrupt(runID string, pending Message) *PendingInterrupt {
	return &PendingInterrupt{
		Reason: InterruptTask,
		Payload: InterruptPayload{
			Task:      InterruptTask,
			Generated: pending.Text(),
			ToolCalls: pending.ToolCalls(),
		},
		Pending:   pending,
		RunID:     runID,
		CreatedAt: time.Now().UTC(),
	}
}

package chat

import (
	"time"

	"github.com/google/uuid"
)

// Command names understood by the messaging client.
const (
	CommandGenerateQR   = "generate_qr"
	CommandForceNewAuth = "force_new_auth"
)

// CommandEnvelope is a control instruction for the messaging client.
// Fire-and-forget: the resulting state change is observed later through a
// StatusUpdate, never through a direct reply.
type CommandEnvelope struct {
	Command   string    `json:"command"`
	RequestID string    `json:"requestId"`
	Timestamp time.Time `json:"timestamp"`
}

// NewCommand builds a command with a fresh requestId.
func NewCommand(name string) CommandEnvelope {
	return CommandEnvelope{
		Command:   name,
		RequestID: uuid.NewString(),
		Timestamp: time.Now().UTC(),
	}
}

func (c *CommandEnvelope) Validate() error {
	ve := &ValidationError{}
	if c.Command == "" {
		ve.add("command", "required")
	}
	if c.RequestID == "" {
		ve.add("requestId", "required")
	}
	if len(ve.Issues) > 0 {
		return ve
	}
	return nil
}

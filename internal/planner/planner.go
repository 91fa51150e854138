package planner

import (
	"context"

	"github.com/crew-io/crewd/pkg/protocol"
)

// Planner is the abstraction over the external planning capability. Given an
// agent persona and a prompt it returns a transcript of response messages;
// callers extract structured payloads from the transcript themselves.
type Planner interface {
	// CreateAgent provisions a persona and a fresh conversation thread.
	CreateAgent(ctx context.Context, name, instructions string) (protocol.AgentSession, error)
	// SendMessage relays a prompt to the persona's thread and returns the
	// thread's messages in chronological order once the run finishes.
	SendMessage(ctx context.Context, session protocol.AgentSession, content string, metadata map[string]string) (Transcript, error)
}

// Transcript holds a thread's messages, oldest first.
type Transcript []ThreadMessage

// ThreadMessage is one message in a planning thread.
type ThreadMessage struct {
	Role    string        `json:"role"`
	Content []ContentItem `json:"content"`
}

// ContentItem is one block within a thread message. Structured payloads are
// carried as output_text blocks.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Action is a single tool instruction produced by the planning capability.
type Action struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

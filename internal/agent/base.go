package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/crew-io/crewd/internal/bus"
	"github.com/crew-io/crewd/internal/planner"
	"github.com/crew-io/crewd/pkg/protocol"
)

// ErrNotBooted is returned when an agent talks to the planning capability
// before its persona has been provisioned. Programmer error, fatal to the call.
var ErrNotBooted = errors.New("agent: not booted")

// Runtime bundles the shared collaborators every agent is constructed with.
// Passed explicitly; there is no process-wide singleton.
type Runtime struct {
	Bus           *bus.Bus
	Planner       planner.Planner
	Logger        *slog.Logger
	WorkspaceRoot string
	BridgeCommand []string
	BridgeGrace   time.Duration
}

// Base carries the identity and collaborators shared by the coordinator and
// the specialists.
type Base struct {
	Name   string
	Role   string
	Bus    *bus.Bus
	Plan   planner.Planner
	Logger *slog.Logger

	mu      sync.Mutex
	session *protocol.AgentSession
}

// Boot provisions the agent's persona on the planning service. Only the first
// call registers; later calls are no-ops.
func (b *Base) Boot(ctx context.Context, instructions string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		return nil
	}
	session, err := b.Plan.CreateAgent(ctx, b.Name, instructions)
	if err != nil {
		return err
	}
	b.session = &session
	b.Logger.Info("agent booted", "agent", b.Name, "assistant", session.AssistantID)
	return nil
}

// Session returns the planner session descriptor, if booted.
func (b *Base) Session() (protocol.AgentSession, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return protocol.AgentSession{}, false
	}
	return *b.session, true
}

// Notify publishes a payload from this agent onto the shared bus.
func (b *Base) Notify(channel protocol.Channel, payload map[string]any) {
	b.Bus.Publish(protocol.NewMessage(channel, b.Name, payload))
}

// SendModelMessage relays a prompt to the planning service and returns the
// resulting transcript.
func (b *Base) SendModelMessage(ctx context.Context, content string, metadata map[string]string) (planner.Transcript, error) {
	session, ok := b.Session()
	if !ok {
		return nil, ErrNotBooted
	}
	return b.Plan.SendMessage(ctx, session, content, metadata)
}

package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/crew-io/crewd/internal/bridge"
	"github.com/crew-io/crewd/internal/planner"
	"github.com/crew-io/crewd/pkg/protocol"
)

const inboxCapacity = 128

// executor is the per-step tool session a specialist drives. *bridge.Bridge
// is the production implementation.
type executor interface {
	Request(ctx context.Context, tool string, kwargs map[string]any) (*bridge.Response, error)
	Close() error
}

// UnknownToolError reports an action whose tool name has no handler.
type UnknownToolError struct {
	Tool string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("agent: unknown tool %q requested by planner", e.Tool)
}

// toolHandlers is the closed dispatch table from action tool names to bridge
// invocations. Names outside this table are rejected with UnknownToolError.
var toolHandlers = map[string]func(ctx context.Context, ex executor, args map[string]any) (*bridge.Response, error){
	"run_command": func(ctx context.Context, ex executor, args map[string]any) (*bridge.Response, error) {
		return ex.Request(ctx, "run_command", map[string]any{"command": stringArg(args, "command")})
	},
	"read_file": func(ctx context.Context, ex executor, args map[string]any) (*bridge.Response, error) {
		return ex.Request(ctx, "read_file", map[string]any{"path": stringArg(args, "path")})
	},
	"apply_patch": func(ctx context.Context, ex executor, args map[string]any) (*bridge.Response, error) {
		return ex.Request(ctx, "apply_patch", map[string]any{"path": stringArg(args, "path"), "patch": stringArg(args, "patch")})
	},
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// Specialist executes the workflow steps routed to one role. Steps drain from
// a private FIFO strictly one at a time; a failed step becomes an alert and
// the drain loop moves on.
type Specialist struct {
	Base
	Spec protocol.RoleSpec

	workspaceRoot string
	session       protocol.ToolSession
	inbox         chan protocol.WorkflowStep

	// newExecutor opens the tool session for one step's execution scope.
	newExecutor func(ctx context.Context) (executor, error)
}

// NewSpecialist constructs a specialist for one role.
func NewSpecialist(spec protocol.RoleSpec, rt Runtime) *Specialist {
	s := &Specialist{
		Base: Base{
			Name:   spec.Handle,
			Role:   spec.DisplayName,
			Bus:    rt.Bus,
			Plan:   rt.Planner,
			Logger: rt.Logger.With("agent", spec.Handle),
		},
		Spec:          spec,
		workspaceRoot: rt.WorkspaceRoot,
		inbox:         make(chan protocol.WorkflowStep, inboxCapacity),
	}
	s.newExecutor = func(ctx context.Context) (executor, error) {
		br := &bridge.Bridge{
			AgentName:   spec.Handle,
			Workspace:   s.session.Workspace,
			Command:     rt.BridgeCommand,
			GracePeriod: rt.BridgeGrace,
			Logger:      s.Logger,
		}
		if err := br.Start(ctx); err != nil {
			return nil, err
		}
		return br, nil
	}
	return s
}

// Start provisions the tool session descriptor and persona, announces boot on
// the status channel, and launches the drain goroutine. The drain loop runs
// until ctx is cancelled.
func (s *Specialist) Start(ctx context.Context) error {
	s.session = protocol.ToolSession{
		AgentName: s.Spec.Handle,
		Workspace: filepath.Join(s.workspaceRoot, s.Spec.Handle),
	}
	if err := s.Boot(ctx, s.instructions()); err != nil {
		return fmt.Errorf("specialist %s: boot: %w", s.Spec.Handle, err)
	}
	s.Notify(protocol.ChannelStatus, map[string]any{
		"event":  "specialist_boot",
		"handle": s.Spec.Handle,
	})
	go s.drain(ctx)
	return nil
}

// ReceiveStep enqueues a workflow step for execution.
func (s *Specialist) ReceiveStep(step protocol.WorkflowStep) {
	s.inbox <- step
}

// ToolSession returns the workspace descriptor assigned at Start.
func (s *Specialist) ToolSession() protocol.ToolSession { return s.session }

func (s *Specialist) instructions() string {
	capabilities := s.Spec.Capabilities
	if len(capabilities) == 0 {
		capabilities = []string{"planning", "execution"}
	}
	return fmt.Sprintf(
		"Role: %s\nMission: %s\nWorkspace: %s (agent: %s).\nCheck-ins every %d seconds.\nCapabilities: %s\n"+
			`When you produce actions, respond with JSON using the schema {"actions": [{"tool": str, "arguments": dict}]}.`,
		s.Spec.DisplayName,
		s.Spec.Mission,
		s.session.Workspace,
		s.session.AgentName,
		s.Spec.CheckInSeconds,
		strings.Join(capabilities, ", "),
	)
}

// drain processes queued steps one at a time. A step failure is converted
// into an alert at this boundary; the loop itself only stops with ctx.
func (s *Specialist) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("specialist drain stopping", "handle", s.Spec.Handle)
			return
		case step := <-s.inbox:
			if err := s.executeStep(ctx, step); err != nil {
				s.Logger.Warn("step failed", "handle", s.Spec.Handle, "step", step.Name, "error", err)
				s.Notify(protocol.ChannelAlert, map[string]any{
					"event":  "specialist_error",
					"handle": s.Spec.Handle,
					"step":   step.Name,
					"error":  err.Error(),
				})
			}
		}
	}
}

func (s *Specialist) executeStep(ctx context.Context, step protocol.WorkflowStep) error {
	s.Notify(protocol.ChannelStatus, map[string]any{
		"event":       "step_start",
		"handle":      s.Spec.Handle,
		"step":        step.Name,
		"description": step.Description,
	})

	deps := "none"
	if len(step.DependsOn) > 0 {
		deps = strings.Join(step.DependsOn, ", ")
	}
	prompt := fmt.Sprintf(
		"Task: %s\nDependencies: %s\nRespond with JSON specifying tool actions to take.",
		step.Description, deps,
	)

	transcript, err := s.SendModelMessage(ctx, prompt, map[string]string{"step": step.Name})
	if err != nil {
		return fmt.Errorf("specialist %s: plan step %s: %w", s.Spec.Handle, step.Name, err)
	}
	actions := planner.ExtractActions(transcript)

	if err := s.runActions(ctx, step, actions); err != nil {
		return err
	}

	s.Notify(protocol.ChannelStatus, map[string]any{
		"event":  "step_complete",
		"handle": s.Spec.Handle,
		"step":   step.Name,
	})
	return nil
}

// runActions opens one tool session for the step and executes every action in
// order. The session is released on every exit path.
func (s *Specialist) runActions(ctx context.Context, step protocol.WorkflowStep, actions []planner.Action) error {
	ex, err := s.newExecutor(ctx)
	if err != nil {
		return fmt.Errorf("specialist %s: open tool session: %w", s.Spec.Handle, err)
	}
	defer ex.Close()

	for _, action := range actions {
		handler, ok := toolHandlers[action.Tool]
		if !ok {
			return &UnknownToolError{Tool: action.Tool}
		}
		resp, err := handler(ctx, ex, action.Arguments)
		if err != nil {
			return fmt.Errorf("specialist %s: tool %s: %w", s.Spec.Handle, action.Tool, err)
		}
		s.Notify(protocol.ChannelArtifact, map[string]any{
			"event":  "tool_action",
			"handle": s.Spec.Handle,
			"step":   step.Name,
			"tool":   action.Tool,
			"result": resp.Data,
		})
	}
	return nil
}

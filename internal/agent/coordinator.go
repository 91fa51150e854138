package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/crew-io/crewd/internal/planner"
	"github.com/crew-io/crewd/pkg/protocol"
)

// CoordinatorName is the coordinator's bus sender identity.
const CoordinatorName = "coordinator"

// StepPolicy decides what happens to a workflow step whose role matches no
// instantiated specialist.
type StepPolicy string

const (
	// DropUnassigned silently skips unroutable steps (a warning is logged).
	DropUnassigned StepPolicy = "drop"
	// ErrorUnassigned fails orchestration on the first unroutable step.
	ErrorUnassigned StepPolicy = "error"
)

// UnassignedStepError reports a workflow step routed to a role with no
// matching specialist, under the error policy.
type UnassignedStepError struct {
	Step string
	Role string
}

func (e *UnassignedStepError) Error() string {
	return fmt.Sprintf("agent: step %q routed to unknown role %q", e.Step, e.Role)
}

// Coordinator obtains a plan for a goal, spins up one specialist per role,
// distributes workflow steps, and supervises the status and alert channels.
type Coordinator struct {
	Base
	Prompt     string
	StepPolicy StepPolicy

	rt Runtime

	mu          sync.Mutex
	plan        *protocol.Plan
	specialists map[string]*Specialist

	supervised    bool
	monitorCancel context.CancelFunc
	monitorWG     sync.WaitGroup

	stateMu      sync.Mutex
	latestStatus map[string]map[string]any
	alerts       []map[string]any
}

// NewCoordinator constructs the coordinator.
func NewCoordinator(rt Runtime, prompt string, policy StepPolicy) *Coordinator {
	if policy == "" {
		policy = DropUnassigned
	}
	return &Coordinator{
		Base: Base{
			Name:   CoordinatorName,
			Role:   "System Coordinator",
			Bus:    rt.Bus,
			Plan:   rt.Planner,
			Logger: rt.Logger.With("agent", CoordinatorName),
		},
		Prompt:       prompt,
		StepPolicy:   policy,
		rt:           rt,
		specialists:  make(map[string]*Specialist),
		latestStatus: make(map[string]map[string]any),
	}
}

// Start registers the coordinator's persona. Idempotent.
func (c *Coordinator) Start(ctx context.Context) error {
	return c.Boot(ctx, c.Prompt)
}

// HandleGoal asks the planning capability to synthesize a plan for the goal,
// extracts the last well-formed JSON payload from the transcript, and
// publishes the raw payload on the plan channel. There is no degraded plan:
// extraction failure propagates to the caller.
func (c *Coordinator) HandleGoal(ctx context.Context, goal string) (*protocol.Plan, error) {
	transcript, err := c.SendModelMessage(ctx,
		"You are designing a multi-agent workflow. "+
			"Return a compact JSON object with keys mission_brief, roles, workflow, communication. "+
			"User goal: "+goal,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("coordinator: plan goal: %w", err)
	}

	payload, err := planner.ExtractObject(transcript)
	if err != nil {
		return nil, fmt.Errorf("coordinator: extract plan: %w", err)
	}
	plan, err := protocol.PlanFromPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("coordinator: build plan: %w", err)
	}

	c.mu.Lock()
	c.plan = plan
	c.mu.Unlock()

	c.Notify(protocol.ChannelPlan, map[string]any{"plan": payload})
	c.Logger.Info("plan created", "roles", len(plan.Roles), "steps", len(plan.Workflow))
	return plan, nil
}

// Orchestrate runs the full pipeline for one goal: plan, spin up specialists,
// distribute workflow steps, begin supervision.
func (c *Coordinator) Orchestrate(ctx context.Context, goal string) (*protocol.Plan, error) {
	plan, err := c.HandleGoal(ctx, goal)
	if err != nil {
		return nil, err
	}
	if err := c.SpinUpSpecialists(ctx); err != nil {
		return nil, err
	}
	if err := c.AssignWorkflow(ctx); err != nil {
		return nil, err
	}
	c.EnsureSupervision(ctx)
	return plan, nil
}

// SpinUpSpecialists instantiates one specialist per plan role. Handles that
// already have a specialist are skipped, so re-entry is safe. New specialists
// are started concurrently; the call returns once every boot has finished.
func (c *Coordinator) SpinUpSpecialists(ctx context.Context) error {
	c.mu.Lock()
	if c.plan == nil {
		c.mu.Unlock()
		return fmt.Errorf("coordinator: no plan; call HandleGoal first")
	}
	var fresh []*Specialist
	for _, spec := range c.plan.Roles {
		if _, exists := c.specialists[spec.Handle]; exists {
			continue
		}
		s := NewSpecialist(spec, c.rt)
		c.specialists[spec.Handle] = s
		fresh = append(fresh, s)
	}
	c.mu.Unlock()

	errCh := make(chan error, len(fresh))
	var wg sync.WaitGroup
	for _, s := range fresh {
		wg.Add(1)
		go func(s *Specialist) {
			defer wg.Done()
			if err := s.Start(ctx); err != nil {
				errCh <- err
			}
		}(s)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		return err
	}
	return nil
}

// AssignWorkflow routes every workflow step to the specialist whose handle
// matches the step's role. Unmatched steps follow the configured policy.
func (c *Coordinator) AssignWorkflow(ctx context.Context) error {
	c.mu.Lock()
	plan := c.plan
	c.mu.Unlock()
	if plan == nil {
		return fmt.Errorf("coordinator: no plan; call HandleGoal first")
	}

	for _, step := range plan.Workflow {
		c.mu.Lock()
		s, ok := c.specialists[step.Role]
		c.mu.Unlock()
		if !ok {
			if c.StepPolicy == ErrorUnassigned {
				return &UnassignedStepError{Step: step.Name, Role: step.Role}
			}
			c.Logger.Warn("dropping step with no matching specialist", "step", step.Name, "role", step.Role)
			continue
		}
		s.ReceiveStep(step)
	}
	return nil
}

// EnsureSupervision registers the two long-lived channel monitors exactly
// once: status updates a last-write-wins per-sender view, alerts append to an
// ordered log. Monitors run until Shutdown or ctx cancellation.
func (c *Coordinator) EnsureSupervision(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.supervised {
		return
	}
	c.supervised = true

	monitorCtx, cancel := context.WithCancel(ctx)
	c.monitorCancel = cancel

	for _, ch := range []protocol.Channel{protocol.ChannelStatus, protocol.ChannelAlert} {
		sub := c.Bus.Subscribe(monitorCtx, ch)
		c.monitorWG.Add(1)
		go func(channel protocol.Channel) {
			defer c.monitorWG.Done()
			for msg := range sub.C() {
				c.observe(channel, msg)
			}
		}(ch)
	}
}

func (c *Coordinator) observe(channel protocol.Channel, msg protocol.Message) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	switch channel {
	case protocol.ChannelStatus:
		c.latestStatus[msg.Sender] = msg.Payload
	case protocol.ChannelAlert:
		c.alerts = append(c.alerts, msg.Payload)
	}
}

// Shutdown cancels the supervision monitors and waits for them to stop.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	cancel := c.monitorCancel
	c.supervised = false
	c.monitorCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.monitorWG.Wait()
}

// CurrentPlan returns the active plan, if any.
func (c *Coordinator) CurrentPlan() *protocol.Plan {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.plan
}

// Specialist returns the instantiated specialist for a handle.
func (c *Coordinator) Specialist(handle string) (*Specialist, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.specialists[handle]
	return s, ok
}

// LatestStatus returns a copy of the last status payload seen per sender.
func (c *Coordinator) LatestStatus() map[string]map[string]any {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	out := make(map[string]map[string]any, len(c.latestStatus))
	for k, v := range c.latestStatus {
		out[k] = v
	}
	return out
}

// Alerts returns a copy of the alert log, oldest first.
func (c *Coordinator) Alerts() []map[string]any {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	out := make([]map[string]any, len(c.alerts))
	copy(out, c.alerts)
	return out
}

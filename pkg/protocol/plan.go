package protocol

import (
	"encoding/json"
	"fmt"
)

const defaultIntervalSeconds = 300

// RoleSpec describes a dynamically created specialist role. Handle is the join
// key used everywhere: bus sender identity, step routing, tool session naming.
type RoleSpec struct {
	Handle         string   `json:"handle"`
	DisplayName    string   `json:"display_name"`
	Mission        string   `json:"mission"`
	Instructions   string   `json:"instructions"`
	CheckInSeconds int      `json:"check_in_seconds"`
	Capabilities   []string `json:"capabilities,omitempty"`
}

// WorkflowStep is an atomic unit of work routed to the specialist whose handle
// matches Role. DependsOn is declarative metadata forwarded to the planning
// model; ordering across specialists is not enforced here.
type WorkflowStep struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Role        string   `json:"role"`
	DependsOn   []string `json:"depends_on,omitempty"`
}

// CommRule defines check-in cadence and the channels used for it.
type CommRule struct {
	IntervalSeconds int       `json:"interval_seconds"`
	Channels        []Channel `json:"channels"`
}

// Plan is the structured decomposition of a goal, produced once per goal and
// immutable afterwards.
type Plan struct {
	MissionBrief  string         `json:"mission_brief"`
	Roles         []RoleSpec     `json:"roles"`
	Workflow      []WorkflowStep `json:"workflow"`
	Communication CommRule       `json:"communication"`
}

// planPayload mirrors the JSON shape the planning model is asked to emit.
type planPayload struct {
	MissionBrief  string         `json:"mission_brief"`
	Roles         []RoleSpec     `json:"roles"`
	Workflow      []WorkflowStep `json:"workflow"`
	Communication struct {
		IntervalSeconds int      `json:"interval_seconds"`
		Channels        []string `json:"channels"`
	} `json:"communication"`
}

// PlanFromPayload builds a Plan from a decoded model payload, applying
// defaults: interval_seconds 300 when absent, channels ["status"] when absent
// or entirely unknown. Unknown channel names are filtered out. Duplicate role
// handles are rejected.
func PlanFromPayload(payload map[string]any) (*Plan, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode plan payload: %w", err)
	}
	var pp planPayload
	if err := json.Unmarshal(raw, &pp); err != nil {
		return nil, fmt.Errorf("protocol: decode plan payload: %w", err)
	}

	seen := make(map[string]bool, len(pp.Roles))
	for i := range pp.Roles {
		r := &pp.Roles[i]
		if r.Handle == "" {
			return nil, fmt.Errorf("protocol: role %d has no handle", i)
		}
		if seen[r.Handle] {
			return nil, fmt.Errorf("protocol: duplicate role handle %q", r.Handle)
		}
		seen[r.Handle] = true
		if r.CheckInSeconds <= 0 {
			r.CheckInSeconds = defaultIntervalSeconds
		}
	}

	var channels []Channel
	for _, name := range pp.Communication.Channels {
		ch, err := ParseChannel(name)
		if err != nil {
			continue
		}
		channels = append(channels, ch)
	}
	if len(channels) == 0 {
		channels = []Channel{ChannelStatus}
	}
	interval := pp.Communication.IntervalSeconds
	if interval <= 0 {
		interval = defaultIntervalSeconds
	}

	return &Plan{
		MissionBrief: pp.MissionBrief,
		Roles:        pp.Roles,
		Workflow:     pp.Workflow,
		Communication: CommRule{
			IntervalSeconds: interval,
			Channels:        channels,
		},
	}, nil
}

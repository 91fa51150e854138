package protocol

// AgentSession identifies an agent's representation on the planning service.
// Created once per agent on first boot and immutable afterwards.
type AgentSession struct {
	AssistantID string `json:"assistant_id"`
	ThreadID    string `json:"thread_id"`
	Name        string `json:"name"`
	Role        string `json:"role"`
}

// ToolSession describes the workspace-bound tool subprocess scope owned by a
// single specialist.
type ToolSession struct {
	AgentName string `json:"agent_name"`
	Workspace string `json:"workspace"`
}

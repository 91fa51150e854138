package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultWorkspaceRoot  = "./workspaces"
	defaultCheckInSeconds = 300
	defaultGraceSeconds   = 5

	// DefaultCoordinatorPrompt is the coordinator persona used when the
	// config does not override it.
	DefaultCoordinatorPrompt = "You are the coordinator of an autonomous development team. " +
		"Gather requirements, design workflows, spawn specialists, and deliver results with clear reports."
)

// Config is the top-level crewd configuration. It is constructed once and
// passed to every component explicitly.
type Config struct {
	Planner               PlannerConfig     `yaml:"planner"`
	Bridge                BridgeConfig      `yaml:"bridge"`
	Coordinator           CoordinatorConfig `yaml:"coordinator"`
	Notify                NotifyConfig      `yaml:"notify"`
	WorkspaceRoot         string            `yaml:"workspace_root"`
	DefaultCheckInSeconds int               `yaml:"default_check_in_seconds"`
}

// PlannerConfig holds planning-service settings.
type PlannerConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	CustomProvider string `yaml:"custom_provider,omitempty"`
}

// BridgeConfig holds tool subprocess settings.
type BridgeConfig struct {
	Command      []string `yaml:"command"`
	GraceSeconds int      `yaml:"grace_seconds"`
}

// CoordinatorConfig holds coordinator-level settings.
type CoordinatorConfig struct {
	Prompt          string `yaml:"prompt"`
	UnassignedSteps string `yaml:"unassigned_steps"` // "drop" (default) or "error"
}

// NotifyConfig holds outbound notification settings.
type NotifyConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url,omitempty"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := withDefaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv builds a config from CREW_-prefixed environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := withDefaults()
	cfg.Planner.BaseURL = getenv("CREW_PLANNER_BASE_URL", cfg.Planner.BaseURL)
	cfg.Planner.APIKey = os.Getenv("CREW_PLANNER_API_KEY")
	cfg.Planner.Model = getenv("CREW_MODEL", cfg.Planner.Model)
	cfg.Planner.CustomProvider = getenv("CREW_CUSTOM_PROVIDER", cfg.Planner.CustomProvider)
	cfg.WorkspaceRoot = getenv("CREW_WORKSPACE_ROOT", cfg.WorkspaceRoot)
	cfg.DefaultCheckInSeconds = getenvInt("CREW_CHECK_IN_SECONDS", cfg.DefaultCheckInSeconds)
	cfg.Bridge.GraceSeconds = getenvInt("CREW_BRIDGE_GRACE_SECONDS", cfg.Bridge.GraceSeconds)
	if argv := os.Getenv("CREW_BRIDGE_COMMAND"); argv != "" {
		cfg.Bridge.Command = strings.Fields(argv)
	}
	cfg.Coordinator.Prompt = getenv("CREW_COORDINATOR_PROMPT", cfg.Coordinator.Prompt)
	cfg.Coordinator.UnassignedSteps = getenv("CREW_UNASSIGNED_STEPS", cfg.Coordinator.UnassignedSteps)
	cfg.Notify.SlackWebhookURL = os.Getenv("CREW_SLACK_WEBHOOK_URL")
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withDefaults() *Config {
	return &Config{
		Planner: PlannerConfig{
			Model:          "gpt-4.1-mini",
			CustomProvider: "openai",
		},
		Bridge: BridgeConfig{
			Command:      []string{"codex", "cli", "mcp"},
			GraceSeconds: defaultGraceSeconds,
		},
		Coordinator: CoordinatorConfig{
			Prompt:          DefaultCoordinatorPrompt,
			UnassignedSteps: "drop",
		},
		WorkspaceRoot:         defaultWorkspaceRoot,
		DefaultCheckInSeconds: defaultCheckInSeconds,
	}
}

// applyDefaults restores defaults that YAML parsing may have overwritten with
// zero values.
func applyDefaults(cfg *Config) {
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = defaultWorkspaceRoot
	}
	if cfg.DefaultCheckInSeconds <= 0 {
		cfg.DefaultCheckInSeconds = defaultCheckInSeconds
	}
	if cfg.Bridge.GraceSeconds <= 0 {
		cfg.Bridge.GraceSeconds = defaultGraceSeconds
	}
	if cfg.Coordinator.Prompt == "" {
		cfg.Coordinator.Prompt = DefaultCoordinatorPrompt
	}
	if cfg.Coordinator.UnassignedSteps == "" {
		cfg.Coordinator.UnassignedSteps = "drop"
	}
}

// Validate checks for required fields, collecting every problem.
func (c *Config) Validate() error {
	var errs []string

	if c.Planner.APIKey == "" {
		errs = append(errs, "planner.api_key is required")
	}
	if c.Planner.Model == "" {
		errs = append(errs, "planner.model is required")
	}
	if len(c.Bridge.Command) == 0 {
		errs = append(errs, "bridge.command is required")
	}
	switch c.Coordinator.UnassignedSteps {
	case "drop", "error":
	default:
		errs = append(errs, fmt.Sprintf("coordinator.unassigned_steps must be \"drop\" or \"error\", got %q", c.Coordinator.UnassignedSteps))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

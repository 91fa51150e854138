package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

const defaultGracePeriod = 5 * time.Second

// AgentNameEnv is set on the tool subprocess so it can identify its owner.
const AgentNameEnv = "CREW_AGENT_NAME"

var (
	// ErrNotConnected is returned when Request is called before Start or
	// after Close.
	ErrNotConnected = errors.New("bridge: not connected")
	// ErrEmptyResponse is returned when the subprocess closes its output
	// stream instead of replying.
	ErrEmptyResponse = errors.New("bridge: empty response")
)

// Response is one parsed reply from the tool subprocess.
type Response struct {
	OK   bool
	Data map[string]any
	Raw  string
}

// Bridge owns exactly one tool-execution subprocess for a specialist's
// workspace. The wire protocol is caller-driven line-delimited JSON:
// {"tool":...,"kwargs":...} out, one JSON object line back.
type Bridge struct {
	AgentName   string
	Workspace   string
	Command     []string // argv of the tool subprocess
	GracePeriod time.Duration
	Logger      *slog.Logger

	reqMu sync.Mutex // serializes requests: at most one in flight

	stateMu sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	closed  bool
}

// Start creates the workspace directory if needed, spawns the tool subprocess
// with the workspace as its working directory, and attaches its pipes.
func (b *Bridge) Start(ctx context.Context) error {
	if len(b.Command) == 0 {
		return fmt.Errorf("bridge: no tool command configured")
	}
	if b.Logger == nil {
		b.Logger = slog.Default()
	}
	if err := os.MkdirAll(b.Workspace, 0o755); err != nil {
		return fmt.Errorf("bridge: create workspace %s: %w", b.Workspace, err)
	}

	cmd := exec.CommandContext(ctx, b.Command[0], b.Command[1:]...)
	cmd.Dir = b.Workspace
	cmd.Env = append(os.Environ(), AgentNameEnv+"="+b.AgentName)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("bridge: attach stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("bridge: attach stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("bridge: spawn %s: %w", b.Command[0], err)
	}

	b.stateMu.Lock()
	b.cmd = cmd
	b.stdin = stdin
	b.stdout = bufio.NewReader(stdout)
	b.closed = false
	b.stateMu.Unlock()

	b.Logger.Debug("bridge connected", "agent", b.AgentName, "workspace", b.Workspace, "pid", cmd.Process.Pid)
	return nil
}

// Request sends one tool invocation and reads exactly one reply line.
// Requests are serialized by a lock, so correlation is by send order: the
// subprocess must answer request N before request N+1 is written.
func (b *Bridge) Request(ctx context.Context, tool string, kwargs map[string]any) (*Response, error) {
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	payload, err := json.Marshal(map[string]any{"tool": tool, "kwargs": kwargs})
	if err != nil {
		return nil, fmt.Errorf("bridge: encode request: %w", err)
	}

	b.reqMu.Lock()
	defer b.reqMu.Unlock()

	b.stateMu.Lock()
	stdin, stdout := b.stdin, b.stdout
	connected := b.cmd != nil && !b.closed
	b.stateMu.Unlock()

	if !connected {
		return nil, ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("bridge: request %s: %w", tool, err)
	}

	if _, err := stdin.Write(append(payload, '\n')); err != nil {
		return nil, fmt.Errorf("bridge: write request %s: %w", tool, err)
	}

	raw, err := stdout.ReadString('\n')
	if err != nil {
		if raw == "" {
			return nil, ErrEmptyResponse
		}
		return nil, fmt.Errorf("bridge: read response for %s: %w", tool, err)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("bridge: invalid JSON response %q: %w", raw, err)
	}
	ok, _ := data["ok"].(bool)
	return &Response{OK: ok, Data: data, Raw: raw}, nil
}

// RunCommand asks the subprocess to execute a shell command.
func (b *Bridge) RunCommand(ctx context.Context, command string) (*Response, error) {
	return b.Request(ctx, "run_command", map[string]any{"command": command})
}

// ReadFile asks the subprocess to read a workspace file.
func (b *Bridge) ReadFile(ctx context.Context, path string) (*Response, error) {
	return b.Request(ctx, "read_file", map[string]any{"path": path})
}

// ApplyPatch asks the subprocess to apply a patch to a workspace file.
func (b *Bridge) ApplyPatch(ctx context.Context, path, patch string) (*Response, error) {
	return b.Request(ctx, "apply_patch", map[string]any{"path": path, "patch": patch})
}

// Close shuts the session down: stdin is closed first so the subprocess can
// drain, then it is asked to terminate, and killed outright if it has not
// exited within the grace period. Idempotent, and deliberately not gated on
// the request lock so a wedged in-flight request cannot block teardown —
// closing the pipes unblocks the reader instead.
func (b *Bridge) Close() error {
	b.stateMu.Lock()
	if b.closed || b.cmd == nil {
		b.stateMu.Unlock()
		return nil
	}
	b.closed = true
	cmd := b.cmd
	stdin := b.stdin
	b.stateMu.Unlock()

	if stdin != nil {
		stdin.Close()
	}

	grace := b.GracePeriod
	if grace <= 0 {
		grace = defaultGracePeriod
	}

	if cmd.Process != nil {
		cmd.Process.Signal(syscall.SIGTERM)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case <-waitErr:
	case <-time.After(grace):
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		<-waitErr
		b.Logger.Warn("bridge process killed after grace period", "agent", b.AgentName, "grace", grace)
	}

	b.Logger.Debug("bridge closed", "agent", b.AgentName)
	return nil
}

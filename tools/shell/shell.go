// Package shell provides a shell command execution tool. Commands run
// through `sh -c` inside a configured workspace directory and require
// human approval before each execution.
package shell

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/nevindra/agentworld"
)

const (
	maxOutputChars = 4000
	maxTimeout     = 300 * time.Second
)

// blocklist rejects obviously destructive commands before they reach the
// approval prompt. Approval is the real gate; this catches accidents.
var blocklist = []string{
	"rm -rf /",
	"sudo ",
	"mkfs",
	"> /dev/",
	"dd if=",
}

// Tool executes shell commands in a workspace directory.
type Tool struct {
	workspacePath  string
	defaultTimeout time.Duration
}

// New creates a shell tool rooted at workspacePath. defaultTimeout applies
// when a call does not specify one; zero means 60 seconds.
func New(workspacePath string, defaultTimeout time.Duration) *Tool {
	if defaultTimeout <= 0 {
		defaultTimeout = 60 * time.Second
	}
	return &Tool{workspacePath: workspacePath, defaultTimeout: defaultTimeout}
}

// Definitions returns the shell_exec tool definition.
func (t *Tool) Definitions() []agentworld.ToolDefinition {
	return []agentworld.ToolDefinition{
		{
			Name:        "shell_exec",
			Description: "Execute a shell command in the workspace directory. Returns combined stdout and stderr.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"command": {
						"type": "string",
						"description": "The shell command to execute"
					},
					"working_dir": {
						"type": "string",
						"description": "Directory to run in (defaults to the workspace root)"
					},
					"timeout": {
						"type": "integer",
						"description": "Timeout in seconds (max 300)"
					}
				},
				"required": ["command"]
			}`),
		},
	}
}

type execArgs struct {
	Command    string `json:"command"`
	WorkingDir string `json:"working_dir"`
	Timeout    int    `json:"timeout"`
}

// WorkingDirectory reports the directory a call would run in. It feeds the
// approval key so that approving a command in one directory does not carry
// over to another.
func (t *Tool) WorkingDirectory(args json.RawMessage) string {
	var a execArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return t.workspacePath
	}
	return t.resolveDir(a.WorkingDir)
}

// Execute runs the command and returns its merged output.
func (t *Tool) Execute(ctx context.Context, name string, args json.RawMessage) (agentworld.ToolResult, error) {
	if name != "shell_exec" {
		return agentworld.ToolResult{Error: "unknown tool: " + name}, nil
	}

	var a execArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return agentworld.ToolResult{Error: "invalid arguments: " + err.Error()}, nil
	}
	cmd := strings.TrimSpace(a.Command)
	if cmd == "" {
		return agentworld.ToolResult{Error: "command is required"}, nil
	}

	for _, blocked := range blocklist {
		if strings.Contains(cmd, blocked) {
			return agentworld.ToolResult{Error: fmt.Sprintf("command blocked: contains %q", blocked)}, nil
		}
	}

	timeout := t.defaultTimeout
	if a.Timeout > 0 {
		timeout = time.Duration(a.Timeout) * time.Second
	}
	if timeout > maxTimeout {
		timeout = maxTimeout
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(cmdCtx, "sh", "-c", cmd)
	c.Dir = t.resolveDir(a.WorkingDir)

	var stdout, stderr strings.Builder
	c.Stdout = &stdout
	c.Stderr = &stderr

	runErr := c.Run()

	if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
		return agentworld.ToolResult{Error: fmt.Sprintf("command timed out after %ds", int(timeout.Seconds()))}, nil
	}

	output := mergeOutput(stdout.String(), stderr.String())
	if len(output) > maxOutputChars {
		output = output[:maxOutputChars] + "\n... (output truncated)"
	}

	if runErr != nil {
		if output == "" {
			output = runErr.Error()
		}
		return agentworld.ToolResult{Content: output, Error: runErr.Error()}, nil
	}
	if output == "" {
		output = "(no output)"
	}
	return agentworld.ToolResult{Content: output}, nil
}

// resolveDir maps a working_dir argument to an absolute path. Relative
// paths resolve against the workspace root; escapes fall back to the root.
func (t *Tool) resolveDir(dir string) string {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return t.workspacePath
	}
	if strings.Contains(dir, "..") {
		return t.workspacePath
	}
	if strings.HasPrefix(dir, "/") {
		if t.workspacePath == "" || strings.HasPrefix(dir, t.workspacePath) {
			return dir
		}
		return t.workspacePath
	}
	return t.workspacePath + "/" + dir
}

func mergeOutput(stdout, stderr string) string {
	stdout = strings.TrimRight(stdout, "\n")
	stderr = strings.TrimRight(stderr, "\n")
	switch {
	case stdout != "" && stderr != "":
		return stdout + "\n--- stderr ---\n" + stderr
	case stderr != "":
		return stderr
	default:
		return stdout
	}
}

// Compile-time interface checks.
var (
	_ agentworld.Tool        = (*Tool)(nil)
	_ agentworld.WorkdirTool = (*Tool)(nil)
)

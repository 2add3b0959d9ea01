package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ClaudeBackend runs the claude CLI in print mode, one process per prompt.
type ClaudeBackend struct {
	// ClaudePath is the path to the claude binary. Defaults to "claude".
	ClaudePath string

	// Model is passed as --model when set.
	Model string
}

// NewClaudeBackend creates a backend that finds claude in PATH.
func NewClaudeBackend() *ClaudeBackend {
	return &ClaudeBackend{ClaudePath: "claude"}
}

// Name implements Backend.
func (b *ClaudeBackend) Name() string { return "claude" }

// claudeResult is the envelope printed by --output-format json.
type claudeResult struct {
	Type      string `json:"type"`
	Result    string `json:"result"`
	IsError   bool   `json:"is_error"`
	SessionID string `json:"session_id"`
}

// Args builds the CLI arguments for p.
func (b *ClaudeBackend) Args(p Prompt) []string {
	args := []string{}
	if p.System != "" {
		args = append(args, "--system-prompt", p.System)
	}
	args = append(args, "-p", p.User)
	if b.Model != "" {
		args = append(args, "--model", b.Model)
	}
	args = append(args, "--output-format", "json")

	// Disable hooks for automation
	args = append(args, "--settings", `{"disableAllHooks": true}`)
	return args
}

// Complete implements Backend. The process is killed when ctx ends.
func (b *ClaudeBackend) Complete(ctx context.Context, p Prompt) (string, error) {
	if p.User == "" {
		return "", fmt.Errorf("prompt is required")
	}
	claudePath := b.ClaudePath
	if claudePath == "" {
		claudePath = "claude"
	}

	cmd := exec.CommandContext(ctx, claudePath, b.Args(p)...)
	setCleanEnv(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("claude invocation failed: %w (stderr: %s)", err, truncate(strings.TrimSpace(stderr.String()), 500))
	}
	return parseClaudeOutput(stdout.Bytes())
}

// parseClaudeOutput unwraps the JSON envelope. Output that is not the
// envelope is returned as plain text.
func parseClaudeOutput(out []byte) (string, error) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return "", fmt.Errorf("claude returned no output")
	}

	// Skip any preamble before the envelope.
	if i := bytes.IndexByte(trimmed, '{'); i > 0 {
		trimmed = trimmed[i:]
	}
	var res claudeResult
	if err := json.Unmarshal(trimmed, &res); err != nil {
		return strings.TrimSpace(string(out)), nil
	}
	if res.IsError {
		return "", fmt.Errorf("claude reported an error: %s", truncate(res.Result, 500))
	}
	if strings.TrimSpace(res.Result) == "" {
		return "", fmt.Errorf("claude returned an empty result")
	}
	return res.Result, nil
}

// cleanTmpDir is a dedicated TMPDIR for claude subprocesses. Editor socket
// files in the shared temp dir crash the CLI when --settings is used.
var cleanTmpDir = filepath.Join(os.TempDir(), "rootcause-claude")

// setCleanEnv copies the environment and points TMPDIR at cleanTmpDir.
func setCleanEnv(cmd *exec.Cmd) {
	_ = os.MkdirAll(cleanTmpDir, 0755)
	cmd.Env = os.Environ()

	found := false
	for i, env := range cmd.Env {
		if strings.HasPrefix(env, "TMPDIR=") {
			cmd.Env[i] = "TMPDIR=" + cleanTmpDir
			found = true
			break
		}
	}
	if !found {
		cmd.Env = append(cmd.Env, "TMPDIR="+cleanTmpDir)
	}
}

// Package agentrunner implements the Agent Runner effect (spec §6): the
// single seam through which the core invokes an LLM coding agent, grounded
// in the teacher's claude.Invoker. The core depends only on the Runner
// interface; ClaudeRunner is the concrete implementation shelling out to
// the claude CLI.
package agentrunner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Role distinguishes the three agent personas the pipeline invokes.
type Role string

const (
	RoleWorker  Role = "worker"
	RoleJudge   Role = "judge"
	RolePlanner Role = "planner"
)

// Request is a single invocation of an agent.
type Request struct {
	Role        Role
	AgentType   string // e.g. "general-purpose", "code-reviewer"
	Model       string // empty uses the CLI default
	Prompt      string
	WorkingDir  string
	Schema      string // JSON schema for structured output, optional
	ResumeID    string // session id to resume, optional
	BypassPerms bool
}

// Response is the parsed result of an agent invocation.
type Response struct {
	Content   string // extracted JSON/text payload
	SessionID string
	RawOutput []byte
}

// Runner is the Agent Runner effect the core consumes.
type Runner interface {
	Run(ctx context.Context, req Request) (*Response, error)
}

// DefaultSystemPrompt enforces JSON-only output so callers can reliably
// parse agent responses without prose or code fences contaminating them.
const DefaultSystemPrompt = "You are a software engineering agent. Your ONLY output must be valid JSON matching the requested shape. No markdown, no code fences, no XML tags, no prose, no explanations. Output raw JSON only."

// ClaudeRunner invokes the claude CLI as a subprocess per request.
type ClaudeRunner struct {
	// ClaudePath is the claude binary; defaults to "claude".
	ClaudePath string

	// Timeout bounds a single invocation; zero means no timeout beyond ctx.
	Timeout time.Duration

	// SystemPrompt overrides DefaultSystemPrompt when non-empty.
	SystemPrompt string

	// RateLimitWaiter is invoked on detecting a rate limit; it blocks
	// until the agent should retry, or returns an error to abort.
	RateLimitWaiter func(ctx context.Context, info *RateLimitInfo) error
}

// NewClaudeRunner returns a ClaudeRunner with sane defaults.
func NewClaudeRunner() *ClaudeRunner {
	return &ClaudeRunner{
		ClaudePath:   "claude",
		SystemPrompt: DefaultSystemPrompt,
	}
}

// Run invokes the claude CLI, retrying once after waiting out a detected
// rate limit.
func (c *ClaudeRunner) Run(ctx context.Context, req Request) (*Response, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if c.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	resp, err := c.invoke(runCtx, req)
	if err == nil {
		return resp, nil
	}

	info := ParseRateLimitFromError(err.Error())
	if info == nil || c.RateLimitWaiter == nil {
		return nil, err
	}
	if waitErr := c.RateLimitWaiter(runCtx, info); waitErr != nil {
		return nil, waitErr
	}
	return c.invoke(runCtx, req)
}

func (c *ClaudeRunner) invoke(ctx context.Context, req Request) (*Response, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("agentrunner: prompt is required")
	}

	var args []string
	if req.ResumeID != "" {
		args = append(args, "--resume", req.ResumeID)
	}
	if req.AgentType != "" {
		args = append(args, "--agent", req.AgentType)
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}

	systemPrompt := c.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	args = append(args, "--system-prompt", systemPrompt)
	args = append(args, "-p", req.Prompt)

	if req.Schema != "" {
		args = append(args, "--json-schema", req.Schema)
	}
	args = append(args, "--output-format", "json")

	if req.BypassPerms {
		args = append(args, "--permission-mode", "bypassPermissions")
	}
	args = append(args, "--settings", `{"disableAllHooks": true}`)

	claudePath := c.ClaudePath
	if claudePath == "" {
		claudePath = "claude"
	}

	cmd := exec.CommandContext(ctx, claudePath, args...)
	cmd.Dir = req.WorkingDir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("agentrunner: %s invocation failed: %w (output: %s)", req.Role, err, out.String())
	}

	content, sessionID, err := ParseResponse(out.Bytes())
	if err != nil {
		return nil, fmt.Errorf("agentrunner: parse response: %w", err)
	}
	return &Response{Content: content, SessionID: sessionID, RawOutput: out.Bytes()}, nil
}

// ParseResponse extracts the agent's structured payload from the claude
// CLI's JSON wrapper output, falling back to brace-extraction when the
// wrapper itself is not well-formed JSON (e.g. warnings printed to stdout
// ahead of the JSON body).
func ParseResponse(rawOutput []byte) (content string, sessionID string, err error) {
	output := string(rawOutput)

	var envelope map[string]interface{}
	if jsonErr := json.Unmarshal(rawOutput, &envelope); jsonErr != nil {
		start := strings.Index(output, "{")
		end := strings.LastIndex(output, "}")
		if start < 0 || end <= start {
			return "", "", nil
		}
		candidate := output[start : end+1]
		if jsonErr := json.Unmarshal([]byte(candidate), &envelope); jsonErr != nil {
			return output, "", nil
		}
	}

	if sid, ok := envelope["session_id"].(string); ok {
		sessionID = sid
	}

	if structured, ok := envelope["structured_output"]; ok && structured != nil {
		if m, isMap := structured.(map[string]interface{}); isMap && len(m) > 0 {
			if b, marshalErr := json.Marshal(structured); marshalErr == nil {
				return string(b), sessionID, nil
			}
		}
	}
	if result, ok := envelope["result"].(string); ok {
		return result, sessionID, nil
	}
	if c, ok := envelope["content"].(string); ok {
		return c, sessionID, nil
	}

	start := strings.Index(output, "{")
	end := strings.LastIndex(output, "}")
	if start >= 0 && end > start {
		return output[start : end+1], sessionID, nil
	}
	return "", sessionID, nil
}

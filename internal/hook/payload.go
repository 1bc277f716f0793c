// Package hook adapts Claude Code's Task-tool hook events to the policy
// engine. The host invokes a hook process with a JSON payload on stdin for
// every Task call, before (PreToolUse) and after (PostToolUse) the spawned
// agent runs.
//
// The hook boundary fails open: whatever goes wrong internally, the
// interceptor answers ALLOW rather than wedging the host's tool call.
package hook

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// sessionKeyLen truncates session ids for readability in paths and logs.
const sessionKeyLen = 8

// agentIDLen is how much of a tool_use_id becomes the agent id. The same
// prefix is derived in pre and post, which is how the two events pair up.
const agentIDLen = 12

// TaskInput is the tool_input block of a Task hook payload.
type TaskInput struct {
	Description  string `json:"description"`
	Prompt       string `json:"prompt"`
	SubagentType string `json:"subagent_type"`
}

// Payload is the hook event JSON Claude Code writes to stdin. ToolResponse
// is only present on PostToolUse and its shape varies, so it stays raw.
type Payload struct {
	SessionID    string          `json:"session_id"`
	HookEvent    string          `json:"hook_event_name,omitempty"`
	ToolName     string          `json:"tool_name,omitempty"`
	ToolUseID    string          `json:"tool_use_id"`
	ToolInput    TaskInput       `json:"tool_input"`
	ToolResponse json.RawMessage `json:"tool_response,omitempty"`
}

// ParsePayload decodes a hook payload from r.
func ParsePayload(r io.Reader) (*Payload, error) {
	var p Payload
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("hook: decode payload: %w", err)
	}
	return &p, nil
}

// SessionKey returns the truncated session identifier used in state paths.
func (p *Payload) SessionKey() string {
	key := p.SessionID
	if key == "" {
		key = "unknown"
	}
	if len(key) > sessionKeyLen {
		key = key[:sessionKeyLen]
	}
	return key
}

// AgentID derives the agent id for this event: a tool_use_id prefix when
// one was provided, otherwise role plus a random suffix.
func (p *Payload) AgentID() string {
	if p.ToolUseID != "" {
		if len(p.ToolUseID) > agentIDLen {
			return p.ToolUseID[:agentIDLen]
		}
		return p.ToolUseID
	}
	role := p.ToolInput.SubagentType
	if role == "" {
		role = "unknown"
	}
	return fmt.Sprintf("%s-%s", role, uuid.NewString()[:4])
}

// TaskSummary returns the short task description for the roster: the
// description field, or a prompt prefix when none was given.
func (p *Payload) TaskSummary() string {
	if p.ToolInput.Description != "" {
		return p.ToolInput.Description
	}
	prompt := p.ToolInput.Prompt
	if len(prompt) > 500 {
		prompt = prompt[:500]
	}
	return prompt
}

// ResponseText returns the tool response as plain text for decision
// extraction: a JSON string is unquoted, anything else passes through raw.
func (p *Payload) ResponseText() string {
	if len(p.ToolResponse) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(p.ToolResponse, &s); err == nil {
		return s
	}
	return string(p.ToolResponse)
}

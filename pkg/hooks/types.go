package hooks

import (
	"encoding/json"
	"time"
)

// EventType represents the type of hook event
type EventType string

const (
	// EventPreToolUse is triggered before a tool call executes.
	// Can allow/deny/modify tool calls; can block with feedback.
	EventPreToolUse EventType = "pre_tool_use"

	// EventPostToolUse is triggered after a tool completes successfully.
	// Can replace the result.
	EventPostToolUse EventType = "post_tool_use"
)

// HookType represents the type of hook action
type HookType string

const (
	// HookTypeCommand executes a shell command
	HookTypeCommand HookType = "command"
)

// Hook represents a single hook configuration
type Hook struct {
	Type HookType `json:"type" yaml:"type"`

	// Command is the shell command to execute. It receives Input as JSON on stdin.
	Command string `json:"command,omitempty" yaml:"command,omitempty"`

	// Timeout is the execution timeout in seconds (default: 60)
	Timeout int `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// GetTimeout returns the timeout duration, defaulting to 60 seconds
func (h *Hook) GetTimeout() time.Duration {
	if h.Timeout <= 0 {
		return 60 * time.Second
	}
	return time.Duration(h.Timeout) * time.Second
}

// MatcherConfig represents a hook matcher with its hooks
type MatcherConfig struct {
	// Matcher is a regex pattern to match tool names (e.g., "search|fetch_.*")
	// Use "*" to match all tools
	Matcher string `json:"matcher,omitempty" yaml:"matcher,omitempty"`

	Hooks []Hook `json:"hooks" yaml:"hooks"`
}

// Config represents the command hooks configuration
type Config struct {
	PreToolUse  []MatcherConfig `json:"pre_tool_use,omitempty" yaml:"pre_tool_use,omitempty"`
	PostToolUse []MatcherConfig `json:"post_tool_use,omitempty" yaml:"post_tool_use,omitempty"`
}

// IsEmpty returns true if no hooks are configured
func (c *Config) IsEmpty() bool {
	return c == nil || (len(c.PreToolUse) == 0 && len(c.PostToolUse) == 0)
}

// Input represents the JSON input passed to hooks via stdin
type Input struct {
	Cwd           string    `json:"cwd"`
	HookEventName EventType `json:"hook_event_name"`

	ToolName  string         `json:"tool_name"`
	ToolUseID string         `json:"tool_use_id"`
	ToolInput map[string]any `json:"tool_input,omitempty"`

	// PostToolUse specific
	ToolResponse map[string]any `json:"tool_response,omitempty"`
}

// ToJSON serializes the input to JSON
func (i *Input) ToJSON() ([]byte, error) {
	return json.Marshal(i)
}

// Decision represents a permission decision from a hook
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// Output represents the JSON output from a hook
type Output struct {
	// Continue indicates whether to continue execution (default: true)
	Continue *bool `json:"continue,omitempty"`

	// StopReason is the message to show when continue=false
	StopReason string `json:"stop_reason,omitempty"`

	// Decision is "block" to stop the call
	Decision string `json:"decision,omitempty"`

	// Reason is the message explaining the decision
	Reason string `json:"reason,omitempty"`

	HookSpecificOutput *HookSpecificOutput `json:"hook_specific_output,omitempty"`
}

// ShouldContinue returns whether execution should continue
func (o *Output) ShouldContinue() bool {
	if o.Continue == nil {
		return true
	}
	return *o.Continue
}

// IsBlocked returns true if the decision is to block
func (o *Output) IsBlocked() bool {
	return o.Decision == "block"
}

// HookSpecificOutput contains event-specific output fields
type HookSpecificOutput struct {
	// PreToolUse fields
	PermissionDecision       Decision       `json:"permission_decision,omitempty"`
	PermissionDecisionReason string         `json:"permission_decision_reason,omitempty"`
	UpdatedInput             map[string]any `json:"updated_input,omitempty"`

	// PostToolUse fields
	UpdatedResponse map[string]any `json:"updated_response,omitempty"`
}

// Result represents the result of executing hooks
type Result struct {
	// Allowed indicates if the call should proceed
	Allowed bool

	// Message is feedback to include in the response
	Message string

	// ModifiedInput contains any modifications to tool input (PreToolUse only)
	ModifiedInput map[string]any

	// ModifiedResponse replaces the tool result (PostToolUse only)
	ModifiedResponse map[string]any

	// ExitCode is the exit code from the hook command (0 = success, 2 = blocking error)
	ExitCode int

	// Stderr contains any error output from the hook
	Stderr string
}

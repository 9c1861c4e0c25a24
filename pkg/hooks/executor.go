package hooks

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/docker/agentcall/pkg/tools"
)

// Executor runs configured shell command hooks. Hooks of one call run one
// after the other, in configuration order.
type Executor struct {
	workingDir string
	env        []string

	shell           string
	shellArgsPrefix []string

	preToolUseMatchers  []compiledMatcher
	postToolUseMatchers []compiledMatcher
}

type compiledMatcher struct {
	config  MatcherConfig
	pattern *regexp.Regexp
}

// hookRun represents the outcome of executing a single hook
type hookRun struct {
	output   *Output
	stderr   string
	exitCode int
}

// NewExecutor compiles the matchers of config. Invalid patterns are skipped
// with a warning.
func NewExecutor(config *Config, workingDir string, env []string) *Executor {
	if config == nil {
		config = &Config{}
	}

	e := &Executor{
		workingDir: workingDir,
		env:        env,
	}

	e.initShell()
	e.preToolUseMatchers = compileMatcherList(config.PreToolUse)
	e.postToolUseMatchers = compileMatcherList(config.PostToolUse)

	return e
}

func (e *Executor) initShell() {
	if runtime.GOOS == "windows" {
		if path, err := exec.LookPath("pwsh.exe"); err == nil {
			e.shell = path
			e.shellArgsPrefix = []string{"-NoProfile", "-NonInteractive", "-Command"}
		} else {
			e.shell = cmp.Or(os.Getenv("ComSpec"), "cmd.exe")
			e.shellArgsPrefix = []string{"/C"}
		}
		return
	}
	e.shell = "/bin/sh"
	e.shellArgsPrefix = []string{"-c"}
}

func compileMatcherList(configs []MatcherConfig) []compiledMatcher {
	var result []compiledMatcher
	for _, mc := range configs {
		var pattern *regexp.Regexp
		if mc.Matcher != "" && mc.Matcher != "*" {
			p, err := regexp.Compile("^(?:" + mc.Matcher + ")$")
			if err != nil {
				slog.Warn("Invalid hook matcher pattern", "pattern", mc.Matcher, "error", err)
				continue
			}
			pattern = p
		}
		result = append(result, compiledMatcher{
			config:  mc,
			pattern: pattern,
		})
	}
	return result
}

func (cm *compiledMatcher) matchTool(toolName string) bool {
	if cm.pattern == nil {
		return true
	}
	return cm.pattern.MatchString(toolName)
}

func matching(matchers []compiledMatcher, toolName string) []Hook {
	var hooks []Hook
	seen := make(map[string]bool)
	for _, cm := range matchers {
		if !cm.matchTool(toolName) {
			continue
		}
		for _, h := range cm.config.Hooks {
			key := string(h.Type) + ":" + h.Command
			if seen[key] {
				continue
			}
			seen[key] = true
			hooks = append(hooks, h)
		}
	}
	return hooks
}

// ExecutePreToolUse runs the pre-tool-use hooks matching input.ToolName.
func (e *Executor) ExecutePreToolUse(ctx context.Context, input *Input) (*Result, error) {
	input.HookEventName = EventPreToolUse
	return e.executeHooks(ctx, matching(e.preToolUseMatchers, input.ToolName), input)
}

// ExecutePostToolUse runs the post-tool-use hooks matching input.ToolName.
func (e *Executor) ExecutePostToolUse(ctx context.Context, input *Input) (*Result, error) {
	input.HookEventName = EventPostToolUse
	return e.executeHooks(ctx, matching(e.postToolUseMatchers, input.ToolName), input)
}

func (e *Executor) HasPreToolUseHooks() bool {
	return len(e.preToolUseMatchers) > 0
}

func (e *Executor) HasPostToolUseHooks() bool {
	return len(e.postToolUseMatchers) > 0
}

// executeHooks runs hooks in order. A blocking hook ends the run; updates
// from earlier hooks are visible to later ones.
func (e *Executor) executeHooks(ctx context.Context, hooks []Hook, input *Input) (*Result, error) {
	result := &Result{Allowed: true}
	var messages []string

	for _, h := range hooks {
		inputJSON, err := input.ToJSON()
		if err != nil {
			return nil, fmt.Errorf("failed to serialize hook input: %w", err)
		}

		run, err := e.executeHook(ctx, h, inputJSON)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			slog.Warn("Hook execution error", "command", h.Command, "error", err)
			continue
		}

		// Exit code 2 is a blocking error
		if run.exitCode == 2 {
			result.Allowed = false
			result.ExitCode = 2
			result.Stderr = run.stderr
			if msg := strings.TrimSpace(run.stderr); msg != "" {
				messages = append(messages, msg)
			}
			break
		}
		if run.exitCode != 0 {
			slog.Debug("Hook returned non-zero exit code", "exit_code", run.exitCode, "stderr", run.stderr)
			continue
		}
		if run.output == nil {
			continue
		}

		out := run.output
		if !out.ShouldContinue() {
			result.Allowed = false
			messages = appendNonEmpty(messages, out.StopReason)
		}
		if out.IsBlocked() {
			result.Allowed = false
			messages = appendNonEmpty(messages, out.Reason)
		}

		if hso := out.HookSpecificOutput; hso != nil {
			if hso.PermissionDecision == DecisionDeny {
				result.Allowed = false
				messages = appendNonEmpty(messages, hso.PermissionDecisionReason)
			}
			if input.HookEventName == EventPreToolUse && hso.UpdatedInput != nil {
				if result.ModifiedInput == nil {
					result.ModifiedInput = make(map[string]any)
				}
				maps.Copy(result.ModifiedInput, hso.UpdatedInput)
				if input.ToolInput == nil {
					input.ToolInput = make(map[string]any)
				}
				maps.Copy(input.ToolInput, hso.UpdatedInput)
			}
			if input.HookEventName == EventPostToolUse && hso.UpdatedResponse != nil {
				result.ModifiedResponse = hso.UpdatedResponse
				input.ToolResponse = hso.UpdatedResponse
			}
		}

		if !result.Allowed {
			break
		}
	}

	result.Message = strings.Join(messages, "\n")
	return result, nil
}

func appendNonEmpty(messages []string, msg string) []string {
	if msg == "" {
		return messages
	}
	return append(messages, msg)
}

// executeHook runs a single hook and parses a JSON object on its stdout.
func (e *Executor) executeHook(ctx context.Context, hook Hook, inputJSON []byte) (*hookRun, error) {
	if hook.Type != HookTypeCommand {
		return nil, fmt.Errorf("unsupported hook type: %s", hook.Type)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, hook.GetTimeout())
	defer cancel()

	cmd := exec.CommandContext(timeoutCtx, e.shell, append(e.shellArgsPrefix, hook.Command)...)
	cmd.Dir = e.workingDir
	cmd.Env = e.env
	cmd.Stdin = bytes.NewReader(inputJSON)
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	run := &hookRun{}
	err := cmd.Run()
	if timeoutCtx.Err() != nil {
		return nil, fmt.Errorf("hook %q: %w", hook.Command, timeoutCtx.Err())
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, err
		}
		run.exitCode = exitErr.ExitCode()
	}
	run.stderr = stderr.String()

	if run.exitCode == 0 {
		trimmed := bytes.TrimSpace(stdout.Bytes())
		if bytes.HasPrefix(trimmed, []byte("{")) {
			var parsed Output
			if err := json.Unmarshal(trimmed, &parsed); err == nil {
				run.output = &parsed
			} else {
				slog.Debug("Ignoring malformed hook output", "command", hook.Command, "error", err)
			}
		}
	}

	return run, nil
}

// Callbacks adapts the command hooks into dispatcher callbacks. A denied
// call short-circuits with an error payload, updated input is applied to the
// call's arguments, and an updated response replaces the result.
func (e *Executor) Callbacks() Callbacks {
	var c Callbacks

	if e.HasPreToolUseHooks() {
		c.Before = append(c.Before, func(ctx context.Context, tc *tools.Context, tool tools.Tool, args map[string]any) (map[string]any, error) {
			input := &Input{
				Cwd:       e.workingDir,
				ToolName:  tool.Name,
				ToolUseID: tc.FunctionCallID,
				ToolInput: maps.Clone(args),
			}
			res, err := e.ExecutePreToolUse(ctx, input)
			if err != nil {
				return nil, err
			}
			if !res.Allowed {
				slog.Debug("Tool call blocked by hook", "tool", tool.Name, "call_id", tc.FunctionCallID, "message", res.Message)
				return map[string]any{
					"error":   "blocked by pre_tool_use hook",
					"message": cmp.Or(res.Message, "the call was denied"),
				}, nil
			}
			if args != nil {
				maps.Copy(args, res.ModifiedInput)
			}
			return nil, nil
		})
	}

	if e.HasPostToolUseHooks() {
		c.After = append(c.After, func(ctx context.Context, tc *tools.Context, tool tools.Tool, args, result map[string]any) (map[string]any, error) {
			input := &Input{
				Cwd:          e.workingDir,
				ToolName:     tool.Name,
				ToolUseID:    tc.FunctionCallID,
				ToolInput:    args,
				ToolResponse: result,
			}
			res, err := e.ExecutePostToolUse(ctx, input)
			if err != nil {
				return nil, err
			}
			if res.ModifiedResponse != nil {
				return res.ModifiedResponse, nil
			}
			if !res.Allowed && res.Message != "" {
				return map[string]any{"error": "rejected by post_tool_use hook", "message": res.Message}, nil
			}
			return nil, nil
		})
	}

	return c
}

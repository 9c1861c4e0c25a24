// Package runtime dispatches the tool calls of a model turn and merges their
// outcomes into a single reply.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"

	"github.com/docker/agentcall/pkg/auth"
	"github.com/docker/agentcall/pkg/auth/handshake"
	"github.com/docker/agentcall/pkg/concurrent"
	"github.com/docker/agentcall/pkg/hooks"
	"github.com/docker/agentcall/pkg/state"
	"github.com/docker/agentcall/pkg/telemetry"
	"github.com/docker/agentcall/pkg/tools"
)

const tracerName = "github.com/docker/agentcall/pkg/runtime"

// AuthHandler resolves stored credentials and builds the requests sent to
// the user when one is missing. *handshake.Handler implements it.
type AuthHandler interface {
	tools.CredentialResolver
	GenerateAuthRequest(cfg auth.Config) (auth.Config, error)
	ParseAndStoreAuthResponse(ctx context.Context, cfg auth.Config) error
}

// Dispatcher runs the calls of a turn against a tool registry.
type Dispatcher struct {
	registry       tools.Registry
	hooks          hooks.Callbacks
	auth           AuthHandler
	store          state.Store
	tracer         trace.Tracer
	maxConcurrency int

	schemas *concurrent.Map[string, *gojsonschema.Schema]
}

type Opt func(*Dispatcher)

func WithHooks(cb hooks.Callbacks) Opt {
	return func(d *Dispatcher) {
		d.hooks = d.hooks.Join(cb)
	}
}

func WithAuthHandler(h AuthHandler) Opt {
	return func(d *Dispatcher) {
		d.auth = h
	}
}

// WithMaxConcurrency bounds how many calls of one turn run at once. Zero or
// less means unbounded.
func WithMaxConcurrency(n int) Opt {
	return func(d *Dispatcher) {
		d.maxConcurrency = n
	}
}

func WithTracer(t trace.Tracer) Opt {
	return func(d *Dispatcher) {
		d.tracer = t
	}
}

// WithStore sets where credentials and long-running bookkeeping live.
// Defaults to an in-memory store.
func WithStore(s state.Store) Opt {
	return func(d *Dispatcher) {
		d.store = s
	}
}

func New(registry tools.Registry, opts ...Opt) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		schemas:  concurrent.NewMap[string, *gojsonschema.Schema](),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.store == nil {
		d.store = state.NewMemory()
	}
	if d.auth == nil {
		d.auth = handshake.New(d.store)
	}
	if d.tracer == nil {
		d.tracer = otel.Tracer(tracerName)
	}
	return d
}

type executeFunc func(ctx context.Context, tc *tools.Context, tool tools.Tool, args map[string]any) (any, error)

// Dispatch runs every call and merges the outcomes. Calls without an id get
// one assigned in place. It returns nil when nothing is left to reply with.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []*genai.FunctionCall) *Reply {
	return d.dispatch(ctx, calls, d.registry, d.execute)
}

// Run is Dispatch without the merge: one outcome per call, in order.
func (d *Dispatcher) Run(ctx context.Context, calls []*genai.FunctionCall) []Outcome {
	AssignIDs(calls)
	return d.run(ctx, calls, d.registry, d.execute)
}

func (d *Dispatcher) dispatch(ctx context.Context, calls []*genai.FunctionCall, registry tools.Registry, execute executeFunc) *Reply {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "runtime.tool.batch", trace.WithAttributes(
		attribute.Int("tool.calls", len(calls)),
	))
	defer span.End()

	slog.Debug("Processing tool calls", "call_count", len(calls))

	AssignIDs(calls)
	outcomes := d.run(ctx, calls, registry, execute)
	reply := Merge(calls, outcomes)
	d.track(ctx, reply)

	event := telemetry.BatchEvent{Calls: len(calls), Duration: time.Since(start)}
	for _, o := range outcomes {
		switch o.Kind {
		case Deferred:
			event.Deferred++
		case CredentialRequired:
			event.AuthRequests++
		}
	}
	if reply != nil {
		event.Responses = len(reply.Responses)
	}
	telemetry.RecordToolBatch(ctx, event)

	span.SetAttributes(
		attribute.Int("tool.responses", event.Responses),
		attribute.Int("tool.deferred", event.Deferred),
		attribute.Int("tool.auth_requests", event.AuthRequests),
	)
	span.SetStatus(codes.Ok, "tool calls processed")
	return reply
}

func (d *Dispatcher) run(ctx context.Context, calls []*genai.FunctionCall, registry tools.Registry, execute executeFunc) []Outcome {
	outcomes := make([]Outcome, len(calls))

	var g errgroup.Group
	if d.maxConcurrency > 0 {
		g.SetLimit(d.maxConcurrency)
	}
	for i, call := range calls {
		g.Go(func() error {
			outcomes[i] = d.runCall(ctx, call, registry, execute)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// AssignIDs gives every call without an id a fresh process-unique one.
func AssignIDs(calls []*genai.FunctionCall) {
	for _, call := range calls {
		if call != nil && call.ID == "" {
			call.ID = newCallID()
		}
	}
}

func newCallID() string {
	return "adk-" + uuid.NewString()
}

func (d *Dispatcher) runCall(ctx context.Context, call *genai.FunctionCall, registry tools.Registry, execute executeFunc) (out Outcome) {
	if call == nil {
		return failed(UnknownCapability, "", nil)
	}

	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "runtime.tool.call", trace.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	))
	defer func() {
		span.SetAttributes(attribute.String("tool.outcome", out.Kind.String()))
		if out.Err != nil {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, "tool call failed")
		} else {
			span.SetStatus(codes.Ok, "tool call processed")
		}
		span.End()
		telemetry.RecordToolCall(ctx, call.Name, call.ID, out.Kind.String(), time.Since(start), out.Err)
	}()

	slog.Debug("Processing tool call", "tool", call.Name, "call_id", call.ID)

	tool, ok := registry.Tool(call.Name)
	if !ok {
		slog.Warn("Tool call rejected: unknown tool", "tool", call.Name, "call_id", call.ID)
		return failed(UnknownCapability, call.Name, nil)
	}

	args := maps.Clone(call.Args)
	if args == nil {
		args = map[string]any{}
	}

	if err := d.validate(tool, args); err != nil {
		slog.Debug("Tool arguments rejected", "tool", tool.Name, "call_id", call.ID, "error", err)
		return failed(ExecutorFailure, tool.Name, err)
	}

	tc := tools.NewContext(call.ID, tool.Name, d.auth)

	result, err := d.before(ctx, tc, tool, args)
	if err != nil {
		slog.Warn("Before-tool hook failed", "tool", tool.Name, "call_id", call.ID, "error", err)
		return failed(HookFailure, tool.Name, err)
	}

	if result == nil {
		if tool.Auth != nil {
			cred, err := d.auth.Credential(ctx, *tool.Auth)
			switch {
			case err == nil:
				tc.SetCredential(cred)
			case errors.Is(err, auth.ErrNoCredentialAvailable):
				slog.Debug("Tool needs a credential", "tool", tool.Name, "call_id", call.ID)
				return d.requestCredential(tc, *tool.Auth)
			default:
				return failed(ExecutorFailure, tool.Name, err)
			}
		}

		value, err := d.invoke(ctx, tc, tool, args, execute)
		if cfg, ok := tc.RequestedCredential(); ok {
			return d.requestCredential(tc, cfg)
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				slog.Debug("Tool call canceled", "tool", tool.Name, "call_id", call.ID)
			} else {
				slog.Error("Error calling tool", "tool", tool.Name, "call_id", call.ID, "error", err)
			}
			return failed(ExecutorFailure, tool.Name, err)
		}

		if tool.LongRunning && tools.IsEmpty(value) {
			if err := state.SetJSON(ctx, d.store, longRunningKey(call.ID), tool.Name); err != nil {
				slog.Warn("Failed to record long-running call", "tool", tool.Name, "call_id", call.ID, "error", err)
			}
			return Outcome{Kind: Deferred, Actions: tc.Actions()}
		}
		result = tools.Normalize(value)
	}

	replaced, err := d.after(ctx, tc, tool, args, result)
	if err != nil {
		slog.Warn("After-tool hook failed", "tool", tool.Name, "call_id", call.ID, "error", err)
		return failed(HookFailure, tool.Name, err)
	}
	if replaced != nil {
		result = replaced
	}

	return Outcome{Kind: Completed, Value: result, Actions: tc.Actions()}
}

func (d *Dispatcher) requestCredential(tc *tools.Context, cfg auth.Config) Outcome {
	req, err := d.auth.GenerateAuthRequest(cfg)
	if err != nil {
		slog.Warn("Failed to build auth request", "tool", tc.ToolName, "call_id", tc.FunctionCallID, "error", err)
		return failed(ExecutorFailure, tc.ToolName, err)
	}

	tc.UpdateActions(func(a *tools.Actions) {
		if a.RequestedAuthConfigs == nil {
			a.RequestedAuthConfigs = make(map[string]auth.Config)
		}
		a.RequestedAuthConfigs[tc.FunctionCallID] = req
	})
	return Outcome{Kind: CredentialRequired, AuthConfig: &req, Actions: tc.Actions()}
}

func (d *Dispatcher) validate(tool tools.Tool, args map[string]any) error {
	if len(tool.Parameters) == 0 {
		return nil
	}

	schema, ok := d.schemas.Load(tool.Name)
	if !ok {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(tool.Parameters))
		if err != nil {
			slog.Warn("Ignoring invalid tool schema", "tool", tool.Name, "error", err)
			return nil
		}
		schema, _ = d.schemas.LoadOrStore(tool.Name, compiled)
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("validating arguments: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var problems []string
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return fmt.Errorf("invalid arguments: %s", strings.Join(problems, "; "))
}

func (d *Dispatcher) before(ctx context.Context, tc *tools.Context, tool tools.Tool, args map[string]any) (result map[string]any, err error) {
	defer recoverTo(&err)
	return d.hooks.RunBefore(ctx, tc, tool, args)
}

func (d *Dispatcher) after(ctx context.Context, tc *tools.Context, tool tools.Tool, args, result map[string]any) (replaced map[string]any, err error) {
	defer recoverTo(&err)
	return d.hooks.RunAfter(ctx, tc, tool, args, result)
}

func (d *Dispatcher) invoke(ctx context.Context, tc *tools.Context, tool tools.Tool, args map[string]any, execute executeFunc) (value any, err error) {
	defer recoverTo(&err)
	return execute(ctx, tc, tool, args)
}

// execute is the batch executor. Streaming tools run to completion and
// their pieces are returned together.
func (d *Dispatcher) execute(ctx context.Context, tc *tools.Context, tool tools.Tool, args map[string]any) (any, error) {
	switch {
	case tool.Handler != nil:
		return tools.RetryOnce(tool.Handler, tool.Session)(ctx, tc, args)
	case tool.Stream != nil:
		var pieces []any
		err := tool.Stream(ctx, tc, args, func(v any) {
			pieces = append(pieces, v)
		})
		if err != nil {
			return nil, err
		}
		if pieces == nil {
			return nil, nil
		}
		return pieces, nil
	default:
		return nil, fmt.Errorf("tool %q has no executor", tool.Name)
	}
}

func recoverTo(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("panic: %v", r)
	}
}

func longRunningKey(id string) string {
	return "longrunning:" + id
}

func authRequestKey(id string) string {
	return "authrequest:" + id
}

// track records the synthetic auth call ids so the user's answers can be
// mapped back to the calls that asked for them.
func (d *Dispatcher) track(ctx context.Context, reply *Reply) {
	if reply == nil || reply.AuthRequest == nil {
		return
	}
	for _, part := range reply.AuthRequest.Parts {
		fc := part.FunctionCall
		if fc == nil {
			continue
		}
		origin, _ := fc.Args["function_call_id"].(string)
		if err := state.SetJSON(ctx, d.store, authRequestKey(fc.ID), origin); err != nil {
			slog.Warn("Failed to record auth request", "call_id", origin, "request_id", fc.ID, "error", err)
		}
	}
}

// Awaiting reports whether id belongs to a deferred call still waiting for
// its result.
func (d *Dispatcher) Awaiting(ctx context.Context, id string) (bool, error) {
	_, err := d.store.Get(ctx, longRunningKey(id))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, state.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Complete supplies the result of a deferred call. The reply holds exactly
// that one entry. Responses for ids that are not awaiting are ignored.
func (d *Dispatcher) Complete(ctx context.Context, resp *genai.FunctionResponse) *Reply {
	if resp == nil || resp.ID == "" {
		return nil
	}

	key := longRunningKey(resp.ID)
	name, err := state.GetJSON[string](ctx, d.store, key)
	if err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			slog.Warn("Failed to look up long-running call", "call_id", resp.ID, "error", err)
		}
		slog.Debug("Ignoring result for a call that is not awaiting", "call_id", resp.ID)
		return nil
	}
	if err := d.store.Delete(ctx, key); err != nil {
		slog.Warn("Failed to clear long-running call", "call_id", resp.ID, "error", err)
	}

	out := &genai.FunctionResponse{
		ID:       resp.ID,
		Name:     resp.Name,
		Response: resp.Response,
	}
	if out.Name == "" {
		out.Name = name
	}
	if out.Response == nil {
		out.Response = map[string]any{"result": nil}
	}

	slog.Debug("Long-running call completed", "tool", out.Name, "call_id", out.ID)
	return &Reply{Responses: []*genai.FunctionResponse{out}}
}

// ResolveAuthResponses consumes the user's answers to credential requests.
// Each answer is exchanged and stored; the ids of the calls that asked for
// them are returned so they can be dispatched again. Responses for other
// tools are skipped.
func (d *Dispatcher) ResolveAuthResponses(ctx context.Context, responses []*genai.FunctionResponse) ([]string, error) {
	var resumed []string
	for _, resp := range responses {
		if resp == nil || resp.Name != RequestCredentialName {
			continue
		}

		var cfg auth.Config
		if err := tools.JSONRoundtrip(resp.Response, &cfg); err != nil {
			return resumed, fmt.Errorf("decoding auth response %s: %w", resp.ID, err)
		}
		if err := d.auth.ParseAndStoreAuthResponse(ctx, cfg); err != nil {
			return resumed, fmt.Errorf("storing credential for %s: %w", resp.ID, err)
		}

		key := authRequestKey(resp.ID)
		origin, err := state.GetJSON[string](ctx, d.store, key)
		switch {
		case err == nil:
			if err := d.store.Delete(ctx, key); err != nil {
				slog.Warn("Failed to clear auth request", "request_id", resp.ID, "error", err)
			}
			resumed = append(resumed, origin)
		case errors.Is(err, state.ErrNotFound):
			slog.Debug("Auth response for an unknown request", "request_id", resp.ID)
		default:
			return resumed, err
		}
	}
	return resumed, nil
}

// Package a2a exposes the skills of a remote A2A agent as tools.
package a2a

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2aclient"
	"github.com/a2aproject/a2a-go/a2aclient/agentcard"

	"github.com/docker/agentcall/pkg/auth"
	"github.com/docker/agentcall/pkg/httpclient"
	"github.com/docker/agentcall/pkg/tools"
)

var errNotStarted = errors.New("A2A toolset not started")

// sender is the part of a2aclient.Client the toolset uses.
type sender interface {
	SendStreamingMessage(ctx context.Context, params *a2a.MessageSendParams) iter.Seq2[a2a.Event, error]
}

// Toolset implements tools.ToolSet for A2A remote agents. Each skill on the
// agent card becomes one tool taking a single message argument.
type Toolset struct {
	name    string
	url     string
	headers map[string]string

	authConfig *auth.Config
	credential atomic.Pointer[auth.Credential]

	mu     sync.RWMutex
	client sender
	card   *a2a.AgentCard
}

var (
	_ tools.ToolSet   = (*Toolset)(nil)
	_ tools.Startable = (*Toolset)(nil)
)

type Opt func(*Toolset)

// WithAuth requires cfg before any skill runs and presents the resulting
// credential to the agent.
func WithAuth(cfg auth.Config) Opt {
	return func(t *Toolset) {
		t.authConfig = &cfg
		if cred := cmp.Or(cfg.ExchangedCredential, cfg.RawCredential); cred != nil {
			t.credential.Store(cred)
		}
	}
}

// NewToolset creates a new A2A toolset for the given URL.
func NewToolset(name, url string, headers map[string]string, opts ...Opt) *Toolset {
	t := &Toolset{
		name:    name,
		url:     url,
		headers: headers,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Instructions summarizes the agent card.
func (t *Toolset) Instructions() string {
	t.mu.RLock()
	card := t.card
	t.mu.RUnlock()

	if card == nil {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s\n\n%s\n", card.Name, card.Description)
	for _, skill := range card.Skills {
		fmt.Fprintf(&sb, "- **%s**: %s\n", skill.Name, skill.Description)
	}
	return sb.String()
}

func (t *Toolset) Tools(context.Context) ([]tools.Tool, error) {
	t.mu.RLock()
	card := t.card
	t.mu.RUnlock()

	if card == nil {
		return nil, errNotStarted
	}

	// An agent without skills is one tool.
	skills := card.Skills
	if len(skills) == 0 {
		skills = []a2a.AgentSkill{{ID: card.Name, Name: card.Name, Description: card.Description}}
	}

	result := make([]tools.Tool, 0, len(skills))
	for _, skill := range skills {
		name := cmp.Or(skill.ID, skill.Name)
		if t.name != "" {
			name = t.name + "_" + name
		}
		name = sanitizeToolName(name)

		result = append(result, tools.Tool{
			Name:        name,
			Description: fmt.Sprintf("Calls the '%s' skill of the %s agent. %s", skill.Name, card.Name, skill.Description),
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"message": map[string]any{
						"type":        "string",
						"description": "The message or request to send to the agent",
					},
				},
				"required": []string{"message"},
			},
			Auth:    t.authConfig,
			Handler: t.handle,
			Stream:  t.stream,
		})
	}
	return result, nil
}

// Start fetches the agent card and connects to the agent.
func (t *Toolset) Start(ctx context.Context) error {
	slog.Debug("Starting A2A toolset", "url", t.url)

	card, err := agentcard.DefaultResolver.Resolve(ctx, t.url)
	if err != nil {
		return fmt.Errorf("failed to fetch A2A agent card: %w", err)
	}

	// The a2a-go default client times out after five seconds, far less than
	// an agent needs to answer.
	httpClient := httpclient.NewHTTPClient(
		httpclient.WithHeaders(t.headers),
		httpclient.WithCredentials(t.currentCredential),
	)

	client, err := a2aclient.NewFromCard(ctx, card, a2aclient.WithJSONRPCTransport(httpClient))
	if err != nil {
		return fmt.Errorf("failed to create A2A client: %w", err)
	}

	t.mu.Lock()
	t.client = client
	t.card = card
	t.mu.Unlock()

	slog.Debug("A2A toolset started", "agent", card.Name, "skills", len(card.Skills))
	return nil
}

func (t *Toolset) Stop(context.Context) error {
	t.mu.Lock()
	t.client = nil
	t.card = nil
	t.mu.Unlock()
	return nil
}

func (t *Toolset) currentCredential() (auth.Scheme, *auth.Credential) {
	if t.authConfig == nil {
		return auth.Scheme{}, nil
	}
	return t.authConfig.Scheme, t.credential.Load()
}

func (t *Toolset) handle(ctx context.Context, tc *tools.Context, args map[string]any) (any, error) {
	var response strings.Builder
	err := t.send(ctx, tc, args, func(text string) {
		response.WriteString(text)
	})
	if err != nil {
		return nil, err
	}
	return cmp.Or(response.String(), "No response from agent"), nil
}

// stream yields the text of every event as the agent produces it.
func (t *Toolset) stream(ctx context.Context, tc *tools.Context, args map[string]any, yield func(any)) error {
	return t.send(ctx, tc, args, func(text string) {
		yield(text)
	})
}

func (t *Toolset) send(ctx context.Context, tc *tools.Context, args map[string]any, emit func(string)) error {
	message, _ := args["message"].(string)
	if message == "" {
		return errors.New("message is required")
	}

	t.mu.RLock()
	client := t.client
	t.mu.RUnlock()
	if client == nil {
		return errNotStarted
	}

	t.credential.Store(tc.Credential())

	params := &a2a.MessageSendParams{
		Message: a2a.NewMessage(a2a.MessageRoleUser, &a2a.TextPart{Text: message}),
	}
	for event, err := range client.SendStreamingMessage(ctx, params) {
		if err != nil {
			return fmt.Errorf("A2A call failed: %w", err)
		}
		if text := extractText(event); text != "" {
			emit(text)
		}
	}
	return nil
}

func extractText(event a2a.Event) string {
	var parts a2a.ContentParts

	switch e := event.(type) {
	case *a2a.TaskStatusUpdateEvent:
		if e.Status.Message != nil {
			parts = e.Status.Message.Parts
		}
	case *a2a.TaskArtifactUpdateEvent:
		if e.Artifact != nil {
			parts = e.Artifact.Parts
		}
	case *a2a.Message:
		parts = e.Parts
	case *a2a.Task:
		if e.Status.Message != nil {
			parts = e.Status.Message.Parts
		}
	}

	var sb strings.Builder
	for _, part := range parts {
		switch p := part.(type) {
		case *a2a.TextPart:
			sb.WriteString(p.Text)
		case a2a.TextPart:
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// sanitizeToolName lowercases name and folds anything outside [a-z0-9_]
// into single underscores.
func sanitizeToolName(name string) string {
	result := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, name)

	result = strings.Trim(result, "_")
	for strings.Contains(result, "__") {
		result = strings.ReplaceAll(result, "__", "_")
	}
	return strings.ToLower(result)
}

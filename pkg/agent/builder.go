package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lucia-ai/lucia/pkg/a2a"
	"github.com/lucia-ai/lucia/pkg/llms"
	"github.com/lucia-ai/lucia/pkg/session"
	"github.com/lucia-ai/lucia/pkg/toolserver"
)

// Builder turns persisted definitions into registry entries.
type Builder struct {
	resolver *llms.Resolver
	tools    *toolserver.Registry
	traces   TraceSink
	baseURL  string // public base URL agents are served under
}

// NewBuilder creates a builder.
func NewBuilder(resolver *llms.Resolver, tools *toolserver.Registry, traces TraceSink, baseURL string) *Builder {
	return &Builder{
		resolver: resolver,
		tools:    tools,
		traces:   traces,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
	}
}

// Build constructs one registry entry from a definition.
//
// Remote definitions produce a card pointing at the satellite process
// and no invokable. Definitions bound to an agent-type model provider
// delegate invocations to that provider's endpoint over A2A.
func (b *Builder) Build(ctx context.Context, def *Definition) (*Entry, error) {
	if def.Description == "" {
		return nil, fmt.Errorf("agent %q: description is required", def.ID)
	}

	if def.IsRemote {
		if def.RemoteURL == "" {
			return nil, fmt.Errorf("agent %q is remote but has no remote url", def.ID)
		}
		return &Entry{Card: b.card(def, def.RemoteURL), Definition: def}, nil
	}

	chat, err := b.resolver.ChatClient(ctx, def.ModelConnectionName)
	if errors.Is(err, llms.ErrAgentProvider) {
		return b.buildDelegate(ctx, def)
	}
	if err != nil && def.ModelConnectionName != "" {
		// Named connection unavailable, fall back to the default.
		slog.Warn("model connection unavailable, using default",
			"agent", def.ID, "connection", def.ModelConnectionName, "error", err)
		chat, err = b.resolver.ChatClient(ctx, llms.DefaultChatProviderID)
	}
	if err != nil {
		return nil, fmt.Errorf("agent %q: no usable chat client: %w", def.ID, err)
	}

	bound := b.resolveTools(def)

	invokable := &localAgent{
		id:           def.ID,
		instructions: def.Instructions,
		chat:         NewTracingChatClient(chat, def.ID, b.traces),
		tools:        bound,
		registry:     b.tools,
	}

	return &Entry{
		Card:       b.card(def, b.agentURL(def.ID)),
		Invokable:  invokable,
		Definition: def,
	}, nil
}

// buildDelegate wires a definition whose model connection is an
// agent-type provider: invocations forward to the provider's endpoint.
func (b *Builder) buildDelegate(ctx context.Context, def *Definition) (*Entry, error) {
	provider, err := b.resolver.Provider(ctx, def.ModelConnectionName)
	if err != nil {
		return nil, fmt.Errorf("agent %q: failed to load agent provider: %w", def.ID, err)
	}
	if provider.Endpoint == "" {
		return nil, fmt.Errorf("agent %q: agent provider %q has no endpoint", def.ID, provider.ID)
	}

	return &Entry{
		Card: b.card(def, b.agentURL(def.ID)),
		Invokable: &remoteDelegate{
			id:     def.ID,
			url:    provider.Endpoint,
			client: a2a.NewClient(nil),
		},
		Definition: def,
	}, nil
}

// resolveTools looks up every tool reference. Unresolved references
// are skipped with a log line so one dead server does not take the
// whole agent down.
func (b *Builder) resolveTools(def *Definition) []boundTool {
	var bound []boundTool
	for _, ref := range def.ToolRefs {
		tool, err := b.tools.DescribeTool(ref.ServerID, ref.ToolName)
		if err != nil {
			slog.Warn("skipping unresolved tool reference",
				"agent", def.ID, "server", ref.ServerID, "tool", ref.ToolName, "error", err)
			continue
		}
		bound = append(bound, boundTool{
			serverID: ref.ServerID,
			def: llms.ToolDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}
	return bound
}

func (b *Builder) card(def *Definition, url string) a2a.AgentCard {
	card := a2a.AgentCard{
		Name:               def.ID,
		DisplayName:        def.DisplayName,
		Description:        def.Description,
		URL:                url,
		Version:            "1.0",
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
	}
	for _, sk := range def.Skills {
		card.Skills = append(card.Skills, a2a.Skill{
			ID:          sk.ID,
			Name:        sk.Name,
			Description: sk.Description,
			Tags:        sk.Tags,
			Examples:    sk.Examples,
		})
	}
	return card
}

func (b *Builder) agentURL(agentID string) string {
	return b.baseURL + "/a2a/" + agentID
}

// remoteDelegate forwards invocations to another agent process.
type remoteDelegate struct {
	id     string
	url    string
	client *a2a.Client
}

func (d *remoteDelegate) ID() string {
	return d.id
}

func (d *remoteDelegate) Invoke(ctx context.Context, prompt string, _ []session.Turn) (*InvokeResult, error) {
	msg := a2a.NewTextMessage(a2a.RoleUser, "", prompt)
	reply, err := d.client.SendMessage(ctx, d.url, msg)
	if err != nil {
		return nil, fmt.Errorf("delegate %q call failed: %w", d.id, err)
	}
	return &InvokeResult{Text: reply.Text()}, nil
}

var _ Invokable = (*remoteDelegate)(nil)

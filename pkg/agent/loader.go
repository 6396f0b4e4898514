package agent

import (
	"context"
	"log/slog"
)

// DefinitionSource lists persisted agent definitions, typically the
// document store.
type DefinitionSource interface {
	ListAgentDefinitions(ctx context.Context) ([]Definition, error)
}

// Loader rebuilds the registry from the definition source. It runs on
// startup and again on every change notification; each rebuild swaps
// the registry snapshot atomically so in-flight invocations keep the
// agents they started with.
type Loader struct {
	source   DefinitionSource
	builder  *Builder
	registry *Registry
}

// NewLoader creates a loader.
func NewLoader(source DefinitionSource, builder *Builder, registry *Registry) *Loader {
	return &Loader{source: source, builder: builder, registry: registry}
}

// Rebuild reloads every enabled definition and swaps the registry.
// Definitions that fail to build are skipped with a log line; the rest
// of the registry still goes live.
func (l *Loader) Rebuild(ctx context.Context) error {
	defs, err := l.source.ListAgentDefinitions(ctx)
	if err != nil {
		return err
	}

	entries := make(map[string]*Entry, len(defs))
	for i := range defs {
		def := defs[i]
		if !def.Enabled {
			continue
		}

		entry, err := l.builder.Build(ctx, &def)
		if err != nil {
			slog.Error("failed to build agent, skipping", "agent", def.ID, "error", err)
			continue
		}
		entries[def.ID] = entry
	}

	l.registry.Swap(entries)
	slog.Info("agent registry rebuilt", "agents", len(entries))
	return nil
}

// Watch rebuilds on every notification until ctx is cancelled.
func (l *Loader) Watch(ctx context.Context, notify <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-notify:
			if !ok {
				return
			}
			if err := l.Rebuild(ctx); err != nil {
				slog.Error("agent registry rebuild failed", "error", err)
			}
		}
	}
}

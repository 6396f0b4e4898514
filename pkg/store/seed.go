package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lucia-ai/lucia/pkg/agent"
	"github.com/lucia-ai/lucia/pkg/config"
	"github.com/lucia-ai/lucia/pkg/llms"
	"github.com/lucia-ai/lucia/pkg/toolserver"
)

// Seed materializes configured built-ins into the catalog. Providers
// and tool servers are inserted only when missing so dashboard edits
// survive restarts; built-in agent instructions are canonical and are
// refreshed on every start.
func (s *Store) Seed(ctx context.Context, cfg *config.Config) error {
	now := time.Now().UTC()

	for _, p := range cfg.Providers {
		if _, err := s.GetProvider(ctx, p.ID); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		enabled := true
		if p.Enabled != nil {
			enabled = *p.Enabled
		}
		purpose := llms.ProviderPurpose(p.Purpose)
		if purpose == "" {
			purpose = llms.PurposeChat
		}

		provider := &llms.Provider{
			ID:                    p.ID,
			Type:                  llms.ProviderType(p.Type),
			Purpose:               purpose,
			Endpoint:              p.Endpoint,
			ModelName:             p.ModelName,
			APIKey:                p.APIKey,
			UseDefaultCredentials: p.UseDefaultCredentials,
			Enabled:               enabled,
			IsBuiltIn:             true,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		if err := s.UpsertProvider(ctx, provider); err != nil {
			return err
		}
		slog.Info("seeded model provider", "id", p.ID, "type", p.Type)
	}

	existing, err := s.ListToolServers(ctx)
	if err != nil {
		return err
	}
	for _, t := range cfg.ToolServers {
		if containsServer(existing, t.ID) {
			continue
		}

		enabled := true
		if t.Enabled != nil {
			enabled = *t.Enabled
		}
		server := &toolserver.ToolServer{
			ID:        t.ID,
			Name:      t.Name,
			Transport: toolserver.Transport(t.Transport),
			URL:       t.URL,
			Command:   t.Command,
			Args:      t.Args,
			Env:       t.Env,
			Headers:   t.Headers,
			Enabled:   enabled,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.UpsertToolServer(ctx, server); err != nil {
			return err
		}
		slog.Info("seeded tool server", "id", t.ID, "transport", t.Transport)
	}

	for _, a := range cfg.Agents {
		def, err := s.GetAgentDefinition(ctx, a.ID)
		switch {
		case errors.Is(err, ErrNotFound):
			def = &agent.Definition{
				ID:        a.ID,
				Enabled:   true,
				CreatedAt: now,
			}
		case err != nil:
			return err
		case !def.IsBuiltIn:
			return fmt.Errorf("agent id %q collides with a user-defined agent", a.ID)
		}

		// Canonical fields always win for built-ins.
		def.DisplayName = a.DisplayName
		def.Description = a.Description
		def.Instructions = a.Instructions
		def.ModelConnectionName = a.ModelConnectionName
		def.IsBuiltIn = true
		def.IsRemote = a.IsRemote
		def.IsOrchestrator = a.IsOrchestrator
		def.RemoteURL = a.RemoteURL
		def.UpdatedAt = now
		def.ToolRefs = def.ToolRefs[:0]
		for _, ref := range a.Tools {
			def.ToolRefs = append(def.ToolRefs, agent.ToolRef{ServerID: ref.ServerID, ToolName: ref.ToolName})
		}
		def.Skills = def.Skills[:0]
		for _, sk := range a.Skills {
			def.Skills = append(def.Skills, agent.SkillDef{
				ID:          sk.ID,
				Name:        sk.Name,
				Description: sk.Description,
				Tags:        sk.Tags,
				Examples:    sk.Examples,
			})
		}

		if err := s.UpsertAgentDefinition(ctx, def); err != nil {
			return err
		}
		slog.Info("seeded agent definition", "id", a.ID)
	}

	return nil
}

func containsServer(servers []toolserver.ToolServer, id string) bool {
	for i := range servers {
		if servers[i].ID == id {
			return true
		}
	}
	return false
}

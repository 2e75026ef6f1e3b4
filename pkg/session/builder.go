package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/codemodehq/codemode/pkg/logger"
	"github.com/codemodehq/codemode/pkg/tools"
)

// Builder assembles sessions by discovering tools on the configured upstream
// servers.
type Builder struct {
	// clientFactory is swapped out in tests.
	clientFactory func(cfg tools.UpstreamConfig) *tools.Client
}

// NewBuilder creates a session builder.
func NewBuilder() *Builder {
	return &Builder{clientFactory: tools.NewClient}
}

// Build mints a fresh session id, connects to each upstream server, lists
// its tools, and assembles the session's catalog, tool table, and call
// router. An upstream that cannot be reached is logged and skipped so one
// dead server does not take the whole session down. The caller registers
// the session and owns the generated binding.
func (b *Builder) Build(ctx context.Context, ownerUserID string, upstreams []tools.UpstreamConfig) *Session {
	sessionID := uuid.NewString()
	router := tools.NewRouter()
	clients := map[string]*tools.Client{}
	toolTable := map[string]tools.ToolSpec{}
	catalog := make(tools.Catalog, 0, len(upstreams))

	for _, cfg := range upstreams {
		client := b.clientFactory(cfg)

		specs, err := client.ListToolSpecs(ctx)
		if err != nil {
			logger.Warnf("Skipping upstream server %s for session %s: %v", cfg.ID, sessionID, err)
			if derr := client.Disconnect(); derr != nil {
				logger.Debugf("Failed to disconnect tool client %s: %v", cfg.ID, derr)
			}
			continue
		}

		for _, spec := range specs {
			canonical := tools.CanonicalName(cfg.ID, spec.Name)
			router.Add(canonical, client, spec.Name)
			toolTable[canonical] = tools.ToolSpec{
				Name:        canonical,
				Description: spec.Description,
				Parameters:  spec.Parameters,
			}
		}

		clients[cfg.ID] = client
		catalog = append(catalog, tools.CatalogEntry{
			ServerID:    cfg.ID,
			Description: cfg.Description,
			Specs:       specs,
		})
		logger.Infof("Session %s connected to server %s with %d tools", sessionID, cfg.ID, len(specs))
	}

	return &Session{
		ID:          sessionID,
		OwnerUserID: ownerUserID,
		ToolClients: clients,
		Tools:       toolTable,
		Catalog:     catalog,
		Invoker:     router,
		CreatedAt:   time.Now(),
	}
}

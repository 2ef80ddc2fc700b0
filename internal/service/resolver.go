package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mlhmz/dockermc-dashboard/internal/apperror"
	"github.com/mlhmz/dockermc-dashboard/internal/database"
	"github.com/mlhmz/dockermc-dashboard/internal/models"
)

// Resolver maps a caller-supplied identifier onto an owner's server record
type Resolver struct {
	store   ServerStore
	aliases bool
	logger  *slog.Logger
}

// NewResolver creates a resolver. With aliases enabled a subdomain or server
// name is accepted when no server has the identifier as its unique ID.
func NewResolver(store ServerStore, aliases bool, logger *slog.Logger) *Resolver {
	return &Resolver{store: store, aliases: aliases, logger: logger}
}

// Resolve returns the server of owner identified by ident
func (r *Resolver) Resolve(ctx context.Context, owner, ident string) (*models.MinecraftServer, error) {
	if owner == "" {
		return nil, apperror.Unauthorized("missing owner")
	}
	ident = strings.TrimSpace(ident)
	if ident == "" {
		return nil, apperror.Validation("server identifier is required")
	}

	server, err := r.store.FindByUniqueID(ctx, owner, ident)
	if err == nil {
		return server, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up server: %w", err)
	}
	if !r.aliases {
		return nil, apperror.NotFound(apperror.ResourceServer, "server %s not found", ident)
	}

	matches, err := r.store.FindByAlias(ctx, owner, ident)
	if err != nil {
		return nil, fmt.Errorf("failed to look up server alias: %w", err)
	}
	switch len(matches) {
	case 0:
		return nil, apperror.NotFound(apperror.ResourceServer, "server %s not found", ident)
	case 1:
		r.logger.WarnContext(ctx, "Server resolved through legacy alias",
			"alias", ident,
			"server_id", matches[0].UniqueID,
		)
		return matches[0], nil
	default:
		return nil, apperror.Conflict("identifier %s matches %d servers, use the unique id", ident, len(matches))
	}
}

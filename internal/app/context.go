package app

import (
	"context"
	"errors"
	"fmt"

	"bugarena/internal/config"
	"bugarena/internal/repo"
)

// ResolveGameAndConfig picks the active game and loads its config snapshot.
// It prefers the explicit override, then the single game in the workspace.
// Games are only ever created through the engine, never implicitly here;
// a missing snapshot is seeded from the workspace config so old databases
// keep working.
func ResolveGameAndConfig(ctx context.Context, gameOverride string, base *config.Config, r repo.Repo) (string, *config.Config, error) {
	gameID := gameOverride
	if gameID == "" {
		g, err := r.SingleGame(ctx)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return "", nil, fmt.Errorf("no game in workspace; run `ba game create` first")
			}
			return "", nil, err
		}
		gameID = g.ID
	}
	if _, err := r.GetGame(ctx, gameID); err != nil {
		return "", nil, err
	}
	cfg, err := r.GetGameConfig(ctx, gameID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if base == nil {
			base = config.Default()
		}
		if err := r.UpsertGameConfig(ctx, gameID, base); err != nil {
			return "", nil, fmt.Errorf("seed game config: %w", err)
		}
		cfg = base
	}
	return gameID, cfg, nil
}

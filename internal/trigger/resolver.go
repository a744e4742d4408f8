package trigger

import (
	"context"

	"joinme/internal/storage"
)

// Resolver finds the watchers registered for an activity.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver { return &Resolver{store: store} }

// Resolve returns every watcher for (guild, user, activity) across all
// channels. No match yields an empty slice.
func (r *Resolver) Resolve(ctx context.Context, guildID, userID, activityName string) ([]storage.Watcher, error) {
	return r.store.ResolveWatchers(ctx, guildID, userID, activityName)
}

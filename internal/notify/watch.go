package notify

import (
	"context"

	"github.com/rs/zerolog/log"

	"esm-federation/internal/types"
)

// RemoteRefresher is the part of the loader a build watcher drives.
type RemoteRefresher interface {
	RefreshRemote(ctx context.Context, remote string) error
	ClearCache()
}

// WatchFederationBuildCompletion subscribes to a remote's dev server. A
// build-complete event drops that remote's cached modules and fetches its
// entry again; an event without a remote name clears the whole cache.
// build-error only reaches the subscription's observers, so stale modules
// stay usable.
func WatchFederationBuildCompletion(ctx context.Context, target RemoteRefresher, config types.BuildNotificationConfig, opts SubscriptionOptions) (*Subscription, error) {
	logger := log.Logger.With().Str("component", "notify").Str("endpoint", config.Endpoint).Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	refresh := func(event types.BuildEvent) {
		switch event.Type {
		case types.BuildEventComplete:
			if event.RemoteName == "" {
				target.ClearCache()
				logger.Info().Msg("build complete, module cache cleared")
				return
			}
			if err := target.RefreshRemote(ctx, event.RemoteName); err != nil {
				logger.Warn().Err(err).Str("remote", event.RemoteName).Msg("failed to refresh remote after build")
				return
			}
			logger.Info().Str("remote", event.RemoteName).Msg("remote refreshed after build")
		case types.BuildEventError:
			logger.Warn().Str("remote", event.RemoteName).Str("message", event.Message).Msg("remote build failed")
		}
	}
	opts.Handlers = append([]EventHandler{refresh}, opts.Handlers...)
	return Subscribe(ctx, config, opts)
}

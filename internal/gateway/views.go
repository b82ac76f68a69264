package gateway

import (
	"log/slog"

	"github.com/mmynk/receiptsync/internal/client"
	"github.com/mmynk/receiptsync/internal/config"
	"github.com/mmynk/receiptsync/internal/livesync"
	"github.com/mmynk/receiptsync/internal/metrics"
)

// ViewFactory builds the coordinator for a new view. viewID is unique per
// view. opts carry the view's handlers and logger.
type ViewFactory func(viewID, groupID string, opts ...livesync.Option) *livesync.Coordinator

// BackendViews returns a ViewFactory that talks to the backing service at
// cfg.BackendURL over the configured realtime mode. Each view gets its own
// client ID, so views served by one gateway still notify each other.
func BackendViews(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) ViewFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(viewID, groupID string, opts ...livesync.Option) *livesync.Coordinator {
		cli := client.New(cfg.BackendURL, client.WithClientID(viewID))
		tracker := livesync.NewVersionTracker()
		viewLogger := logger.With("view_id", viewID)

		var channel livesync.Channel
		if cfg.RealtimeMode == config.ModePoll {
			channel = livesync.NewPollChannel(cli, tracker,
				livesync.WithPollInterval(cfg.PollInterval),
				livesync.WithPollLogger(viewLogger.With("component", "poll")),
			)
		} else {
			channel = livesync.NewPushChannel(cli.WebSocketURL,
				livesync.WithThrottle(cfg.ThrottleWindow),
				livesync.WithHeartbeat(cfg.HeartbeatInterval, cfg.PongWait),
				livesync.WithRetry(cfg.ReconnectBase, cfg.ReconnectMaxAttempts),
				livesync.WithPushLogger(viewLogger.With("component", "push")),
				livesync.WithPushMetrics(m),
			)
		}

		base := []livesync.Option{
			livesync.WithTracker(tracker),
			livesync.WithMetrics(m),
			livesync.WithRequestTimeout(cfg.RequestTimeout),
			livesync.WithLogger(viewLogger.With("component", "livesync")),
		}
		return livesync.NewCoordinator(groupID, cli, channel, append(base, opts...)...)
	}
}

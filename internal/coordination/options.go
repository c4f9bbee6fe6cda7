package coordination

import (
	"swarmgate/internal/logging"
	"swarmgate/internal/notify"
)

// hubConfig holds optional Hub settings.
type hubConfig struct {
	log              *logging.Logger
	notificationSink notify.Sink
}

// Option configures optional Hub behavior.
type Option func(*hubConfig)

// WithLogger sets the structured logger shared by the hub's components.
func WithLogger(log *logging.Logger) Option {
	return func(hc *hubConfig) {
		if log != nil {
			hc.log = log
		}
	}
}

// WithNotificationSink delivers flushed completion batches to sink in
// addition to publishing them on the bus.
func WithNotificationSink(sink notify.Sink) Option {
	return func(hc *hubConfig) {
		hc.notificationSink = sink
	}
}

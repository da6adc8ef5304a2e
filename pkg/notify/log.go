package notify

import (
	"github.com/illmade-knight/go-opsdash/pkg/poll"
	"github.com/rs/zerolog"
)

// LogObserver writes every fetch outcome to a logger. Failures are logged at
// warn level, everything else at info.
type LogObserver struct {
	logger zerolog.Logger
}

// NewLogObserver creates a LogObserver.
func NewLogObserver(logger zerolog.Logger) *LogObserver {
	return &LogObserver{logger: logger.With().Str("component", "LogObserver").Logger()}
}

// OnFetch implements poll.Observer.
func (o *LogObserver) OnFetch(event poll.FetchEvent) {
	var e *zerolog.Event
	if event.Err != nil {
		e = o.logger.Warn().Err(event.Err)
	} else {
		e = o.logger.Info()
	}
	e.Str("item", event.Item).
		Str("handle", event.Handle.String()).
		Dur("duration", event.Duration()).
		Bool("discarded", event.Discarded).
		Msg("Fetch completed.")
}

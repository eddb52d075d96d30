package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/domain"
)

// LogPublisher writes report notifications to the log. It is used when no
// webhook is configured.
type LogPublisher struct {
	log *zap.SugaredLogger
}

func NewLogPublisher(log *zap.SugaredLogger) *LogPublisher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, topic string, event domain.EventEnvelope) error {
	n, err := notificationFromEvent(event)
	if err != nil {
		return err
	}
	p.log.Infow("report completed",
		"topic", topic,
		"event_id", n.EventID,
		"report_id", n.ReportID,
		"feed_url", n.FeedURL,
		"version", n.Version,
		"errors_count", n.ErrorsCount,
		"valid", n.Valid,
		"unchanged", n.Unchanged,
	)
	return nil
}

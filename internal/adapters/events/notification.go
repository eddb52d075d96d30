package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/domain"
)

var errUnsupportedEvent = errors.New("unsupported event type")

// reportNotification is what receivers get for a completed report. It
// flattens the envelope and its payload so consumers need no envelope
// decoding.
type reportNotification struct {
	EventID     string    `json:"eventId"`
	ReportID    string    `json:"reportId"`
	OccurredAt  time.Time `json:"occurredAt"`
	FeedURL     string    `json:"feedUrl,omitempty"`
	Version     string    `json:"version"`
	ErrorsCount int       `json:"errorsCount"`
	Valid       bool      `json:"valid"`
	Unchanged   bool      `json:"unchanged"`
}

func notificationFromEvent(event domain.EventEnvelope) (reportNotification, error) {
	if event.EventType != domain.EventReportCompleted {
		return reportNotification{}, fmt.Errorf("%w: %q", errUnsupportedEvent, event.EventType)
	}
	if len(event.Payload) == 0 {
		return reportNotification{}, fmt.Errorf("%s event %s has no payload", event.EventType, event.EventID)
	}
	var payload domain.ReportCompletedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return reportNotification{}, fmt.Errorf("decode %s payload: %w", event.EventType, err)
	}
	return reportNotification{
		EventID:     event.EventID,
		ReportID:    event.ReportID,
		OccurredAt:  event.OccurredAt.UTC(),
		FeedURL:     payload.FeedURL,
		Version:     payload.Version,
		ErrorsCount: payload.ErrorsCount,
		Valid:       payload.ErrorsCount == 0,
		Unchanged:   payload.Unchanged,
	}, nil
}

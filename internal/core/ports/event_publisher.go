package ports

import (
	"context"

	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/domain"
)

// ReportPublisher delivers report notifications taken from the outbox.
type ReportPublisher interface {
	Publish(ctx context.Context, topic string, event domain.EventEnvelope) error
}

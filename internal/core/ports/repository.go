package ports

import (
	"context"

	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/domain"
)

// ReportRepository persists reports. Save writes the report and its outbox
// event in one transaction.
type ReportRepository interface {
	Save(ctx context.Context, report domain.StoredReport, event domain.EventEnvelope) error
	Get(ctx context.Context, id string) (domain.StoredReport, error)
	// Latest returns the newest report stored for feedURL, or
	// domain.ErrNotFound.
	Latest(ctx context.Context, feedURL string) (domain.StoredReport, error)
	List(ctx context.Context, filter domain.ReportFilter) ([]domain.ReportSummary, error)
}

type OutboxRepository interface {
	FetchPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkDispatched(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, attempts int, nextAttemptAt string, errMsg string) error
	MarkDead(ctx context.Context, id int64, attempts int, errMsg string) error
}

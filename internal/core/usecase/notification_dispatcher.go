package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/domain"
	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/ports"
)

const (
	defaultDispatchInterval  = 2 * time.Second
	defaultDispatchBatchSize = 50
	maxDispatchAttempts      = 5
	maxDispatchBackoff       = 5 * time.Minute
)

// NotificationDispatcher delivers report.completed events written to the
// outbox by ReportService. Failed deliveries are retried with backoff and
// dead-lettered after maxDispatchAttempts.
type NotificationDispatcher struct {
	repo      ports.OutboxRepository
	publisher ports.ReportPublisher
	log       *zap.SugaredLogger
	interval  time.Duration
	batchSize int
	maxRetry  int

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dispatchSuccessTotal atomic.Int64
	dispatchFailureTotal atomic.Int64
	dispatchDeadTotal    atomic.Int64
}

type DispatcherMetrics struct {
	DispatchSuccessTotal int64
	DispatchFailureTotal int64
	DispatchDeadTotal    int64
}

func NewNotificationDispatcher(repo ports.OutboxRepository, publisher ports.ReportPublisher, log *zap.SugaredLogger, interval time.Duration, batchSize int) *NotificationDispatcher {
	if interval <= 0 {
		interval = defaultDispatchInterval
	}
	if batchSize <= 0 {
		batchSize = defaultDispatchBatchSize
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &NotificationDispatcher{
		repo:      repo,
		publisher: publisher,
		log:       log,
		interval:  interval,
		batchSize: batchSize,
		maxRetry:  maxDispatchAttempts,
	}
}

func (d *NotificationDispatcher) Start(parent context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel
	d.wg.Add(1)
	go d.loop(ctx)
}

func (d *NotificationDispatcher) Close() error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	return nil
}

func (d *NotificationDispatcher) loop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if err := d.dispatchBatch(ctx); err != nil {
			d.log.Errorw("notification dispatch batch failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *NotificationDispatcher) dispatchBatch(ctx context.Context) error {
	events, err := d.repo.FetchPending(ctx, d.batchSize)
	if err != nil {
		return err
	}

	for _, event := range events {
		envelope, err := decodeNotification(event)
		if err != nil {
			// A payload that cannot be decoded never will be.
			if markErr := d.markDead(ctx, event, event.Attempts+1, err.Error()); markErr != nil {
				return markErr
			}
			continue
		}

		if err := d.publisher.Publish(ctx, event.Topic, envelope); err != nil {
			d.log.Warnw("report notification not delivered",
				"event_id", event.EventID, "report_id", envelope.ReportID, "attempt", event.Attempts+1, "error", err)
			if markErr := d.markFailure(ctx, event, err.Error()); markErr != nil {
				return markErr
			}
			d.dispatchFailureTotal.Add(1)
			continue
		}

		if err := d.repo.MarkDispatched(ctx, event.ID); err != nil {
			return err
		}
		d.dispatchSuccessTotal.Add(1)
	}

	return nil
}

func decodeNotification(event domain.OutboxEvent) (domain.EventEnvelope, error) {
	var envelope domain.EventEnvelope
	if err := json.Unmarshal(event.PayloadJSON, &envelope); err != nil {
		return domain.EventEnvelope{}, fmt.Errorf("decode payload: %w", err)
	}
	if envelope.EventType != domain.EventReportCompleted {
		return domain.EventEnvelope{}, fmt.Errorf("unknown event type %q", envelope.EventType)
	}
	if envelope.SchemaVersion > domain.CurrentEventSchemaVersion {
		return domain.EventEnvelope{}, fmt.Errorf("unsupported event schema version %d", envelope.SchemaVersion)
	}
	return envelope, nil
}

func (d *NotificationDispatcher) markFailure(ctx context.Context, event domain.OutboxEvent, errMsg string) error {
	attempts := event.Attempts + 1
	if attempts >= d.maxRetry {
		return d.markDead(ctx, event, attempts, errMsg)
	}
	next := time.Now().UTC().Add(backoffDuration(attempts)).Format(time.RFC3339Nano)
	return d.repo.MarkFailed(ctx, event.ID, attempts, next, errMsg)
}

func (d *NotificationDispatcher) markDead(ctx context.Context, event domain.OutboxEvent, attempts int, errMsg string) error {
	if err := d.repo.MarkDead(ctx, event.ID, attempts, errMsg); err != nil {
		return err
	}
	d.log.Errorw("report notification dead-lettered", "event_id", event.EventID, "attempts", attempts, "error", errMsg)
	d.dispatchDeadTotal.Add(1)
	return nil
}

func (d *NotificationDispatcher) Metrics() DispatcherMetrics {
	return DispatcherMetrics{
		DispatchSuccessTotal: d.dispatchSuccessTotal.Load(),
		DispatchFailureTotal: d.dispatchFailureTotal.Load(),
		DispatchDeadTotal:    d.dispatchDeadTotal.Load(),
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt <= 1 {
		return 1 * time.Second
	}
	d := time.Duration(attempt*attempt) * time.Second
	if d > maxDispatchBackoff {
		return maxDispatchBackoff
	}
	return d
}

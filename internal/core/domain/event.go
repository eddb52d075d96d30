package domain

import (
	"encoding/json"
	"time"
)

const (
	CurrentEventSchemaVersion = 1

	EventReportCompleted = "report.completed"
	TopicReports         = "gbfs.reports"
)

// StoredReport is a validation report persisted together with the request
// that produced it.
type StoredReport struct {
	ID          string           `json:"id"`
	FeedURL     string           `json:"feedUrl,omitempty"`
	Version     string           `json:"version"`
	ErrorsCount int              `json:"errorsCount"`
	Unchanged   bool             `json:"unchanged"`
	CreatedAt   time.Time        `json:"createdAt"`
	Report      ValidationReport `json:"report"`
}

// ReportSummary is the listing projection of a stored report.
type ReportSummary struct {
	ID          string    `json:"id"`
	FeedURL     string    `json:"feedUrl,omitempty"`
	Version     string    `json:"version"`
	ErrorsCount int       `json:"errorsCount"`
	Unchanged   bool      `json:"unchanged"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Summary projects a stored report for listings.
func (r StoredReport) Summary() ReportSummary {
	return ReportSummary{
		ID:          r.ID,
		FeedURL:     r.FeedURL,
		Version:     r.Version,
		ErrorsCount: r.ErrorsCount,
		Unchanged:   r.Unchanged,
		CreatedAt:   r.CreatedAt,
	}
}

type ReportFilter struct {
	FeedURL string
	Before  time.Time
	Limit   int
}

// EventEnvelope is the notification emitted once a report is stored.
type EventEnvelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	SchemaVersion int             `json:"schema_version"`
	ReportID      string          `json:"report_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

// ReportCompletedPayload is the payload of EventReportCompleted.
type ReportCompletedPayload struct {
	FeedURL     string `json:"feedUrl,omitempty"`
	Version     string `json:"version"`
	ErrorsCount int    `json:"errorsCount"`
	Unchanged   bool   `json:"unchanged"`
}

type OutboxEvent struct {
	ID            int64
	EventID       string
	Topic         string
	PayloadJSON   json.RawMessage
	Status        string
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	DispatchedAt  *time.Time
}

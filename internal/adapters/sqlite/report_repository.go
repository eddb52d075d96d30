package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"gorm.io/gorm"

	"github.com/atvirokodosprendimai/gbfsvalidator/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type reportModel struct {
	ID          string    `gorm:"column:id;primaryKey"`
	FeedURL     string    `gorm:"column:feed_url;not null"`
	Version     string    `gorm:"column:version;not null"`
	ErrorsCount int       `gorm:"column:errors_count;not null"`
	Unchanged   bool      `gorm:"column:unchanged;not null"`
	ReportJSON  string    `gorm:"column:report_json;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
}

func (reportModel) TableName() string {
	return "reports"
}

func (m reportModel) summary() domain.ReportSummary {
	return domain.ReportSummary{
		ID:          m.ID,
		FeedURL:     m.FeedURL,
		Version:     m.Version,
		ErrorsCount: m.ErrorsCount,
		Unchanged:   m.Unchanged,
		CreatedAt:   m.CreatedAt,
	}
}

func (m reportModel) stored() (domain.StoredReport, error) {
	var report domain.ValidationReport
	if err := json.Unmarshal([]byte(m.ReportJSON), &report); err != nil {
		return domain.StoredReport{}, fmt.Errorf("decode report %s: %w", m.ID, err)
	}
	s := m.summary()
	return domain.StoredReport{
		ID:          s.ID,
		FeedURL:     s.FeedURL,
		Version:     s.Version,
		ErrorsCount: s.ErrorsCount,
		Unchanged:   s.Unchanged,
		CreatedAt:   s.CreatedAt,
		Report:      report,
	}, nil
}

type ReportRepository struct {
	db *gormsqlite.DB
}

func NewReportRepository(db *gormsqlite.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Save stores the report and its outbox row atomically.
func (r *ReportRepository) Save(ctx context.Context, report domain.StoredReport, event domain.EventEnvelope) error {
	body, err := json.Marshal(report.Report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	row := reportModel{
		ID:          report.ID,
		FeedURL:     report.FeedURL,
		Version:     report.Version,
		ErrorsCount: report.ErrorsCount,
		Unchanged:   report.Unchanged,
		ReportJSON:  string(body),
		CreatedAt:   report.CreatedAt.UTC(),
	}
	outbox, err := newOutboxRow(event)
	if err != nil {
		return err
	}

	err = r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("insert report: %w", err)
		}
		if err := tx.Create(&outbox).Error; err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save report %s: %w", report.ID, err)
	}
	return nil
}

func (r *ReportRepository) Get(ctx context.Context, id string) (domain.StoredReport, error) {
	var row reportModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("id = ?", id).First(&row).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.StoredReport{}, fmt.Errorf("report %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.StoredReport{}, fmt.Errorf("get report: %w", err)
	}
	return row.stored()
}

func (r *ReportRepository) Latest(ctx context.Context, feedURL string) (domain.StoredReport, error) {
	var row reportModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("feed_url = ?", feedURL).Order("created_at DESC").Order("id DESC").First(&row).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.StoredReport{}, fmt.Errorf("latest report for %s: %w", feedURL, domain.ErrNotFound)
	}
	if err != nil {
		return domain.StoredReport{}, fmt.Errorf("latest report: %w", err)
	}
	return row.stored()
}

// List returns report summaries newest first.
func (r *ReportRepository) List(ctx context.Context, filter domain.ReportFilter) ([]domain.ReportSummary, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var rows []reportModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		query := tx.Model(&reportModel{}).
			Select("id", "feed_url", "version", "errors_count", "unchanged", "created_at")
		if filter.FeedURL != "" {
			query = query.Where("feed_url = ?", filter.FeedURL)
		}
		if !filter.Before.IsZero() {
			query = query.Where("created_at < ?", filter.Before.UTC())
		}
		return query.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}

	result := make([]domain.ReportSummary, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.summary())
	}
	return result, nil
}

package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/domain"
	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/ports"
)

// ErrStorageDisabled is returned by report lookups when no repository is
// configured.
var ErrStorageDisabled = errors.New("report storage disabled")

// ReportResult is the outcome of one service-level validation. LoaderErrors
// lists files the loader could not fetch; they never appear as engine
// diagnostics.
type ReportResult struct {
	ID           string                  `json:"id"`
	FeedURL      string                  `json:"feedUrl,omitempty"`
	Stored       bool                    `json:"stored"`
	Unchanged    bool                    `json:"unchanged"`
	Report       domain.ValidationReport `json:"report"`
	LoaderErrors []domain.LoadedFile     `json:"loaderErrors,omitempty"`
}

type ReportService struct {
	validator *Validator
	loader    ports.FeedLoader
	repo      ports.ReportRepository
	log       *zap.SugaredLogger
	now       func() time.Time
}

// NewReportService wires the engine to a loader and an optional repository.
// A nil repo disables persistence and notifications.
func NewReportService(validator *Validator, loader ports.FeedLoader, repo ports.ReportRepository, log *zap.SugaredLogger) *ReportService {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ReportService{
		validator: validator,
		loader:    loader,
		repo:      repo,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ValidateURL loads the discovery file at feedURL and every feed it lists,
// then validates them as one submission.
func (s *ReportService) ValidateURL(ctx context.Context, feedURL string) (ReportResult, error) {
	feedURL = strings.TrimSpace(feedURL)
	if feedURL == "" {
		return ReportResult{}, fmt.Errorf("%w: feed url is required", domain.ErrInvalidInput)
	}
	if s.loader == nil {
		return ReportResult{}, fmt.Errorf("%w: no feed loader configured", domain.ErrInvalidInput)
	}

	files, err := s.loader.Load(ctx, feedURL)
	if err != nil {
		return ReportResult{}, fmt.Errorf("load %s: %w", feedURL, err)
	}

	feeds, loaderErrors := submissionFromLoaded(files)
	s.log.Debugw("feed loaded", "url", feedURL, "files", len(files), "failed", len(loaderErrors))

	result, err := s.validate(ctx, feedURL, feeds)
	if err != nil {
		return ReportResult{}, err
	}
	result.LoaderErrors = loaderErrors
	return result, nil
}

// ValidateFeeds validates an in-memory submission keyed by feed name.
func (s *ReportService) ValidateFeeds(ctx context.Context, feeds map[string][]byte) (ReportResult, error) {
	readers := make(map[string]io.Reader, len(feeds))
	for name, raw := range feeds {
		readers[name] = bytes.NewReader(raw)
	}
	return s.validate(ctx, "", readers)
}

func (s *ReportService) validate(ctx context.Context, feedURL string, feeds map[string]io.Reader) (ReportResult, error) {
	report, err := s.validator.Validate(ctx, feeds)
	if err != nil {
		return ReportResult{}, err
	}

	result := ReportResult{
		ID:      uuid.NewString(),
		FeedURL: feedURL,
		Report:  report,
	}
	if s.repo == nil {
		return result, nil
	}

	if feedURL != "" {
		prev, err := s.repo.Latest(ctx, feedURL)
		switch {
		case err == nil:
			result.Unchanged = prev.Report.SameAs(report)
		case errors.Is(err, domain.ErrNotFound):
		default:
			return ReportResult{}, err
		}
	}

	createdAt := s.now()
	stored := domain.StoredReport{
		ID:          result.ID,
		FeedURL:     feedURL,
		Version:     report.Summary.Version,
		ErrorsCount: report.Summary.ErrorsCount,
		Unchanged:   result.Unchanged,
		CreatedAt:   createdAt,
		Report:      report,
	}
	event, err := reportCompletedEvent(stored)
	if err != nil {
		return ReportResult{}, err
	}
	if err := s.repo.Save(ctx, stored, event); err != nil {
		return ReportResult{}, err
	}
	result.Stored = true
	s.log.Infow("report stored",
		"id", stored.ID,
		"url", feedURL,
		"version", stored.Version,
		"errors", stored.ErrorsCount,
		"unchanged", stored.Unchanged,
	)
	return result, nil
}

func (s *ReportService) Get(ctx context.Context, id string) (domain.StoredReport, error) {
	if s.repo == nil {
		return domain.StoredReport{}, ErrStorageDisabled
	}
	if _, err := uuid.Parse(id); err != nil {
		return domain.StoredReport{}, fmt.Errorf("report %q: %w", id, domain.ErrNotFound)
	}
	return s.repo.Get(ctx, id)
}

func (s *ReportService) List(ctx context.Context, filter domain.ReportFilter) ([]domain.ReportSummary, error) {
	if s.repo == nil {
		return nil, ErrStorageDisabled
	}
	if filter.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", domain.ErrInvalidInput)
	}
	return s.repo.List(ctx, filter)
}

// submissionFromLoaded keeps the first fetched copy of each feed name and
// collects every file that failed to load.
func submissionFromLoaded(files []domain.LoadedFile) (map[string]io.Reader, []domain.LoadedFile) {
	feeds := make(map[string]io.Reader, len(files))
	var failed []domain.LoadedFile
	for _, f := range files {
		if len(f.Errors) > 0 || f.Content == nil {
			failed = append(failed, f)
			continue
		}
		if _, seen := feeds[f.Name]; seen {
			continue
		}
		feeds[f.Name] = bytes.NewReader(f.Content)
	}
	return feeds, failed
}

func reportCompletedEvent(report domain.StoredReport) (domain.EventEnvelope, error) {
	payload, err := json.Marshal(domain.ReportCompletedPayload{
		FeedURL:     report.FeedURL,
		Version:     report.Version,
		ErrorsCount: report.ErrorsCount,
		Unchanged:   report.Unchanged,
	})
	if err != nil {
		return domain.EventEnvelope{}, fmt.Errorf("encode report event: %w", err)
	}
	return domain.EventEnvelope{
		EventID:       uuid.NewString(),
		EventType:     domain.EventReportCompleted,
		SchemaVersion: domain.CurrentEventSchemaVersion,
		ReportID:      report.ID,
		OccurredAt:    report.CreatedAt,
		Payload:       payload,
	}, nil
}

package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/gbfsvalidator/internal/adapters/bundled"
	"github.com/atvirokodosprendimai/gbfsvalidator/internal/adapters/events"
	"github.com/atvirokodosprendimai/gbfsvalidator/internal/adapters/httpapi"
	"github.com/atvirokodosprendimai/gbfsvalidator/internal/adapters/loader"
	"github.com/atvirokodosprendimai/gbfsvalidator/internal/adapters/metrics"
	sqliteadapter "github.com/atvirokodosprendimai/gbfsvalidator/internal/adapters/sqlite"
	"github.com/atvirokodosprendimai/gbfsvalidator/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/ports"
	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/usecase"
	"github.com/atvirokodosprendimai/gbfsvalidator/migrations"
)

type resourceCloser struct {
	closers []io.Closer
}

func (r resourceCloser) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Engine is the validation stack without persistence, used by the CLI.
type Engine struct {
	Catalog   *usecase.Catalog
	Validator *usecase.Validator
	Loader    *loader.Loader
	Reports   *usecase.ReportService
}

func NewEngine(cfg Config, log *zap.Logger, observer ports.ValidationObserver) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	sugar := log.Sugar()
	if observer == nil {
		observer = ports.NopObserver{}
	}

	catalog := usecase.NewCatalog(usecase.NewSchemaRepository(bundled.NewSource(), sugar.Named("schemas")))
	validator := usecase.NewValidator(catalog,
		usecase.WithDefaultVersion(cfg.DefaultVersion),
		usecase.WithObserver(observer),
		usecase.WithValidatorLogger(sugar.Named("validator")),
	)
	feedLoader := loader.New(loader.Options{
		Timeout:     time.Duration(cfg.LoaderTimeoutSeconds) * time.Second,
		Concurrency: cfg.LoaderConcurrency,
		MaxFileSize: int64(cfg.LoaderMaxFileMB) << 20,
	}, sugar.Named("loader"))

	return &Engine{
		Catalog:   catalog,
		Validator: validator,
		Loader:    feedLoader,
		Reports:   usecase.NewReportService(validator, feedLoader, nil, sugar.Named("reports")),
	}
}

// NewServer wires the HTTP API. When reports are persisted it also opens the
// database, runs migrations and starts the notification dispatcher.
func NewServer(ctx context.Context, cfg Config, log *zap.Logger) (*http.Server, io.Closer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	sugar := log.Sugar()
	prom := metrics.NewPrometheus()
	engine := NewEngine(cfg, log, prom)

	var closers []io.Closer
	reports := engine.Reports
	if cfg.PersistReports {
		db, err := gormsqlite.Open(cfg.DBPath, log)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}

		writeSQLDB, err := db.WriteSQLDB()
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("resolve writer sql db: %w", err)
		}

		migrateCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := migrations.Up(migrateCtx, writeSQLDB, log); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		if v, err := migrations.Version(migrateCtx, writeSQLDB); err == nil {
			sugar.Infow("database ready", "path", cfg.DBPath, "schema_version", v)
		}

		reports = usecase.NewReportService(engine.Validator, engine.Loader, sqliteadapter.NewReportRepository(db), sugar.Named("reports"))

		dispatcher := usecase.NewNotificationDispatcher(
			sqliteadapter.NewOutboxRepository(db),
			newPublisher(cfg, sugar),
			sugar.Named("dispatcher"),
			2*time.Second,
			100,
		)
		prom.RegisterDispatcher(dispatcher)
		dispatcher.Start(context.Background())
		closers = append(closers, dispatcher, db)
	}

	handler := httpapi.NewHandler(reports, engine.Validator, prom.Handler(), sugar.Named("http"))

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return server, resourceCloser{closers: closers}, nil
}

func newPublisher(cfg Config, log *zap.SugaredLogger) ports.ReportPublisher {
	if cfg.WebhookURL == "" {
		return events.NewLogPublisher(log.Named("notifications"))
	}
	return events.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookSecret, 0)
}

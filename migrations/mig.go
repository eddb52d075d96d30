package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed files/*.sql
var migrationFS embed.FS

// Up applies every pending migration. Goose output goes to log when set.
func Up(ctx context.Context, db *sql.DB, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	goose.SetLogger(zap.NewStdLog(log.Named("goose")))
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "files"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Version reports the schema version currently applied to db.
func Version(ctx context.Context, db *sql.DB) (int64, error) {
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return 0, fmt.Errorf("set goose dialect: %w", err)
	}
	v, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("read migration version: %w", err)
	}
	return v, nil
}

package gormsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
	gormdriver "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// DB keeps two pools on one report database: a query_only pool for report
// lookups and a single connection that serializes report and outbox writes.
type DB struct {
	reader *gorm.DB
	writer *gorm.DB
}

type Tx struct {
	*gorm.DB
}

func (db *DB) ReadTX(ctx context.Context, fn func(tx *Tx) error) error {
	return db.reader.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Tx{DB: tx})
	}, &sql.TxOptions{ReadOnly: true})
}

func (db *DB) WriteTX(ctx context.Context, fn func(tx *Tx) error) error {
	return db.writer.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Tx{DB: tx})
	})
}

// WriteSQLDB exposes the writer connection for schema migrations.
func (db *DB) WriteSQLDB() (*sql.DB, error) {
	return db.writer.DB()
}

func (db *DB) Close() error {
	return errors.Join(closePool(db.reader), closePool(db.writer))
}

// Open creates the report database at file if needed. Slow queries are
// logged at warn level through log.
func Open(file string, log *zap.Logger) (*DB, error) {
	if log == nil {
		log = zap.NewNop()
	}
	gormLog := logger.New(zap.NewStdLog(log.Named("gorm")), logger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		ParameterizedQueries:      true,
	})

	writer, err := openPool(buildDSN(file, false), 1, gormLog)
	if err != nil {
		return nil, fmt.Errorf("open report db writer: %w", err)
	}
	reader, err := openPool(buildDSN(file, true), runtime.NumCPU(), gormLog)
	if err != nil {
		_ = closePool(writer)
		return nil, fmt.Errorf("open report db reader: %w", err)
	}
	return &DB{reader: reader, writer: writer}, nil
}

func openPool(dsn string, conns int, gormLog logger.Interface) (*gorm.DB, error) {
	g, err := gorm.Open(gormdriver.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, err
	}
	sqlDB, err := g.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(conns)
	sqlDB.SetMaxIdleConns(conns)
	return g, nil
}

// buildDSN puts the pragmas in the DSN so the driver applies them to every
// pooled connection, not just the first one.
func buildDSN(file string, readOnly bool) string {
	queryOnly := "0"
	if readOnly {
		queryOnly = "1"
	}
	pragmas := []string{
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		"foreign_keys(1)",
		"busy_timeout(5000)",
		"trusted_schema(OFF)",
		"query_only(" + queryOnly + ")",
	}
	return file + "?_pragma=" + strings.Join(pragmas, "&_pragma=")
}

func closePool(g *gorm.DB) error {
	if g == nil {
		return nil
	}
	sqlDB, err := g.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

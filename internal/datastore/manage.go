package datastore

import (
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tphakala/vinyl-go/internal/logging"
)

// slowQueryThreshold marks queries worth flagging in the logs. One second
// accommodates migration batch queries on slow SBC storage.
const slowQueryThreshold = 1 * time.Second

// storeLogger returns the datastore service logger.
func storeLogger() *slog.Logger {
	if l := logging.ForService("datastore"); l != nil {
		return l
	}
	return logging.Discard()
}

// slogGormWriter adapts slog to the gorm logger's Printf-style interface.
type slogGormWriter struct {
	log *slog.Logger
}

func (w *slogGormWriter) Printf(format string, args ...any) {
	w.log.Warn(fmt.Sprintf(format, args...))
}

// createGormLogger configures the GORM logger. Query tracing is only
// enabled in debug mode; slow queries and errors are always reported.
func createGormLogger(debug bool) gormlogger.Interface {
	level := gormlogger.Warn
	if debug {
		level = gormlogger.Info
	}
	return gormlogger.New(&slogGormWriter{log: storeLogger()}, gormlogger.Config{
		SlowThreshold:             slowQueryThreshold,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
	})
}

// performAutoMigration runs GORM auto-migration for all tables.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(
		&ScrobbleQueueEntry{},
		&ScrobbleRecord{},
		&DeadLetterEntry{},
	); err != nil {
		return fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err)
	}

	if debug {
		storeLogger().Debug("database connection established", "type", dbType, "path", connectionInfo)
	}
	return nil
}

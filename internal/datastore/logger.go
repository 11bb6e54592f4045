// Package datastore provides logging infrastructure for database operations
package datastore

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tphakala/autoscout-go/internal/logging"
	gormlogger "gorm.io/gorm/logger"
)

// Package-level logger for datastore operations
var (
	datastoreLogger   *slog.Logger
	datastoreLevelVar = new(slog.LevelVar)
	loggerOnce        sync.Once
)

// getLogger returns the datastore logger, falling back to the default slog
// logger when the logging package has not been initialized (tests).
func getLogger() *slog.Logger {
	loggerOnce.Do(func() {
		datastoreLevelVar.Set(slog.LevelInfo)
		datastoreLogger = logging.ForService("datastore")
		if datastoreLogger == nil {
			datastoreLogger = slog.Default().With("service", "datastore")
		}
	})
	return datastoreLogger
}

// slogWriter adapts the datastore slog logger to GORM's logger writer.
type slogWriter struct{}

func (slogWriter) Printf(format string, args ...any) {
	getLogger().Warn(fmt.Sprintf(format, args...))
}

// createGormLogger builds a GORM logger that routes slow query and error
// output through the datastore slog logger.
func createGormLogger(debug bool) gormlogger.Interface {
	level := gormlogger.Warn
	if debug {
		level = gormlogger.Info
	}
	return gormlogger.New(slogWriter{}, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

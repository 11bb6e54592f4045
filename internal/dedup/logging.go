package dedup

import (
	"log/slog"
	"sync"

	"github.com/tphakala/autoscout-go/internal/logging"
)

// Package-level logger for deduplication operations.
var (
	dedupLogger     *slog.Logger
	dedupLoggerOnce sync.Once
)

// getLogger returns the dedup logger, falling back to the default slog
// logger when the logging package has not been initialized (tests).
func getLogger() *slog.Logger {
	dedupLoggerOnce.Do(func() {
		dedupLogger = logging.ForService("dedup")
		if dedupLogger == nil {
			dedupLogger = slog.Default().With("service", "dedup")
		}
	})
	return dedupLogger
}

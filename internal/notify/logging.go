package notify

import (
	"log/slog"
	"sync"

	"github.com/tphakala/autoscout-go/internal/logging"
)

// Package-level logger for throttler and dispatcher operations.
var (
	notifyLogger     *slog.Logger
	notifyLoggerOnce sync.Once
)

// getLogger returns the notify logger, falling back to the default slog
// logger when the logging package has not been initialized (tests).
func getLogger() *slog.Logger {
	notifyLoggerOnce.Do(func() {
		notifyLogger = logging.ForService("notify")
		if notifyLogger == nil {
			notifyLogger = slog.Default().With("service", "notify")
		}
	})
	return notifyLogger
}

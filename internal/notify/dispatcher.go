// dispatcher.go: the delivery boundary. The throttler hands pending
// notifications to a Dispatcher; delivery, retry and backoff belong to the
// collaborator, which reports terminal status back via the throttler.
package notify

import (
	"context"

	"github.com/tphakala/autoscout-go/internal/datastore"
)

// Dispatcher delivers a pending notification. Implementations own retry and
// backoff; the pipeline never re-derives a notification for a failed
// delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, n *datastore.Notification) error
}

// LogDispatcher is the default no-transport dispatcher: it logs the handoff
// and leaves the notification pending. Useful for development and tests.
type LogDispatcher struct{}

// Dispatch implements Dispatcher.
func (LogDispatcher) Dispatch(_ context.Context, n *datastore.Notification) error {
	getLogger().Info("notification handed to delivery",
		"public_id", n.PublicID,
		"type", string(n.Type),
		"title", n.Title)
	return nil
}

// Package archive defines the optional local mirror of delivered events.
// A Sink receives every event that the remote service acknowledged, so
// operators can query response-time history without the remote vendor.
package archive

import (
	"context"

	"github.com/loykin/slamon/internal/event"
)

// Sink is a destination for delivered events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e event.Event) error
	Close() error
}

// Package history provides the append-only display event log and its
// streaming interface. Events mirror bus traffic, node updates and sandbox
// changes for the presentation layer; the bus itself never reads them.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/forgeview/orchestrator/pkg/types"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("history store closed")

// Store defines event persistence and streaming.
// Implementations must be safe for concurrent use.
type Store interface {
	// Append adds an event to the stream and returns the created event
	// with its assigned sequence id.
	Append(ctx context.Context, input types.EventInput) (*types.Event, error)

	// EventsSince returns events after the given event ID (exclusive).
	// If lastEventID is empty, returns all retained events.
	EventsSince(ctx context.Context, lastEventID string) ([]*types.Event, error)

	// Subscribe returns a channel that receives new events.
	// The cleanup function must be called when done to release resources.
	Subscribe(ctx context.Context) (<-chan *types.Event, func(), error)

	// AdapterInfo returns diagnostic information.
	AdapterInfo(ctx context.Context) (map[string]interface{}, error)

	// Close releases resources and closes subscriber channels.
	Close() error
}

// Config holds configuration for Store implementations.
type Config struct {
	// Maximum number of events to retain (ring buffer / stream MAXLEN)
	EventMaxLen int64

	// TTL for persisted events (0 = no expiry)
	TTL time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		EventMaxLen: 5000,
		TTL:         24 * time.Hour,
	}
}

package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/forgeview/orchestrator/internal/metrics"
	"github.com/forgeview/orchestrator/pkg/types"
)

// MemoryStore is an in-memory implementation of Store.
// Suitable for development and testing. Data is lost on restart.
type MemoryStore struct {
	mu          sync.RWMutex
	events      []*types.Event
	nextSeq     int64
	maxEvents   int64
	subscribers map[chan *types.Event]struct{}
	closed      bool
}

// NewMemoryStore creates a new in-memory Store.
func NewMemoryStore(cfg *Config) *MemoryStore {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &MemoryStore{
		events:      make([]*types.Event, 0),
		nextSeq:     1,
		maxEvents:   cfg.EventMaxLen,
		subscribers: make(map[chan *types.Event]struct{}),
	}
}

func (s *MemoryStore) Append(ctx context.Context, input types.EventInput) (*types.Event, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}

	dataJSON, err := json.Marshal(input.Data)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}

	event := &types.Event{
		ID:        fmt.Sprintf("%d", s.nextSeq),
		BuildID:   input.BuildID,
		Type:      input.Type,
		NodeID:    input.NodeID,
		Timestamp: time.Now().UTC(),
		Data:      dataJSON,
	}
	s.nextSeq++

	// Ring buffer
	if int64(len(s.events)) >= s.maxEvents {
		s.events = s.events[1:]
	}
	s.events = append(s.events, event)

	// Copy subscribers to notify outside lock
	subs := make([]chan *types.Event, 0, len(s.subscribers))
	for ch := range s.subscribers {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	metrics.EventsTotal.WithLabelValues(string(event.Type)).Inc()

	// Notify subscribers (non-blocking)
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Subscriber too slow, skip
		}
	}

	return event, nil
}

func (s *MemoryStore) EventsSince(ctx context.Context, lastEventID string) ([]*types.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if lastEventID == "" {
		result := make([]*types.Event, len(s.events))
		copy(result, s.events)
		return result, nil
	}

	var result []*types.Event
	found := false
	for _, evt := range s.events {
		if found {
			result = append(result, evt)
		}
		if evt.ID == lastEventID {
			found = true
		}
	}
	return result, nil
}

func (s *MemoryStore) Subscribe(ctx context.Context) (<-chan *types.Event, func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, ErrClosed
	}
	ch := make(chan *types.Event, 100)
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	cleanup := func() {
		s.mu.Lock()
		delete(s.subscribers, ch)
		s.mu.Unlock()
		// Don't close the channel here - let the sender handle that
	}

	return ch, cleanup, nil
}

func (s *MemoryStore) AdapterInfo(ctx context.Context) (map[string]interface{}, error) {
	s.mu.RLock()
	count := len(s.events)
	s.mu.RUnlock()

	return map[string]interface{}{
		"adapter":     "memory",
		"event_count": count,
		"max_events":  s.maxEvents,
	}, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = make(map[chan *types.Event]struct{})
	return nil
}

// Verify interface compliance
var _ Store = (*MemoryStore)(nil)
